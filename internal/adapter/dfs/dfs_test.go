package dfs

import (
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/jgivc/raidnode/internal/common"
	"github.com/jgivc/raidnode/internal/config"
)

func newTestFS(t *testing.T, files map[string][]byte) *FS {
	t.Helper()

	memFs := afero.NewMemMapFs()
	for path, content := range files {
		require.NoError(t, afero.WriteFile(memFs, path, content, os.ModeAppend))
	}

	log := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))

	return NewWithFS(memFs, &config.DFSConfig{BlockSize: 10, Replication: 3}, log)
}

func TestStat(t *testing.T) {
	fs := newTestFS(t, map[string][]byte{"/user/d/file": make([]byte, 42)})

	snap, err := fs.Stat("/user/d/file")
	require.NoError(t, err)
	require.Equal(t, int64(42), snap.Length)
	require.Equal(t, int64(10), snap.BlockSize)
	require.Equal(t, 3, snap.Replication)
	require.False(t, snap.IsDir)

	// 42 bytes at block size 10 make 5 blocks; the last one is short.
	require.Len(t, snap.Blocks, 5)
	require.Equal(t, int64(5), snap.NumBlocks())
	require.Equal(t, int64(40), snap.Blocks[4].Offset)
	require.Equal(t, int64(2), snap.Blocks[4].Length)

	_, err = fs.Stat("/nosuch")
	require.ErrorIs(t, err, common.ErrFileNotFound)
}

func TestSetReplication(t *testing.T) {
	fs := newTestFS(t, map[string][]byte{"/user/d/file": make([]byte, 42)})

	ok, err := fs.SetReplication("/user/d/file", 1)
	require.NoError(t, err)
	require.True(t, ok)

	snap, err := fs.Stat("/user/d/file")
	require.NoError(t, err)
	require.Equal(t, 1, snap.Replication)

	_, err = fs.SetReplication("/nosuch", 1)
	require.ErrorIs(t, err, common.ErrFileNotFound)
}

func TestSetReplicationRefused(t *testing.T) {
	fs := newTestFS(t, map[string][]byte{"/user/d/file": make([]byte, 42)})
	fs.SetRefusal(func(path string) bool {
		return path == "/user/d/file"
	})

	ok, err := fs.SetReplication("/user/d/file", 1)
	require.NoError(t, err)
	require.False(t, ok)

	snap, err := fs.Stat("/user/d/file")
	require.NoError(t, err)
	require.Equal(t, 3, snap.Replication)
}

func TestSetTimes(t *testing.T) {
	fs := newTestFS(t, map[string][]byte{"/user/d/file": make([]byte, 1)})

	mtime := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, fs.SetTimes("/user/d/file", mtime))

	snap, err := fs.Stat("/user/d/file")
	require.NoError(t, err)
	require.True(t, snap.ModTime.Equal(mtime))
}

func TestRenameKeepsMetadata(t *testing.T) {
	fs := newTestFS(t, map[string][]byte{"/user/d/file": make([]byte, 42)})

	ok, err := fs.SetReplication("/user/d/file", 2)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, fs.Rename("/user/d/file", "/user/d/moved"))

	snap, err := fs.Stat("/user/d/moved")
	require.NoError(t, err)
	require.Equal(t, 2, snap.Replication)
}

func TestReadDir(t *testing.T) {
	fs := newTestFS(t, map[string][]byte{
		"/user/d/file1":    []byte("a"),
		"/user/d/file2":    []byte("b"),
		"/user/d/sub/file": []byte("c"),
	})

	snaps, err := fs.ReadDir("/user/d")
	require.NoError(t, err)
	require.Len(t, snaps, 3)

	byPath := make(map[string]bool, len(snaps))
	for _, snap := range snaps {
		byPath[snap.Path] = snap.IsDir
	}
	require.Equal(t, map[string]bool{
		"/user/d/file1": false,
		"/user/d/file2": false,
		"/user/d/sub":   true,
	}, byPath)

	_, err = fs.ReadDir("/nosuch")
	require.ErrorIs(t, err, common.ErrFileNotFound)
}

func TestGlob(t *testing.T) {
	fs := newTestFS(t, map[string][]byte{
		"/data/2024/file": []byte("a"),
		"/data/2025/file": []byte("b"),
	})

	paths, err := fs.Glob("/data/*")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"/data/2024", "/data/2025"}, paths)
}

func TestCreateMakesParents(t *testing.T) {
	fs := newTestFS(t, nil)

	f, err := fs.Create("/a/b/c/file")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	exists, err := fs.Exists("/a/b/c/file")
	require.NoError(t, err)
	require.True(t, exists)
}
