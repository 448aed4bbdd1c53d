package dfs

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/jgivc/raidnode/internal/common"
	"github.com/jgivc/raidnode/internal/config"
	"github.com/jgivc/raidnode/internal/entity"
)

// FS models the distributed filesystem the daemon maintains: regular file
// content plus per-file replication and block-size metadata. Replication
// and block size live in a sidecar map because the backing afero.Fs has no
// notion of either; everything else (content, mtimes, directories) is the
// backing filesystem itself.
type FS struct {
	fs afero.Fs

	mu   sync.Mutex
	meta map[string]*fileMeta

	defaultBlockSize   int64
	defaultReplication int

	// refuseReplication, when set, makes SetReplication report refusal the
	// way a namenode under a replication quota would.
	refuseReplication func(path string) bool

	log *slog.Logger
}

type fileMeta struct {
	blockSize   int64
	replication int
}

func New(cfg *config.DFSConfig, log *slog.Logger) *FS {
	return NewWithFS(afero.NewOsFs(), cfg, log)
}

func NewWithFS(fs afero.Fs, cfg *config.DFSConfig, log *slog.Logger) *FS {
	return &FS{
		fs:                 fs,
		meta:               make(map[string]*fileMeta),
		defaultBlockSize:   cfg.BlockSize,
		defaultReplication: cfg.Replication,
		log:                log.With(slog.String("item", "DFS")),
	}
}

// SetRefusal installs a predicate deciding which replication changes the
// filesystem refuses.
func (d *FS) SetRefusal(f func(path string) bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.refuseReplication = f
}

// Stat returns a point-in-time snapshot of the file with its block layout.
func (d *FS) Stat(path string) (*entity.FileSnapshot, error) {
	info, err := d.fs.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, common.ErrFileNotFound
		}

		return nil, fmt.Errorf("cannot stat %s: %w", path, err)
	}

	m := d.metaFor(path)
	snap := &entity.FileSnapshot{
		Path:        path,
		Length:      info.Size(),
		BlockSize:   m.blockSize,
		Replication: m.replication,
		ModTime:     info.ModTime(),
		IsDir:       info.IsDir(),
	}
	if !snap.IsDir {
		snap.Blocks = blockLocations(snap.Length, snap.BlockSize)
	}

	return snap, nil
}

// SetReplication changes the replication factor of a file. The boolean
// mirrors the filesystem contract: false means the filesystem refused the
// change, which is not an I/O error.
func (d *FS) SetReplication(path string, replication int) (bool, error) {
	if _, err := d.fs.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return false, common.ErrFileNotFound
		}

		return false, fmt.Errorf("cannot stat %s: %w", path, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.refuseReplication != nil && d.refuseReplication(path) {
		return false, nil
	}

	m, exists := d.meta[path]
	if !exists {
		m = &fileMeta{blockSize: d.defaultBlockSize, replication: d.defaultReplication}
		d.meta[path] = m
	}
	m.replication = replication

	return true, nil
}

func (d *FS) SetTimes(path string, mtime time.Time) error {
	if err := d.fs.Chtimes(path, mtime, mtime); err != nil {
		return fmt.Errorf("cannot set times on %s: %w", path, err)
	}

	return nil
}

func (d *FS) Exists(path string) (bool, error) {
	_, err := d.fs.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}

	return false, fmt.Errorf("cannot stat %s: %w", path, err)
}

func (d *FS) Open(path string) (afero.File, error) {
	f, err := d.fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("cannot open %s: %w", path, err)
	}

	return f, nil
}

func (d *FS) Create(path string) (afero.File, error) {
	if err := d.fs.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
		return nil, fmt.Errorf("cannot create parent of %s: %w", path, err)
	}

	f, err := d.fs.Create(path)
	if err != nil {
		return nil, fmt.Errorf("cannot create %s: %w", path, err)
	}

	return f, nil
}

func (d *FS) Remove(path string) error {
	if err := d.fs.Remove(path); err != nil {
		return fmt.Errorf("cannot remove %s: %w", path, err)
	}

	d.mu.Lock()
	delete(d.meta, path)
	d.mu.Unlock()

	return nil
}

func (d *FS) RemoveAll(path string) error {
	if err := d.fs.RemoveAll(path); err != nil {
		return fmt.Errorf("cannot remove %s: %w", path, err)
	}

	return nil
}

func (d *FS) Rename(oldPath, newPath string) error {
	if err := d.fs.Rename(oldPath, newPath); err != nil {
		return fmt.Errorf("cannot rename %s to %s: %w", oldPath, newPath, err)
	}

	d.mu.Lock()
	if m, exists := d.meta[oldPath]; exists {
		d.meta[newPath] = m
		delete(d.meta, oldPath)
	}
	d.mu.Unlock()

	return nil
}

func (d *FS) MkdirAll(path string) error {
	if err := d.fs.MkdirAll(path, os.ModePerm); err != nil {
		return fmt.Errorf("cannot mkdir %s: %w", path, err)
	}

	return nil
}

// Glob expands a source-path expression.
func (d *FS) Glob(pattern string) ([]string, error) {
	paths, err := afero.Glob(d.fs, pattern)
	if err != nil {
		return nil, fmt.Errorf("cannot expand %s: %w", pattern, err)
	}

	return paths, nil
}

// ReadDir returns snapshots of the direct children of a directory.
func (d *FS) ReadDir(path string) ([]*entity.FileSnapshot, error) {
	infos, err := afero.ReadDir(d.fs, path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, common.ErrFileNotFound
		}

		return nil, fmt.Errorf("cannot read dir %s: %w", path, err)
	}

	snaps := make([]*entity.FileSnapshot, 0, len(infos))
	for _, info := range infos {
		snap, err := d.Stat(filepath.Join(path, info.Name()))
		if err != nil {
			d.log.Error("Cannot stat dir entry", slog.String("path", path),
				slog.String("name", info.Name()), slog.Any("error", err))

			continue
		}

		snaps = append(snaps, snap)
	}

	return snaps, nil
}

func (d *FS) metaFor(path string) fileMeta {
	d.mu.Lock()
	defer d.mu.Unlock()

	if m, exists := d.meta[path]; exists {
		return *m
	}

	return fileMeta{blockSize: d.defaultBlockSize, replication: d.defaultReplication}
}

func blockLocations(length, blockSize int64) []entity.BlockLocation {
	if blockSize <= 0 || length <= 0 {
		return nil
	}

	n := (length + blockSize - 1) / blockSize
	blocks := make([]entity.BlockLocation, 0, n)
	for off := int64(0); off < length; off += blockSize {
		l := blockSize
		if length-off < l {
			l = length - off
		}

		blocks = append(blocks, entity.BlockLocation{Offset: off, Length: l})
	}

	return blocks
}
