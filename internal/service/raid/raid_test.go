package raid

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/jgivc/raidnode/internal/adapter/dfs"
	"github.com/jgivc/raidnode/internal/config"
	"github.com/jgivc/raidnode/internal/entity"
	"github.com/jgivc/raidnode/internal/storage/parity"
)

const (
	testBlockSize   = 10
	testReplication = 3
)

type fakeEncoder struct {
	fs    *dfs.FS
	calls int
	hook  func()
}

func (e *fakeEncoder) Encode(_ context.Context, _ *entity.Codec, srcPath, parityPath string, _ int) error {
	e.calls++
	if e.hook != nil {
		e.hook()
	}

	f, err := e.fs.Create(parityPath)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.Write([]byte("parity of " + srcPath)); err != nil {
		return err
	}

	return nil
}

func testCodec() *entity.Codec {
	return &entity.Codec{
		ID:           "xor",
		ParityDir:    "/raid",
		TmpParityDir: "/tmp/raid",
		TmpHarDir:    "/tmp/raid_har",
		StripeLength: 2,
		ParityLength: 1,
		ErasureCode:  "xor",
	}
}

type fakeRegistry struct {
	codec *entity.Codec
}

func (r *fakeRegistry) Get(id string) (*entity.Codec, error) {
	if r.codec == nil || r.codec.ID != id {
		return nil, fmt.Errorf("no codec %s", id)
	}

	return r.codec, nil
}

func TestRaidFile(t *testing.T) {
	const srcPath = "/user/test/file"

	testCases := []struct {
		name               string
		fileSize           int64
		freshParity        bool
		refuseReplication  bool
		mutateDuringEncode bool
		simulate           bool

		expectError     bool
		expectRaided    bool
		expectedEncodes int

		expectedProcessedBlocks int64
		expectedProcessedSize   int64
		expectedRemainingSize   int64
		expectedMetaBlocks      int64
		expectedMetaSize        int64
	}{
		{
			name:         "Scenario 1: Small file is skipped",
			fileSize:     15, // 2 blocks
			expectRaided: false,
		},
		{
			name:            "Scenario 2: File is raided",
			fileSize:        42, // 5 blocks
			expectRaided:    true,
			expectedEncodes: 1,

			expectedProcessedBlocks: 5,
			expectedProcessedSize:   42 * testReplication,
			expectedRemainingSize:   42,
			expectedMetaBlocks:      3, // ceil(5/2)
			expectedMetaSize:        3 * testBlockSize,
		},
		{
			name:            "Scenario 3: Exact stripe multiple",
			fileSize:        40, // 4 blocks
			expectRaided:    true,
			expectedEncodes: 1,

			expectedProcessedBlocks: 4,
			expectedProcessedSize:   40 * testReplication,
			expectedRemainingSize:   40,
			expectedMetaBlocks:      2,
			expectedMetaSize:        2 * testBlockSize,
		},
		{
			name:         "Scenario 4: Fresh parity is not regenerated",
			fileSize:     42,
			freshParity:  true,
			expectRaided: true,

			expectedProcessedBlocks: 5,
			expectedProcessedSize:   42, // source already at target replication
			expectedRemainingSize:   42,
			expectedMetaBlocks:      3,
			expectedMetaSize:        3 * testBlockSize,
		},
		{
			name:              "Scenario 5: Replication change refused",
			fileSize:          42,
			refuseReplication: true,
			expectRaided:      false,
			expectedEncodes:   1,

			expectedProcessedBlocks: 5,
			expectedProcessedSize:   42 * testReplication,
			expectedRemainingSize:   42 * testReplication,
		},
		{
			name:               "Scenario 6: Source changed during encoding",
			fileSize:           42,
			mutateDuringEncode: true,
			expectError:        true,
			expectedEncodes:    1,

			expectedProcessedBlocks: 5,
			expectedProcessedSize:   42 * testReplication,
		},
		{
			name:            "Scenario 7: Simulate leaves replication alone",
			fileSize:        42,
			simulate:        true,
			expectRaided:    true,
			expectedEncodes: 1,

			expectedProcessedBlocks: 5,
			expectedProcessedSize:   42 * testReplication,
			expectedRemainingSize:   42,
			expectedMetaBlocks:      3,
			expectedMetaSize:        3 * testBlockSize,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			log := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
			fs := dfs.NewWithFS(afero.NewMemMapFs(), &config.DFSConfig{
				BlockSize:   testBlockSize,
				Replication: testReplication,
			}, log)

			content := make([]byte, tc.fileSize)
			f, err := fs.Create(srcPath)
			require.NoError(t, err)
			_, err = f.Write(content)
			require.NoError(t, err)
			require.NoError(t, f.Close())

			codec := testCodec()
			policy := &entity.Policy{
				Name:              "test",
				CodecID:           codec.ID,
				TargetReplication: 1,
				MetaReplication:   1,
				Simulate:          tc.simulate,
			}

			stats := &entity.Statistics{}
			enc := &fakeEncoder{fs: fs}
			srv := NewService(fs, &fakeRegistry{codec: codec}, enc, stats, log)

			if tc.freshParity {
				srcStat, err := fs.Stat(srcPath)
				require.NoError(t, err)

				parityPath := parity.Path(codec, srcPath)
				pf, err := fs.Create(parityPath)
				require.NoError(t, err)
				require.NoError(t, pf.Close())
				require.NoError(t, fs.SetTimes(parityPath, srcStat.ModTime))

				ok, err := fs.SetReplication(srcPath, policy.TargetReplication)
				require.NoError(t, err)
				require.True(t, ok)
			}

			if tc.refuseReplication {
				fs.SetRefusal(func(path string) bool {
					return path == srcPath
				})
			}

			if tc.mutateDuringEncode {
				enc.hook = func() {
					require.NoError(t, fs.SetTimes(srcPath, time.Now().Add(time.Hour)))
				}
			}

			raided, err := srv.RaidFile(context.Background(), policy, codec, srcPath)
			if tc.expectError {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
			require.Equal(t, tc.expectRaided, raided)
			require.Equal(t, tc.expectedEncodes, enc.calls)

			snap := stats.Snapshot()
			require.Equal(t, tc.expectedProcessedBlocks, snap.NumProcessedBlocks)
			require.Equal(t, tc.expectedProcessedSize, snap.ProcessedSize)
			require.Equal(t, tc.expectedRemainingSize, snap.RemainingSize)
			require.Equal(t, tc.expectedMetaBlocks, snap.NumMetaBlocks)
			require.Equal(t, tc.expectedMetaSize, snap.MetaSize)

			if tc.simulate {
				srcStat, err := fs.Stat(srcPath)
				require.NoError(t, err)
				require.Equal(t, testReplication, srcStat.Replication)
			}
		})
	}
}

func TestRaidFileParityMtimePinned(t *testing.T) {
	const srcPath = "/user/test/file"

	log := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
	fs := dfs.NewWithFS(afero.NewMemMapFs(), &config.DFSConfig{
		BlockSize:   testBlockSize,
		Replication: testReplication,
	}, log)

	f, err := fs.Create(srcPath)
	require.NoError(t, err)
	_, err = f.Write(make([]byte, 42))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	codec := testCodec()
	policy := &entity.Policy{
		Name:              "test",
		CodecID:           codec.ID,
		TargetReplication: 1,
		MetaReplication:   1,
	}

	stats := &entity.Statistics{}
	srv := NewService(fs, &fakeRegistry{codec: codec}, &fakeEncoder{fs: fs}, stats, log)

	raided, err := srv.RaidFile(context.Background(), policy, codec, srcPath)
	require.NoError(t, err)
	require.True(t, raided)

	srcStat, err := fs.Stat(srcPath)
	require.NoError(t, err)
	pStat, err := fs.Stat(parity.Path(codec, srcPath))
	require.NoError(t, err)
	require.True(t, pStat.ModTime.Equal(srcStat.ModTime))
}

func TestSubmitTracksRunningJobs(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
	fs := dfs.NewWithFS(afero.NewMemMapFs(), &config.DFSConfig{
		BlockSize:   testBlockSize,
		Replication: testReplication,
	}, log)

	codec := testCodec()
	policy := &entity.Policy{
		Name:              "test",
		CodecID:           codec.ID,
		TargetReplication: 1,
		MetaReplication:   1,
	}

	stats := &entity.Statistics{}
	srv := NewService(fs, &fakeRegistry{codec: codec}, &fakeEncoder{fs: fs}, stats, log)

	require.Equal(t, 0, srv.RunningJobs(policy.Name))
	srv.Submit(context.Background(), policy, nil)
	srv.Wait()
	require.Equal(t, 0, srv.RunningJobs(policy.Name))
}

func TestNumStripes(t *testing.T) {
	testCases := []struct {
		numBlocks    int64
		stripeLength int
		expected     int64
	}{
		{numBlocks: 5, stripeLength: 2, expected: 3},
		{numBlocks: 10, stripeLength: 5, expected: 2},
		{numBlocks: 1, stripeLength: 10, expected: 1},
		{numBlocks: 0, stripeLength: 10, expected: 0},
	}

	for _, tc := range testCases {
		require.Equal(t, tc.expected, numStripes(tc.numBlocks, tc.stripeLength),
			"numStripes(%d, %d)", tc.numBlocks, tc.stripeLength)
	}
}
