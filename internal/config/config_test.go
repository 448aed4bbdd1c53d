package config

import (
	"os"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

func TestSetDefaults(t *testing.T) {
	var cfg Config
	cfg.SetDefaults()

	require.Equal(t, "localhost:60000", cfg.Listen)
	require.Equal(t, 10, cfg.HandlerCount)
	require.Equal(t, LogLevelInfo, cfg.LogLevel)
	require.Equal(t, "local", cfg.NodeClass)
	require.Equal(t, 10*time.Second, cfg.SleepInterval)
	require.Equal(t, 5*time.Minute, cfg.Periodicity)
	require.Equal(t, cfg.Periodicity, cfg.PurgeInterval)
	require.Equal(t, 10, cfg.MaxJobsPerPolicy)
	require.Equal(t, 10000, cfg.MaxFilesPerJob)
	require.Equal(t, "/tmp/raidrecovery", cfg.RecoveryLocation)
	require.Equal(t, 3, cfg.HarThresholdDays)
	require.Equal(t, int64(4*1024*1024*1024), cfg.HarPartfileSize)
	require.Equal(t, 4, cfg.Traversal.Threads)
	require.False(t, cfg.Traversal.DisableShuffle)
	require.Equal(t, int64(64*1024*1024), cfg.DFS.BlockSize)
	require.Equal(t, 3, cfg.DFS.Replication)
}

func TestLoad(t *testing.T) {
	const path = "/etc/raidnode/config.yml"
	const data = `listen: ":8080"
log_level: debug
policy_file: /etc/raidnode/policies.yml
codec_file: /etc/raidnode/codecs.json
node_class: base
sleep_interval: 3s
periodicity: 1m
max_jobs_per_policy: 2
traversal:
  threads: 8
  disable_shuffle: true
dfs:
  block_size: 1024
  replication: 2
`

	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, path, []byte(data), os.ModeAppend))

	cfg, err := Load(fs, path)
	require.NoError(t, err)

	require.Equal(t, ":8080", cfg.Listen)
	require.Equal(t, LogLevelDebug, cfg.LogLevel)
	require.Equal(t, "/etc/raidnode/policies.yml", cfg.PolicyFile)
	require.Equal(t, "base", cfg.NodeClass)
	require.Equal(t, 3*time.Second, cfg.SleepInterval)
	require.Equal(t, time.Minute, cfg.Periodicity)
	require.Equal(t, 2, cfg.MaxJobsPerPolicy)
	require.Equal(t, 8, cfg.Traversal.Threads)
	require.True(t, cfg.Traversal.DisableShuffle)
	require.Equal(t, int64(1024), cfg.DFS.BlockSize)
	require.Equal(t, 2, cfg.DFS.Replication)

	// Unset keys fall back to defaults.
	require.Equal(t, 10000, cfg.MaxFilesPerJob)
	require.Equal(t, 3, cfg.HarThresholdDays)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(afero.NewMemMapFs(), "/nosuch.yml")
	require.Error(t, err)
}
