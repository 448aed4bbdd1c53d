package config

import "time"

const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"

	defaultListen           = "localhost:60000"
	defaultHandlerCount     = 10
	defaultSleepInterval    = 10 * time.Second
	defaultPeriodicity      = 5 * time.Minute
	defaultMaxJobsPerPolicy = 10
	defaultMaxFilesPerJob   = 10000

	defaultTraversalThreads = 4

	defaultRecoveryLocation = "/tmp/raidrecovery"
	defaultHarThresholdDays = 3
	defaultHarPartfileSize  = 4 * 1024 * 1024 * 1024
	defaultNodeClass        = "local"
	defaultBlockSize        = 64 * 1024 * 1024
	defaultReplication      = 3
)

type TraversalConfig struct {
	// Shuffling is on unless explicitly disabled.
	DisableShuffle bool `yaml:"disable_shuffle"`
	Threads        int  `yaml:"threads"`
}

type DFSConfig struct {
	BlockSize   int64 `yaml:"block_size"`
	Replication int   `yaml:"replication"`
}

type Config struct {
	Listen       string `yaml:"listen"`
	HandlerCount int    `yaml:"handler_count"`
	LogLevel     string `yaml:"log_level"`
	RedisURL     string `yaml:"redis_url"`

	PolicyFile string `yaml:"policy_file"`
	CodecFile  string `yaml:"codec_file"`
	NodeClass  string `yaml:"node_class"`

	SleepInterval    time.Duration `yaml:"sleep_interval"`
	Periodicity      time.Duration `yaml:"periodicity"`
	PurgeInterval    time.Duration `yaml:"purge_interval"`
	MaxJobsPerPolicy int           `yaml:"max_jobs_per_policy"`
	MaxFilesPerJob   int           `yaml:"max_files_per_job"`

	RecoveryLocation string `yaml:"recovery_location"`
	HarThresholdDays int    `yaml:"har_threshold_days"`
	HarPartfileSize  int64  `yaml:"har_partfile_size"`

	DisableCorruptFixer       bool `yaml:"disable_corrupt_fixer"`
	DisableDecommissionCopier bool `yaml:"disable_decommission_copier"`

	Traversal TraversalConfig `yaml:"traversal"`
	DFS       DFSConfig       `yaml:"dfs"`
}

func (c *Config) SetDefaults() {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.HandlerCount < 1 {
		c.HandlerCount = defaultHandlerCount
	}
	if c.LogLevel == "" {
		c.LogLevel = LogLevelInfo
	}
	if c.NodeClass == "" {
		c.NodeClass = defaultNodeClass
	}
	if c.SleepInterval <= 0 {
		c.SleepInterval = defaultSleepInterval
	}
	if c.Periodicity <= 0 {
		c.Periodicity = defaultPeriodicity
	}
	if c.PurgeInterval <= 0 {
		c.PurgeInterval = c.Periodicity
	}
	if c.MaxJobsPerPolicy < 1 {
		c.MaxJobsPerPolicy = defaultMaxJobsPerPolicy
	}
	if c.MaxFilesPerJob < 1 {
		c.MaxFilesPerJob = defaultMaxFilesPerJob
	}
	if c.RecoveryLocation == "" {
		c.RecoveryLocation = defaultRecoveryLocation
	}
	if c.HarThresholdDays < 1 {
		c.HarThresholdDays = defaultHarThresholdDays
	}
	if c.HarPartfileSize <= 0 {
		c.HarPartfileSize = defaultHarPartfileSize
	}
	if c.Traversal.Threads < 1 {
		c.Traversal.Threads = defaultTraversalThreads
	}
	if c.DFS.BlockSize <= 0 {
		c.DFS.BlockSize = defaultBlockSize
	}
	if c.DFS.Replication < 1 {
		c.DFS.Replication = defaultReplication
	}
}
