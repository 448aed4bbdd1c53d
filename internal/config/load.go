package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v2"
)

const (
	envConfigPath = "RAIDNODE_CONFIG"
)

// MustLoad reads the yaml config and panics on failure. Daemon startup is
// the only caller; a daemon without a config cannot do anything useful.
func MustLoad(path string) *Config {
	cfg, err := Load(afero.NewOsFs(), path)
	if err != nil {
		panic(err)
	}

	return cfg
}

func Load(fs afero.Fs, path string) (*Config, error) {
	// .env may override the config location, nothing else is read from it.
	_ = godotenv.Load()
	if p := os.Getenv(envConfigPath); p != "" {
		path = p
	}

	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.SetDefaults()

	return &cfg, nil
}
