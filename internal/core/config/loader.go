package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// Default returns the configuration used when no file is given:
// in-memory storage, no redis, port 8080.
func Default() *AppConfig {
	var cfg AppConfig
	cfg.applyDefaults()
	return &cfg
}

func (cfg *AppConfig) applyDefaults() {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Tuning.RecyclePeriod == 0 {
		cfg.Tuning.RecyclePeriod = time.Minute
	}
	if cfg.Tuning.LockTTL == 0 {
		cfg.Tuning.LockTTL = 30 * time.Second
	}
	if cfg.Tuning.MaxSuggestions == 0 {
		cfg.Tuning.MaxSuggestions = 16
	}
	if cfg.Tuning.SweepGrace == 0 {
		cfg.Tuning.SweepGrace = 5 * time.Minute
	}
	if cfg.Tuning.PolicyTimeout == 0 {
		cfg.Tuning.PolicyTimeout = 10 * time.Second
	}
}
