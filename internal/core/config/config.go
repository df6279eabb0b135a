package config

import (
	"time"

	redisclient "github.com/pruner-io/pruner/internal/infra/redis"
	"github.com/pruner-io/pruner/internal/infra/storage/postgres"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server   ServerConfig       `yaml:"server"`
	Tuning   TuningConfig       `yaml:"tuning"`
	Redis    redisclient.Config `yaml:"redis"`
	Logging  LoggingConfig      `yaml:"logging"`
	Database postgres.Config    `yaml:"database"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// TuningConfig holds study service settings.
type TuningConfig struct {
	// RecyclePeriod is how long a stop decision batch stays valid.
	// Repeat checks inside the window recycle the batch instead of
	// re-running the policy.
	RecyclePeriod time.Duration `yaml:"recycle_period"`

	// LockTTL bounds how long one policy evaluation may hold a study.
	LockTTL time.Duration `yaml:"lock_ttl"`

	// MaxSuggestions caps the batch size of one suggestion request.
	MaxSuggestions int `yaml:"max_suggestions"`

	// Lenient downgrades noisy measurement reports (non-finite values,
	// step regressions) to warnings instead of rejecting them.
	Lenient bool `yaml:"lenient"`

	// SweepGrace is how long an unacknowledged stopping trial may sit
	// before the recycler reverts it to active.
	SweepGrace time.Duration `yaml:"sweep_grace"`

	// PolicyServers are endpoints for studies that delegate to the
	// "remote" designer or pruner and name no endpoints themselves.
	PolicyServers []string `yaml:"policy_servers"`

	// PolicyTimeout bounds a single remote policy call.
	PolicyTimeout time.Duration `yaml:"policy_timeout"`
}
