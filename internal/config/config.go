// Package config defines the process configuration for the run_queue
// command and loads it from the environment via internal/env.
package config

import (
	"time"

	"github.com/rezkam/dbqueue/internal/env"
	"github.com/rezkam/dbqueue/internal/errkind"
)

// Config is the full set of tunables the run_queue command accepts, loaded
// from the environment and validated before the supervisor starts.
type Config struct {
	Database DatabaseConfig

	// ChannelName is the Postgres NOTIFY/LISTEN channel workers wake up on.
	ChannelName string `env:"DBQUEUE_CHANNEL_NAME"`
	// RescanPeriod is how often the periodic waker sets the run-event
	// regardless of notifications. Zero disables periodic rescanning,
	// which is only a valid configuration when notifications are enabled.
	RescanPeriod time.Duration `env:"DBQUEUE_RESCAN_PERIOD"`
	// JobRunners is the number of concurrent claim-loop workers.
	JobRunners int `env:"DBQUEUE_JOB_RUNNERS"`
	// NotificationsEnabled toggles the dedicated LISTEN connection.
	NotificationsEnabled bool `env:"DBQUEUE_NOTIFICATIONS_ENABLED"`
	// OperationTimeout is loaded from the environment but is not applied by
	// the supervisor or the workers: no claim, handler or result-write cycle
	// gets a deadline from it.
	OperationTimeout time.Duration `env:"DBQUEUE_OPERATION_TIMEOUT"`

	Observability ObservabilityConfig
}

// DatabaseConfig holds the subset of connection tuning exposed at the
// process-configuration layer; it mirrors postgres.DBConfig's connection
// fields one for one (DBConfig's ChannelName comes from Config.ChannelName)
// so the two can be wired together without adapters scattered across the
// binary.
type DatabaseConfig struct {
	DSN             string        `env:"DBQUEUE_DATABASE_DSN"`
	MaxOpenConns    int           `env:"DBQUEUE_DATABASE_MAX_OPEN_CONNS"`
	MaxIdleConns    int           `env:"DBQUEUE_DATABASE_MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `env:"DBQUEUE_DATABASE_CONN_MAX_LIFETIME"`
	ConnMaxIdleTime time.Duration `env:"DBQUEUE_DATABASE_CONN_MAX_IDLE_TIME"`
}

// ObservabilityConfig holds observability configuration.
type ObservabilityConfig struct {
	OTelEnabled bool `env:"DBQUEUE_OTEL_ENABLED"`
}

// defaults that env.Load's tag set has no mechanism to express (it supports
// only the "env" tag), so they are applied by the caller before validation
// runs.
const (
	DefaultChannelName      = "dbqueue_notifications"
	DefaultRescanPeriod     = 60 * time.Second
	DefaultJobRunners       = 1
	DefaultOperationTimeout = 0
)

// Load starts from the defaults, overrides every field whose environment
// variable is set (even when it is set to a zero value), and validates the
// result.
func Load() (Config, error) {
	cfg := Config{
		ChannelName:          DefaultChannelName,
		RescanPeriod:         DefaultRescanPeriod,
		JobRunners:           DefaultJobRunners,
		NotificationsEnabled: true,
		Observability:        ObservabilityConfig{OTelEnabled: true},
	}

	if err := env.Load(&cfg); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate enforces the run_queue start-up rejection rules: a zero rescan
// period is only acceptable when notifications are enabled (otherwise a
// worker could never be woken), and at least one job runner is required.
func (c Config) Validate() error {
	if c.Database.DSN == "" {
		return errkind.ConfigurationError{Reason: "Database.DSN must not be empty"}
	}
	if c.JobRunners < 1 {
		return errkind.ConfigurationError{Reason: "JobRunners must be at least 1"}
	}
	if c.RescanPeriod <= 0 && !c.NotificationsEnabled {
		return errkind.ConfigurationError{
			Reason: "RescanPeriod must be greater than zero when notifications are disabled, or workers would never wake",
		}
	}
	return nil
}
