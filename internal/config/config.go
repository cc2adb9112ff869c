// Package config defines service configuration and its defaults.
//
// Values are layered by Load: defaults from New, an optional YAML file, then
// TALLY_-prefixed environment variables.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// Addr configures the HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr"`

	// DBDriver selects the gorm dialect: "sqlite" or "postgres".
	DBDriver string `koanf:"db_driver"`

	// DBDSN is the driver specific data source name.
	DBDSN string `koanf:"db_dsn"`

	// FlushIntervalMS is the periodic flush tick.
	FlushIntervalMS int `koanf:"flush_interval_ms"`

	// BatchThreshold is the queue length that triggers an immediate flush.
	BatchThreshold int `koanf:"batch_threshold"`

	// QueueCapacity caps buffered events; the oldest are dropped past it. 0 disables the cap.
	QueueCapacity int `koanf:"queue_capacity"`

	// RetryInitialMS and RetryMaxMS bound the backoff after a failed flush.
	RetryInitialMS int `koanf:"retry_initial_ms"`
	RetryMaxMS     int `koanf:"retry_max_ms"`

	// JWTSecret verifies bearer tokens. Empty disables authentication entirely.
	JWTSecret string `koanf:"jwt_secret"`

	// AnonymousUserID, when set, is attributed to events with no authenticated user.
	AnonymousUserID string `koanf:"anonymous_user_id"`

	// ShutdownTimeoutMS bounds the final flush and session cleanup on exit.
	ShutdownTimeoutMS int `koanf:"shutdown_timeout_ms"`
}

// New returns a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:          "info",
		Addr:              ":9080",
		DBDriver:          "sqlite",
		DBDSN:             "tally.db",
		FlushIntervalMS:   5_000,
		BatchThreshold:    10,
		QueueCapacity:     100_000,
		RetryInitialMS:    1_000,
		RetryMaxMS:        60_000,
		ShutdownTimeoutMS: 10_000,
	}
}

// FlushInterval returns FlushIntervalMS as a duration.
func (c *Config) FlushInterval() time.Duration {
	return time.Duration(c.FlushIntervalMS) * time.Millisecond
}

// RetryInitial returns RetryInitialMS as a duration.
func (c *Config) RetryInitial() time.Duration {
	return time.Duration(c.RetryInitialMS) * time.Millisecond
}

// RetryMax returns RetryMaxMS as a duration.
func (c *Config) RetryMax() time.Duration {
	return time.Duration(c.RetryMaxMS) * time.Millisecond
}

// ShutdownTimeout returns ShutdownTimeoutMS as a duration.
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutMS) * time.Millisecond
}

// Validate reports the first invalid setting, wrapped in ErrInvalidConfig.
func (c *Config) Validate() error {
	switch {
	case strings.TrimSpace(c.Addr) == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.DBDriver != "sqlite" && c.DBDriver != "postgres":
		return fmt.Errorf("%w: unsupported db_driver %q", ErrInvalidConfig, c.DBDriver)
	case strings.TrimSpace(c.DBDSN) == "":
		return fmt.Errorf("%w: db_dsn must not be empty", ErrInvalidConfig)
	case c.FlushIntervalMS <= 0:
		return fmt.Errorf("%w: flush_interval_ms must be positive", ErrInvalidConfig)
	case c.BatchThreshold <= 0:
		return fmt.Errorf("%w: batch_threshold must be positive", ErrInvalidConfig)
	case c.QueueCapacity < 0:
		return fmt.Errorf("%w: queue_capacity must not be negative", ErrInvalidConfig)
	case c.RetryInitialMS <= 0 || c.RetryMaxMS < c.RetryInitialMS:
		return fmt.Errorf("%w: retry bounds must satisfy 0 < retry_initial_ms <= retry_max_ms", ErrInvalidConfig)
	case c.ShutdownTimeoutMS <= 0:
		return fmt.Errorf("%w: shutdown_timeout_ms must be positive", ErrInvalidConfig)
	}
	return nil
}
