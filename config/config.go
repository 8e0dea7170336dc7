// Package config loads relay settings from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Feed modes.
const (
	FeedModeRooms  = "rooms"
	FeedModeSingle = "single"
)

// Store drivers.
const (
	StoreDriverSQLite   = "sqlite"
	StoreDriverPostgres = "postgres"
)

// Bus drivers.
const (
	BusDriverNATS     = "nats"
	BusDriverRedis    = "redis"
	BusDriverEmbedded = "embedded"
)

// Log levels.
const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

// Config holds the relay configuration.
type Config struct {
	Port            string        `env:"PORT"             envDefault:"3000"`
	FeedMode        string        `env:"FEED_MODE"        envDefault:"rooms"`
	StoreDriver     string        `env:"STORE_DRIVER"     envDefault:"sqlite"`
	DBPath          string        `env:"DB_PATH"          envDefault:"chat.db"`
	DatabaseURL     string        `env:"DATABASE_URL"`
	DBDebug         bool          `env:"DB_DEBUG"         envDefault:"false"`
	BusDriver       string        `env:"BUS_DRIVER"       envDefault:"embedded"`
	NATSURL         string        `env:"NATS_URL"         envDefault:"nats://localhost:4222"`
	RedisAddr       string        `env:"REDIS_ADDR"       envDefault:"localhost:6379"`
	BusPrefix       string        `env:"BUS_PREFIX"       envDefault:"chat"`
	MonoNATSPort    int           `env:"MONO_NATS_PORT"   envDefault:"4250"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`
	LogLevel        string        `env:"LOG_LEVEL"        envDefault:"info"`
}

// Load parses the environment into a Config and validates it.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects unknown modes and drivers.
func (c Config) Validate() error {
	switch c.FeedMode {
	case FeedModeRooms, FeedModeSingle:
	default:
		return fmt.Errorf("invalid FEED_MODE %q", c.FeedMode)
	}

	switch c.StoreDriver {
	case StoreDriverSQLite:
		if c.DBPath == "" {
			return fmt.Errorf("DB_PATH is required for the sqlite store")
		}
	case StoreDriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres store")
		}
	default:
		return fmt.Errorf("invalid STORE_DRIVER %q", c.StoreDriver)
	}

	switch c.BusDriver {
	case BusDriverNATS, BusDriverRedis, BusDriverEmbedded:
	default:
		return fmt.Errorf("invalid BUS_DRIVER %q", c.BusDriver)
	}

	if c.BusPrefix == "" {
		return fmt.Errorf("BUS_PREFIX cannot be empty")
	}

	switch c.LogLevel {
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
	default:
		return fmt.Errorf("invalid LOG_LEVEL %q", c.LogLevel)
	}
	return nil
}

// SingleFeed reports whether the relay runs the single global feed.
func (c Config) SingleFeed() bool {
	return c.FeedMode == FeedModeSingle
}
