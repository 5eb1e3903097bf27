// Package config loads the logger's settings from a YAML file and the
// environment.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// Config represents the application configuration
type Config struct {
	OneWire OneWireConfig `yaml:"oneWire"`
	Store   StoreConfig   `yaml:"store"`
	Logging LoggingConfig `yaml:"logging"`
}

// OneWireConfig describes where sensors are found and how often they are read
type OneWireConfig struct {
	BaseDir       string        `yaml:"baseDir" env:"W1_BASE_DIR" env-default:"/sys/bus/w1/devices"`
	DevicePattern string        `yaml:"devicePattern" env:"W1_DEVICE_PATTERN" env-default:"28*"`
	PollInterval  time.Duration `yaml:"pollInterval" env:"POLL_INTERVAL" env-default:"1s"`
}

// StoreConfig contains the archive database settings
type StoreConfig struct {
	Path        string        `yaml:"path" env:"STORE_PATH"`
	BusyTimeout time.Duration `yaml:"busyTimeout" env:"STORE_BUSY_TIMEOUT" env-default:"5s"`
	// RequireSchema refuses to start on a database without the tables
	// instead of creating them.
	RequireSchema bool `yaml:"requireSchema" env:"STORE_REQUIRE_SCHEMA"`
}

// Load reads configuration from configPath (optional) with environment
// overrides. A non-empty storePath replaces the configured database path.
func Load(configPath, storePath string) (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	var cfg Config
	if configPath != "" {
		if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	} else {
		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	}

	if storePath != "" {
		cfg.Store.Path = storePath
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Store.Path == "" {
		return fmt.Errorf("store path is required (STORE_PATH or command-line argument)")
	}
	if c.Store.BusyTimeout <= 0 {
		return fmt.Errorf("store busy timeout must be positive, got %s", c.Store.BusyTimeout)
	}

	if c.OneWire.BaseDir == "" {
		return fmt.Errorf("one-wire base directory is required")
	}
	if _, err := filepath.Match(c.OneWire.DevicePattern, ""); err != nil {
		return fmt.Errorf("invalid device pattern %q: %w", c.OneWire.DevicePattern, err)
	}
	if c.OneWire.PollInterval < 0 {
		return fmt.Errorf("poll interval must not be negative, got %s", c.OneWire.PollInterval)
	}

	return ValidateLogging(&c.Logging)
}

// PrintConfig logs the effective configuration
func (c *Config) PrintConfig(logger *zap.Logger) {
	logger.Info("configuration loaded",
		zap.String("w1_base_dir", c.OneWire.BaseDir),
		zap.String("w1_device_pattern", c.OneWire.DevicePattern),
		zap.Duration("poll_interval", c.OneWire.PollInterval),
		zap.String("store_path", c.Store.Path),
		zap.Duration("store_busy_timeout", c.Store.BusyTimeout),
		zap.Bool("store_require_schema", c.Store.RequireSchema),
		zap.String("log_format", strings.ToLower(c.Logging.Format)),
		zap.String("log_level", strings.ToLower(c.Logging.Level)),
	)
}
