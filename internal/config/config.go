package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/nibble-app/nibblesync/internal/conflict"
	"github.com/nibble-app/nibblesync/internal/db"
	"github.com/nibble-app/nibblesync/internal/orchestrator"
	"github.com/nibble-app/nibblesync/internal/remote"
)

// Config represents the application configuration
type Config struct {
	// Scope is the owner scope this instance syncs, typically the
	// signed-in account id
	Scope string `toml:"scope"`

	Database db.Config           `toml:"database"`
	Sync     orchestrator.Config `toml:"sync"`
	Conflict conflict.Config     `toml:"conflict"`
	Remote   remote.Config       `toml:"remote"`
	Logging  LoggingConfig       `toml:"logging"`
}

// LoggingConfig holds logging settings. File rotation settings only
// apply when File is set; otherwise logs go to stderr.
type LoggingConfig struct {
	Level      string `toml:"level"`
	Format     string `toml:"format"`
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
	Compress   bool   `toml:"compress"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Database: db.Config{
			Driver:          "sqlite3",
			DSN:             "nibblesync.db",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
			ConnMaxIdleTime: 5 * time.Minute,
		},
		Sync:     orchestrator.DefaultConfig(),
		Conflict: conflict.DefaultConfig(),
		Remote:   remote.DefaultConfig(),
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  50,
			MaxBackups: 3,
			MaxAgeDays: 14,
		},
	}
}

// LoadFromFile loads configuration from a TOML file
func LoadFromFile(path string) (*Config, error) {
	config := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file does not exist: %s", path)
	}

	if _, err := toml.DecodeFile(path, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// LoadConfig loads configuration: defaults first, then the config
// file if one was specified
func LoadConfig(configPath string) (*Config, error) {
	if configPath == "" {
		return DefaultConfig(), nil
	}
	return LoadFromFile(configPath)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Scope == "" {
		return fmt.Errorf("scope must be specified")
	}

	// Database validation
	if c.Database.Driver == "" {
		return fmt.Errorf("database driver must be specified")
	}
	if c.Database.Driver != "sqlite3" {
		return fmt.Errorf("unsupported database driver: %s (must be sqlite3)", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database DSN must be specified")
	}

	// Sync validation
	if c.Sync.Interval <= 0 {
		return fmt.Errorf("sync interval must be positive")
	}
	if c.Sync.BatchSize <= 0 {
		return fmt.Errorf("sync batch_size must be positive")
	}
	if c.Sync.MaxRetries <= 0 {
		return fmt.Errorf("sync max_retries must be positive")
	}
	if c.Sync.TriggerBufferSize <= 0 {
		return fmt.Errorf("sync trigger_buffer_size must be positive")
	}
	if c.Sync.EventBufferSize <= 0 {
		return fmt.Errorf("sync event_buffer_size must be positive")
	}

	// Conflict validation
	if err := c.Conflict.Validate(); err != nil {
		return fmt.Errorf("conflict config: %w", err)
	}

	// Remote validation
	if c.Remote.BaseURL == "" {
		return fmt.Errorf("remote base_url must be specified")
	}
	if c.Remote.Timeout <= 0 {
		return fmt.Errorf("remote timeout must be positive")
	}

	// Logging validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}
	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		return fmt.Errorf("invalid log format: %s (must be text or json)", c.Logging.Format)
	}

	return nil
}
