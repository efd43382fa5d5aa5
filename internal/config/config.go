package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"

	"github.com/livinlefevreloca/prewarm/internal/db"
	"github.com/livinlefevreloca/prewarm/internal/history"
	"github.com/livinlefevreloca/prewarm/internal/loader"
	"github.com/livinlefevreloca/prewarm/internal/monitor"
	"github.com/livinlefevreloca/prewarm/internal/prefetch"
	"github.com/livinlefevreloca/prewarm/internal/stats"
	"github.com/livinlefevreloca/prewarm/internal/telemetry"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "PREWARM_"

// Config represents the application configuration
type Config struct {
	Database  db.Config        `toml:"database" envPrefix:"DATABASE_"`
	Prefetch  prefetch.Config  `toml:"prefetch" envPrefix:"PREFETCH_"`
	Loader    loader.Config    `toml:"loader" envPrefix:"LOADER_"`
	Targets   []loader.Spec    `toml:"targets"`
	Monitor   monitor.Config   `toml:"monitor" envPrefix:"MONITOR_"`
	History   history.Config   `toml:"history" envPrefix:"HISTORY_"`
	Stats     stats.Config     `toml:"stats" envPrefix:"STATS_"`
	HTTP      HTTPConfig       `toml:"http" envPrefix:"HTTP_"`
	Metrics   MetricsConfig    `toml:"metrics" envPrefix:"METRICS_"`
	Telemetry telemetry.Config `toml:"telemetry" envPrefix:"TELEMETRY_"`
	Logging   LoggingConfig    `toml:"logging" envPrefix:"LOGGING_"`
}

// HTTPConfig holds HTTP API server settings
type HTTPConfig struct {
	Enabled bool   `toml:"enabled" env:"ENABLED"`
	Address string `toml:"address" env:"ADDRESS"`
	Port    int    `toml:"port" env:"PORT"`
}

// Addr returns the listen address
func (c HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Address, c.Port)
}

// MetricsConfig holds metrics/monitoring settings
type MetricsConfig struct {
	Enabled bool   `toml:"enabled" env:"ENABLED"`
	Address string `toml:"address" env:"ADDRESS"`
	Port    int    `toml:"port" env:"PORT"`
}

// Addr returns the listen address
func (c MetricsConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Address, c.Port)
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string `toml:"level" env:"LEVEL"`
	Format string `toml:"format" env:"FORMAT"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Database:  db.DefaultConfig(),
		Prefetch:  prefetch.DefaultConfig(),
		Loader:    loader.DefaultConfig(),
		Targets:   []loader.Spec{},
		Monitor:   monitor.DefaultConfig(),
		History:   history.DefaultConfig(),
		Stats:     stats.DefaultConfig(),
		Telemetry: telemetry.DefaultConfig(),
		HTTP: HTTPConfig{
			Enabled: true,
			Address: "0.0.0.0",
			Port:    8080,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Address: "0.0.0.0",
			Port:    9090,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadFromFile loads configuration from a TOML file over the defaults
func LoadFromFile(path string) (*Config, error) {
	// Start with defaults
	config := DefaultConfig()

	// Check if file exists
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file does not exist: %s", path)
	}

	// Parse TOML file
	if _, err := toml.DecodeFile(path, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// ApplyEnv overrides config values from PREWARM_ environment variables
func ApplyEnv(config *Config) error {
	if err := env.ParseWithOptions(config, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// LoadConfig loads configuration with the following precedence:
// 1. Default values
// 2. Config file (if specified)
// 3. Environment variables
// 4. Command-line flags (handled by caller)
// The result is validated.
func LoadConfig(configPath string) (*Config, error) {
	config := DefaultConfig()

	if configPath != "" {
		fileConfig, err := LoadFromFile(configPath)
		if err != nil {
			return nil, err
		}
		config = fileConfig
	}

	if err := ApplyEnv(config); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return config, nil
}

// Validate checks if the configuration is valid. Target specs are
// normalized in place.
func (c *Config) Validate() error {
	if err := c.Database.Validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := c.Prefetch.Validate(); err != nil {
		return fmt.Errorf("prefetch: %w", err)
	}
	if err := c.Loader.Validate(); err != nil {
		return fmt.Errorf("loader: %w", err)
	}

	seen := make(map[string]bool, len(c.Targets))
	for i := range c.Targets {
		if err := c.Targets[i].Validate(); err != nil {
			return fmt.Errorf("targets[%d]: %w", i, err)
		}
		if seen[c.Targets[i].ID] {
			return fmt.Errorf("targets[%d]: %w: %s", i, loader.ErrDuplicateTarget, c.Targets[i].ID)
		}
		seen[c.Targets[i].ID] = true
	}

	if err := c.Monitor.Validate(); err != nil {
		return fmt.Errorf("monitor: %w", err)
	}
	if c.History.Enabled {
		if err := c.History.Validate(); err != nil {
			return fmt.Errorf("history: %w", err)
		}
	}
	if c.Stats.Enabled {
		if err := c.Stats.Validate(); err != nil {
			return fmt.Errorf("stats: %w", err)
		}
	}
	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}

	// HTTP validation
	if c.HTTP.Enabled {
		if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
			return fmt.Errorf("HTTP port must be between 1 and 65535")
		}
	}

	// Metrics validation
	if c.Metrics.Enabled {
		if c.Metrics.Port <= 0 || c.Metrics.Port > 65535 {
			return fmt.Errorf("metrics port must be between 1 and 65535")
		}
		if c.HTTP.Enabled && c.HTTP.Addr() == c.Metrics.Addr() {
			return fmt.Errorf("metrics and HTTP listeners must use different addresses")
		}
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
