package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/livinlefevreloca/prewarm/internal/loader"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return configPath
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	// Database defaults
	if cfg.Database.Driver != "sqlite3" {
		t.Errorf("expected driver sqlite3, got %s", cfg.Database.Driver)
	}
	if cfg.Database.MaxOpenConns != 4 {
		t.Errorf("expected max_open_conns 4, got %d", cfg.Database.MaxOpenConns)
	}

	// Prefetch defaults
	if cfg.Prefetch.DefaultDelay != 150*time.Millisecond {
		t.Errorf("expected default_delay 150ms, got %v", cfg.Prefetch.DefaultDelay)
	}

	// Monitor defaults
	if cfg.Monitor.Kinds.Title() != "All" {
		t.Errorf("expected all kinds enabled, got %s", cfg.Monitor.Kinds.Title())
	}

	// HTTP defaults
	if !cfg.HTTP.Enabled {
		t.Error("expected HTTP enabled by default")
	}
	if cfg.HTTP.Port != 8080 {
		t.Errorf("expected HTTP port 8080, got %d", cfg.HTTP.Port)
	}
	if cfg.Telemetry.Enabled {
		t.Error("expected telemetry disabled by default")
	}
	if len(cfg.Targets) != 0 {
		t.Errorf("expected no targets, got %d", len(cfg.Targets))
	}
}

func TestLoadFromFile(t *testing.T) {
	configPath := writeConfig(t, `
[database]
dsn = "/var/lib/prewarm/prewarm.db"
max_open_conns = 8

[prefetch]
default_delay = "300ms"

[monitor]
max_entries = 50

[monitor.kinds]
css = false

[http]
enabled = false
port = 9000

[[targets]]
id = "modal"
source = "synthetic"
duration = "2s"
size = 5000

[[targets]]
id = "docs"
source = "http"
kind = "xhr"
url = "https://example.com/docs.json"
delay = "50ms"
`)

	cfg, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	// Check overridden values
	if cfg.Database.DSN != "/var/lib/prewarm/prewarm.db" {
		t.Errorf("expected overridden dsn, got %s", cfg.Database.DSN)
	}
	if cfg.Database.MaxOpenConns != 8 {
		t.Errorf("expected max_open_conns 8, got %d", cfg.Database.MaxOpenConns)
	}
	if cfg.Prefetch.DefaultDelay != 300*time.Millisecond {
		t.Errorf("expected default_delay 300ms, got %v", cfg.Prefetch.DefaultDelay)
	}
	if cfg.Monitor.MaxEntries != 50 {
		t.Errorf("expected max_entries 50, got %d", cfg.Monitor.MaxEntries)
	}
	if cfg.Monitor.Kinds.CSS {
		t.Error("expected css disabled")
	}
	if !cfg.Monitor.Kinds.JS {
		t.Error("expected js to keep its default")
	}
	if cfg.HTTP.Enabled {
		t.Error("expected HTTP disabled")
	}
	if cfg.HTTP.Port != 9000 {
		t.Errorf("expected HTTP port 9000, got %d", cfg.HTTP.Port)
	}

	if len(cfg.Targets) != 2 {
		t.Fatalf("expected 2 targets, got %d", len(cfg.Targets))
	}
	if cfg.Targets[0].Duration != 2*time.Second || cfg.Targets[0].Size != 5000 {
		t.Errorf("unexpected synthetic target: %+v", cfg.Targets[0])
	}
	if cfg.Targets[1].Kind != loader.KindXHR || cfg.Targets[1].Delay != 50*time.Millisecond {
		t.Errorf("unexpected http target: %+v", cfg.Targets[1])
	}

	// Check default values still present
	if cfg.Database.MaxIdleConns != 2 {
		t.Errorf("expected max_idle_conns default 2, got %d", cfg.Database.MaxIdleConns)
	}
}

func TestLoadFromFile_NotFound(t *testing.T) {
	_, err := LoadFromFile("/nonexistent/config.toml")
	if err == nil {
		t.Error("expected error for nonexistent file")
	}
}

func TestLoadFromFile_Malformed(t *testing.T) {
	configPath := writeConfig(t, "[http\nport = ")
	if _, err := LoadFromFile(configPath); err == nil {
		t.Error("expected error for malformed TOML")
	}
}

func TestLoadConfig_NoFile(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("expected no error for empty config path, got %v", err)
	}

	// Should return defaults
	if cfg.Database.Driver != "sqlite3" {
		t.Errorf("expected default driver, got %s", cfg.Database.Driver)
	}
}

func TestLoadConfig_EnvOverridesFile(t *testing.T) {
	configPath := writeConfig(t, `
[http]
port = 9000

[logging]
level = "debug"
`)

	t.Setenv("PREWARM_HTTP_PORT", "7000")
	t.Setenv("PREWARM_PREFETCH_DEFAULT_DELAY", "75ms")
	t.Setenv("PREWARM_MONITOR_KINDS_XHR", "false")
	t.Setenv("PREWARM_LOGGING_FORMAT", "json")

	cfg, err := LoadConfig(configPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.HTTP.Port != 7000 {
		t.Errorf("expected env port 7000, got %d", cfg.HTTP.Port)
	}
	if cfg.Prefetch.DefaultDelay != 75*time.Millisecond {
		t.Errorf("expected env delay 75ms, got %v", cfg.Prefetch.DefaultDelay)
	}
	if cfg.Monitor.Kinds.XHR {
		t.Error("expected env to disable xhr")
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected file log level debug, got %s", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("expected env log format json, got %s", cfg.Logging.Format)
	}
}

func TestLoadConfig_InvalidEnv(t *testing.T) {
	t.Setenv("PREWARM_HTTP_PORT", "not-a-number")

	if _, err := LoadConfig(""); err == nil {
		t.Error("expected error for unparsable env value")
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	configPath := writeConfig(t, `
[logging]
level = "verbose"
`)

	if _, err := LoadConfig(configPath); err == nil {
		t.Error("expected validation error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"invalid driver", func(c *Config) { c.Database.Driver = "invalid" }, true},
		{"empty DSN", func(c *Config) { c.Database.DSN = "" }, true},
		{"negative delay", func(c *Config) { c.Prefetch.DefaultDelay = -time.Second }, true},
		{"zero loader timeout", func(c *Config) { c.Loader.Timeout = 0 }, true},
		{"invalid HTTP port", func(c *Config) { c.HTTP.Port = 99999 }, true},
		{"HTTP disabled ignores port", func(c *Config) { c.HTTP.Enabled = false; c.HTTP.Port = 0 }, false},
		{"same listener", func(c *Config) { c.Metrics.Port = c.HTTP.Port }, true},
		{"invalid log level", func(c *Config) { c.Logging.Level = "invalid" }, true},
		{"invalid log format", func(c *Config) { c.Logging.Format = "xml" }, true},
		{"history disabled skips checks", func(c *Config) { c.History.Enabled = false; c.History.ChannelSize = 0 }, false},
		{"invalid history", func(c *Config) { c.History.ChannelSize = 0 }, true},
		{"invalid stats", func(c *Config) { c.Stats.FlushThreshold = 0 }, true},
		{"telemetry without endpoint", func(c *Config) { c.Telemetry.Enabled = true }, true},
		{"monitor without entries", func(c *Config) { c.Monitor.MaxEntries = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_Targets(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Targets = []loader.Spec{
		{ID: "modal", Source: loader.SourceSynthetic},
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid targets, got %v", err)
	}
	if cfg.Targets[0].Kind != loader.KindPrefetch {
		t.Errorf("expected kind to default to prefetch, got %s", cfg.Targets[0].Kind)
	}

	cfg.Targets = append(cfg.Targets, loader.Spec{ID: "modal", Source: loader.SourceSynthetic})
	err := cfg.Validate()
	if !errors.Is(err, loader.ErrDuplicateTarget) {
		t.Errorf("expected duplicate target error, got %v", err)
	}

	cfg.Targets = []loader.Spec{{ID: "docs", Source: loader.SourceHTTP}}
	if err := cfg.Validate(); !errors.Is(err, loader.ErrInvalidSpec) {
		t.Errorf("expected invalid spec error, got %v", err)
	}
}
