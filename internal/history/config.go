package history

import (
	"fmt"
	"time"
)

// Config defines buffering for prefetch history writes
type Config struct {
	Enabled bool `toml:"enabled" env:"ENABLED"`

	// Maximum buffered requests before the oldest are dropped
	MaxBuffered int `toml:"max_buffered" env:"MAX_BUFFERED"`

	// Channel buffer size in batches
	ChannelSize int `toml:"channel_size" env:"CHANNEL_SIZE"`

	// Flushing is dual: size OR time triggers a flush
	FlushThreshold int           `toml:"flush_threshold" env:"FLUSH_THRESHOLD"`
	FlushInterval  time.Duration `toml:"flush_interval" env:"FLUSH_INTERVAL"`
}

// DefaultConfig returns history defaults
func DefaultConfig() Config {
	return Config{
		Enabled:        true,
		MaxBuffered:    10000,
		ChannelSize:    64,
		FlushThreshold: 50,
		FlushInterval:  1 * time.Second,
	}
}

// Validate checks the configuration and returns an error if invalid
func (c Config) Validate() error {
	if c.MaxBuffered <= 0 {
		return fmt.Errorf("history max_buffered must be positive, got %d", c.MaxBuffered)
	}

	if c.ChannelSize <= 0 {
		return fmt.Errorf("history channel_size must be positive, got %d", c.ChannelSize)
	}

	if c.FlushThreshold <= 0 {
		return fmt.Errorf("history flush_threshold must be positive, got %d", c.FlushThreshold)
	}

	if c.FlushThreshold > c.MaxBuffered {
		return fmt.Errorf("history flush_threshold (%d) must not exceed max_buffered (%d)", c.FlushThreshold, c.MaxBuffered)
	}

	if c.FlushInterval <= 0 {
		return fmt.Errorf("history flush_interval must be positive, got %v", c.FlushInterval)
	}

	return nil
}

// Stats provides current recorder statistics
type Stats struct {
	Buffered  int
	Written   int
	Failed    int
	Dropped   int
	LastFlush time.Time
}
