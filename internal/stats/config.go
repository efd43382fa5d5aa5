package stats

import (
	"fmt"
	"time"
)

// Config defines configuration for the stats collector
type Config struct {
	Enabled bool `toml:"enabled" env:"ENABLED"`

	// Inbox configuration
	InboxBufferSize  int           `toml:"inbox_buffer_size" env:"INBOX_BUFFER_SIZE"`
	InboxSendTimeout time.Duration `toml:"inbox_send_timeout" env:"INBOX_SEND_TIMEOUT"`

	// Flush configuration
	FlushInterval  time.Duration `toml:"flush_interval" env:"FLUSH_INTERVAL"`
	FlushThreshold int           `toml:"flush_threshold" env:"FLUSH_THRESHOLD"`

	// Stats period configuration
	PeriodDuration time.Duration `toml:"period_duration" env:"PERIOD_DURATION"`
}

// DefaultConfig returns default stats collector configuration
func DefaultConfig() Config {
	return Config{
		Enabled:          true,
		InboxBufferSize:  1000,
		InboxSendTimeout: 100 * time.Millisecond, // Observers run on coordinator loops
		FlushInterval:    30 * time.Second,
		FlushThreshold:   1000,
		PeriodDuration:   time.Minute,
	}
}

func (c Config) Validate() error {
	if c.InboxBufferSize <= 0 {
		return fmt.Errorf("stats inbox_buffer_size must be positive, got %d", c.InboxBufferSize)
	}
	if c.InboxSendTimeout <= 0 {
		return fmt.Errorf("stats inbox_send_timeout must be positive, got %v", c.InboxSendTimeout)
	}
	if c.FlushInterval <= 0 {
		return fmt.Errorf("stats flush_interval must be positive, got %v", c.FlushInterval)
	}
	if c.FlushThreshold <= 0 {
		return fmt.Errorf("stats flush_threshold must be positive, got %d", c.FlushThreshold)
	}
	if c.PeriodDuration <= 0 {
		return fmt.Errorf("stats period_duration must be positive, got %v", c.PeriodDuration)
	}
	return nil
}
