package prefetch

import (
	"fmt"
	"time"
)

// Config defines configuration for coordinators and trigger points
type Config struct {
	// Delay between hover and load start when a trigger point does not set one
	DefaultDelay time.Duration `toml:"default_delay" env:"DEFAULT_DELAY"`

	// Inbox buffer size
	InboxBufferSize int `toml:"inbox_buffer_size" env:"INBOX_BUFFER_SIZE"`

	// Timeout for sending to inbox
	InboxSendTimeout time.Duration `toml:"inbox_send_timeout" env:"INBOX_SEND_TIMEOUT"`

	// Buffer of snapshot channels handed to subscribers
	SubscriberBuffer int `toml:"subscriber_buffer" env:"SUBSCRIBER_BUFFER"`

	// Upper bound on live trigger points; idle ones are evicted to stay under it
	MaxPoints int `toml:"max_points" env:"MAX_POINTS"`
}

// DefaultConfig returns coordinator defaults
func DefaultConfig() Config {
	return Config{
		DefaultDelay:     150 * time.Millisecond,
		InboxBufferSize:  64,
		InboxSendTimeout: time.Second,
		SubscriberBuffer: 8,
		MaxPoints:        1024,
	}
}

// Validate returns an error describing the first invalid setting
func (c Config) Validate() error {
	if c.DefaultDelay < 0 {
		return fmt.Errorf("DefaultDelay must not be negative, got %v", c.DefaultDelay)
	}

	if c.InboxBufferSize <= 0 {
		return fmt.Errorf("InboxBufferSize must be positive, got %d", c.InboxBufferSize)
	}

	if c.InboxSendTimeout <= 0 {
		return fmt.Errorf("InboxSendTimeout must be positive, got %v", c.InboxSendTimeout)
	}

	if c.SubscriberBuffer <= 0 {
		return fmt.Errorf("SubscriberBuffer must be positive, got %d", c.SubscriberBuffer)
	}

	if c.MaxPoints <= 0 {
		return fmt.Errorf("MaxPoints must be positive, got %d", c.MaxPoints)
	}

	return nil
}
