// Package monitor keeps a log of the loads it observes through a loader
// interceptor, filtered by resource kind.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/livinlefevreloca/prewarm/internal/clock"
	"github.com/livinlefevreloca/prewarm/internal/loader"
)

// Kinds selects which resource kinds are recorded
type Kinds struct {
	JS       bool `toml:"js" env:"JS"`
	CSS      bool `toml:"css" env:"CSS"`
	Prefetch bool `toml:"prefetch" env:"PREFETCH"`
	XHR      bool `toml:"xhr" env:"XHR"`
}

// Enabled reports whether kind is recorded
func (k Kinds) Enabled(kind loader.Kind) bool {
	switch kind {
	case loader.KindJS:
		return k.JS
	case loader.KindCSS:
		return k.CSS
	case loader.KindPrefetch:
		return k.Prefetch
	case loader.KindXHR:
		return k.XHR
	default:
		return false
	}
}

// Title names the enabled kinds, or "All" when every kind is enabled
func (k Kinds) Title() string {
	labels := make([]string, 0, 4)
	if k.JS {
		labels = append(labels, "JS")
	}
	if k.CSS {
		labels = append(labels, "CSS")
	}
	if k.Prefetch {
		labels = append(labels, "Prefetch")
	}
	if k.XHR {
		labels = append(labels, "XHR")
	}
	if len(labels) == 4 {
		return "All"
	}
	return strings.Join(labels, ", ")
}

// Config holds monitor settings
type Config struct {
	Kinds      Kinds `toml:"kinds" envPrefix:"KINDS_"`
	MaxEntries int   `toml:"max_entries" env:"MAX_ENTRIES"`
}

// DefaultConfig records every kind and keeps the last 200 entries
func DefaultConfig() Config {
	return Config{
		Kinds:      Kinds{JS: true, CSS: true, Prefetch: true, XHR: true},
		MaxEntries: 200,
	}
}

func (c Config) Validate() error {
	if c.MaxEntries <= 0 {
		return fmt.Errorf("MaxEntries must be positive, got %d", c.MaxEntries)
	}
	return nil
}

// Entry is one observed load
type Entry struct {
	ID       string        `json:"id"`
	Kind     loader.Kind   `json:"kind"`
	Status   string        `json:"status"`
	Size     string        `json:"size"`
	Time     time.Time     `json:"time"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

// Monitor records the first load of each target
type Monitor struct {
	config Config
	clock  clock.Clock
	logger *slog.Logger

	mu      sync.Mutex
	seen    map[string]struct{}
	entries []Entry
}

func New(config Config, clk clock.Clock, logger *slog.Logger) *Monitor {
	return &Monitor{
		config:  config,
		clock:   clk,
		logger:  logger,
		seen:    make(map[string]struct{}),
		entries: make([]Entry, 0),
	}
}

// Interceptor returns a loader interceptor that records loads of enabled
// kinds. Targets already seen pass through unrecorded.
func (m *Monitor) Interceptor() loader.Interceptor {
	return func(id string, kind loader.Kind, next loader.Loader) loader.Loader {
		return func(ctx context.Context) (loader.Result, error) {
			if !m.config.Kinds.Enabled(kind) || !m.markSeen(id) {
				return next(ctx)
			}

			start := m.clock.Now()
			res, err := next(ctx)
			m.record(id, kind, start, res, err)
			return res, err
		}
	}
}

// markSeen returns false if id was already seen
func (m *Monitor) markSeen(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.seen[id]; ok {
		return false
	}
	m.seen[id] = struct{}{}
	return true
}

func (m *Monitor) record(id string, kind loader.Kind, start time.Time, res loader.Result, err error) {
	now := m.clock.Now()
	elapsed := now.Sub(start)

	entry := Entry{
		ID:       id,
		Kind:     kind,
		Status:   FormatStatus(res, elapsed),
		Size:     FormatSize(res),
		Time:     now,
		Duration: elapsed,
	}
	if err != nil {
		entry.Error = err.Error()
	}

	m.mu.Lock()
	m.entries = append(m.entries, entry)
	if over := len(m.entries) - m.config.MaxEntries; over > 0 {
		m.entries = append(m.entries[:0:0], m.entries[over:]...)
	}
	m.mu.Unlock()

	m.logger.Debug("load observed",
		"trigger_id", id,
		"kind", string(kind),
		"status", entry.Status,
		"size", entry.Size)
}

// Entries returns the log, oldest first
func (m *Monitor) Entries() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := make([]Entry, len(m.entries))
	copy(entries, m.entries)
	return entries
}

func (m *Monitor) Title() string {
	return m.config.Kinds.Title()
}

// Reset clears the log and the seen set
func (m *Monitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seen = make(map[string]struct{})
	m.entries = m.entries[:0]
}

// FormatStatus renders "200 (12 ms)", or "ERR" when no response arrived
func FormatStatus(res loader.Result, elapsed time.Duration) string {
	if res.Status == "" {
		return "ERR"
	}
	return fmt.Sprintf("%s (%d ms)", res.Status, elapsed.Milliseconds())
}

// FormatSize renders the body size in KB, or "-" when no response arrived
func FormatSize(res loader.Result) string {
	if res.Status == "" {
		return "-"
	}
	return fmt.Sprintf("%.1f KB", float64(res.Bytes)/1024)
}
