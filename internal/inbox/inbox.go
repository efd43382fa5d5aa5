package inbox

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"
)

// ErrTimeout is returned when a send could not be delivered within the inbox timeout
var ErrTimeout = errors.New("inbox: send timeout")

// Inbox provides a generic typed interface for message channels with timeout support
// T is the message type that will be sent through the inbox
type Inbox[T any] struct {
	ch      chan T
	timeout time.Duration
	logger  *slog.Logger
	stats   *Stats
}

// Stats tracks inbox usage
type Stats struct {
	TotalSent     int64
	TotalReceived int64
	TimeoutCount  int64
	MaxDepthSeen  int64
}

// New creates a new inbox with the specified buffer size and timeout
func New[T any](bufferSize int, timeout time.Duration, logger *slog.Logger) *Inbox[T] {
	return &Inbox[T]{
		ch:      make(chan T, bufferSize),
		timeout: timeout,
		logger:  logger,
		stats:   &Stats{},
	}
}

// Send delivers msg, giving up after the inbox timeout or when ctx is done.
// The channel is never closed, so late senders after shutdown only ever
// block until their context ends.
func (ib *Inbox[T]) Send(ctx context.Context, msg T) error {
	timer := time.NewTimer(ib.timeout)
	defer timer.Stop()

	select {
	case ib.ch <- msg:
		atomic.AddInt64(&ib.stats.TotalSent, 1)
		ib.observeDepth()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		atomic.AddInt64(&ib.stats.TimeoutCount, 1)
		ib.logger.Warn("inbox send timeout",
			"timeout", ib.timeout,
			"current_depth", len(ib.ch))
		return ErrTimeout
	}
}

// SendWait delivers msg, blocking until there is room or ctx is done. It is
// for events that must not be lost to a full inbox.
func (ib *Inbox[T]) SendWait(ctx context.Context, msg T) error {
	select {
	case ib.ch <- msg:
		atomic.AddInt64(&ib.stats.TotalSent, 1)
		ib.observeDepth()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryReceive attempts to receive a message without blocking
// Returns the message and true if available, zero value and false otherwise
func (ib *Inbox[T]) TryReceive() (T, bool) {
	select {
	case msg := <-ib.ch:
		atomic.AddInt64(&ib.stats.TotalReceived, 1)
		return msg, true
	default:
		var zero T
		return zero, false
	}
}

// Receive blocks until a message is available or ctx is done
func (ib *Inbox[T]) Receive(ctx context.Context) (T, error) {
	select {
	case msg := <-ib.ch:
		atomic.AddInt64(&ib.stats.TotalReceived, 1)
		return msg, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

func (ib *Inbox[T]) observeDepth() {
	depth := int64(len(ib.ch))
	for {
		seen := atomic.LoadInt64(&ib.stats.MaxDepthSeen)
		if depth <= seen || atomic.CompareAndSwapInt64(&ib.stats.MaxDepthSeen, seen, depth) {
			return
		}
	}
}

// GetStats returns a copy of the current inbox statistics
func (ib *Inbox[T]) GetStats() Stats {
	return Stats{
		TotalSent:     atomic.LoadInt64(&ib.stats.TotalSent),
		TotalReceived: atomic.LoadInt64(&ib.stats.TotalReceived),
		TimeoutCount:  atomic.LoadInt64(&ib.stats.TimeoutCount),
		MaxDepthSeen:  atomic.LoadInt64(&ib.stats.MaxDepthSeen),
	}
}

// Len returns the current number of messages in the inbox
func (ib *Inbox[T]) Len() int {
	return len(ib.ch)
}
