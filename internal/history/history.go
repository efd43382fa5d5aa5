package history

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/livinlefevreloca/prewarm/internal/db"
	"github.com/livinlefevreloca/prewarm/internal/prefetch"
)

// Writer persists batches of finished requests
type Writer interface {
	CreatePrefetchRequests(reqs []*db.PrefetchRequest) error
}

// Recorder buffers finished prefetch requests and writes them in batches on
// a background goroutine. It is a prefetch.Observer.
type Recorder struct {
	// Configuration
	config Config
	writer Writer
	logger *slog.Logger

	// Buffering
	mu        sync.Mutex
	buffer    []*db.PrefetchRequest
	lastFlush time.Time
	closed    bool
	batches   chan []*db.PrefetchRequest

	// Counters
	written int
	failed  int
	dropped int

	// Control
	shutdown chan struct{}
	wg       sync.WaitGroup
}

// NewRecorder creates a recorder with validated configuration
func NewRecorder(config Config, writer Writer, logger *slog.Logger) (*Recorder, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &Recorder{
		config:    config,
		writer:    writer,
		logger:    logger,
		buffer:    make([]*db.PrefetchRequest, 0),
		lastFlush: time.Now(),
		batches:   make(chan []*db.PrefetchRequest, config.ChannelSize),
		shutdown:  make(chan struct{}),
	}, nil
}

// OnTransition buffers requests as they reach a terminal state
func (r *Recorder) OnTransition(req prefetch.Request, _, to prefetch.Status) {
	if !to.Terminal() {
		return
	}
	if err := r.Buffer(ToRecord(req)); err != nil {
		r.logger.Warn("failed to buffer prefetch request",
			"request_id", req.ID,
			"error", err)
	}
}

// Buffer adds a record and flushes once the threshold is reached. When the
// buffer is full the oldest record is dropped.
func (r *Recorder) Buffer(rec *db.PrefetchRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return fmt.Errorf("history recorder is shut down")
	}

	r.buffer = append(r.buffer, rec)
	if len(r.buffer) > r.config.MaxBuffered {
		r.buffer = r.buffer[1:]
		r.dropped++
		r.logger.Warn("history buffer full, dropped oldest request",
			"max_buffered", r.config.MaxBuffered)
	}

	if len(r.buffer) >= r.config.FlushThreshold {
		return r.flushLocked()
	}
	return nil
}

// Flush hands the buffered records to the writer goroutine
func (r *Recorder) Flush() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.flushLocked()
}

func (r *Recorder) flushLocked() error {
	if len(r.buffer) == 0 || r.closed {
		return nil
	}

	select {
	case r.batches <- r.buffer:
	default:
		return fmt.Errorf("history channel full, %d requests buffered", len(r.buffer))
	}

	r.buffer = make([]*db.PrefetchRequest, 0)
	r.lastFlush = time.Now()
	return nil
}

// Start launches the writer and the periodic flush
func (r *Recorder) Start() {
	r.wg.Add(2)
	go r.runWriter()
	go r.runFlusher()
}

// runWriter writes batches until the channel is closed and drained
func (r *Recorder) runWriter() {
	defer r.wg.Done()

	for batch := range r.batches {
		err := r.writer.CreatePrefetchRequests(batch)

		r.mu.Lock()
		if err != nil {
			r.failed += len(batch)
		} else {
			r.written += len(batch)
		}
		r.mu.Unlock()

		if err != nil {
			r.logger.Error("failed to write prefetch requests",
				"count", len(batch),
				"error", err)
		} else {
			r.logger.Debug("wrote prefetch requests", "count", len(batch))
		}
	}

	r.logger.Debug("history writer shut down")
}

// runFlusher flushes on the configured interval so quiet periods still persist
func (r *Recorder) runFlusher() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.shutdown:
			return
		case <-ticker.C:
			if err := r.Flush(); err != nil {
				r.logger.Warn("interval flush failed", "error", err)
			}
		}
	}
}

// Shutdown flushes what is buffered and waits for it to be written
func (r *Recorder) Shutdown() error {
	r.logger.Info("starting history shutdown")

	// Stop the periodic flush first so nothing races the final one
	select {
	case <-r.shutdown:
	default:
		close(r.shutdown)
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return fmt.Errorf("history recorder already shut down")
	}
	r.closed = true
	final := r.buffer
	r.buffer = make([]*db.PrefetchRequest, 0)
	r.mu.Unlock()

	// The final batch may block until the writer drains; the writer needs the
	// mutex, so send without holding it
	r.logger.Debug("performing final flush", "requests", len(final))
	if len(final) > 0 {
		r.batches <- final
	}
	close(r.batches)

	r.wg.Wait()
	r.logger.Info("history shutdown complete")
	return nil
}

// GetStats returns current recorder statistics
func (r *Recorder) GetStats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Stats{
		Buffered:  len(r.buffer),
		Written:   r.written,
		Failed:    r.failed,
		Dropped:   r.dropped,
		LastFlush: r.lastFlush,
	}
}

// ToRecord converts a finished request into its database row. Timestamps are
// stored in UTC.
func ToRecord(req prefetch.Request) *db.PrefetchRequest {
	rec := &db.PrefetchRequest{
		ID:          req.ID,
		TriggerID:   req.TriggerID,
		Status:      req.Status.String(),
		DelayMs:     req.Delay.Milliseconds(),
		ScheduledAt: utc(req.ScheduledAt),
		StartedAt:   utc(req.StartedAt),
		SettledAt:   utc(req.SettledAt),
		CancelledAt: utc(req.CancelledAt),
		Committed:   req.Committed,
		Outcome:     req.Outcome.String(),
	}

	if req.Error != "" {
		msg := req.Error
		rec.Error = &msg
	} else if req.Err != nil {
		msg := req.Err.Error()
		rec.Error = &msg
	}

	switch {
	case rec.SettledAt != nil:
		rec.RecordedAt = *rec.SettledAt
	case rec.CancelledAt != nil:
		rec.RecordedAt = *rec.CancelledAt
	default:
		rec.RecordedAt = time.Now().UTC()
	}
	return rec
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
