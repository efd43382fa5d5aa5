package stats

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/livinlefevreloca/prewarm/internal/clock"
	"github.com/livinlefevreloca/prewarm/internal/db"
	"github.com/livinlefevreloca/prewarm/internal/inbox"
	"github.com/livinlefevreloca/prewarm/internal/prefetch"
)

// StatsCollector aggregates prefetch activity into periods and writes each
// closed period to the database. It is a prefetch.Observer.
type StatsCollector struct {
	db     DatabaseWriter
	inbox  *inbox.Inbox[StatsMessage]
	config Config
	clock  clock.Clock
	logger *slog.Logger

	// Guards the open period
	mu              sync.Mutex
	currentPeriod   string
	periodStartTime time.Time
	prefetchStats   *PrefetchStatsAccumulator
	messageCount    int

	cancel   context.CancelFunc
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewStatsCollector creates a collector whose first period starts now
func NewStatsCollector(config Config, db DatabaseWriter, clk clock.Clock, logger *slog.Logger) (*StatsCollector, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	now := clk.Now()
	return &StatsCollector{
		db:              db,
		inbox:           inbox.New[StatsMessage](config.InboxBufferSize, config.InboxSendTimeout, logger),
		config:          config,
		clock:           clk,
		logger:          logger,
		currentPeriod:   generatePeriodID(now),
		periodStartTime: now,
		prefetchStats:   &PrefetchStatsAccumulator{},
		cancel:          func() {},
	}, nil
}

// Start launches the collection loop
func (sc *StatsCollector) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	sc.cancel = cancel

	sc.logger.Info("starting stats collector",
		"flush_interval", sc.config.FlushInterval,
		"period", sc.config.PeriodDuration)

	sc.wg.Add(1)
	go sc.run(ctx)
}

// Stop ends the loop, folds in anything still queued and writes the open
// period. Calls after the first return nil.
func (sc *StatsCollector) Stop() error {
	var stopErr error
	sc.stopOnce.Do(func() {
		sc.cancel()
		sc.wg.Wait()

		drained := 0
		for msg, ok := sc.inbox.TryReceive(); ok; msg, ok = sc.inbox.TryReceive() {
			sc.processMessage(msg)
			drained++
		}

		if err := sc.Flush(); err != nil {
			sc.logger.Error("final stats flush failed", "drained", drained, "error", err)
			stopErr = err
			return
		}
		sc.logger.Info("stats collector stopped", "drained", drained)
	})
	return stopErr
}

// Send sends a stats message to the collector, giving up after the inbox timeout
func (sc *StatsCollector) Send(ctx context.Context, msg StatsMessage) error {
	return sc.inbox.Send(ctx, msg)
}

// OnTransition forwards a request transition to the collector
func (sc *StatsCollector) OnTransition(req prefetch.Request, from, to prefetch.Status) {
	err := sc.Send(context.Background(), StatsMessage{
		Source:    StatsSourceTransition,
		Timestamp: sc.clock.Now(),
		Data: &TransitionData{
			TriggerID:    req.TriggerID,
			From:         from,
			To:           to,
			Committed:    req.Committed,
			Outcome:      req.Outcome,
			LoadDuration: req.LoadDuration(),
		},
	})
	if err != nil {
		sc.logger.Warn("dropped transition stats", "trigger_id", req.TriggerID, "error", err)
	}
}

// RecordOpenLatency forwards a click-to-ready sample to the collector
func (sc *StatsCollector) RecordOpenLatency(triggerID string, latency time.Duration) {
	err := sc.Send(context.Background(), StatsMessage{
		Source:    StatsSourceOpenLatency,
		Timestamp: sc.clock.Now(),
		Data:      &OpenLatencyData{TriggerID: triggerID, Latency: latency},
	})
	if err != nil {
		sc.logger.Warn("dropped open latency stats", "trigger_id", triggerID, "error", err)
	}
}

// Current returns the open period as it would be written now
func (sc *StatsCollector) Current() db.PrefetchStats {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return *ToRow(sc.currentPeriod, sc.periodStartTime, sc.clock.Now(), sc.prefetchStats)
}

// Processed returns the number of messages folded into the open period
func (sc *StatsCollector) Processed() int {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.messageCount
}

// run receives messages until ctx is cancelled. Each receive is bounded by
// the next interval flush so quiet collectors still close their periods.
func (sc *StatsCollector) run(ctx context.Context) {
	defer sc.wg.Done()

	nextFlush := time.Now().Add(sc.config.FlushInterval)
	for {
		waitCtx, cancel := context.WithDeadline(ctx, nextFlush)
		msg, err := sc.inbox.Receive(waitCtx)
		cancel()

		if ctx.Err() != nil {
			return
		}
		if err != nil {
			sc.flushLogged("interval")
			nextFlush = time.Now().Add(sc.config.FlushInterval)
			continue
		}

		sc.processMessage(msg)
		if reason := sc.flushReason(); reason != "" {
			sc.flushLogged(reason)
		}
	}
}

func (sc *StatsCollector) flushReason() string {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	switch {
	case sc.messageCount >= sc.config.FlushThreshold:
		return "threshold"
	case sc.clock.Now().Sub(sc.periodStartTime) >= sc.config.PeriodDuration:
		return "period"
	}
	return ""
}

func (sc *StatsCollector) flushLogged(reason string) {
	if err := sc.Flush(); err != nil {
		sc.logger.Error("stats flush failed", "reason", reason, "error", err)
	}
}

// processMessage routes a message to the accumulator
func (sc *StatsCollector) processMessage(msg StatsMessage) {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	switch msg.Source {
	case StatsSourceTransition:
		data, ok := msg.Data.(*TransitionData)
		if !ok {
			sc.logger.Error("invalid transition stats data type")
			return
		}
		sc.prefetchStats.Add(data)

	case StatsSourceOpenLatency:
		data, ok := msg.Data.(*OpenLatencyData)
		if !ok {
			sc.logger.Error("invalid open latency stats data type")
			return
		}
		sc.prefetchStats.AddOpenLatency(data)

	default:
		sc.logger.Error("unknown stats source", "source", msg.Source)
		return
	}

	sc.messageCount++
}

// Flush writes the open period to the database and starts a new one. On a
// write error the period stays open and is retried on the next flush.
func (sc *StatsCollector) Flush() error {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if sc.messageCount == 0 || sc.prefetchStats.Empty() {
		return nil
	}

	periodEnd := sc.clock.Now()
	if err := sc.db.WritePrefetchStats(sc.currentPeriod, sc.periodStartTime, periodEnd, sc.prefetchStats); err != nil {
		return fmt.Errorf("write prefetch stats failed: %w", err)
	}

	written := sc.messageCount
	sc.prefetchStats.Reset()
	sc.messageCount = 0
	sc.currentPeriod = generatePeriodID(periodEnd)
	sc.periodStartTime = periodEnd

	sc.logger.Debug("stats period written", "messages", written, "next_period", sc.currentPeriod)
	return nil
}

// generatePeriodID generates a unique period ID prefixed by its start time
func generatePeriodID(t time.Time) string {
	return fmt.Sprintf("period-%d-%s", t.Unix(), uuid.NewString()[:8])
}

func calculateMinMaxAvgDuration(values []time.Duration) (lo, hi, avg time.Duration) {
	if len(values) == 0 {
		return 0, 0, 0
	}

	var sum time.Duration
	for _, v := range values {
		sum += v
	}
	return slices.Min(values), slices.Max(values), sum / time.Duration(len(values))
}
