package prefetch

import (
	"sync"
	"time"

	"github.com/livinlefevreloca/prewarm/internal/ownership"
)

// TriggerPointOptions configures how pointer events map onto a coordinator
type TriggerPointOptions struct {
	// Delay between hover and load start
	PreloadDelay time.Duration

	// Open state; internal and initially closed when nil
	Open *ownership.Value[bool]

	// Optional hooks, run after the corresponding operation
	OnHoverStart func()
	OnHoverEnd   func()
	OnClick      func()

	// OnReady receives the time from click to settlement. It may run on the
	// coordinator's event loop.
	OnReady func(latency time.Duration)
}

// TriggerPoint binds hover, leave and click events for one target: hover
// warms the target after a delay, leave cancels, click commits and opens.
type TriggerPoint struct {
	coordinator *Coordinator
	target      Target
	opts        TriggerPointOptions
	open        *ownership.Value[bool]

	mu          sync.Mutex
	clickedAt   *time.Time
	openLatency time.Duration
	hasLatency  bool
}

// NewTriggerPoint creates a trigger point and registers it as an observer
// of c. c should not be shared with other trigger points.
func NewTriggerPoint(c *Coordinator, target Target, opts TriggerPointOptions) *TriggerPoint {
	open := opts.Open
	if open == nil {
		open = ownership.Internal(false, nil)
	}

	tp := &TriggerPoint{
		coordinator: c,
		target:      target,
		opts:        opts,
		open:        open,
	}
	c.Observe(ObserverFunc(tp.onTransition))
	return tp
}

// HoverStart schedules the target after the preload delay. It does not
// reschedule while the point is open.
func (tp *TriggerPoint) HoverStart() error {
	if !tp.open.Get() {
		if err := tp.coordinator.Schedule(tp.target, tp.opts.PreloadDelay); err != nil {
			return err
		}
	}
	if tp.opts.OnHoverStart != nil {
		tp.opts.OnHoverStart()
	}
	return nil
}

// HoverEnd cancels the pending or in-flight load. Once the point has been
// clicked open the committed load is left alone.
func (tp *TriggerPoint) HoverEnd() error {
	if !tp.open.Get() {
		if err := tp.coordinator.Cancel(); err != nil {
			return err
		}
	}
	if tp.opts.OnHoverEnd != nil {
		tp.opts.OnHoverEnd()
	}
	return nil
}

// Click commits the load and opens the point
func (tp *TriggerPoint) Click() error {
	clickedAt := tp.coordinator.clock.Now()
	tp.mu.Lock()
	tp.clickedAt = &clickedAt
	tp.mu.Unlock()

	if err := tp.coordinator.CommitNow(tp.target); err != nil {
		return err
	}
	tp.open.Set(true)

	// Already warm: the settlement happened before the click.
	snap := tp.coordinator.Snapshot()
	if cur := snap.Current; cur != nil && cur.TriggerID == tp.target.ID && cur.Status == StatusSettled {
		tp.ready(tp.coordinator.clock.Now())
	}

	if tp.opts.OnClick != nil {
		tp.opts.OnClick()
	}
	return nil
}

// Close closes the point
func (tp *TriggerPoint) Close() {
	tp.open.Set(false)
}

// Open reports whether the point is open
func (tp *TriggerPoint) Open() bool {
	return tp.open.Get()
}

// OpenLatency returns the click-to-ready time of the last click, if known
func (tp *TriggerPoint) OpenLatency() (time.Duration, bool) {
	tp.mu.Lock()
	defer tp.mu.Unlock()
	return tp.openLatency, tp.hasLatency
}

func (tp *TriggerPoint) Target() Target {
	return tp.target
}

func (tp *TriggerPoint) Snapshot() Snapshot {
	return tp.coordinator.Snapshot()
}

func (tp *TriggerPoint) onTransition(req Request, _, to Status) {
	if to != StatusSettled || req.TriggerID != tp.target.ID || req.SettledAt == nil {
		return
	}
	tp.ready(*req.SettledAt)
}

func (tp *TriggerPoint) ready(at time.Time) {
	tp.mu.Lock()
	if tp.clickedAt == nil {
		tp.mu.Unlock()
		return
	}
	latency := at.Sub(*tp.clickedAt)
	if latency < 0 {
		latency = 0
	}
	tp.clickedAt = nil
	tp.openLatency = latency
	tp.hasLatency = true
	tp.mu.Unlock()

	if tp.opts.OnReady != nil {
		tp.opts.OnReady(latency)
	}
}
