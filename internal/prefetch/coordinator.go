package prefetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/livinlefevreloca/prewarm/internal/clock"
	"github.com/livinlefevreloca/prewarm/internal/inbox"
)

// ErrInvalidTarget is returned when a target has no trigger
var ErrInvalidTarget = errors.New("prefetch: target has no trigger")

// Coordinator owns the lifecycle of one prefetch interaction: it arms a
// delayed load, starts it, and tracks it until it settles or is cancelled.
//
// Every state change happens on a single event loop fed by the inbox. Timer
// fires and load settlements carry the generation that was current when they
// were armed and are dropped when it no longer matches.
type Coordinator struct {
	// Configuration
	config Config
	clock  clock.Clock
	logger *slog.Logger

	// Communication
	inbox *inbox.Inbox[message]

	// Loop-owned state
	active     *activeRequest
	last       *Request
	generation uint64
	fired      bool // trigger invoked for the current interaction

	// Published state, read from other goroutines
	mu          sync.RWMutex
	snapshot    Snapshot
	observers   []Observer
	subscribers map[int]chan Snapshot
	nextSubID   int
	recorder    *StateRecorder

	// Control
	ctx      context.Context
	cancel   context.CancelFunc
	started  atomic.Bool
	stopOnce sync.Once
	wg       sync.WaitGroup // event loop
	loads    sync.WaitGroup // in-flight triggers
}

// activeRequest is the request currently owned by the loop
type activeRequest struct {
	req    Request
	state  State
	target Target
	timer  clock.Timer
	abort  context.CancelFunc
}

// NewCoordinator creates a coordinator with validated configuration
func NewCoordinator(config Config, clk clock.Clock, logger *slog.Logger) (*Coordinator, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		config:      config,
		clock:       clk,
		logger:      logger,
		inbox:       inbox.New[message](config.InboxBufferSize, config.InboxSendTimeout, logger),
		snapshot:    Snapshot{Status: StatusIdle},
		subscribers: make(map[int]chan Snapshot),
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// Observe registers an observer for request transitions
func (c *Coordinator) Observe(o Observer) {
	c.mu.Lock()
	defer c.mu.Unlock()

	observers := make([]Observer, len(c.observers), len(c.observers)+1)
	copy(observers, c.observers)
	c.observers = append(observers, o)
}

// SetRecorder attaches a state recorder (for testing)
func (c *Coordinator) SetRecorder(r *StateRecorder) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recorder = r
}

// Start launches the event loop
func (c *Coordinator) Start() {
	if !c.started.CompareAndSwap(false, true) {
		return
	}
	c.wg.Add(1)
	go c.run()
}

// Stop cancels any active request, stops the event loop and waits for
// in-flight triggers to return or ctx to end.
func (c *Coordinator) Stop(ctx context.Context) error {
	var stopErr error
	c.stopOnce.Do(func() {
		c.cancel()

		done := make(chan struct{})
		go func() {
			c.wg.Wait()
			c.loads.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-ctx.Done():
			stopErr = fmt.Errorf("prefetch: stop: %w", ctx.Err())
		}
	})
	return stopErr
}

// Schedule cancels whatever is active and arms target to load after delay.
// A negative delay is treated as zero; a zero delay still waits for the
// next turn of the event loop.
func (c *Coordinator) Schedule(target Target, delay time.Duration) error {
	if target.Load == nil {
		return ErrInvalidTarget
	}
	return c.call(MsgSchedule, scheduleMsg{Target: target, Delay: delay})
}

// Cancel disarms a pending timer or abandons an in-flight load. It is a
// no-op when nothing is scheduled or loading.
func (c *Coordinator) Cancel() error {
	return c.call(MsgCancel, nil)
}

// CommitNow starts loading target immediately unless its trigger already
// fired during this interaction.
func (c *Coordinator) CommitNow(target Target) error {
	if target.Load == nil {
		return ErrInvalidTarget
	}
	return c.call(MsgCommitNow, commitMsg{Target: target})
}

// Sync waits until every event delivered before the call has been handled
func (c *Coordinator) Sync() error {
	return c.call(MsgSync, nil)
}

// Snapshot returns the most recently published state
func (c *Coordinator) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot
}

// Subscribe returns a channel that receives the current snapshot followed by
// every published change. Slow readers only miss intermediate snapshots; the
// newest one is always delivered. The channel is closed on unsubscribe or Stop.
func (c *Coordinator) Subscribe(buffer int) (<-chan Snapshot, func()) {
	if buffer <= 0 {
		buffer = c.config.SubscriberBuffer
	}
	ch := make(chan Snapshot, buffer)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ctx.Err() != nil {
		close(ch)
		return ch, func() {}
	}

	id := c.nextSubID
	c.nextSubID++
	c.subscribers[id] = ch
	deliver(ch, c.snapshot)

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if sub, ok := c.subscribers[id]; ok {
				delete(c.subscribers, id)
				close(sub)
			}
		})
	}
}

// GetInboxStats returns inbox counters
func (c *Coordinator) GetInboxStats() inbox.Stats {
	return c.inbox.GetStats()
}

// call posts a caller operation and waits for the loop to handle it
func (c *Coordinator) call(t MessageType, data interface{}) error {
	if !c.started.Load() {
		return ErrNotStarted
	}
	if c.ctx.Err() != nil {
		return ErrStopped
	}

	reply := make(chan error, 1)
	if err := c.inbox.Send(c.ctx, message{Type: t, Data: data, Reply: reply}); err != nil {
		if c.ctx.Err() != nil {
			return ErrStopped
		}
		return fmt.Errorf("prefetch: deliver %s: %w", t, err)
	}

	select {
	case err := <-reply:
		return err
	case <-c.ctx.Done():
		select {
		case err := <-reply:
			return err
		default:
			return ErrStopped
		}
	}
}

// post delivers an internal event. Timer fires and settlements wait for room
// however long the loop is busy; only Stop drops them.
func (c *Coordinator) post(msg message) {
	if err := c.inbox.SendWait(c.ctx, msg); err != nil {
		c.logger.Debug("event dropped",
			"type", msg.Type.String(),
			"error", err)
	}
}

// run is the main event loop
func (c *Coordinator) run() {
	defer c.wg.Done()

	for {
		msg, err := c.inbox.Receive(c.ctx)
		if err != nil || c.ctx.Err() != nil {
			c.shutdown()
			return
		}
		err = c.handle(msg)
		if msg.Reply != nil {
			msg.Reply <- err
		}
	}
}

// handle routes one message to its handler
func (c *Coordinator) handle(msg message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("coordinator panic recovered",
				"type", msg.Type.String(),
				"panic", r)
			err = fmt.Errorf("prefetch: panic handling %s: %v", msg.Type, r)
		}
	}()

	switch msg.Type {
	case MsgSchedule:
		data, ok := msg.Data.(scheduleMsg)
		if !ok {
			return fmt.Errorf("prefetch: invalid %s payload %T", msg.Type, msg.Data)
		}
		c.handleSchedule(data.Target, data.Delay)

	case MsgCancel:
		c.handleCancel()

	case MsgCommitNow:
		data, ok := msg.Data.(commitMsg)
		if !ok {
			return fmt.Errorf("prefetch: invalid %s payload %T", msg.Type, msg.Data)
		}
		c.handleCommit(data.Target)

	case MsgTimerFired:
		data, ok := msg.Data.(timerFiredMsg)
		if !ok {
			return fmt.Errorf("prefetch: invalid %s payload %T", msg.Type, msg.Data)
		}
		c.handleTimerFired(data.Generation)

	case MsgLoadSettled:
		data, ok := msg.Data.(loadSettledMsg)
		if !ok {
			return fmt.Errorf("prefetch: invalid %s payload %T", msg.Type, msg.Data)
		}
		c.handleLoadSettled(data.Generation, data.Err)

	case MsgSync:

	default:
		c.logger.Error("unknown message type", "type", msg.Type.String())
		return fmt.Errorf("prefetch: unknown message type %d", msg.Type)
	}

	return nil
}

func (c *Coordinator) handleSchedule(target Target, delay time.Duration) {
	if delay < 0 {
		c.logger.Warn("negative prefetch delay clamped to zero",
			"trigger_id", target.ID,
			"delay", delay)
		delay = 0
	}

	c.retire("rescheduled")

	c.generation++
	c.fired = false
	now := c.clock.Now()

	idle := &IdleState{}
	a := &activeRequest{
		req: Request{
			ID:          uuid.NewString(),
			TriggerID:   target.ID,
			Status:      idle.Status(),
			Delay:       delay,
			ScheduledAt: &now,
		},
		state:  idle,
		target: target,
	}
	c.active = a
	c.transitionTo(a, idle.ToScheduled())

	generation := c.generation
	a.timer = c.clock.AfterFunc(delay, func() {
		c.post(message{Type: MsgTimerFired, Data: timerFiredMsg{Generation: generation}})
	})

	c.publish()
}

func (c *Coordinator) handleCancel() {
	if c.active == nil || c.active.req.Status.Terminal() {
		c.logger.Debug("cancel ignored, nothing in flight")
		return
	}
	c.cancelActive("cancelled")
	c.publish()
}

func (c *Coordinator) handleCommit(target Target) {
	a := c.active

	if a != nil && a.target.ID != target.ID {
		c.retire("superseded by commit")
		a = nil
	}

	if a != nil && c.fired {
		c.logger.Debug("commit ignored, load already started",
			"trigger_id", target.ID,
			"request_id", a.req.ID)
		return
	}

	if a != nil {
		if st, ok := a.state.(*ScheduledState); ok {
			// Promote the pending request; bumping the generation turns the
			// armed timer into a no-op even if it already fired.
			if a.timer != nil {
				a.timer.Stop()
			}
			c.generation++
			a.req.Committed = true
			c.startLoad(a, st.ToLoading())
			return
		}
		c.active = nil
	}

	c.generation++
	idle := &IdleState{}
	a = &activeRequest{
		req: Request{
			ID:        uuid.NewString(),
			TriggerID: target.ID,
			Status:    idle.Status(),
			Committed: true,
		},
		state:  idle,
		target: target,
	}
	c.active = a
	c.startLoad(a, idle.ToLoading())
}

func (c *Coordinator) handleTimerFired(generation uint64) {
	a := c.active
	if a == nil || generation != c.generation {
		c.logger.Debug("stale timer ignored", "generation", generation)
		return
	}

	st, ok := a.state.(*ScheduledState)
	if !ok {
		c.logger.Debug("timer fired outside scheduled state",
			"state", a.state.Name(),
			"request_id", a.req.ID)
		return
	}

	c.startLoad(a, st.ToLoading())
}

func (c *Coordinator) handleLoadSettled(generation uint64, loadErr error) {
	a := c.active
	if a == nil || generation != c.generation {
		c.logger.Debug("discarding settlement of abandoned load", "generation", generation)
		return
	}

	st, ok := a.state.(*LoadingState)
	if !ok {
		return
	}

	if a.abort != nil {
		a.abort()
		a.abort = nil
	}

	now := c.clock.Now()
	a.req.SettledAt = &now

	if loadErr != nil {
		failure := &LoadFailure{TriggerID: a.req.TriggerID, Err: loadErr}
		a.req.Outcome = OutcomeFailure
		a.req.Err = failure
		a.req.Error = failure.Error()
		c.logger.Warn("prefetch load failed",
			"trigger_id", a.req.TriggerID,
			"request_id", a.req.ID,
			"error", loadErr)
	} else {
		a.req.Outcome = OutcomeSuccess
		c.logger.Info("prefetch settled",
			"trigger_id", a.req.TriggerID,
			"request_id", a.req.ID,
			"duration", a.req.LoadDuration())
	}

	c.transitionTo(a, st.ToSettled())
	c.remember(a)
	c.publish()
}

// startLoad invokes the trigger on its own goroutine
func (c *Coordinator) startLoad(a *activeRequest, next *LoadingState) {
	ctx, abort := context.WithCancel(c.ctx)
	a.abort = abort
	c.fired = true

	now := c.clock.Now()
	a.req.StartedAt = &now
	c.transitionTo(a, next)
	c.publish()

	generation := c.generation
	load := a.target.Load
	c.loads.Add(1)
	go func() {
		defer c.loads.Done()
		err := invoke(ctx, load)
		c.post(message{Type: MsgLoadSettled, Data: loadSettledMsg{Generation: generation, Err: err}})
	}()
}

// invoke runs a trigger, turning a panic into an error
func invoke(ctx context.Context, load Trigger) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("trigger panicked: %v", r)
		}
	}()
	return load(ctx)
}

// retire clears the active request, cancelling it if still in flight
func (c *Coordinator) retire(reason string) {
	if c.active == nil {
		return
	}
	if c.active.req.Status.Terminal() {
		c.active = nil
		return
	}
	c.cancelActive(reason)
}

// cancelActive moves the active request to Cancelled and returns to idle
func (c *Coordinator) cancelActive(reason string) {
	a := c.active

	if a.timer != nil {
		a.timer.Stop()
	}
	if a.abort != nil {
		a.abort()
		a.abort = nil
	}
	c.generation++

	now := c.clock.Now()
	a.req.CancelledAt = &now
	a.req.Err = ErrCancelledBeforeSettle

	switch st := a.state.(type) {
	case *ScheduledState:
		c.transitionTo(a, st.ToCancelled())
	case *LoadingState:
		c.transitionTo(a, st.ToCancelled())
	default:
		c.logger.Error("cancel from non-cancellable state",
			"state", a.state.Name(),
			"request_id", a.req.ID)
		return
	}

	c.logger.Info("prefetch cancelled",
		"trigger_id", a.req.TriggerID,
		"request_id", a.req.ID,
		"reason", reason)

	c.remember(a)
	c.active = nil
	c.fired = false
}

func (c *Coordinator) remember(a *activeRequest) {
	req := a.req
	c.last = &req
}

// transitionTo performs a state transition, records it and notifies observers
func (c *Coordinator) transitionTo(a *activeRequest, next State) {
	from := a.req.Status
	a.state = next
	a.req.Status = next.Status()

	c.mu.RLock()
	recorder := c.recorder
	observers := c.observers
	c.mu.RUnlock()

	if recorder != nil {
		recorder.Record(next)
	}

	c.logger.Debug("state transition",
		"from", from.String(),
		"to", next.Name(),
		"trigger_id", a.req.TriggerID,
		"request_id", a.req.ID)

	for _, o := range observers {
		o.OnTransition(a.req, from, next.Status())
	}
}

// publish rebuilds the snapshot and fans it out to subscribers
func (c *Coordinator) publish() {
	s := Snapshot{Status: StatusIdle}
	if a := c.active; a != nil {
		current := a.req
		s.Status = current.Status
		s.IsPreloading = current.Status == StatusLoading
		s.Current = &current
	}
	if c.last != nil {
		last := *c.last
		s.Last = &last
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.snapshot = s
	for _, ch := range c.subscribers {
		deliver(ch, s)
	}
}

// shutdown cancels whatever is active and closes subscriber channels
func (c *Coordinator) shutdown() {
	if c.active != nil && !c.active.req.Status.Terminal() {
		c.cancelActive("coordinator stopped")
		c.publish()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for id, ch := range c.subscribers {
		delete(c.subscribers, id)
		close(ch)
	}
	c.logger.Debug("coordinator stopped")
}

// deliver sends s without blocking, replacing the oldest queued snapshot
// when the channel is full
func deliver(ch chan Snapshot, s Snapshot) {
	select {
	case ch <- s:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- s:
	default:
	}
}
