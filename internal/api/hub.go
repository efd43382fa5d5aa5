package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/livinlefevreloca/prewarm/internal/clock"
	"github.com/livinlefevreloca/prewarm/internal/loader"
	"github.com/livinlefevreloca/prewarm/internal/prefetch"
)

// Standard errors
var (
	// ErrPointNotFound is returned for a point that was never touched or was removed
	ErrPointNotFound = errors.New("api: point not found")
	ErrInvalidPoint  = errors.New("api: invalid point name")
	// ErrTooManyPoints is returned when the hub is full and every point is busy
	ErrTooManyPoints = errors.New("api: too many trigger points")
)

// LatencyRecorder receives click-to-ready samples
type LatencyRecorder interface {
	RecordOpenLatency(triggerID string, latency time.Duration)
}

// Hub owns one coordinator and trigger point per point name. A point name is
// "<target>" or "<target>:<client>", so clients hovering the same target do
// not cancel each other.
type Hub struct {
	config   prefetch.Config
	registry *loader.Registry
	clock    clock.Clock
	logger   *slog.Logger

	observers []prefetch.Observer
	latency   []LatencyRecorder

	mu     sync.Mutex
	points map[string]*point
	uses   uint64
	closed bool
}

type point struct {
	name        string
	target      string
	coordinator *prefetch.Coordinator
	trigger     *prefetch.TriggerPoint
	lastUsed    uint64
}

// idle reports whether the point can be dropped without losing work
func (p *point) idle() bool {
	if p.trigger.Open() {
		return false
	}
	switch p.trigger.Snapshot().Status {
	case prefetch.StatusScheduled, prefetch.StatusLoading:
		return false
	}
	return true
}

// PointView is the JSON rendering of a trigger point
type PointView struct {
	Point         string            `json:"point"`
	Target        string            `json:"target"`
	Open          bool              `json:"open"`
	OpenLatencyMs *int64            `json:"open_latency_ms,omitempty"`
	Snapshot      prefetch.Snapshot `json:"snapshot"`
}

// NewHub creates an empty hub
func NewHub(config prefetch.Config, registry *loader.Registry, clk clock.Clock, logger *slog.Logger) *Hub {
	return &Hub{
		config:   config,
		registry: registry,
		clock:    clk,
		logger:   logger,
		points:   make(map[string]*point),
	}
}

// Observe attaches observers to every coordinator created afterwards
func (h *Hub) Observe(observers ...prefetch.Observer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.observers = append(h.observers, observers...)
}

// RecordLatency sends click-to-ready samples of points created afterwards to r
func (h *Hub) RecordLatency(recorders ...LatencyRecorder) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.latency = append(h.latency, recorders...)
}

// ParsePoint splits a point name into its target ID and client
func ParsePoint(name string) (target, client string, err error) {
	target, client, _ = strings.Cut(name, ":")
	if target == "" {
		return "", "", fmt.Errorf("%w: empty target in %q", ErrInvalidPoint, name)
	}
	return target, client, nil
}

// Acquire returns the trigger point for name, creating and starting its
// coordinator on first use. When the hub holds max_points points the least
// recently used idle one is evicted to make room.
func (h *Hub) Acquire(name string) (*prefetch.TriggerPoint, error) {
	h.mu.Lock()
	trigger, evicted, err := h.acquireLocked(name)
	h.mu.Unlock()

	if evicted != nil {
		h.logger.Info("evicting idle trigger point", "point", evicted.name)
		ctx, cancel := context.WithTimeout(context.Background(), evictTimeout)
		defer cancel()
		if stopErr := evicted.coordinator.Stop(ctx); stopErr != nil {
			h.logger.Warn("failed to stop evicted trigger point",
				"point", evicted.name,
				"error", stopErr)
		}
	}
	return trigger, err
}

const evictTimeout = 5 * time.Second

func (h *Hub) acquireLocked(name string) (*prefetch.TriggerPoint, *point, error) {
	if h.closed {
		return nil, nil, prefetch.ErrStopped
	}
	h.uses++
	if p, ok := h.points[name]; ok {
		p.lastUsed = h.uses
		return p.trigger, nil, nil
	}

	targetID, _, err := ParsePoint(name)
	if err != nil {
		return nil, nil, err
	}
	spec, err := h.registry.Lookup(targetID)
	if err != nil {
		return nil, nil, err
	}
	target, err := h.registry.Target(targetID)
	if err != nil {
		return nil, nil, err
	}

	var evicted *point
	if len(h.points) >= h.config.MaxPoints {
		evicted = h.evictLocked()
		if evicted == nil {
			return nil, nil, fmt.Errorf("%w: %d points are busy", ErrTooManyPoints, len(h.points))
		}
	}

	logger := h.logger.With("point", name)
	coordinator, err := prefetch.NewCoordinator(h.config, h.clock, logger)
	if err != nil {
		return nil, evicted, fmt.Errorf("failed to create coordinator for %s: %w", name, err)
	}
	for _, o := range h.observers {
		coordinator.Observe(o)
	}

	delay := h.config.DefaultDelay
	if spec.Delay > 0 {
		delay = spec.Delay
	}

	recorders := append([]LatencyRecorder(nil), h.latency...)
	trigger := prefetch.NewTriggerPoint(coordinator, target, prefetch.TriggerPointOptions{
		PreloadDelay: delay,
		OnReady: func(latency time.Duration) {
			logger.Debug("trigger point ready", "latency", latency)
			for _, r := range recorders {
				r.RecordOpenLatency(targetID, latency)
			}
		},
	})
	coordinator.Start()

	h.points[name] = &point{
		name:        name,
		target:      targetID,
		coordinator: coordinator,
		trigger:     trigger,
		lastUsed:    h.uses,
	}
	logger.Info("trigger point created", "target", targetID, "delay", delay)
	return trigger, evicted, nil
}

// evictLocked removes the least recently used idle point, or returns nil
// when every point is busy
func (h *Hub) evictLocked() *point {
	var victim *point
	for _, p := range h.points {
		if !p.idle() {
			continue
		}
		if victim == nil || p.lastUsed < victim.lastUsed {
			victim = p
		}
	}
	if victim != nil {
		delete(h.points, victim.name)
	}
	return victim
}

// View renders an existing point
func (h *Hub) View(name string) (PointView, error) {
	h.mu.Lock()
	p, ok := h.points[name]
	h.mu.Unlock()
	if !ok {
		return PointView{}, ErrPointNotFound
	}
	return view(p), nil
}

func view(p *point) PointView {
	v := PointView{
		Point:    p.name,
		Target:   p.target,
		Open:     p.trigger.Open(),
		Snapshot: p.trigger.Snapshot(),
	}
	if latency, ok := p.trigger.OpenLatency(); ok {
		ms := latency.Milliseconds()
		v.OpenLatencyMs = &ms
	}
	return v
}

// Names returns the active point names in sorted order
func (h *Hub) Names() []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	names := make([]string, 0, len(h.points))
	for name := range h.points {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Remove stops a point's coordinator, cancelling anything in flight
func (h *Hub) Remove(ctx context.Context, name string) error {
	h.mu.Lock()
	p, ok := h.points[name]
	delete(h.points, name)
	h.mu.Unlock()

	if !ok {
		return ErrPointNotFound
	}
	h.logger.Info("removing trigger point", "point", name)
	return p.coordinator.Stop(ctx)
}

// Close stops every coordinator. Acquire fails afterwards.
func (h *Hub) Close(ctx context.Context) error {
	h.mu.Lock()
	h.closed = true
	points := h.points
	h.points = make(map[string]*point)
	h.mu.Unlock()

	var errs []error
	for name, p := range points {
		if err := p.coordinator.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}
