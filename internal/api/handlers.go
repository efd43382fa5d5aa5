package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/livinlefevreloca/prewarm/internal/db"
	"github.com/livinlefevreloca/prewarm/internal/loader"
	"github.com/livinlefevreloca/prewarm/internal/monitor"
	"github.com/livinlefevreloca/prewarm/internal/prefetch"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 1000
)

// HistoryStore reads persisted finished requests
type HistoryStore interface {
	ListPrefetchRequests(triggerID string, limit int) ([]db.PrefetchRequest, error)
}

// StatsSource exposes the open stats period
type StatsSource interface {
	Current() db.PrefetchStats
}

// Options wires the router to its backing components. History and Stats
// may be nil when disabled.
type Options struct {
	Hub      *Hub
	Registry *loader.Registry
	Monitor  *monitor.Monitor
	History  HistoryStore
	Stats    StatsSource
	Logger   *slog.Logger
}

// Handler serves the trigger point, monitor and history endpoints
type Handler struct {
	opts Options
}

// NewHandler creates a handler
func NewHandler(opts Options) *Handler {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Handler{opts: opts}
}

// HistoryEntry is the JSON rendering of a persisted request
type HistoryEntry struct {
	ID          string     `json:"id"`
	TriggerID   string     `json:"trigger_id"`
	Status      string     `json:"status"`
	DelayMs     int64      `json:"delay_ms"`
	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	SettledAt   *time.Time `json:"settled_at,omitempty"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
	Committed   bool       `json:"committed"`
	Outcome     string     `json:"outcome"`
	Error       string     `json:"error,omitempty"`
	RecordedAt  time.Time  `json:"recorded_at"`
}

func toHistoryEntry(r db.PrefetchRequest) HistoryEntry {
	e := HistoryEntry{
		ID:          r.ID,
		TriggerID:   r.TriggerID,
		Status:      r.Status,
		DelayMs:     r.DelayMs,
		ScheduledAt: r.ScheduledAt,
		StartedAt:   r.StartedAt,
		SettledAt:   r.SettledAt,
		CancelledAt: r.CancelledAt,
		Committed:   r.Committed,
		Outcome:     r.Outcome,
		RecordedAt:  r.RecordedAt,
	}
	if r.Error != nil {
		e.Error = *r.Error
	}
	return e
}

// Health reports liveness
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, HealthyResponse(map[string]interface{}{
		"service": "prewarm",
		"points":  len(h.opts.Hub.Names()),
	}))
}

// HoverStart begins warming the point's target
func (h *Handler) HoverStart(w http.ResponseWriter, r *http.Request) {
	h.pointAction(w, r, (*prefetch.TriggerPoint).HoverStart)
}

// HoverEnd cancels a pending warm-up
func (h *Handler) HoverEnd(w http.ResponseWriter, r *http.Request) {
	h.pointAction(w, r, (*prefetch.TriggerPoint).HoverEnd)
}

// Click commits the load and opens the point
func (h *Handler) Click(w http.ResponseWriter, r *http.Request) {
	h.pointAction(w, r, (*prefetch.TriggerPoint).Click)
}

// Close closes the point
func (h *Handler) Close(w http.ResponseWriter, r *http.Request) {
	h.pointAction(w, r, func(tp *prefetch.TriggerPoint) error {
		tp.Close()
		return nil
	})
}

func (h *Handler) pointAction(w http.ResponseWriter, r *http.Request, action func(*prefetch.TriggerPoint) error) {
	name := chi.URLParam(r, "point")

	tp, err := h.opts.Hub.Acquire(name)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if err := action(tp); err != nil {
		h.writeError(w, err)
		return
	}

	v, err := h.opts.Hub.View(name)
	if err != nil {
		h.writeError(w, err)
		return
	}
	JSON(w, http.StatusOK, OKResponse(v))
}

// ListPoints returns the active point names
func (h *Handler) ListPoints(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, OKResponse(h.opts.Hub.Names()))
}

// GetPoint returns a point's snapshot
func (h *Handler) GetPoint(w http.ResponseWriter, r *http.Request) {
	v, err := h.opts.Hub.View(chi.URLParam(r, "point"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	JSON(w, http.StatusOK, OKResponse(v))
}

// DeletePoint stops a point's coordinator
func (h *Handler) DeletePoint(w http.ResponseWriter, r *http.Request) {
	if err := h.opts.Hub.Remove(r.Context(), chi.URLParam(r, "point")); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListTargets returns the configured targets
func (h *Handler) ListTargets(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, OKResponse(h.opts.Registry.Specs()))
}

// Monitor returns the request monitor log
func (h *Handler) Monitor(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, OKResponse(map[string]interface{}{
		"title":   h.opts.Monitor.Title(),
		"entries": h.opts.Monitor.Entries(),
	}))
}

// ResetMonitor clears the monitor log
func (h *Handler) ResetMonitor(w http.ResponseWriter, r *http.Request) {
	h.opts.Monitor.Reset()
	w.WriteHeader(http.StatusNoContent)
}

// History returns persisted finished requests, newest first
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	if h.opts.History == nil {
		JSON(w, http.StatusServiceUnavailable, ErrorResponse("history is disabled"))
		return
	}

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			JSON(w, http.StatusBadRequest, ErrorResponse("limit must be a positive integer"))
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	rows, err := h.opts.History.ListPrefetchRequests(r.URL.Query().Get("trigger"), limit)
	if err != nil {
		h.writeError(w, err)
		return
	}

	entries := make([]HistoryEntry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, toHistoryEntry(row))
	}
	JSON(w, http.StatusOK, OKResponse(entries))
}

// Stats returns the open stats period
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	if h.opts.Stats == nil {
		JSON(w, http.StatusServiceUnavailable, ErrorResponse("stats are disabled"))
		return
	}
	JSON(w, http.StatusOK, OKResponse(h.opts.Stats.Current()))
}

// writeError maps package errors onto status codes
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrPointNotFound), errors.Is(err, loader.ErrUnknownTarget):
		JSON(w, http.StatusNotFound, ErrorResponse(err.Error()))
	case errors.Is(err, ErrInvalidPoint):
		JSON(w, http.StatusBadRequest, ErrorResponse(err.Error()))
	case errors.Is(err, prefetch.ErrStopped):
		JSON(w, http.StatusConflict, ErrorResponse(err.Error()))
	case errors.Is(err, ErrTooManyPoints):
		JSON(w, http.StatusTooManyRequests, ErrorResponse(err.Error()))
	default:
		h.opts.Logger.Error("request failed", "error", err)
		JSON(w, http.StatusInternalServerError, ErrorResponse("internal error"))
	}
}
