package prefetch

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Status represents the lifecycle position of a prefetch request
type Status int

const (
	StatusIdle      Status = iota // Nothing armed
	StatusScheduled               // Delay timer armed, load not started
	StatusLoading                 // Trigger invoked, waiting for settlement

	// Terminal states
	StatusSettled   // Load finished (success or failure)
	StatusCancelled // Cancelled while scheduled or loading
)

// String returns a human-readable representation of the status
func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusScheduled:
		return "scheduled"
	case StatusLoading:
		return "loading"
	case StatusSettled:
		return "settled"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Terminal reports whether no further transition is possible
func (s Status) Terminal() bool {
	return s == StatusSettled || s == StatusCancelled
}

// Outcome records how a settled load ended
type Outcome int

const (
	OutcomeNone Outcome = iota
	OutcomeSuccess
	OutcomeFailure
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeFailure:
		return "failure"
	default:
		return "none"
	}
}

func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// Trigger begins loading a resource and blocks until the load settles.
// Implementations should return promptly once ctx is cancelled.
type Trigger func(ctx context.Context) error

// Target pairs a trigger with the identifier of the resource it loads
type Target struct {
	ID   string
	Load Trigger
}

// Request is one armed prefetch and everything that happened to it
type Request struct {
	ID          string        `json:"id"`
	TriggerID   string        `json:"trigger_id"`
	Status      Status        `json:"status"`
	Delay       time.Duration `json:"delay"`
	ScheduledAt *time.Time    `json:"scheduled_at,omitempty"`
	StartedAt   *time.Time    `json:"started_at,omitempty"`
	SettledAt   *time.Time    `json:"settled_at,omitempty"`
	CancelledAt *time.Time    `json:"cancelled_at,omitempty"`
	Committed   bool          `json:"committed"`
	Outcome     Outcome       `json:"outcome"`
	Error       string        `json:"error,omitempty"`
	Err         error         `json:"-"`
}

// LoadDuration returns how long the load ran, or zero if it never finished
func (r Request) LoadDuration() time.Duration {
	if r.StartedAt == nil {
		return 0
	}
	switch {
	case r.SettledAt != nil:
		return r.SettledAt.Sub(*r.StartedAt)
	case r.CancelledAt != nil:
		return r.CancelledAt.Sub(*r.StartedAt)
	}
	return 0
}

// Snapshot is the state a UI binding renders
type Snapshot struct {
	Status       Status   `json:"status"`
	IsPreloading bool     `json:"is_preloading"`
	Current      *Request `json:"current,omitempty"`
	Last         *Request `json:"last,omitempty"`
}

// Observer is told about every request transition. Calls happen on the
// coordinator's event loop and must not call back into the coordinator.
type Observer interface {
	OnTransition(req Request, from, to Status)
}

// ObserverFunc adapts a function to the Observer interface
type ObserverFunc func(req Request, from, to Status)

func (f ObserverFunc) OnTransition(req Request, from, to Status) {
	f(req, from, to)
}

// Standard errors
var (
	ErrNotStarted = errors.New("prefetch: coordinator not started")
	ErrStopped    = errors.New("prefetch: coordinator stopped")

	// ErrCancelledBeforeSettle marks requests that were cancelled; it is
	// informational and never returned from an operation.
	ErrCancelledBeforeSettle = errors.New("prefetch: cancelled before settle")
)

// LoadFailure wraps the error a trigger settled with
type LoadFailure struct {
	TriggerID string
	Err       error
}

func (e *LoadFailure) Error() string {
	return fmt.Sprintf("prefetch: load %s failed: %v", e.TriggerID, e.Err)
}

func (e *LoadFailure) Unwrap() error {
	return e.Err
}
