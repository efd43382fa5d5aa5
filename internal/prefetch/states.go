package prefetch

import "sync"

// State is the interface that all request states implement. Legal
// transitions are the ToX methods each concrete state exposes.
type State interface {
	Name() string
	Status() Status
}

// IdleState - created, nothing armed yet
type IdleState struct{}

func (s *IdleState) Name() string   { return "idle" }
func (s *IdleState) Status() Status { return StatusIdle }
func (s *IdleState) ToScheduled() *ScheduledState {
	return &ScheduledState{}
}

// ToLoading skips the delay; used when a commit arrives before any schedule
func (s *IdleState) ToLoading() *LoadingState {
	return &LoadingState{}
}

// ScheduledState - delay timer armed
type ScheduledState struct{}

func (s *ScheduledState) Name() string   { return "scheduled" }
func (s *ScheduledState) Status() Status { return StatusScheduled }
func (s *ScheduledState) ToLoading() *LoadingState {
	return &LoadingState{}
}
func (s *ScheduledState) ToCancelled() *CancelledState {
	return &CancelledState{}
}

// LoadingState - trigger invoked, waiting for settlement
type LoadingState struct{}

func (s *LoadingState) Name() string   { return "loading" }
func (s *LoadingState) Status() Status { return StatusLoading }
func (s *LoadingState) ToSettled() *SettledState {
	return &SettledState{}
}
func (s *LoadingState) ToCancelled() *CancelledState {
	return &CancelledState{}
}

// Terminal States

// SettledState - load completed, successfully or not
type SettledState struct{}

func (s *SettledState) Name() string   { return "settled" }
func (s *SettledState) Status() Status { return StatusSettled }

// CancelledState - cancelled before settlement
type CancelledState struct{}

func (s *CancelledState) Name() string   { return "cancelled" }
func (s *CancelledState) Status() Status { return StatusCancelled }

// StateRecorder tracks state transitions for testing
type StateRecorder struct {
	mu   sync.Mutex
	path []string
}

func NewStateRecorder() *StateRecorder {
	return &StateRecorder{path: make([]string, 0)}
}

func (r *StateRecorder) Record(state State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.path = append(r.path, state.Name())
}

func (r *StateRecorder) Path() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	path := make([]string, len(r.path))
	copy(path, r.path)
	return path
}
