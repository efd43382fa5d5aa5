package stats

import (
	"time"

	"github.com/livinlefevreloca/prewarm/internal/prefetch"
)

// StatsSource identifies what kind of event a message carries
type StatsSource int

const (
	StatsSourceTransition StatsSource = iota
	StatsSourceOpenLatency
)

// StatsMessage is the container for all stats messages
type StatsMessage struct {
	Source    StatsSource
	Timestamp time.Time
	Data      interface{} // Actual type depends on Source
}

// TransitionData describes one request transition
type TransitionData struct {
	TriggerID    string
	From         prefetch.Status
	To           prefetch.Status
	Committed    bool
	Outcome      prefetch.Outcome
	LoadDuration time.Duration
}

// OpenLatencyData is the click-to-ready time of one trigger point
type OpenLatencyData struct {
	TriggerID string
	Latency   time.Duration
}

// PrefetchStatsAccumulator accumulates prefetch statistics for a period
type PrefetchStatsAccumulator struct {
	Scheduled int
	Started   int
	Committed int
	Succeeded int
	Failed    int
	Cancelled int

	// Samples for min/max/avg calculations
	LoadDurations []time.Duration
	OpenLatencies []time.Duration
}

// Add counts a transition. Commitment and load time are taken once the
// request reaches a terminal state.
func (acc *PrefetchStatsAccumulator) Add(data *TransitionData) {
	switch data.To {
	case prefetch.StatusScheduled:
		acc.Scheduled++
	case prefetch.StatusLoading:
		acc.Started++
	case prefetch.StatusSettled:
		if data.Outcome == prefetch.OutcomeSuccess {
			acc.Succeeded++
		} else {
			acc.Failed++
		}
		acc.LoadDurations = append(acc.LoadDurations, data.LoadDuration)
	case prefetch.StatusCancelled:
		acc.Cancelled++
	}

	if data.To.Terminal() && data.Committed {
		acc.Committed++
	}
}

// AddOpenLatency records one click-to-ready sample
func (acc *PrefetchStatsAccumulator) AddOpenLatency(data *OpenLatencyData) {
	acc.OpenLatencies = append(acc.OpenLatencies, data.Latency)
}

// Empty reports whether nothing was recorded
func (acc *PrefetchStatsAccumulator) Empty() bool {
	return acc.Scheduled == 0 && acc.Started == 0 && acc.Succeeded == 0 &&
		acc.Failed == 0 && acc.Cancelled == 0 && len(acc.OpenLatencies) == 0
}

// Reset clears the accumulator for a new period
func (acc *PrefetchStatsAccumulator) Reset() {
	acc.Scheduled = 0
	acc.Started = 0
	acc.Committed = 0
	acc.Succeeded = 0
	acc.Failed = 0
	acc.Cancelled = 0
	acc.LoadDurations = make([]time.Duration, 0)
	acc.OpenLatencies = make([]time.Duration, 0)
}
