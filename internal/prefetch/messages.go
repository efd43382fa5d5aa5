package prefetch

import "time"

// message is the container for every event delivered to a coordinator
type message struct {
	Type  MessageType
	Data  interface{}
	Reply chan<- error // Set for caller operations, nil for internal events
}

// MessageType identifies the event being delivered
type MessageType int

const (
	// From callers (pointer events)
	MsgSchedule MessageType = iota
	MsgCancel
	MsgCommitNow

	// From timers and loads
	MsgTimerFired
	MsgLoadSettled

	// Control
	MsgSync
)

// String returns a human-readable representation of the message type
func (m MessageType) String() string {
	switch m {
	case MsgSchedule:
		return "schedule"
	case MsgCancel:
		return "cancel"
	case MsgCommitNow:
		return "commit_now"
	case MsgTimerFired:
		return "timer_fired"
	case MsgLoadSettled:
		return "load_settled"
	case MsgSync:
		return "sync"
	default:
		return "unknown"
	}
}

// scheduleMsg arms a delayed load
type scheduleMsg struct {
	Target Target
	Delay  time.Duration
}

// commitMsg starts a load without waiting
type commitMsg struct {
	Target Target
}

// timerFiredMsg is posted by the delay timer armed at Generation
type timerFiredMsg struct {
	Generation uint64
}

// loadSettledMsg is posted when a trigger started at Generation returns
type loadSettledMsg struct {
	Generation uint64
	Err        error
}
