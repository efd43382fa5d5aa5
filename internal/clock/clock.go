package clock

import "time"

// Timer is the cancel token returned when a callback is armed.
type Timer interface {
	// Stop disarms the timer. It reports false if the callback already fired
	// or the timer was already stopped. A false return does not mean the
	// callback has finished running.
	Stop() bool
}

// Clock provides the time source and timer capability used by coordinators
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Real is a Clock backed by the time package
type Real struct{}

// New returns the wall clock
func New() Clock {
	return Real{}
}

func (Real) Now() time.Time {
	return time.Now()
}

func (Real) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
