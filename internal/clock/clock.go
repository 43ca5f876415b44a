// Package clock abstracts wall-clock access so time-window and TTL logic
// stays testable.
package clock

import "time"

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

// NewRealClock returns a Clock backed by the system time.
func NewRealClock() Clock {
	return realClock{}
}

func (realClock) Now() time.Time {
	return time.Now()
}

// Fixed is a Clock pinned to a settable instant, for tests.
type Fixed struct {
	Time time.Time
}

func (f *Fixed) Now() time.Time {
	return f.Time
}
