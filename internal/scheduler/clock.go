package scheduler

import "time"

// Clock is the time source driving the scheduler loop. Tests substitute a
// manually advanced implementation.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// RealClock reads the wall clock in UTC.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now().UTC() }

func (RealClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
