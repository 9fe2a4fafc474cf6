package core

import "time"

// Clock abstracts time for deterministic tests. The orchestrator takes a
// Clock at construction so backoff behavior can be asserted without sleeping.
type Clock interface {
	Now() time.Time
	// After behaves like time.After: it returns a channel that delivers one
	// value once d has elapsed.
	After(d time.Duration) <-chan time.Time
}

// RealClock is the production Clock backed by the time package.
type RealClock struct{}

// Now implements Clock.
func (RealClock) Now() time.Time { return time.Now() }

// After implements Clock.
func (RealClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
