// Package testutil provides shared test doubles for the engine packages.
package testutil

import (
	"sync"
	"time"
)

// FakeClock is a deterministic core.Clock for tests. Now returns a fixed,
// manually advanceable instant; After records the requested delay and
// returns an already-fired channel so retry loops never sleep.
type FakeClock struct {
	mu      sync.Mutex
	now     time.Time
	afters  []time.Duration
	blockCh chan time.Time
}

// NewFakeClock creates a FakeClock starting at the given instant.
func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start}
}

// Now returns the current fake instant.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the fake instant forward.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// After records the delay and returns a channel that has already fired,
// unless Block was called first.
func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.afters = append(c.afters, d)

	if c.blockCh != nil {
		return c.blockCh
	}

	ch := make(chan time.Time, 1)
	ch <- c.now.Add(d)
	return ch
}

// Block makes subsequent After calls return a channel that never fires,
// until Release is called.
func (c *FakeClock) Block() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.blockCh = make(chan time.Time)
}

// Release unblocks every channel handed out since Block and restores the
// fire-immediately behavior.
func (c *FakeClock) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.blockCh != nil {
		close(c.blockCh)
		c.blockCh = nil
	}
}

// Delays returns the After delays observed so far, in call order.
func (c *FakeClock) Delays() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]time.Duration, len(c.afters))
	copy(out, c.afters)
	return out
}
