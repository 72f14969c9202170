package testutil

import "sync"

// DeterministicClock is a replica.Clock for tests.
//
// Each call to Now() returns the current value and then advances it by the
// step (1 by default). A step of 0 freezes the clock, which is how tests
// produce concurrent writes with identical timestamps on different peers.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type DeterministicClock struct {
	mu    sync.Mutex
	start int64
	now   int64
	step  int64
}

// NewDeterministicClock creates a clock whose first Now() returns 1.
func NewDeterministicClock() *DeterministicClock {
	return NewDeterministicClockAt(1)
}

// NewDeterministicClockAt creates a clock whose first Now() returns start.
func NewDeterministicClockAt(start int64) *DeterministicClock {
	return &DeterministicClock{start: start, now: start, step: 1}
}

// NewFrozenClock creates a clock that always returns ts.
func NewFrozenClock(ts int64) *DeterministicClock {
	return &DeterministicClock{start: ts, now: ts, step: 0}
}

// Now returns the current timestamp and advances by the step.
func (c *DeterministicClock) Now() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	ts := c.now
	c.now += c.step
	return ts
}

// Current returns the next timestamp Now() would return, without advancing.
func (c *DeterministicClock) Current() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set moves the clock to ts.
func (c *DeterministicClock) Set(ts int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = ts
}

// Reset returns the clock to its starting value.
func (c *DeterministicClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.start
}
