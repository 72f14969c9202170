package replica

import (
	"sync/atomic"
	"time"
)

// Clock supplies timestamps for local writes.
// Timestamps must be totally ordered and comparable across peers.
type Clock interface {
	Now() int64
}

// TimestampObserver is implemented by clocks that want to see every applied
// timestamp, local or remote.
type TimestampObserver interface {
	Observe(ts int64)
}

// ClockFunc adapts a plain function to Clock.
type ClockFunc func() int64

// Now calls f.
func (f ClockFunc) Now() int64 {
	return f()
}

// WallClock returns wall-clock milliseconds since the Unix epoch.
//
// Sufficient when peers are loosely synchronized. A peer whose clock runs far
// ahead can keep winning ties against local edits until clocks catch up; use
// HybridClock when that matters.
type WallClock struct{}

// Now returns the current time in milliseconds.
func (WallClock) Now() int64 {
	return time.Now().UnixMilli()
}

// HybridClock never issues a timestamp at or below the largest one it has
// observed, so a far-future remote write cannot block later local edits.
//
// Thread-safety: HybridClock is safe for concurrent use (atomic operations).
type HybridClock struct {
	wall Clock
	last atomic.Int64
}

// NewHybridClock creates a hybrid clock over the given wall source.
// A nil wall source defaults to WallClock.
func NewHybridClock(wall Clock) *HybridClock {
	if wall == nil {
		wall = WallClock{}
	}
	return &HybridClock{wall: wall}
}

// Now returns max(wall, last+1) and records it.
func (c *HybridClock) Now() int64 {
	for {
		last := c.last.Load()
		next := c.wall.Now()
		if next <= last {
			next = last + 1
		}
		if c.last.CompareAndSwap(last, next) {
			return next
		}
	}
}

// Observe folds an applied timestamp into the clock.
func (c *HybridClock) Observe(ts int64) {
	for {
		last := c.last.Load()
		if ts <= last || c.last.CompareAndSwap(last, ts) {
			return
		}
	}
}

// Current returns the largest timestamp issued or observed so far.
func (c *HybridClock) Current() int64 {
	return c.last.Load()
}
