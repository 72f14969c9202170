package replica

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/canopy/internal/ir"
	"github.com/roach88/canopy/internal/testutil"
)

func TestWallClock_Milliseconds(t *testing.T) {
	ts := WallClock{}.Now()
	// Any time after 2020-01-01 in ms.
	assert.Greater(t, ts, int64(1577836800000))
}

func TestClockFunc(t *testing.T) {
	c := ClockFunc(func() int64 { return 77 })
	assert.Equal(t, int64(77), c.Now())
}

func TestHybridClock_Monotonic(t *testing.T) {
	c := NewHybridClock(testutil.NewFrozenClock(10))

	assert.Equal(t, int64(10), c.Now())
	assert.Equal(t, int64(11), c.Now())
	assert.Equal(t, int64(12), c.Now())
}

func TestHybridClock_ObserveJumpsAhead(t *testing.T) {
	c := NewHybridClock(testutil.NewFrozenClock(10))

	c.Observe(5000)
	assert.Equal(t, int64(5001), c.Now())

	c.Observe(20) // stale observation is ignored
	assert.Equal(t, int64(5002), c.Now())
}

func TestHybridClock_StoreObservesRemoteTimestamps(t *testing.T) {
	c := NewHybridClock(testutil.NewFrozenClock(10))
	s := New("z", WithClock(c))

	// Far-future remote write on an unrelated field.
	s.Apply(ir.Op{ID: "other", Key: "k", Value: ir.Int(1), Peer: "a", Timestamp: 1 << 40}, ir.ProvenanceRemote)

	op := s.Set("x", "k", ir.Int(2))
	assert.Greater(t, op.Timestamp, int64(1<<40), "local timestamps never fall behind observed ones")
	assert.Equal(t, int64(1<<40)+1, c.Current())
}

func TestNewHybridClock_DefaultsToWall(t *testing.T) {
	c := NewHybridClock(nil)
	assert.Greater(t, c.Now(), int64(1577836800000))
}
