package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/canopy/internal/ir"
	"github.com/roach88/canopy/internal/store"
	"github.com/roach88/canopy/internal/testutil"
	"github.com/roach88/canopy/internal/transport"
	"github.com/roach88/canopy/internal/tree"
	"github.com/roach88/canopy/internal/undo"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func openJournal(t *testing.T, path string) *store.Store {
	t.Helper()
	if path == "" {
		path = filepath.Join(t.TempDir(), "journal.db")
	}
	j, err := store.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

// startEngine runs a new engine until the test ends.
func startEngine(t *testing.T, peer string, opts ...Option) *Engine {
	t.Helper()
	base := []Option{WithClock(testutil.NewDeterministicClock()), WithLogger(quiet)}
	e := New(peer, append(base, opts...)...)

	ctx, cancel := context.WithCancel(context.Background())
	go e.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-e.Done()
	})
	return e
}

func parents(t *testing.T, e *Engine) map[string]string {
	t.Helper()
	snap, err := e.Snapshot(context.Background())
	require.NoError(t, err)
	out := snap.Parents()
	delete(out, snap.Root.ID)
	return out
}

func TestEngine_MoveAndRename(t *testing.T) {
	ctx := context.Background()
	e := startEngine(t, "a")

	ops, err := e.Move(ctx, "x", "root")
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, "a", ops[0].Peer)

	_, err = e.Move(ctx, "y", "x")
	require.NoError(t, err)
	_, err = e.Rename(ctx, "y", "Why")
	require.NoError(t, err)

	assert.Equal(t, map[string]string{"x": "root", "y": "x"}, parents(t, e))
	snap, err := e.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Why", snap.Root.Children[0].Children[0].Name)
}

func TestEngine_MoveIsOneUndoStep(t *testing.T) {
	ctx := context.Background()
	e := startEngine(t, "a")

	for _, mv := range [][2]string{{"x", "root"}, {"y", "root"}, {"x", "y"}} {
		_, err := e.Move(ctx, mv[0], mv[1])
		require.NoError(t, err)
	}
	require.Equal(t, map[string]string{"x": "y", "y": "root"}, parents(t, e))

	ok, err := e.Undo(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, map[string]string{"x": "root", "y": "root"}, parents(t, e))

	ok, err = e.Redo(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, map[string]string{"x": "y", "y": "root"}, parents(t, e))
}

func TestEngine_MoveUnderDescendantKeepsTree(t *testing.T) {
	ctx := context.Background()
	e := startEngine(t, "a")

	for _, mv := range [][2]string{{"p", "root"}, {"q", "p"}, {"r", "q"}, {"p", "r"}} {
		_, err := e.Move(ctx, mv[0], mv[1])
		require.NoError(t, err)
	}
	assert.Equal(t, map[string]string{"p": "root", "q": "p", "r": "q"}, parents(t, e))
}

func TestEngine_UndoEmpty(t *testing.T) {
	e := startEngine(t, "a")
	ok, err := e.Undo(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEngine_UndoKeysFilter(t *testing.T) {
	ctx := context.Background()
	e := startEngine(t, "a", WithUndoKeys(ir.NameKey))

	_, err := e.Move(ctx, "x", "root")
	require.NoError(t, err)
	_, err = e.Rename(ctx, "x", "Ex")
	require.NoError(t, err)

	err = e.View(ctx, func(_ *tree.Tree, u *undo.Log) {
		n, _ := u.Depths()
		assert.Equal(t, 1, n, "only the rename is recorded")
	})
	require.NoError(t, err)
}

func TestEngine_ReceiveIsOrderedBeforeLaterCommands(t *testing.T) {
	e := startEngine(t, "a")

	require.True(t, e.Receive(ir.Op{ID: "x", Key: "root", Value: ir.Int(0), Peer: "b", Timestamp: 7}))
	assert.Equal(t, map[string]string{"x": "root"}, parents(t, e))
}

func TestEngine_ApplyReportsWinner(t *testing.T) {
	ctx := context.Background()
	e := startEngine(t, "a")

	op := ir.Op{ID: "x", Key: "root", Value: ir.Int(0), Peer: "b", Timestamp: 7}
	won, err := e.Apply(ctx, op)
	require.NoError(t, err)
	assert.True(t, won)

	stale := op
	stale.Timestamp = 3
	won, err = e.Apply(ctx, stale)
	require.NoError(t, err)
	assert.False(t, won)

	state, err := e.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, []ir.Op{op}, state)
}

func TestEngine_CommandsAfterStop(t *testing.T) {
	e := New("a", WithLogger(quiet))
	go e.Run(context.Background())

	_, err := e.Snapshot(context.Background())
	require.NoError(t, err)

	e.Stop()
	<-e.Done()

	_, err = e.Move(context.Background(), "x", "root")
	assert.True(t, IsClosedError(err), "got %v", err)
	assert.False(t, e.Receive(ir.Op{ID: "x", Key: "root", Value: ir.Int(0)}))
}

func TestEngine_CommandHonoursContext(t *testing.T) {
	e := New("a", WithLogger(quiet)) // never started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := e.Snapshot(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestEngine_RunTwice(t *testing.T) {
	e := startEngine(t, "a")
	_, err := e.Snapshot(context.Background())
	require.NoError(t, err)

	assert.Error(t, e.Run(context.Background()))
}

func TestEngine_CancelFailsQueuedCommands(t *testing.T) {
	e := New("a", WithLogger(quiet))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := e.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	_, err = e.Snapshot(context.Background())
	assert.True(t, IsClosedError(err))
}

func TestEngine_JournalRestore(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "journal.db")
	j := openJournal(t, path)

	first := New("a", WithJournal(j), WithClock(testutil.NewDeterministicClock()), WithLogger(quiet))
	go first.Run(ctx)
	_, err := first.Move(ctx, "x", "root")
	require.NoError(t, err)
	_, err = first.Move(ctx, "y", "x")
	require.NoError(t, err)
	_, err = first.Rename(ctx, "x", "Ex")
	require.NoError(t, err)
	want, err := first.Snapshot(ctx)
	require.NoError(t, err)
	first.Stop()
	<-first.Done()

	lastBefore, err := j.LastSeq(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(3), lastBefore)

	second := startEngine(t, "a", WithJournal(j))
	got, err := second.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	err = second.View(ctx, func(_ *tree.Tree, u *undo.Log) {
		assert.False(t, u.CanUndo(), "restored ops are not undoable")
	})
	require.NoError(t, err)

	count, err := j.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count, "restore does not re-journal")

	_, err = second.Move(ctx, "y", "root")
	require.NoError(t, err)
	lastAfter, err := j.LastSeq(ctx)
	require.NoError(t, err)
	assert.Greater(t, lastAfter, lastBefore, "seq resumes after the journal")
}

func TestEngine_JournalRecordsRemoteOps(t *testing.T) {
	ctx := context.Background()
	j := openJournal(t, "")
	e := startEngine(t, "a", WithJournal(j))

	op := ir.Op{ID: "x", Key: "root", Value: ir.Int(0), Peer: "b", Timestamp: 7}
	_, err := e.Apply(ctx, op)
	require.NoError(t, err)
	_, err = e.Apply(ctx, op) // duplicate delivery
	require.NoError(t, err)

	recs, err := j.ReadOps(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, ir.ProvenanceRemote, recs[0].Provenance)
	assert.Equal(t, op, recs[0].Op)
}

func TestEngine_JournalFailureIsReported(t *testing.T) {
	ctx := context.Background()
	j := openJournal(t, "")
	e := startEngine(t, "a", WithJournal(j))

	_, err := e.Snapshot(ctx) // restore done
	require.NoError(t, err)
	require.NoError(t, j.Close())

	_, err = e.Move(ctx, "x", "root")
	assert.True(t, IsJournalError(err), "got %v", err)

	// The op was applied even though it could not be saved.
	assert.Equal(t, map[string]string{"x": "root"}, parents(t, e))
}

func TestEngine_PeersConvergeOverBus(t *testing.T) {
	ctx := context.Background()
	bus := transport.NewBus()
	a := startEngine(t, "a", WithTransport(bus.Endpoint()))
	b := startEngine(t, "b", WithTransport(bus.Endpoint()))

	require.Eventually(t, func() bool { return bus.Subscribers() == 2 }, time.Second, 5*time.Millisecond)

	_, err := a.Move(ctx, "x", "root")
	require.NoError(t, err)
	_, err = a.Move(ctx, "y", "root")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		snap, err := b.Snapshot(ctx)
		return err == nil && len(snap.Parents()) == 3
	}, 2*time.Second, 10*time.Millisecond)

	// Concurrent conflicting moves.
	_, err = a.Move(ctx, "x", "y")
	require.NoError(t, err)
	_, err = b.Move(ctx, "y", "x")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		sa, err := a.Snapshot(ctx)
		if err != nil {
			return false
		}
		sb, err := b.Snapshot(ctx)
		if err != nil {
			return false
		}
		return assert.ObjectsAreEqual(sa, sb)
	}, 2*time.Second, 10*time.Millisecond)

	err = a.View(ctx, func(tr *tree.Tree, _ *undo.Log) {
		assert.True(t, tr.Rooted("x"))
		assert.True(t, tr.Rooted("y"))
	})
	require.NoError(t, err)
}

// failingTransport accepts subscriptions but rejects every publish.
type failingTransport struct {
	published chan struct{}
}

func (f *failingTransport) Publish(context.Context, ir.Op) error {
	select {
	case f.published <- struct{}{}:
	default:
	}
	return errors.New("network down")
}

func (f *failingTransport) Subscribe(ctx context.Context) (<-chan ir.Op, error) {
	ch := make(chan ir.Op)
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}

func (f *failingTransport) Close() error { return nil }

func TestEngine_PublishFailureKeepsRunning(t *testing.T) {
	ctx := context.Background()
	ft := &failingTransport{published: make(chan struct{}, 1)}
	e := startEngine(t, "a", WithTransport(ft))

	_, err := e.Move(ctx, "x", "root")
	require.NoError(t, err, "publishing is asynchronous")

	select {
	case <-ft.published:
	case <-time.After(time.Second):
		t.Fatal("op was never published")
	}

	assert.Equal(t, map[string]string{"x": "root"}, parents(t, e))
}

type noSubscribe struct{ failingTransport }

func (*noSubscribe) Subscribe(context.Context) (<-chan ir.Op, error) {
	return nil, errors.New("refused")
}

func TestEngine_SubscribeFailure(t *testing.T) {
	e := New("a", WithTransport(&noSubscribe{}), WithLogger(quiet))
	err := e.Run(context.Background())
	assert.True(t, IsTransportError(err), "got %v", err)
}

func TestEngine_OrphanPolicyAndRootID(t *testing.T) {
	ctx := context.Background()
	e := startEngine(t, "a", WithRootID("top"), WithOrphanPolicy(tree.OrphanDetach))

	// x and y point at each other with nothing leading to top.
	_, err := e.Set(ctx, "x", "y", ir.Int(1))
	require.NoError(t, err)
	_, err = e.Set(ctx, "y", "x", ir.Int(1))
	require.NoError(t, err)

	snap, err := e.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, "top", snap.Root.ID)
	assert.Equal(t, []string{"x", "y"}, snap.Detached)
}
