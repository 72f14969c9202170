package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/roach88/canopy/internal/ir"
	"github.com/roach88/canopy/internal/replica"
	"github.com/roach88/canopy/internal/store"
	"github.com/roach88/canopy/internal/transport"
	"github.com/roach88/canopy/internal/tree"
	"github.com/roach88/canopy/internal/undo"
)

// Engine is one peer: a replicated store, its tree projection and undo log,
// owned by a single goroutine.
//
// CRITICAL: replica, tree and undo are touched only from Run. Every public
// method that reads or writes them enqueues a command and waits for the
// loop to run it.
type Engine struct {
	peer      string
	replica   *replica.Store
	tree      *tree.Tree
	undo      *undo.Log
	journal   *store.Store
	transport transport.Transport
	seq       *Clock
	queue     *eventQueue
	outbox    *eventQueue
	logger    *slog.Logger

	clock    replica.Clock
	rootID   string
	orphans  tree.OrphanPolicy
	undoKeys []string

	// Owned by the Run goroutine.
	restoring bool
	pending   []store.Record
	unsent    []ir.Op

	running atomic.Bool
	stopped chan struct{}
}

// Option configures an Engine.
type Option func(*Engine)

// WithJournal persists every applied op and restores from it on Run.
func WithJournal(j *store.Store) Option {
	return func(e *Engine) {
		e.journal = j
	}
}

// WithTransport connects the engine to other peers.
// Without a transport the peer runs offline.
func WithTransport(t transport.Transport) Option {
	return func(e *Engine) {
		e.transport = t
	}
}

// WithClock sets the timestamp source for local writes.
//
// Default: replica.WallClock
func WithClock(c replica.Clock) Option {
	return func(e *Engine) {
		e.clock = c
	}
}

// WithSeqClock sets the journal sequence clock. Run advances it past the
// journal's last seq before processing anything.
func WithSeqClock(c *Clock) Option {
	return func(e *Engine) {
		e.seq = c
	}
}

// WithRootID sets the tree's root id.
//
// Default: tree.DefaultRootID
func WithRootID(id string) Option {
	return func(e *Engine) {
		e.rootID = id
	}
}

// WithOrphanPolicy sets how the tree resolves isolated cycles.
//
// Default: tree.OrphanAttach
func WithOrphanPolicy(p tree.OrphanPolicy) Option {
	return func(e *Engine) {
		e.orphans = p
	}
}

// WithUndoKeys restricts undo history to writes on the given keys.
// With no keys every local write is recorded.
func WithUndoKeys(keys ...string) Option {
	return func(e *Engine) {
		e.undoKeys = keys
	}
}

// WithLogger sets the logger passed down to every component.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// New creates an engine for peer. Call Run to start processing.
func New(peer string, opts ...Option) *Engine {
	e := &Engine{
		peer:    peer,
		seq:     NewClock(),
		queue:   newEventQueue(),
		outbox:  newEventQueue(),
		logger:  slog.Default(),
		clock:   replica.WallClock{},
		rootID:  tree.DefaultRootID,
		orphans: tree.OrphanAttach,
		stopped: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("peer", peer)

	e.replica = replica.New(peer,
		replica.WithClock(e.clock),
		replica.WithLogger(e.logger),
	)
	e.tree = tree.New(e.replica,
		tree.WithRootID(e.rootID),
		tree.WithOrphanPolicy(e.orphans),
		tree.WithLogger(e.logger),
	)
	undoOpts := []undo.Option{undo.WithLogger(e.logger)}
	if len(e.undoKeys) > 0 {
		undoOpts = append(undoOpts, undo.WithKeys(e.undoKeys...))
	}
	e.undo = undo.New(e.replica, undoOpts...)
	e.replica.AfterApply(e.observe)
	return e
}

// Peer returns the peer id stamped on local writes.
func (e *Engine) Peer() string {
	return e.peer
}

// Done is closed when Run returns.
func (e *Engine) Done() <-chan struct{} {
	return e.stopped
}

// Run restores the journal, subscribes to the transport and processes
// events until ctx is cancelled or Stop is called.
//
// CRITICAL: Must be called from exactly ONE goroutine, once.
//
// ERROR HANDLING: a journal or publish failure for one event is logged and
// processing continues. Ops already applied stay applied; the journal is
// append-only and idempotent, so a later restart replays what was saved.
func (e *Engine) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return errors.New("engine already running")
	}
	defer close(e.stopped)
	e.logger.Info("engine starting")

	if err := e.restore(ctx); err != nil {
		e.queue.Close()
		e.abandon()
		return err
	}

	inner, cancel := context.WithCancel(ctx)
	pubDone := make(chan struct{})
	recvDone := make(chan struct{})
	if e.transport != nil {
		in, err := e.transport.Subscribe(inner)
		if err != nil {
			cancel()
			e.queue.Close()
			e.abandon()
			return NewTransportError(e.peer, "subscribe", err)
		}
		go func() {
			defer close(recvDone)
			e.receive(in)
		}()
		go func() {
			defer close(pubDone)
			e.publish(inner)
		}()
	} else {
		close(pubDone)
		close(recvDone)
	}
	defer func() {
		// Flush the outbox before the transport context goes away.
		e.outbox.Close()
		<-pubDone
		cancel()
		<-recvDone
	}()

	for {
		if ev, ok := e.queue.TryDequeue(); ok {
			e.process(ctx, ev)
			continue
		}

		select {
		case <-ctx.Done():
			e.logger.Info("engine stopping: context cancelled")
			e.queue.Close()
			e.abandon()
			return ctx.Err()

		case <-e.queue.Wait():
			if e.queue.Finished() {
				e.logger.Info("engine stopping: queue closed")
				return nil
			}
		}
	}
}

// Stop closes the command queue. Run finishes what is already queued and
// returns nil.
func (e *Engine) Stop() {
	e.queue.Close()
}

// process runs one event and flushes what it wrote.
// CRITICAL: Called only from Run() goroutine.
func (e *Engine) process(ctx context.Context, ev *Event) {
	var err error
	switch ev.Type {
	case EventTypeRemote:
		e.replica.Apply(ev.Op, ir.ProvenanceRemote)
	case EventTypeCommand:
		ev.Command()
	default:
		err = fmt.Errorf("unknown event type: %d", ev.Type)
	}

	if ferr := e.flush(ctx); ferr != nil && err == nil {
		err = ferr
	}
	if err != nil {
		logEventError(e.logger, ev, err)
	}
	if ev.done != nil {
		ev.err = err
		close(ev.done)
	}
}

// observe runs synchronously inside every replica apply.
func (e *Engine) observe(ev replica.Event) {
	if e.restoring {
		return
	}
	if e.journal != nil {
		rec, err := store.NewRecord(ev.Op, e.seq.Next(), ev.Provenance)
		if err != nil {
			e.logger.Error("journal record failed", "op", ev.Op.String(), "error", err)
		} else {
			e.pending = append(e.pending, rec)
		}
	}
	if ev.Provenance == ir.ProvenanceLocal && e.transport != nil {
		e.unsent = append(e.unsent, ev.Op)
	}
}

// flush appends pending records to the journal, then hands local ops to
// the outbox. Ops are published only after they are durable.
func (e *Engine) flush(ctx context.Context) error {
	var err error
	if len(e.pending) > 0 {
		if _, werr := e.journal.WriteOps(ctx, e.pending); werr != nil {
			err = NewJournalError(e.peer, fmt.Sprintf("append %d ops", len(e.pending)), werr)
		}
		e.pending = e.pending[:0]
	}
	for _, op := range e.unsent {
		e.outbox.Enqueue(&Event{Type: EventTypePublish, Op: op})
	}
	e.unsent = e.unsent[:0]
	return err
}

// restore replays the journal into the replica. Replayed ops are not
// journaled again, published, or recorded for undo.
func (e *Engine) restore(ctx context.Context) error {
	if e.journal == nil {
		return nil
	}
	last, err := e.journal.LastSeq(ctx)
	if err != nil {
		return NewJournalError(e.peer, "read last seq", err)
	}
	e.seq.Advance(last)

	e.restoring = true
	n := 0
	err = e.journal.Replay(ctx, func(rec store.Record) error {
		e.replica.Apply(rec.Op, rec.Provenance)
		n++
		return nil
	})
	e.restoring = false
	e.undo.Clear()
	if err != nil {
		return NewJournalError(e.peer, "restore", err)
	}

	e.logger.Info("journal restored",
		"records", n,
		"last_seq", last,
		"nodes", e.tree.Len(),
	)
	return nil
}

// receive forwards transport deliveries onto the loop.
func (e *Engine) receive(in <-chan ir.Op) {
	for op := range in {
		if !e.queue.Enqueue(&Event{Type: EventTypeRemote, Op: op}) {
			return
		}
	}
}

// publish drains the outbox to the transport until the outbox is closed and
// empty or ctx is cancelled. A failed publish is logged and dropped; peers
// still converge once any later write to the same field gets through.
func (e *Engine) publish(ctx context.Context) {
	for {
		if ev, ok := e.outbox.TryDequeue(); ok {
			if err := e.transport.Publish(ctx, ev.Op); err != nil {
				logEventError(e.logger, ev, NewTransportError(e.peer, "publish", err))
			}
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-e.outbox.Wait():
			if e.outbox.Finished() {
				return
			}
		}
	}
}

// abandon fails every command still queued after the loop stopped.
func (e *Engine) abandon() {
	for _, ev := range e.queue.Drain() {
		if ev.done != nil {
			ev.err = NewClosedError(e.peer)
			close(ev.done)
		}
	}
}

// do runs fn on the loop and waits for it.
func (e *Engine) do(ctx context.Context, fn func()) error {
	ev := &Event{Type: EventTypeCommand, Command: fn, done: make(chan struct{})}
	if !e.queue.Enqueue(ev) {
		return NewClosedError(e.peer)
	}
	select {
	case <-ev.done:
		return ev.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Move re-parents child under parent as one undo step and returns the ops
// written, refresh edges included.
func (e *Engine) Move(ctx context.Context, child, parent string) ([]ir.Op, error) {
	var ops []ir.Op
	err := e.do(ctx, func() {
		e.undo.Batch(func() {
			ops = e.tree.MoveNode(child, parent)
		})
	})
	return ops, err
}

// Rename sets a node's display name. An empty name clears it.
func (e *Engine) Rename(ctx context.Context, id, name string) (ir.Op, error) {
	var op ir.Op
	err := e.do(ctx, func() {
		op = e.tree.Rename(id, name)
	})
	return op, err
}

// Set performs a raw local write.
func (e *Engine) Set(ctx context.Context, id, key string, value ir.Value) (ir.Op, error) {
	var op ir.Op
	err := e.do(ctx, func() {
		op = e.replica.Set(id, key, value)
	})
	return op, err
}

// Apply applies a remote op and waits for it. Returns whether the op won.
func (e *Engine) Apply(ctx context.Context, op ir.Op) (bool, error) {
	var won bool
	err := e.do(ctx, func() {
		won = e.replica.Apply(op, ir.ProvenanceRemote)
	})
	return won, err
}

// Receive queues a remote op without waiting. Returns false if the engine
// has stopped.
func (e *Engine) Receive(op ir.Op) bool {
	return e.queue.Enqueue(&Event{Type: EventTypeRemote, Op: op})
}

// Undo reverts this peer's most recent undo step.
func (e *Engine) Undo(ctx context.Context) (bool, error) {
	var ok bool
	err := e.do(ctx, func() {
		ok = e.undo.Undo()
	})
	return ok, err
}

// Redo re-applies the most recently undone step.
func (e *Engine) Redo(ctx context.Context) (bool, error) {
	var ok bool
	err := e.do(ctx, func() {
		ok = e.undo.Redo()
	})
	return ok, err
}

// Snapshot returns the current tree.
func (e *Engine) Snapshot(ctx context.Context) (tree.Snapshot, error) {
	var snap tree.Snapshot
	err := e.do(ctx, func() {
		snap = e.tree.Snapshot()
	})
	return snap, err
}

// State returns every stored field as an op, sorted by (id, key).
// Applying it to another peer brings that peer up to date.
func (e *Engine) State(ctx context.Context) ([]ir.Op, error) {
	var ops []ir.Op
	err := e.do(ctx, func() {
		ops = e.replica.Snapshot()
	})
	return ops, err
}

// View runs fn on the loop with read access to the tree and undo log.
// fn must not retain either after it returns.
func (e *Engine) View(ctx context.Context, fn func(t *tree.Tree, u *undo.Log)) error {
	return e.do(ctx, func() {
		fn(e.tree, e.undo)
	})
}

func logEventError(logger *slog.Logger, ev *Event, err error) {
	switch ev.Type {
	case EventTypeRemote, EventTypePublish:
		logger.Error("op processing failed",
			"error", err,
			"event_type", ev.Type,
			"op", ev.Op.String(),
		)
	default:
		logger.Error("command failed",
			"error", err,
			"event_type", ev.Type,
		)
	}
}
