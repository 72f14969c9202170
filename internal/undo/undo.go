// Package undo records local store writes in reversible batches.
//
// Every local write that passes the key filter appends the field's previous
// value to a pending batch. Batches nest; the outermost Batch call commits.
// A write outside any Batch is its own batch.
//
// Undo pops a batch and writes each recorded previous value back, newest
// first, capturing what it overwrote as the matching redo batch. Writes made
// by Undo and Redo are not recorded. Remote writes are never recorded, so
// undo only ever reverts this peer's own edits; a remote write that lands
// between an edit and its undo is overwritten by the undo's fresher
// timestamp.
package undo

import (
	"log/slog"

	"github.com/roach88/canopy/internal/ir"
	"github.com/roach88/canopy/internal/replica"
)

// Store is the subset of replica.Store the log needs.
type Store interface {
	Get(id, key string) ir.Value
	Set(id, key string, value ir.Value) ir.Op
	AfterApply(ob replica.Observer)
}

// Change is one recorded field value.
type Change struct {
	ID    string
	Key   string
	Value ir.Value
}

// Log is an undo/redo history over a Store.
type Log struct {
	store   Store
	filter  func(key string) bool
	logger  *slog.Logger
	undo    [][]Change
	redo    [][]Change
	pending []Change
	depth   int
	busy    bool
}

// Option configures a Log.
type Option func(*Log)

// WithKeys records only writes to the given field keys.
func WithKeys(keys ...string) Option {
	set := make(map[string]bool, len(keys))
	for _, k := range keys {
		set[k] = true
	}
	return WithKeyFilter(func(key string) bool { return set[key] })
}

// WithKeyFilter records only writes whose key satisfies keep.
func WithKeyFilter(keep func(key string) bool) Option {
	return func(l *Log) {
		l.filter = keep
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Log) {
		l.logger = logger
	}
}

// New creates a log and subscribes it to store.
func New(store Store, opts ...Option) *Log {
	l := &Log{
		store:  store,
		filter: func(string) bool { return true },
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	store.AfterApply(l.observe)
	return l
}

func (l *Log) observe(ev replica.Event) {
	if ev.Provenance != ir.ProvenanceLocal || l.busy || !l.filter(ev.Op.Key) {
		return
	}
	l.pending = append(l.pending, Change{ID: ev.Op.ID, Key: ev.Op.Key, Value: ev.Previous})
	l.commit()
}

// Batch runs fn and records every local write it makes as one undo step.
// Batches nest; only the outermost commits. A batch that writes nothing is
// not recorded and leaves the redo stack intact.
func (l *Log) Batch(fn func()) {
	l.depth++
	defer func() {
		l.depth--
		l.commit()
	}()
	fn()
}

// commit closes the pending batch at depth zero. Empty batches leave both
// stacks untouched.
func (l *Log) commit() {
	if l.depth > 0 || len(l.pending) == 0 {
		return
	}
	l.undo = append(l.undo, l.pending)
	l.pending = nil
	l.redo = nil
}

// Undo reverts the most recent batch. Returns false if there was nothing
// to undo.
func (l *Log) Undo() bool {
	n := len(l.undo)
	if n == 0 {
		return false
	}
	top := l.undo[n-1]
	l.undo = l.undo[:n-1]
	l.redo = append(l.redo, l.replay(top))
	l.logger.Debug("undo", "changes", len(top), "undo_depth", len(l.undo))
	return true
}

// Redo re-applies the most recently undone batch. Returns false if there
// was nothing to redo.
func (l *Log) Redo() bool {
	n := len(l.redo)
	if n == 0 {
		return false
	}
	top := l.redo[n-1]
	l.redo = l.redo[:n-1]
	l.undo = append(l.undo, l.replay(top))
	l.logger.Debug("redo", "changes", len(top), "redo_depth", len(l.redo))
	return true
}

// replay writes changes newest first and returns the inverse batch. The
// inverse is in write order, so replaying it (again newest first) undoes
// this replay.
func (l *Log) replay(changes []Change) []Change {
	inverse := make([]Change, 0, len(changes))
	l.busy = true
	defer func() { l.busy = false }()
	for i := len(changes) - 1; i >= 0; i-- {
		c := changes[i]
		inverse = append(inverse, Change{ID: c.ID, Key: c.Key, Value: l.store.Get(c.ID, c.Key)})
		l.store.Set(c.ID, c.Key, c.Value)
	}
	return inverse
}

// CanUndo reports whether Undo would do anything.
func (l *Log) CanUndo() bool { return len(l.undo) > 0 }

// CanRedo reports whether Redo would do anything.
func (l *Log) CanRedo() bool { return len(l.redo) > 0 }

// Depths returns the number of undo and redo steps available.
func (l *Log) Depths() (undo, redo int) {
	return len(l.undo), len(l.redo)
}

// Clear drops both stacks and any pending changes.
func (l *Log) Clear() {
	l.undo, l.redo, l.pending = nil, nil, nil
}
