package replica

import (
	"log/slog"
	"sort"

	"github.com/roach88/canopy/internal/ir"
)

// Event is what observers receive after every Apply.
type Event struct {
	Op         ir.Op
	Provenance ir.Provenance

	// Previous is the field's value before this apply (Absent if the field
	// did not exist). Existed distinguishes "never written" from a tombstone.
	Previous ir.Value
	Existed  bool

	// Won reports whether the op replaced the stored field.
	Won bool
}

// Observer is a callback invoked synchronously after every Apply.
type Observer func(Event)

// Store is the last-writer-wins register map.
type Store struct {
	peer      string
	clock     Clock
	rows      map[string]map[string]ir.Field
	observers []Observer
	logger    *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the timestamp source for local writes.
//
// Default: WallClock (milliseconds since the Unix epoch)
func WithClock(c Clock) Option {
	return func(s *Store) {
		s.clock = c
	}
}

// WithLogger sets the logger used for debug tracing of applies.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

// New creates an empty store for the given peer id.
func New(peer string, opts ...Option) *Store {
	s := &Store{
		peer:   peer,
		clock:  WallClock{},
		rows:   make(map[string]map[string]ir.Field),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Peer returns the id stamped on local writes.
func (s *Store) Peer() string {
	return s.peer
}

// AfterApply registers an observer. Observers run in registration order.
func (s *Store) AfterApply(ob Observer) {
	s.observers = append(s.observers, ob)
}

// IDs returns a sorted snapshot of every entity id that has received a write.
func (s *Store) IDs() []string {
	ids := make([]string, 0, len(s.rows))
	for id := range s.rows {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Keys returns the sorted field keys of one entity.
func (s *Store) Keys(id string) []string {
	row := s.rows[id]
	keys := make([]string, 0, len(row))
	for k := range row {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Field returns the currently-winning field for (id, key).
func (s *Store) Field(id, key string) (ir.Field, bool) {
	f, ok := s.rows[id][key]
	return f, ok
}

// Get returns the current value for (id, key). Missing fields read as Absent.
func (s *Store) Get(id, key string) ir.Value {
	if f, ok := s.rows[id][key]; ok {
		return f.Value
	}
	return ir.Absent{}
}

// Set performs a local write and returns the op that was applied.
//
// The timestamp is max(clock.Now(), existing.Timestamp+1), so the write
// always wins locally even if a remote peer's clock runs ahead.
func (s *Store) Set(id, key string, value ir.Value) ir.Op {
	op := ir.Op{
		ID:        id,
		Key:       key,
		Value:     ir.Normalize(value),
		Peer:      s.peer,
		Timestamp: s.clock.Now(),
	}
	if f, ok := s.rows[id][key]; ok && op.Timestamp <= f.Timestamp {
		op.Timestamp = f.Timestamp + 1
	}
	s.Apply(op, ir.ProvenanceLocal)
	return op
}

// Apply resolves op against the stored field and notifies observers.
// It never fails: unknown entities are created on demand and malformed
// values are stored as given. Returns whether op replaced the stored field.
func (s *Store) Apply(op ir.Op, prov ir.Provenance) bool {
	op.Value = ir.Normalize(op.Value)

	row, ok := s.rows[op.ID]
	if !ok {
		row = make(map[string]ir.Field)
		s.rows[op.ID] = row
	}

	existing, existed := row[op.Key]
	won := !existed || Supersedes(op, existing)
	if won {
		row[op.Key] = ir.FieldOf(op)
	}

	if obs, ok := s.clock.(TimestampObserver); ok {
		obs.Observe(op.Timestamp)
	}

	s.logger.Debug("apply",
		"peer", s.peer,
		"op", op.String(),
		"provenance", prov,
		"won", won,
	)

	prev := ir.Value(ir.Absent{})
	if existed {
		prev = existing.Value
	}
	ev := Event{Op: op, Provenance: prov, Previous: prev, Existed: existed, Won: won}
	for _, observe := range s.observers {
		observe(ev)
	}
	return won
}

// Supersedes reports whether op replaces the existing field.
//
// op loses if existing has a strictly greater timestamp, or an equal
// timestamp and a smaller peer id. On an exact (timestamp, peer) tie the
// greater value wins; identical ops replace themselves (idempotent).
func Supersedes(op ir.Op, existing ir.Field) bool {
	if existing.Timestamp != op.Timestamp {
		return op.Timestamp > existing.Timestamp
	}
	if existing.Peer != op.Peer {
		return op.Peer < existing.Peer
	}
	return ir.Compare(op.Value, existing.Value) >= 0
}

// Snapshot returns every stored field as an op, sorted by (id, key).
// Applying a snapshot to an empty store reproduces this store's fields.
func (s *Store) Snapshot() []ir.Op {
	var ops []ir.Op
	for _, id := range s.IDs() {
		for _, key := range s.Keys(id) {
			f := s.rows[id][key]
			ops = append(ops, ir.Op{ID: id, Key: key, Value: f.Value, Peer: f.Peer, Timestamp: f.Timestamp})
		}
	}
	return ops
}
