package tree

import (
	"fmt"
	"log/slog"

	"github.com/roach88/canopy/internal/ir"
	"github.com/roach88/canopy/internal/replica"
)

// DefaultRootID is the id of the distinguished root node.
const DefaultRootID = "root"

// OrphanPolicy decides what happens to nodes that belong to a cycle with no
// edge leading to a rooted node.
type OrphanPolicy string

const (
	// OrphanAttach attaches leftover nodes to the root one at a time, lowest
	// best-edge counter first (ties to the lowest id), re-running
	// reattachment after each one.
	OrphanAttach OrphanPolicy = "attach"

	// OrphanDetach leaves leftover nodes parentless and reports them
	// through Detached.
	OrphanDetach OrphanPolicy = "detach"
)

// ParseOrphanPolicy converts a config string into an OrphanPolicy.
func ParseOrphanPolicy(s string) (OrphanPolicy, error) {
	switch OrphanPolicy(s) {
	case OrphanAttach, "":
		return OrphanAttach, nil
	case OrphanDetach:
		return OrphanDetach, nil
	default:
		return "", fmt.Errorf("unknown orphan policy %q (want attach or detach)", s)
	}
}

// Store is the subset of replica.Store the projection reads and writes.
type Store interface {
	IDs() []string
	Keys(id string) []string
	Get(id, key string) ir.Value
	Set(id, key string, value ir.Value) ir.Op
	AfterApply(ob replica.Observer)
}

// Tree is the derived forest over a Store.
type Tree struct {
	store    Store
	rootID   string
	orphans  OrphanPolicy
	logger   *slog.Logger
	root     *Node
	nodes    map[string]*Node
	detached []*Node
}

// Option configures a Tree.
type Option func(*Tree)

// WithRootID sets the id of the root node.
//
// Default: "root"
func WithRootID(id string) Option {
	return func(t *Tree) {
		t.rootID = id
	}
}

// WithOrphanPolicy sets how isolated cycles are resolved.
//
// Default: OrphanAttach
func WithOrphanPolicy(p OrphanPolicy) Option {
	return func(t *Tree) {
		t.orphans = p
	}
}

// WithLogger sets the logger used for recompute tracing.
func WithLogger(l *slog.Logger) Option {
	return func(t *Tree) {
		t.logger = l
	}
}

// New builds the projection from the store's current contents and
// subscribes to every later apply.
func New(store Store, opts ...Option) *Tree {
	t := &Tree{
		store:   store,
		rootID:  DefaultRootID,
		orphans: OrphanAttach,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}

	t.root = newNode(t.rootID)
	t.nodes = map[string]*Node{t.rootID: t.root}

	for _, id := range store.IDs() {
		for _, key := range store.Keys(id) {
			t.ingest(id, key)
		}
	}
	t.recompute()

	store.AfterApply(t.onApply)
	return t
}

// Root returns the root node.
func (t *Tree) Root() *Node {
	return t.root
}

// Node looks up a node by id.
func (t *Tree) Node(id string) (*Node, bool) {
	n, ok := t.nodes[id]
	return n, ok
}

// Nodes returns every node sorted by id, root included.
func (t *Tree) Nodes() []*Node {
	out := make([]*Node, 0, len(t.nodes))
	for _, n := range t.nodes {
		out = append(out, n)
	}
	sortNodes(out)
	return out
}

// Len returns the number of nodes, root included.
func (t *Tree) Len() int {
	return len(t.nodes)
}

// Detached returns the ids of nodes left parentless by OrphanDetach, sorted.
// Always empty under OrphanAttach.
func (t *Tree) Detached() []string {
	ids := make([]string, len(t.detached))
	for i, n := range t.detached {
		ids[i] = n.id
	}
	return ids
}

// Rooted reports whether id is the root or a descendant of it.
func (t *Tree) Rooted(id string) bool {
	n, ok := t.nodes[id]
	return ok && isUnder(n, t.root)
}

// Rename writes the node's display name. An empty name clears it.
func (t *Tree) Rename(id, name string) ir.Op {
	var v ir.Value = ir.String(name)
	if name == "" {
		v = ir.Absent{}
	}
	return t.store.Set(id, ir.NameKey, v)
}

// MoveNode re-parents childID under parentID and returns the ops it wrote.
//
// Ancestors on the old and new parent chains whose best edge disagrees with
// their displayed parent get a refresh edge first, so the move cannot detach
// them. The move itself is written last with counter max+1. Moving the root
// is a no-op. Unknown ids become nodes.
func (t *Tree) MoveNode(childID, parentID string) []ir.Op {
	if childID == t.rootID {
		return nil
	}
	child := t.ensure(childID)
	parent := t.ensure(parentID)

	type write struct{ child, parent *Node }
	var writes []write
	seen := make(map[*Node]bool)
	keepRooted := func(n *Node) {
		for ; n != nil && n.parent != nil; n = n.parent {
			if seen[n] {
				continue
			}
			if best, _, ok := n.BestEdge(); !ok || best != n.parent.id {
				seen[n] = true
				writes = append(writes, write{n, n.parent})
			}
		}
	}
	keepRooted(child.parent)
	keepRooted(parent)
	writes = append(writes, write{child, parent})

	ops := make([]ir.Op, 0, len(writes))
	for _, w := range writes {
		// Counter is read at write time; earlier writes may have bumped it.
		ops = append(ops, t.store.Set(w.child.id, w.parent.id, ir.Int(w.child.maxCounter()+1)))
	}
	t.logger.Debug("move",
		"child", childID,
		"parent", parentID,
		"refreshes", len(writes)-1,
	)
	return ops
}

func (t *Tree) onApply(ev replica.Event) {
	before := len(t.nodes)
	if t.ingest(ev.Op.ID, ev.Op.Key) || len(t.nodes) != before {
		t.recompute()
	}
}

// ensure returns the node for id, creating it if needed.
func (t *Tree) ensure(id string) *Node {
	n, ok := t.nodes[id]
	if !ok {
		n = newNode(id)
		t.nodes[id] = n
	}
	return n
}

// ingest copies the store's winning value for (id, key) into the node arena
// and reports whether edges may have changed.
func (t *Tree) ingest(id, key string) bool {
	child := t.ensure(id)
	v := t.store.Get(id, key)

	if ir.IsAttrKey(key) {
		if key == ir.NameKey {
			if s, ok := v.(ir.String); ok {
				child.name = string(s)
			} else {
				child.name = ""
			}
		}
		return false
	}

	t.ensure(key)
	switch v := v.(type) {
	case ir.Int:
		child.edges[key] = int64(v)
	case ir.Absent:
		delete(child.edges, key)
	default:
		t.logger.Debug("ignoring non-counter edge", "id", id, "key", key, "value", ir.FormatValue(v))
		delete(child.edges, key)
	}
	return true
}
