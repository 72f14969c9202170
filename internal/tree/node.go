package tree

import "sort"

// Node is one entry in the tree's node arena.
//
// parent and children are derived on every recompute and are non-owning
// references into the same arena. edges mirrors the winning store values
// for the node's candidate-parent keys.
type Node struct {
	id       string
	name     string
	parent   *Node
	children []*Node
	edges    map[string]int64
}

func newNode(id string) *Node {
	return &Node{id: id, edges: make(map[string]int64)}
}

// ID returns the node's entity id.
func (n *Node) ID() string { return n.id }

// Name returns the node's display name, or "" if none was written.
func (n *Node) Name() string { return n.name }

// Parent returns the node's parent after the last recompute.
// Nil for the root and for detached nodes.
func (n *Node) Parent() *Node { return n.parent }

// Children returns the node's children sorted by id.
// The returned slice must not be modified.
func (n *Node) Children() []*Node { return n.children }

// Edge returns the counter recorded for the candidate parent.
func (n *Node) Edge(parentID string) (int64, bool) {
	c, ok := n.edges[parentID]
	return c, ok
}

// Edges returns a copy of the node's candidate-parent counters.
func (n *Node) Edges() map[string]int64 {
	out := make(map[string]int64, len(n.edges))
	for k, v := range n.edges {
		out[k] = v
	}
	return out
}

// BestEdge returns the candidate parent with the largest counter, ties going
// to the largest parent id. ok is false when the node has no edges.
func (n *Node) BestEdge() (parentID string, counter int64, ok bool) {
	for id, c := range n.edges {
		if !ok || c > counter || (c == counter && id > parentID) {
			parentID, counter, ok = id, c, true
		}
	}
	return parentID, counter, ok
}

// Depth returns the number of parent hops to the top of the node's tree.
func (n *Node) Depth() int {
	d := 0
	for p := n.parent; p != nil; p = p.parent {
		d++
	}
	return d
}

// maxCounter returns the largest counter among the node's edges, or -1.
func (n *Node) maxCounter() int64 {
	max := int64(-1)
	for _, c := range n.edges {
		if c > max {
			max = c
		}
	}
	return max
}

func sortNodes(nodes []*Node) {
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].id < nodes[j].id })
}
