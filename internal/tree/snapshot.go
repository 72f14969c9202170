package tree

import (
	"fmt"
	"io"
	"strings"
)

// NodeSnapshot is a JSON-encodable copy of a subtree.
type NodeSnapshot struct {
	ID       string         `json:"id" yaml:"id"`
	Name     string         `json:"name,omitempty" yaml:"name,omitempty"`
	Children []NodeSnapshot `json:"children,omitempty" yaml:"children,omitempty"`
}

// Snapshot is a copy of the whole projection at one point in time.
type Snapshot struct {
	Root     NodeSnapshot `json:"root" yaml:"root"`
	Detached []string     `json:"detached,omitempty" yaml:"detached,omitempty"`
}

// Snapshot copies the current tree.
func (t *Tree) Snapshot() Snapshot {
	return Snapshot{
		Root:     snapshotNode(t.root),
		Detached: nonEmpty(t.Detached()),
	}
}

func snapshotNode(n *Node) NodeSnapshot {
	s := NodeSnapshot{ID: n.id, Name: n.name}
	for _, c := range n.children {
		s.Children = append(s.Children, snapshotNode(c))
	}
	return s
}

func nonEmpty(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	return ids
}

// Walk visits the root's subtree depth-first in child order. Returning false
// from fn skips the node's children.
func (t *Tree) Walk(fn func(n *Node, depth int) bool) {
	var visit func(n *Node, depth int)
	visit = func(n *Node, depth int) {
		if !fn(n, depth) {
			return
		}
		for _, c := range n.children {
			visit(c, depth+1)
		}
	}
	visit(t.root, 0)
}

// Render writes an indented text view of the snapshot.
//
//	root
//	  a "Alpha"
//	    b
//	detached: x y
func (s Snapshot) Render(w io.Writer) error {
	var render func(n NodeSnapshot, depth int) error
	render = func(n NodeSnapshot, depth int) error {
		line := strings.Repeat("  ", depth) + n.ID
		if n.Name != "" {
			line += fmt.Sprintf(" %q", n.Name)
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
		for _, c := range n.Children {
			if err := render(c, depth+1); err != nil {
				return err
			}
		}
		return nil
	}
	if err := render(s.Root, 0); err != nil {
		return err
	}
	if len(s.Detached) > 0 {
		if _, err := fmt.Fprintf(w, "detached: %s\n", strings.Join(s.Detached, " ")); err != nil {
			return err
		}
	}
	return nil
}

// Parents flattens the snapshot into child id -> parent id. The root maps
// to "" and detached nodes are omitted.
func (s Snapshot) Parents() map[string]string {
	out := map[string]string{s.Root.ID: ""}
	var walk func(n NodeSnapshot)
	walk = func(n NodeSnapshot) {
		for _, c := range n.Children {
			out[c.ID] = n.ID
			walk(c)
		}
	}
	walk(s.Root)
	return out
}
