package harness

import (
	"errors"
	"fmt"
	"reflect"
	"slices"
	"sort"
	"strings"

	"github.com/roach88/canopy/internal/tree"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string
	Peer     string
	Expected string
	Actual   string
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "%s", e.Type)
	if e.Peer != "" {
		fmt.Fprintf(&buf, " on peer %s", e.Peer)
	}
	fmt.Fprintf(&buf, ": expected %s, actual %s", e.Expected, e.Actual)
	return buf.String()
}

// checkAssertion evaluates one assertion against the final trees.
func checkAssertion(a Assertion, r *Result) error {
	if a.Type == AssertConverged {
		return assertConverged(r)
	}

	peers := r.Peers
	if a.Peer != "" {
		peers = []string{a.Peer}
	}
	for _, p := range peers {
		snap, ok := r.Trees[p]
		if !ok {
			return fmt.Errorf("no tree for peer %q", p)
		}
		var err error
		switch a.Type {
		case AssertParent:
			err = assertParent(snap, a)
		case AssertName:
			err = assertName(snap, a)
		case AssertRooted:
			err = assertRooted(snap, a)
		case AssertDetached:
			err = assertDetached(snap, a)
		default:
			return fmt.Errorf("unknown assertion type %q", a.Type)
		}
		if err != nil {
			var ae *AssertionError
			if errors.As(err, &ae) {
				ae.Peer = p
			}
			return err
		}
	}
	return nil
}

func assertParent(snap tree.Snapshot, a Assertion) error {
	parents := snap.Parents()
	got, ok := parents[a.Node]
	if !ok {
		got = "(not rooted)"
	}
	if got != a.Parent {
		return &AssertionError{
			Type:     AssertParent,
			Expected: fmt.Sprintf("%s under %s", a.Node, a.Parent),
			Actual:   got,
		}
	}
	return nil
}

func assertName(snap tree.Snapshot, a Assertion) error {
	name, ok := findName(snap.Root, a.Node)
	if !ok {
		return &AssertionError{
			Type:     AssertName,
			Expected: fmt.Sprintf("%s named %q", a.Node, a.Name),
			Actual:   "node not rooted",
		}
	}
	if name != a.Name {
		return &AssertionError{
			Type:     AssertName,
			Expected: fmt.Sprintf("%q", a.Name),
			Actual:   fmt.Sprintf("%q", name),
		}
	}
	return nil
}

func findName(n tree.NodeSnapshot, id string) (string, bool) {
	if n.ID == id {
		return n.Name, true
	}
	for _, c := range n.Children {
		if name, ok := findName(c, id); ok {
			return name, true
		}
	}
	return "", false
}

func assertRooted(snap tree.Snapshot, a Assertion) error {
	parents := snap.Parents()
	var missing []string
	for _, id := range a.Nodes {
		if _, ok := parents[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return &AssertionError{
			Type:     AssertRooted,
			Expected: fmt.Sprintf("%v rooted", a.Nodes),
			Actual:   fmt.Sprintf("%v not rooted", missing),
		}
	}
	return nil
}

func assertDetached(snap tree.Snapshot, a Assertion) error {
	want := slices.Clone(a.Nodes)
	sort.Strings(want)
	got := snap.Detached
	if len(want) == 0 && len(got) == 0 {
		return nil
	}
	if !slices.Equal(want, got) {
		return &AssertionError{
			Type:     AssertDetached,
			Expected: fmt.Sprintf("%v", want),
			Actual:   fmt.Sprintf("%v", got),
		}
	}
	return nil
}

// assertConverged checks that every peer ended with the first peer's tree.
func assertConverged(r *Result) error {
	if len(r.Peers) == 0 {
		return nil
	}
	first := r.Trees[r.Peers[0]]
	for _, p := range r.Peers[1:] {
		if !reflect.DeepEqual(first, r.Trees[p]) {
			return &AssertionError{
				Type:     AssertConverged,
				Peer:     p,
				Expected: fmt.Sprintf("same tree as %s", r.Peers[0]),
				Actual:   "trees differ",
			}
		}
	}
	return nil
}
