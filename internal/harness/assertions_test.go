package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/canopy/internal/tree"
)

// sampleResult has peer a with root -> x "Ex" -> y and a detached z, and
// peer b with only root -> x.
func sampleResult() *Result {
	r := NewResult()
	r.Peers = []string{"a", "b"}
	r.Trees["a"] = tree.Snapshot{
		Root: tree.NodeSnapshot{ID: "root", Children: []tree.NodeSnapshot{
			{ID: "x", Name: "Ex", Children: []tree.NodeSnapshot{{ID: "y"}}},
		}},
		Detached: []string{"z"},
	}
	r.Trees["b"] = tree.Snapshot{
		Root: tree.NodeSnapshot{ID: "root", Children: []tree.NodeSnapshot{{ID: "x"}}},
	}
	return r
}

func TestCheckAssertion(t *testing.T) {
	tests := []struct {
		name    string
		a       Assertion
		wantErr string
	}{
		{"parent holds", Assertion{Type: AssertParent, Peer: "a", Node: "y", Parent: "x"}, ""},
		{"parent wrong", Assertion{Type: AssertParent, Peer: "a", Node: "y", Parent: "root"}, "parent on peer a: expected y under root, actual x"},
		{"parent missing", Assertion{Type: AssertParent, Node: "y", Parent: "x"}, "parent on peer b: expected y under x, actual (not rooted)"},
		{"name holds", Assertion{Type: AssertName, Peer: "a", Node: "x", Name: "Ex"}, ""},
		{"name differs", Assertion{Type: AssertName, Peer: "b", Node: "x", Name: "Ex"}, `name on peer b: expected "Ex", actual ""`},
		{"name on detached node", Assertion{Type: AssertName, Peer: "a", Node: "z", Name: ""}, "node not rooted"},
		{"rooted holds", Assertion{Type: AssertRooted, Nodes: []string{"x"}}, ""},
		{"rooted fails", Assertion{Type: AssertRooted, Peer: "a", Nodes: []string{"x", "z"}}, "[z] not rooted"},
		{"detached holds", Assertion{Type: AssertDetached, Peer: "a", Nodes: []string{"z"}}, ""},
		{"detached empty", Assertion{Type: AssertDetached, Peer: "b"}, ""},
		{"detached differs", Assertion{Type: AssertDetached, Nodes: []string{"z"}}, "detached on peer b"},
		{"converged fails", Assertion{Type: AssertConverged}, "converged on peer b"},
		{"unknown type", Assertion{Type: "shape"}, `unknown assertion type "shape"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkAssertion(tt.a, sampleResult())
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestCheckAssertion_ConvergedHolds(t *testing.T) {
	r := sampleResult()
	r.Trees["b"] = r.Trees["a"]
	assert.NoError(t, checkAssertion(Assertion{Type: AssertConverged}, r))
}

func TestCheckAssertion_MissingTree(t *testing.T) {
	r := sampleResult()
	err := checkAssertion(Assertion{Type: AssertRooted, Peer: "c", Nodes: []string{"x"}}, r)
	assert.ErrorContains(t, err, `no tree for peer "c"`)
}
