package harness

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// Golden renders a result for golden comparison: the first peer's final
// tree, then one line per step.
//
//	scenario: basic_move
//	peer: a
//	root
//	  x
//	trace:
//	  1 a move x.root=0@1/a
func Golden(name string, r *Result) ([]byte, error) {
	if len(r.Peers) == 0 {
		return nil, fmt.Errorf("golden %s: result has no peers", name)
	}
	first := r.Peers[0]

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "scenario: %s\n", name)
	fmt.Fprintf(&buf, "peer: %s\n", first)
	if err := r.Trees[first].Render(&buf); err != nil {
		return nil, fmt.Errorf("golden %s: %w", name, err)
	}
	buf.WriteString("trace:\n")
	for _, ev := range r.Trace {
		fmt.Fprintf(&buf, "  %s\n", ev)
	}
	return buf.Bytes(), nil
}

// GoldenDir is where golden files live, relative to the test's package.
const GoldenDir = "testdata/golden"

// RunWithGolden executes a scenario and compares its rendering against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns the result so callers can also check assertions.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an existing result against its golden file.
func AssertGolden(t *testing.T, name string, result *Result) error {
	t.Helper()

	out, err := Golden(name, result)
	if err != nil {
		return err
	}
	g := goldie.New(t,
		goldie.WithFixtureDir(GoldenDir),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, out)
	return nil
}
