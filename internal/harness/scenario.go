package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/canopy/internal/ir"
	"github.com/roach88/canopy/internal/tree"
)

// Scenario defines a convergence scenario.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Peers lists the replica ids. The first peer's tree is the golden output.
	Peers []string `yaml:"peers"`

	// RootID overrides the root node id (default "root").
	RootID string `yaml:"root_id,omitempty"`

	// Orphans selects the orphan policy: attach (default) or detach.
	Orphans string `yaml:"orphans,omitempty"`

	// Steps run in order.
	Steps []Step `yaml:"steps"`

	// Assertions validate every peer's final tree.
	Assertions []Assertion `yaml:"assertions"`
}

// Step is one scenario action. Which fields apply depends on Action.
type Step struct {
	Action string `yaml:"action"`

	// Peer runs the step (every action except sync).
	Peer string `yaml:"peer,omitempty"`

	// move
	Child  string `yaml:"child,omitempty"`
	Parent string `yaml:"parent,omitempty"`

	// rename and set
	ID   string `yaml:"id,omitempty"`
	Name string `yaml:"name,omitempty"`

	// set: Value is an integer, a string, or null for the tombstone.
	Key   string `yaml:"key,omitempty"`
	Value any    `yaml:"value,omitempty"`

	// sync: From and To default to every peer.
	From      string `yaml:"from,omitempty"`
	To        string `yaml:"to,omitempty"`
	Order     string `yaml:"order,omitempty"`
	Duplicate bool   `yaml:"duplicate,omitempty"`
}

// Assertion validates the final trees.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Peer limits the assertion to one peer. Empty means every peer.
	Peer string `yaml:"peer,omitempty"`

	// Node is the node under test (parent, name).
	Node string `yaml:"node,omitempty"`

	// Parent is the expected parent id (parent).
	Parent string `yaml:"parent,omitempty"`

	// Name is the expected display name (name).
	Name string `yaml:"name,omitempty"`

	// Nodes lists node ids (rooted, detached).
	Nodes []string `yaml:"nodes,omitempty"`
}

// Step actions.
const (
	ActionMove   = "move"
	ActionRename = "rename"
	ActionSet    = "set"
	ActionUndo   = "undo"
	ActionRedo   = "redo"
	ActionSync   = "sync"
)

// Sync orders.
const (
	OrderForward = "forward"
	OrderReverse = "reverse"
)

// Assertion type constants.
const (
	AssertParent    = "parent"
	AssertName      = "name"
	AssertRooted    = "rooted"
	AssertDetached  = "detached"
	AssertConverged = "converged"
)

// LoadScenario reads, schema-checks and parses a scenario YAML file.
// Returns an error if the file doesn't exist, fails the schema, contains
// unknown fields, or references undeclared peers.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario is LoadScenario for in-memory YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	if errs := CheckSchema(data); len(errs) > 0 {
		return nil, fmt.Errorf("invalid scenario: %w", errs[0])
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks what the schema cannot: required fields, peer
// references and value types.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(s.Peers) == 0 {
		return fmt.Errorf("peers list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}
	if _, err := tree.ParseOrphanPolicy(s.Orphans); err != nil {
		return err
	}

	known := make(map[string]bool, len(s.Peers))
	for _, p := range s.Peers {
		if p == "" {
			return fmt.Errorf("peer ids must be non-empty")
		}
		if known[p] {
			return fmt.Errorf("duplicate peer %q", p)
		}
		known[p] = true
	}
	checkPeer := func(where, p string, optional bool) error {
		if p == "" && optional {
			return nil
		}
		if !known[p] {
			return fmt.Errorf("%s: unknown peer %q", where, p)
		}
		return nil
	}

	for i, step := range s.Steps {
		where := fmt.Sprintf("steps[%d]", i)
		switch step.Action {
		case ActionMove:
			if step.Child == "" || step.Parent == "" {
				return fmt.Errorf("%s: move needs child and parent", where)
			}
		case ActionRename:
			if step.ID == "" {
				return fmt.Errorf("%s: rename needs id", where)
			}
		case ActionSet:
			if step.ID == "" || step.Key == "" {
				return fmt.Errorf("%s: set needs id and key", where)
			}
			if _, err := stepValue(step.Value); err != nil {
				return fmt.Errorf("%s: %w", where, err)
			}
		case ActionUndo, ActionRedo:
		case ActionSync:
			if err := checkPeer(where+".from", step.From, true); err != nil {
				return err
			}
			if err := checkPeer(where+".to", step.To, true); err != nil {
				return err
			}
			if step.Order != "" && step.Order != OrderForward && step.Order != OrderReverse {
				return fmt.Errorf("%s: unknown order %q", where, step.Order)
			}
			continue
		default:
			return fmt.Errorf("%s: unknown action %q", where, step.Action)
		}
		if err := checkPeer(where, step.Peer, false); err != nil {
			return err
		}
	}

	for i, a := range s.Assertions {
		where := fmt.Sprintf("assertions[%d]", i)
		if err := checkPeer(where, a.Peer, true); err != nil {
			return err
		}
		switch a.Type {
		case AssertParent:
			if a.Node == "" || a.Parent == "" {
				return fmt.Errorf("%s: parent needs node and parent", where)
			}
		case AssertName:
			if a.Node == "" {
				return fmt.Errorf("%s: name needs node", where)
			}
		case AssertRooted, AssertDetached, AssertConverged:
		default:
			return fmt.Errorf("%s: unknown assertion type %q", where, a.Type)
		}
	}
	return nil
}

// stepValue converts a YAML scalar into a field value.
func stepValue(v any) (ir.Value, error) {
	switch v := v.(type) {
	case nil:
		return ir.Absent{}, nil
	case int:
		return ir.Int(v), nil
	case int64:
		return ir.Int(v), nil
	case string:
		return ir.String(v), nil
	default:
		return nil, fmt.Errorf("value must be an integer, a string or null, got %T", v)
	}
}
