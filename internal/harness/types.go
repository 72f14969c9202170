package harness

import (
	"fmt"
	"strings"

	"github.com/roach88/canopy/internal/tree"
)

// TraceEvent records one executed step.
type TraceEvent struct {
	Step   int      `json:"step"`
	Peer   string   `json:"peer,omitempty"` // empty for sync
	Action string   `json:"action"`
	Ops    []string `json:"ops,omitempty"`
	Note   string   `json:"note,omitempty"`
}

// String renders the event as one trace line.
func (e TraceEvent) String() string {
	peer := e.Peer
	if peer == "" {
		peer = "*"
	}
	line := fmt.Sprintf("%d %s %s", e.Step, peer, e.Action)
	if len(e.Ops) > 0 {
		line += " " + strings.Join(e.Ops, " ")
	}
	if e.Note != "" {
		line += " (" + e.Note + ")"
	}
	return line
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true if every assertion held.
	Pass bool `json:"pass"`

	// Trace lists every step in execution order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains assertion failures. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Peers is the declared peer order.
	Peers []string `json:"peers"`

	// Trees holds each peer's final tree.
	Trees map[string]tree.Snapshot `json:"trees"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
		Trees:  make(map[string]tree.Snapshot),
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddTrace appends a step to the trace.
func (r *Result) AddTrace(ev TraceEvent) {
	r.Trace = append(r.Trace, ev)
}
