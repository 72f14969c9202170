package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/roach88/canopy/internal/engine"
	"github.com/roach88/canopy/internal/ir"
	"github.com/roach88/canopy/internal/testutil"
	"github.com/roach88/canopy/internal/tree"
)

// Harness drives one scenario's peers.
type Harness struct {
	peers  map[string]*engine.Engine
	order  []string
	logger *slog.Logger
}

// Run executes a scenario and returns the result.
//
// Every peer is a fresh engine with its own deterministic clock, so two
// runs of the same scenario produce identical ops, trees and traces.
//
// A step that cannot run (unknown peer, stopped engine) is an error; a
// failed assertion is recorded in the result instead.
func Run(scenario *Scenario) (*Result, error) {
	orphans, err := tree.ParseOrphanPolicy(scenario.Orphans)
	if err != nil {
		return nil, err
	}
	rootID := scenario.RootID
	if rootID == "" {
		rootID = tree.DefaultRootID
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &Harness{
		peers:  make(map[string]*engine.Engine, len(scenario.Peers)),
		order:  scenario.Peers,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)), // Suppress logs in scenario runs
	}
	for _, p := range scenario.Peers {
		e := engine.New(p,
			engine.WithClock(testutil.NewDeterministicClock()),
			engine.WithRootID(rootID),
			engine.WithOrphanPolicy(orphans),
			engine.WithLogger(h.logger),
		)
		go e.Run(ctx)
		h.peers[p] = e
	}
	defer func() {
		cancel()
		for _, e := range h.peers {
			<-e.Done()
		}
	}()

	result := NewResult()
	result.Peers = slices.Clone(scenario.Peers)

	for i, step := range scenario.Steps {
		ev, err := h.executeStep(ctx, step)
		if err != nil {
			return nil, fmt.Errorf("step %d (%s): %w", i+1, step.Action, err)
		}
		ev.Step = i + 1
		result.AddTrace(ev)
	}

	for _, p := range h.order {
		snap, err := h.peers[p].Snapshot(ctx)
		if err != nil {
			return nil, fmt.Errorf("snapshot %s: %w", p, err)
		}
		result.Trees[p] = snap
	}

	for i, a := range scenario.Assertions {
		if err := checkAssertion(a, result); err != nil {
			result.AddError(fmt.Sprintf("assertions[%d]: %s", i, err))
		}
	}
	return result, nil
}

func (h *Harness) peer(id string) (*engine.Engine, error) {
	e, ok := h.peers[id]
	if !ok {
		return nil, fmt.Errorf("unknown peer %q", id)
	}
	return e, nil
}

// executeStep runs one step and describes it for the trace.
func (h *Harness) executeStep(ctx context.Context, step Step) (TraceEvent, error) {
	ev := TraceEvent{Peer: step.Peer, Action: step.Action}
	if step.Action == ActionSync {
		ev.Peer = ""
		n, err := h.sync(ctx, step)
		ev.Note = fmt.Sprintf("delivered %d ops", n)
		return ev, err
	}

	e, err := h.peer(step.Peer)
	if err != nil {
		return ev, err
	}

	switch step.Action {
	case ActionMove:
		ops, err := e.Move(ctx, step.Child, step.Parent)
		if err != nil {
			return ev, err
		}
		ev.Ops = opStrings(ops...)
		if len(ops) == 0 {
			ev.Note = "no-op"
		}

	case ActionRename:
		op, err := e.Rename(ctx, step.ID, step.Name)
		if err != nil {
			return ev, err
		}
		ev.Ops = opStrings(op)

	case ActionSet:
		v, err := stepValue(step.Value)
		if err != nil {
			return ev, err
		}
		op, err := e.Set(ctx, step.ID, step.Key, v)
		if err != nil {
			return ev, err
		}
		ev.Ops = opStrings(op)

	case ActionUndo:
		ok, err := e.Undo(ctx)
		if err != nil {
			return ev, err
		}
		ev.Note = "undone"
		if !ok {
			ev.Note = "nothing to undo"
		}

	case ActionRedo:
		ok, err := e.Redo(ctx)
		if err != nil {
			return ev, err
		}
		ev.Note = "redone"
		if !ok {
			ev.Note = "nothing to redo"
		}

	default:
		return ev, fmt.Errorf("unknown action %q", step.Action)
	}
	return ev, nil
}

// sync copies every field of each source peer to each target peer, one op
// per apply, in declared peer order. Returns the number of applies.
func (h *Harness) sync(ctx context.Context, step Step) (int, error) {
	from := h.order
	if step.From != "" {
		from = []string{step.From}
	}
	to := h.order
	if step.To != "" {
		to = []string{step.To}
	}

	n := 0
	for _, src := range from {
		se, err := h.peer(src)
		if err != nil {
			return n, err
		}
		for _, dst := range to {
			if dst == src {
				continue
			}
			de, err := h.peer(dst)
			if err != nil {
				return n, err
			}

			ops, err := se.State(ctx)
			if err != nil {
				return n, err
			}
			if step.Order == OrderReverse {
				slices.Reverse(ops)
			}
			times := 1
			if step.Duplicate {
				times = 2
			}
			for _, op := range ops {
				for k := 0; k < times; k++ {
					if _, err := de.Apply(ctx, op); err != nil {
						return n, err
					}
					n++
				}
			}
		}
	}
	return n, nil
}

func opStrings(ops ...ir.Op) []string {
	out := make([]string, len(ops))
	for i, op := range ops {
		out[i] = op.String()
	}
	return out
}
