package engine

import (
	"context"
	"reflect"
	"slices"

	"github.com/roach88/canopy/internal/ir"
	"github.com/roach88/canopy/internal/replica"
	"github.com/roach88/canopy/internal/store"
	"github.com/roach88/canopy/internal/tree"
)

// Replay rebuilds the tree from a journal in seq order without starting an
// engine. Returns the snapshot and the number of records applied.
func Replay(ctx context.Context, journal *store.Store, opts ...tree.Option) (tree.Snapshot, int, error) {
	r := replica.New("replay")
	t := tree.New(r, opts...)

	n := 0
	err := journal.Replay(ctx, func(rec store.Record) error {
		r.Apply(rec.Op, rec.Provenance)
		n++
		return nil
	})
	if err != nil {
		return tree.Snapshot{}, n, NewJournalError("", "replay", err)
	}
	return t.Snapshot(), n, nil
}

// VerifyReplay applies the journal forward and in reverse to two fresh
// replicas and checks that both end with the same fields and the same tree.
//
// Apply is commutative and idempotent, so any difference means the journal
// holds ops that the resolution rule cannot order (or a bug in it).
// Returns the forward snapshot on success.
func VerifyReplay(ctx context.Context, journal *store.Store, opts ...tree.Option) (tree.Snapshot, error) {
	recs, err := journal.ReadOps(ctx)
	if err != nil {
		return tree.Snapshot{}, NewJournalError("", "read journal", err)
	}

	fwdStore, fwdTree := rebuild(recs, false, opts)
	revStore, revTree := rebuild(recs, true, opts)

	if !slices.Equal(fwdStore.Snapshot(), revStore.Snapshot()) {
		return tree.Snapshot{}, NewNondeterministicError("fields", len(recs))
	}
	fwd, rev := fwdTree.Snapshot(), revTree.Snapshot()
	if !reflect.DeepEqual(fwd, rev) {
		return tree.Snapshot{}, NewNondeterministicError("trees", len(recs))
	}
	return fwd, nil
}

func rebuild(recs []store.Record, reverse bool, opts []tree.Option) (*replica.Store, *tree.Tree) {
	r := replica.New("replay")
	t := tree.New(r, opts...)
	apply := func(rec store.Record) {
		r.Apply(rec.Op, ir.ProvenanceRemote)
	}
	if reverse {
		for i := len(recs) - 1; i >= 0; i-- {
			apply(recs[i])
		}
	} else {
		for _, rec := range recs {
			apply(rec)
		}
	}
	return r, t
}
