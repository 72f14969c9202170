package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/canopy/internal/ir"
)

// Filter selects journal records. Zero fields match everything; set fields
// are ANDed together.
type Filter struct {
	Entity     string
	Key        string
	Peer       string
	Provenance ir.Provenance
	// Value matches the stored value exactly; Absent matches tombstones.
	// nil matches any value.
	Value    ir.Value
	AfterSeq int64
	// Limit caps the number of records; 0 means no cap.
	Limit int
}

// Query returns the records matching f in replay order.
func (s *Store) Query(ctx context.Context, f Filter) ([]Record, error) {
	query, args, err := compileFilter(f)
	if err != nil {
		return nil, err
	}
	return s.queryRecords(ctx, query, args...)
}

// compileFilter turns f into parameterized SQL. Values are always bound as
// parameters, and every query ends with the replay order so results are
// deterministic.
func compileFilter(f Filter) (string, []any, error) {
	var (
		preds []string
		args  []any
	)
	eq := func(column string, v any) {
		preds = append(preds, column+" = ?")
		args = append(args, v)
	}

	if f.Entity != "" {
		eq("entity", f.Entity)
	}
	if f.Key != "" {
		eq("key", f.Key)
	}
	if f.Peer != "" {
		eq("peer", f.Peer)
	}
	if f.Provenance != "" {
		eq("provenance", string(f.Provenance))
	}
	if f.Value != nil {
		v, err := marshalValue(f.Value)
		if err != nil {
			return "", nil, fmt.Errorf("compile filter: %w", err)
		}
		eq("value", v)
	}
	if f.AfterSeq > 0 {
		preds = append(preds, "seq > ?")
		args = append(args, f.AfterSeq)
	}

	var b strings.Builder
	b.WriteString(selectOps)
	if len(preds) > 0 {
		b.WriteString("WHERE ")
		b.WriteString(strings.Join(preds, " AND "))
		b.WriteString(" ")
	}
	b.WriteString(replayOrder)
	if f.Limit > 0 {
		b.WriteString(" LIMIT ?")
		args = append(args, f.Limit)
	}
	return b.String(), args, nil
}
