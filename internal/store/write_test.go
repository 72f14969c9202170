package store

import (
	"context"
	"testing"

	"github.com/roach88/canopy/internal/ir"
)

func TestWriteOp_Inserts(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	rec := createTestRecord(t, "n1", "root", ir.Int(0), "a", 10, 1, ir.ProvenanceLocal)

	inserted, err := s.WriteOp(ctx, rec)
	if err != nil {
		t.Fatalf("WriteOp() failed: %v", err)
	}
	if !inserted {
		t.Error("first WriteOp() should insert")
	}

	got, err := s.ReadOp(ctx, rec.ID)
	if err != nil {
		t.Fatalf("ReadOp() failed: %v", err)
	}
	if got.Seq != 1 || got.Provenance != ir.ProvenanceLocal {
		t.Errorf("ReadOp() = seq %d prov %q", got.Seq, got.Provenance)
	}
	if got.Op.ID != "n1" || got.Op.Key != "root" || !ir.Equal(got.Op.Value, ir.Int(0)) {
		t.Errorf("ReadOp() op = %s", got.Op)
	}
}

func TestWriteOp_Idempotent(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	local := createTestRecord(t, "n1", "root", ir.Int(0), "a", 10, 1, ir.ProvenanceLocal)
	// Same op echoed back by the relay, with a later seq.
	echo := createTestRecord(t, "n1", "root", ir.Int(0), "a", 10, 2, ir.ProvenanceRemote)

	if local.ID != echo.ID {
		t.Fatalf("record id depends on seq/provenance: %s vs %s", local.ID, echo.ID)
	}

	if _, err := s.WriteOp(ctx, local); err != nil {
		t.Fatalf("WriteOp() failed: %v", err)
	}
	inserted, err := s.WriteOp(ctx, echo)
	if err != nil {
		t.Fatalf("duplicate WriteOp() failed: %v", err)
	}
	if inserted {
		t.Error("duplicate WriteOp() should not insert")
	}

	n, err := s.Count(ctx)
	if err != nil {
		t.Fatalf("Count() failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Count() = %d, want 1", n)
	}

	got, _ := s.ReadOp(ctx, local.ID)
	if got.Provenance != ir.ProvenanceLocal || got.Seq != 1 {
		t.Errorf("first write must win: got seq %d prov %q", got.Seq, got.Provenance)
	}
}

func TestWriteOp_Tombstone(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	rec := createTestRecord(t, "n1", "old", ir.Absent{}, "a", 11, 1, ir.ProvenanceLocal)

	if _, err := s.WriteOp(ctx, rec); err != nil {
		t.Fatalf("WriteOp() failed: %v", err)
	}

	var raw string
	if err := s.db.QueryRow("SELECT value FROM ops WHERE id = ?", rec.ID).Scan(&raw); err != nil {
		t.Fatalf("query value: %v", err)
	}
	if raw != "null" {
		t.Errorf("stored tombstone = %q, want null", raw)
	}

	got, _ := s.ReadOp(ctx, rec.ID)
	if !ir.IsAbsent(got.Op.Value) {
		t.Errorf("read tombstone = %v", got.Op.Value)
	}
}

func TestWriteOp_StringValueCanonical(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	rec := createTestRecord(t, "n1", ir.NameKey, ir.String("<b>&</b>"), "a", 1, 1, ir.ProvenanceLocal)

	if _, err := s.WriteOp(ctx, rec); err != nil {
		t.Fatalf("WriteOp() failed: %v", err)
	}

	var raw string
	if err := s.db.QueryRow("SELECT value FROM ops WHERE id = ?", rec.ID).Scan(&raw); err != nil {
		t.Fatalf("query value: %v", err)
	}
	if raw != `"<b>&</b>"` {
		t.Errorf("stored value = %s, want unescaped HTML characters", raw)
	}
}

func TestWriteOp_LargeCounter(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	big := ir.Int(1<<62 + 1)
	rec := createTestRecord(t, "n1", "p", big, "a", 1, 1, ir.ProvenanceRemote)

	if _, err := s.WriteOp(ctx, rec); err != nil {
		t.Fatalf("WriteOp() failed: %v", err)
	}
	got, _ := s.ReadOp(ctx, rec.ID)
	if !ir.Equal(got.Op.Value, big) {
		t.Errorf("counter round trip = %v, want %v", got.Op.Value, big)
	}
}

func TestWriteOps_Batch(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	a := createTestRecord(t, "x", "root", ir.Int(0), "a", 1, 1, ir.ProvenanceLocal)
	b := createTestRecord(t, "y", "x", ir.Int(0), "a", 2, 2, ir.ProvenanceLocal)

	n, err := s.WriteOps(ctx, []Record{a, b, a})
	if err != nil {
		t.Fatalf("WriteOps() failed: %v", err)
	}
	if n != 2 {
		t.Errorf("WriteOps() inserted %d, want 2", n)
	}
}

func TestWriteOp_ContextCancelled(t *testing.T) {
	s := createTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec := createTestRecord(t, "x", "root", ir.Int(0), "a", 1, 1, ir.ProvenanceLocal)
	if _, err := s.WriteOp(ctx, rec); err == nil {
		t.Error("WriteOp() with cancelled context should fail")
	}
}
