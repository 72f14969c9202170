package store

import (
	"context"
	"database/sql"
	"errors"
	"reflect"
	"testing"

	"github.com/roach88/canopy/internal/ir"
)

func seedJournal(t *testing.T, s *Store) []Record {
	t.Helper()
	recs := []Record{
		createTestRecord(t, "b", "root", ir.Int(0), "p1", 5, 2, ir.ProvenanceRemote),
		createTestRecord(t, "a", "root", ir.Int(0), "p0", 3, 1, ir.ProvenanceLocal),
		createTestRecord(t, "a", "b", ir.Int(1), "p0", 7, 3, ir.ProvenanceLocal),
		createTestRecord(t, "a", "b", ir.Absent{}, "p0", 9, 4, ir.ProvenanceLocal),
	}
	for _, rec := range recs {
		if _, err := s.WriteOp(context.Background(), rec); err != nil {
			t.Fatalf("WriteOp() failed: %v", err)
		}
	}
	return recs
}

func seqs(recs []Record) []int64 {
	out := make([]int64, len(recs))
	for i, r := range recs {
		out[i] = r.Seq
	}
	return out
}

func TestReadOps_SeqOrder(t *testing.T) {
	s := createTestStore(t)
	seedJournal(t, s)

	recs, err := s.ReadOps(context.Background())
	if err != nil {
		t.Fatalf("ReadOps() failed: %v", err)
	}
	if got := seqs(recs); !reflect.DeepEqual(got, []int64{1, 2, 3, 4}) {
		t.Errorf("ReadOps() seqs = %v", got)
	}
}

func TestReadOps_EmptyIsNotNil(t *testing.T) {
	s := createTestStore(t)

	recs, err := s.ReadOps(context.Background())
	if err != nil {
		t.Fatalf("ReadOps() failed: %v", err)
	}
	if recs == nil || len(recs) != 0 {
		t.Errorf("ReadOps() = %#v, want empty slice", recs)
	}
}

func TestReadOpsSince(t *testing.T) {
	s := createTestStore(t)
	seedJournal(t, s)

	recs, err := s.ReadOpsSince(context.Background(), 2)
	if err != nil {
		t.Fatalf("ReadOpsSince() failed: %v", err)
	}
	if got := seqs(recs); !reflect.DeepEqual(got, []int64{3, 4}) {
		t.Errorf("ReadOpsSince(2) seqs = %v", got)
	}
}

func TestHistory(t *testing.T) {
	s := createTestStore(t)
	seedJournal(t, s)

	recs, err := s.History(context.Background(), "a", "b")
	if err != nil {
		t.Fatalf("History() failed: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("History() len = %d, want 2", len(recs))
	}
	if !ir.Equal(recs[0].Op.Value, ir.Int(1)) || !ir.IsAbsent(recs[1].Op.Value) {
		t.Errorf("History() values = %v, %v", recs[0].Op.Value, recs[1].Op.Value)
	}
}

func TestReadOp_NotFound(t *testing.T) {
	s := createTestStore(t)

	_, err := s.ReadOp(context.Background(), "missing")
	if !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("ReadOp() err = %v, want sql.ErrNoRows", err)
	}
}

func TestLastSeqAndCount(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	seq, err := s.LastSeq(ctx)
	if err != nil || seq != 0 {
		t.Errorf("LastSeq() on empty = %d, %v", seq, err)
	}

	seedJournal(t, s)

	seq, err = s.LastSeq(ctx)
	if err != nil || seq != 4 {
		t.Errorf("LastSeq() = %d, %v; want 4", seq, err)
	}
	n, err := s.Count(ctx)
	if err != nil || n != 4 {
		t.Errorf("Count() = %d, %v; want 4", n, err)
	}
}

func TestPeers(t *testing.T) {
	s := createTestStore(t)
	seedJournal(t, s)

	peers, err := s.Peers(context.Background())
	if err != nil {
		t.Fatalf("Peers() failed: %v", err)
	}
	if !reflect.DeepEqual(peers, []string{"p0", "p1"}) {
		t.Errorf("Peers() = %v", peers)
	}
}

func TestMarshalValue_RoundTrip(t *testing.T) {
	for _, v := range []ir.Value{ir.Absent{}, ir.Int(-3), ir.String("x")} {
		data, err := marshalValue(v)
		if err != nil {
			t.Fatalf("marshalValue(%v) failed: %v", v, err)
		}
		back, err := unmarshalValue(data)
		if err != nil {
			t.Fatalf("unmarshalValue(%s) failed: %v", data, err)
		}
		if !ir.Equal(back, v) {
			t.Errorf("round trip %v -> %s -> %v", v, data, back)
		}
	}
}

func TestUnmarshalValue_Corrupt(t *testing.T) {
	if _, err := unmarshalValue("1.5"); err == nil {
		t.Error("unmarshalValue(1.5) should fail")
	}
	if _, err := unmarshalValue("{"); err == nil {
		t.Error("unmarshalValue({) should fail")
	}
}
