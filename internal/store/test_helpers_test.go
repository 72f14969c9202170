package store

import (
	"path/filepath"
	"testing"

	"github.com/roach88/canopy/internal/ir"
)

// createTestStore creates a new journal in a temp directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestRecord builds a record for an edge op.
func createTestRecord(t *testing.T, entity, key string, value ir.Value, peer string, ts, seq int64, prov ir.Provenance) Record {
	t.Helper()
	rec, err := NewRecord(ir.Op{ID: entity, Key: key, Value: value, Peer: peer, Timestamp: ts}, seq, prov)
	if err != nil {
		t.Fatalf("NewRecord() failed: %v", err)
	}
	return rec
}
