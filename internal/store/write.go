package store

import (
	"context"
	"fmt"

	"github.com/roach88/canopy/internal/ir"
)

// Record is one journal row.
type Record struct {
	ID         string
	Seq        int64
	Op         ir.Op
	Provenance ir.Provenance
}

// NewRecord builds a journal record, computing the op's content hash.
func NewRecord(op ir.Op, seq int64, prov ir.Provenance) (Record, error) {
	id, err := ir.OpID(op)
	if err != nil {
		return Record{}, fmt.Errorf("new record: %w", err)
	}
	return Record{ID: id, Seq: seq, Op: op, Provenance: prov}, nil
}

// WriteOp appends a record to the journal.
// Uses ON CONFLICT(id) DO NOTHING for idempotency - an op already journaled
// (for example a local op echoed back by the relay) is silently ignored.
// Returns whether a row was inserted.
func (s *Store) WriteOp(ctx context.Context, rec Record) (bool, error) {
	value, err := marshalValue(rec.Op.Value)
	if err != nil {
		return false, fmt.Errorf("write op: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO ops
		(id, seq, entity, key, value, peer, timestamp, provenance)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		rec.ID,
		rec.Seq,
		rec.Op.ID,
		rec.Op.Key,
		value,
		rec.Op.Peer,
		rec.Op.Timestamp,
		string(rec.Provenance),
	)
	if err != nil {
		return false, fmt.Errorf("write op: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("write op: %w", err)
	}
	return n > 0, nil
}

// WriteOps appends records in one transaction. Returns how many were new.
func (s *Store) WriteOps(ctx context.Context, recs []Record) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("write ops: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO ops
		(id, seq, entity, key, value, peer, timestamp, provenance)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`)
	if err != nil {
		return 0, fmt.Errorf("write ops: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for _, rec := range recs {
		value, err := marshalValue(rec.Op.Value)
		if err != nil {
			return 0, fmt.Errorf("write ops: %w", err)
		}
		res, err := stmt.ExecContext(ctx,
			rec.ID, rec.Seq, rec.Op.ID, rec.Op.Key, value,
			rec.Op.Peer, rec.Op.Timestamp, string(rec.Provenance),
		)
		if err != nil {
			return 0, fmt.Errorf("write ops: %w", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("write ops: %w", err)
	}
	return inserted, nil
}
