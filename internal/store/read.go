package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/canopy/internal/ir"
)

const selectOps = `
	SELECT id, seq, entity, key, value, peer, timestamp, provenance
	FROM ops
`

const replayOrder = `ORDER BY seq ASC, id COLLATE BINARY ASC`

// ReadOps returns every journaled record in replay order:
// ORDER BY seq ASC, id ASC COLLATE BINARY.
//
// Returns an empty slice (not nil) for an empty journal.
func (s *Store) ReadOps(ctx context.Context) ([]Record, error) {
	return s.queryRecords(ctx, selectOps+replayOrder)
}

// ReadOpsSince returns records with seq strictly greater than after.
func (s *Store) ReadOpsSince(ctx context.Context, after int64) ([]Record, error) {
	return s.Query(ctx, Filter{AfterSeq: after})
}

// History returns every journaled write to one field, oldest first.
func (s *Store) History(ctx context.Context, entity, key string) ([]Record, error) {
	return s.Query(ctx, Filter{Entity: entity, Key: key})
}

// ReadOp retrieves a single record by id.
// Returns sql.ErrNoRows if not found.
func (s *Store) ReadOp(ctx context.Context, id string) (Record, error) {
	row := s.db.QueryRowContext(ctx, selectOps+`WHERE id = ?`, id)
	return scanRecord(row)
}

// LastSeq returns the largest seq in the journal, or 0 if it is empty.
func (s *Store) LastSeq(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(seq) FROM ops`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("last seq: %w", err)
	}
	return seq.Int64, nil
}

// Count returns the number of journaled records.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM ops`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count ops: %w", err)
	}
	return n, nil
}

// Peers returns the distinct peer ids seen in the journal, sorted.
func (s *Store) Peers(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT peer FROM ops ORDER BY peer COLLATE BINARY ASC`)
	if err != nil {
		return nil, fmt.Errorf("query peers: %w", err)
	}
	defer rows.Close()

	peers := []string{}
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scan peer: %w", err)
		}
		peers = append(peers, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate peers: %w", err)
	}
	return peers, nil
}

func (s *Store) queryRecords(ctx context.Context, query string, args ...any) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query ops: %w", err)
	}
	defer rows.Close()

	recs := []Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ops: %w", err)
	}
	return recs, nil
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (Record, error) {
	var (
		rec   Record
		value string
		prov  string
	)
	err := row.Scan(
		&rec.ID,
		&rec.Seq,
		&rec.Op.ID,
		&rec.Op.Key,
		&value,
		&rec.Op.Peer,
		&rec.Op.Timestamp,
		&prov,
	)
	if err == sql.ErrNoRows {
		return Record{}, err
	}
	if err != nil {
		return Record{}, fmt.Errorf("scan op: %w", err)
	}

	rec.Op.Value, err = unmarshalValue(value)
	if err != nil {
		return Record{}, fmt.Errorf("scan op %s: %w", rec.ID, err)
	}
	rec.Provenance = ir.Provenance(prov)
	return rec, nil
}
