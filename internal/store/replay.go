package store

import (
	"context"
	"fmt"
)

// Replay streams every record in replay order to fn.
// Iteration stops at the first error from fn, which is returned wrapped.
//
// Records are streamed from a live cursor, so fn must not write to the
// journal (the single connection is busy until Replay returns).
func (s *Store) Replay(ctx context.Context, fn func(Record) error) error {
	rows, err := s.db.QueryContext(ctx, selectOps+`ORDER BY seq ASC, id COLLATE BINARY ASC`)
	if err != nil {
		return fmt.Errorf("replay: %w", err)
	}
	defer rows.Close()

	n := 0
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return fmt.Errorf("replay: %w", err)
		}
		if err := fn(rec); err != nil {
			return fmt.Errorf("replay record %d (seq %d): %w", n, rec.Seq, err)
		}
		n++
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("replay: %w", err)
	}
	return nil
}

// Stats summarizes the journal.
type Stats struct {
	Records  int
	Local    int
	Remote   int
	Peers    []string
	LastSeq  int64
	Entities int
}

// Stats computes a summary of the journal for the trace command.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN provenance = 'local' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN provenance = 'remote' THEN 1 ELSE 0 END), 0),
			COALESCE(MAX(seq), 0),
			COUNT(DISTINCT entity)
		FROM ops
	`).Scan(&st.Records, &st.Local, &st.Remote, &st.LastSeq, &st.Entities)
	if err != nil {
		return Stats{}, fmt.Errorf("journal stats: %w", err)
	}

	st.Peers, err = s.Peers(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("journal stats: %w", err)
	}
	return st, nil
}
