package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/roach88/canopy/internal/store"
)

// PeerIDGenerator creates peer ids.
type PeerIDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 peer ids.
//
// Peer ids break LWW timestamp ties, so they only need to be unique and
// stable per replica. UUIDv7 also sorts by creation time, which keeps
// journal dumps readable.
//
// Thread-safety: UUIDv7Generator is stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate creates a new UUIDv7 and returns it as a hyphenated string.
// Panics if UUID generation fails (should never happen in practice).
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// ResolvePeerID decides which peer id a replica runs as.
//
// Precedence: an explicitly configured id, then the id persisted in the
// journal, then a freshly generated one. Whatever is chosen is persisted, so
// a restarted peer keeps its identity. A nil journal skips persistence.
func ResolvePeerID(ctx context.Context, journal *store.Store, configured string, gen PeerIDGenerator) (string, error) {
	if journal == nil {
		if configured != "" {
			return configured, nil
		}
		return gen.Generate(), nil
	}

	stored, ok, err := journal.PeerID(ctx)
	if err != nil {
		return "", NewJournalError("", "read peer id", err)
	}

	id := configured
	switch {
	case id == "" && ok:
		return stored, nil
	case id == "":
		id = gen.Generate()
	case ok && stored == id:
		return id, nil
	}

	if err := journal.SetPeerID(ctx, id); err != nil {
		return "", NewJournalError(id, fmt.Sprintf("persist peer id %q", id), err)
	}
	return id, nil
}
