package testutil

// FixedPeerGenerator generates the same peer id every time.
//
// This enables deterministic test execution: journals and golden snapshots
// record peer ids, so tests that create peers must not use random UUIDs.
//
// Thread-safety: FixedPeerGenerator is stateless and safe for concurrent use.
type FixedPeerGenerator struct {
	id string
}

// NewFixedPeerGenerator creates a generator that always returns id.
// If id is empty, Generate() returns "test-peer".
func NewFixedPeerGenerator(id string) *FixedPeerGenerator {
	if id == "" {
		id = "test-peer"
	}
	return &FixedPeerGenerator{id: id}
}

// Generate returns the fixed peer id.
//
// Implements engine.PeerIDGenerator.
func (g *FixedPeerGenerator) Generate() string {
	return g.id
}
