// Package engine runs one Canopy peer.
//
// ARCHITECTURE:
//
// Single-Writer Event Loop:
// The replicated store, the tree projected from it and the undo log are not
// safe for concurrent use. The engine owns all three and touches them from
// the Run goroutine only. This ensures:
//   - one remote op is one apply followed by one recompute
//   - local commands never interleave with a half-applied remote op
//   - journal order matches apply order
//
// Event Processing Flow:
//  1. Remote ops (from the transport) and local commands (Move, Rename,
//     Undo, Redo, Snapshot) are enqueued to one FIFO queue
//  2. Run dequeues events one at a time and applies them
//  3. Every applied op, local or remote, is appended to the SQLite journal
//  4. Local ops are then handed to the outbox, which a separate goroutine
//     publishes to the transport
//
// Restart:
// On Run the journal is replayed in seq order before any event is
// processed. Replayed ops are neither journaled again nor published, and
// undo history starts empty.
//
// Determinism:
// VerifyReplay applies the journal forward and in reverse and compares the
// results. LWW apply is commutative, so both must agree.
package engine
