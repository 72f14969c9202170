// Package store provides the SQLite-backed op journal for a Canopy peer.
//
// The journal is append-only:
//   - ops: every op the peer applied, keyed by its content hash
//   - meta: small key/value facts about the replica (its peer id)
//
// # Patterns
//
// Idempotent appends
//   - id is ir.OpID(op); ON CONFLICT(id) DO NOTHING
//   - the echo of a local op arriving back from the relay is not stored twice
//
// Logical ordering
//   - seq is assigned by the engine in apply order
//   - every read is ORDER BY seq ASC, id ASC COLLATE BINARY
//
// Filtered reads
//   - Query compiles a Filter to parameterized SQL; values are never
//     interpolated into the statement
//
// Because the replicated store converges regardless of apply order, replaying
// the journal in any order rebuilds the same fields; seq order additionally
// reproduces the peer's undo-free history exactly.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
package store
