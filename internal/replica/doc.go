// Package replica implements the last-writer-wins replicated store that is the
// single source of truth for a Canopy tree.
//
// The store keeps one Field per (entity, key) pair. Every operation, local or
// remote, enters through Apply and is resolved against the existing Field:
//
//   - strictly greater timestamp wins
//   - on an exact timestamp tie, the smaller peer id wins
//   - on an exact (timestamp, peer) tie, the greater value wins
//
// The rule is a peer-independent total order, so the store is commutative and
// idempotent with respect to application order: replicas that have seen the
// same set of operations hold the same fields.
//
// Set is the local-write convenience. It stamps the store's peer id and a
// timestamp of max(clock.Now(), existing.Timestamp+1) so a local write is
// never dropped by the conflict rule, whatever the clock skew.
//
// Observers registered with AfterApply run synchronously after every Apply,
// including no-op applies, and receive the previous value of the field.
//
// Thread-safety: a Store is NOT safe for concurrent use. It is designed to be
// owned by a single goroutine (see internal/engine).
package replica
