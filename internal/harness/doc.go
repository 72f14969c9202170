// Package harness runs multi-peer convergence scenarios.
//
// A scenario is a YAML file naming a set of peers and a list of steps. Each
// peer is a real engine with a deterministic clock and no transport; the
// harness moves ops between peers itself through explicit sync steps, so a
// scenario controls exactly which peer has seen what, in which order, and
// how many times.
//
// Step actions:
//   - move: MoveNode on one peer (one undo step)
//   - rename: write a node's display name
//   - set: write a raw field, for edges no move would produce
//   - undo, redo: the peer's undo log
//   - sync: deliver every field of one peer (or all) to another (or all),
//     forward or reverse, optionally twice
//
// Assertions run against every peer's final tree: parent, name, rooted,
// detached and converged.
//
// Scenario files are checked against an embedded CUE schema before they are
// decoded, then cross-checked (every step names a declared peer).
//
// Golden files hold the first peer's final tree plus the step trace; see
// RunWithGolden.
package harness
