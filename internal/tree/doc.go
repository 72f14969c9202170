// Package tree projects a replica.Store onto a rooted, cycle-free forest.
//
// A node's candidate parents are the non-attribute keys of its row: the key is
// the parent id and the Int value is the edge counter. The projection owns no
// state of its own beyond a cached copy of those edges; parent and children
// pointers are recomputed from scratch after every apply.
//
// Recompute runs in five passes:
//
//  1. Best edge: the edge with the largest counter, ties to the largest parent id.
//  2. Provisional parents from best edges; children cleared.
//  3. Rooted check per node (tortoise and hare over parent pointers). Every node
//     on an unrooted chain joins the pending set.
//  4. Reattachment: pending nodes are attached through their edges in a fixed
//     priority order (counter desc, parent id asc, child id asc), promoting
//     edges that point at a node once that node is attached. Nodes left over
//     belong to cycles with no path to the root and are handled by the
//     OrphanPolicy.
//  5. Children rebuilt from parent pointers and sorted by id.
//
// Every pass depends only on store contents, so every peer that has seen the
// same operations computes the same tree.
//
// MoveNode is the only structural write path. Before writing the new edge it
// re-asserts the displayed parent of every ancestor (on both the old and new
// chains) whose best edge disagrees with it, so the move cannot detach them.
//
// Thread-safety: a Tree shares its store's single-goroutine ownership.
package tree
