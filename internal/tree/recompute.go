package tree

// recompute rebuilds every parent and children pointer from the edge arena.
func (t *Tree) recompute() {
	for _, n := range t.nodes {
		n.parent = nil
		n.children = nil
		if n == t.root {
			continue
		}
		if id, _, ok := n.BestEdge(); ok {
			n.parent = t.nodes[id]
		}
	}

	// Anything on a chain that never reaches the root is pending, including
	// nodes that merely hang off a cycle.
	pending := make(map[*Node]bool)
	for _, n := range t.nodes {
		if isUnder(n, t.root) {
			continue
		}
		for m := n; m != nil && !pending[m]; m = m.parent {
			pending[m] = true
		}
	}

	t.detached = nil
	orphans := 0
	if len(pending) > 0 {
		orphans = t.reattach(pending)
	}

	for _, n := range t.nodes {
		if n.parent != nil {
			n.parent.children = append(n.parent.children, n)
		}
	}
	for _, n := range t.nodes {
		if len(n.children) > 1 {
			sortNodes(n.children)
		}
	}

	t.logger.Debug("recompute",
		"nodes", len(t.nodes),
		"pending", len(pending),
		"orphans", orphans,
		"detached", len(t.detached),
	)
}

// reattach attaches pending nodes through their edges, highest priority
// first. It consumes pending and returns how many nodes the orphan policy
// had to place.
func (t *Tree) reattach(pending map[*Node]bool) int {
	var ready readyQueue
	deferred := make(map[*Node][]edge)

	for child := range pending {
		for pid, counter := range child.edges {
			e := edge{child: child, parent: t.nodes[pid], counter: counter}
			if pending[e.parent] {
				deferred[e.parent] = append(deferred[e.parent], e)
			} else {
				ready.push(e)
			}
		}
	}

	attach := func(child, parent *Node) {
		child.parent = parent
		delete(pending, child)
		for _, e := range deferred[child] {
			ready.push(e)
		}
		delete(deferred, child)
	}
	drain := func() {
		for {
			e, ok := ready.pop()
			if !ok {
				return
			}
			if pending[e.child] {
				attach(e.child, e.parent)
			}
		}
	}

	drain()

	orphans := 0
	for len(pending) > 0 {
		if t.orphans == OrphanDetach {
			for n := range pending {
				n.parent = nil
				t.detached = append(t.detached, n)
			}
			sortNodes(t.detached)
			return len(t.detached)
		}
		attach(pickOrphan(pending), t.root)
		orphans++
		drain()
	}
	return orphans
}

// pickOrphan returns the pending node with the lowest best-edge counter
// (-1 for no edges), ties to the lowest id.
func pickOrphan(pending map[*Node]bool) *Node {
	var pick *Node
	var pickCounter int64
	for n := range pending {
		_, c, ok := n.BestEdge()
		if !ok {
			c = -1
		}
		if pick == nil || c < pickCounter || (c == pickCounter && n.id < pick.id) {
			pick, pickCounter = n, c
		}
	}
	return pick
}

// isUnder reports whether node is other or a descendant of it. Safe on
// cyclic parent pointers.
func isUnder(node, other *Node) bool {
	if node == other {
		return true
	}
	tortoise, hare := node, node.parent
	for hare != nil && hare != other {
		if tortoise == hare {
			return false
		}
		hare = hare.parent
		if hare == nil || hare == other {
			break
		}
		tortoise = tortoise.parent
		hare = hare.parent
	}
	return hare == other
}
