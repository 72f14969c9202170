package tree

import "container/heap"

// edge is a candidate attachment of child under parent.
type edge struct {
	child   *Node
	parent  *Node
	counter int64
}

// before reports whether a is attached before b: larger counter first, then
// smaller parent id, then smaller child id. Every peer must use this exact
// order or isolated cycles break differently on different peers.
func (a edge) before(b edge) bool {
	if a.counter != b.counter {
		return a.counter > b.counter
	}
	if a.parent.id != b.parent.id {
		return a.parent.id < b.parent.id
	}
	return a.child.id < b.child.id
}

// edgeHeap implements heap.Interface. Use readyQueue, not edgeHeap directly.
type edgeHeap []edge

func (h edgeHeap) Len() int           { return len(h) }
func (h edgeHeap) Less(i, j int) bool { return h[i].before(h[j]) }
func (h edgeHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *edgeHeap) Push(x any) {
	*h = append(*h, x.(edge))
}

func (h *edgeHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}

// readyQueue orders edges whose parent is already rooted.
type readyQueue struct {
	h edgeHeap
}

func (q *readyQueue) push(e edge) {
	heap.Push(&q.h, e)
}

// pop returns the highest-priority edge, or false when empty.
func (q *readyQueue) pop() (edge, bool) {
	if len(q.h) == 0 {
		return edge{}, false
	}
	return heap.Pop(&q.h).(edge), true
}

func (q *readyQueue) len() int {
	return len(q.h)
}
