package engine

import (
	"sync"

	"github.com/roach88/canopy/internal/ir"
)

// EventType distinguishes between event kinds.
type EventType int

const (
	// EventTypeRemote carries an op received from another peer.
	EventTypeRemote EventType = iota + 1
	// EventTypeCommand carries a local command to run on the loop.
	EventTypeCommand
	// EventTypePublish carries a local op waiting in the outbox.
	EventTypePublish
)

// Event is one unit of work for the Run loop or the outbox.
type Event struct {
	Type EventType

	// Op is set for EventTypeRemote and EventTypePublish.
	Op ir.Op

	// Command is set for EventTypeCommand.
	Command func()

	// done is closed once the event has been processed; err holds the
	// processing error, if any. Nil for fire-and-forget events.
	done chan struct{}
	err  error
}

// eventQueue is a thread-safe FIFO queue for events.
//
// The queue is unbounded so a burst of remote ops never blocks the
// transport's receive goroutine.
//
// The queue uses a channel for signaling to enable context-aware waiting
// in the Run loop.
type eventQueue struct {
	mu     sync.Mutex
	events []*Event
	closed bool
	signal chan struct{} // buffered, size 1
}

func newEventQueue() *eventQueue {
	return &eventQueue{
		events: make([]*Event, 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds an event to the back of the queue.
// Returns false if the queue is closed.
func (q *eventQueue) Enqueue(e *Event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.events = append(q.events, e)

	// Non-blocking: the buffer of 1 coalesces signals.
	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue removes the front event without blocking.
func (q *eventQueue) TryDequeue() (*Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.events) == 0 {
		return nil, false
	}
	e := q.events[0]
	q.events[0] = nil
	if len(q.events) == 1 {
		q.events = q.events[:0]
	} else {
		q.events = q.events[1:]
	}
	return e, true
}

// Wait returns a channel that signals when events may be available.
// It is closed when the queue is closed.
func (q *eventQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *eventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Finished reports whether the queue is closed and empty.
func (q *eventQueue) Finished() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed && len(q.events) == 0
}

// Close stops further enqueues and wakes any waiter.
func (q *eventQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}

// Drain removes and returns every queued event.
func (q *eventQueue) Drain() []*Event {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := q.events
	q.events = nil
	return out
}
