package transport

import (
	"context"
	"sync"

	"github.com/roach88/canopy/internal/ir"
)

// Bus is an in-process topic. Every Endpoint publishes to and receives from
// every other Endpoint on the same Bus, the publisher included.
type Bus struct {
	mu    sync.Mutex
	feeds map[*feed]struct{}
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{feeds: make(map[*feed]struct{})}
}

// Endpoint returns a new Transport attached to the bus.
func (b *Bus) Endpoint() *Endpoint {
	return &Endpoint{bus: b, stop: make(chan struct{})}
}

// publish encodes once and hands every subscriber its own decoded copy, so
// ops cross the bus through the same wire format as a network transport.
func (b *Bus) publish(data []byte) error {
	op, err := ir.DecodeOp(data)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for f := range b.feeds {
		f.push(op)
	}
	return nil
}

func (b *Bus) attach(f *feed) {
	b.mu.Lock()
	b.feeds[f] = struct{}{}
	b.mu.Unlock()
}

func (b *Bus) detach(f *feed) {
	b.mu.Lock()
	delete(b.feeds, f)
	b.mu.Unlock()
}

// Subscribers returns the number of live subscriptions on the bus.
func (b *Bus) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.feeds)
}

// Endpoint is one peer's attachment to a Bus.
type Endpoint struct {
	bus       *Bus
	mu        sync.Mutex
	closed    bool
	stop      chan struct{}
	published int
}

// Publish delivers op to every subscription on the bus.
func (e *Endpoint) Publish(ctx context.Context, op ir.Op) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	e.published++
	e.mu.Unlock()

	data, err := ir.EncodeOp(op)
	if err != nil {
		return err
	}
	return e.bus.publish(data)
}

// Subscribe attaches a new subscription to the bus.
func (e *Endpoint) Subscribe(ctx context.Context) (<-chan ir.Op, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrClosed
	}

	f := newFeed()
	e.bus.attach(f)
	closeOnDone(ctx, f, e.stop)
	go func() {
		<-f.done
		e.bus.detach(f)
	}()
	return f.out, nil
}

// Published returns how many ops this endpoint has sent.
func (e *Endpoint) Published() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.published
}

// Close detaches every subscription made through this endpoint.
func (e *Endpoint) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.closed = true
		close(e.stop)
	}
	return nil
}
