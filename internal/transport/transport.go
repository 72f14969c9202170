// Package transport moves ops between peers.
//
// Every implementation speaks the same wire format: one JSON object per op,
// {"id","key","value","peer","timestamp"}, with null as the tombstone.
// Delivery is at-most-once per subscriber with no ordering guarantee across
// publishers, which is all the replicated store needs: apply is idempotent
// and commutative. Messages that fail to decode are logged and dropped.
//
// Implementations:
//   - Bus: in-process fan-out for tests and single-binary simulations
//   - Redis: pub/sub on one channel per document
//   - WebSocket: client side of the relay in relay.go
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/canopy/internal/ir"
)

// ErrClosed is returned by operations on a closed transport.
var ErrClosed = errors.New("transport closed")

// Transport publishes local ops and delivers ops from other peers.
// A peer's own ops may be echoed back; callers must tolerate that.
type Transport interface {
	// Publish sends op to every subscriber of the topic.
	Publish(ctx context.Context, op ir.Op) error

	// Subscribe returns a channel of incoming ops. The channel is closed
	// when ctx is cancelled or the transport is closed.
	Subscribe(ctx context.Context) (<-chan ir.Op, error)

	// Close releases the transport. Safe to call more than once.
	Close() error
}

// Kind names a transport implementation in configuration.
type Kind string

const (
	KindNone      Kind = "none"
	KindMemory    Kind = "memory"
	KindRedis     Kind = "redis"
	KindWebSocket Kind = "websocket"
)

// ParseKind validates a configured transport kind.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindNone, KindMemory, KindRedis, KindWebSocket:
		return k, nil
	case "":
		return KindNone, nil
	default:
		return "", fmt.Errorf("unknown transport %q (want none, memory, redis or websocket)", s)
	}
}

// Options selects and configures a transport for Open.
type Options struct {
	Kind    Kind
	URL     string
	Channel string
	Logger  *slog.Logger
}

// Open connects the transport described by opts. KindNone returns nil with
// no error; the caller runs offline. KindMemory needs an in-process Bus and
// is rejected here.
func Open(ctx context.Context, opts Options) (Transport, error) {
	switch opts.Kind {
	case KindNone, "":
		return nil, nil
	case KindRedis:
		r, err := NewRedis(ctx, opts.URL, opts.Channel, WithLogger(opts.Logger))
		if err != nil {
			return nil, err
		}
		return r, nil
	case KindWebSocket:
		ws, err := Dial(ctx, opts.URL, WithLogger(opts.Logger))
		if err != nil {
			return nil, err
		}
		return ws, nil
	case KindMemory:
		return nil, fmt.Errorf("open transport: memory transport requires a shared Bus")
	default:
		return nil, fmt.Errorf("open transport: unknown kind %q", opts.Kind)
	}
}

// Option configures a transport.
type Option func(*settings)

type settings struct {
	logger *slog.Logger
}

// WithLogger sets the logger used for dropped-message warnings.
// A nil logger keeps the default.
func WithLogger(l *slog.Logger) Option {
	return func(s *settings) {
		if l != nil {
			s.logger = l
		}
	}
}

func applyOptions(opts []Option) settings {
	s := settings{logger: slog.Default()}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// feed is an unbounded FIFO in front of a subscriber channel, so a slow
// consumer never blocks the goroutine reading from the network.
//
// Uses a size-1 signal channel like the engine's event queue.
type feed struct {
	mu     sync.Mutex
	queue  []ir.Op
	signal chan struct{}
	done   chan struct{}
	out    chan ir.Op
	once   sync.Once
}

func newFeed() *feed {
	f := &feed{
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
		out:    make(chan ir.Op),
	}
	go f.run()
	return f
}

func (f *feed) push(op ir.Op) {
	f.mu.Lock()
	f.queue = append(f.queue, op)
	f.mu.Unlock()

	select {
	case f.signal <- struct{}{}:
	default:
	}
}

// close stops delivery. Ops still queued are dropped.
func (f *feed) close() {
	f.once.Do(func() { close(f.done) })
}

func (f *feed) run() {
	defer close(f.out)
	for {
		f.mu.Lock()
		if len(f.queue) == 0 {
			f.mu.Unlock()
			select {
			case <-f.signal:
				continue
			case <-f.done:
				return
			}
		}
		op := f.queue[0]
		f.queue = f.queue[1:]
		f.mu.Unlock()

		select {
		case f.out <- op:
		case <-f.done:
			return
		}
	}
}

// closeOnDone closes f when ctx is cancelled or stop is closed.
func closeOnDone(ctx context.Context, f *feed, stop <-chan struct{}) {
	go func() {
		select {
		case <-ctx.Done():
		case <-stop:
		case <-f.done:
		}
		f.close()
	}()
}

// decode parses one wire message, logging and dropping anything malformed.
func decode(logger *slog.Logger, source string, data []byte) (ir.Op, bool) {
	op, err := ir.DecodeOp(data)
	if err != nil {
		logger.Warn("dropping malformed op", "source", source, "error", err, "bytes", len(data))
		return ir.Op{}, false
	}
	return op, true
}
