package transport

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/roach88/canopy/internal/ir"
)

// DefaultChannel is the pub/sub channel used when none is configured.
const DefaultChannel = "canopy:ops"

// Redis is a Transport over Redis pub/sub. Each document is one channel.
type Redis struct {
	client  *redis.Client
	channel string
	logger  *slog.Logger
	owned   bool

	mu      sync.Mutex
	closed  bool
	stop    chan struct{}
	pubsubs []*redis.PubSub
}

// NewRedis connects to the Redis server at redisURL (redis://host:port/db)
// and verifies the connection with PING.
func NewRedis(ctx context.Context, redisURL, channel string, opts ...Option) (*Redis, error) {
	client, err := ConnectRedis(ctx, redisURL)
	if err != nil {
		return nil, err
	}
	r := NewRedisWithClient(client, channel, opts...)
	r.owned = true
	return r, nil
}

// ConnectRedis opens a client for redisURL and checks it with PING.
func ConnectRedis(ctx context.Context, redisURL string) (*redis.Client, error) {
	ropts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(ropts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return client, nil
}

// NewRedisWithClient wraps an existing client. Close does not close it.
func NewRedisWithClient(client *redis.Client, channel string, opts ...Option) *Redis {
	if channel == "" {
		channel = DefaultChannel
	}
	s := applyOptions(opts)
	return &Redis{
		client:  client,
		channel: channel,
		logger:  s.logger,
		stop:    make(chan struct{}),
	}
}

// Channel returns the pub/sub channel name.
func (r *Redis) Channel() string {
	return r.channel
}

// Publish sends op on the channel.
func (r *Redis) Publish(ctx context.Context, op ir.Op) error {
	if r.isClosed() {
		return ErrClosed
	}
	data, err := ir.EncodeOp(op)
	if err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, data).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Subscribe subscribes to the channel. It returns once Redis has confirmed
// the subscription, so ops published afterwards are not missed.
func (r *Redis) Subscribe(ctx context.Context) (<-chan ir.Op, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrClosed
	}
	pubsub := r.client.Subscribe(ctx, r.channel)
	r.pubsubs = append(r.pubsubs, pubsub)
	r.mu.Unlock()

	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("redis subscribe %s: %w", r.channel, err)
	}

	f := newFeed()
	closeOnDone(ctx, f, r.stop)

	msgs := pubsub.Channel()
	go func() {
		defer pubsub.Close()
		for {
			select {
			case msg, ok := <-msgs:
				if !ok {
					f.close()
					return
				}
				if op, ok := decode(r.logger, "redis:"+r.channel, []byte(msg.Payload)); ok {
					f.push(op)
				}
			case <-f.done:
				return
			}
		}
	}()
	return f.out, nil
}

// Close ends every subscription and, if NewRedis created the client,
// closes it.
func (r *Redis) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.stop)
	pubsubs := r.pubsubs
	r.pubsubs = nil
	r.mu.Unlock()

	for _, ps := range pubsubs {
		ps.Close()
	}
	if r.owned {
		return r.client.Close()
	}
	return nil
}

func (r *Redis) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}
