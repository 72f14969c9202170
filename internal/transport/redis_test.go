package transport

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/canopy/internal/ir"
)

func setupTestRedis(t *testing.T, channel string) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	r, err := NewRedis(context.Background(), "redis://"+s.Addr(), channel)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r, s
}

func TestNewRedis_BadURL(t *testing.T) {
	_, err := NewRedis(context.Background(), "not-a-url", "")
	assert.Error(t, err)
}

func TestNewRedis_Unreachable(t *testing.T) {
	s := miniredis.RunT(t)
	addr := s.Addr()
	s.Close()

	_, err := NewRedis(context.Background(), "redis://"+addr, "")
	assert.Error(t, err)
}

func TestConnectRedis(t *testing.T) {
	s := miniredis.RunT(t)
	client, err := ConnectRedis(context.Background(), "redis://"+s.Addr())
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.Set(context.Background(), "k", "v", 0).Err())
	got, err := s.Get("k")
	require.NoError(t, err)
	assert.Equal(t, "v", got)
}

func TestRedis_DefaultChannel(t *testing.T) {
	r, _ := setupTestRedis(t, "")
	assert.Equal(t, DefaultChannel, r.Channel())
}

func TestRedis_PublishSubscribe(t *testing.T) {
	ctx := context.Background()
	pub, s := setupTestRedis(t, "doc-1")

	sub, err := NewRedis(ctx, "redis://"+s.Addr(), "doc-1")
	require.NoError(t, err)
	defer sub.Close()

	ch, err := sub.Subscribe(ctx)
	require.NoError(t, err)

	op := ir.Op{ID: "n1", Key: "root", Value: ir.Int(0), Peer: "a", Timestamp: 42}
	require.NoError(t, pub.Publish(ctx, op))
	assert.Equal(t, op, receive(t, ch))

	tomb := ir.Op{ID: "n1", Key: "old", Value: ir.Absent{}, Peer: "a", Timestamp: 43}
	require.NoError(t, pub.Publish(ctx, tomb))
	assert.Equal(t, tomb, receive(t, ch))
}

func TestRedis_ChannelsAreIsolated(t *testing.T) {
	ctx := context.Background()
	a, s := setupTestRedis(t, "doc-a")
	b := NewRedisWithClient(redis.NewClient(&redis.Options{Addr: s.Addr()}), "doc-b")
	defer b.Close()

	ch, err := b.Subscribe(ctx)
	require.NoError(t, err)

	require.NoError(t, a.Publish(ctx, testOp("x", 1)))
	select {
	case op := <-ch:
		t.Fatalf("received op from another channel: %s", op)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRedis_DropsMalformedMessages(t *testing.T) {
	ctx := context.Background()
	r, s := setupTestRedis(t, "doc-1")

	ch, err := r.Subscribe(ctx)
	require.NoError(t, err)

	s.Publish("doc-1", `{"id":"x","key":"k","value":1.5,"peer":"a","timestamp":1}`)
	s.Publish("doc-1", `not json`)
	require.NoError(t, r.Publish(ctx, testOp("ok", 1)))

	assert.Equal(t, "ok", receive(t, ch).ID)
}

func TestRedis_CloseEndsSubscription(t *testing.T) {
	ctx := context.Background()
	r, _ := setupTestRedis(t, "doc-1")

	ch, err := r.Subscribe(ctx)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	requireClosed(t, ch)

	assert.ErrorIs(t, r.Publish(ctx, testOp("x", 1)), ErrClosed)
}
