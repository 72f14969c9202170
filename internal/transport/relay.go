package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
)

const (
	// sendBuffer is how many messages a slow peer may lag behind before the
	// relay drops its connection.
	sendBuffer = 256

	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Relay is the websocket fan-out server. Every JSON message received on
// /ops is sent unchanged to every connected peer, the sender included.
//
// With WithRelayRedis, ops are published to Redis instead and every relay
// instance on the same channel fans them out to its own peers.
type Relay struct {
	logger   *slog.Logger
	upgrader websocket.Upgrader
	router   *mux.Router

	redis   *redis.Client
	channel string

	mu      sync.Mutex
	clients map[*relayClient]struct{}
	relayed int64
}

// RelayOption configures a Relay.
type RelayOption func(*Relay)

// WithRelayLogger sets the relay's logger.
func WithRelayLogger(l *slog.Logger) RelayOption {
	return func(r *Relay) {
		r.logger = l
	}
}

// WithRelayRedis routes ops through a Redis channel so several relays can
// serve one document.
func WithRelayRedis(client *redis.Client, channel string) RelayOption {
	return func(r *Relay) {
		r.redis = client
		r.channel = channel
		if r.channel == "" {
			r.channel = DefaultChannel
		}
	}
}

// NewRelay creates a relay with routes registered.
func NewRelay(opts ...RelayOption) *Relay {
	r := &Relay{
		logger: slog.Default(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[*relayClient]struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}

	r.router = mux.NewRouter()
	r.router.HandleFunc("/ops", r.handleOps).Methods(http.MethodGet)
	r.router.HandleFunc("/healthz", r.handleHealth).Methods(http.MethodGet)
	return r
}

// Handler returns the relay's HTTP handler.
func (r *Relay) Handler() http.Handler {
	return r.router
}

// Peers returns the number of connected peers.
func (r *Relay) Peers() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

// Run subscribes to Redis when configured and fans its messages out until
// ctx is cancelled. Without Redis it just waits for ctx.
func (r *Relay) Run(ctx context.Context) error {
	if r.redis == nil {
		<-ctx.Done()
		return nil
	}

	pubsub := r.redis.Subscribe(ctx, r.channel)
	defer pubsub.Close()
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("relay subscribe %s: %w", r.channel, err)
	}

	msgs := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			r.fanout([]byte(msg.Payload))
		}
	}
}

// ListenAndServe serves the relay on addr until ctx is cancelled, then
// shuts down gracefully.
func (r *Relay) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		if err := r.Run(ctx); err != nil {
			errCh <- err
		}
	}()
	go func() {
		r.logger.Info("relay listening", "addr", addr, "redis", r.redis != nil)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		srv.Close()
		return fmt.Errorf("relay: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	r.closeAll()
	return srv.Shutdown(shutdownCtx)
}

func (r *Relay) handleHealth(w http.ResponseWriter, _ *http.Request) {
	r.mu.Lock()
	body := map[string]any{
		"status":  "ok",
		"peers":   len(r.clients),
		"relayed": r.relayed,
	}
	r.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(body)
}

func (r *Relay) handleOps(w http.ResponseWriter, req *http.Request) {
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("failed to upgrade the websocket", "error", err)
		return
	}

	c := &relayClient{conn: conn, send: make(chan []byte, sendBuffer), remote: req.RemoteAddr}
	r.register(c)
	r.logger.Info("peer connected", "remote", c.remote, "peers", r.Peers())

	go r.writePump(c)
	r.readPump(c)
}

func (r *Relay) register(c *relayClient) {
	r.mu.Lock()
	r.clients[c] = struct{}{}
	r.mu.Unlock()
}

// unregister removes c and closes its send channel. Safe to call twice.
func (r *Relay) unregister(c *relayClient) {
	r.mu.Lock()
	if _, ok := r.clients[c]; ok {
		delete(r.clients, c)
		close(c.send)
	}
	r.mu.Unlock()
}

func (r *Relay) closeAll() {
	r.mu.Lock()
	clients := make([]*relayClient, 0, len(r.clients))
	for c := range r.clients {
		clients = append(clients, c)
	}
	r.mu.Unlock()

	for _, c := range clients {
		r.unregister(c)
		c.conn.Close()
	}
}

func (r *Relay) readPump(c *relayClient) {
	defer func() {
		r.unregister(c)
		c.conn.Close()
		r.logger.Info("peer disconnected", "remote", c.remote, "peers", r.Peers())
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				r.logger.Warn("peer read failed", "remote", c.remote, "error", err)
			}
			return
		}
		// Value typing is the receiving peer's concern; the relay only
		// refuses bytes that are not JSON at all.
		if !json.Valid(data) {
			r.logger.Warn("dropping non-JSON message", "remote", c.remote, "bytes", len(data))
			continue
		}
		r.broadcast(data)
	}
}

func (r *Relay) writePump(c *relayClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// broadcast hands a validated message to Redis or straight to local peers.
func (r *Relay) broadcast(data []byte) {
	if r.redis != nil {
		ctx, cancel := context.WithTimeout(context.Background(), writeWait)
		defer cancel()
		if err := r.redis.Publish(ctx, r.channel, data).Err(); err != nil {
			r.logger.Error("relay publish to redis failed", "channel", r.channel, "error", err)
		}
		return
	}
	r.fanout(data)
}

// fanout queues data on every connected peer. Peers whose buffer is full
// are dropped.
func (r *Relay) fanout(data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.relayed++
	for c := range r.clients {
		select {
		case c.send <- data:
		default:
			r.logger.Warn("dropping slow peer", "remote", c.remote)
			delete(r.clients, c)
			close(c.send)
		}
	}
}

type relayClient struct {
	conn   *websocket.Conn
	send   chan []byte
	remote string
}
