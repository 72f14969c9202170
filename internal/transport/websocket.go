package transport

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/roach88/canopy/internal/ir"
)

const writeWait = 10 * time.Second

// WebSocket is the client side of a relay connection.
//
// A single reader goroutine owns the connection's read side; Subscribe may
// therefore be called only once.
type WebSocket struct {
	conn   *websocket.Conn
	url    string
	logger *slog.Logger

	writeMu sync.Mutex

	mu         sync.Mutex
	closed     bool
	subscribed bool
	stop       chan struct{}
	incoming   *feed
}

// Dial connects to a relay's ops endpoint, for example ws://host:8080/ops.
func Dial(ctx context.Context, url string, opts ...Option) (*WebSocket, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial relay %s: %w", url, err)
	}

	s := applyOptions(opts)
	ws := &WebSocket{
		conn:     conn,
		url:      url,
		logger:   s.logger,
		stop:     make(chan struct{}),
		incoming: newFeed(),
	}
	go ws.readLoop()
	return ws, nil
}

func (ws *WebSocket) readLoop() {
	defer ws.incoming.close()
	for {
		_, data, err := ws.conn.ReadMessage()
		if err != nil {
			if !ws.isClosed() {
				ws.logger.Warn("relay connection lost", "url", ws.url, "error", err)
			}
			return
		}
		if op, ok := decode(ws.logger, ws.url, data); ok {
			ws.incoming.push(op)
		}
	}
}

// Publish writes op as one text message.
func (ws *WebSocket) Publish(ctx context.Context, op ir.Op) error {
	if ws.isClosed() {
		return ErrClosed
	}
	data, err := ir.EncodeOp(op)
	if err != nil {
		return fmt.Errorf("websocket publish: %w", err)
	}

	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	ws.writeMu.Lock()
	defer ws.writeMu.Unlock()
	ws.conn.SetWriteDeadline(deadline)
	if err := ws.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("websocket publish: %w", err)
	}
	return nil
}

// Subscribe returns the relay's message stream.
func (ws *WebSocket) Subscribe(ctx context.Context) (<-chan ir.Op, error) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if ws.closed {
		return nil, ErrClosed
	}
	if ws.subscribed {
		return nil, fmt.Errorf("websocket subscribe: already subscribed")
	}
	ws.subscribed = true
	closeOnDone(ctx, ws.incoming, ws.stop)
	return ws.incoming.out, nil
}

// Close sends a close frame and shuts the connection down.
func (ws *WebSocket) Close() error {
	ws.mu.Lock()
	if ws.closed {
		ws.mu.Unlock()
		return nil
	}
	ws.closed = true
	close(ws.stop)
	ws.mu.Unlock()

	ws.writeMu.Lock()
	ws.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	ws.writeMu.Unlock()

	ws.incoming.close()
	return ws.conn.Close()
}

func (ws *WebSocket) isClosed() bool {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return ws.closed
}
