package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/gorilla/websocket"

	"github.com/devicelab-dev/web-testee/pkg/core"
	"github.com/devicelab-dev/web-testee/pkg/logger"
)

// DialOptions controls connection retries.
type DialOptions struct {
	Retries          uint64        // extra attempts after the first
	Interval         time.Duration // between attempts
	HandshakeTimeout time.Duration
}

// DefaultDialOptions retries for about five seconds.
var DefaultDialOptions = DialOptions{Retries: 10, Interval: 500 * time.Millisecond, HandshakeTimeout: 10 * time.Second}

// WebSocket is a Channel over a gorilla/websocket connection.
type WebSocket struct {
	conn *websocket.Conn

	writeMu sync.Mutex
	frames  chan []byte
	done    chan struct{}
	stop    chan struct{}
	readErr error
	once    sync.Once
}

// Dial connects to url, retrying failed handshakes.
func Dial(ctx context.Context, url string, opts DialOptions) (*WebSocket, error) {
	dialer := &websocket.Dialer{HandshakeTimeout: opts.HandshakeTimeout}
	var conn *websocket.Conn
	attempt := 0
	op := func() error {
		attempt++
		c, _, err := dialer.DialContext(ctx, url, nil)
		if err != nil {
			logger.Debug("dial %s attempt %d: %v", url, attempt, err)
			return err
		}
		conn = c
		return nil
	}
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(opts.Interval), opts.Retries), ctx)
	if err := backoff.Retry(op, b); err != nil {
		return nil, core.ErrChannelClosed.WithMessagef("connect to %s after %d attempts", url, attempt).WithCause(err)
	}
	return newWebSocket(conn), nil
}

func newWebSocket(conn *websocket.Conn) *WebSocket {
	ws := &WebSocket{conn: conn, frames: make(chan []byte, 16), done: make(chan struct{}), stop: make(chan struct{})}
	go ws.readLoop()
	return ws
}

func (ws *WebSocket) readLoop() {
	defer close(ws.done)
	for {
		_, data, err := ws.conn.ReadMessage()
		if err != nil {
			ws.readErr = err
			return
		}
		select {
		case ws.frames <- data:
		case <-ws.stop:
			return
		}
	}
}

// Receive returns the next frame.
func (ws *WebSocket) Receive(ctx context.Context) ([]byte, error) {
	select {
	case data := <-ws.frames:
		return data, nil
	case <-ws.done:
		// Drain frames that arrived before the close.
		select {
		case data := <-ws.frames:
			return data, nil
		default:
		}
		return nil, core.ErrChannelClosed.WithCause(ws.readErr)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Send writes m as a text frame. Writes are serialized.
func (ws *WebSocket) Send(ctx context.Context, m Message) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode %s: %w", m.Type, err)
	}
	ws.writeMu.Lock()
	defer ws.writeMu.Unlock()
	if deadline, ok := ctx.Deadline(); ok {
		_ = ws.conn.SetWriteDeadline(deadline)
		defer ws.conn.SetWriteDeadline(time.Time{})
	}
	if err := ws.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return core.ErrChannelClosed.WithMessagef("send %s", m.Type).WithCause(err)
	}
	return nil
}

// Close sends a close frame and closes the connection.
func (ws *WebSocket) Close() error {
	var err error
	ws.once.Do(func() {
		close(ws.stop)
		ws.writeMu.Lock()
		_ = ws.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		ws.writeMu.Unlock()
		err = ws.conn.Close()
	})
	return err
}
