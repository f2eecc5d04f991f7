package transport

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/devicelab-dev/web-testee/pkg/core"
)

// Memory is an in-process Channel. Frames pushed with Push are returned by
// Receive; sent messages are recorded.
type Memory struct {
	inbound chan []byte
	closed  chan struct{}
	once    sync.Once

	mu   sync.Mutex
	sent []Message
}

// NewMemory creates an open in-memory channel.
func NewMemory() *Memory {
	return &Memory{inbound: make(chan []byte, 64), closed: make(chan struct{})}
}

// Push queues an inbound frame. v is sent as-is when it is []byte or string,
// otherwise JSON-encoded.
func (m *Memory) Push(v interface{}) {
	var data []byte
	switch x := v.(type) {
	case []byte:
		data = x
	case string:
		data = []byte(x)
	default:
		data, _ = json.Marshal(v)
	}
	m.inbound <- data
}

// Receive implements Channel.
func (m *Memory) Receive(ctx context.Context) ([]byte, error) {
	select {
	case data := <-m.inbound:
		return data, nil
	case <-m.closed:
		return nil, core.ErrChannelClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Send implements Channel.
func (m *Memory) Send(_ context.Context, msg Message) error {
	select {
	case <-m.closed:
		return core.ErrChannelClosed
	default:
	}
	m.mu.Lock()
	m.sent = append(m.sent, msg)
	m.mu.Unlock()
	return nil
}

// Close implements Channel.
func (m *Memory) Close() error {
	m.once.Do(func() { close(m.closed) })
	return nil
}

// Sent returns every message sent so far.
func (m *Memory) Sent() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Message(nil), m.sent...)
}

// WaitSent waits up to timeout for at least n sent messages and returns
// what was sent.
func (m *Memory) WaitSent(n int, timeout time.Duration) []Message {
	deadline := time.Now().Add(timeout)
	for {
		sent := m.Sent()
		if len(sent) >= n || time.Now().After(deadline) {
			return sent
		}
		time.Sleep(time.Millisecond)
	}
}
