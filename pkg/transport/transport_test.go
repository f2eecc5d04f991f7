package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devicelab-dev/web-testee/pkg/core"
)

func TestPeek(t *testing.T) {
	typ, id := Peek([]byte(`{"type":"invoke","messageId":12,"params":{"bad":`))
	assert.Equal(t, "", typ, "invalid JSON yields nothing")
	assert.Nil(t, id)

	typ, id = Peek([]byte(`{"type":"invoke","messageId":12,"params":"not a call"}`))
	assert.Equal(t, "invoke", typ)
	assert.Equal(t, json.RawMessage("12"), id)

	typ, id = Peek([]byte(`{"type":"currentStatus"}`))
	assert.Equal(t, "currentStatus", typ)
	assert.Nil(t, id)
}

func TestNewMessageEchoesID(t *testing.T) {
	m, err := NewMessage(TypeTestFailed, json.RawMessage(`"abc"`), map[string]string{"details": "boom"})
	require.NoError(t, err)
	raw, err := json.Marshal(m)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"testFailed","messageId":"abc","params":{"details":"boom"}}`, string(raw))

	m, err = NewMessage(TypeInvokeResult, nil, nil)
	require.NoError(t, err)
	raw, _ = json.Marshal(m)
	assert.JSONEq(t, `{"type":"invokeResult"}`, string(raw))

	_, err = NewMessage(TypeError, nil, func() {})
	assert.True(t, errors.Is(err, core.ErrMalformedCall))
}

func TestDecode(t *testing.T) {
	m, err := Decode([]byte(`{"type":"deliverPayload","messageId":3,"params":{"url":"http://x"}}`))
	require.NoError(t, err)
	assert.Equal(t, TypeDeliverPayload, m.Type)
	assert.JSONEq(t, `{"url":"http://x"}`, string(m.Params))

	_, err = Decode([]byte(`{`))
	assert.True(t, errors.Is(err, core.ErrMalformedCall))
}

func echoServer(t *testing.T) *httptest.Server {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(mt, data); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestWebSocketRoundTrip(t *testing.T) {
	srv := echoServer(t)
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ws, err := Dial(ctx, url, DefaultDialOptions)
	require.NoError(t, err)
	defer ws.Close()

	m, err := NewMessage(TypeLogin, nil, map[string]string{"sessionId": "s", "role": "testee"})
	require.NoError(t, err)
	require.NoError(t, ws.Send(ctx, m))

	raw, err := ws.Receive(ctx)
	require.NoError(t, err)
	got, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, TypeLogin, got.Type)
	assert.JSONEq(t, `{"sessionId":"s","role":"testee"}`, string(got.Params))
}

func TestWebSocketReceiveAfterServerClose(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"loginSuccess"}`))
		conn.Close()
	}))
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ws, err := Dial(ctx, url, DefaultDialOptions)
	require.NoError(t, err)

	raw, err := ws.Receive(ctx)
	require.NoError(t, err, "frames sent before the close are delivered")
	assert.JSONEq(t, `{"type":"loginSuccess"}`, string(raw))

	_, err = ws.Receive(ctx)
	assert.True(t, errors.Is(err, core.ErrChannelClosed))
	assert.NoError(t, ws.Close())
}

func TestDialGivesUp(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := Dial(ctx, "ws://127.0.0.1:1/none", DialOptions{Retries: 2, Interval: time.Millisecond, HandshakeTimeout: time.Second})
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrChannelClosed))
	assert.Contains(t, err.Error(), "after 3 attempts")
}

func TestMemoryChannel(t *testing.T) {
	m := NewMemory()
	m.Push(map[string]string{"type": "currentStatus"})
	m.Push(`{"type":"cleanup"}`)

	ctx := context.Background()
	raw, err := m.Receive(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"currentStatus"}`, string(raw))
	raw, err = m.Receive(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"cleanup"}`, string(raw))

	require.NoError(t, m.Send(ctx, Message{Type: TypeCleanupDone}))
	assert.Len(t, m.WaitSent(1, time.Second), 1)

	require.NoError(t, m.Close())
	_, err = m.Receive(ctx)
	assert.True(t, errors.Is(err, core.ErrChannelClosed))
	assert.True(t, errors.Is(m.Send(ctx, Message{}), core.ErrChannelClosed))
}
