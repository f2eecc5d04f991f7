// Package transport carries JSON messages between the testee and the test
// runner.
package transport

import (
	"context"
	"encoding/json"

	"github.com/tidwall/gjson"

	"github.com/devicelab-dev/web-testee/pkg/core"
)

// Message types.
const (
	TypeLogin               = "login"
	TypeLoginSuccess        = "loginSuccess"
	TypeDeliverPayload      = "deliverPayload"
	TypeDeliverPayloadDone  = "deliverPayloadDone"
	TypeCurrentStatus       = "currentStatus"
	TypeCurrentStatusResult = "currentStatusResult"
	TypeCleanup             = "cleanup"
	TypeCleanupDone         = "cleanupDone"
	TypeInvoke              = "invoke"
	TypeInvokeResult        = "invokeResult"
	TypeTestFailed          = "testFailed"
	TypeError               = "error"
)

// Message is the envelope every frame uses. MessageID is echoed verbatim.
type Message struct {
	Type      string          `json:"type"`
	MessageID json.RawMessage `json:"messageId,omitempty"`
	Params    json.RawMessage `json:"params,omitempty"`
}

// NewMessage builds a message, encoding params.
func NewMessage(typ string, id json.RawMessage, params interface{}) (Message, error) {
	m := Message{Type: typ, MessageID: id}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return m, core.ErrMalformedCall.WithMessagef("encode %s params", typ).WithCause(err)
		}
		m.Params = raw
	}
	return m, nil
}

// Decode parses a frame strictly.
func Decode(raw []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(raw, &m); err != nil {
		return m, core.ErrMalformedCall.WithMessage("malformed message").WithCause(err)
	}
	return m, nil
}

// Peek recovers type and messageId from a frame that may not decode
// strictly, so an error reply can still be correlated.
func Peek(raw []byte) (typ string, id json.RawMessage) {
	if !gjson.ValidBytes(raw) {
		return "", nil
	}
	typ = gjson.GetBytes(raw, "type").String()
	if v := gjson.GetBytes(raw, "messageId"); v.Exists() {
		id = json.RawMessage(v.Raw)
	}
	return typ, id
}

// Channel is a bidirectional message stream.
type Channel interface {
	Send(ctx context.Context, m Message) error
	Receive(ctx context.Context) ([]byte, error)
	Close() error
}
