// Package invoke models the nested call tree a test step arrives as and
// evaluates it against a table of driver methods.
package invoke

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/devicelab-dev/web-testee/pkg/core"
)

// thisTarget is the target that routes a call to the method table.
const thisTarget = "this"

// invocationType marks an argument holding a nested call.
const invocationType = "Invocation"

// Target is the receiver of a call: "this" or a typed object such as
// {type:"matcher", value:"matcher"}.
type Target struct {
	This  bool
	Type  string
	Value string
}

// This is the driver-object target.
var This = Target{This: true}

// MarshalJSON implements json.Marshaler.
func (t Target) MarshalJSON() ([]byte, error) {
	if t.This {
		return json.Marshal(thisTarget)
	}
	return json.Marshal(struct {
		Type  string `json:"type"`
		Value string `json:"value"`
	}{t.Type, t.Value})
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Target) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s != thisTarget {
			return core.ErrMalformedCall.WithMessagef("unknown target %q", s)
		}
		*t = This
		return nil
	}
	var obj struct {
		Type  string `json:"type"`
		Value string `json:"value"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return core.ErrMalformedCall.WithMessage("target must be \"this\" or an object").WithCause(err)
	}
	*t = Target{Type: obj.Type, Value: obj.Value}
	return nil
}

// Arg is a call argument: either a nested invocation or a JSON literal.
type Arg struct {
	Call    *Call
	Literal json.RawMessage
}

// Invocation wraps c as a nested-call argument.
func Invocation(c *Call) Arg { return Arg{Call: c} }

// Literal encodes v as a literal argument.
func Literal(v interface{}) (Arg, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return Arg{}, err
	}
	return Arg{Literal: raw}, nil
}

// MarshalJSON implements json.Marshaler.
func (a Arg) MarshalJSON() ([]byte, error) {
	if a.Call != nil {
		return json.Marshal(struct {
			Type  string `json:"type"`
			Value *Call  `json:"value"`
		}{invocationType, a.Call})
	}
	if a.Literal == nil {
		return []byte("null"), nil
	}
	return a.Literal, nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (a *Arg) UnmarshalJSON(data []byte) error {
	var peek struct {
		Type  string          `json:"type"`
		Value json.RawMessage `json:"value"`
	}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		if err := json.Unmarshal(trimmed, &peek); err == nil && peek.Type == invocationType {
			var c Call
			if err := json.Unmarshal(peek.Value, &c); err != nil {
				return err
			}
			*a = Arg{Call: &c}
			return nil
		}
	}
	*a = Arg{Literal: append(json.RawMessage(nil), trimmed...)}
	return nil
}

// Call is one node of the call tree.
type Call struct {
	Target Target `json:"target"`
	Method string `json:"method"`
	Args   []Arg  `json:"args"`
}

// NewCall builds a call on the driver object. Each arg is a *Call (nested
// invocation), an Arg, or any JSON-encodable literal.
func NewCall(method string, args ...interface{}) (*Call, error) {
	c := &Call{Target: This, Method: method, Args: make([]Arg, 0, len(args))}
	for i, v := range args {
		switch a := v.(type) {
		case *Call:
			c.Args = append(c.Args, Invocation(a))
		case Arg:
			c.Args = append(c.Args, a)
		default:
			lit, err := Literal(v)
			if err != nil {
				return nil, fmt.Errorf("%s arg %d: %w", method, i, err)
			}
			c.Args = append(c.Args, lit)
		}
	}
	return c, nil
}

// Parse decodes a call from JSON.
func Parse(data []byte) (*Call, error) {
	var c Call
	if err := json.Unmarshal(data, &c); err != nil {
		if _, ok := err.(*core.ExecutionError); ok {
			return nil, err
		}
		return nil, core.ErrMalformedCall.WithCause(err)
	}
	if c.Method == "" {
		return nil, core.ErrMalformedCall.WithMessage("call has no method")
	}
	return &c, nil
}
