package invoke

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/devicelab-dev/web-testee/pkg/core"
)

// MaxDepth bounds call nesting.
const MaxDepth = 64

// Value is an evaluated argument: a method result, a *Call for typed
// targets, or a json.RawMessage literal.
type Value interface{}

// Method is a driver-object operation.
type Method func(ctx context.Context, args []Value) (Value, error)

// Interpreter evaluates call trees post-order: arguments first, in order,
// then the call itself.
type Interpreter struct {
	methods map[string]Method
}

// NewInterpreter creates an interpreter with an empty method table.
func NewInterpreter() *Interpreter {
	return &Interpreter{methods: make(map[string]Method)}
}

// Register adds or replaces a method on the driver object.
func (in *Interpreter) Register(name string, m Method) {
	in.methods[name] = m
}

// Eval evaluates c.
func (in *Interpreter) Eval(ctx context.Context, c *Call) (Value, error) {
	return in.eval(ctx, c, 0)
}

func (in *Interpreter) eval(ctx context.Context, c *Call, depth int) (Value, error) {
	if c == nil {
		return nil, core.ErrMalformedCall.WithMessage("nil call")
	}
	if depth >= MaxDepth {
		return nil, core.ErrMalformedCall.WithMessagef("call nesting exceeds %d", MaxDepth)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	args := make([]Value, len(c.Args))
	for i, a := range c.Args {
		if a.Call == nil {
			args[i] = a.Literal
			continue
		}
		v, err := in.eval(ctx, a.Call, depth+1)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}

	if !c.Target.This {
		// Typed targets (matchers, actions) are descriptors, not calls.
		return &Call{Target: c.Target, Method: c.Method, Args: resolved(c.Args, args)}, nil
	}
	m, ok := in.methods[c.Method]
	if !ok {
		return nil, core.ErrUnknownMethod.WithMessagef("unknown method %q", c.Method)
	}
	return m(ctx, args)
}

// resolved rebuilds args with nested results inlined as literals so the
// descriptor decodes without re-evaluation.
func resolved(orig []Arg, vals []Value) []Arg {
	out := make([]Arg, len(orig))
	for i, a := range orig {
		switch v := vals[i].(type) {
		case json.RawMessage:
			out[i] = Arg{Literal: v}
		case *Call:
			out[i] = Invocation(v)
		default:
			raw, err := json.Marshal(v)
			if err != nil {
				out[i] = a
				continue
			}
			out[i] = Arg{Literal: raw}
		}
	}
	return out
}

// Decode converts v into out. Literals decode directly; typed-target calls
// decode through their wire form.
func Decode(v Value, out interface{}) error {
	var raw []byte
	switch x := v.(type) {
	case json.RawMessage:
		raw = x
	case *Call:
		b, err := json.Marshal(x)
		if err != nil {
			return err
		}
		raw = b
	case nil:
		return core.ErrMalformedCall.WithMessage("missing argument")
	default:
		return core.ErrMalformedCall.WithMessagef("cannot decode %T", v)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		if _, ok := err.(*core.ExecutionError); ok {
			return err
		}
		return core.ErrMalformedCall.WithMessage(fmt.Sprintf("decode %T", out)).WithCause(err)
	}
	return nil
}

// Truthy reports whether a method result counts as success: nil, false and
// values reporting Valid() == false do not.
func Truthy(v Value) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case json.RawMessage:
		s := string(x)
		return s != "null" && s != "false"
	case interface{ Valid() bool }:
		return x.Valid()
	}
	return true
}
