// Package testee serves test steps sent by the runner: it decodes each
// message, runs it against the browser and answers once the page is idle.
package testee

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/devicelab-dev/web-testee/pkg/action"
	"github.com/devicelab-dev/web-testee/pkg/artifacts"
	"github.com/devicelab-dev/web-testee/pkg/core"
	"github.com/devicelab-dev/web-testee/pkg/device"
	"github.com/devicelab-dev/web-testee/pkg/invoke"
	"github.com/devicelab-dev/web-testee/pkg/logger"
	"github.com/devicelab-dev/web-testee/pkg/resolver"
	"github.com/devicelab-dev/web-testee/pkg/session"
	"github.com/devicelab-dev/web-testee/pkg/settle"
	"github.com/devicelab-dev/web-testee/pkg/transport"
)

// Role is sent in the login handshake.
const Role = "testee"

// Status values reported for currentStatus.
const (
	StatusIdle = "idle"
	StatusBusy = "busy"
)

// Options configures a Testee.
type Options struct {
	// LookupTimeout is the default element lookup timeout.
	LookupTimeout time.Duration
	// Artifacts enables the recordVideo, stopVideo and takeScreenshot methods.
	Artifacts artifacts.Plugin
}

// Testee handles one runner connection. Messages are processed one at a time.
type Testee struct {
	ch       transport.Channel
	dev      *device.Device
	sess     *session.Session
	engine   *settle.Engine
	resolver *resolver.Resolver
	executor *action.Executor
	interp   *invoke.Interpreter
	log      *zap.SugaredLogger

	mu sync.Mutex
}

// New creates a Testee serving ch with the browser owned by dev.
func New(ch transport.Channel, dev *device.Device, engine *settle.Engine, opts Options) *Testee {
	t := &Testee{
		ch:       ch,
		dev:      dev,
		sess:     dev.Session(),
		engine:   engine,
		resolver: resolver.New(opts.LookupTimeout),
		executor: action.NewExecutor(),
		interp:   invoke.NewInterpreter(),
		log:      logger.Named("testee"),
	}
	t.registerMethods(opts.Artifacts)
	return t
}

// Interpreter exposes the method table, for registering extra methods.
func (t *Testee) Interpreter() *invoke.Interpreter { return t.interp }

// Run logs in and serves messages until the channel closes or ctx ends.
func (t *Testee) Run(ctx context.Context) error {
	login, err := transport.NewMessage(transport.TypeLogin, nil, map[string]string{
		"sessionId": t.sess.ID(),
		"role":      Role,
	})
	if err != nil {
		return err
	}
	if err := t.ch.Send(ctx, login); err != nil {
		return err
	}
	t.log.Infow("logged in", "session", t.sess.ID())

	for {
		raw, err := t.ch.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, core.ErrChannelClosed) {
				t.log.Info("channel closed")
				return nil
			}
			return err
		}
		if err := t.HandleMessage(ctx, raw); err != nil {
			return err
		}
	}
}

// HandleMessage processes one frame. Step failures are reported to the
// runner; the returned error is only set when a reply could not be sent.
func (t *Testee) HandleMessage(ctx context.Context, raw []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, id := transport.Peek(raw)
	msg, err := transport.Decode(raw)
	if err != nil {
		return t.fatal(ctx, id, err)
	}
	t.log.Debugw("message", "type", msg.Type, "messageId", string(msg.MessageID))

	// The page may have changed since the last message.
	if page, err := t.sess.Page(); err == nil {
		if err := t.engine.Attach(ctx, page); err != nil {
			t.log.Warnw("attach synchronization", "error", err)
		}
	}

	switch msg.Type {
	case "", transport.TypeLoginSuccess:
		return nil

	case transport.TypeDeliverPayload:
		var params struct {
			URL string `json:"url"`
		}
		if len(msg.Params) > 0 {
			if err := json.Unmarshal(msg.Params, &params); err != nil {
				return t.fatal(ctx, msg.MessageID, core.ErrMalformedCall.WithMessage("deliverPayload params").WithCause(err))
			}
		}
		if params.URL != "" {
			if err := t.dev.Open(ctx, params.URL); err != nil {
				return t.fatal(ctx, msg.MessageID, err)
			}
		}
		return t.respond(ctx, transport.TypeDeliverPayloadDone, msg.MessageID, nil, true)

	case transport.TypeCurrentStatus:
		return t.respond(ctx, transport.TypeCurrentStatusResult, msg.MessageID, t.status(), false)

	case transport.TypeCleanup:
		return t.respond(ctx, transport.TypeCleanupDone, msg.MessageID, nil, false)

	default:
		return t.invoke(ctx, raw, msg)
	}
}

type statusParams struct {
	Status    string   `json:"status"`
	Resources []string `json:"resources"`
}

func (t *Testee) status() statusParams {
	st := statusParams{Status: StatusIdle, Resources: t.engine.Resources()}
	if t.engine.Busy() {
		st.Status = StatusBusy
	}
	if st.Resources == nil {
		st.Resources = []string{}
	}
	return st
}

// invoke runs a step. Step failures are answered immediately with
// testFailed; a lost browser takes the fatal path.
func (t *Testee) invoke(ctx context.Context, raw []byte, msg transport.Message) error {
	if err := t.engine.Settle(ctx); err != nil {
		return err
	}

	// A step that needs the browser after a teardown is a plain failure;
	// the browser is already gone.
	running := t.sess.Running()
	start := time.Now()
	result, err := t.eval(ctx, msg.Params)
	t.log.Debugw("step done", "ok", err == nil, "duration", time.Since(start))
	if err != nil {
		stale := !running && errors.Is(err, core.ErrBrowserClosed)
		if core.CategoryOf(err).IsFatal() && !stale {
			return t.fatal(ctx, msg.MessageID, err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		t.log.Infow("step failed", "error", err)
		return t.respond(ctx, transport.TypeTestFailed, msg.MessageID,
			map[string]string{"details": string(raw) + "\n" + err.Error()}, false)
	}

	var params interface{}
	if s, ok := result.(string); ok && s != "" {
		params = map[string]string{"result": s}
	}
	return t.respond(ctx, transport.TypeInvokeResult, msg.MessageID, params, true)
}

func (t *Testee) eval(ctx context.Context, params json.RawMessage) (invoke.Value, error) {
	call, err := invoke.Parse(params)
	if err != nil {
		return nil, err
	}
	result, err := t.interp.Eval(ctx, call)
	if err != nil {
		return nil, err
	}
	if !invoke.Truthy(result) {
		return nil, core.ErrInvalidResult
	}
	return result, nil
}

// respond sends a reply, first waiting for the page to settle when synchronized.
func (t *Testee) respond(ctx context.Context, typ string, id json.RawMessage, params interface{}, synchronized bool) error {
	if synchronized {
		if err := t.engine.Settle(ctx); err != nil {
			return err
		}
	}
	m, err := transport.NewMessage(typ, id, params)
	if err != nil {
		return err
	}
	return t.ch.Send(ctx, m)
}

// fatal reports err and closes the browser. Later steps fail until the app
// is launched again.
func (t *Testee) fatal(ctx context.Context, id json.RawMessage, cause error) error {
	t.log.Errorw("fatal error, closing browser", "error", cause)
	sendErr := t.respond(ctx, transport.TypeError, id, map[string]string{"error": cause.Error()}, false)
	t.engine.Detach()
	if err := t.sess.Teardown(); err != nil {
		t.log.Warnw("close browser", "error", err)
	}
	return sendErr
}
