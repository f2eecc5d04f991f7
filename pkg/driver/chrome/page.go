package chrome

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"

	"github.com/devicelab-dev/web-testee/pkg/driver"
)

// NavigateTimeout bounds a single navigation including network idle.
const NavigateTimeout = 60 * time.Second

// DragSteps is the move count used when a caller passes a non-positive value.
const DragSteps = 10

// namedKeys maps DOM key names to rod key codes.
var namedKeys = map[string]input.Key{
	"Enter":      input.Enter,
	"Tab":        input.Tab,
	"Escape":     input.Escape,
	"Backspace":  input.Backspace,
	"Delete":     input.Delete,
	"ArrowUp":    input.ArrowUp,
	"ArrowDown":  input.ArrowDown,
	"ArrowLeft":  input.ArrowLeft,
	"ArrowRight": input.ArrowRight,
	"Home":       input.Home,
	"End":        input.End,
	"PageUp":     input.PageUp,
	"PageDown":   input.PageDown,
	" ":          input.Space,
}

// KeyFor resolves a key name ("Enter", "a") to a rod key.
func KeyFor(name string) (input.Key, bool) {
	if k, ok := namedKeys[name]; ok {
		return k, true
	}
	r := []rune(name)
	if len(r) == 1 {
		return keyForRune(r[0])
	}
	return 0, false
}

// keyForRune reports the key that produces r on rod's US layout.
func keyForRune(r rune) (input.Key, bool) {
	switch {
	case r == '\n' || r == '\r':
		return input.Enter, true
	case r == '\t':
		return input.Tab, true
	case r >= ' ' && r <= '~':
		return input.Key(r), true
	}
	return 0, false
}

// Page wraps a rod tab.
type Page struct {
	page *rod.Page
	log  *zap.SugaredLogger
}

func (p *Page) ctx(ctx context.Context) *rod.Page {
	return p.page.Context(ctx)
}

// URL returns the tab's current address.
func (p *Page) URL(ctx context.Context) (string, error) {
	info, err := p.ctx(ctx).Info()
	if err != nil {
		return "", wrapErr(fmt.Errorf("page info: %w", err))
	}
	return info.URL, nil
}

// Navigate loads url, then waits for the load event and network almost idle
// (no more than two connections for 500 ms).
func (p *Page) Navigate(ctx context.Context, url string) error {
	page := p.ctx(ctx).Timeout(NavigateTimeout)
	defer page.CancelTimeout()

	wait := page.WaitNavigation(proto.PageLifecycleEventNameNetworkAlmostIdle)
	if err := page.Navigate(url); err != nil {
		return wrapErr(fmt.Errorf("navigate: %w", err))
	}
	wait()
	if err := page.WaitLoad(); err != nil {
		return wrapErr(fmt.Errorf("wait load: %w", err))
	}
	p.log.Debugw("navigated", "url", url)
	return nil
}

// QueryXPath evaluates xpath against the document body in document order.
func (p *Page) QueryXPath(ctx context.Context, xpath string) ([]driver.Element, error) {
	els, err := p.ctx(ctx).ElementsByJS(rod.Eval(jsQueryXPath, xpath))
	if err != nil {
		return nil, wrapErr(fmt.Errorf("evaluate %s: %w", xpath, err))
	}
	out := make([]driver.Element, 0, len(els))
	for _, el := range els {
		out = append(out, &Element{el: el})
	}
	return out, nil
}

// Viewport reports the current inner window size.
func (p *Page) Viewport(ctx context.Context) (driver.Viewport, error) {
	var v driver.Viewport
	if err := p.evalInto(ctx, &v, jsViewport); err != nil {
		return driver.Viewport{}, fmt.Errorf("read viewport: %w", err)
	}
	return v, nil
}

// SetViewport overrides the device metrics.
func (p *Page) SetViewport(ctx context.Context, v driver.Viewport) error {
	err := p.ctx(ctx).SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             v.Width,
		Height:            v.Height,
		DeviceScaleFactor: 1,
	})
	if err != nil {
		return wrapErr(fmt.Errorf("set viewport %dx%d: %w", v.Width, v.Height, err))
	}
	return nil
}

// SetGeolocation overrides the reported position.
func (p *Page) SetGeolocation(ctx context.Context, latitude, longitude float64) error {
	accuracy := 1.0
	err := proto.EmulationSetGeolocationOverride{
		Latitude:  &latitude,
		Longitude: &longitude,
		Accuracy:  &accuracy,
	}.Call(p.ctx(ctx))
	if err != nil {
		return wrapErr(fmt.Errorf("set geolocation: %w", err))
	}
	return nil
}

// Screenshot captures the viewport as PNG.
func (p *Page) Screenshot(ctx context.Context) ([]byte, error) {
	data, err := p.ctx(ctx).Screenshot(false, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
	if err != nil {
		return nil, wrapErr(fmt.Errorf("screenshot: %w", err))
	}
	return data, nil
}

// BodyHTML returns document.body.outerHTML.
func (p *Page) BodyHTML(ctx context.Context) (string, error) {
	res, err := p.ctx(ctx).Eval(jsBodyHTML)
	if err != nil {
		return "", wrapErr(err)
	}
	return res.Value.Str(), nil
}

// TestIDs lists every data-testid in document order.
func (p *Page) TestIDs(ctx context.Context) ([]string, error) {
	var ids []string
	if err := p.evalInto(ctx, &ids, jsTestIDs); err != nil {
		return nil, err
	}
	return ids, nil
}

// PendingTimers reads the count kept by the timer shim.
func (p *Page) PendingTimers(ctx context.Context) (int, error) {
	res, err := p.ctx(ctx).Eval(jsPendingTimers)
	if err != nil {
		return 0, wrapErr(err)
	}
	return res.Value.Int(), nil
}

// AnimationCurrentTime returns how far an animation has played in ms.
func (p *Page) AnimationCurrentTime(ctx context.Context, id string) (float64, error) {
	res, err := proto.AnimationGetCurrentTime{ID: id}.Call(p.ctx(ctx))
	if err != nil {
		return 0, wrapErr(fmt.Errorf("animation %s current time: %w", id, err))
	}
	return res.CurrentTime, nil
}

// PostMessage calls window.postMessage(msg, '*').
func (p *Page) PostMessage(ctx context.Context, msg map[string]interface{}) error {
	if _, err := p.ctx(ctx).Eval(jsPostMessage, msg); err != nil {
		return wrapErr(fmt.Errorf("post message: %w", err))
	}
	return nil
}

// WaitSelector retries the CSS query until it matches or timeout passes.
func (p *Page) WaitSelector(ctx context.Context, css string, timeout time.Duration) error {
	page := p.ctx(ctx).Timeout(timeout)
	defer page.CancelTimeout()
	if _, err := page.Element(css); err != nil {
		return wrapErr(fmt.Errorf("wait for %s: %w", css, err))
	}
	return nil
}

// Type sends one keystroke per rune. Runes outside the keyboard layout are
// inserted as text.
func (p *Page) Type(ctx context.Context, text string) error {
	page := p.ctx(ctx)
	for _, r := range text {
		var err error
		if k, ok := keyForRune(r); ok {
			err = page.Keyboard.Type(k)
		} else {
			err = proto.InputInsertText{Text: string(r)}.Call(page)
		}
		if err != nil {
			return wrapErr(fmt.Errorf("type %q: %w", r, err))
		}
	}
	return nil
}

// Press sends a single named key.
func (p *Page) Press(ctx context.Context, key string) error {
	k, ok := KeyFor(key)
	if !ok {
		return fmt.Errorf("unknown key %q", key)
	}
	if err := p.ctx(ctx).Keyboard.Type(k); err != nil {
		return wrapErr(fmt.Errorf("press %s: %w", key, err))
	}
	return nil
}

// TapAt dispatches a touch tap at viewport coordinates.
func (p *Page) TapAt(ctx context.Context, pt driver.Point) error {
	if err := p.ctx(ctx).Touch.Tap(pt.X, pt.Y); err != nil {
		return wrapErr(fmt.Errorf("tap at %.0f,%.0f: %w", pt.X, pt.Y, err))
	}
	return nil
}

// Drag presses at from, moves to to in steps, then releases.
func (p *Page) Drag(ctx context.Context, from, to driver.Point, steps int) error {
	if steps <= 0 {
		steps = DragSteps
	}
	mouse := p.ctx(ctx).Mouse
	if err := mouse.MoveTo(proto.Point{X: from.X, Y: from.Y}); err != nil {
		return wrapErr(fmt.Errorf("drag move: %w", err))
	}
	if err := mouse.Down(proto.InputMouseButtonLeft, 1); err != nil {
		return wrapErr(fmt.Errorf("drag press: %w", err))
	}
	if err := mouse.MoveLinear(proto.Point{X: to.X, Y: to.Y}, steps); err != nil {
		return wrapErr(fmt.Errorf("drag move: %w", err))
	}
	if err := mouse.Up(proto.InputMouseButtonLeft, 1); err != nil {
		return wrapErr(fmt.Errorf("drag release: %w", err))
	}
	return nil
}

// Subscribe enables the Network and Animation domains and forwards their
// lifecycle events to sink until stop is called.
func (p *Page) Subscribe(ctx context.Context, sink driver.EventSink) (func(), error) {
	page := p.ctx(ctx)
	if err := (proto.NetworkEnable{}).Call(page); err != nil {
		return nil, wrapErr(fmt.Errorf("enable network events: %w", err))
	}
	if err := (proto.AnimationEnable{}).Call(page); err != nil {
		return nil, wrapErr(fmt.Errorf("enable animation events: %w", err))
	}

	subCtx, cancel := context.WithCancel(context.Background())
	wait := p.page.Context(subCtx).EachEvent(
		func(e *proto.NetworkRequestWillBeSent) {
			sink.RequestStarted(string(e.RequestID), e.Request.URL)
		},
		func(e *proto.NetworkLoadingFinished) {
			sink.RequestFinished(string(e.RequestID))
		},
		func(e *proto.NetworkLoadingFailed) {
			sink.RequestFailed(string(e.RequestID))
		},
		func(e *proto.AnimationAnimationStarted) {
			if e.Animation == nil {
				return
			}
			var duration float64
			if e.Animation.Source != nil {
				duration = e.Animation.Source.Duration
			}
			sink.AnimationStarted(e.Animation.ID, duration)
		},
		func(e *proto.AnimationAnimationCanceled) {
			sink.AnimationCanceled(e.ID)
		},
	)
	done := make(chan struct{})
	go func() {
		defer close(done)
		wait()
	}()

	return func() {
		cancel()
		<-done
	}, nil
}

// evalInto evaluates js and decodes its JSON value into v.
func (p *Page) evalInto(ctx context.Context, v interface{}, js string, args ...interface{}) error {
	res, err := p.ctx(ctx).Eval(js, args...)
	if err != nil {
		return wrapErr(err)
	}
	return decodeValue(res, v)
}

func decodeValue(res *proto.RuntimeRemoteObject, v interface{}) error {
	raw, err := res.Value.MarshalJSON()
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}
	return nil
}
