package chrome

import (
	"context"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/devicelab-dev/web-testee/pkg/core"
)

// Element wraps a rod DOM handle.
type Element struct {
	el *rod.Element
}

func (e *Element) ctx(ctx context.Context) *rod.Element {
	return e.el.Context(ctx)
}

func (e *Element) eval(ctx context.Context, js string, args ...interface{}) (*proto.RuntimeRemoteObject, error) {
	res, err := e.ctx(ctx).Eval(js, args...)
	if err != nil {
		return nil, wrapErr(err)
	}
	return res, nil
}

func (e *Element) evalInto(ctx context.Context, v interface{}, js string, args ...interface{}) error {
	res, err := e.eval(ctx, js, args...)
	if err != nil {
		return err
	}
	return decodeValue(res, v)
}

// Describe returns tag, test id, text and box for logs.
func (e *Element) Describe(ctx context.Context) (*core.ElementInfo, error) {
	var d struct {
		Tag    string  `json:"tag"`
		TestID string  `json:"testId"`
		Text   string  `json:"text"`
		X      float64 `json:"x"`
		Y      float64 `json:"y"`
		Width  float64 `json:"width"`
		Height float64 `json:"height"`
	}
	if err := e.evalInto(ctx, &d, jsDescribe); err != nil {
		return nil, fmt.Errorf("describe element: %w", err)
	}
	return &core.ElementInfo{
		Tag:     d.Tag,
		TestID:  d.TestID,
		Text:    d.Text,
		Bounds:  core.Bounds{X: d.X, Y: d.Y, Width: d.Width, Height: d.Height},
		Visible: d.Width > 0 && d.Height > 0,
	}, nil
}

// ChildCount returns childElementCount.
func (e *Element) ChildCount(ctx context.Context) (int, error) {
	res, err := e.eval(ctx, jsChildCount)
	if err != nil {
		return 0, err
	}
	return res.Value.Int(), nil
}

// IntersectionRatio observes the element once with an IntersectionObserver.
func (e *Element) IntersectionRatio(ctx context.Context) (float64, error) {
	res, err := e.ctx(ctx).Evaluate(rod.Eval(jsIntersectionRatio).ByPromise())
	if err != nil {
		return 0, wrapErr(fmt.Errorf("intersection ratio: %w", err))
	}
	return res.Value.Num(), nil
}

// Box returns getBoundingClientRect.
func (e *Element) Box(ctx context.Context) (core.Bounds, error) {
	var b core.Bounds
	if err := e.evalInto(ctx, &b, jsBox); err != nil {
		return core.Bounds{}, fmt.Errorf("bounding box: %w", err)
	}
	return b, nil
}

// Matches evaluates xpath with the element as context node.
func (e *Element) Matches(ctx context.Context, xpath string) (bool, error) {
	res, err := e.eval(ctx, jsMatches, xpath)
	if err != nil {
		return false, fmt.Errorf("evaluate %s: %w", xpath, err)
	}
	return res.Value.Bool(), nil
}

// Click sends a left mouse click at the element centre.
func (e *Element) Click(ctx context.Context) error {
	if err := e.ctx(ctx).Click(proto.InputMouseButtonLeft, 1); err != nil {
		return wrapErr(fmt.Errorf("click: %w", err))
	}
	return nil
}

// Tap sends a touch tap at the element centre.
func (e *Element) Tap(ctx context.Context) error {
	if err := e.ctx(ctx).Tap(); err != nil {
		return wrapErr(fmt.Errorf("tap: %w", err))
	}
	return nil
}

func (e *Element) Focus(ctx context.Context) error {
	if err := e.ctx(ctx).Focus(); err != nil {
		return wrapErr(fmt.Errorf("focus: %w", err))
	}
	return nil
}

func (e *Element) IsFocused(ctx context.Context) (bool, error) {
	res, err := e.eval(ctx, jsIsFocused)
	if err != nil {
		return false, err
	}
	return res.Value.Bool(), nil
}

// Value returns the form value, or "" for other elements.
func (e *Element) Value(ctx context.Context) (string, error) {
	res, err := e.eval(ctx, jsValue)
	if err != nil {
		return "", err
	}
	return res.Value.Str(), nil
}

// SetValue assigns value and dispatches input and change.
func (e *Element) SetValue(ctx context.Context, value string) error {
	if _, err := e.eval(ctx, jsSetValue, value); err != nil {
		return fmt.Errorf("set value: %w", err)
	}
	return nil
}

// TagName returns the lower-case tag and the type attribute.
func (e *Element) TagName(ctx context.Context) (string, string, error) {
	var t struct {
		Tag  string `json:"tag"`
		Type string `json:"type"`
	}
	if err := e.evalInto(ctx, &t, jsTagName); err != nil {
		return "", "", fmt.Errorf("tag name: %w", err)
	}
	return t.Tag, t.Type, nil
}

func (e *Element) ScrollBy(ctx context.Context, left, top float64) error {
	if _, err := e.eval(ctx, jsScrollBy, left, top); err != nil {
		return fmt.Errorf("scroll by %.0f,%.0f: %w", left, top, err)
	}
	return nil
}

func (e *Element) IsScrollable(ctx context.Context) (bool, error) {
	res, err := e.eval(ctx, jsIsScrollable)
	if err != nil {
		return false, err
	}
	return res.Value.Bool(), nil
}

// LongPress dispatches touchstart at the centre, holds, then touchend. The
// call returns after the hold elapses in the page.
func (e *Element) LongPress(ctx context.Context, hold time.Duration) error {
	opts := rod.Eval(jsLongPress, hold.Milliseconds()).ByPromise()
	if _, err := e.ctx(ctx).Evaluate(opts); err != nil {
		return wrapErr(fmt.Errorf("long press: %w", err))
	}
	return nil
}
