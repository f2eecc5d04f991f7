package mock

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/devicelab-dev/web-testee/pkg/core"
)

// Element is a scripted DOM node. Geometry is expressed at zero scroll; when
// Container is set the box moves with the container's scroll offset.
type Element struct {
	TestID    string
	Tag       string
	InputType string
	Text      string
	Children  int

	Rect      core.Bounds
	Container *Element

	Scrollable    bool
	MaxScrollTop  float64
	MaxScrollLeft float64

	// Subtree lists XPath expressions that match inside this element.
	Subtree map[string]bool

	// Err, when set, is returned by every operation (detached node).
	Err error

	mu         sync.Mutex
	page       *Page
	value      string
	hidden     bool
	scrollTop  float64
	scrollLeft float64
	calls      []string
}

// SetHidden toggles whether the element reports a zero intersection ratio.
func (e *Element) SetHidden(hidden bool) {
	e.mu.Lock()
	e.hidden = hidden
	e.mu.Unlock()
}

// SetFormValue sets the value without recording a call.
func (e *Element) SetFormValue(v string) {
	e.mu.Lock()
	e.value = v
	e.mu.Unlock()
}

// FormValue returns the current value.
func (e *Element) FormValue() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.value
}

// Scroll returns the current scroll offsets.
func (e *Element) Scroll() (left, top float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.scrollLeft, e.scrollTop
}

// Calls returns the recorded interactions in order.
func (e *Element) Calls() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.calls...)
}

func (e *Element) record(format string, args ...interface{}) {
	e.mu.Lock()
	e.calls = append(e.calls, fmt.Sprintf(format, args...))
	e.mu.Unlock()
}

func (e *Element) box() core.Bounds {
	e.mu.Lock()
	b := e.Rect
	c := e.Container
	e.mu.Unlock()
	if c != nil {
		left, top := c.Scroll()
		b.X -= left
		b.Y -= top
	}
	return b
}

func (e *Element) Describe(_ context.Context) (*core.ElementInfo, error) {
	if e.Err != nil {
		return nil, e.Err
	}
	return &core.ElementInfo{TestID: e.TestID, Tag: e.Tag, Text: e.Text, Bounds: e.box()}, nil
}

func (e *Element) ChildCount(_ context.Context) (int, error) {
	if e.Err != nil {
		return 0, e.Err
	}
	return e.Children, nil
}

func (e *Element) IntersectionRatio(_ context.Context) (float64, error) {
	if e.Err != nil {
		return 0, e.Err
	}
	e.mu.Lock()
	hidden := e.hidden
	p := e.page
	e.mu.Unlock()
	b := e.box()
	if hidden || b.Width <= 0 || b.Height <= 0 {
		return 0, nil
	}
	vp := core.Bounds{Width: 1280, Height: 720}
	if p != nil {
		vp = p.viewportBounds()
	}
	w := overlap(b.X, b.X+b.Width, vp.X, vp.X+vp.Width)
	h := overlap(b.Y, b.Y+b.Height, vp.Y, vp.Y+vp.Height)
	return (w * h) / (b.Width * b.Height), nil
}

func overlap(a0, a1, b0, b1 float64) float64 {
	lo, hi := a0, a1
	if b0 > lo {
		lo = b0
	}
	if b1 < hi {
		hi = b1
	}
	if hi <= lo {
		return 0
	}
	return hi - lo
}

func (e *Element) Box(_ context.Context) (core.Bounds, error) {
	if e.Err != nil {
		return core.Bounds{}, e.Err
	}
	return e.box(), nil
}

func (e *Element) Matches(_ context.Context, xpath string) (bool, error) {
	if e.Err != nil {
		return false, e.Err
	}
	return e.Subtree[xpath], nil
}

func (e *Element) Click(_ context.Context) error {
	if e.Err != nil {
		return e.Err
	}
	e.record("click")
	e.focus()
	return nil
}

func (e *Element) Tap(_ context.Context) error {
	if e.Err != nil {
		return e.Err
	}
	e.record("tap")
	return nil
}

func (e *Element) Focus(_ context.Context) error {
	if e.Err != nil {
		return e.Err
	}
	e.record("focus")
	e.focus()
	return nil
}

func (e *Element) focus() {
	e.mu.Lock()
	p := e.page
	e.mu.Unlock()
	if p != nil {
		p.setFocused(e)
	}
}

func (e *Element) IsFocused(_ context.Context) (bool, error) {
	if e.Err != nil {
		return false, e.Err
	}
	e.mu.Lock()
	p := e.page
	e.mu.Unlock()
	return p != nil && p.Focused() == e, nil
}

func (e *Element) Value(_ context.Context) (string, error) {
	if e.Err != nil {
		return "", e.Err
	}
	return e.FormValue(), nil
}

func (e *Element) SetValue(_ context.Context, value string) error {
	if e.Err != nil {
		return e.Err
	}
	e.record("setValue:%s", value)
	e.SetFormValue(value)
	return nil
}

func (e *Element) TagName(_ context.Context) (string, string, error) {
	if e.Err != nil {
		return "", "", e.Err
	}
	return strings.ToLower(e.Tag), e.InputType, nil
}

func (e *Element) ScrollBy(_ context.Context, left, top float64) error {
	if e.Err != nil {
		return e.Err
	}
	e.record("scrollBy:%g,%g", left, top)
	e.mu.Lock()
	e.scrollLeft = clamp(e.scrollLeft+left, 0, e.MaxScrollLeft)
	e.scrollTop = clamp(e.scrollTop+top, 0, e.MaxScrollTop)
	e.mu.Unlock()
	return nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func (e *Element) IsScrollable(_ context.Context) (bool, error) {
	if e.Err != nil {
		return false, e.Err
	}
	return e.Scrollable, nil
}

func (e *Element) LongPress(_ context.Context, hold time.Duration) error {
	if e.Err != nil {
		return e.Err
	}
	e.record("longPress:%s", hold)
	return nil
}
