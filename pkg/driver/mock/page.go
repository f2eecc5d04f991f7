package mock

import (
	"context"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/devicelab-dev/web-testee/pkg/core"
	"github.com/devicelab-dev/web-testee/pkg/driver"
)

// Page is a scripted tab. XPath queries return whatever was registered with On.
type Page struct {
	// NavigateErr makes Navigate fail.
	NavigateErr error
	// Body and IDs are returned by the diagnostic dumps.
	Body string
	IDs  []string
	// OnPostMessage runs after every PostMessage.
	OnPostMessage func(msg map[string]interface{})

	mu         sync.Mutex
	url        string
	viewport   driver.Viewport
	queries    map[string][]*Element
	queryCount map[string]int
	focused    *Element
	calls      []string
	sink       driver.EventSink
	subscribes int
	animTimes  map[string]float64
	animErrs   map[string]error
	timers     int
	messages   []map[string]interface{}
	selectors  map[string]bool
	geo        [2]float64
	closed     bool
}

// NewPage creates a page with the given viewport.
func NewPage(vp driver.Viewport) *Page {
	return &Page{
		viewport:   vp,
		queries:    make(map[string][]*Element),
		queryCount: make(map[string]int),
		animTimes:  make(map[string]float64),
		animErrs:   make(map[string]error),
		selectors:  make(map[string]bool),
	}
}

// On registers the elements returned for xpath, in document order.
func (p *Page) On(xpath string, elems ...*Element) {
	for _, e := range elems {
		e.mu.Lock()
		e.page = p
		e.mu.Unlock()
	}
	p.mu.Lock()
	p.queries[xpath] = elems
	p.mu.Unlock()
}

// Queries returns how many times xpath was evaluated.
func (p *Page) Queries(xpath string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.queryCount[xpath]
}

// Calls returns page-level interactions in order.
func (p *Page) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

// Focused returns the element holding focus.
func (p *Page) Focused() *Element {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.focused
}

func (p *Page) setFocused(e *Element) {
	p.mu.Lock()
	p.focused = e
	p.mu.Unlock()
}

func (p *Page) record(format string, args ...interface{}) {
	p.mu.Lock()
	p.calls = append(p.calls, fmt.Sprintf(format, args...))
	p.mu.Unlock()
}

func (p *Page) setClosed() {
	p.mu.Lock()
	p.closed = true
	p.sink = nil
	p.mu.Unlock()
}

func (p *Page) check() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	return nil
}

func (p *Page) viewportBounds() core.Bounds {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.viewport.Bounds()
}

func (p *Page) Type(_ context.Context, text string) error {
	if err := p.check(); err != nil {
		return err
	}
	p.record("type:%s", text)
	if f := p.Focused(); f != nil {
		f.SetFormValue(f.FormValue() + text)
	}
	return nil
}

func (p *Page) Press(_ context.Context, key string) error {
	if err := p.check(); err != nil {
		return err
	}
	p.record("press:%s", key)
	f := p.Focused()
	if f == nil {
		return nil
	}
	switch key {
	case "Backspace":
		v := f.FormValue()
		if v != "" {
			_, size := utf8.DecodeLastRuneInString(v)
			f.SetFormValue(v[:len(v)-size])
		}
	case "Enter", "Tab", "Escape", "Delete", "Home", "End",
		"ArrowUp", "ArrowDown", "ArrowLeft", "ArrowRight", "PageUp", "PageDown":
	default:
		f.SetFormValue(f.FormValue() + key)
	}
	return nil
}

func (p *Page) TapAt(_ context.Context, pt driver.Point) error {
	if err := p.check(); err != nil {
		return err
	}
	p.record("tapAt:%g,%g", pt.X, pt.Y)
	return nil
}

func (p *Page) Drag(_ context.Context, from, to driver.Point, steps int) error {
	if err := p.check(); err != nil {
		return err
	}
	p.record("drag:%g,%g->%g,%g/%d", from.X, from.Y, to.X, to.Y, steps)
	return nil
}

func (p *Page) URL(_ context.Context) (string, error) {
	if err := p.check(); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url, nil
}

func (p *Page) Navigate(_ context.Context, url string) error {
	if err := p.check(); err != nil {
		return err
	}
	if p.NavigateErr != nil {
		return p.NavigateErr
	}
	p.record("navigate:%s", url)
	p.mu.Lock()
	p.url = url
	p.focused = nil
	p.mu.Unlock()
	return nil
}

func (p *Page) QueryXPath(_ context.Context, xpath string) ([]driver.Element, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrClosed
	}
	p.queryCount[xpath]++
	elems := p.queries[xpath]
	out := make([]driver.Element, len(elems))
	for i, e := range elems {
		out[i] = e
	}
	return out, nil
}

func (p *Page) Viewport(_ context.Context) (driver.Viewport, error) {
	if err := p.check(); err != nil {
		return driver.Viewport{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.viewport, nil
}

func (p *Page) SetViewport(_ context.Context, v driver.Viewport) error {
	if err := p.check(); err != nil {
		return err
	}
	p.mu.Lock()
	p.viewport = v
	p.mu.Unlock()
	return nil
}

func (p *Page) SetGeolocation(_ context.Context, lat, lon float64) error {
	if err := p.check(); err != nil {
		return err
	}
	p.mu.Lock()
	p.geo = [2]float64{lat, lon}
	p.mu.Unlock()
	return nil
}

// Geolocation returns the last override.
func (p *Page) Geolocation() (lat, lon float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.geo[0], p.geo[1]
}

func (p *Page) Screenshot(_ context.Context) ([]byte, error) {
	if err := p.check(); err != nil {
		return nil, err
	}
	return append([]byte(nil), screenshotPNG...), nil
}

func (p *Page) BodyHTML(_ context.Context) (string, error) {
	if err := p.check(); err != nil {
		return "", err
	}
	return p.Body, nil
}

func (p *Page) TestIDs(_ context.Context) ([]string, error) {
	if err := p.check(); err != nil {
		return nil, err
	}
	return p.IDs, nil
}

// SetPendingTimers sets the tracked timer count.
func (p *Page) SetPendingTimers(n int) {
	p.mu.Lock()
	p.timers = n
	p.mu.Unlock()
}

func (p *Page) PendingTimers(_ context.Context) (int, error) {
	if err := p.check(); err != nil {
		return 0, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.timers, nil
}

func (p *Page) Subscribe(_ context.Context, sink driver.EventSink) (func(), error) {
	if err := p.check(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.sink = sink
	p.subscribes++
	p.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			if p.sink == sink {
				p.sink = nil
			}
			p.mu.Unlock()
		})
	}, nil
}

// Subscribes returns how many times Subscribe was called.
func (p *Page) Subscribes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.subscribes
}

// Sink returns the active event sink, or nil.
func (p *Page) Sink() driver.EventSink {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sink
}

// SetAnimationTime scripts the current time of an animation.
func (p *Page) SetAnimationTime(id string, ms float64) {
	p.mu.Lock()
	p.animTimes[id] = ms
	p.mu.Unlock()
}

// SetAnimationError makes AnimationCurrentTime fail for id.
func (p *Page) SetAnimationError(id string, err error) {
	p.mu.Lock()
	p.animErrs[id] = err
	p.mu.Unlock()
}

func (p *Page) AnimationCurrentTime(_ context.Context, id string) (float64, error) {
	if err := p.check(); err != nil {
		return 0, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.animErrs[id]; err != nil {
		return 0, err
	}
	return p.animTimes[id], nil
}

func (p *Page) PostMessage(_ context.Context, msg map[string]interface{}) error {
	if err := p.check(); err != nil {
		return err
	}
	p.mu.Lock()
	p.messages = append(p.messages, msg)
	hook := p.OnPostMessage
	p.mu.Unlock()
	if hook != nil {
		hook(msg)
	}
	return nil
}

// Messages returns every posted message.
func (p *Page) Messages() []map[string]interface{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]map[string]interface{}(nil), p.messages...)
}

// SetSelector marks a CSS selector as present or absent.
func (p *Page) SetSelector(css string, present bool) {
	p.mu.Lock()
	p.selectors[css] = present
	p.mu.Unlock()
}

func (p *Page) WaitSelector(ctx context.Context, css string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	for {
		if err := p.check(); err != nil {
			return err
		}
		p.mu.Lock()
		ok := p.selectors[css]
		p.mu.Unlock()
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for %s: %w", css, ctx.Err())
		case <-time.After(10 * time.Millisecond):
		}
	}
}
