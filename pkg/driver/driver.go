// Package driver defines the browser automation capability surface the
// testee core runs against. Implementations: chrome (go-rod over CDP), mock.
package driver

import (
	"context"
	"time"

	"github.com/devicelab-dev/web-testee/pkg/core"
)

// Viewport is the page's visible area in CSS pixels.
type Viewport struct {
	Width  int `json:"width" yaml:"width"`
	Height int `json:"height" yaml:"height"`
}

// Bounds returns the viewport as a rectangle anchored at the origin.
func (v Viewport) Bounds() core.Bounds {
	return core.Bounds{Width: float64(v.Width), Height: float64(v.Height)}
}

// Point is a coordinate in CSS pixels relative to the viewport.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Element is a handle to a live DOM node. Handles belong to the page that
// produced them and are invalid once that page navigates.
type Element interface {
	// Describe returns tag, test id and text for logs.
	Describe(ctx context.Context) (*core.ElementInfo, error)

	// ChildCount returns the number of element children.
	ChildCount(ctx context.Context) (int, error)

	// IntersectionRatio returns the fraction of the element inside the viewport.
	IntersectionRatio(ctx context.Context) (float64, error)

	// Box returns the border box in viewport coordinates.
	Box(ctx context.Context) (core.Bounds, error)

	// Matches evaluates an XPath relative to the element and reports any hit.
	Matches(ctx context.Context, xpath string) (bool, error)

	Click(ctx context.Context) error
	Tap(ctx context.Context) error
	Focus(ctx context.Context) error
	IsFocused(ctx context.Context) (bool, error)

	// Value returns the element's form value ("" for non-form elements).
	Value(ctx context.Context) (string, error)

	// SetValue assigns the value and dispatches input and change events.
	SetValue(ctx context.Context, value string) error

	// TagName returns the lower-case tag name and, for inputs, the type attribute.
	TagName(ctx context.Context) (tag, inputType string, err error)

	ScrollBy(ctx context.Context, left, top float64) error
	IsScrollable(ctx context.Context) (bool, error)

	// LongPress dispatches touchstart at the element centre, waits, then touchend.
	LongPress(ctx context.Context, hold time.Duration) error
}

// Keyboard injects key events into the focused element.
type Keyboard interface {
	// Type sends one keystroke per rune.
	Type(ctx context.Context, text string) error
	// Press sends a single named key ("Backspace", "Enter", "a").
	Press(ctx context.Context, key string) error
}

// Pointer injects touch and mouse input at viewport coordinates.
type Pointer interface {
	TapAt(ctx context.Context, p Point) error
	// Drag presses at from, moves to to in steps, then releases.
	Drag(ctx context.Context, from, to Point, steps int) error
}

// Page is a single browser tab.
type Page interface {
	Keyboard
	Pointer

	URL(ctx context.Context) (string, error)

	// Navigate loads url and waits for load plus network idle.
	Navigate(ctx context.Context, url string) error

	// QueryXPath evaluates xpath against the document body in document order.
	QueryXPath(ctx context.Context, xpath string) ([]Element, error)

	Viewport(ctx context.Context) (Viewport, error)
	SetViewport(ctx context.Context, v Viewport) error
	SetGeolocation(ctx context.Context, latitude, longitude float64) error

	Screenshot(ctx context.Context) ([]byte, error)

	// BodyHTML and TestIDs feed lookup-failure diagnostics.
	BodyHTML(ctx context.Context) (string, error)
	TestIDs(ctx context.Context) ([]string, error)

	// PendingTimers returns the number of tracked JS timers still scheduled.
	PendingTimers(ctx context.Context) (int, error)

	// Subscribe streams network and animation lifecycle events to sink until
	// the returned stop function is called.
	Subscribe(ctx context.Context, sink EventSink) (stop func(), err error)

	// AnimationCurrentTime returns the elapsed time of an animation in ms.
	AnimationCurrentTime(ctx context.Context, id string) (float64, error)

	// PostMessage calls window.postMessage(msg, '*') in the page.
	PostMessage(ctx context.Context, msg map[string]interface{}) error

	// WaitSelector waits until a CSS selector matches.
	WaitSelector(ctx context.Context, css string, timeout time.Duration) error
}

// EventSink receives page lifecycle events.
type EventSink interface {
	RequestStarted(requestID, url string)
	RequestFinished(requestID string)
	RequestFailed(requestID string)
	AnimationStarted(id string, duration float64)
	AnimationCanceled(id string)
}

// Browser is a running browser process.
type Browser interface {
	// Page returns the first open tab, creating one if none exists.
	Page(ctx context.Context) (Page, error)

	// GrantPermissions replaces the permission overrides for origin.
	GrantPermissions(ctx context.Context, origin string, permissions []string) error
	ResetPermissions(ctx context.Context) error

	Close() error
}

// LaunchOptions configures a browser launch.
type LaunchOptions struct {
	Headless     bool
	Devtools     bool
	BrowserPath  string
	Viewport     Viewport
	ExtensionDir string // recorder extension, loaded when set
	TrackTimers  bool   // install the JS timer tracking shim on every document
}

// Launcher starts browsers.
type Launcher interface {
	Launch(ctx context.Context, opts LaunchOptions) (Browser, error)
}
