// Package action encodes the user interactions a test step can request and
// executes them against a resolved element.
package action

import (
	"encoding/json"
	"fmt"

	"github.com/devicelab-dev/web-testee/pkg/core"
	"github.com/devicelab-dev/web-testee/pkg/driver"
)

// Verb names an action.
type Verb string

// Verbs.
const (
	// Touch
	VerbTap        Verb = "tap"
	VerbTapAtPoint Verb = "tapAtPoint"
	VerbLongPress  Verb = "longPress"
	VerbMultiTap   Verb = "multiTap"

	// Text
	VerbTypeText      Verb = "typeText"
	VerbReplaceText   Verb = "replaceText"
	VerbClearText     Verb = "clearText"
	VerbKeyboardPress Verb = "keyboardPress"

	// Scrolling
	VerbScroll   Verb = "scroll"
	VerbScrollTo Verb = "scrollTo"
	VerbSwipe    Verb = "swipe"

	// Pickers
	VerbSetColumnToValue  Verb = "setColumnToValue"
	VerbSetDatePickerDate Verb = "setDatePickerDate"
)

// Directions and edges.
const (
	Up     = "up"
	Down   = "down"
	Left   = "left"
	Right  = "right"
	Top    = "top"
	Bottom = "bottom"
)

// Swipe speeds.
const (
	Fast = "fast"
	Slow = "slow"
)

// DefaultLongPress is the hold used when a long press carries no duration.
const DefaultLongPress = 700

// Descriptor is an encoded action. Args are positional and kept raw until
// the executor reads them with the typed accessors.
type Descriptor struct {
	Verb Verb
	Args []json.RawMessage
}

func newDescriptor(verb Verb, args ...interface{}) Descriptor {
	d := Descriptor{Verb: verb, Args: make([]json.RawMessage, 0, len(args))}
	for _, a := range args {
		raw, err := json.Marshal(a)
		if err != nil {
			panic(fmt.Sprintf("action %s: encode argument: %v", verb, err))
		}
		d.Args = append(d.Args, raw)
	}
	return d
}

// Tap taps the element centre.
func Tap() Descriptor { return newDescriptor(VerbTap) }

// TapAtPoint taps at an offset from the element's top-left corner.
func TapAtPoint(x, y float64) Descriptor {
	return newDescriptor(VerbTapAtPoint, driver.Point{X: x, Y: y})
}

// LongPress holds a touch for ms milliseconds; ms <= 0 uses DefaultLongPress.
func LongPress(ms int) Descriptor {
	if ms <= 0 {
		ms = DefaultLongPress
	}
	return newDescriptor(VerbLongPress, ms)
}

// MultiTap taps n times.
func MultiTap(n int) (Descriptor, error) {
	if n < 1 {
		return Descriptor{}, invalid(VerbMultiTap, "tap count must be positive, got %d", n)
	}
	return newDescriptor(VerbMultiTap, n), nil
}

// TypeText types text into the element.
func TypeText(text string) Descriptor { return newDescriptor(VerbTypeText, text) }

// ReplaceText clears the element, then types text.
func ReplaceText(text string) Descriptor { return newDescriptor(VerbReplaceText, text) }

// ClearText erases the element's value.
func ClearText() Descriptor { return newDescriptor(VerbClearText) }

// KeyboardPress presses a named key.
func KeyboardPress(key string) Descriptor { return newDescriptor(VerbKeyboardPress, key) }

// TapBackspaceKey presses Backspace.
func TapBackspaceKey() Descriptor { return KeyboardPress("Backspace") }

// TapReturnKey types a carriage return.
func TapReturnKey() Descriptor { return TypeText("\r") }

// Scroll scrolls the element by amount pixels.
func Scroll(direction string, amount float64) (Descriptor, error) {
	if !isDirection(direction) {
		return Descriptor{}, invalid(VerbScroll, "direction must be up, down, left or right, got %q", direction)
	}
	return newDescriptor(VerbScroll, direction, amount), nil
}

// ScrollTo scrolls the element to an edge.
func ScrollTo(edge string) (Descriptor, error) {
	switch edge {
	case Top, Bottom, Left, Right:
		return newDescriptor(VerbScrollTo, edge), nil
	}
	return Descriptor{}, invalid(VerbScrollTo, "edge must be top, bottom, left or right, got %q", edge)
}

// SwipeOptions are the optional swipe parameters.
type SwipeOptions struct {
	Speed      string  // fast (default) or slow
	Percentage float64 // 0..1 of the element extent; 0 means full
	OriginX    float64 // 0..1, default 0.5
	OriginY    float64 // 0..1, default 0.5
}

// Swipe swipes across the element. Passing nil opts uses the defaults.
func Swipe(direction string, opts *SwipeOptions) (Descriptor, error) {
	o := SwipeOptions{Speed: Fast, OriginX: 0.5, OriginY: 0.5}
	if opts != nil {
		o = *opts
		if o.Speed == "" {
			o.Speed = Fast
		}
	}
	if !isDirection(direction) {
		return Descriptor{}, invalid(VerbSwipe, "direction must be up, down, left or right, got %q", direction)
	}
	if o.Speed != Fast && o.Speed != Slow {
		return Descriptor{}, invalid(VerbSwipe, "speed must be fast or slow, got %q", o.Speed)
	}
	if o.Percentage < 0 || o.Percentage > 1 {
		return Descriptor{}, invalid(VerbSwipe, "percentage must be within 0..1, got %g", o.Percentage)
	}
	if o.OriginX < 0 || o.OriginX > 1 || o.OriginY < 0 || o.OriginY > 1 {
		return Descriptor{}, invalid(VerbSwipe, "origin must be within 0..1, got %g,%g", o.OriginX, o.OriginY)
	}
	return newDescriptor(VerbSwipe, direction, o.Speed, o.Percentage, o.OriginX, o.OriginY), nil
}

// SetColumnToValue selects value in a picker column.
func SetColumnToValue(column int, value string) Descriptor {
	return newDescriptor(VerbSetColumnToValue, column, value)
}

// SetDatePickerDate sets a date input. format is informational; ISO-8601
// and yyyy-MM-dd are accepted.
func SetDatePickerDate(date, format string) Descriptor {
	return newDescriptor(VerbSetDatePickerDate, date, format)
}

func isDirection(s string) bool {
	return s == Up || s == Down || s == Left || s == Right
}

func invalid(verb Verb, format string, args ...interface{}) error {
	return core.ErrActionNotPerformed.WithMessagef("%s: "+format, append([]interface{}{verb}, args...)...)
}

// Text returns the string argument at i, or "" when absent.
func (d Descriptor) Text(i int) (string, error) {
	var s string
	err := d.decode(i, &s)
	return s, err
}

// Int returns the integer argument at i, or def when absent or null.
func (d Descriptor) Int(i int, def int) (int, error) {
	if !d.has(i) {
		return def, nil
	}
	var f float64
	if err := d.decode(i, &f); err != nil {
		return 0, err
	}
	return int(f), nil
}

// Float returns the numeric argument at i, or def when absent or null.
func (d Descriptor) Float(i int, def float64) (float64, error) {
	if !d.has(i) {
		return def, nil
	}
	var f float64
	err := d.decode(i, &f)
	return f, err
}

// Point returns the {x,y} argument at i.
func (d Descriptor) Point(i int) (driver.Point, error) {
	var p driver.Point
	if !d.has(i) {
		return p, invalid(d.Verb, "missing point argument %d", i)
	}
	err := d.decode(i, &p)
	return p, err
}

func (d Descriptor) has(i int) bool {
	return i < len(d.Args) && string(d.Args[i]) != "null"
}

func (d Descriptor) decode(i int, v interface{}) error {
	if !d.has(i) {
		return nil
	}
	if err := json.Unmarshal(d.Args[i], v); err != nil {
		return invalid(d.Verb, "argument %d: %v", i, err)
	}
	return nil
}

type wireTarget struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type wireDescriptor struct {
	Target *wireTarget       `json:"target,omitempty"`
	Method Verb              `json:"method"`
	Args   []json.RawMessage `json:"args"`
}

// MarshalJSON encodes the descriptor in the call wire shape.
func (d Descriptor) MarshalJSON() ([]byte, error) {
	args := d.Args
	if args == nil {
		args = []json.RawMessage{}
	}
	return json.Marshal(wireDescriptor{
		Target: &wireTarget{Type: "action", Value: "action"},
		Method: d.Verb,
		Args:   args,
	})
}

// UnmarshalJSON decodes the call wire shape. Unknown verbs decode; the
// executor rejects them.
func (d *Descriptor) UnmarshalJSON(data []byte) error {
	var w wireDescriptor
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	if w.Method == "" {
		return core.ErrMalformedCall.WithMessage("action has no method")
	}
	*d = Descriptor{Verb: w.Method, Args: w.Args}
	return nil
}

func (d Descriptor) describe() string {
	raw, _ := json.Marshal(d)
	return string(raw)
}
