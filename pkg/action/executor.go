package action

import (
	"context"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/devicelab-dev/web-testee/pkg/core"
	"github.com/devicelab-dev/web-testee/pkg/driver"
	"github.com/devicelab-dev/web-testee/pkg/logger"
)

// edgeScroll is far enough to reach any edge; the browser clamps it.
const edgeScroll = 10000

// Drag steps per swipe speed.
const (
	fastSwipeSteps = 5
	slowSwipeSteps = 20
)

// Executor performs action descriptors on resolved elements. It never retries.
type Executor struct {
	log *zap.SugaredLogger

	mu    sync.Mutex
	state core.ActionState
}

// NewExecutor creates an executor.
func NewExecutor() *Executor {
	return &Executor{log: logger.Named("action")}
}

// State returns the state of the most recent action, ActionIdle before the first.
func (x *Executor) State() core.ActionState {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.state
}

func (x *Executor) setState(s core.ActionState) {
	x.mu.Lock()
	x.state = s
	x.mu.Unlock()
}

// Execute runs d against el on page. The result carries the element as it
// was before the action ran.
func (x *Executor) Execute(ctx context.Context, page driver.Page, el driver.Element, d Descriptor) *core.CommandResult {
	start := time.Now()
	x.setState(core.ActionExecuting)

	var result *core.CommandResult
	if el == nil {
		result = core.Failed(core.ErrElementNotFound.WithMessagef("%s: no element", d.Verb), "")
	} else {
		info, err := el.Describe(ctx)
		if err != nil {
			x.log.Debugw("describe element", "error", err)
		}
		x.log.Debugw("perform action", "verb", d.Verb, "args", len(d.Args), "element", info)
		result = x.execute(ctx, page, el, d)
		result.Element = info
	}

	result.Duration = time.Since(start)
	x.setState(result.State)
	if !result.Success {
		x.log.Debugw("action failed", "verb", d.Verb, "error", result.Error)
	}
	return result
}

func (x *Executor) execute(ctx context.Context, page driver.Page, el driver.Element, d Descriptor) *core.CommandResult {
	var err error
	switch d.Verb {
	// Touch
	case VerbTap:
		err = el.Tap(ctx)
	case VerbTapAtPoint:
		err = tapAtPoint(ctx, page, el, d)
	case VerbLongPress:
		err = longPress(ctx, el, d)
	case VerbMultiTap:
		err = multiTap(ctx, el, d)

	// Text
	case VerbTypeText:
		err = typeText(ctx, page, el, d, false)
	case VerbReplaceText:
		err = typeText(ctx, page, el, d, true)
	case VerbKeyboardPress:
		err = keyboardPress(ctx, page, el, d)
	case VerbClearText:
		err = clearText(ctx, page, el)

	// Scrolling
	case VerbScroll:
		err = scroll(ctx, el, d)
	case VerbScrollTo:
		err = scrollTo(ctx, el, d)
	case VerbSwipe:
		err = swipe(ctx, page, el, d)

	// Pickers
	case VerbSetColumnToValue:
		err = setColumnToValue(ctx, el, d)
	case VerbSetDatePickerDate:
		err = setDatePickerDate(ctx, el, d)

	default:
		err = core.ErrActionNotPerformed.WithMessagef("action not performed: %s", d.describe())
	}

	if err != nil {
		return core.Failed(err, fmt.Sprintf("%s failed", d.Verb))
	}
	return core.Succeeded(string(d.Verb))
}

func tapAtPoint(ctx context.Context, page driver.Page, el driver.Element, d Descriptor) error {
	offset, err := d.Point(0)
	if err != nil {
		return err
	}
	box, err := el.Box(ctx)
	if err != nil {
		return fmt.Errorf("tapAtPoint: bounding box: %w", err)
	}
	return page.TapAt(ctx, driver.Point{X: box.X + offset.X, Y: box.Y + offset.Y})
}

func longPress(ctx context.Context, el driver.Element, d Descriptor) error {
	ms, err := d.Int(0, DefaultLongPress)
	if err != nil {
		return err
	}
	return el.LongPress(ctx, time.Duration(ms)*time.Millisecond)
}

func multiTap(ctx context.Context, el driver.Element, d Descriptor) error {
	n, err := d.Int(0, 1)
	if err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		if err := el.Tap(ctx); err != nil {
			return fmt.Errorf("multiTap %d/%d: %w", i+1, n, err)
		}
	}
	return nil
}

// focus clicks el unless it already has focus.
func focus(ctx context.Context, el driver.Element) error {
	focused, err := el.IsFocused(ctx)
	if err != nil {
		return err
	}
	if focused {
		return nil
	}
	return el.Click(ctx)
}

func typeText(ctx context.Context, page driver.Page, el driver.Element, d Descriptor, replace bool) error {
	text, err := d.Text(0)
	if err != nil {
		return err
	}
	if err := focus(ctx, el); err != nil {
		return err
	}
	if replace {
		if err := el.SetValue(ctx, ""); err != nil {
			return err
		}
	}
	return page.Type(ctx, text)
}

func keyboardPress(ctx context.Context, page driver.Page, el driver.Element, d Descriptor) error {
	key, err := d.Text(0)
	if err != nil {
		return err
	}
	if key == "" {
		return invalid(d.Verb, "missing key")
	}
	if err := focus(ctx, el); err != nil {
		return err
	}
	return page.Press(ctx, key)
}

func clearText(ctx context.Context, page driver.Page, el driver.Element) error {
	v, err := el.Value(ctx)
	if err != nil {
		return err
	}
	if err := focus(ctx, el); err != nil {
		return err
	}
	for i := utf8.RuneCountInString(v); i > 0; i-- {
		if err := page.Press(ctx, "Backspace"); err != nil {
			return err
		}
	}
	return nil
}

// delta converts a direction and distance into a scrollBy offset.
func delta(direction string, amount float64) (left, top float64) {
	switch direction {
	case Down:
		return 0, amount
	case Up:
		return 0, -amount
	case Right:
		return amount, 0
	case Left:
		return -amount, 0
	}
	return 0, 0
}

func scroll(ctx context.Context, el driver.Element, d Descriptor) error {
	direction, err := d.Text(0)
	if err != nil {
		return err
	}
	amount, err := d.Float(1, 0)
	if err != nil {
		return err
	}
	left, top := delta(direction, amount)
	return el.ScrollBy(ctx, left, top)
}

func scrollTo(ctx context.Context, el driver.Element, d Descriptor) error {
	edge, err := d.Text(0)
	if err != nil {
		return err
	}
	var left, top float64
	switch edge {
	case Bottom:
		top = edgeScroll
	case Top:
		top = -edgeScroll
	case Right:
		left = edgeScroll
	case Left:
		left = -edgeScroll
	default:
		return invalid(d.Verb, "unknown edge %q", edge)
	}
	return el.ScrollBy(ctx, left, top)
}

// opposite returns the content movement for a finger swipe.
func opposite(direction string) string {
	switch direction {
	case Up:
		return Down
	case Down:
		return Up
	case Left:
		return Right
	case Right:
		return Left
	}
	return direction
}

func swipe(ctx context.Context, page driver.Page, el driver.Element, d Descriptor) error {
	direction, err := d.Text(0)
	if err != nil {
		return err
	}
	if !isDirection(direction) {
		return invalid(d.Verb, "unknown direction %q", direction)
	}
	speed, err := d.Text(1)
	if err != nil {
		return err
	}
	pct, err := d.Float(2, 0)
	if err != nil {
		return err
	}
	ox, err := d.Float(3, 0.5)
	if err != nil {
		return err
	}
	oy, err := d.Float(4, 0.5)
	if err != nil {
		return err
	}

	box, err := el.Box(ctx)
	if err != nil {
		return fmt.Errorf("swipe: bounding box: %w", err)
	}
	extent := box.Height
	if direction == Left || direction == Right {
		extent = box.Width
	}

	scrollable, err := el.IsScrollable(ctx)
	if err != nil {
		return err
	}
	if scrollable {
		distance := float64(edgeScroll)
		if pct > 0 {
			distance = extent * pct
		}
		left, top := delta(opposite(direction), distance)
		return el.ScrollBy(ctx, left, top)
	}

	if pct == 0 {
		pct = 1
	}
	fx, fy := box.At(ox, oy)
	from := driver.Point{X: fx, Y: fy}
	dx, dy := delta(direction, extent*pct)
	to := driver.Point{X: fx + dx, Y: fy + dy}
	steps := fastSwipeSteps
	if speed == Slow {
		steps = slowSwipeSteps
	}
	return page.Drag(ctx, from, to, steps)
}

func setColumnToValue(ctx context.Context, el driver.Element, d Descriptor) error {
	value, err := d.Text(1)
	if err != nil {
		return err
	}
	tag, _, err := el.TagName(ctx)
	if err != nil {
		return err
	}
	if tag != "select" {
		return core.ErrActionNotSupported.WithMessagef("%s requires a <select>, got <%s>", d.Verb, tag)
	}
	return el.SetValue(ctx, value)
}

// dateLayouts are tried in order when parsing picker dates.
var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

func setDatePickerDate(ctx context.Context, el driver.Element, d Descriptor) error {
	raw, err := d.Text(0)
	if err != nil {
		return err
	}
	tag, inputType, err := el.TagName(ctx)
	if err != nil {
		return err
	}
	if tag != "input" || inputType != "date" {
		return core.ErrActionNotSupported.WithMessagef("%s requires <input type=date>, got <%s type=%q>", d.Verb, tag, inputType)
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return el.SetValue(ctx, t.Format("2006-01-02"))
		}
	}
	return invalid(d.Verb, "unparseable date %q", raw)
}
