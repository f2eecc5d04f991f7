// Package resolver turns matcher refinements into exactly one live element,
// or a definitive absence.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/devicelab-dev/web-testee/pkg/core"
	"github.com/devicelab-dev/web-testee/pkg/driver"
	"github.com/devicelab-dev/web-testee/pkg/logger"
	"github.com/devicelab-dev/web-testee/pkg/matcher"
)

// Defaults.
const (
	DefaultTimeout  = 200 * time.Millisecond
	DefaultInterval = 50 * time.Millisecond
)

// errPending keeps the polling loop going.
var errPending = errors.New("lookup pending")

// Request is a parsed lookup.
type Request struct {
	Selector matcher.Descriptor
	Index    *int // nil selects the first match
	Visible  *bool
	Exists   *bool
	Timeout  time.Duration // 0 uses the resolver default
}

// NewRequest sorts refinement descriptors into a request. At least one
// selector is required and further selectors are joined with matcher.And,
// so waitFor conditions narrow the element lookup. Later index and option
// refinements win.
func NewRequest(descs ...matcher.Descriptor) (Request, error) {
	var req Request
	var haveSelector bool
	for _, d := range descs {
		switch d.Kind {
		case matcher.KindSelector:
			if !haveSelector {
				req.Selector = d
				haveSelector = true
				continue
			}
			joined, err := matcher.And(req.Selector, d)
			if err != nil {
				return req, err
			}
			req.Selector = joined
		case matcher.KindIndex:
			i := d.Index
			req.Index = &i
		case matcher.KindOption:
			if d.Option.Visible != nil {
				req.Visible = d.Option.Visible
			}
			if d.Option.Exists != nil {
				req.Exists = d.Option.Exists
			}
			if d.Option.Timeout != nil {
				req.Timeout = time.Duration(*d.Option.Timeout) * time.Millisecond
			}
		default:
			return req, core.ErrMalformedCall.WithMessagef("unknown matcher kind %q", d.Kind)
		}
	}
	if !haveSelector {
		return req, core.ErrMalformedCall.WithMessage("lookup has no selector")
	}
	return req, nil
}

func (r Request) wantsAbsence() bool {
	return (r.Visible != nil && !*r.Visible) || (r.Exists != nil && !*r.Exists)
}

func (r Request) wantsVisible() bool {
	return r.Visible != nil && *r.Visible
}

// Result is the outcome of a lookup.
type Result struct {
	Element  driver.Element
	Selector string
	Index    int
	// Absent is set when absence was requested and confirmed, or assumed on timeout.
	Absent bool
	// Fallback is set when the last raw containment match was used.
	Fallback bool
}

// Found reports whether an element was resolved.
func (r *Result) Found() bool {
	return r != nil && r.Element != nil
}

// Valid reports whether the lookup produced a usable answer.
func (r *Result) Valid() bool {
	return r != nil && (r.Element != nil || r.Absent)
}

// Candidate is a raw XPath match.
type Candidate struct {
	Element driver.Element
	Leaf    bool
}

// Pick selects one candidate. Containment fragments keep leaves only; when
// that leaves nothing but raw matches exist the last raw match is returned
// with fallback set. A nil index selects the first match, index i selects
// position len-1-i.
func Pick(cands []Candidate, containment bool, index *int) (el driver.Element, fallback bool) {
	matches := make([]driver.Element, 0, len(cands))
	for _, c := range cands {
		if !containment || c.Leaf {
			matches = append(matches, c.Element)
		}
	}
	if len(matches) == 0 {
		if containment && len(cands) > 0 {
			return cands[len(cands)-1].Element, true
		}
		return nil, false
	}
	if index == nil {
		return matches[0], false
	}
	i := len(matches) - 1 - *index
	if i < 0 || i >= len(matches) {
		return nil, false
	}
	return matches[i], false
}

// Resolver evaluates lookups against a page.
type Resolver struct {
	timeout  time.Duration
	interval time.Duration
	log      *zap.SugaredLogger
}

// New creates a resolver. timeout <= 0 uses DefaultTimeout.
func New(timeout time.Duration) *Resolver {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Resolver{timeout: timeout, interval: DefaultInterval, log: logger.Named("resolver")}
}

// Timeout returns the default per-lookup timeout.
func (r *Resolver) Timeout() time.Duration { return r.timeout }

// Resolve polls the page until the request is satisfied or times out.
//
// On timeout a visible:true request fails with ErrVisibilityTimeout, a
// visible:false or exists:false request succeeds, and any other request
// returns a result with no element.
func (r *Resolver) Resolve(ctx context.Context, page driver.Page, req Request) (*Result, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = r.timeout
	}
	xpath := req.Selector.XPath()
	res := &Result{Selector: xpath}
	if req.Index != nil {
		res.Index = *req.Index
	}

	r.dump(ctx, page, "before lookup", xpath, zapcore.DebugLevel)

	lookupCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var last driver.Element
	var lastFallback bool
	op := func() error {
		el, fallback, err := r.attempt(lookupCtx, page, req, xpath)
		if err != nil {
			if lookupCtx.Err() != nil {
				return errPending
			}
			return backoff.Permanent(err)
		}
		last, lastFallback = el, fallback

		visible, err := r.satisfied(lookupCtx, el, req)
		if err != nil {
			if lookupCtx.Err() != nil {
				return errPending
			}
			return backoff.Permanent(err)
		}
		if !visible {
			return errPending
		}
		return nil
	}

	err := backoff.Retry(op, backoff.WithContext(backoff.NewConstantBackOff(r.interval), lookupCtx))
	res.Element, res.Fallback = last, lastFallback
	switch {
	case err == nil:
		res.Absent = req.wantsAbsence() && last == nil
		r.log.Debugw("resolved", "selector", xpath, "found", res.Found(), "fallback", res.Fallback)
		return res, nil
	case err != errPending:
		return nil, fmt.Errorf("lookup %s: %w", xpath, err)
	}

	// Timed out. A cancelled parent is not a timeout.
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if req.wantsVisible() {
		r.dump(ctx, page, "visibility timeout", xpath, zapcore.InfoLevel)
		return nil, core.ErrVisibilityTimeout.WithMessagef("element did not become visible within %s: %s", timeout, xpath)
	}
	if req.wantsAbsence() {
		// A still-present element is handed to the assertion to decide.
		res.Absent = last == nil
		return res, nil
	}
	if last == nil {
		r.dump(ctx, page, "not found", xpath, zapcore.InfoLevel)
	}
	return res, nil
}

// attempt runs one XPath evaluation and picks a candidate.
func (r *Resolver) attempt(ctx context.Context, page driver.Page, req Request, xpath string) (driver.Element, bool, error) {
	els, err := page.QueryXPath(ctx, xpath)
	if err != nil {
		return nil, false, err
	}
	containment := req.Selector.IsContainment()
	cands := make([]Candidate, 0, len(els))
	for _, el := range els {
		if req.wantsVisible() {
			// Only intersecting elements compete for a visible:true lookup.
			ratio, err := el.IntersectionRatio(ctx)
			if err != nil {
				return nil, false, err
			}
			if ratio == 0 {
				continue
			}
		}
		c := Candidate{Element: el}
		if containment {
			n, err := el.ChildCount(ctx)
			if err != nil {
				return nil, false, err
			}
			c.Leaf = n == 0
		}
		cands = append(cands, c)
	}
	el, fallback := Pick(cands, containment, req.Index)
	return el, fallback, nil
}

// satisfied reports whether the picked element meets the refinements.
func (r *Resolver) satisfied(ctx context.Context, el driver.Element, req Request) (bool, error) {
	switch {
	case req.wantsVisible():
		if el == nil {
			return false, nil
		}
		ratio, err := el.IntersectionRatio(ctx)
		if err != nil {
			return false, err
		}
		return ratio > 0, nil
	case req.Visible != nil: // visible:false
		if el == nil {
			return true, nil
		}
		ratio, err := el.IntersectionRatio(ctx)
		if err != nil {
			return false, err
		}
		return ratio == 0, nil
	case req.Exists != nil && !*req.Exists:
		return el == nil, nil
	default:
		return el != nil, nil
	}
}

// dump logs the body HTML and every data-testid on the page. Errors are swallowed.
func (r *Resolver) dump(ctx context.Context, page driver.Page, reason, xpath string, lvl zapcore.Level) {
	if !r.log.Desugar().Core().Enabled(lvl) {
		return
	}
	ids, err := page.TestIDs(ctx)
	if err != nil {
		r.log.Debugw("dump test ids failed", "error", err)
	}
	body, err := page.BodyHTML(ctx)
	if err != nil {
		r.log.Debugw("dump body failed", "error", err)
	}
	fields := []interface{}{"reason", reason, "selector", xpath, "testIds", strings.Join(ids, ",")}
	if lvl == zapcore.DebugLevel {
		r.log.Debugw("dom snapshot", append(fields, "body", body)...)
		return
	}
	r.log.Infow("dom snapshot", append(fields, "body", body)...)
}
