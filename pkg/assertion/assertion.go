// Package assertion evaluates expectations against a resolved element.
package assertion

import (
	"context"
	"fmt"

	"github.com/devicelab-dev/web-testee/pkg/core"
	"github.com/devicelab-dev/web-testee/pkg/driver"
	"github.com/devicelab-dev/web-testee/pkg/matcher"
)

// Kind is an assertion kind.
type Kind string

// Assertion kinds.
const (
	Visible    Kind = "visible"
	NotVisible Kind = "notVisible"
	Exists     Kind = "exists"
	NotExists  Kind = "notExists"
	Selector   Kind = "selector"
)

// KindOf classifies an assertion matcher.
func KindOf(d matcher.Descriptor) (Kind, error) {
	switch d.Kind {
	case matcher.KindSelector:
		return Selector, nil
	case matcher.KindOption:
		switch {
		case d.Option.Visible != nil && *d.Option.Visible:
			return Visible, nil
		case d.Option.Visible != nil:
			return NotVisible, nil
		case d.Option.Exists != nil && *d.Option.Exists:
			return Exists, nil
		case d.Option.Exists != nil:
			return NotExists, nil
		}
	}
	return "", core.ErrMalformedCall.WithMessagef("cannot assert with matcher %s", d)
}

// Decide is the decision table for the element-state kinds. Selector
// assertions need the subtree query and are not decided here.
func Decide(kind Kind, exists, visible bool) bool {
	switch kind {
	case Visible:
		return exists && visible
	case NotVisible:
		return !exists || !visible
	case Exists:
		return exists
	case NotExists:
		return !exists
	}
	return false
}

// Evaluate checks d against el (nil when the element does not exist) and
// returns ErrAssertionFailed on mismatch.
func Evaluate(ctx context.Context, el driver.Element, d matcher.Descriptor) error {
	kind, err := KindOf(d)
	if err != nil {
		return err
	}
	exists := el != nil

	var pass bool
	switch kind {
	case Selector:
		if exists {
			pass, err = el.Matches(ctx, d.SubtreeXPath())
			if err != nil {
				return fmt.Errorf("assert %s: %w", d, err)
			}
		}
	case Visible, NotVisible:
		visible := false
		if exists {
			ratio, err := el.IntersectionRatio(ctx)
			if err != nil {
				return fmt.Errorf("assert %s: %w", kind, err)
			}
			visible = ratio > 0
		}
		pass = Decide(kind, exists, visible)
	default:
		pass = Decide(kind, exists, false)
	}

	if pass {
		return nil
	}
	return core.ErrAssertionFailed.
		WithMessagef("assertion failed: expected %s", describe(kind, d)).
		WithDetails(map[string]interface{}{"assertion": string(kind), "matcher": d.String(), "exists": exists})
}

func describe(kind Kind, d matcher.Descriptor) string {
	if kind == Selector {
		return "element matching " + d.Fragment()
	}
	return "element " + string(kind)
}
