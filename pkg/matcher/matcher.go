// Package matcher compiles element selection criteria into descriptors the
// resolver evaluates as XPath fragments against the page DOM.
//
// A selector fragment is either a predicate ("[@data-testid='x']") appended to
// "//*", or a root-relative path ("//button") that replaces the wildcard step.
// Fragments combine by string concatenation.
package matcher

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/devicelab-dev/web-testee/pkg/core"
)

// Kind is the descriptor discriminant.
type Kind string

// Descriptor kinds.
const (
	KindSelector Kind = "selector"
	KindIndex    Kind = "index"
	KindOption   Kind = "option"
)

// rootRelative marks fragments that carry their own path step.
const rootRelative = "/"

// Option refines a lookup. Exactly one field is normally set per descriptor.
type Option struct {
	Visible *bool `json:"visible,omitempty"`
	Exists  *bool `json:"exists,omitempty"`
	Timeout *int  `json:"timeout,omitempty"`
}

// Descriptor is a compiled matcher.
type Descriptor struct {
	Kind     Kind
	Selector string // KindSelector
	Index    int    // KindIndex
	Option   Option // KindOption
	Negated  bool   // KindSelector only
}

// ByID matches the data-testid attribute.
func ByID(v string) Descriptor {
	return selector("[@data-testid=" + literal(v, '"') + "]")
}

// ByLabel matches the visible label, which on the web is the element text
// or a form control's value.
func ByLabel(v string) Descriptor {
	return textOrValue(v)
}

// ByText matches elements whose text contains v or whose value equals v.
// Form controls expose their label as a value, so both are accepted.
func ByText(v string) Descriptor {
	return textOrValue(v)
}

func textOrValue(v string) Descriptor {
	q := literal(v, '\'')
	return selector("[contains(., " + q + ") or @value=" + q + "]")
}

// ByType matches elements by tag name.
func ByType(v string) Descriptor {
	return selector("//" + v)
}

// ByValue matches the value attribute.
func ByValue(v string) Descriptor {
	return selector("[@value=" + literal(v, '"') + "]")
}

// ByNotValue matches elements whose value attribute differs from v.
func ByNotValue(v string) Descriptor {
	return selector("[not(@value=" + literal(v, '"') + ")]")
}

// ByIndex selects the n-th match, counted from the end of the match list.
func ByIndex(n int) Descriptor {
	return Descriptor{Kind: KindIndex, Index: n}
}

// Visible requires the element to intersect the viewport.
func Visible() Descriptor { return option(Option{Visible: boolPtr(true)}) }

// NotVisible requires the element to be absent or outside the viewport.
func NotVisible() Descriptor { return option(Option{Visible: boolPtr(false)}) }

// Exists requires the element to be present.
func Exists() Descriptor { return option(Option{Exists: boolPtr(true)}) }

// NotExists requires the element to be absent.
func NotExists() Descriptor { return option(Option{Exists: boolPtr(false)}) }

// WithTimeout overrides the lookup timeout in milliseconds.
func WithTimeout(ms int) Descriptor {
	return option(Option{Timeout: &ms})
}

func selector(fragment string) Descriptor {
	return Descriptor{Kind: KindSelector, Selector: fragment}
}

func option(o Option) Descriptor {
	return Descriptor{Kind: KindOption, Option: o}
}

func boolPtr(b bool) *bool { return &b }

// IsRootRelative reports whether the fragment starts with a path step.
func (d Descriptor) IsRootRelative() bool {
	return d.Kind == KindSelector && strings.HasPrefix(d.Selector, rootRelative)
}

// IsContainment reports whether the fragment matches by text containment.
// Containment matches every ancestor of the matching text node as well.
func (d Descriptor) IsContainment() bool {
	return d.Kind == KindSelector && strings.Contains(d.Selector, "contains(")
}

// Fragment returns the selector fragment with negation applied.
func (d Descriptor) Fragment() string {
	if d.Negated {
		return "[not(self::*" + d.Selector + ")]"
	}
	return d.Selector
}

// XPath returns the document-scoped query for a selector descriptor.
func (d Descriptor) XPath() string {
	return "//*" + d.Fragment()
}

// SubtreeXPath returns the query evaluated relative to an element, matching
// the element itself or any descendant.
func (d Descriptor) SubtreeXPath() string {
	if d.IsRootRelative() && !d.Negated {
		return "descendant-or-self::" + strings.TrimLeft(d.Selector, "/")
	}
	return "descendant-or-self::*" + d.Fragment()
}

// String describes the descriptor for logs and error messages.
func (d Descriptor) String() string {
	switch d.Kind {
	case KindSelector:
		return d.Fragment()
	case KindIndex:
		return fmt.Sprintf("index(%d)", d.Index)
	case KindOption:
		var parts []string
		if d.Option.Visible != nil {
			parts = append(parts, fmt.Sprintf("visible=%t", *d.Option.Visible))
		}
		if d.Option.Exists != nil {
			parts = append(parts, fmt.Sprintf("exists=%t", *d.Option.Exists))
		}
		if d.Option.Timeout != nil {
			parts = append(parts, fmt.Sprintf("timeout=%d", *d.Option.Timeout))
		}
		return "option(" + strings.Join(parts, ",") + ")"
	default:
		return string(d.Kind)
	}
}

// And requires both selectors to match the same element. A root-relative
// fragment is placed first so the concatenation stays a valid XPath.
func And(a, b Descriptor) (Descriptor, error) {
	if a.Kind != KindSelector || b.Kind != KindSelector {
		return Descriptor{}, unsupported("and", a, b,
			"only selectors can be combined; pass index and option matchers as separate refinements")
	}
	if a.Negated || b.Negated {
		return Descriptor{}, unsupported("and", a, b, "negated matchers cannot be combined")
	}
	switch {
	case a.IsRootRelative() && b.IsRootRelative():
		return Descriptor{}, unsupported("and", a, b, "both matchers are root-relative")
	case b.IsRootRelative():
		return selector(b.Selector + a.Selector), nil
	case a.IsRootRelative():
		return selector(a.Selector + b.Selector), nil
	default:
		return selector(a.Selector + b.Selector), nil
	}
}

// WithAncestor matches child elements that have an ancestor matching ancestor.
func WithAncestor(child, ancestor Descriptor) (Descriptor, error) {
	if child.Kind != KindSelector || ancestor.Kind != KindSelector || child.Negated || ancestor.Negated {
		return Descriptor{}, unsupported("withAncestor", child, ancestor, "complex withAncestor")
	}
	return selector(ancestor.Selector + "//*" + child.Selector), nil
}

// WithDescendant matches parent elements that contain an element matching desc.
func WithDescendant(parent, desc Descriptor) (Descriptor, error) {
	if parent.Kind != KindSelector || desc.Kind != KindSelector || parent.Negated || desc.Negated {
		return Descriptor{}, unsupported("withDescendant", parent, desc, "complex withDescendant")
	}
	return selector(parent.Selector + "[descendant::*" + desc.Selector + "]"), nil
}

// Not negates a predicate selector.
func Not(d Descriptor) (Descriptor, error) {
	if d.Kind != KindSelector || d.IsRootRelative() {
		return Descriptor{}, core.ErrUnsupportedMatcher.WithMessagef(
			"unsupported matcher combination: not(%s) requires a predicate selector", d)
	}
	d.Negated = !d.Negated
	return d, nil
}

func unsupported(op string, a, b Descriptor, reason string) error {
	return core.ErrUnsupportedMatcher.
		WithMessagef("unsupported matcher combination: %s(%s, %s): %s", op, a, b, reason).
		WithDetails(map[string]interface{}{"op": op, "left": a.String(), "right": b.String()})
}

// literal renders s as an XPath string literal, preferring quote.
func literal(s string, quote byte) string {
	other := byte('"')
	if quote == '"' {
		other = '\''
	}
	switch {
	case !strings.ContainsRune(s, rune(quote)):
		return string(quote) + s + string(quote)
	case !strings.ContainsRune(s, rune(other)):
		return string(other) + s + string(other)
	}
	// Both quote kinds present: split on double quotes.
	parts := strings.Split(s, `"`)
	args := make([]string, 0, len(parts)*2)
	for i, p := range parts {
		if i > 0 {
			args = append(args, `'"'`)
		}
		if p != "" {
			args = append(args, `"`+p+`"`)
		}
	}
	return "concat(" + strings.Join(args, ", ") + ")"
}

type wireTarget struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type wireDescriptor struct {
	Target  *wireTarget       `json:"target,omitempty"`
	Method  Kind              `json:"method"`
	Args    []json.RawMessage `json:"args"`
	Negated bool              `json:"negated,omitempty"`
}

// MarshalJSON encodes the descriptor in the call wire shape. Negation is
// compiled into the selector argument so it survives generic call handling.
func (d Descriptor) MarshalJSON() ([]byte, error) {
	var arg interface{}
	switch d.Kind {
	case KindSelector:
		arg = d.Fragment()
	case KindIndex:
		arg = d.Index
	case KindOption:
		arg = d.Option
	default:
		return nil, fmt.Errorf("unknown matcher kind %q", d.Kind)
	}
	raw, err := json.Marshal(arg)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireDescriptor{
		Target: &wireTarget{Type: "matcher", Value: "matcher"},
		Method: d.Kind,
		Args:   []json.RawMessage{raw},
	})
}

// UnmarshalJSON decodes the call wire shape.
func (d *Descriptor) UnmarshalJSON(data []byte) error {
	var w wireDescriptor
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	if len(w.Args) == 0 {
		return core.ErrMalformedCall.WithMessagef("matcher %q has no arguments", w.Method)
	}
	out := Descriptor{Kind: w.Method, Negated: w.Negated}
	var err error
	switch w.Method {
	case KindSelector:
		err = json.Unmarshal(w.Args[0], &out.Selector)
	case KindIndex:
		err = json.Unmarshal(w.Args[0], &out.Index)
	case KindOption:
		err = json.Unmarshal(w.Args[0], &out.Option)
	default:
		return core.ErrMalformedCall.WithMessagef("unknown matcher method %q", w.Method)
	}
	if err != nil {
		return core.ErrMalformedCall.WithMessagef("matcher %q", w.Method).WithCause(err)
	}
	*d = out
	return nil
}
