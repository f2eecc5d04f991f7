package matcher

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devicelab-dev/web-testee/pkg/core"
)

func TestFactories(t *testing.T) {
	tests := []struct {
		name string
		got  Descriptor
		want string
	}{
		{"id", ByID("login"), `[@data-testid="login"]`},
		{"label", ByLabel("Close"), `[contains(., 'Close') or @value='Close']`},
		{"text", ByText("Save"), `[contains(., 'Save') or @value='Save']`},
		{"type", ByType("button"), `//button`},
		{"value", ByValue("42"), `[@value="42"]`},
		{"not value", ByNotValue("42"), `[not(@value="42")]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, KindSelector, tt.got.Kind)
			assert.Equal(t, tt.want, tt.got.Selector)
		})
	}
}

func TestLabelIsContainment(t *testing.T) {
	assert.True(t, ByLabel("Save").IsContainment())
	assert.Equal(t, ByText("Save"), ByLabel("Save"))
	assert.False(t, ByID("save").IsContainment())
}

func TestLiteralQuoting(t *testing.T) {
	assert.Equal(t, `[contains(., "it's") or @value="it's"]`, ByText("it's").Selector)
	assert.Equal(t, `[@data-testid='say "hi"']`, ByID(`say "hi"`).Selector)
	assert.Equal(t, `[@value=concat("it's ", '"', "quoted", '"')]`, ByValue(`it's "quoted"`).Selector)
}

func TestOptions(t *testing.T) {
	assert.True(t, *Visible().Option.Visible)
	assert.False(t, *NotVisible().Option.Visible)
	assert.True(t, *Exists().Option.Exists)
	assert.False(t, *NotExists().Option.Exists)
	assert.Equal(t, 1500, *WithTimeout(1500).Option.Timeout)
	assert.Equal(t, 2, ByIndex(2).Index)
}

func TestIsContainment(t *testing.T) {
	assert.True(t, ByText("Save").IsContainment())
	assert.False(t, ByID("save").IsContainment())
	assert.False(t, Visible().IsContainment())
}

func TestAnd(t *testing.T) {
	t.Run("declaration order for predicates", func(t *testing.T) {
		d, err := And(ByID("a"), ByText("b"))
		require.NoError(t, err)
		assert.Equal(t, `[@data-testid="a"][contains(., 'b') or @value='b']`, d.Selector)
	})

	t.Run("root-relative right operand goes first", func(t *testing.T) {
		d, err := And(ByID("a"), ByType("input"))
		require.NoError(t, err)
		assert.Equal(t, `//input[@data-testid="a"]`, d.Selector)
		assert.Equal(t, `//*//input[@data-testid="a"]`, d.XPath())
	})

	t.Run("root-relative left operand stays first", func(t *testing.T) {
		d, err := And(ByType("input"), ByID("a"))
		require.NoError(t, err)
		assert.Equal(t, `//input[@data-testid="a"]`, d.Selector)
	})

	t.Run("two root-relative selectors", func(t *testing.T) {
		_, err := And(ByType("div"), ByType("span"))
		require.Error(t, err)
		assert.True(t, errors.Is(err, core.ErrUnsupportedMatcher))
		assert.Contains(t, err.Error(), "root-relative")
	})

	t.Run("two options", func(t *testing.T) {
		_, err := And(Visible(), WithTimeout(100))
		assert.True(t, errors.Is(err, core.ErrUnsupportedMatcher))
	})

	t.Run("selector and index", func(t *testing.T) {
		_, err := And(ByID("a"), ByIndex(1))
		assert.True(t, errors.Is(err, core.ErrUnsupportedMatcher))
	})
}

func TestWithAncestor(t *testing.T) {
	d, err := WithAncestor(ByText("Save"), ByID("form"))
	require.NoError(t, err)
	assert.Equal(t, `[@data-testid="form"]//*[contains(., 'Save') or @value='Save']`, d.Selector)

	_, err = WithAncestor(ByID("a"), Visible())
	assert.True(t, errors.Is(err, core.ErrUnsupportedMatcher))
}

func TestWithDescendant(t *testing.T) {
	d, err := WithDescendant(ByID("row"), ByText("Delete"))
	require.NoError(t, err)
	assert.Equal(t, `[@data-testid="row"][descendant::*[contains(., 'Delete') or @value='Delete']]`, d.Selector)

	_, err = WithDescendant(ByIndex(0), ByID("a"))
	assert.True(t, errors.Is(err, core.ErrUnsupportedMatcher))
}

func TestNot(t *testing.T) {
	d, err := Not(ByID("spinner"))
	require.NoError(t, err)
	assert.True(t, d.Negated)
	assert.Equal(t, `//*[not(self::*[@data-testid="spinner"])]`, d.XPath())

	twice, err := Not(d)
	require.NoError(t, err)
	assert.False(t, twice.Negated)

	_, err = Not(ByType("button"))
	assert.True(t, errors.Is(err, core.ErrUnsupportedMatcher))
	_, err = Not(Visible())
	assert.True(t, errors.Is(err, core.ErrUnsupportedMatcher))
}

func TestDescriptorJSON(t *testing.T) {
	raw, err := json.Marshal(ByID("top"))
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"target":{"type":"matcher","value":"matcher"},"method":"selector","args":["[@data-testid=\"top\"]"]}`,
		string(raw))

	raw, err = json.Marshal(NotVisible())
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"target":{"type":"matcher","value":"matcher"},"method":"option","args":[{"visible":false}]}`,
		string(raw))

	var d Descriptor
	require.NoError(t, json.Unmarshal([]byte(`{"method":"index","args":[2]}`), &d))
	assert.Equal(t, ByIndex(2), d)

	require.NoError(t, json.Unmarshal([]byte(`{"method":"option","args":[{"timeout":100}]}`), &d))
	assert.Equal(t, 100, *d.Option.Timeout)
}

func TestDescriptorJSON_NegationCompiled(t *testing.T) {
	neg, err := Not(ByValue("x"))
	require.NoError(t, err)

	raw, err := json.Marshal(neg)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "negated")

	var d Descriptor
	require.NoError(t, json.Unmarshal(raw, &d))
	assert.False(t, d.Negated)
	assert.Equal(t, neg.XPath(), d.XPath())
	assert.Equal(t, neg.SubtreeXPath(), d.SubtreeXPath())

	require.NoError(t, json.Unmarshal([]byte(`{"method":"selector","args":["[@value=\"x\"]"],"negated":true}`), &d))
	assert.Equal(t, neg.XPath(), d.XPath())
}

func TestDescriptorJSON_Malformed(t *testing.T) {
	var d Descriptor
	err := json.Unmarshal([]byte(`{"method":"selector","args":[]}`), &d)
	assert.True(t, errors.Is(err, core.ErrMalformedCall))

	err = json.Unmarshal([]byte(`{"method":"regex","args":["x"]}`), &d)
	assert.True(t, errors.Is(err, core.ErrMalformedCall))

	err = json.Unmarshal([]byte(`{"method":"index","args":["one"]}`), &d)
	assert.True(t, errors.Is(err, core.ErrMalformedCall))
}

func TestString(t *testing.T) {
	assert.Equal(t, "index(3)", ByIndex(3).String())
	assert.Equal(t, "option(visible=true)", Visible().String())
	assert.Equal(t, "option(timeout=200)", WithTimeout(200).String())
	assert.Equal(t, `[@data-testid="x"]`, ByID("x").String())
}

func TestSubtreeXPath(t *testing.T) {
	assert.Equal(t, `descendant-or-self::*[@data-testid="a"]`, ByID("a").SubtreeXPath())
	assert.Equal(t, `descendant-or-self::button`, ByType("button").SubtreeXPath())

	neg, err := Not(ByID("a"))
	require.NoError(t, err)
	assert.Equal(t, `descendant-or-self::*[not(self::*[@data-testid="a"])]`, neg.SubtreeXPath())
}
