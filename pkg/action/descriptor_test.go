package action

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devicelab-dev/web-testee/pkg/core"
)

func TestLongPressDefault(t *testing.T) {
	ms, err := LongPress(0).Int(0, -1)
	require.NoError(t, err)
	assert.Equal(t, DefaultLongPress, ms)

	ms, err = LongPress(1500).Int(0, -1)
	require.NoError(t, err)
	assert.Equal(t, 1500, ms)
}

func TestFactoryValidation(t *testing.T) {
	tests := []struct {
		name string
		fn   func() error
	}{
		{"multiTap zero", func() error { _, err := MultiTap(0); return err }},
		{"scroll direction", func() error { _, err := Scroll("sideways", 10); return err }},
		{"scrollTo edge", func() error { _, err := ScrollTo("middle"); return err }},
		{"swipe direction", func() error { _, err := Swipe("north", nil); return err }},
		{"swipe speed", func() error { _, err := Swipe(Up, &SwipeOptions{Speed: "warp"}); return err }},
		{"swipe percentage", func() error {
			_, err := Swipe(Up, &SwipeOptions{Percentage: 1.5, OriginX: 0.5, OriginY: 0.5})
			return err
		}},
		{"swipe origin", func() error { _, err := Swipe(Up, &SwipeOptions{OriginX: 2}); return err }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.fn()
			require.Error(t, err)
			assert.True(t, errors.Is(err, core.ErrActionNotPerformed))
		})
	}
}

func TestSwipeDefaults(t *testing.T) {
	d, err := Swipe(Left, nil)
	require.NoError(t, err)

	dir, _ := d.Text(0)
	speed, _ := d.Text(1)
	pct, _ := d.Float(2, -1)
	ox, _ := d.Float(3, -1)
	oy, _ := d.Float(4, -1)
	assert.Equal(t, Left, dir)
	assert.Equal(t, Fast, speed)
	assert.Equal(t, 0.0, pct)
	assert.Equal(t, 0.5, ox)
	assert.Equal(t, 0.5, oy)
}

func TestConvenienceKeys(t *testing.T) {
	assert.Equal(t, VerbKeyboardPress, TapBackspaceKey().Verb)
	key, _ := TapBackspaceKey().Text(0)
	assert.Equal(t, "Backspace", key)

	assert.Equal(t, VerbTypeText, TapReturnKey().Verb)
	text, _ := TapReturnKey().Text(0)
	assert.Equal(t, "\r", text)
}

func TestWireShape(t *testing.T) {
	raw, err := json.Marshal(TapAtPoint(3, 4))
	require.NoError(t, err)
	assert.JSONEq(t, `{"target":{"type":"action","value":"action"},"method":"tapAtPoint","args":[{"x":3,"y":4}]}`, string(raw))

	raw, err = json.Marshal(Tap())
	require.NoError(t, err)
	assert.JSONEq(t, `{"target":{"type":"action","value":"action"},"method":"tap","args":[]}`, string(raw))
}

func TestDecodeFromWire(t *testing.T) {
	var d Descriptor
	require.NoError(t, json.Unmarshal([]byte(`{"target":{"type":"action","value":"action"},"method":"scroll","args":["down",250]}`), &d))
	assert.Equal(t, VerbScroll, d.Verb)
	dir, err := d.Text(0)
	require.NoError(t, err)
	amount, err := d.Float(1, 0)
	require.NoError(t, err)
	assert.Equal(t, Down, dir)
	assert.Equal(t, 250.0, amount)

	err = json.Unmarshal([]byte(`{"args":[]}`), &d)
	assert.True(t, errors.Is(err, core.ErrMalformedCall))
}

func TestAccessorErrors(t *testing.T) {
	var d Descriptor
	require.NoError(t, json.Unmarshal([]byte(`{"method":"multiTap","args":["three",null]}`), &d))

	_, err := d.Int(0, 1)
	assert.Error(t, err)

	n, err := d.Int(1, 7)
	require.NoError(t, err)
	assert.Equal(t, 7, n)

	_, err = d.Point(0)
	assert.Error(t, err)
	_, err = d.Point(5)
	assert.Error(t, err)
}
