package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFake_AfterFuncFiresInOrder(t *testing.T) {
	c := NewFake()
	var fired []string

	c.AfterFunc(200*time.Millisecond, func() { fired = append(fired, "b") })
	c.AfterFunc(100*time.Millisecond, func() { fired = append(fired, "a") })

	c.Advance(150 * time.Millisecond)
	assert.Equal(t, []string{"a"}, fired)

	c.Advance(50 * time.Millisecond)
	assert.Equal(t, []string{"a", "b"}, fired)
	assert.Equal(t, 0, c.Pending())
}

func TestFake_StopCancels(t *testing.T) {
	c := NewFake()
	fired := false
	timer := c.AfterFunc(time.Second, func() { fired = true })

	assert.True(t, timer.Stop())
	assert.False(t, timer.Stop())
	c.Advance(2 * time.Second)
	assert.False(t, fired)
}

func TestFake_After(t *testing.T) {
	c := NewFake()
	ch := c.After(100 * time.Millisecond)

	select {
	case <-ch:
		t.Fatal("fired before advance")
	default:
	}

	start := c.Now()
	c.Advance(100 * time.Millisecond)
	got := <-ch
	assert.Equal(t, start.Add(100*time.Millisecond), got)
}

func TestFake_CallbackCanReschedule(t *testing.T) {
	c := NewFake()
	count := 0
	var tick func()
	tick = func() {
		count++
		if count < 3 {
			c.AfterFunc(10*time.Millisecond, tick)
		}
	}
	c.AfterFunc(10*time.Millisecond, tick)

	c.Advance(time.Second)
	assert.Equal(t, 3, count)
}

func TestReal(t *testing.T) {
	c := Real()
	done := make(chan struct{})
	c.AfterFunc(time.Millisecond, func() { close(done) })
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("real AfterFunc did not fire")
	}
}
