package settle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devicelab-dev/web-testee/pkg/clock"
	"github.com/devicelab-dev/web-testee/pkg/core"
	"github.com/devicelab-dev/web-testee/pkg/driver"
	"github.com/devicelab-dev/web-testee/pkg/driver/mock"
)

// settleAsync runs fn in a goroutine and returns a channel that receives its result.
func settleAsync(fn func(context.Context) error) <-chan error {
	done := make(chan error, 1)
	go func() { done <- fn(context.Background()) }()
	return done
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, time.Second, time.Millisecond)
}

func assertPending(t *testing.T, done <-chan error) {
	t.Helper()
	select {
	case err := <-done:
		t.Fatalf("settle resolved early: %v", err)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestNetworkSettleImmediateWhenIdle(t *testing.T) {
	n := NewNetwork(clock.NewFake())
	assert.Equal(t, Idle, n.State())
	require.NoError(t, n.Settle(context.Background()))
}

func TestNetworkSettleImmediateDuringQuietWindow(t *testing.T) {
	clk := clock.NewFake()
	n := NewNetwork(clk)

	id, ok := n.Start("https://app.test/api")
	require.True(t, ok)
	n.Finish(id)
	assert.Equal(t, Quiet, n.State())

	require.NoError(t, n.Settle(context.Background()))
	assert.Equal(t, 0, n.Waiters())
}

func TestNetworkSettleResolvesOnceAfterLastFinish(t *testing.T) {
	clk := clock.NewFake()
	n := NewNetwork(clk)

	const count = 5
	ids := make([]string, count)
	for i := range ids {
		id, ok := n.Start("https://app.test/api")
		require.True(t, ok)
		ids[i] = id
	}
	assert.Equal(t, Busy, n.State())

	done := settleAsync(n.Settle)
	waitFor(t, func() bool { return n.Waiters() == 1 })

	for i, id := range ids {
		n.Finish(id)
		if i < count-1 {
			assert.Equal(t, Busy, n.State())
			clk.Advance(50 * time.Millisecond)
		}
	}
	assert.Equal(t, Quiet, n.State())

	clk.Advance(QuietWindow - time.Millisecond)
	assertPending(t, done)

	clk.Advance(time.Millisecond)
	require.NoError(t, <-done)
	assert.Equal(t, Idle, n.State())
	assert.Equal(t, 0, n.Waiters())
}

func TestNetworkQuietTimerRestartsOnActivity(t *testing.T) {
	clk := clock.NewFake()
	n := NewNetwork(clk)

	a, _ := n.Start("https://app.test/a")
	done := settleAsync(n.Settle)
	waitFor(t, func() bool { return n.Waiters() == 1 })

	n.Finish(a)
	clk.Advance(150 * time.Millisecond)

	// A follow-up request inside the window cancels the pending timer.
	b, _ := n.Start("https://app.test/b")
	assert.Equal(t, 0, clk.Pending())
	clk.Advance(QuietWindow)
	assertPending(t, done)

	n.Finish(b)
	clk.Advance(QuietWindow)
	require.NoError(t, <-done)
}

func TestNetworkBlacklist(t *testing.T) {
	n := NewNetwork(clock.NewFake())
	require.NoError(t, n.SetBlacklist([]string{`.*analytics.*`, `^wss://`}))

	_, ok := n.Start("https://cdn.analytics.example/collect")
	assert.False(t, ok)
	_, ok = n.Start("wss://socket.example")
	assert.False(t, ok)
	assert.Equal(t, Idle, n.State())
	require.NoError(t, n.Settle(context.Background()))

	err := n.SetBlacklist([]string{`(`})
	assert.True(t, errors.Is(err, core.ErrInvalidConfig))
}

func TestNetworkFinishUnknownIsNoop(t *testing.T) {
	clk := clock.NewFake()
	n := NewNetwork(clk)
	n.Finish("nope")
	assert.Equal(t, Idle, n.State())
	assert.Equal(t, 0, clk.Pending())
}

func TestNetworkResetReleasesWaiters(t *testing.T) {
	n := NewNetwork(clock.NewFake())
	n.Start("https://app.test/stuck")
	done := settleAsync(n.Settle)
	waitFor(t, func() bool { return n.Waiters() == 1 })

	n.Reset()
	require.NoError(t, <-done)
	assert.Empty(t, n.Inflight())
}

func TestNetworkSettleCancelled(t *testing.T) {
	n := NewNetwork(clock.NewFake())
	n.Start("https://app.test/stuck")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, n.Settle(ctx), context.Canceled)
	assert.Equal(t, 0, n.Waiters())
}

func TestAnimationsSettle(t *testing.T) {
	clk := clock.NewFake()
	a := NewAnimations(clk)
	a.Started("fade", 300)
	a.Started("gone", 1000)
	a.Started("slide", 500)
	a.Canceled("slide")

	var mu sync.Mutex
	elapsed := map[string]float64{"fade": 0}
	setElapsed := func(id string, ms float64) {
		mu.Lock()
		elapsed[id] = ms
		mu.Unlock()
	}
	current := func(_ context.Context, id string) (float64, error) {
		if id == "gone" {
			return 0, errors.New("animation not found")
		}
		mu.Lock()
		defer mu.Unlock()
		return elapsed[id], nil
	}

	done := settleAsync(func(ctx context.Context) error { return a.Settle(ctx, current) })
	waitFor(t, func() bool { return clk.Pending() == 1 })

	setElapsed("fade", 200)
	clk.Advance(PollInterval)
	waitFor(t, func() bool { return clk.Pending() == 1 })
	assert.Equal(t, []string{"fade"}, a.Running())

	setElapsed("fade", 301)
	clk.Advance(PollInterval)
	require.NoError(t, <-done)
	assert.Empty(t, a.Running())
}

func TestEngineSequentialPipeline(t *testing.T) {
	clk := clock.NewFake()
	page := mock.NewPage(driver.Viewport{Width: 1280, Height: 720})
	e := NewEngine(clk)
	require.NoError(t, e.Attach(context.Background(), page))

	sink := page.Sink()
	require.NotNil(t, sink)
	sink.RequestStarted("1", "https://app.test/data")
	sink.AnimationStarted("spin", 100)
	assert.True(t, e.Busy())
	assert.Equal(t, []string{"network: https://app.test/data", "animation: spin"}, e.Resources())

	done := settleAsync(e.Settle)
	waitFor(t, func() bool { return e.Network().Waiters() == 1 })

	sink.RequestFinished("1")
	clk.Advance(QuietWindow)

	// Network settled; animation phase now polling.
	waitFor(t, func() bool { return clk.Pending() == 1 })
	page.SetAnimationTime("spin", 150)
	clk.Advance(PollInterval)
	require.NoError(t, <-done)
	assert.False(t, e.Busy())
}

func TestEngineTimerPhase(t *testing.T) {
	clk := clock.NewFake()
	page := mock.NewPage(driver.Viewport{Width: 1280, Height: 720})
	page.SetPendingTimers(2)
	e := NewEngine(clk)
	e.SetTrackTimers(true)
	require.NoError(t, e.Attach(context.Background(), page))

	done := settleAsync(e.Settle)
	waitFor(t, func() bool { return clk.Pending() == 1 })
	page.SetPendingTimers(0)
	clk.Advance(PollInterval)
	require.NoError(t, <-done)
}

func TestEngineDisabledSettlesImmediately(t *testing.T) {
	page := mock.NewPage(driver.Viewport{Width: 1280, Height: 720})
	e := NewEngine(clock.NewFake())
	require.NoError(t, e.Attach(context.Background(), page))
	page.Sink().RequestStarted("1", "https://app.test/slow")

	e.SetEnabled(false)
	assert.False(t, e.Enabled())
	require.NoError(t, e.Settle(context.Background()))
}

func TestEngineAttachIsRemoveThenAdd(t *testing.T) {
	ctx := context.Background()
	first := mock.NewPage(driver.Viewport{Width: 1280, Height: 720})
	e := NewEngine(clock.NewFake())

	require.NoError(t, e.Attach(ctx, first))
	first.Sink().RequestStarted("1", "https://app.test/a")
	require.NoError(t, e.Attach(ctx, first))
	assert.Equal(t, 2, first.Subscribes())
	assert.Equal(t, Busy, e.Network().State(), "same page keeps tracked requests")

	second := mock.NewPage(driver.Viewport{Width: 1280, Height: 720})
	require.NoError(t, e.Attach(ctx, second))
	assert.Nil(t, first.Sink(), "previous page listener removed")
	assert.Equal(t, Idle, e.Network().State(), "new page starts empty")

	e.Detach()
	assert.Nil(t, second.Sink())
}

func TestEngineRedirectReusesDriverID(t *testing.T) {
	clk := clock.NewFake()
	page := mock.NewPage(driver.Viewport{Width: 1280, Height: 720})
	e := NewEngine(clk)
	require.NoError(t, e.Attach(context.Background(), page))

	sink := page.Sink()
	sink.RequestStarted("7", "http://app.test/old")
	sink.RequestStarted("7", "https://app.test/new")
	assert.Equal(t, []string{"https://app.test/new"}, e.Network().Inflight())

	sink.RequestFailed("7")
	clk.Advance(QuietWindow)
	assert.Equal(t, Idle, e.Network().State())
}

func TestEngineBlacklistedRequestNeverBlocks(t *testing.T) {
	page := mock.NewPage(driver.Viewport{Width: 1280, Height: 720})
	e := NewEngine(clock.NewFake())
	require.NoError(t, e.SetBlacklist([]string{`/poll$`}))
	require.NoError(t, e.Attach(context.Background(), page))

	page.Sink().RequestStarted("1", "https://app.test/poll")
	assert.False(t, e.Busy())
	require.NoError(t, e.Settle(context.Background()))
}

// loopPage delivers events from its own goroutine and waits for that
// goroutine on stop, the way the chrome event loop does.
type loopPage struct {
	*mock.Page
}

func (p loopPage) Subscribe(_ context.Context, sink driver.EventSink) (func(), error) {
	quit := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		<-quit
		// Event still being handled when the subscription is stopped.
		sink.RequestStarted("late", "https://app.test/late")
	}()
	return func() {
		close(quit)
		<-done
	}, nil
}

func TestEngineReattachWhileEventInFlight(t *testing.T) {
	ctx := context.Background()
	page := loopPage{mock.NewPage(driver.Viewport{Width: 1280, Height: 720})}
	e := NewEngine(clock.NewFake())
	require.NoError(t, e.Attach(ctx, page))

	attached := make(chan error, 1)
	go func() { attached <- e.Attach(ctx, page) }()
	select {
	case err := <-attached:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("re-attach blocked on event delivery")
	}
	assert.Equal(t, []string{"https://app.test/late"}, e.Network().Inflight())

	detached := make(chan struct{})
	go func() {
		e.Detach()
		close(detached)
	}()
	select {
	case <-detached:
	case <-time.After(2 * time.Second):
		t.Fatal("detach blocked on event delivery")
	}
	assert.Equal(t, Idle, e.Network().State())
}
