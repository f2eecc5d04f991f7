package settle

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/devicelab-dev/web-testee/pkg/clock"
	"github.com/devicelab-dev/web-testee/pkg/driver"
	"github.com/devicelab-dev/web-testee/pkg/logger"
)

// Engine composes the network, animation and timer phases for one page and
// receives that page's lifecycle events.
type Engine struct {
	clock clock.Clock
	net   *Network
	anim  *Animations
	log   *zap.SugaredLogger

	attachMu sync.Mutex // serializes Attach and Detach

	mu          sync.Mutex
	enabled     bool
	trackTimers bool
	page        driver.Page
	stop        func()
	requests    map[string]string // driver request id -> tracking id
}

// NewEngine creates an enabled engine on clk.
func NewEngine(clk clock.Clock) *Engine {
	return &Engine{
		clock:    clk,
		net:      NewNetwork(clk),
		anim:     NewAnimations(clk),
		log:      logger.Named("settle"),
		enabled:  true,
		requests: make(map[string]string),
	}
}

// Network exposes the network tracker.
func (e *Engine) Network() *Network { return e.net }

// Animations exposes the animation tracker.
func (e *Engine) Animations() *Animations { return e.anim }

// SetEnabled toggles synchronization. A disabled engine settles immediately.
func (e *Engine) SetEnabled(enabled bool) {
	e.mu.Lock()
	e.enabled = enabled
	e.mu.Unlock()
}

// Enabled reports whether synchronization is on.
func (e *Engine) Enabled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.enabled
}

// SetTrackTimers toggles the pending-timer phase.
func (e *Engine) SetTrackTimers(track bool) {
	e.mu.Lock()
	e.trackTimers = track
	e.mu.Unlock()
}

// SetBlacklist replaces the URL patterns excluded from network tracking.
func (e *Engine) SetBlacklist(patterns []string) error {
	return e.net.SetBlacklist(patterns)
}

// Attach subscribes to page events, removing any previous subscription
// first. Re-attaching the same live page keeps its tracked state; a new
// page starts from empty trackers.
func (e *Engine) Attach(ctx context.Context, page driver.Page) error {
	e.attachMu.Lock()
	defer e.attachMu.Unlock()

	// Event handlers take e.mu, so the previous subscription must be
	// stopped without holding it.
	e.unsubscribe()

	e.mu.Lock()
	if e.page != page {
		e.resetLocked()
		e.page = page
	}
	e.mu.Unlock()

	stop, err := page.Subscribe(ctx, e)
	if err != nil {
		return fmt.Errorf("subscribe to page events: %w", err)
	}
	e.mu.Lock()
	e.stop = stop
	e.mu.Unlock()
	return nil
}

// Detach drops the page subscription and clears all tracked activity.
func (e *Engine) Detach() {
	e.attachMu.Lock()
	defer e.attachMu.Unlock()

	e.unsubscribe()

	e.mu.Lock()
	e.page = nil
	e.resetLocked()
	e.mu.Unlock()
}

func (e *Engine) unsubscribe() {
	e.mu.Lock()
	stop := e.stop
	e.stop = nil
	e.mu.Unlock()
	if stop != nil {
		stop()
	}
}

func (e *Engine) resetLocked() {
	e.requests = make(map[string]string)
	e.net.Reset()
	e.anim.Reset()
}

// Busy reports whether any activity is tracked.
func (e *Engine) Busy() bool {
	return e.net.State() != Idle || len(e.anim.Running()) > 0
}

// Resources describes tracked activity for status reports.
func (e *Engine) Resources() []string {
	var out []string
	for _, u := range e.net.Inflight() {
		out = append(out, "network: "+u)
	}
	for _, id := range e.anim.Running() {
		out = append(out, "animation: "+id)
	}
	return out
}

// Settle runs network, animation and timer phases in sequence.
func (e *Engine) Settle(ctx context.Context) error {
	e.mu.Lock()
	enabled, trackTimers, page := e.enabled, e.trackTimers, e.page
	e.mu.Unlock()
	if !enabled {
		return nil
	}

	if err := e.net.Settle(ctx); err != nil {
		return fmt.Errorf("network settle: %w", err)
	}
	if page == nil {
		return nil
	}
	if err := e.anim.Settle(ctx, page.AnimationCurrentTime); err != nil {
		return fmt.Errorf("animation settle: %w", err)
	}
	if trackTimers {
		if err := e.settleTimers(ctx, page); err != nil {
			return fmt.Errorf("timer settle: %w", err)
		}
	}
	return nil
}

// settleTimers polls the page's tracked timer count until it reaches zero.
// A page without the tracking shim reports errors and counts as idle.
func (e *Engine) settleTimers(ctx context.Context, page driver.Page) error {
	for {
		n, err := page.PendingTimers(ctx)
		if err != nil {
			e.log.Debugw("pending timers unavailable", "error", err)
			return nil
		}
		if n == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.clock.After(PollInterval):
		}
	}
}

// RequestStarted implements driver.EventSink.
func (e *Engine) RequestStarted(requestID, url string) {
	id, ok := e.net.Start(url)
	if !ok {
		e.log.Debugw("request ignored", "url", url)
		return
	}
	e.mu.Lock()
	prev, redirected := e.requests[requestID]
	e.requests[requestID] = id
	e.mu.Unlock()
	// Redirects reuse the driver id; the earlier hop is done.
	if redirected {
		e.net.Finish(prev)
	}
}

// RequestFinished implements driver.EventSink.
func (e *Engine) RequestFinished(requestID string) { e.requestDone(requestID) }

// RequestFailed implements driver.EventSink.
func (e *Engine) RequestFailed(requestID string) { e.requestDone(requestID) }

func (e *Engine) requestDone(requestID string) {
	e.mu.Lock()
	id, ok := e.requests[requestID]
	delete(e.requests, requestID)
	e.mu.Unlock()
	if ok {
		e.net.Finish(id)
	}
}

// AnimationStarted implements driver.EventSink.
func (e *Engine) AnimationStarted(id string, duration float64) { e.anim.Started(id, duration) }

// AnimationCanceled implements driver.EventSink.
func (e *Engine) AnimationCanceled(id string) { e.anim.Canceled(id) }
