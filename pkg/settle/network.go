// Package settle decides when the page under test is idle: no tracked
// network request in flight, no running animation and, optionally, no
// pending JS timer.
package settle

import (
	"context"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/devicelab-dev/web-testee/pkg/clock"
	"github.com/devicelab-dev/web-testee/pkg/core"
)

// QuietWindow is how long the in-flight set must stay empty before the
// network counts as settled.
const QuietWindow = 200 * time.Millisecond

// State is the network tracker state.
type State int

// Network states.
const (
	Idle  State = iota // nothing in flight, no quiet timer
	Busy               // requests in flight
	Quiet              // drained, quiet timer pending
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Busy:
		return "busy"
	case Quiet:
		return "quiet"
	}
	return "unknown"
}

// Network tracks in-flight requests with a debounced drain signal.
type Network struct {
	clock clock.Clock
	quiet time.Duration

	mu        sync.Mutex
	inflight  map[string]string // id -> url
	blacklist []*regexp.Regexp
	timer     clock.Timer
	waiters   []chan struct{}
}

// NewNetwork creates a tracker on clk.
func NewNetwork(clk clock.Clock) *Network {
	return &Network{clock: clk, quiet: QuietWindow, inflight: make(map[string]string)}
}

// SetBlacklist replaces the URL patterns excluded from tracking.
func (n *Network) SetBlacklist(patterns []string) error {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return core.ErrInvalidConfig.WithMessagef("url blacklist pattern %q", p).WithCause(err)
		}
		compiled = append(compiled, re)
	}
	n.mu.Lock()
	n.blacklist = compiled
	n.mu.Unlock()
	return nil
}

// Blacklisted reports whether url matches a blacklist pattern.
func (n *Network) Blacklisted(url string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.blacklisted(url)
}

func (n *Network) blacklisted(url string) bool {
	for _, re := range n.blacklist {
		if re.MatchString(url) {
			return true
		}
	}
	return false
}

// Start records a request and returns its tracking id. Blacklisted URLs are
// not tracked and return ok=false.
func (n *Network) Start(url string) (id string, ok bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.blacklisted(url) {
		return "", false
	}
	id = uuid.NewString()
	n.inflight[id] = url
	n.stopTimer()
	return id, true
}

// Finish removes a request. Draining the set (re)starts the quiet timer.
func (n *Network) Finish(id string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.inflight[id]; !ok {
		return
	}
	delete(n.inflight, id)
	if len(n.inflight) == 0 {
		n.stopTimer()
		n.timer = n.clock.AfterFunc(n.quiet, n.fire)
	}
}

func (n *Network) stopTimer() {
	if n.timer != nil {
		n.timer.Stop()
		n.timer = nil
	}
}

// fire re-checks the set once the quiet window elapsed.
func (n *Network) fire() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.timer = nil
	if len(n.inflight) == 0 {
		n.release()
	}
}

func (n *Network) release() {
	for _, w := range n.waiters {
		close(w)
	}
	n.waiters = nil
}

// Reset forgets every request and releases waiters.
func (n *Network) Reset() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.inflight = make(map[string]string)
	n.stopTimer()
	n.release()
}

// State returns the current state.
func (n *Network) State() State {
	n.mu.Lock()
	defer n.mu.Unlock()
	switch {
	case len(n.inflight) > 0:
		return Busy
	case n.timer != nil:
		return Quiet
	}
	return Idle
}

// Inflight returns the URLs of tracked requests, sorted.
func (n *Network) Inflight() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	urls := make([]string, 0, len(n.inflight))
	for _, u := range n.inflight {
		urls = append(urls, u)
	}
	sort.Strings(urls)
	return urls
}

// Waiters returns the number of blocked Settle calls.
func (n *Network) Waiters() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.waiters)
}

// Settle returns immediately when nothing is in flight, including during a
// pending quiet window. Otherwise it blocks until the quiet window that
// follows the last finish elapses.
func (n *Network) Settle(ctx context.Context) error {
	n.mu.Lock()
	if len(n.inflight) == 0 {
		n.mu.Unlock()
		return nil
	}
	w := make(chan struct{})
	n.waiters = append(n.waiters, w)
	n.mu.Unlock()

	select {
	case <-w:
		return nil
	case <-ctx.Done():
		n.mu.Lock()
		for i, x := range n.waiters {
			if x == w {
				n.waiters = append(n.waiters[:i], n.waiters[i+1:]...)
				break
			}
		}
		n.mu.Unlock()
		return ctx.Err()
	}
}
