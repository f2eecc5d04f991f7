package settle

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/devicelab-dev/web-testee/pkg/clock"
)

// PollInterval is how often running animations and timers are re-checked.
const PollInterval = 100 * time.Millisecond

// CurrentTimeFunc returns an animation's elapsed time in ms.
type CurrentTimeFunc func(ctx context.Context, id string) (float64, error)

// Animations tracks running animations by declared duration.
type Animations struct {
	clock    clock.Clock
	interval time.Duration

	mu      sync.Mutex
	running map[string]float64
}

// NewAnimations creates a tracker on clk.
func NewAnimations(clk clock.Clock) *Animations {
	return &Animations{clock: clk, interval: PollInterval, running: make(map[string]float64)}
}

// Started records an animation with its declared duration in ms.
func (a *Animations) Started(id string, duration float64) {
	a.mu.Lock()
	a.running[id] = duration
	a.mu.Unlock()
}

// Canceled forgets an animation.
func (a *Animations) Canceled(id string) {
	a.mu.Lock()
	delete(a.running, id)
	a.mu.Unlock()
}

// Reset forgets every animation.
func (a *Animations) Reset() {
	a.mu.Lock()
	a.running = make(map[string]float64)
	a.mu.Unlock()
}

// Running returns the ids of tracked animations, sorted.
func (a *Animations) Running() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	ids := make([]string, 0, len(a.running))
	for id := range a.running {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Settle returns once no animation is tracked. Every interval it queries
// each animation; a query error or an elapsed time beyond the declared
// duration finishes it.
func (a *Animations) Settle(ctx context.Context, current CurrentTimeFunc) error {
	for {
		if len(a.Running()) == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-a.clock.After(a.interval):
		}
		a.poll(ctx, current)
	}
}

func (a *Animations) poll(ctx context.Context, current CurrentTimeFunc) {
	a.mu.Lock()
	snapshot := make(map[string]float64, len(a.running))
	for id, d := range a.running {
		snapshot[id] = d
	}
	a.mu.Unlock()

	for id, duration := range snapshot {
		elapsed, err := current(ctx, id)
		if err == nil && elapsed <= duration {
			continue
		}
		a.Canceled(id)
	}
}
