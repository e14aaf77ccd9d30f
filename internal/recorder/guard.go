package recorder

import (
	"sync"
	"time"
)

// Guard tracks a session against a duration ceiling with three clocks: a
// progress clock that advances one interval per tick and never skips or
// exceeds the ceiling, the length of audio actually captured, and the wall
// clock as a backstop when either of the others stalls.
type Guard struct {
	limit    time.Duration
	interval time.Duration

	mu       sync.Mutex
	started  time.Time
	ticks    int
	captured time.Duration

	stop     chan struct{}
	stopOnce sync.Once
}

// NewGuard creates a guard for one session.
func NewGuard(limit, interval time.Duration) *Guard {
	return &Guard{
		limit:    limit,
		interval: interval,
		stop:     make(chan struct{}),
	}
}

// Start records the start instant and calls onTick once per interval until
// Cancel. onTick runs on the guard's goroutine.
func (g *Guard) Start(onTick func()) {
	g.mu.Lock()
	g.started = time.Now()
	g.mu.Unlock()

	go func() {
		ticker := time.NewTicker(g.interval)
		defer ticker.Stop()
		for {
			select {
			case <-g.stop:
				return
			case <-ticker.C:
				onTick()
			}
		}
	}()
}

// Advance counts one tick. It returns the progress clock and whether it
// moved; once the clock sits at the limit further ticks do not move it.
func (g *Guard) Advance() (time.Duration, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	before := g.elapsedLocked()
	g.ticks++
	after := g.elapsedLocked()
	return after, after > before
}

// Elapsed returns the progress clock.
func (g *Guard) Elapsed() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.elapsedLocked()
}

func (g *Guard) elapsedLocked() time.Duration {
	return min(time.Duration(g.ticks)*g.interval, g.limit)
}

// Accept reports whether a chunk of length d still fits in the session and
// counts it if so. Audio past the ceiling is refused.
func (g *Guard) Accept(d time.Duration) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.captured >= g.limit {
		return false
	}
	g.captured += d
	return true
}

// Captured returns the length of accepted audio.
func (g *Guard) Captured() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.captured
}

// Reached reports whether the session should end: the progress clock and
// the captured audio have both hit the ceiling, or the wall clock has run a
// full interval past it.
func (g *Guard) Reached() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.elapsedLocked() >= g.limit && g.captured >= g.limit {
		return true
	}
	return g.overdueLocked()
}

func (g *Guard) overdueLocked() bool {
	return !g.started.IsZero() && time.Since(g.started) >= g.limit+g.interval
}

// Cancel stops the ticker. It does not wait for a running onTick.
func (g *Guard) Cancel() {
	g.stopOnce.Do(func() { close(g.stop) })
}
