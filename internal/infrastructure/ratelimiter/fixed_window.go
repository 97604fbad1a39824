package ratelimiter

import (
	"sync"
	"time"

	"github.com/tshare/publicroom/internal/infrastructure/clock"
)

// Limiter admits or rejects an action for a key, reporting how long
// until the key may try again.
type Limiter interface {
	Allow(key string) (bool, time.Duration)
}

// FixedWindowRateLimiter allows limit actions per key in each window.
// Windows are aligned to multiples of the window length.
type FixedWindowRateLimiter struct {
	limit  int
	window time.Duration
	clock  clock.Clock

	mu      sync.Mutex
	windows map[string]*window

	cleanupTick *time.Ticker
	done        chan struct{}
	closeOnce   sync.Once
}

type window struct {
	count   int
	resetAt time.Time
}

func NewFixedWindowRateLimiter(limit int, frame time.Duration, clk clock.Clock) *FixedWindowRateLimiter {
	if limit <= 0 {
		limit = 1
	}
	if frame <= 0 {
		frame = time.Second
	}
	if clk == nil {
		clk = clock.Real()
	}

	rl := &FixedWindowRateLimiter{
		limit:       limit,
		window:      frame,
		clock:       clk,
		windows:     make(map[string]*window),
		cleanupTick: time.NewTicker(frame * 10),
		done:        make(chan struct{}),
	}
	go rl.startCleanup()
	return rl
}

func (rl *FixedWindowRateLimiter) Allow(key string) (bool, time.Duration) {
	now := rl.clock.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	w, ok := rl.windows[key]
	if !ok || !now.Before(w.resetAt) {
		rl.windows[key] = &window{count: 1, resetAt: now.Truncate(rl.window).Add(rl.window)}
		return true, 0
	}

	if w.count >= rl.limit {
		return false, w.resetAt.Sub(now)
	}

	w.count++
	return true, 0
}

// Forget drops the state of a key, e.g. once a participant disconnects.
func (rl *FixedWindowRateLimiter) Forget(key string) {
	rl.mu.Lock()
	delete(rl.windows, key)
	rl.mu.Unlock()
}

func (rl *FixedWindowRateLimiter) startCleanup() {
	for {
		select {
		case <-rl.cleanupTick.C:
			rl.cleanup()
		case <-rl.done:
			return
		}
	}
}

func (rl *FixedWindowRateLimiter) cleanup() {
	now := rl.clock.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	for key, w := range rl.windows {
		if !now.Before(w.resetAt) {
			delete(rl.windows, key)
		}
	}
}

func (rl *FixedWindowRateLimiter) Close() {
	rl.closeOnce.Do(func() {
		close(rl.done)
		rl.cleanupTick.Stop()
	})
}
