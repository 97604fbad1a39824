package ratelimiter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/tshare/publicroom/internal/infrastructure/clock"
)

func TestFixedWindow_Allow(t *testing.T) {
	clk := clock.Fake(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))
	rl := NewFixedWindowRateLimiter(2, time.Second, clk)
	defer rl.Close()

	ok, _ := rl.Allow("a")
	assert.True(t, ok)
	ok, _ = rl.Allow("a")
	assert.True(t, ok)

	ok, retry := rl.Allow("a")
	assert.False(t, ok)
	assert.Equal(t, time.Second, retry)

	ok, _ = rl.Allow("b")
	assert.True(t, ok, "keys are independent")

	clk.Advance(time.Second)
	ok, _ = rl.Allow("a")
	assert.True(t, ok, "new window")
}

func TestFixedWindow_Forget(t *testing.T) {
	clk := clock.Fake(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))
	rl := NewFixedWindowRateLimiter(1, time.Minute, clk)
	defer rl.Close()

	ok, _ := rl.Allow("a")
	assert.True(t, ok)
	ok, _ = rl.Allow("a")
	assert.False(t, ok)

	rl.Forget("a")
	ok, _ = rl.Allow("a")
	assert.True(t, ok)
}

func TestFixedWindow_Cleanup(t *testing.T) {
	clk := clock.Fake(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))
	rl := NewFixedWindowRateLimiter(1, time.Second, clk)
	defer rl.Close()

	rl.Allow("a")
	clk.Advance(2 * time.Second)
	rl.cleanup()

	rl.mu.Lock()
	defer rl.mu.Unlock()
	assert.Empty(t, rl.windows)
}
