package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tjfontaine/polyglot-media-router/internal/core/domain"
	"github.com/tjfontaine/polyglot-media-router/internal/core/ports"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestLimiter(t *testing.T, cfg Config) (*Limiter, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
	l, err := New(cfg, WithClock(clock.Now))
	require.NoError(t, err)
	return l, clock
}

func TestLimiter_MinuteWindow(t *testing.T) {
	l, clock := newTestLimiter(t, Config{RequestsPerMinute: 3})

	for i := 0; i < 3; i++ {
		assert.True(t, l.Check("u1", 0), "request %d", i+1)
	}
	ctx := context.Background()
	d, err := l.CheckRequest(ctx, &ports.PolicyRequest{UserID: "u1"})
	require.NoError(t, err)
	assert.False(t, d.Allow)
	assert.Equal(t, WindowMinute, d.Window)
	assert.Equal(t, domain.ReasonRateLimited, d.Reason)
	assert.Equal(t, time.Minute, d.RetryAfter)

	assert.True(t, l.Check("u2", 0), "other users are independent")

	clock.Advance(time.Minute)
	assert.True(t, l.Check("u1", 0), "window rolled over")
}

func TestLimiter_HourWindow(t *testing.T) {
	l, clock := newTestLimiter(t, Config{RequestsPerMinute: 10, RequestsPerHour: 12})

	for i := 0; i < 10; i++ {
		require.True(t, l.Check("u1", 0))
	}
	clock.Advance(time.Minute)
	assert.True(t, l.Check("u1", 0))
	assert.True(t, l.Check("u1", 0))

	d, _ := l.CheckRequest(context.Background(), &ports.PolicyRequest{UserID: "u1"})
	assert.False(t, d.Allow)
	assert.Equal(t, WindowHour, d.Window)
	assert.Equal(t, 59*time.Minute, d.RetryAfter)
}

func TestLimiter_CostWindowAndTrueUp(t *testing.T) {
	l, clock := newTestLimiter(t, Config{CostPerHour: 1.0})
	ctx := context.Background()

	assert.True(t, l.Check("u1", 0.6))
	d, _ := l.CheckRequest(ctx, &ports.PolicyRequest{UserID: "u1", EstimatedCost: 0.6})
	assert.False(t, d.Allow)
	assert.Equal(t, WindowCost, d.Window)

	// The first call actually cost far less than reserved.
	require.NoError(t, l.RecordUsage(ctx, &ports.UsageRecord{UserID: "u1", EstimatedCost: 0.6, ActualCost: 0.1}))
	_, _, cost := l.Usage("u1")
	assert.InDelta(t, 0.1, cost, 1e-9)
	assert.True(t, l.Check("u1", 0.6))

	clock.Advance(time.Hour)
	_, hour, cost := l.Usage("u1")
	assert.Zero(t, hour)
	assert.Zero(t, cost)
}

func TestLimiter_ConcurrentBurst(t *testing.T) {
	const limit = 10
	l, _ := newTestLimiter(t, Config{RequestsPerMinute: limit})

	var allowed atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Check("burst", 0) {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(limit), allowed.Load())
	assert.Equal(t, int64(100-limit), l.Rejected())
}

func TestLimiter_UpdateAndValidate(t *testing.T) {
	_, err := New(Config{RequestsPerMinute: -1})
	assert.Error(t, err)

	l, _ := newTestLimiter(t, Config{RequestsPerMinute: 1})
	assert.True(t, l.Check("u1", 0))
	assert.False(t, l.Check("u1", 0))

	require.NoError(t, l.Update(Config{RequestsPerMinute: 5}))
	assert.True(t, l.Check("u1", 0))
	assert.Equal(t, 5, l.Config().RequestsPerMinute)

	assert.Error(t, l.Update(Config{CostPerHour: -2}))
	assert.Equal(t, 5, l.Config().RequestsPerMinute)
}

func TestLimiter_UnlimitedByDefault(t *testing.T) {
	l, _ := newTestLimiter(t, Config{})
	for i := 0; i < 1000; i++ {
		require.True(t, l.Check("u1", 100))
	}
}

func TestLimiter_Sweep(t *testing.T) {
	l, clock := newTestLimiter(t, Config{RequestsPerMinute: 5})
	l.Check("old", 0)
	clock.Advance(2 * time.Hour)
	l.Check("new", 0)

	assert.Equal(t, 1, l.Sweep(time.Hour))
	assert.Equal(t, 1, l.Users())
}

func TestLimiter_CheckRacingSweepIsCounted(t *testing.T) {
	l, clock := newTestLimiter(t, Config{RequestsPerMinute: 5})
	l.Check("u1", 0)
	clock.Advance(2 * time.Hour)

	// Hold the entry so Check blocks on it, then sweep it away underneath.
	stale := l.user("u1")
	stale.mu.Lock()
	done := make(chan bool)
	go func() { done <- l.Check("u1", 0) }()
	time.Sleep(20 * time.Millisecond)

	l.mu.Lock()
	stale.swept = true
	delete(l.users, "u1")
	l.mu.Unlock()
	stale.mu.Unlock()

	require.True(t, <-done)
	minute, hour, _ := l.Usage("u1")
	assert.Equal(t, 1, minute)
	assert.Equal(t, 1, hour)
	assert.Equal(t, 1, l.Users())
}

func TestLimiter_MinuteWindowReport(t *testing.T) {
	l, clock := newTestLimiter(t, Config{RequestsPerMinute: 5})
	start := clock.Now()

	l.Check("u1", 0)
	clock.Advance(20 * time.Second)
	l.Check("u1", 0)

	count, reset := l.MinuteWindow("u1")
	assert.Equal(t, 2, count)
	assert.Equal(t, start.Add(time.Minute), reset)

	clock.Advance(time.Minute)
	count, _ = l.MinuteWindow("u1")
	assert.Zero(t, count)
}
