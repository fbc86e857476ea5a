// Package ratelimit implements per-user request and cost limits over fixed
// rolling windows.
package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tjfontaine/polyglot-media-router/internal/core/domain"
	"github.com/tjfontaine/polyglot-media-router/internal/core/ports"
)

// Window names reported in decisions.
const (
	WindowMinute = "minute"
	WindowHour   = "hour"
	WindowCost   = "cost_hour"
)

// Config sets the limits. A zero limit disables that dimension.
type Config struct {
	RequestsPerMinute int
	RequestsPerHour   int
	CostPerHour       float64
}

// Validate reports every invalid field.
func (c Config) Validate() error {
	var errs domain.ConfigErrors
	if c.RequestsPerMinute < 0 {
		errs = append(errs, &domain.ConfigError{Field: "limits.requests_per_minute", Reason: "must not be negative"})
	}
	if c.RequestsPerHour < 0 {
		errs = append(errs, &domain.ConfigError{Field: "limits.requests_per_hour", Reason: "must not be negative"})
	}
	if c.CostPerHour < 0 {
		errs = append(errs, &domain.ConfigError{Field: "limits.cost_per_hour", Reason: "must not be negative"})
	}
	return errs.ErrOrNil()
}

type window struct {
	start time.Time
	count int
	cost  float64
}

// roll resets the window when size has elapsed since it started.
func (w *window) roll(now time.Time, size time.Duration) {
	if w.start.IsZero() || now.Sub(w.start) >= size {
		w.start = now
		w.count = 0
		w.cost = 0
	}
}

type userState struct {
	mu       sync.Mutex
	minute   window
	hour     window
	lastSeen time.Time
	// swept is set under mu once Sweep has dropped the entry from the map.
	swept bool
}

// Limiter tracks windows per user. Different users never contend on the
// same lock beyond the brief map lookup.
type Limiter struct {
	cfg atomic.Pointer[Config]
	now func() time.Time

	mu    sync.Mutex
	users map[string]*userState

	rejected atomic.Int64
}

var _ ports.QualityPolicy = (*Limiter)(nil)

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

// New creates a limiter.
func New(cfg Config, opts ...Option) (*Limiter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	l := &Limiter{now: time.Now, users: make(map[string]*userState)}
	l.cfg.Store(&cfg)
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Update swaps the limits. Existing windows keep their counts.
func (l *Limiter) Update(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	l.cfg.Store(&cfg)
	return nil
}

// Config returns the active limits.
func (l *Limiter) Config() Config {
	return *l.cfg.Load()
}

func (l *Limiter) user(id string) *userState {
	l.mu.Lock()
	defer l.mu.Unlock()
	u, ok := l.users[id]
	if !ok {
		u = &userState{}
		l.users[id] = u
	}
	return u
}

// lock returns the user's live state with its mutex held. An entry swept
// between the map lookup and the lock is skipped and looked up again.
func (l *Limiter) lock(id string) *userState {
	for {
		u := l.user(id)
		u.mu.Lock()
		if !u.swept {
			return u
		}
		u.mu.Unlock()
	}
}

// Check reports whether the user may make one more request costing
// estimatedCost. An allowed request is counted immediately.
func (l *Limiter) Check(userID string, estimatedCost float64) bool {
	d, _ := l.CheckRequest(context.Background(), &ports.PolicyRequest{UserID: userID, EstimatedCost: estimatedCost})
	return d.Allow
}

// CheckRequest implements ports.QualityPolicy. The check and the increment
// happen under the user's lock, so of N concurrent requests only as many as
// the limit allows are admitted.
func (l *Limiter) CheckRequest(_ context.Context, req *ports.PolicyRequest) (*ports.PolicyDecision, error) {
	cfg := l.cfg.Load()
	now := l.now()
	u := l.lock(req.UserID)
	defer u.mu.Unlock()

	u.lastSeen = now
	u.minute.roll(now, time.Minute)
	u.hour.roll(now, time.Hour)

	if cfg.RequestsPerMinute > 0 && u.minute.count+1 > cfg.RequestsPerMinute {
		return l.deny(WindowMinute, cfg.RequestsPerMinute, u.minute, time.Minute, now), nil
	}
	if cfg.RequestsPerHour > 0 && u.hour.count+1 > cfg.RequestsPerHour {
		return l.deny(WindowHour, cfg.RequestsPerHour, u.hour, time.Hour, now), nil
	}
	if cfg.CostPerHour > 0 && u.hour.cost+req.EstimatedCost > cfg.CostPerHour {
		return l.deny(WindowCost, 0, u.hour, time.Hour, now), nil
	}

	u.minute.count++
	u.hour.count++
	u.hour.cost += req.EstimatedCost

	d := &ports.PolicyDecision{Allow: true}
	if cfg.RequestsPerMinute > 0 {
		d.RateLimitInfo = &ports.RateLimitInfo{
			Limit:     cfg.RequestsPerMinute,
			Remaining: cfg.RequestsPerMinute - u.minute.count,
			ResetAt:   u.minute.start.Add(time.Minute).Unix(),
		}
	}
	return d, nil
}

func (l *Limiter) deny(name string, limit int, w window, size time.Duration, now time.Time) *ports.PolicyDecision {
	l.rejected.Add(1)
	reset := w.start.Add(size)
	return &ports.PolicyDecision{
		Allow:      false,
		Reason:     domain.ReasonRateLimited,
		Window:     name,
		RetryAfter: reset.Sub(now),
		RateLimitInfo: &ports.RateLimitInfo{
			Limit:     limit,
			Remaining: 0,
			ResetAt:   reset.Unix(),
		},
	}
}

// RecordUsage replaces the cost reserved at check time with the actual cost.
func (l *Limiter) RecordUsage(_ context.Context, usage *ports.UsageRecord) error {
	delta := usage.ActualCost - usage.EstimatedCost
	if delta == 0 {
		return nil
	}
	now := l.now()
	u := l.lock(usage.UserID)
	defer u.mu.Unlock()
	u.hour.roll(now, time.Hour)
	u.hour.cost += delta
	if u.hour.cost < 0 {
		u.hour.cost = 0
	}
	return nil
}

// Usage reports the user's current counts and hourly cost.
func (l *Limiter) Usage(userID string) (minute, hour int, cost float64) {
	now := l.now()
	u := l.lock(userID)
	defer u.mu.Unlock()
	u.minute.roll(now, time.Minute)
	u.hour.roll(now, time.Hour)
	return u.minute.count, u.hour.count, u.hour.cost
}

// MinuteWindow reports the user's request count in the current minute
// window and when that window resets.
func (l *Limiter) MinuteWindow(userID string) (count int, resetAt time.Time) {
	now := l.now()
	u := l.lock(userID)
	defer u.mu.Unlock()
	u.minute.roll(now, time.Minute)
	return u.minute.count, u.minute.start.Add(time.Minute)
}

// Rejected returns the number of denied requests since creation.
func (l *Limiter) Rejected() int64 {
	return l.rejected.Load()
}

// Sweep drops users not seen for maxIdle and returns how many were removed.
func (l *Limiter) Sweep(maxIdle time.Duration) int {
	cutoff := l.now().Add(-maxIdle)
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for id, u := range l.users {
		u.mu.Lock()
		idle := u.lastSeen.Before(cutoff)
		if idle {
			u.swept = true
			delete(l.users, id)
			removed++
		}
		u.mu.Unlock()
	}
	return removed
}

// Users returns the number of tracked users.
func (l *Limiter) Users() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.users)
}
