// Package scheduler runs periodic housekeeping with cron specs.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/tjfontaine/polyglot-media-router/internal/pkg/config"
)

// Sweeper drops rate-limit state for idle users.
type Sweeper interface {
	Sweep(maxIdle time.Duration) int
}

// Pruner deletes analytics events created before cutoff.
type Pruner interface {
	PruneEvents(ctx context.Context, cutoff time.Time) (int64, error)
}

// Scheduler manages the housekeeping cron jobs.
type Scheduler struct {
	cron    *cron.Cron
	cfg     config.HousekeepingConfig
	sweeper Sweeper
	pruner  Pruner
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithSweeper schedules the limiter sweep.
func WithSweeper(s Sweeper) Option {
	return func(sc *Scheduler) { sc.sweeper = s }
}

// WithPruner schedules the analytics retention prune.
func WithPruner(p Pruner) Option {
	return func(sc *Scheduler) { sc.pruner = p }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(sc *Scheduler) { sc.logger = logger }
}

// WithClock overrides the time source used for the prune cutoff.
func WithClock(now func() time.Time) Option {
	return func(sc *Scheduler) { sc.now = now }
}

// New registers a job for each configured collaborator. A job whose
// schedule is empty is skipped; an unparsable schedule is an error.
func New(cfg config.HousekeepingConfig, opts ...Option) (*Scheduler, error) {
	s := &Scheduler{
		cron:   cron.New(),
		cfg:    cfg,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.sweeper != nil && cfg.SweepSchedule != "" && cfg.LimiterIdle > 0 {
		if _, err := s.cron.AddFunc(cfg.SweepSchedule, s.SweepLimiter); err != nil {
			return nil, fmt.Errorf("invalid sweep schedule %q: %w", cfg.SweepSchedule, err)
		}
	}
	if s.pruner != nil && cfg.PruneSchedule != "" && cfg.EventRetention > 0 {
		if _, err := s.cron.AddFunc(cfg.PruneSchedule, s.PruneEvents); err != nil {
			return nil, fmt.Errorf("invalid prune schedule %q: %w", cfg.PruneSchedule, err)
		}
	}
	return s, nil
}

// Jobs returns the number of registered jobs.
func (s *Scheduler) Jobs() int {
	return len(s.cron.Entries())
}

// Start starts the scheduler
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops the scheduler and waits for running jobs.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// SweepLimiter drops rate windows of users idle longer than LimiterIdle.
func (s *Scheduler) SweepLimiter() {
	removed := s.sweeper.Sweep(s.cfg.LimiterIdle)
	if removed > 0 {
		s.logger.Info("swept idle rate-limit users", slog.Int("removed", removed))
	}
}

// PruneEvents deletes analytics events older than EventRetention.
func (s *Scheduler) PruneEvents() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	cutoff := s.now().Add(-s.cfg.EventRetention)
	n, err := s.pruner.PruneEvents(ctx, cutoff)
	if err != nil {
		s.logger.Error("event prune failed", slog.String("error", err.Error()))
		return
	}
	if n > 0 {
		s.logger.Info("pruned classification events",
			slog.Int64("removed", n),
			slog.Time("cutoff", cutoff))
	}
}
