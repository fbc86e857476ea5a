// Package breaker guards the classification dependency with a circuit
// breaker. All state changes go through one mutex so concurrent failures trip
// the circuit exactly once.
package breaker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tjfontaine/polyglot-media-router/internal/core/domain"
)

// State is the circuit state.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config configures thresholds and the open timeout. There are no implicit
// defaults; New rejects a zero Config.
type Config struct {
	// FailureThreshold is the number of consecutive failures that opens the circuit.
	FailureThreshold int
	// SuccessThreshold is the number of consecutive half-open successes that closes it.
	SuccessThreshold int
	// OpenTimeout is how long the circuit stays open before allowing a probe.
	OpenTimeout time.Duration
}

// Validate reports every invalid field.
func (c Config) Validate() error {
	var errs domain.ConfigErrors
	if c.FailureThreshold <= 0 {
		errs = append(errs, &domain.ConfigError{Field: "breaker.failure_threshold", Reason: "must be positive"})
	}
	if c.SuccessThreshold <= 0 {
		errs = append(errs, &domain.ConfigError{Field: "breaker.success_threshold", Reason: "must be positive"})
	}
	if c.OpenTimeout <= 0 {
		errs = append(errs, &domain.ConfigError{Field: "breaker.open_timeout", Reason: "must be positive"})
	}
	return errs.ErrOrNil()
}

// Stats is a snapshot of the breaker.
type Stats struct {
	Name           string    `json:"name"`
	State          string    `json:"state"`
	Failures       int       `json:"failures"`
	Successes      int       `json:"successes"`
	Trips          int64     `json:"trips"`
	Rejected       int64     `json:"rejected"`
	LastTransition time.Time `json:"last_transition"`
}

// StateChangeFunc observes transitions. It runs after the lock is released.
type StateChangeFunc func(name string, from, to State)

// Ticket is handed out by Allow and returned to Done. It pins the outcome of
// a call to the circuit generation that admitted it.
type Ticket struct {
	generation uint64
	probe      bool
}

// Breaker is a process-wide circuit breaker instance.
type Breaker struct {
	name     string
	cfg      Config
	now      func() time.Time
	onChange StateChangeFunc
	logger   *slog.Logger

	mu             sync.Mutex
	state          State
	failures       int
	successes      int
	generation     uint64
	probeInFlight  bool
	lastTransition time.Time
	trips          int64
	rejected       int64
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) {
		b.now = now
	}
}

// WithStateChange registers a transition observer.
func WithStateChange(fn StateChangeFunc) Option {
	return func(b *Breaker) {
		b.onChange = fn
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Breaker) {
		b.logger = logger
	}
}

// New creates a closed breaker.
func New(name string, cfg Config, opts ...Option) (*Breaker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	b := &Breaker{
		name:   name,
		cfg:    cfg,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.lastTransition = b.now()
	return b, nil
}

// Name returns the breaker name.
func (b *Breaker) Name() string {
	return b.name
}

// Allow admits a call or rejects it with *domain.CircuitOpenError. While open
// nothing is admitted until OpenTimeout has elapsed; then exactly one probe
// is admitted at a time until the circuit closes or reopens.
func (b *Breaker) Allow() (Ticket, error) {
	b.mu.Lock()
	var change *transition
	defer func() {
		b.mu.Unlock()
		b.notify(change)
	}()

	switch b.state {
	case Closed:
		return Ticket{generation: b.generation}, nil

	case Open:
		until := b.lastTransition.Add(b.cfg.OpenTimeout)
		if b.now().Before(until) {
			b.rejected++
			return Ticket{}, &domain.CircuitOpenError{Name: b.name, State: Open.String(), Until: until}
		}
		change = b.transitionLocked(HalfOpen)
		b.probeInFlight = true
		return Ticket{generation: b.generation, probe: true}, nil

	default: // HalfOpen
		if b.probeInFlight {
			b.rejected++
			return Ticket{}, &domain.CircuitOpenError{Name: b.name, State: HalfOpen.String()}
		}
		b.probeInFlight = true
		return Ticket{generation: b.generation, probe: true}, nil
	}
}

// Done records the outcome of an admitted call. Outcomes from a generation
// that has since transitioned are ignored.
func (b *Breaker) Done(t Ticket, success bool) {
	b.mu.Lock()
	var change *transition
	defer func() {
		b.mu.Unlock()
		b.notify(change)
	}()

	if t.generation != b.generation {
		return
	}

	switch b.state {
	case Closed:
		if success {
			b.failures = 0
			return
		}
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			change = b.transitionLocked(Open)
		}

	case HalfOpen:
		if t.probe {
			b.probeInFlight = false
		}
		if !success {
			change = b.transitionLocked(Open)
			return
		}
		b.successes++
		if b.successes >= b.cfg.SuccessThreshold {
			change = b.transitionLocked(Closed)
		}
	}
}

// Execute runs fn if the circuit admits it and records the result. A nil
// error from fn counts as success.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	t, err := b.Allow()
	if err != nil {
		return err
	}
	err = fn(ctx)
	b.Done(t, err == nil)
	return err
}

// State returns the current state without advancing it.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Stats returns a snapshot.
func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		Name:           b.name,
		State:          b.state.String(),
		Failures:       b.failures,
		Successes:      b.successes,
		Trips:          b.trips,
		Rejected:       b.rejected,
		LastTransition: b.lastTransition,
	}
}

// Reset forces the circuit closed.
func (b *Breaker) Reset() {
	b.mu.Lock()
	change := b.transitionLocked(Closed)
	b.mu.Unlock()
	b.notify(change)
}

type transition struct {
	from, to State
}

// transitionLocked must be called with mu held.
func (b *Breaker) transitionLocked(to State) *transition {
	if b.state == to {
		return nil
	}
	from := b.state
	b.state = to
	b.generation++
	b.failures = 0
	b.successes = 0
	b.probeInFlight = false
	b.lastTransition = b.now()
	if to == Open {
		b.trips++
	}
	return &transition{from: from, to: to}
}

func (b *Breaker) notify(t *transition) {
	if t == nil {
		return
	}
	level := slog.LevelInfo
	if t.to == Open {
		level = slog.LevelWarn
	}
	b.logger.Log(context.Background(), level, "circuit state changed",
		slog.String("breaker", b.name),
		slog.String("from", t.from.String()),
		slog.String("to", t.to.String()))
	if b.onChange != nil {
		b.onChange(b.name, t.from, t.to)
	}
}
