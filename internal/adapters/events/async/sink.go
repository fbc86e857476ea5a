// Package async wraps an analytics sink so recording never blocks the
// classification path.
package async

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tjfontaine/polyglot-media-router/internal/core/domain"
	"github.com/tjfontaine/polyglot-media-router/internal/core/ports"
)

const (
	defaultBufferSize   = 1024
	defaultWriteTimeout = 5 * time.Second
)

// Sink queues events on a bounded buffer and delivers them to the wrapped
// sink from a single background goroutine. When the buffer is full the
// event is dropped.
type Sink struct {
	next         ports.AnalyticsSink
	events       chan *domain.ClassificationEvent
	writeTimeout time.Duration
	logger       *slog.Logger

	dropped   atomic.Int64
	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
	done      chan struct{}
}

var _ ports.AnalyticsSink = (*Sink)(nil)

// Option configures a Sink.
type Option func(*Sink)

// WithBufferSize sets the queue capacity.
func WithBufferSize(n int) Option {
	return func(s *Sink) {
		if n > 0 {
			s.events = make(chan *domain.ClassificationEvent, n)
		}
	}
}

// WithWriteTimeout bounds each delivery to the wrapped sink.
func WithWriteTimeout(d time.Duration) Option {
	return func(s *Sink) { s.writeTimeout = d }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Sink) { s.logger = logger }
}

// NewSink starts the delivery goroutine. Close must be called to stop it.
func NewSink(next ports.AnalyticsSink, opts ...Option) *Sink {
	s := &Sink{
		next:         next,
		events:       make(chan *domain.ClassificationEvent, defaultBufferSize),
		writeTimeout: defaultWriteTimeout,
		logger:       slog.Default(),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	go s.run()
	return s
}

// Record enqueues the event and returns immediately.
func (s *Sink) Record(_ context.Context, event *domain.ClassificationEvent) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		s.dropped.Add(1)
		return nil
	}

	select {
	case s.events <- event:
	default:
		if n := s.dropped.Add(1); n == 1 || n%100 == 0 {
			s.logger.Warn("analytics buffer full, dropping events", slog.Int64("dropped", n))
		}
	}
	return nil
}

// Dropped reports how many events were discarded.
func (s *Sink) Dropped() int64 {
	return s.dropped.Load()
}

func (s *Sink) run() {
	defer close(s.done)
	for ev := range s.events {
		ctx, cancel := context.WithTimeout(context.Background(), s.writeTimeout)
		if err := s.next.Record(ctx, ev); err != nil {
			s.logger.Warn("analytics record failed",
				slog.String("event_id", ev.ID),
				slog.String("error", err.Error()))
		}
		cancel()
	}
}

// Close delivers the queued events, stops the goroutine and closes the
// wrapped sink.
func (s *Sink) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.events)
		s.mu.Unlock()

		<-s.done
		err = s.next.Close()
	})
	return err
}
