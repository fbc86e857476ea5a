// Package metrics exports classification events as Prometheus metrics.
package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/tjfontaine/polyglot-media-router/internal/core/domain"
	"github.com/tjfontaine/polyglot-media-router/internal/core/ports"
)

// Sink holds the classification metrics.
type Sink struct {
	ClassificationsTotal *prometheus.CounterVec
	LatencySeconds       *prometheus.HistogramVec
	CacheHitsTotal       prometheus.Counter
	FallbacksTotal       *prometheus.CounterVec
	EstimatedCostTotal   prometheus.Counter
	CircuitOpen          prometheus.Gauge
}

var _ ports.AnalyticsSink = (*Sink)(nil)

// NewSink registers the metrics with reg. Pass prometheus.DefaultRegisterer
// to expose them on the default /metrics handler.
func NewSink(reg prometheus.Registerer) *Sink {
	factory := promauto.With(reg)

	return &Sink{
		ClassificationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "media_router_classifications_total",
				Help: "Classifications by workflow and method",
			},
			[]string{"workflow", "method"},
		),
		LatencySeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "media_router_classification_latency_seconds",
				Help:    "End-to-end classification latency",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"method"},
		),
		CacheHitsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "media_router_cache_hits_total",
				Help: "Classifications served from cache",
			},
		),
		FallbacksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "media_router_fallbacks_total",
				Help: "Classifications produced by the fallback rules",
			},
			[]string{"circuit_state"},
		),
		EstimatedCostTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "media_router_estimated_cost_total",
				Help: "Estimated classification spend in USD",
			},
		),
		CircuitOpen: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "media_router_circuit_open",
				Help: "1 while the classification circuit is not closed",
			},
		),
	}
}

// Record updates the metrics for one event. It never fails.
func (s *Sink) Record(_ context.Context, event *domain.ClassificationEvent) error {
	s.ClassificationsTotal.WithLabelValues(string(event.WorkflowType), string(event.Method)).Inc()
	s.LatencySeconds.WithLabelValues(string(event.Method)).Observe(float64(event.LatencyMs) / 1000)
	if event.CacheHit {
		s.CacheHitsTotal.Inc()
	}
	if event.UsedFallback {
		s.FallbacksTotal.WithLabelValues(event.CircuitState).Inc()
	}
	if event.EstimatedCost > 0 {
		s.EstimatedCostTotal.Add(event.EstimatedCost)
	}
	switch event.CircuitState {
	case "":
	case "closed":
		s.CircuitOpen.Set(0)
	default:
		s.CircuitOpen.Set(1)
	}
	return nil
}

// Close is a no-op.
func (s *Sink) Close() error {
	return nil
}
