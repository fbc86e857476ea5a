// Package multi fans analytics events out to several sinks.
package multi

import (
	"context"
	"errors"

	"github.com/tjfontaine/polyglot-media-router/internal/core/domain"
	"github.com/tjfontaine/polyglot-media-router/internal/core/ports"
)

// Sink records every event on each wrapped sink in order.
type Sink struct {
	sinks []ports.AnalyticsSink
}

var _ ports.AnalyticsSink = (*Sink)(nil)

// NewSink skips nil sinks.
func NewSink(sinks ...ports.AnalyticsSink) *Sink {
	s := &Sink{}
	for _, sink := range sinks {
		if sink != nil {
			s.sinks = append(s.sinks, sink)
		}
	}
	return s
}

// Record delivers to all sinks even when one fails and joins the errors.
func (s *Sink) Record(ctx context.Context, event *domain.ClassificationEvent) error {
	var errs []error
	for _, sink := range s.sinks {
		if err := sink.Record(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes all sinks.
func (s *Sink) Close() error {
	var errs []error
	for _, sink := range s.sinks {
		if err := sink.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
