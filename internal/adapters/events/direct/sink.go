// Package direct provides an analytics sink that writes events straight to
// the event store.
package direct

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/tjfontaine/polyglot-media-router/internal/core/domain"
	"github.com/tjfontaine/polyglot-media-router/internal/core/ports"
)

// Sink implements ports.AnalyticsSink by persisting each event.
// This is the default implementation for single-instance deployments.
type Sink struct {
	store ports.EventStore
}

var _ ports.AnalyticsSink = (*Sink)(nil)

// NewSink creates a new direct sink.
func NewSink(store ports.EventStore) (*Sink, error) {
	if store == nil {
		return nil, fmt.Errorf("event store required")
	}
	return &Sink{store: store}, nil
}

// Record writes the event. Events without an id get one.
func (s *Sink) Record(ctx context.Context, event *domain.ClassificationEvent) error {
	if event.ID == "" {
		event.ID = "evt_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	}
	return s.store.SaveEvent(ctx, event)
}

// Close is a no-op; the store is owned by the caller.
func (s *Sink) Close() error {
	return nil
}
