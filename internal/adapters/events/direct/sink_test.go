package direct

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/tjfontaine/polyglot-media-router/internal/core/domain"
	"github.com/tjfontaine/polyglot-media-router/internal/storage/sqldb"
)

func TestNewSink_NilStore(t *testing.T) {
	_, err := NewSink(nil)
	if err == nil {
		t.Fatal("Expected error for nil store")
	}
	if err.Error() != "event store required" {
		t.Errorf("Unexpected error: %v", err)
	}
}

func TestRecord(t *testing.T) {
	store, err := sqldb.NewSQLite(filepath.Join(t.TempDir(), "events.db"))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	defer store.Close()

	sink, err := NewSink(store)
	if err != nil {
		t.Fatalf("NewSink failed: %v", err)
	}
	ctx := context.Background()

	event := &domain.ClassificationEvent{
		UserID:       "u1",
		WorkflowType: domain.WorkflowNewImage,
		Method:       domain.MethodFallback,
		UsedFallback: true,
		CircuitState: "closed",
		CreatedAt:    time.Now(),
	}
	if err := sink.Record(ctx, event); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if event.ID == "" {
		t.Error("Record did not assign an id")
	}

	events, err := store.ListEvents(ctx, "u1", 10)
	if err != nil {
		t.Fatalf("ListEvents failed: %v", err)
	}
	if len(events) != 1 || events[0].ID != event.ID || !events[0].UsedFallback {
		t.Errorf("stored events = %+v", events)
	}

	if err := sink.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
}
