package ports

import (
	"context"
	"time"

	"github.com/tjfontaine/polyglot-media-router/internal/core/domain"
)

// ReferenceStore resolves user-named reference tags to asset URIs.
type ReferenceStore interface {
	// Lookup returns domain.ErrReferenceNotFound when the user has no asset
	// under tag.
	Lookup(ctx context.Context, userID, tag string) (*domain.ReferenceAsset, error)

	// Put creates or replaces the asset stored under tag.
	Put(ctx context.Context, userID string, asset *domain.ReferenceAsset) error
}

// EventStore persists classification events.
type EventStore interface {
	SaveEvent(ctx context.Context, event *domain.ClassificationEvent) error

	// ListEvents returns the newest events first. An empty userID lists all users.
	ListEvents(ctx context.Context, userID string, limit int) ([]*domain.ClassificationEvent, error)

	// PruneEvents deletes events created before cutoff and reports how many
	// rows were removed.
	PruneEvents(ctx context.Context, cutoff time.Time) (int64, error)
}

// StorageProvider manages all storage operations.
// Implementations: SQLite (default), PostgreSQL.
type StorageProvider interface {
	ReferenceStore
	EventStore

	Close() error
}

// CacheBackend is a TTL key/value store.
// Implementations: memory (LRU), redis.
type CacheBackend interface {
	// Get returns domain.ErrCacheMiss for absent or expired keys. Any other
	// error means the backend is unreachable.
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}
