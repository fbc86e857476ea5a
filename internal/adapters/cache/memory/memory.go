// Package memory provides an in-process CacheBackend on a size-bounded LRU.
package memory

import (
	"context"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/tjfontaine/polyglot-media-router/internal/core/domain"
)

type entry struct {
	value   []byte
	expires time.Time
}

// Backend is a TTL cache bounded to a fixed number of entries. Expired
// entries are dropped lazily on read or evicted by LRU pressure.
type Backend struct {
	entries *lru.Cache[string, entry]
	now     func() time.Time
}

// Option configures a Backend.
type Option func(*Backend)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(b *Backend) {
		b.now = now
	}
}

// New creates a memory backend holding at most size entries.
func New(size int, opts ...Option) (*Backend, error) {
	entries, err := lru.New[string, entry](size)
	if err != nil {
		return nil, fmt.Errorf("create lru: %w", err)
	}
	b := &Backend{entries: entries, now: time.Now}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

func (b *Backend) Get(_ context.Context, key string) ([]byte, error) {
	e, ok := b.entries.Get(key)
	if !ok {
		return nil, domain.ErrCacheMiss
	}
	if !e.expires.IsZero() && !b.now().Before(e.expires) {
		b.entries.Remove(key)
		return nil, domain.ErrCacheMiss
	}
	return e.value, nil
}

func (b *Backend) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	e := entry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expires = b.now().Add(ttl)
	}
	b.entries.Add(key, e)
	return nil
}

func (b *Backend) Delete(_ context.Context, key string) error {
	b.entries.Remove(key)
	return nil
}

// Len reports the number of stored entries, including expired ones not yet
// dropped.
func (b *Backend) Len() int {
	return b.entries.Len()
}

func (b *Backend) Close() error {
	b.entries.Purge()
	return nil
}
