// Package memory provides an in-process StorageProvider. Nothing survives a
// restart; it suits tests and single-process development.
package memory

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tjfontaine/polyglot-media-router/internal/core/domain"
	"github.com/tjfontaine/polyglot-media-router/internal/core/ports"
)

type referenceKey struct {
	userID string
	tag    string
}

// Store keeps references and events in maps guarded by one RWMutex.
type Store struct {
	mu         sync.RWMutex
	references map[referenceKey]*domain.ReferenceAsset
	events     []*domain.ClassificationEvent
	eventIDs   map[string]struct{}
	now        func() time.Time
}

var _ ports.StorageProvider = (*Store)(nil)

// New creates a new in-memory store
func New() *Store {
	return &Store{
		references: make(map[referenceKey]*domain.ReferenceAsset),
		eventIDs:   make(map[string]struct{}),
		now:        time.Now,
	}
}

func normalizeTag(tag string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(tag), "@"))
}

func (s *Store) Lookup(_ context.Context, userID, tag string) (*domain.ReferenceAsset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	asset, ok := s.references[referenceKey{userID, normalizeTag(tag)}]
	if !ok {
		return nil, domain.ErrReferenceNotFound
	}
	cp := *asset
	return &cp, nil
}

func (s *Store) Put(_ context.Context, userID string, asset *domain.ReferenceAsset) error {
	tag := normalizeTag(asset.Tag)
	switch {
	case userID == "":
		return errors.New("user id is required")
	case tag == "":
		return errors.New("reference tag is required")
	case domain.IsReservedTag(tag):
		return fmt.Errorf("tag @%s is reserved", tag)
	case asset.URI == "":
		return errors.New("reference uri is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.references[referenceKey{userID, tag}] = &domain.ReferenceAsset{Tag: tag, URI: asset.URI}
	return nil
}

// ListReferences returns the user's references sorted by tag.
func (s *Store) ListReferences(_ context.Context, userID string) ([]*domain.ReferenceAsset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.ReferenceAsset
	for key, asset := range s.references {
		if key.userID != userID {
			continue
		}
		cp := *asset
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Tag < result[j].Tag })
	return result, nil
}

func (s *Store) DeleteReference(_ context.Context, userID, tag string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := referenceKey{userID, normalizeTag(tag)}
	if _, exists := s.references[key]; !exists {
		return domain.ErrReferenceNotFound
	}
	delete(s.references, key)
	return nil
}

// SaveEvent appends the event. A repeated ID is ignored.
func (s *Store) SaveEvent(_ context.Context, ev *domain.ClassificationEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *ev
	if cp.ID == "" {
		cp.ID = "evt_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	}
	if _, dup := s.eventIDs[cp.ID]; dup {
		return nil
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = s.now()
	}
	cp.CreatedAt = cp.CreatedAt.UTC()

	s.eventIDs[cp.ID] = struct{}{}
	s.events = append(s.events, &cp)
	return nil
}

func (s *Store) ListEvents(_ context.Context, userID string, limit int) ([]*domain.ClassificationEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.ClassificationEvent
	for _, ev := range s.events {
		if userID != "" && ev.UserID != userID {
			continue
		}
		cp := *ev
		result = append(result, &cp)
	}
	slices.SortStableFunc(result, func(a, b *domain.ClassificationEvent) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) PruneEvents(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.events[:0]
	var removed int64
	for _, ev := range s.events {
		if ev.CreatedAt.Before(cutoff) {
			delete(s.eventIDs, ev.ID)
			removed++
			continue
		}
		kept = append(kept, ev)
	}
	clear(s.events[len(kept):])
	s.events = kept
	return removed, nil
}

func (s *Store) Close() error {
	return nil
}
