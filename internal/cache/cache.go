// Package cache is the best-effort result cache in front of the
// classification dependency. Backend failures are logged and read as misses.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/tjfontaine/polyglot-media-router/internal/core/domain"
	"github.com/tjfontaine/polyglot-media-router/internal/core/ports"
)

const (
	classificationPrefix = "cls:v1:"
	templatePrefix       = "tpl:v1:"
)

// Layer wraps a CacheBackend with key derivation, typed entries and
// always-miss degradation. A nil backend disables caching.
type Layer struct {
	backend ports.CacheBackend
	ttl     time.Duration
	logger  *slog.Logger
}

// New creates a cache layer. ttl is the default entry lifetime.
func New(backend ports.CacheBackend, ttl time.Duration, logger *slog.Logger) *Layer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Layer{backend: backend, ttl: ttl, logger: logger}
}

// Enabled reports whether a backend is configured.
func (l *Layer) Enabled() bool {
	return l != nil && l.backend != nil
}

// TTL returns the default entry lifetime.
func (l *Layer) TTL() time.Duration {
	return l.ttl
}

// NormalizePrompt lowercases the prompt and collapses whitespace so trivially
// different spellings share a key.
func NormalizePrompt(prompt string) string {
	return strings.Join(strings.Fields(strings.ToLower(prompt)), " ")
}

// Key derives the classification key for (prompt, signals, user).
func Key(prompt string, signals domain.SignalVector, userID string) string {
	h := sha256.New()
	h.Write([]byte(NormalizePrompt(prompt)))
	h.Write([]byte{0})
	h.Write([]byte(signals.Bits()))
	h.Write([]byte{0})
	h.Write([]byte(userID))
	return classificationPrefix + hex.EncodeToString(h.Sum(nil))
}

// TemplateKey derives the key of a parameter template.
func TemplateKey(workflow domain.WorkflowType, providerID, modelID string) string {
	return templatePrefix + string(workflow) + ":" + providerID + ":" + modelID
}

// Get returns the raw value stored under key. Misses and backend failures
// both report false.
func (l *Layer) Get(ctx context.Context, key string) ([]byte, bool) {
	if !l.Enabled() {
		return nil, false
	}
	v, err := l.backend.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, domain.ErrCacheMiss) {
			l.unavailable("get", key, err)
		}
		return nil, false
	}
	return v, true
}

// Set stores value under key. A non-positive ttl uses the layer default.
func (l *Layer) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if !l.Enabled() {
		return
	}
	if ttl <= 0 {
		ttl = l.ttl
	}
	if err := l.backend.Set(ctx, key, value, ttl); err != nil {
		l.unavailable("set", key, err)
	}
}

// Delete removes key.
func (l *Layer) Delete(ctx context.Context, key string) {
	if !l.Enabled() {
		return
	}
	if err := l.backend.Delete(ctx, key); err != nil {
		l.unavailable("delete", key, err)
	}
}

// GetClassification returns a cached classification result.
func (l *Layer) GetClassification(ctx context.Context, key string) (*domain.ClassificationResult, bool) {
	raw, ok := l.Get(ctx, key)
	if !ok {
		return nil, false
	}
	var res domain.ClassificationResult
	if err := json.Unmarshal(raw, &res); err != nil || !res.WorkflowType.Valid() {
		// A corrupt or stale-format entry is dropped rather than served.
		l.logger.Warn("discarding undecodable cache entry", slog.String("key", key))
		l.Delete(ctx, key)
		return nil, false
	}
	return &res, true
}

// SetClassification stores a classification result with the default TTL.
func (l *Layer) SetClassification(ctx context.Context, key string, res *domain.ClassificationResult) {
	if !l.Enabled() {
		return
	}
	raw, err := json.Marshal(res)
	if err != nil {
		l.logger.Error("encode classification for cache", slog.String("error", err.Error()))
		return
	}
	l.Set(ctx, key, raw, 0)
}

// GetTemplate returns a cached parameter template.
func (l *Layer) GetTemplate(ctx context.Context, key string) (map[string]any, bool) {
	raw, ok := l.Get(ctx, key)
	if !ok {
		return nil, false
	}
	var tpl map[string]any
	if err := json.Unmarshal(raw, &tpl); err != nil {
		l.Delete(ctx, key)
		return nil, false
	}
	return tpl, true
}

// SetTemplate stores a parameter template with the default TTL.
func (l *Layer) SetTemplate(ctx context.Context, key string, tpl map[string]any) {
	if !l.Enabled() {
		return
	}
	raw, err := json.Marshal(tpl)
	if err != nil {
		l.logger.Error("encode template for cache", slog.String("error", err.Error()))
		return
	}
	l.Set(ctx, key, raw, 0)
}

// Close releases the backend.
func (l *Layer) Close() error {
	if !l.Enabled() {
		return nil
	}
	return l.backend.Close()
}

func (l *Layer) unavailable(op, key string, err error) {
	cerr := &domain.CacheUnavailableError{Op: op, Err: err}
	l.logger.Warn("cache unavailable, continuing uncached",
		slog.String("key", key),
		slog.String("error", cerr.Error()))
}
