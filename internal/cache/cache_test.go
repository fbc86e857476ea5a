package cache

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tjfontaine/polyglot-media-router/internal/adapters/cache/memory"
	"github.com/tjfontaine/polyglot-media-router/internal/core/domain"
)

type brokenBackend struct{}

var errDown = errors.New("connection refused")

func (brokenBackend) Get(context.Context, string) ([]byte, error)              { return nil, errDown }
func (brokenBackend) Set(context.Context, string, []byte, time.Duration) error { return errDown }
func (brokenBackend) Delete(context.Context, string) error                     { return errDown }
func (brokenBackend) Close() error                                             { return nil }

func TestKey(t *testing.T) {
	s := domain.SignalVector{ActiveImage: true}

	k1 := Key("Add a  HAT", s, "u1")
	k2 := Key("  add a hat ", s, "u1")
	assert.Equal(t, k1, k2, "normalization should make keys equal")
	assert.True(t, strings.HasPrefix(k1, "cls:v1:"))

	assert.NotEqual(t, k1, Key("add a hat", s, "u2"), "user is part of the key")
	assert.NotEqual(t, k1, Key("add a hat", domain.SignalVector{}, "u1"), "signals are part of the key")
}

func TestLayer_ClassificationRoundTrip(t *testing.T) {
	backend, err := memory.New(16)
	require.NoError(t, err)
	l := New(backend, time.Hour, nil)
	ctx := context.Background()

	key := Key("a red bicycle", domain.SignalVector{}, "u1")
	_, ok := l.GetClassification(ctx, key)
	assert.False(t, ok)

	want := &domain.ClassificationResult{
		WorkflowType:   domain.WorkflowNewImage,
		EnhancedPrompt: "a red bicycle, studio lighting",
		OriginalPrompt: "a red bicycle",
		Reasoning:      "no signals",
		Method:         domain.MethodLLM,
	}
	l.SetClassification(ctx, key, want)

	got, ok := l.GetClassification(ctx, key)
	require.True(t, ok)
	assert.Equal(t, want, got)

	l.Delete(ctx, key)
	_, ok = l.GetClassification(ctx, key)
	assert.False(t, ok)
}

func TestLayer_DiscardsCorruptEntry(t *testing.T) {
	backend, err := memory.New(4)
	require.NoError(t, err)
	l := New(backend, time.Hour, nil)
	ctx := context.Background()

	l.Set(ctx, "cls:v1:x", []byte(`{"workflow_type":"BOGUS"}`), 0)
	_, ok := l.GetClassification(ctx, "cls:v1:x")
	assert.False(t, ok)
	assert.Equal(t, 0, backend.Len())
}

func TestLayer_Templates(t *testing.T) {
	backend, err := memory.New(4)
	require.NoError(t, err)
	l := New(backend, time.Hour, nil)
	ctx := context.Background()

	key := TemplateKey(domain.WorkflowNewVideo, "kling", "kling-v2.1-master")
	assert.Equal(t, "tpl:v1:NEW_VIDEO:kling:kling-v2.1-master", key)

	l.SetTemplate(ctx, key, map[string]any{"duration": 5, "aspect_ratio": "16:9"})
	tpl, ok := l.GetTemplate(ctx, key)
	require.True(t, ok)
	assert.Equal(t, float64(5), tpl["duration"])
	assert.Equal(t, "16:9", tpl["aspect_ratio"])
}

func TestLayer_DegradesToMiss(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))
	l := New(brokenBackend{}, time.Hour, logger)
	ctx := context.Background()

	l.SetClassification(ctx, "k", &domain.ClassificationResult{WorkflowType: domain.WorkflowNewImage})
	_, ok := l.GetClassification(ctx, "k")
	assert.False(t, ok)
	l.Delete(ctx, "k")

	assert.Contains(t, logs.String(), "cache unavailable")
	assert.Contains(t, logs.String(), "connection refused")
}

func TestLayer_NilBackend(t *testing.T) {
	l := New(nil, time.Hour, nil)
	ctx := context.Background()

	assert.False(t, l.Enabled())
	l.SetClassification(ctx, "k", &domain.ClassificationResult{WorkflowType: domain.WorkflowNewImage})
	_, ok := l.GetClassification(ctx, "k")
	assert.False(t, ok)
	assert.NoError(t, l.Close())
}
