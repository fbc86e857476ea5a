package classifier

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tjfontaine/polyglot-media-router/internal/adapters/cache/memory"
	"github.com/tjfontaine/polyglot-media-router/internal/breaker"
	"github.com/tjfontaine/polyglot-media-router/internal/cache"
	"github.com/tjfontaine/polyglot-media-router/internal/core/domain"
	"github.com/tjfontaine/polyglot-media-router/internal/core/ports"
	"github.com/tjfontaine/polyglot-media-router/internal/ratelimit"
	"github.com/tjfontaine/polyglot-media-router/internal/tokens"
)

type fakeClassifier struct {
	reply string
	err   error
	// block, when set, holds every call until it is closed or ctx ends.
	block chan struct{}
	calls atomic.Int32
}

func (f *fakeClassifier) Name() string  { return "fake" }
func (f *fakeClassifier) Model() string { return "fake-model" }

func (f *fakeClassifier) Complete(ctx context.Context, _ string) (*ports.Completion, error) {
	f.calls.Add(1)
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &ports.Completion{Text: f.reply, Model: "fake-model", PromptTokens: 100, CompletionTokens: 20}, nil
}

type recordingSink struct {
	mu     sync.Mutex
	events []*domain.ClassificationEvent
	err    error
}

func (s *recordingSink) Record(_ context.Context, ev *domain.ClassificationEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return s.err
}

func (s *recordingSink) Close() error { return nil }

func (s *recordingSink) methods() []domain.Method {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Method, len(s.events))
	for i, ev := range s.events {
		out[i] = ev.Method
	}
	return out
}

const newImageReply = `{"type":"NEW_IMAGE","enhanced_prompt":"a glossy red bicycle, studio lighting","reasoning":"no signals set"}`

func newCache(t *testing.T) *cache.Layer {
	t.Helper()
	backend, err := memory.New(64)
	require.NoError(t, err)
	return cache.New(backend, time.Hour, nil)
}

func newEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	e, err := New(Config{Timeout: 2 * time.Second}, opts...)
	require.NoError(t, err)
	return e
}

var bicycle = Input{Prompt: "a red bicycle", UserID: "u1"}

func TestNew_RequiresTimeout(t *testing.T) {
	_, err := New(Config{})
	var cfgErr *domain.ConfigError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestClassify_CachedResultIsIdempotent(t *testing.T) {
	fc := &fakeClassifier{reply: newImageReply}
	sink := &recordingSink{}
	e := newEngine(t, WithClassifier(fc), WithCache(newCache(t)), WithSink(sink))
	ctx := context.Background()

	first := e.Classify(ctx, bicycle)
	second := e.Classify(ctx, bicycle)

	assert.False(t, first.CacheHit)
	assert.True(t, second.CacheHit)
	assert.False(t, first.UsedFallback)
	assert.Equal(t, domain.WorkflowNewImage, first.WorkflowType)
	assert.Equal(t, "a glossy red bicycle, studio lighting", first.EnhancedPrompt)
	assert.Equal(t, "a red bicycle", first.OriginalPrompt)

	a, b := *first, *second
	a.CacheHit, b.CacheHit = false, false
	a.ProcessingTimeMs, b.ProcessingTimeMs = 0, 0
	assert.Equal(t, a, b)

	assert.Equal(t, int32(1), fc.calls.Load())
	assert.Equal(t, []domain.Method{domain.MethodLLM, domain.MethodCache}, sink.methods())
}

func TestClassify_BogusTypeFallsBack(t *testing.T) {
	fc := &fakeClassifier{reply: `{"type":"BOGUS","enhanced_prompt":"whatever","reasoning":"?"}`}
	e := newEngine(t, WithClassifier(fc), WithCache(newCache(t)))
	ctx := context.Background()

	res := e.Classify(ctx, bicycle)
	assert.True(t, res.UsedFallback)
	assert.Equal(t, domain.MethodFallback, res.Method)
	assert.Equal(t, domain.WorkflowNewImage, res.WorkflowType)
	assert.Equal(t, "a red bicycle", res.EnhancedPrompt)
	assert.Contains(t, res.Reasoning, "BOGUS")

	// Fallback results are not cached.
	res = e.Classify(ctx, bicycle)
	assert.False(t, res.CacheHit)
	assert.Equal(t, int32(2), fc.calls.Load())
}

func TestClassify_IncompatibleVerdictFallsBack(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		in    Input
		want  domain.WorkflowType
	}{
		{
			name:  "edit without active image",
			reply: `{"type":"EDIT_IMAGE","enhanced_prompt":"x"}`,
			in:    bicycle,
			want:  domain.WorkflowNewImage,
		},
		{
			name:  "new image while an image is active",
			reply: `{"type":"NEW_IMAGE","enhanced_prompt":"x"}`,
			in:    Input{Prompt: "add a hat", Signals: domain.SignalVector{ActiveImage: true}, UserID: "u1"},
			want:  domain.WorkflowEditImage,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEngine(t, WithClassifier(&fakeClassifier{reply: tt.reply}))
			res := e.Classify(context.Background(), tt.in)
			assert.True(t, res.UsedFallback)
			assert.Equal(t, tt.want, res.WorkflowType)
		})
	}
}

func TestClassify_AddWithoutReferenceIsEditImage(t *testing.T) {
	fc := &fakeClassifier{reply: `{"type":"EDIT_IMAGE_ADD_NEW","enhanced_prompt":"add a hat"}`}
	e := newEngine(t, WithClassifier(fc))

	res := e.Classify(context.Background(), Input{Prompt: "add a hat", Signals: domain.SignalVector{ActiveImage: true}, UserID: "u1"})
	assert.True(t, res.UsedFallback)
	assert.Equal(t, domain.WorkflowEditImage, res.WorkflowType)
}

func TestClassify_UploadsCountAsReferences(t *testing.T) {
	fc := &fakeClassifier{reply: `{"type":"EDIT_IMAGE_REF","enhanced_prompt":"blend @reference_1 and @reference_2 into @working_image"}`}
	e := newEngine(t, WithClassifier(fc))

	res := e.Classify(context.Background(), Input{
		Prompt:  "combine the style of both",
		Signals: domain.SignalVector{ActiveImage: true, UploadedImage: true},
		UserID:  "u1",
		Uploads: []string{"a.png", "b.png"},
	})
	assert.False(t, res.UsedFallback)
	assert.Equal(t, domain.WorkflowEditImageRef, res.WorkflowType)
}

func TestClassify_PromptMentionWithoutSignalIsNotAReference(t *testing.T) {
	fc := &fakeClassifier{reply: `{"type":"NEW_IMAGE_REF","enhanced_prompt":"@bob on a beach"}`}
	e := newEngine(t, WithClassifier(fc))

	res := e.Classify(context.Background(), Input{Prompt: "@bob on a beach", UserID: "u1"})
	assert.True(t, res.UsedFallback)
	assert.Equal(t, domain.WorkflowNewImage, res.WorkflowType)
	assert.Contains(t, res.Reasoning, "NEW_IMAGE_REF")
}

func TestClassify_EmptyEnhancedPromptUsesOriginal(t *testing.T) {
	fc := &fakeClassifier{reply: "```json\n{\"type\":\"NEW_IMAGE\",\"enhanced_prompt\":\"\"}\n```"}
	e := newEngine(t, WithClassifier(fc))

	res := e.Classify(context.Background(), bicycle)
	assert.False(t, res.UsedFallback)
	assert.Equal(t, "a red bicycle", res.EnhancedPrompt)
	assert.NotEmpty(t, res.Reasoning)
}

func TestClassify_DependencyErrorFallsBack(t *testing.T) {
	sink := &recordingSink{err: errors.New("sink down")}
	fc := &fakeClassifier{err: errors.New("503 service unavailable")}
	e := newEngine(t, WithClassifier(fc), WithSink(sink))

	res := e.Classify(context.Background(), Input{Prompt: "animate this", Signals: domain.SignalVector{ActiveImage: true}, UserID: "u1"})
	assert.True(t, res.UsedFallback)
	assert.Equal(t, domain.WorkflowImageToVideo, res.WorkflowType)
	assert.Contains(t, res.Reasoning, "503")
	assert.Len(t, sink.methods(), 1, "a failing sink must not fail the call")
}

func TestClassify_MalformedReplyTripsBreaker(t *testing.T) {
	b, err := breaker.New("classifier", breaker.Config{FailureThreshold: 2, SuccessThreshold: 1, OpenTimeout: time.Minute})
	require.NoError(t, err)
	fc := &fakeClassifier{reply: "this is not json"}
	sink := &recordingSink{}
	e := newEngine(t, WithClassifier(fc), WithBreaker(b), WithSink(sink))
	ctx := context.Background()

	e.Classify(ctx, bicycle)
	e.Classify(ctx, bicycle)
	assert.Equal(t, breaker.Open, b.State())

	res := e.Classify(ctx, bicycle)
	assert.True(t, res.UsedFallback)
	assert.Contains(t, res.Reasoning, "circuit")
	assert.Equal(t, int32(2), fc.calls.Load(), "open circuit must not reach the dependency")

	sink.mu.Lock()
	last := sink.events[len(sink.events)-1]
	sink.mu.Unlock()
	assert.Equal(t, "open", last.CircuitState)
}

func TestClassify_UnknownTypeDoesNotTripBreaker(t *testing.T) {
	b, err := breaker.New("classifier", breaker.Config{FailureThreshold: 1, SuccessThreshold: 1, OpenTimeout: time.Minute})
	require.NoError(t, err)
	e := newEngine(t, WithClassifier(&fakeClassifier{reply: `{"type":"BOGUS"}`}), WithBreaker(b))

	res := e.Classify(context.Background(), bicycle)
	assert.True(t, res.UsedFallback)
	assert.Equal(t, breaker.Closed, b.State())
}

func TestClassify_RateLimited(t *testing.T) {
	limiter, err := ratelimit.New(ratelimit.Config{RequestsPerMinute: 1})
	require.NoError(t, err)
	fc := &fakeClassifier{reply: newImageReply}
	e := newEngine(t, WithClassifier(fc), WithPolicy(limiter), WithCache(newCache(t)))
	ctx := context.Background()

	first := e.Classify(ctx, bicycle)
	assert.False(t, first.UsedFallback)

	second := e.Classify(ctx, bicycle)
	assert.Equal(t, domain.ReasonRateLimited, second.Reasoning)
	assert.Equal(t, domain.MethodRateLimited, second.Method)
	assert.True(t, second.UsedFallback)
	assert.False(t, second.CacheHit)
	assert.Equal(t, domain.WorkflowNewImage, second.WorkflowType)
	assert.Equal(t, int32(1), fc.calls.Load())
}

func TestClassify_CostReservationTrueUp(t *testing.T) {
	limiter, err := ratelimit.New(ratelimit.Config{CostPerHour: 100})
	require.NoError(t, err)
	estimator := tokens.NewCostEstimator(nil, "fake-model", tokens.Pricing{InputPer1K: 1, OutputPer1K: 2}, 500)
	e := newEngine(t,
		WithClassifier(&fakeClassifier{reply: newImageReply}),
		WithPolicy(limiter),
		WithCostEstimator(estimator),
		WithCache(newCache(t)))
	ctx := context.Background()

	e.Classify(ctx, bicycle)
	_, _, cost := limiter.Usage("u1")
	assert.InDelta(t, estimator.Cost(100, 20), cost, 1e-9, "reservation replaced by actual usage")

	e.Classify(ctx, bicycle)
	_, _, after := limiter.Usage("u1")
	assert.InDelta(t, cost, after, 1e-9, "cache hits are refunded")
}

func TestClassify_NoClassifierUsesFallback(t *testing.T) {
	e := newEngine(t)
	res := e.Classify(context.Background(), Input{Prompt: "change the sky", Signals: domain.SignalVector{ActiveVideo: true}, UserID: "u1"})
	assert.True(t, res.UsedFallback)
	assert.Equal(t, domain.WorkflowVideoEdit, res.WorkflowType)
}

func TestClassify_TimeoutFallsBack(t *testing.T) {
	fc := &fakeClassifier{reply: newImageReply, block: make(chan struct{})}
	defer close(fc.block)
	e, err := New(Config{Timeout: 50 * time.Millisecond}, WithClassifier(fc))
	require.NoError(t, err)

	res := e.Classify(context.Background(), bicycle)
	assert.True(t, res.UsedFallback)
	assert.Contains(t, res.Reasoning, context.DeadlineExceeded.Error())
}

func TestClassify_ConcurrentIdenticalRequestsShareOneCall(t *testing.T) {
	fc := &fakeClassifier{reply: newImageReply, block: make(chan struct{})}
	e := newEngine(t, WithClassifier(fc), WithCache(newCache(t)))

	const callers = 10
	results := make([]*domain.ClassificationResult, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = e.Classify(context.Background(), bicycle)
		}()
	}

	require.Eventually(t, func() bool { return fc.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(fc.block)
	wg.Wait()

	assert.Equal(t, int32(1), fc.calls.Load())
	for _, r := range results {
		assert.Equal(t, domain.WorkflowNewImage, r.WorkflowType)
		assert.False(t, r.UsedFallback)
	}
}

func TestClassify_AbandonedCallerStillPopulatesCache(t *testing.T) {
	fc := &fakeClassifier{reply: newImageReply, block: make(chan struct{})}
	e := newEngine(t, WithClassifier(fc), WithCache(newCache(t)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan *domain.ClassificationResult)
	go func() { done <- e.Classify(ctx, bicycle) }()

	require.Eventually(t, func() bool { return fc.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	abandoned := <-done
	assert.True(t, abandoned.UsedFallback)
	assert.True(t, strings.Contains(abandoned.Reasoning, "caller gave up"))

	close(fc.block)
	require.Eventually(t, func() bool {
		return e.Classify(context.Background(), bicycle).CacheHit
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(1), fc.calls.Load())
}

func TestClassify_AbandonedWaiterIsRefunded(t *testing.T) {
	fc := &fakeClassifier{reply: newImageReply, block: make(chan struct{})}
	limiter, err := ratelimit.New(ratelimit.Config{CostPerHour: 100})
	require.NoError(t, err)
	estimator := tokens.NewCostEstimator(nil, "fake-model", tokens.Pricing{InputPer1K: 1, OutputPer1K: 2}, 500)
	e := newEngine(t,
		WithClassifier(fc),
		WithPolicy(limiter),
		WithCostEstimator(estimator),
		WithCache(newCache(t)))

	leader := make(chan *domain.ClassificationResult)
	go func() { leader <- e.Classify(context.Background(), bicycle) }()
	require.Eventually(t, func() bool { return fc.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	waiter := make(chan *domain.ClassificationResult)
	go func() { waiter <- e.Classify(ctx, bicycle) }()
	require.Eventually(t, func() bool {
		minute, _, _ := limiter.Usage("u1")
		return minute == 2
	}, time.Second, 5*time.Millisecond)
	cancel()
	assert.True(t, (<-waiter).UsedFallback)

	close(fc.block)
	assert.False(t, (<-leader).UsedFallback)
	assert.Equal(t, int32(1), fc.calls.Load())

	// Only the leader's call is charged, at its actual cost.
	require.Eventually(t, func() bool {
		_, _, cost := limiter.Usage("u1")
		return math.Abs(cost-estimator.Cost(100, 20)) < 1e-9
	}, time.Second, 5*time.Millisecond)
}

func TestInvalidate(t *testing.T) {
	fc := &fakeClassifier{reply: newImageReply}
	e := newEngine(t, WithClassifier(fc), WithCache(newCache(t)))
	ctx := context.Background()

	e.Classify(ctx, bicycle)
	e.Invalidate(ctx, bicycle.Prompt, bicycle.Signals, bicycle.UserID)
	res := e.Classify(ctx, bicycle)

	assert.False(t, res.CacheHit)
	assert.Equal(t, int32(2), fc.calls.Load())
}
