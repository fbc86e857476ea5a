// Package classifier is the classification and enhancement engine. It
// combines the rate limiter, the result cache, the breaker-guarded
// dependency call and the fallback rules into one call that always yields a
// valid workflow.
package classifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/tjfontaine/polyglot-media-router/internal/breaker"
	"github.com/tjfontaine/polyglot-media-router/internal/cache"
	"github.com/tjfontaine/polyglot-media-router/internal/core/domain"
	"github.com/tjfontaine/polyglot-media-router/internal/core/ports"
	"github.com/tjfontaine/polyglot-media-router/internal/fallback"
	"github.com/tjfontaine/polyglot-media-router/internal/references"
	"github.com/tjfontaine/polyglot-media-router/internal/tokens"
)

const tracerName = "github.com/tjfontaine/polyglot-media-router/internal/classifier"

// Input is one classification request.
type Input struct {
	Prompt  string
	Signals domain.SignalVector
	UserID  string
	// Uploads are uploaded reference image URIs; they count as references.
	Uploads []string
}

// Config holds the engine's tunables.
type Config struct {
	// Timeout bounds each dependency call.
	Timeout time.Duration
}

// Engine orchestrates one classification. It is safe for concurrent use.
type Engine struct {
	cfg        Config
	classifier ports.Classifier
	breaker    *breaker.Breaker
	policy     ports.QualityPolicy
	cache      *cache.Layer
	sink       ports.AnalyticsSink
	cost       *tokens.CostEstimator
	logger     *slog.Logger
	tracer     trace.Tracer
	now        func() time.Time

	calls singleflight.Group
}

// Option configures an Engine.
type Option func(*Engine)

// WithClassifier sets the classification dependency. Without one every
// request takes the fallback path.
func WithClassifier(c ports.Classifier) Option {
	return func(e *Engine) { e.classifier = c }
}

// WithBreaker guards the dependency with a circuit breaker.
func WithBreaker(b *breaker.Breaker) Option {
	return func(e *Engine) { e.breaker = b }
}

// WithPolicy sets the rate and cost policy.
func WithPolicy(p ports.QualityPolicy) Option {
	return func(e *Engine) { e.policy = p }
}

// WithCache sets the result cache.
func WithCache(c *cache.Layer) Option {
	return func(e *Engine) { e.cache = c }
}

// WithSink sets the analytics sink.
func WithSink(s ports.AnalyticsSink) Option {
	return func(e *Engine) { e.sink = s }
}

// WithCostEstimator sets the estimator used for cost reservations.
func WithCostEstimator(c *tokens.CostEstimator) Option {
	return func(e *Engine) { e.cost = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates an engine.
func New(cfg Config, opts ...Option) (*Engine, error) {
	if cfg.Timeout <= 0 {
		return nil, &domain.ConfigError{Field: "classifier.timeout", Reason: "must be positive"}
	}
	e := &Engine{
		cfg:    cfg,
		logger: slog.Default(),
		tracer: otel.Tracer(tracerName),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Breaker returns the breaker guarding the dependency, if any.
func (e *Engine) Breaker() *breaker.Breaker {
	return e.breaker
}

// outcome is the shared result of one dependency call.
type outcome struct {
	result  *domain.ClassificationResult
	invalid *domain.InvalidClassificationError
}

// Classify never fails: every error path ends in a fallback result.
func (e *Engine) Classify(ctx context.Context, in Input) *domain.ClassificationResult {
	start := e.now()
	ctx, span := e.tracer.Start(ctx, "classifier.Classify",
		trace.WithAttributes(
			attribute.String("signals", in.Signals.Bits()),
			attribute.String("user_id", in.UserID),
		))
	defer span.End()

	instruction := BuildInstruction(InstructionInput{
		Prompt:          in.Prompt,
		Signals:         in.Signals,
		TotalReferences: references.Count(in.Prompt, in.Uploads),
	})

	var estimated float64
	if e.cost != nil && e.classifier != nil {
		estimated = e.cost.Estimate(instruction)
	}

	ev := &domain.ClassificationEvent{
		ID:            uuid.NewString(),
		UserID:        in.UserID,
		EstimatedCost: estimated,
	}
	finish := func(res *domain.ClassificationResult, method domain.Method) *domain.ClassificationResult {
		res.ProcessingTimeMs = e.now().Sub(start).Milliseconds()
		span.SetAttributes(
			attribute.String("workflow_type", string(res.WorkflowType)),
			attribute.String("method", string(method)),
			attribute.Bool("cache_hit", res.CacheHit),
			attribute.Bool("used_fallback", res.UsedFallback),
		)
		ev.WorkflowType = res.WorkflowType
		ev.Method = method
		ev.CacheHit = res.CacheHit
		ev.UsedFallback = res.UsedFallback
		ev.Reasoning = res.Reasoning
		ev.LatencyMs = res.ProcessingTimeMs
		e.emit(ctx, ev)
		return res
	}

	if allowed := e.checkPolicy(ctx, in.UserID, estimated); !allowed {
		res := e.fallbackResult(in, nil)
		res.Reasoning = domain.ReasonRateLimited
		res.Method = domain.MethodRateLimited
		return finish(res, domain.MethodRateLimited)
	}

	key := cache.Key(in.Prompt, in.Signals, in.UserID)
	if cached, ok := e.cache.GetClassification(ctx, key); ok {
		e.logger.Debug("classification cache hit", slog.String("user_id", in.UserID))
		e.refund(ctx, in.UserID, estimated)
		cached.CacheHit = true
		return finish(cached, domain.MethodCache)
	}

	if e.classifier == nil {
		return finish(e.fallbackResult(in, errors.New("no classifier configured")), domain.MethodFallback)
	}

	out, err := e.callShared(ctx, key, in, instruction, estimated)
	switch {
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return finish(e.fallbackResult(in, err), domain.MethodFallback)
	case out.invalid != nil:
		return finish(e.fallbackResult(in, out.invalid), domain.MethodFallback)
	}

	res := *out.result
	return finish(&res, domain.MethodLLM)
}

// callShared deduplicates concurrent identical misses. The call itself runs
// detached from ctx so an abandoned caller still leaves a cached result.
func (e *Engine) callShared(ctx context.Context, key string, in Input, instruction string, estimated float64) (*outcome, error) {
	var led atomic.Bool
	ch := e.calls.DoChan(key, func() (any, error) {
		led.Store(true)
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.Timeout)
		defer cancel()
		return e.call(callCtx, key, in, instruction, estimated)
	})

	select {
	case r := <-ch:
		if !led.Load() {
			// Another request for the same key paid for this call.
			e.refund(ctx, in.UserID, estimated)
		}
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.(*outcome), nil
	case <-ctx.Done():
		// Leadership is only known once the shared call has finished.
		go func() {
			<-ch
			if !led.Load() {
				e.refund(context.WithoutCancel(ctx), in.UserID, estimated)
			}
		}()
		return nil, fmt.Errorf("caller gave up waiting: %w", ctx.Err())
	}
}

// call performs one breaker-guarded dependency call and caches a valid result.
func (e *Engine) call(ctx context.Context, key string, in Input, instruction string, estimated float64) (*outcome, error) {
	ctx, span := e.tracer.Start(ctx, "classifier.Complete",
		trace.WithAttributes(attribute.String("classifier", e.classifier.Name())))
	defer span.End()

	var (
		comp  *ports.Completion
		reply *Reply
	)
	do := func(ctx context.Context) error {
		var err error
		comp, err = e.classifier.Complete(ctx, instruction)
		if err != nil {
			return err
		}
		// Unparseable output counts against the breaker like a transport error.
		reply, err = ParseReply(comp.Text)
		return err
	}

	var err error
	if e.breaker != nil {
		err = e.breaker.Execute(ctx, do)
	} else {
		err = do(ctx)
	}

	if comp != nil {
		e.recordUsage(ctx, in.UserID, comp, estimated)
	} else {
		e.refund(ctx, in.UserID, estimated)
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if invalid := validate(reply.Verdict, in.Signals); invalid != nil {
		e.logger.Warn("discarding classification",
			slog.String("raw_type", invalid.Raw),
			slog.String("reason", invalid.Reason))
		return &outcome{invalid: invalid}, nil
	}

	enhanced := reply.EnhancedPrompt
	if enhanced == "" {
		enhanced = in.Prompt
	}
	reasoning := reply.Reasoning
	if reasoning == "" {
		reasoning = "classified by " + e.classifier.Name()
	}
	res := &domain.ClassificationResult{
		WorkflowType:   reply.Verdict.Workflow,
		EnhancedPrompt: enhanced,
		OriginalPrompt: in.Prompt,
		Reasoning:      reasoning,
		Method:         domain.MethodLLM,
	}
	e.cache.SetClassification(ctx, key, res)
	return &outcome{result: res}, nil
}

func (e *Engine) fallbackResult(in Input, cause error) *domain.ClassificationResult {
	d := fallback.Classify(fallback.Input{Prompt: in.Prompt, Signals: in.Signals})
	reasoning := d.Reasoning
	if cause != nil {
		reasoning += "; cause: " + cause.Error()
		level := slog.LevelWarn
		var open *domain.CircuitOpenError
		if errors.As(cause, &open) {
			level = slog.LevelDebug
		}
		e.logger.Log(context.Background(), level, "classification fell back",
			slog.String("rule", d.Rule),
			slog.String("error", cause.Error()))
	}
	return &domain.ClassificationResult{
		WorkflowType:   d.Workflow,
		EnhancedPrompt: d.EnhancedPrompt,
		OriginalPrompt: in.Prompt,
		Reasoning:      reasoning,
		UsedFallback:   true,
		Method:         domain.MethodFallback,
	}
}

// checkPolicy fails open: a broken policy backend must not block requests.
func (e *Engine) checkPolicy(ctx context.Context, userID string, estimated float64) bool {
	if e.policy == nil {
		return true
	}
	model := ""
	if e.classifier != nil {
		model = e.classifier.Model()
	}
	d, err := e.policy.CheckRequest(ctx, &ports.PolicyRequest{UserID: userID, Model: model, EstimatedCost: estimated})
	if err != nil {
		e.logger.Error("policy check failed", slog.String("error", err.Error()))
		return true
	}
	if !d.Allow {
		limited := &domain.RateLimitedError{UserID: userID, Window: d.Window, RetryAfter: d.RetryAfter}
		e.logger.Info("request rate limited", slog.String("error", limited.Error()))
	}
	return d.Allow
}

func (e *Engine) recordUsage(ctx context.Context, userID string, comp *ports.Completion, estimated float64) {
	if e.policy == nil {
		return
	}
	actual := estimated
	if e.cost != nil {
		actual = e.cost.Cost(comp.PromptTokens, comp.CompletionTokens)
	}
	err := e.policy.RecordUsage(ctx, &ports.UsageRecord{
		UserID:           userID,
		Model:            comp.Model,
		PromptTokens:     comp.PromptTokens,
		CompletionTokens: comp.CompletionTokens,
		EstimatedCost:    estimated,
		ActualCost:       actual,
	})
	if err != nil {
		e.logger.Warn("record usage failed", slog.String("error", err.Error()))
	}
}

func (e *Engine) refund(ctx context.Context, userID string, estimated float64) {
	if e.policy == nil || estimated == 0 {
		return
	}
	err := e.policy.RecordUsage(ctx, &ports.UsageRecord{UserID: userID, EstimatedCost: estimated})
	if err != nil {
		e.logger.Warn("refund usage failed", slog.String("error", err.Error()))
	}
}

func (e *Engine) emit(ctx context.Context, ev *domain.ClassificationEvent) {
	if e.sink == nil {
		return
	}
	ev.CreatedAt = e.now()
	if e.breaker != nil {
		ev.CircuitState = e.breaker.State().String()
	}
	if err := e.sink.Record(context.WithoutCancel(ctx), ev); err != nil {
		e.logger.Debug("analytics emit failed", slog.String("error", err.Error()))
	}
}

// Invalidate drops the cached classification for (prompt, signals, user).
func (e *Engine) Invalidate(ctx context.Context, prompt string, signals domain.SignalVector, userID string) {
	e.cache.Delete(ctx, cache.Key(prompt, signals, userID))
}
