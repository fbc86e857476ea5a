// Package runtime provides the Service that wires the classification engine,
// the decision matrix and their collaborators, and manages their lifecycle.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	memcache "github.com/tjfontaine/polyglot-media-router/internal/adapters/cache/memory"
	"github.com/tjfontaine/polyglot-media-router/internal/adapters/cache/redis"
	"github.com/tjfontaine/polyglot-media-router/internal/adapters/events/async"
	"github.com/tjfontaine/polyglot-media-router/internal/adapters/events/direct"
	"github.com/tjfontaine/polyglot-media-router/internal/adapters/events/metrics"
	"github.com/tjfontaine/polyglot-media-router/internal/adapters/events/multi"
	"github.com/tjfontaine/polyglot-media-router/internal/backend/gemini"
	"github.com/tjfontaine/polyglot-media-router/internal/backend/openai"
	"github.com/tjfontaine/polyglot-media-router/internal/breaker"
	"github.com/tjfontaine/polyglot-media-router/internal/cache"
	"github.com/tjfontaine/polyglot-media-router/internal/classifier"
	"github.com/tjfontaine/polyglot-media-router/internal/core/domain"
	"github.com/tjfontaine/polyglot-media-router/internal/core/ports"
	"github.com/tjfontaine/polyglot-media-router/internal/pkg/config"
	"github.com/tjfontaine/polyglot-media-router/internal/ratelimit"
	"github.com/tjfontaine/polyglot-media-router/internal/references"
	"github.com/tjfontaine/polyglot-media-router/internal/router"
	"github.com/tjfontaine/polyglot-media-router/internal/scheduler"
	"github.com/tjfontaine/polyglot-media-router/internal/server"
	"github.com/tjfontaine/polyglot-media-router/internal/storage/memory"
	"github.com/tjfontaine/polyglot-media-router/internal/storage/sqldb"
	"github.com/tjfontaine/polyglot-media-router/internal/telemetry"
	"github.com/tjfontaine/polyglot-media-router/internal/tokens"
)

const tracerName = "github.com/tjfontaine/polyglot-media-router/internal/runtime"

// Service is the main entry point. It can be embedded in a larger
// application through ClassifyAndRoute, or run standalone with Start.
type Service struct {
	// Dependencies (injected via options or built from config)
	config       ports.ConfigProvider
	storage      ports.StorageProvider
	references   ports.ReferenceStore
	cacheBackend ports.CacheBackend
	classifier   ports.Classifier
	sink         ports.AnalyticsSink
	policy       ports.QualityPolicy
	registerer   prometheus.Registerer
	gatherer     prometheus.Gatherer
	port         *int
	logger       *slog.Logger

	// Built components
	cfg       *config.Config
	cache     *cache.Layer
	breaker   *breaker.Breaker
	limiter   *ratelimit.Limiter
	engine    *classifier.Engine
	router    atomic.Pointer[router.Router]
	resolver  *references.Resolver
	scheduler *scheduler.Scheduler
	server    *server.Server
	tracer    trace.Tracer

	// Lifecycle management
	ctx            context.Context
	cancel         context.CancelFunc
	shutdownTracer telemetry.ShutdownFunc
	serveDone      chan struct{}
	mu             sync.Mutex
}

// New loads the configuration and builds every component. The returned
// Service answers ClassifyAndRoute immediately; Start adds the HTTP server,
// housekeeping and config watching.
func New(ctx context.Context, opts ...Option) (*Service, error) {
	s := &Service{
		registerer: prometheus.DefaultRegisterer,
		gatherer:   prometheus.DefaultGatherer,
		logger:     slog.Default(),
		tracer:     otel.Tracer(tracerName),
	}

	// Apply options
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, fmt.Errorf("apply option: %w", err)
		}
	}

	// Validate required dependencies
	if s.config == nil {
		return nil, fmt.Errorf("config provider required (use WithFileConfig or WithConfig)")
	}

	cfg, err := s.config.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	s.cfg = cfg

	if err := s.build(ctx, cfg); err != nil {
		s.closeResources()
		return nil, err
	}
	return s, nil
}

func (s *Service) build(ctx context.Context, cfg *config.Config) error {
	if err := s.initStorage(cfg); err != nil {
		return fmt.Errorf("init storage: %w", err)
	}
	if err := s.initCache(ctx, cfg); err != nil {
		return fmt.Errorf("init cache: %w", err)
	}
	if err := s.initClassifier(ctx, cfg); err != nil {
		return fmt.Errorf("init classifier: %w", err)
	}

	var err error
	s.breaker, err = breaker.New("classifier", breaker.Config{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		SuccessThreshold: cfg.Breaker.SuccessThreshold,
		OpenTimeout:      cfg.Breaker.OpenTimeout,
	}, breaker.WithLogger(s.logger))
	if err != nil {
		return fmt.Errorf("init breaker: %w", err)
	}

	if s.policy == nil {
		s.limiter, err = ratelimit.New(limitsFromConfig(cfg.Limits))
		if err != nil {
			return fmt.Errorf("init limiter: %w", err)
		}
		s.policy = s.limiter
	}

	if s.sink == nil {
		s.sink = s.defaultSink(cfg)
	}

	model := cfg.Classifier.Model
	if s.classifier != nil {
		model = s.classifier.Model()
	}
	cost := tokens.NewCostEstimator(tokens.NewRegistry(), model, tokens.Pricing{
		InputPer1K:  cfg.Classifier.InputPer1K,
		OutputPer1K: cfg.Classifier.OutputPer1K,
	}, cfg.Classifier.ExpectedOutputTokens)

	engineOpts := []classifier.Option{
		classifier.WithBreaker(s.breaker),
		classifier.WithPolicy(s.policy),
		classifier.WithCache(s.cache),
		classifier.WithCostEstimator(cost),
		classifier.WithLogger(s.logger),
	}
	if s.classifier != nil {
		engineOpts = append(engineOpts, classifier.WithClassifier(s.classifier))
	}
	if s.sink != nil {
		engineOpts = append(engineOpts, classifier.WithSink(s.sink))
	}
	s.engine, err = classifier.New(classifier.Config{Timeout: cfg.Classifier.Timeout}, engineOpts...)
	if err != nil {
		return fmt.Errorf("init engine: %w", err)
	}

	if err := s.initRouter(cfg); err != nil {
		return fmt.Errorf("init router: %w", err)
	}

	if s.references == nil && s.storage != nil {
		s.references = s.storage
	}
	s.resolver = references.NewResolver(s.references, s.logger)

	schedOpts := []scheduler.Option{scheduler.WithLogger(s.logger)}
	if s.limiter != nil {
		schedOpts = append(schedOpts, scheduler.WithSweeper(s.limiter))
	}
	if s.storage != nil {
		schedOpts = append(schedOpts, scheduler.WithPruner(s.storage))
	}
	s.scheduler, err = scheduler.New(cfg.Housekeeping, schedOpts...)
	if err != nil {
		return fmt.Errorf("init scheduler: %w", err)
	}

	port := cfg.Server.Port
	if s.port != nil {
		port = *s.port
	}
	s.server = server.New(port, s.logger, cfg.Server.RequestTimeout)
	s.server.Register(server.NewHandler(s, s.logger,
		server.WithHealth(s),
		server.WithRateLimits(s),
		server.WithGatherer(s.gatherer)))

	s.logger.Info("service initialized",
		slog.String("classifier", s.classifierName()),
		slog.String("storage", cfg.Storage.Type),
		slog.String("cache", cfg.Cache.Type))
	return nil
}

func (s *Service) initStorage(cfg *config.Config) error {
	if s.storage != nil {
		return nil
	}

	var store *sqldb.Store
	var err error
	switch cfg.Storage.Type {
	case "none":
		return nil
	case "memory":
		s.storage = memory.New()
		return nil
	case "sqlite":
		store, err = sqldb.NewSQLite(cfg.Storage.SQLite.Path)
	case "postgres":
		store, err = sqldb.New(sqldb.Config{Driver: "postgres", DSN: cfg.Storage.Database.DSN})
	default:
		return &domain.ConfigError{Field: "storage.type", Reason: "unknown type " + cfg.Storage.Type}
	}
	if err != nil {
		return err
	}
	s.storage = store
	return nil
}

func (s *Service) initCache(ctx context.Context, cfg *config.Config) error {
	if s.cacheBackend == nil {
		switch cfg.Cache.Type {
		case "none":
		case "memory":
			backend, err := memcache.New(cfg.Cache.Size)
			if err != nil {
				return err
			}
			s.cacheBackend = backend
		case "redis":
			backend := redis.New(redis.Config{
				Addr:     cfg.Cache.Redis.Addr,
				Password: cfg.Cache.Redis.Password,
				DB:       cfg.Cache.Redis.DB,
				Prefix:   cfg.Cache.Redis.Prefix,
			})
			pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
			if err := backend.Ping(pingCtx); err != nil {
				// Reads degrade to misses until redis comes back.
				s.logger.Warn("redis cache unreachable at startup",
					slog.String("addr", cfg.Cache.Redis.Addr),
					slog.String("error", err.Error()))
			}
			cancel()
			s.cacheBackend = backend
		default:
			return &domain.ConfigError{Field: "cache.type", Reason: "unknown type " + cfg.Cache.Type}
		}
	}
	s.cache = cache.New(s.cacheBackend, cfg.Cache.TTL, s.logger)
	return nil
}

func (s *Service) initClassifier(ctx context.Context, cfg *config.Config) error {
	if s.classifier != nil {
		return nil
	}

	c := cfg.Classifier
	switch c.Backend {
	case "none":
		s.logger.Info("no classifier configured, every request uses the fallback rules")
		return nil
	case "openai":
		cl, err := openai.New(openai.Config{
			APIKey:      c.APIKey,
			BaseURL:     c.BaseURL,
			Model:       c.Model,
			Temperature: c.Temperature,
			MaxTokens:   c.MaxTokens,
		})
		if err != nil {
			return err
		}
		s.classifier = cl
	case "gemini":
		cl, err := gemini.New(ctx, gemini.Config{
			APIKey:      c.APIKey,
			BaseURL:     c.BaseURL,
			Model:       c.Model,
			Temperature: c.Temperature,
			MaxTokens:   c.MaxTokens,
		})
		if err != nil {
			return err
		}
		s.classifier = cl
	default:
		return &domain.ConfigError{Field: "classifier.backend", Reason: "unknown backend " + c.Backend}
	}
	return nil
}

func (s *Service) initRouter(cfg *config.Config) error {
	rcfg, err := router.ConfigFromSettings(cfg.Routing)
	if err != nil {
		return err
	}
	r, err := router.New(rcfg, router.WithTemplateCache(s.cache), router.WithLogger(s.logger))
	if err != nil {
		return err
	}
	s.router.Store(r)
	return nil
}

// defaultSink combines the configured sinks behind one buffered writer.
func (s *Service) defaultSink(cfg *config.Config) ports.AnalyticsSink {
	var sinks []ports.AnalyticsSink
	if cfg.Analytics.Persist && s.storage != nil {
		persist, err := direct.NewSink(s.storage)
		if err == nil {
			sinks = append(sinks, persist)
		}
	}
	if cfg.Analytics.Metrics {
		sinks = append(sinks, metrics.NewSink(s.registerer))
	}
	if len(sinks) == 0 {
		return nil
	}
	return async.NewSink(multi.NewSink(sinks...),
		async.WithBufferSize(cfg.Analytics.BufferSize),
		async.WithLogger(s.logger))
}

func limitsFromConfig(l config.LimitsConfig) ratelimit.Config {
	return ratelimit.Config{
		RequestsPerMinute: l.RequestsPerMinute,
		RequestsPerHour:   l.RequestsPerHour,
		CostPerHour:       l.CostPerHour,
	}
}

func (s *Service) classifierName() string {
	if s.classifier == nil {
		return "none"
	}
	return s.classifier.Name()
}

// ClassifyAndRoute classifies the request and decides which provider to
// call with which parameters. Only a missing required asset or an invalid
// request is returned as an error; every other failure degrades to a
// fallback classification.
func (s *Service) ClassifyAndRoute(ctx context.Context, req *domain.Request) (*domain.ClassificationResult, *domain.RoutingDecision, error) {
	if req == nil || req.Prompt == "" {
		return nil, nil, domain.ErrInvalidRequest("prompt is required").WithParam("prompt")
	}

	ctx, span := s.tracer.Start(ctx, "runtime.ClassifyAndRoute",
		trace.WithAttributes(attribute.String("user_id", req.UserID)))
	defer span.End()

	var (
		result     *domain.ClassificationResult
		resolution *references.Resolution
		g          errgroup.Group
	)
	g.Go(func() error {
		resolution = s.resolver.Resolve(ctx, req.UserID, req.Prompt, req.Context.UploadedImages)
		return nil
	})
	g.Go(func() error {
		result = s.engine.Classify(ctx, classifier.Input{
			Prompt:  req.Prompt,
			Signals: req.Signals,
			UserID:  req.UserID,
			Uploads: req.Context.UploadedImages,
		})
		return nil
	})
	_ = g.Wait()

	span.SetAttributes(
		attribute.String("workflow_type", string(result.WorkflowType)),
		attribute.String("method", string(result.Method)))

	decision, err := s.router.Load().Decide(ctx, router.Request{
		Workflow:        result.WorkflowType,
		EnhancedPrompt:  result.EnhancedPrompt,
		Working:         workingAsset(result.WorkflowType, req),
		References:      resolution.Assets(),
		TotalReferences: resolution.Total,
		Unresolved:      resolution.Unresolved,
		AspectRatio:     req.Context.AspectRatio,
		DurationSeconds: req.Context.DurationSeconds,
	})
	if err != nil {
		span.RecordError(err)
		return result, nil, err
	}
	return result, decision, nil
}

// workingAsset picks the active asset the workflow operates on. Video
// workflows prefer the active video; everything else prefers the active
// image. A signal without a URI yields no asset, which the parameter
// builder reports.
func workingAsset(w domain.WorkflowType, req *domain.Request) *domain.WorkingAsset {
	rc := req.Context
	video := &domain.WorkingAsset{URI: rc.WorkingVideoURI, Video: true}
	image := &domain.WorkingAsset{URI: rc.WorkingImageURI}
	hasVideo := req.Signals.ActiveVideo && rc.WorkingVideoURI != ""
	hasImage := req.Signals.ActiveImage && rc.WorkingImageURI != ""

	switch {
	case w.NeedsWorkingVideo() && hasVideo:
		return video
	case hasImage:
		return image
	case hasVideo:
		return video
	}
	return nil
}

// Invalidate drops the cached classification for (prompt, signals, user).
func (s *Service) Invalidate(ctx context.Context, prompt string, signals domain.SignalVector, userID string) {
	s.engine.Invalidate(ctx, prompt, signals, userID)
}

// RateLimits reports the user's per-minute request window.
func (s *Service) RateLimits(userID string) *server.RateLimitInfo {
	if s.limiter == nil {
		return nil
	}
	limit := s.limiter.Config().RequestsPerMinute
	if limit <= 0 {
		return nil
	}
	count, reset := s.limiter.MinuteWindow(userID)
	info := &server.RateLimitInfo{
		RequestsLimit:     limit,
		RequestsRemaining: max(limit-count, 0),
		RequestsReset:     reset,
	}
	if info.RequestsRemaining == 0 {
		info.RetryAfter = time.Until(reset)
	}
	return info
}

// Health reports component state. A non-closed circuit or an unreachable
// store marks the service degraded; it still answers requests.
func (s *Service) Health(ctx context.Context) *server.Health {
	stats := s.breaker.Stats()
	h := &server.Health{
		Status:     server.StatusOK,
		Circuit:    &stats,
		Cache:      "disabled",
		Classifier: s.classifierName(),
	}
	if stats.State != breaker.Closed.String() {
		h.Status = server.StatusDegraded
	}
	if s.cache.Enabled() {
		h.Cache = s.Config().Cache.Type
	}
	if s.limiter != nil {
		h.TrackedUsers = s.limiter.Users()
	}

	switch pinger := s.storage.(type) {
	case nil:
		h.Storage = "none"
	case interface{ Ping(context.Context) error }:
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := pinger.Ping(pingCtx); err != nil {
			h.Storage = err.Error()
			h.Status = server.StatusDegraded
		} else {
			h.Storage = "ok"
		}
	default:
		h.Storage = "ok"
	}
	return h
}

// Handler returns the HTTP API with its middleware chain.
func (s *Service) Handler() http.Handler {
	return s.server.Router
}

// Config returns the active configuration.
func (s *Service) Config() *config.Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Storage returns the storage provider, or nil when storage is disabled.
func (s *Service) Storage() ports.StorageProvider {
	return s.storage
}

// Start begins serving HTTP, runs housekeeping and watches the config.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ctx, s.cancel = context.WithCancel(ctx)

	shutdown, err := telemetry.InitTracer(s.cfg.Telemetry, s.logger)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	s.shutdownTracer = shutdown

	if err := s.server.Listen(); err != nil {
		return fmt.Errorf("start server: %w", err)
	}
	s.serveDone = make(chan struct{})
	go func() {
		defer close(s.serveDone)
		if err := s.server.Serve(); err != nil {
			s.logger.Error("server error", slog.String("error", err.Error()))
		}
	}()

	s.scheduler.Start()

	if err := s.config.Watch(s.ctx, s.reload); err != nil {
		s.logger.Error("config watch failed", slog.String("error", err.Error()))
	}

	s.logger.Info("service started", slog.String("addr", s.server.Addr()))
	return nil
}

// Addr returns the HTTP listen address after Start.
func (s *Service) Addr() string {
	return s.server.Addr()
}

// reload applies the parts of a new configuration that can change at
// runtime: limits and routing.
func (s *Service) reload(cfg *config.Config) {
	s.logger.Info("config changed, reloading")

	if s.limiter != nil {
		if err := s.limiter.Update(limitsFromConfig(cfg.Limits)); err != nil {
			s.logger.Error("failed to reload limits", slog.String("error", err.Error()))
			return
		}
	}
	if err := s.initRouter(cfg); err != nil {
		s.logger.Error("failed to reload routing", slog.String("error", err.Error()))
		return
	}

	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()

	s.logger.Info("reload complete",
		slog.Int("requests_per_minute", cfg.Limits.RequestsPerMinute),
		slog.Int("routes", len(cfg.Routing.Routes)))
}

// Shutdown gracefully stops the service.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logger.Info("shutting down service")

	if s.cancel != nil {
		s.cancel()
	}

	var errs []error

	// Stop HTTP server
	if s.serveDone != nil {
		if err := s.server.Shutdown(ctx); err != nil {
			s.logger.Error("failed to shutdown server", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
		<-s.serveDone
		s.serveDone = nil
	}

	s.scheduler.Stop()
	s.closeResources()

	if s.shutdownTracer != nil {
		if err := s.shutdownTracer(ctx); err != nil {
			s.logger.Error("failed to shutdown tracer", slog.String("error", err.Error()))
		}
		s.shutdownTracer = nil
	}

	s.logger.Info("service shutdown complete")
	return errors.Join(errs...)
}

// closeResources closes the sink before the storage it writes to.
func (s *Service) closeResources() {
	if s.sink != nil {
		if err := s.sink.Close(); err != nil {
			s.logger.Error("failed to close analytics", slog.String("error", err.Error()))
		}
		s.sink = nil
	}

	if s.cache != nil {
		if err := s.cache.Close(); err != nil {
			s.logger.Error("failed to close cache", slog.String("error", err.Error()))
		}
		s.cache = nil
	}

	if s.storage != nil {
		if err := s.storage.Close(); err != nil {
			s.logger.Error("failed to close storage", slog.String("error", err.Error()))
		}
		s.storage = nil
	}

	if s.config != nil {
		if err := s.config.Close(); err != nil {
			s.logger.Error("failed to close config", slog.String("error", err.Error()))
		}
	}
}
