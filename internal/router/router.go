// Package router turns a classified workflow into a concrete provider call:
// the decision matrix picks provider and model, the parameter builder fills
// in the payload that provider expects.
package router

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tjfontaine/polyglot-media-router/internal/cache"
	"github.com/tjfontaine/polyglot-media-router/internal/core/domain"
)

// Config is the decision matrix: one route per workflow type, plus the
// composition route used when an image workflow carries many references.
type Config struct {
	Routes               map[domain.WorkflowType]domain.Route
	Composition          domain.Route
	CompositionThreshold int
}

// DefaultConfig returns the built-in decision matrix.
func DefaultConfig() Config {
	flux := domain.Route{ProviderID: "flux", ModelID: "flux-1.1-pro", Kind: domain.KindImage}
	kontext := domain.Route{ProviderID: "flux-kontext", ModelID: "flux-kontext-pro", Kind: domain.KindImage}
	composition := domain.Route{ProviderID: "nano-banana", ModelID: "gemini-2.5-flash-image", Kind: domain.KindComposition}
	kling := domain.Route{ProviderID: "kling", ModelID: "kling-v2.1-master", Kind: domain.KindVideo}
	veo := domain.Route{ProviderID: "veo", ModelID: "veo-3", Kind: domain.KindAudioVideo}
	vidu := domain.Route{ProviderID: "vidu", ModelID: "vidu-q1-reference", Kind: domain.KindReferenceVideo}
	aleph := domain.Route{ProviderID: "runway", ModelID: "gen4-aleph", Kind: domain.KindVideoEdit}

	return Config{
		Routes: map[domain.WorkflowType]domain.Route{
			domain.WorkflowNewImage:              flux,
			domain.WorkflowNewImageRef:           kontext,
			domain.WorkflowEditImage:             kontext,
			domain.WorkflowEditImageRef:          kontext,
			domain.WorkflowEditImageAddNew:       composition,
			domain.WorkflowNewVideo:              kling,
			domain.WorkflowImageToVideo:          kling,
			domain.WorkflowNewVideoWithAudio:     veo,
			domain.WorkflowImageToVideoWithAudio: veo,
			domain.WorkflowEditImageRefToVideo:   vidu,
			domain.WorkflowVideoEdit:             aleph,
			domain.WorkflowVideoEditRef:          aleph,
		},
		Composition:          composition,
		CompositionThreshold: 2,
	}
}

// Validate checks that every workflow has a complete route.
func (c Config) Validate() error {
	var errs domain.ConfigErrors
	check := func(field string, r domain.Route) {
		if r.ProviderID == "" || r.ModelID == "" {
			errs = append(errs, &domain.ConfigError{Field: field, Reason: "provider and model are required"})
		}
		if !r.Kind.Valid() {
			errs = append(errs, &domain.ConfigError{Field: field, Reason: fmt.Sprintf("unknown provider kind %q", r.Kind)})
		}
	}
	for _, w := range domain.AllWorkflows {
		r, ok := c.Routes[w]
		if !ok {
			errs = append(errs, &domain.ConfigError{Field: "routing.routes." + string(w), Reason: "no route"})
			continue
		}
		check("routing.routes."+string(w), r)
	}
	check("routing.composition", c.Composition)
	if c.Composition.Kind != domain.KindComposition {
		errs = append(errs, &domain.ConfigError{Field: "routing.composition.kind", Reason: "must be composition"})
	}
	if c.CompositionThreshold < 2 {
		errs = append(errs, &domain.ConfigError{Field: "routing.composition_threshold", Reason: "must be at least 2"})
	}
	return errs.ErrOrNil()
}

// Router is safe for concurrent use.
type Router struct {
	cfg     Config
	builder *Builder
	logger  *slog.Logger
}

// Option configures a Router.
type Option func(*Router)

// WithTemplateCache caches per-route parameter templates.
func WithTemplateCache(c *cache.Layer) Option {
	return func(r *Router) { r.builder.cache = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Router) {
		r.logger = l
		r.builder.logger = l
	}
}

// New creates a router from a validated decision matrix.
func New(cfg Config, opts ...Option) (*Router, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	r := &Router{
		cfg:     cfg,
		builder: NewBuilder(nil, nil),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Route looks up the provider and model for a workflow. overridden reports
// that the composition override replaced the table entry.
func (r *Router) Route(w domain.WorkflowType, totalReferences int) (route domain.Route, overridden bool, err error) {
	base, ok := r.cfg.Routes[w]
	if !ok {
		return domain.Route{}, false, fmt.Errorf("no route for workflow %q", w)
	}
	if r.needsComposition(base, totalReferences) {
		return r.cfg.Composition, true, nil
	}
	return base, false, nil
}

// needsComposition is the one cross-cutting routing rule: single-reference
// image providers cannot take several references in one call, so the
// request moves to the composition provider.
func (r *Router) needsComposition(base domain.Route, totalReferences int) bool {
	return base.Kind == domain.KindImage && totalReferences >= r.cfg.CompositionThreshold
}

// Request carries everything needed to route one classified request.
type Request struct {
	Workflow        domain.WorkflowType
	EnhancedPrompt  string
	Working         *domain.WorkingAsset
	References      []domain.ReferenceAsset
	TotalReferences int
	Unresolved      []string
	AspectRatio     string
	DurationSeconds int
}

// Decide routes the request and builds its parameter bag.
func (r *Router) Decide(ctx context.Context, req Request) (*domain.RoutingDecision, error) {
	route, overridden, err := r.Route(req.Workflow, req.TotalReferences)
	if err != nil {
		return nil, err
	}
	if overridden {
		r.logger.Debug("routing to composition provider",
			slog.String("workflow_type", string(req.Workflow)),
			slog.Int("references", req.TotalReferences))
	}

	params, err := r.builder.Build(ctx, BuildInput{
		Workflow:        req.Workflow,
		Route:           route,
		EnhancedPrompt:  req.EnhancedPrompt,
		Working:         req.Working,
		References:      req.References,
		AspectRatio:     req.AspectRatio,
		DurationSeconds: req.DurationSeconds,
	})
	if err != nil {
		return nil, err
	}

	return &domain.RoutingDecision{
		ProviderID:     route.ProviderID,
		ModelID:        route.ModelID,
		Kind:           route.Kind,
		Parameters:     params,
		Overridden:     overridden,
		UnresolvedTags: req.Unresolved,
	}, nil
}
