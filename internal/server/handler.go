package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tjfontaine/polyglot-media-router/internal/breaker"
	"github.com/tjfontaine/polyglot-media-router/internal/core/domain"
)

const maxBodyBytes = 1 << 20

// ClassifyRouter is the operation the API exposes.
type ClassifyRouter interface {
	ClassifyAndRoute(ctx context.Context, req *domain.Request) (*domain.ClassificationResult, *domain.RoutingDecision, error)
	Invalidate(ctx context.Context, prompt string, signals domain.SignalVector, userID string)
}

// HealthReporter reports component health for /healthz.
type HealthReporter interface {
	Health(ctx context.Context) *Health
}

// RateLimitReporter returns the caller's current request window, or nil
// when no limit applies.
type RateLimitReporter interface {
	RateLimits(userID string) *RateLimitInfo
}

// Health is the /healthz body.
type Health struct {
	Status       string         `json:"status"`
	Circuit      *breaker.Stats `json:"circuit,omitempty"`
	Storage      string         `json:"storage,omitempty"`
	Cache        string         `json:"cache"`
	Classifier   string         `json:"classifier"`
	TrackedUsers int            `json:"tracked_users"`
}

// Health statuses.
const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
)

// ClassifyResponse is the POST /v1/classify body.
type ClassifyResponse struct {
	Classification *domain.ClassificationResult `json:"classification"`
	Routing        *domain.RoutingDecision      `json:"routing,omitempty"`
}

type errorResponse struct {
	Error *domain.APIError `json:"error"`
}

// Handler serves the API routes.
type Handler struct {
	svc      ClassifyRouter
	health   HealthReporter
	limits   RateLimitReporter
	gatherer prometheus.Gatherer
	logger   *slog.Logger
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithHealth enables /healthz details.
func WithHealth(h HealthReporter) HandlerOption {
	return func(hd *Handler) { hd.health = h }
}

// WithRateLimits enables x-ratelimit-* headers.
func WithRateLimits(r RateLimitReporter) HandlerOption {
	return func(hd *Handler) { hd.limits = r }
}

// WithGatherer selects the registry served on /metrics.
func WithGatherer(g prometheus.Gatherer) HandlerOption {
	return func(hd *Handler) { hd.gatherer = g }
}

// NewHandler creates the API handler.
func NewHandler(svc ClassifyRouter, logger *slog.Logger, opts ...HandlerOption) *Handler {
	h := &Handler{
		svc:      svc,
		gatherer: prometheus.DefaultGatherer,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes registers the handler's endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(RateLimitHeadersMiddleware)
		r.Post("/v1/classify", h.handleClassify)
	})
	r.Post("/v1/cache/invalidate", h.handleInvalidate)
	r.Get("/healthz", h.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request) (*domain.Request, error) {
	var req domain.Request
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, domain.ErrInvalidRequest("request body is required")
		}
		return nil, domain.ErrInvalidRequest("invalid JSON: " + err.Error())
	}
	if req.UserID == "" {
		req.UserID = r.Header.Get("X-User-ID")
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, domain.ErrInvalidRequest("prompt is required").WithParam("prompt")
	}
	if req.UserID == "" {
		return nil, domain.ErrInvalidRequest("user_id is required").WithParam("user_id")
	}
	return &req, nil
}

func (h *Handler) handleClassify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, err := h.decode(w, r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	AddLogField(ctx, "user_id", req.UserID)

	result, decision, err := h.svc.ClassifyAndRoute(ctx, req)
	if h.limits != nil {
		SetRateLimits(ctx, h.limits.RateLimits(req.UserID))
	}
	if result != nil {
		AddLogField(ctx, "workflow_type", string(result.WorkflowType))
		AddLogField(ctx, "method", string(result.Method))
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, &ClassifyResponse{Classification: result, Routing: decision})
}

func (h *Handler) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	req, err := h.decode(w, r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.svc.Invalidate(r.Context(), req.Prompt, req.Signals, req.UserID)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if h.health == nil {
		writeJSON(w, http.StatusOK, &Health{Status: StatusOK})
		return
	}
	writeJSON(w, http.StatusOK, h.health.Health(r.Context()))
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	apiErr := domain.ToAPIError(err)
	AddError(r.Context(), err)
	if apiErr.HTTPStatusCode() >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			slog.String("request_id", GetRequestID(r.Context())),
			slog.String("error", err.Error()))
	}
	writeJSON(w, apiErr.HTTPStatusCode(), &errorResponse{Error: apiErr})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
