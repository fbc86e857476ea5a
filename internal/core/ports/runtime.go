package ports

import (
	"context"
	"time"

	"github.com/tjfontaine/polyglot-media-router/internal/core/domain"
	"github.com/tjfontaine/polyglot-media-router/internal/pkg/config"
)

// ConfigProvider loads and manages configuration.
// Implementations: file-based (default).
type ConfigProvider interface {
	Load(ctx context.Context) (*config.Config, error)
	Watch(ctx context.Context, onChange func(*config.Config)) error
	Close() error
}

// AnalyticsSink receives one event per classification call. Callers ignore
// the returned error beyond logging it.
// Implementations: direct storage (default), prometheus metrics, async, multi.
type AnalyticsSink interface {
	Record(ctx context.Context, event *domain.ClassificationEvent) error
	Close() error
}

// QualityPolicy enforces per-user request and cost limits.
// Implementations: basic (no limits), ratelimit (windowed limiter).
type QualityPolicy interface {
	CheckRequest(ctx context.Context, req *PolicyRequest) (*PolicyDecision, error)
	RecordUsage(ctx context.Context, usage *UsageRecord) error
}

// PolicyRequest contains request context for policy checks.
type PolicyRequest struct {
	UserID        string
	Model         string
	EstimatedCost float64
}

// PolicyDecision is the result of a policy check.
type PolicyDecision struct {
	Allow         bool
	Reason        string
	Window        string
	RetryAfter    time.Duration
	RateLimitInfo *RateLimitInfo
}

// RateLimitInfo contains rate limit information.
type RateLimitInfo struct {
	Limit     int
	Remaining int
	ResetAt   int64 // Unix timestamp
}

// UsageRecord reports the actual cost of a completed dependency call so the
// policy can replace the reservation made at check time.
type UsageRecord struct {
	UserID           string
	Model            string
	PromptTokens     int
	CompletionTokens int
	EstimatedCost    float64
	ActualCost       float64
}
