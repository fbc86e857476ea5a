package domain

import "time"

// Method records which path produced a classification.
type Method string

const (
	MethodLLM         Method = "llm"
	MethodCache       Method = "cache"
	MethodFallback    Method = "fallback"
	MethodRateLimited Method = "rate_limited"
)

// ReasonRateLimited is the reasoning string of results produced because the
// user exceeded a request or cost window.
const ReasonRateLimited = "rate_limited"

// RequestContext is the extra, per-request context supplied by the caller
// alongside the prompt and signals.
type RequestContext struct {
	// WorkingImageURI is the active image when SignalVector.ActiveImage is set.
	WorkingImageURI string `json:"working_image,omitempty"`
	// WorkingVideoURI is the active video when SignalVector.ActiveVideo is set.
	WorkingVideoURI string `json:"working_video,omitempty"`
	// UploadedImages are newly uploaded reference images, in upload order.
	UploadedImages []string `json:"uploaded_images,omitempty"`
	// AspectRatio optionally overrides the configured default.
	AspectRatio string `json:"aspect_ratio,omitempty"`
	// DurationSeconds optionally overrides the configured video duration.
	DurationSeconds int `json:"duration,omitempty"`
}

// Request is one classify-and-route call.
type Request struct {
	Prompt  string         `json:"prompt"`
	Signals SignalVector   `json:"signals"`
	UserID  string         `json:"user_id"`
	Context RequestContext `json:"context"`
}

// ClassificationResult is the outcome of classifying one request. It is
// built once and not mutated afterwards.
type ClassificationResult struct {
	WorkflowType     WorkflowType `json:"workflow_type"`
	EnhancedPrompt   string       `json:"enhanced_prompt"`
	OriginalPrompt   string       `json:"original_prompt"`
	Reasoning        string       `json:"reasoning"`
	CacheHit         bool         `json:"cache_hit"`
	ProcessingTimeMs int64        `json:"processing_time_ms"`
	UsedFallback     bool         `json:"used_fallback"`
	Method           Method       `json:"method"`
}

// ProviderKind selects the parameter shape a provider expects.
type ProviderKind string

const (
	KindImage          ProviderKind = "image"
	KindComposition    ProviderKind = "composition"
	KindVideo          ProviderKind = "video"
	KindAudioVideo     ProviderKind = "audio_video"
	KindReferenceVideo ProviderKind = "reference_video"
	KindVideoEdit      ProviderKind = "video_edit"
)

// Valid reports whether k is a known provider kind.
func (k ProviderKind) Valid() bool {
	switch k {
	case KindImage, KindComposition, KindVideo, KindAudioVideo, KindReferenceVideo, KindVideoEdit:
		return true
	}
	return false
}

// Route is one entry of the decision matrix.
type Route struct {
	ProviderID string       `json:"provider_id"`
	ModelID    string       `json:"model_id"`
	Kind       ProviderKind `json:"kind"`
}

// RoutingDecision names the provider and model to invoke and the parameter
// bag to hand them.
type RoutingDecision struct {
	ProviderID string         `json:"provider_id"`
	ModelID    string         `json:"model_id"`
	Kind       ProviderKind   `json:"kind"`
	Parameters map[string]any `json:"parameters"`
	// Overridden is set when the composition override replaced the base route.
	Overridden bool `json:"overridden,omitempty"`
	// UnresolvedTags lists @mentions that did not resolve to an asset.
	UnresolvedTags []string `json:"unresolved_tags,omitempty"`
}

// ClassificationEvent is the analytics record emitted once per classify call.
type ClassificationEvent struct {
	ID            string       `json:"id"`
	UserID        string       `json:"user_id"`
	WorkflowType  WorkflowType `json:"workflow_type"`
	Method        Method       `json:"method"`
	LatencyMs     int64        `json:"latency_ms"`
	CacheHit      bool         `json:"cache_hit"`
	UsedFallback  bool         `json:"used_fallback"`
	CircuitState  string       `json:"circuit_state"`
	Reasoning     string       `json:"reasoning,omitempty"`
	EstimatedCost float64      `json:"estimated_cost"`
	CreatedAt     time.Time    `json:"created_at"`
}
