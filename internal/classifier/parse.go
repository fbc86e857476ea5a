package classifier

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tjfontaine/polyglot-media-router/internal/core/domain"
)

// Reply is the decoded dependency response.
type Reply struct {
	Verdict        domain.WorkflowVerdict
	EnhancedPrompt string
	Reasoning      string
}

type wireReply struct {
	Type           string `json:"type"`
	WorkflowType   string `json:"workflow_type"`
	EnhancedPrompt string `json:"enhanced_prompt"`
	Reasoning      string `json:"reasoning"`
}

// ParseReply extracts the JSON object from text. Code fences and prose around
// the object are tolerated. Text without a decodable object returns an error
// wrapping domain.ErrMalformedResponse; a decodable object with an unknown
// type returns an Invalid verdict and no error.
func ParseReply(text string) (*Reply, error) {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end <= start {
		return nil, fmt.Errorf("%w: no JSON object in %d bytes", domain.ErrMalformedResponse, len(text))
	}

	var w wireReply
	if err := json.Unmarshal([]byte(text[start:end+1]), &w); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedResponse, err)
	}

	raw := w.Type
	if raw == "" {
		raw = w.WorkflowType
	}
	return &Reply{
		Verdict:        domain.ParseWorkflowType(raw),
		EnhancedPrompt: strings.TrimSpace(w.EnhancedPrompt),
		Reasoning:      strings.TrimSpace(w.Reasoning),
	}, nil
}

// validate checks a Valid verdict against what the request can supply.
// Active images always lead to the edit family, so NEW_IMAGE and
// NEW_IMAGE_REF are rejected while one exists.
func validate(v domain.WorkflowVerdict, signals domain.SignalVector) *domain.InvalidClassificationError {
	if !v.IsValid() {
		return &domain.InvalidClassificationError{Raw: v.Raw, Reason: "not a known workflow type"}
	}
	if !v.Workflow.CompatibleWith(signals) {
		return &domain.InvalidClassificationError{Raw: v.Raw, Reason: "needs an asset the signals say is absent"}
	}
	if signals.ActiveImage && (v.Workflow == domain.WorkflowNewImage || v.Workflow == domain.WorkflowNewImageRef) {
		return &domain.InvalidClassificationError{Raw: v.Raw, Reason: "an active image selects the edit workflows"}
	}
	return nil
}
