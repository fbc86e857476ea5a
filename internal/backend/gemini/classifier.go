// Package gemini implements the classification dependency on the Gemini API.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/genai"

	"github.com/tjfontaine/polyglot-media-router/internal/core/ports"
)

// Name is the backend identifier used in configuration.
const Name = "gemini"

const defaultModel = "gemini-2.5-flash"

const systemInstruction = "You route media generation requests. Reply with a single JSON object and nothing else."

// Config holds connection settings for the Gemini backend.
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float32
	MaxTokens   int
}

// Option configures a Classifier.
type Option func(*genai.ClientConfig)

// WithHTTPClient sets the HTTP client used for API calls.
func WithHTTPClient(c *http.Client) Option {
	return func(cc *genai.ClientConfig) {
		cc.HTTPClient = c
	}
}

// Classifier asks a Gemini model for a JSON classification reply.
type Classifier struct {
	client *genai.Client
	model  string
	config *genai.GenerateContentConfig
}

// New creates a Gemini-backed classifier.
func New(ctx context.Context, cfg Config, opts ...Option) (*Classifier, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini: api key is required")
	}
	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions.BaseURL = cfg.BaseURL
	}
	for _, opt := range opts {
		opt(cc)
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}

	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	gen := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemInstruction, genai.RoleUser),
		Temperature:       genai.Ptr(cfg.Temperature),
		ResponseMIMEType:  "application/json",
		CandidateCount:    1,
	}
	if cfg.MaxTokens > 0 {
		gen.MaxOutputTokens = int32(cfg.MaxTokens)
	}
	return &Classifier{client: client, model: model, config: gen}, nil
}

func (c *Classifier) Name() string  { return Name }
func (c *Classifier) Model() string { return c.model }

// Complete sends one instruction and returns the first candidate's text.
func (c *Classifier) Complete(ctx context.Context, instruction string) (*ports.Completion, error) {
	contents := []*genai.Content{genai.NewContentFromText(instruction, genai.RoleUser)}

	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, c.config)
	if err != nil {
		var apiErr genai.APIError
		if errors.As(err, &apiErr) {
			return nil, fmt.Errorf("gemini: status %d: %w", apiErr.Code, err)
		}
		return nil, fmt.Errorf("gemini: %w", err)
	}

	text := resp.Text()
	if text == "" {
		return nil, errors.New("gemini: response has no text candidate")
	}

	comp := &ports.Completion{Text: text, Model: c.model}
	if resp.ModelVersion != "" {
		comp.Model = resp.ModelVersion
	}
	if u := resp.UsageMetadata; u != nil {
		comp.PromptTokens = int(u.PromptTokenCount)
		comp.CompletionTokens = int(u.CandidatesTokenCount)
	}
	return comp, nil
}

var _ ports.Classifier = (*Classifier)(nil)
