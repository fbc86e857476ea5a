// Package openai implements the classification dependency on top of the
// OpenAI chat completions API.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/tjfontaine/polyglot-media-router/internal/core/ports"
)

// Name is the backend identifier used in configuration.
const Name = "openai"

const (
	defaultModel     = "gpt-4o-mini"
	defaultMaxTokens = 512
)

const systemMessage = "You route media generation requests. Reply with a single JSON object and nothing else."

// Config holds connection settings for the OpenAI backend.
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float32
	MaxTokens   int
}

// Option configures a Classifier.
type Option func(*goopenai.ClientConfig)

// WithHTTPClient sets a custom HTTP client, for example a recording transport.
func WithHTTPClient(c *http.Client) Option {
	return func(cc *goopenai.ClientConfig) {
		cc.HTTPClient = c
	}
}

// Classifier sends classification instructions to a chat model and asks for
// a JSON object reply.
type Classifier struct {
	client      *goopenai.Client
	model       string
	temperature float32
	maxTokens   int
}

// New creates an OpenAI-backed classifier.
func New(cfg Config, opts ...Option) (*Classifier, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai: api key is required")
	}
	cc := goopenai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		cc.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	}
	for _, opt := range opts {
		opt(&cc)
	}

	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return &Classifier{
		client:      goopenai.NewClientWithConfig(cc),
		model:       model,
		temperature: cfg.Temperature,
		maxTokens:   maxTokens,
	}, nil
}

func (c *Classifier) Name() string  { return Name }
func (c *Classifier) Model() string { return c.model }

// Complete sends one instruction and returns the first choice's text.
func (c *Classifier) Complete(ctx context.Context, instruction string) (*ports.Completion, error) {
	resp, err := c.client.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model: c.model,
		Messages: []goopenai.ChatCompletionMessage{
			{Role: goopenai.ChatMessageRoleSystem, Content: systemMessage},
			{Role: goopenai.ChatMessageRoleUser, Content: instruction},
		},
		Temperature:         c.temperature,
		MaxCompletionTokens: c.maxTokens,
		ResponseFormat: &goopenai.ChatCompletionResponseFormat{
			Type: goopenai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		var apiErr *goopenai.APIError
		if errors.As(err, &apiErr) {
			return nil, fmt.Errorf("openai: status %d: %w", apiErr.HTTPStatusCode, err)
		}
		return nil, fmt.Errorf("openai: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("openai: response has no choices")
	}

	model := resp.Model
	if model == "" {
		model = c.model
	}
	return &ports.Completion{
		Text:             resp.Choices[0].Message.Content,
		Model:            model,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
	}, nil
}

var _ ports.Classifier = (*Classifier)(nil)
