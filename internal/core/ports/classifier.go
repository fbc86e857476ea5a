package ports

import "context"

// Completion is the raw structured text returned by the classification
// dependency, with the token usage it reported.
type Completion struct {
	Text             string
	Model            string
	PromptTokens     int
	CompletionTokens int
}

// Classifier is the external classification and enhancement model. It
// accepts one instruction and returns text expected to hold a JSON object
// {"type", "enhanced_prompt", "reasoning"}.
// Implementations: openai, gemini.
type Classifier interface {
	Name() string
	Model() string
	Complete(ctx context.Context, instruction string) (*Completion, error)
}
