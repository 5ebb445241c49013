// Package llm provides an abstraction for text-completion backends.
package llm

import (
	"context"
	"time"
)

// GenerateOptions carry the model selection and generation parameters.
type GenerateOptions struct {
	Model       string
	Temperature float64
	MaxTokens   int
}

// Completion is the result of one generation call.
type Completion struct {
	Content        string
	Model          string
	Tokens         int
	ProcessingTime time.Duration
}

// Completer turns a prompt into a completion.
type Completer interface {
	Generate(ctx context.Context, prompt string, opts GenerateOptions) (*Completion, error)
}

// Ensure implementations satisfy Completer.
var (
	_ Completer = (*Client)(nil)
	_ Completer = (*GenAIClient)(nil)
	_ Completer = (*MockClient)(nil)
)
