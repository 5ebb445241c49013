package llm

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const (
	ProviderOpenAI = "openai"
	ProviderGenAI  = "genai"
	ProviderMock   = "mock"
)

// Options select and configure a backend.
type Options struct {
	Provider    string
	BaseURL     string
	APIKey      string
	GenAIAPIKey string
	Timeout     time.Duration
}

// NewCompleter creates a completer for the configured provider.
func NewCompleter(ctx context.Context, opts Options, logger *zap.Logger) (Completer, error) {
	switch opts.Provider {
	case ProviderMock:
		logger.Info("using mock LLM client")
		return NewMockClient(), nil
	case ProviderGenAI:
		logger.Info("using GenAI LLM client")
		return NewGenAIClient(ctx, opts.GenAIAPIKey)
	case ProviderOpenAI, "":
		logger.Info("using OpenAI-compatible LLM client", zap.String("base_url", opts.BaseURL))
		return NewClient(opts.BaseURL, opts.APIKey, opts.Timeout), nil
	default:
		return nil, fmt.Errorf("unknown LLM provider: %s", opts.Provider)
	}
}
