package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"
)

// DefaultGenAIModel is used when the config names no model.
const DefaultGenAIModel = "gemini-2.5-flash"

// GenAIClient generates replies with Google's Gemini API.
type GenAIClient struct {
	client *genai.Client
}

// NewGenAIClient creates a Gemini-backed completer.
func NewGenAIClient(ctx context.Context, apiKey string) (*GenAIClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("GenAI API key is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &GenAIClient{client: client}, nil
}

// Generate sends the prompt as a single user turn.
func (g *GenAIClient) Generate(ctx context.Context, prompt string, opts GenerateOptions) (*Completion, error) {
	model := opts.Model
	if model == "" || !strings.HasPrefix(model, "gemini") {
		model = DefaultGenAIModel
	}

	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(opts.Temperature)),
	}
	if opts.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(opts.MaxTokens)
	}

	start := time.Now()
	resp, err := g.client.Models.GenerateContent(ctx, model, genai.Text(prompt), cfg)
	if err != nil {
		return nil, fmt.Errorf("GenAI generate failed: %w", err)
	}

	completion := &Completion{
		Content:        strings.TrimSpace(resp.Text()),
		Model:          model,
		ProcessingTime: time.Since(start),
	}
	if resp.ModelVersion != "" {
		completion.Model = resp.ModelVersion
	}
	if resp.UsageMetadata != nil {
		completion.Tokens = int(resp.UsageMetadata.TotalTokenCount)
	}
	return completion, nil
}
