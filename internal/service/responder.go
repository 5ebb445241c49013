package service

import (
	"context"
	"errors"
	"strings"

	"github.com/xiaot623/autoreply/internal/adapter/llm"
	"github.com/xiaot623/autoreply/internal/domain"
	"go.uber.org/zap"
)

// Reply is the text to send plus what is recorded about how it was made.
type Reply struct {
	Content  string
	Metadata map[string]interface{}
	Fallback bool
}

var errEmptyCompletion = errors.New("empty completion")

// generateReply asks the completer for a reply. It never fails: errors and
// empty completions yield the fallback reply flagged with error metadata.
func (s *Service) generateReply(ctx context.Context, cfg *domain.AutomationConfig, prompt string) Reply {
	gctx, cancel := context.WithTimeout(ctx, s.config.LLMTimeout)
	defer cancel()

	completion, err := s.completer.Generate(gctx, prompt, llm.GenerateOptions{
		Model:       cfg.ModelName,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
	})
	if err == nil && strings.TrimSpace(completion.Content) == "" {
		err = errEmptyCompletion
	}
	if err != nil {
		s.logger.Warn("generation failed, using fallback reply",
			zap.String("user_id", cfg.UserID), zap.String("model", cfg.ModelName), zap.Error(err))
		return s.fallbackReply(err)
	}

	return Reply{
		Content: strings.TrimSpace(completion.Content),
		Metadata: map[string]interface{}{
			"model":              completion.Model,
			"tokens":             completion.Tokens,
			"processing_time_ms": completion.ProcessingTime.Milliseconds(),
		},
	}
}

func (s *Service) fallbackReply(cause error) Reply {
	return Reply{
		Content: s.config.FallbackReply,
		Metadata: map[string]interface{}{
			"error":         true,
			"error_message": cause.Error(),
			"fallback":      true,
		},
		Fallback: true,
	}
}
