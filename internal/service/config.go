package service

import (
	"context"
	"fmt"

	"github.com/xiaot623/autoreply/internal/domain"
	"go.uber.org/zap"
)

// GetConfig returns the user's automation config, creating it from the
// configured defaults on first use.
func (s *Service) GetConfig(ctx context.Context, userID string) (*domain.AutomationConfig, error) {
	cfg, err := s.store.GetConfig(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if cfg != nil {
		return cfg, nil
	}

	cfg = s.config.Defaults.WithDefaults(userID)
	if err := s.store.UpsertConfig(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to create default config: %w", err)
	}
	s.logger.Info("created default automation config", zap.String("user_id", userID))
	return cfg, nil
}

// UpdateConfig validates and stores the user's config. Last write wins.
func (s *Service) UpdateConfig(ctx context.Context, userID string, cfg *domain.AutomationConfig) (*domain.AutomationConfig, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: config is required", ErrInvalidInput)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	cfg.UserID = userID
	if err := s.store.UpsertConfig(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to save config: %w", err)
	}
	return s.GetConfig(ctx, userID)
}
