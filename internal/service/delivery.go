package service

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/xiaot623/autoreply/internal/adapter/transport"
	"github.com/xiaot623/autoreply/internal/domain"
	"go.uber.org/zap"
)

// respond builds the prompt, generates a reply and delivers it. It runs in
// its own goroutine per admitted message.
func (s *Service) respond(ctx context.Context, session *domain.Session, cfg *domain.AutomationConfig, inbound *domain.Message) {
	logger := s.logger.With(
		zap.String("session_id", session.SessionID),
		zap.String("message_id", inbound.MessageID),
		zap.String("chat_id", inbound.ChatID))

	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic while replying", zap.Any("panic", r), zap.Stack("stack"))
			s.markFailed(inbound, fmt.Sprintf("panic: %v", r), logger)
		}
	}()

	history, err := s.store.ChatHistory(ctx, inbound.UserID, inbound.ChatID, inbound.CreatedAt, inbound.MessageID, cfg.ContextLimit)
	if err != nil {
		// Answer without context rather than not at all.
		logger.Warn("failed to load chat history", zap.Error(err))
		history = nil
	}

	prompt := BuildPrompt(cfg, session.PersonaOverride, history, inbound.Content)
	reply := s.generateReply(ctx, cfg, prompt)
	s.deliver(ctx, session, cfg, inbound, reply, logger)
}

// deliver waits a humanized delay, sends the reply and records the outcome.
// A failed send leaves the inbound message in processing.
func (s *Service) deliver(ctx context.Context, session *domain.Session, cfg *domain.AutomationConfig, inbound *domain.Message, reply Reply, logger *zap.Logger) {
	lo, hi := cfg.DelayBounds()
	delay := s.delay(lo, hi)

	if err := sleep(ctx, delay); err != nil {
		logger.Info("reply abandoned before send", zap.Duration("delay", delay), zap.Error(err))
		return
	}

	opts := transport.SendOptions{}
	if cfg.TypingIndicator {
		opts.SimulateTyping = true
		opts.TypingDuration = min(delay, s.config.TypingMaxDuration)
	}

	sctx, cancel := context.WithTimeout(ctx, s.config.SendTimeout+opts.TypingDuration)
	defer cancel()

	res, err := s.transport.SendMessage(sctx, session.SessionID, inbound.ChatID, reply.Content, opts)
	if err == nil && !res.Success {
		err = fmt.Errorf("send rejected: %s", res.Error)
	}

	// Record with a fresh context: the outcome must be kept even on shutdown.
	rctx, rcancel := context.WithTimeout(context.Background(), s.config.SendTimeout)
	defer rcancel()

	if err != nil {
		logger.Warn("reply send failed", zap.Error(err))
		metadata := mergeMetadata(inbound.Metadata, reply.Metadata)
		metadata["send_error"] = err.Error()
		if uerr := s.store.UpdateMessage(rctx, inbound.MessageID, domain.MessageUpdate{Metadata: metadata}); uerr != nil {
			logger.Error("failed to record send error", zap.Error(uerr))
		}
		return
	}

	now := s.now()
	externalID := res.MessageID
	if externalID == "" {
		externalID = newID("local")
	}
	outbound := &domain.Message{
		MessageID:   newID("msg"),
		SessionID:   session.SessionID,
		UserID:      session.UserID,
		ExternalID:  externalID,
		ChatID:      inbound.ChatID,
		Direction:   domain.DirectionOutbound,
		ContactID:   inbound.ContactID,
		ContactName: inbound.ContactName,
		Content:     reply.Content,
		Kind:        domain.MessageKindText,
		IsGroup:     inbound.IsGroup,
		Status:      domain.MessageStatusSent,
		ReplyToID:   inbound.MessageID,
		Metadata:    mergeMetadata(nil, reply.Metadata),
		SentAt:      &now,
		CreatedAt:   now,
	}
	outbound.Metadata["delay_ms"] = delay.Milliseconds()
	if err := s.store.CreateMessage(rctx, outbound); err != nil {
		logger.Error("failed to record outbound message", zap.Error(err))
		return
	}

	if err := s.store.UpdateMessage(rctx, inbound.MessageID, domain.MessageUpdate{
		Status:         domain.MessageStatusReplied,
		ReplyMessageID: outbound.MessageID,
		Metadata:       mergeMetadata(inbound.Metadata, reply.Metadata),
		ProcessedAt:    &now,
	}); err != nil {
		logger.Error("failed to mark inbound replied", zap.Error(err))
	}
	if err := s.store.TouchSession(rctx, session.SessionID, now); err != nil {
		logger.Warn("failed to stamp session activity", zap.Error(err))
	}

	s.publish(domain.EventTypeMessage, session, func(evt *domain.StatusEvent) {
		evt.MessageID = outbound.MessageID
		evt.ChatID = outbound.ChatID
	})
	logger.Info("reply sent",
		zap.String("reply_message_id", outbound.MessageID),
		zap.Duration("delay", delay),
		zap.Bool("fallback", reply.Fallback))
}

// markFailed moves the inbound message to error after an unexpected failure.
func (s *Service) markFailed(inbound *domain.Message, reason string, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	now := s.now()
	metadata := mergeMetadata(inbound.Metadata, map[string]interface{}{
		"error":         true,
		"error_message": reason,
	})
	if err := s.store.UpdateMessage(ctx, inbound.MessageID, domain.MessageUpdate{
		Status:      domain.MessageStatusError,
		Metadata:    metadata,
		ProcessedAt: &now,
	}); err != nil {
		logger.Error("failed to mark message error", zap.Error(err))
	}
}

// uniformDelay picks a delay uniformly in [lo, hi].
func uniformDelay(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + rand.N(hi-lo+1)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func mergeMetadata(base, extra map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}
