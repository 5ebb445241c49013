package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/xiaot623/autoreply/internal/adapter/transport"
	"github.com/xiaot623/autoreply/internal/domain"
	"go.uber.org/zap"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// ListMessages returns one page of the user's ledger, newest first.
func (s *Service) ListMessages(ctx context.Context, userID string, filter domain.MessageFilter) (*domain.MessagePage, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultPageSize
	}
	if filter.Limit > maxPageSize {
		filter.Limit = maxPageSize
	}
	if filter.Page > 0 {
		filter.Offset = (filter.Page - 1) * filter.Limit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	messages, total, err := s.store.ListMessages(ctx, userID, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	if messages == nil {
		messages = []domain.Message{}
	}
	return &domain.MessagePage{
		Messages: messages,
		Total:    total,
		Page:     filter.Offset/filter.Limit + 1,
		Limit:    filter.Limit,
		HasMore:  filter.Offset+len(messages) < total,
	}, nil
}

// SendManual sends an operator-authored message through the connected
// session, bypassing every automation gate.
func (s *Service) SendManual(ctx context.Context, userID string, req domain.ManualSendRequest) (*domain.Message, error) {
	req.ChatID = strings.TrimSpace(req.ChatID)
	if req.ChatID == "" || strings.TrimSpace(req.Content) == "" {
		return nil, fmt.Errorf("%w: chat_id and content are required", ErrInvalidInput)
	}

	session, err := s.activeSession(ctx, userID)
	if err != nil {
		return nil, err
	}
	if session.Status != domain.SessionStatusConnected {
		return nil, ErrSessionNotConnected
	}

	sctx, cancel := context.WithTimeout(ctx, s.config.SendTimeout)
	defer cancel()

	now := s.now()
	msg := &domain.Message{
		MessageID: newID("msg"),
		SessionID: session.SessionID,
		UserID:    userID,
		ChatID:    req.ChatID,
		Direction: domain.DirectionOutbound,
		ContactID: domain.NormalizeContact(req.ChatID),
		Content:   req.Content,
		Kind:      domain.MessageKindText,
		IsGroup:   strings.HasSuffix(req.ChatID, domain.GroupChatSuffix),
		Metadata:  map[string]interface{}{"manual": true},
		CreatedAt: now,
	}
	if req.QuotedMessageID != "" {
		msg.Metadata["quoted_message_id"] = req.QuotedMessageID
	}

	res, sendErr := s.transport.SendMessage(sctx, session.SessionID, req.ChatID, req.Content, transport.SendOptions{
		QuotedMessageID: req.QuotedMessageID,
	})
	if sendErr == nil && !res.Success {
		sendErr = fmt.Errorf("send rejected: %s", res.Error)
	}

	if sendErr != nil {
		msg.ExternalID = newID("local")
		msg.Status = domain.MessageStatusError
		msg.Metadata["error"] = true
		msg.Metadata["error_message"] = sendErr.Error()
	} else {
		msg.ExternalID = res.MessageID
		if msg.ExternalID == "" {
			msg.ExternalID = newID("local")
		}
		msg.Status = domain.MessageStatusSent
		msg.SentAt = &now
	}

	if err := s.store.CreateMessage(ctx, msg); err != nil {
		s.logger.Error("failed to record manual message", zap.String("session_id", session.SessionID), zap.Error(err))
		if sendErr == nil {
			return nil, fmt.Errorf("message sent but not recorded: %w", err)
		}
	}
	if sendErr != nil {
		return nil, fmt.Errorf("failed to send message: %w", sendErr)
	}

	if err := s.store.TouchSession(ctx, session.SessionID, now); err != nil {
		s.logger.Warn("failed to stamp session activity", zap.Error(err))
	}
	s.publish(domain.EventTypeMessage, session, func(evt *domain.StatusEvent) {
		evt.MessageID = msg.MessageID
		evt.ChatID = msg.ChatID
	})
	return msg, nil
}
