package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xiaot623/autoreply/internal/domain"
	"github.com/xiaot623/autoreply/internal/repository"
	"github.com/xiaot623/autoreply/policy"
	"go.uber.org/zap"
)

// Action is the outcome of admission.
type Action string

const (
	// ActionProcess means the message was recorded as processing and gets a reply.
	ActionProcess Action = "process"
	// ActionIgnore means the message was recorded as ignored for audit.
	ActionIgnore Action = "ignore"
	// ActionDrop means nothing was recorded.
	ActionDrop Action = "drop"
)

// Drop reasons. Ignore reasons live in domain.IgnoreReason.
const (
	DropDuplicate       = "duplicate"
	DropMissingID       = "missing_external_id"
	DropFromMe          = "from_me"
	DropAutoReplyOff    = "auto_reply_disabled"
	DropPaused          = "paused"
	DropChatRateLimited = "chat_rate_limited"
	DropUserRateLimited = "user_rate_limited"
)

const rateLimitWindow = time.Hour

// Decision is the admission verdict for one inbound message.
type Decision struct {
	Action  Action
	Reason  string
	Message *domain.Message
	Config  *domain.AutomationConfig
}

func drop(reason string) Decision {
	return Decision{Action: ActionDrop, Reason: reason}
}

// handleInbound admits a message and, if it survives, schedules the reply in
// its own goroutine so a sleeping reply never blocks the actor.
func (s *Service) handleInbound(ctx context.Context, session *domain.Session, in domain.InboundMessage, logger *zap.Logger) {
	logger = logger.With(zap.String("external_id", in.ExternalID), zap.String("chat_id", in.ChatID))

	decision, err := s.admit(ctx, session, in)
	if err != nil {
		logger.Error("admission failed", zap.Error(err))
		return
	}

	switch decision.Action {
	case ActionDrop:
		logger.Debug("inbound dropped", zap.String("reason", decision.Reason))
		return
	case ActionIgnore:
		logger.Info("inbound ignored", zap.String("reason", decision.Reason))
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.replies.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.replies.Done()
		s.respond(ctx, session, decision.Config, decision.Message)
	}()
}

// admit runs the inbound pipeline in order, short-circuiting on the first
// rejection: duplicate, gate, content class, access, keywords, custom policy,
// rate limits. Survivors are recorded as processing before returning.
func (s *Service) admit(ctx context.Context, session *domain.Session, in domain.InboundMessage) (Decision, error) {
	// 1. Duplicate check.
	if in.ExternalID == "" {
		return drop(DropMissingID), nil
	}
	exists, err := s.store.MessageExists(ctx, in.ExternalID)
	if err != nil {
		return Decision{}, fmt.Errorf("duplicate check: %w", err)
	}
	if exists {
		return drop(DropDuplicate), nil
	}

	// 2. Gate. The session was read from storage for this event.
	switch {
	case in.FromMe:
		return drop(DropFromMe), nil
	case !session.AutoReplyEnabled:
		return drop(DropAutoReplyOff), nil
	case session.IsPaused:
		return drop(DropPaused), nil
	}

	cfg, err := s.GetConfig(ctx, session.UserID)
	if err != nil {
		return Decision{}, err
	}

	// 3-5b. Filters that record an audit entry.
	if reason, meta, ignored, err := s.filter(ctx, session, cfg, in); err != nil {
		return Decision{}, err
	} else if ignored {
		msg, err := s.recordInbound(ctx, session, in, domain.MessageStatusIgnored, reason, meta)
		if errors.Is(err, repository.ErrDuplicateMessage) {
			return drop(DropDuplicate), nil
		}
		if err != nil {
			return Decision{}, err
		}
		return Decision{Action: ActionIgnore, Reason: string(reason), Message: msg, Config: cfg}, nil
	}

	// 7. Rate limits over the trailing hour. Zero disables a limit.
	since := s.now().Add(-rateLimitWindow)
	if cfg.MaxMessagesPerChatPerHour > 0 {
		n, err := s.store.CountInbound(ctx, session.UserID, in.ChatID, since, domain.RateLimitedStatuses)
		if err != nil {
			return Decision{}, fmt.Errorf("chat rate count: %w", err)
		}
		if n >= cfg.MaxMessagesPerChatPerHour {
			return drop(DropChatRateLimited), nil
		}
	}
	if cfg.MaxMessagesPerHour > 0 {
		n, err := s.store.CountInbound(ctx, session.UserID, "", since, domain.RateLimitedStatuses)
		if err != nil {
			return Decision{}, fmt.Errorf("user rate count: %w", err)
		}
		if n >= cfg.MaxMessagesPerHour {
			return drop(DropUserRateLimited), nil
		}
	}

	msg, err := s.recordInbound(ctx, session, in, domain.MessageStatusProcessing, "", nil)
	if errors.Is(err, repository.ErrDuplicateMessage) {
		return drop(DropDuplicate), nil
	}
	if err != nil {
		return Decision{}, err
	}
	return Decision{Action: ActionProcess, Message: msg, Config: cfg}, nil
}

// filter applies content class, access control, keyword and policy checks.
func (s *Service) filter(ctx context.Context, session *domain.Session, cfg *domain.AutomationConfig, in domain.InboundMessage) (domain.IgnoreReason, map[string]interface{}, bool, error) {
	contact := in.Contact()

	switch {
	case in.IsGroupChat() && cfg.IgnoreGroups:
		return domain.IgnoreReasonGroup, nil, true, nil
	case (in.HasMedia || in.Kind == domain.MessageKindMedia) && cfg.IgnoreMedia:
		return domain.IgnoreReasonMedia, nil, true, nil
	case in.Kind != domain.MessageKindText:
		return domain.IgnoreReasonNotText, nil, true, nil
	case cfg.IsContactBlocked(contact):
		return domain.IgnoreReasonBlockedContact, nil, true, nil
	case !cfg.IsContactAllowed(contact):
		return domain.IgnoreReasonNotAllowed, nil, true, nil
	}

	if kw, ok := cfg.MatchBlockedKeyword(in.Content); ok {
		return domain.IgnoreReasonKeyword, map[string]interface{}{"blocked_keyword": kw}, true, nil
	}

	if s.policyEngine != nil {
		received := in.Timestamp
		if received.IsZero() {
			received = s.now()
		}
		decision, err := s.policyEngine.Evaluate(ctx, policy.Input{
			UserID:      session.UserID,
			ChatID:      in.ChatID,
			Contact:     contact,
			ContactName: in.ContactName,
			Content:     in.Content,
			Kind:        string(in.Kind),
			IsGroup:     in.IsGroupChat(),
			Hour:        received.Local().Hour(),
			Weekday:     received.Local().Weekday().String(),
			Persona: map[string]interface{}{
				"tone":     cfg.Tone,
				"style":    cfg.Style,
				"language": cfg.Language,
			},
		})
		if err != nil {
			// A broken policy must not silence the account.
			s.logger.Warn("policy evaluation failed, allowing", zap.Error(err))
			return "", nil, false, nil
		}
		if !decision.Allowed() {
			meta := map[string]interface{}{"policy_decision": decision.Decision}
			if decision.Reason != "" {
				meta["policy_reason"] = decision.Reason
			}
			return domain.IgnoreReasonPolicy, meta, true, nil
		}
	}

	return "", nil, false, nil
}

func (s *Service) recordInbound(ctx context.Context, session *domain.Session, in domain.InboundMessage, status domain.MessageStatus, reason domain.IgnoreReason, extra map[string]interface{}) (*domain.Message, error) {
	now := s.now()
	received := in.Timestamp
	if received.IsZero() {
		received = now
	}

	metadata := make(map[string]interface{}, len(in.Metadata)+len(extra))
	for k, v := range in.Metadata {
		metadata[k] = v
	}
	for k, v := range extra {
		metadata[k] = v
	}

	msg := &domain.Message{
		MessageID:    newID("msg"),
		SessionID:    session.SessionID,
		UserID:       session.UserID,
		ExternalID:   in.ExternalID,
		ChatID:       in.ChatID,
		Direction:    domain.DirectionInbound,
		ContactID:    in.Contact(),
		ContactName:  in.ContactName,
		Content:      in.Content,
		Kind:         in.Kind,
		IsGroup:      in.IsGroupChat(),
		Status:       status,
		IgnoreReason: reason,
		Metadata:     metadata,
		ReceivedAt:   &received,
		CreatedAt:    now,
	}
	if status == domain.MessageStatusIgnored {
		msg.ProcessedAt = &now
	}
	if err := s.store.CreateMessage(ctx, msg); err != nil {
		return nil, err
	}
	return msg, nil
}
