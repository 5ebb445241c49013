package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/xiaot623/autoreply/internal/adapter/transport"
	"github.com/xiaot623/autoreply/internal/domain"
	"github.com/xiaot623/autoreply/internal/repository"
	"go.uber.org/zap"
)

// StartSession claims a new session for the user and requests pairing.
// Any previous session is torn down first. The QR code arrives asynchronously.
func (s *Service) StartSession(ctx context.Context, userID string, opts domain.StartOptions) (*domain.StartResult, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}

	lock := s.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	previous, err := s.store.GetActiveSession(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load active session: %w", err)
	}
	previousID := ""
	if previous != nil {
		previousID = previous.SessionID
		s.teardown(ctx, previous.SessionID)
	}

	if _, err := s.GetConfig(ctx, userID); err != nil {
		return nil, err
	}

	now := s.now()
	autoReply := true
	if opts.AutoReplyEnabled != nil {
		autoReply = *opts.AutoReplyEnabled
	}
	session := &domain.Session{
		SessionID:        newID("wa"),
		UserID:           userID,
		Status:           domain.SessionStatusDisconnected,
		AutoReplyEnabled: autoReply,
		PersonaOverride:  opts.PersonaOverride,
		Active:           true,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.store.ClaimSession(ctx, session, previousID); err != nil {
		if errors.Is(err, repository.ErrSessionConflict) {
			return nil, fmt.Errorf("another session was started concurrently: %w", err)
		}
		return nil, fmt.Errorf("failed to claim session: %w", err)
	}

	actor, err := s.startActor(session)
	if err != nil {
		return nil, err
	}

	logger := s.logger.With(zap.String("session_id", session.SessionID), zap.String("user_id", userID))
	res, err := s.transport.CreateClient(ctx, transport.ClientOptions{
		SessionID: session.SessionID,
		UserID:    userID,
		Sink:      actor.sink,
	})
	if err == nil && !res.Success {
		err = errors.New(res.Message)
	}
	if err != nil {
		s.stopActor(session.SessionID)
		reason := err.Error()
		if uerr := s.store.UpdateSessionStatus(ctx, session.SessionID, domain.StatusUpdate{
			Status:    domain.SessionStatusError,
			LastError: &reason,
		}); uerr != nil {
			logger.Error("failed to mark session error", zap.Error(uerr))
		}
		session.Status = domain.SessionStatusError
		s.publish(domain.EventTypeSessionStatus, session, func(evt *domain.StatusEvent) { evt.Error = reason })
		logger.Warn("transport refused client", zap.Error(err))
		return nil, fmt.Errorf("failed to create transport client: %w", err)
	}

	logger.Info("session started", zap.String("previous_session_id", previousID))
	return &domain.StartResult{
		SessionID: session.SessionID,
		Status:    session.Status,
		Message:   "pairing requested",
	}, nil
}

// DisconnectSession tears down the user's session. It is idempotent and
// marks the session disconnected even when the transport call fails.
func (s *Service) DisconnectSession(ctx context.Context, userID string) error {
	lock := s.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	session, err := s.store.GetActiveSession(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to load active session: %w", err)
	}
	if session == nil {
		return nil
	}

	s.teardown(ctx, session.SessionID)
	return s.retire(ctx, session, "")
}

// teardown stops the actor and asks the transport to drop the client.
// Transport failures are logged only.
func (s *Service) teardown(ctx context.Context, sessionID string) {
	s.stopActor(sessionID)

	tctx, cancel := context.WithTimeout(ctx, s.config.DisconnectTimeout)
	defer cancel()
	if err := s.transport.DisconnectClient(tctx, sessionID); err != nil {
		s.logger.Warn("transport disconnect failed",
			zap.String("session_id", sessionID), zap.Error(err))
	}
}

// retire marks the session disconnected and releases the user's claim.
func (s *Service) retire(ctx context.Context, session *domain.Session, reason string) error {
	now := s.now()
	update := domain.StatusUpdate{
		Status:         domain.SessionStatusDisconnected,
		DisconnectedAt: &now,
		Release:        true,
	}
	empty := ""
	update.QRCode = &empty
	if reason != "" {
		update.LastError = &reason
	}
	if err := s.store.UpdateSessionStatus(ctx, session.SessionID, update); err != nil {
		return fmt.Errorf("failed to mark session disconnected: %w", err)
	}

	session.Status = domain.SessionStatusDisconnected
	session.Active = false
	s.publish(domain.EventTypeSessionStatus, session, func(evt *domain.StatusEvent) { evt.Error = reason })
	s.logger.Info("session disconnected",
		zap.String("session_id", session.SessionID), zap.String("user_id", session.UserID), zap.String("reason", reason))
	return nil
}

// GetStatus returns the user's active session, or a bare disconnected
// session when there is none.
func (s *Service) GetStatus(ctx context.Context, userID string) (*domain.Session, error) {
	session, err := s.store.GetActiveSession(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load active session: %w", err)
	}
	if session == nil {
		return &domain.Session{UserID: userID, Status: domain.SessionStatusDisconnected}, nil
	}
	return session, nil
}

// GetQR returns the current pairing payload.
func (s *Service) GetQR(ctx context.Context, userID string) (*domain.QRResponse, error) {
	session, err := s.activeSession(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &domain.QRResponse{
		SessionID: session.SessionID,
		Status:    session.Status,
		QRCode:    session.QRCode,
	}, nil
}

// TogglePause flips the pause kill switch.
func (s *Service) TogglePause(ctx context.Context, userID string) (*domain.ToggleResponse, error) {
	return s.toggle(ctx, userID, func(session *domain.Session) domain.SessionSettings {
		paused := !session.IsPaused
		return domain.SessionSettings{IsPaused: &paused}
	})
}

// ToggleAutoReply flips the auto-reply kill switch.
func (s *Service) ToggleAutoReply(ctx context.Context, userID string) (*domain.ToggleResponse, error) {
	return s.toggle(ctx, userID, func(session *domain.Session) domain.SessionSettings {
		enabled := !session.AutoReplyEnabled
		return domain.SessionSettings{AutoReplyEnabled: &enabled}
	})
}

func (s *Service) toggle(ctx context.Context, userID string, flip func(*domain.Session) domain.SessionSettings) (*domain.ToggleResponse, error) {
	lock := s.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	session, err := s.activeSession(ctx, userID)
	if err != nil {
		return nil, err
	}
	updated, err := s.applySettings(ctx, session, flip(session))
	if err != nil {
		return nil, err
	}
	return &domain.ToggleResponse{
		SessionID:        updated.SessionID,
		AutoReplyEnabled: updated.AutoReplyEnabled,
		IsPaused:         updated.IsPaused,
	}, nil
}

// UpdateSessionSettings applies a partial update of the session's switches and persona.
func (s *Service) UpdateSessionSettings(ctx context.Context, userID string, settings domain.SessionSettings) (*domain.Session, error) {
	if settings.IsEmpty() {
		return nil, fmt.Errorf("%w: no settings given", ErrInvalidInput)
	}

	lock := s.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	session, err := s.activeSession(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.applySettings(ctx, session, settings)
}

func (s *Service) applySettings(ctx context.Context, session *domain.Session, settings domain.SessionSettings) (*domain.Session, error) {
	if err := s.store.UpdateSessionSettings(ctx, session.SessionID, settings); err != nil {
		return nil, fmt.Errorf("failed to update session settings: %w", err)
	}
	if settings.AutoReplyEnabled != nil {
		session.AutoReplyEnabled = *settings.AutoReplyEnabled
	}
	if settings.IsPaused != nil {
		session.IsPaused = *settings.IsPaused
	}
	if settings.PersonaOverride != nil {
		session.PersonaOverride = *settings.PersonaOverride
	}
	s.logger.Info("session settings updated",
		zap.String("session_id", session.SessionID),
		zap.Bool("auto_reply_enabled", session.AutoReplyEnabled),
		zap.Bool("is_paused", session.IsPaused))
	return session, nil
}

func (s *Service) activeSession(ctx context.Context, userID string) (*domain.Session, error) {
	session, err := s.store.GetActiveSession(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load active session: %w", err)
	}
	if session == nil {
		return nil, ErrNoActiveSession
	}
	return session, nil
}
