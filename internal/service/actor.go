package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/xiaot623/autoreply/internal/domain"
	"go.uber.org/zap"
)

const actorBuffer = 64

// sessionActor is the single consumer of one session's transport events.
type sessionActor struct {
	sessionID string
	userID    string
	events    chan domain.Event
	quit      chan struct{}
	done      chan struct{}
	stopOnce  sync.Once
}

func newSessionActor(session *domain.Session) *sessionActor {
	return &sessionActor{
		sessionID: session.SessionID,
		userID:    session.UserID,
		events:    make(chan domain.Event, actorBuffer),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// sink is handed to the transport. It blocks while the buffer is full and
// drops the event once the actor has stopped.
func (a *sessionActor) sink(evt domain.Event) {
	select {
	case a.events <- evt:
	case <-a.quit:
	case <-a.done:
	}
}

func (a *sessionActor) stop() {
	a.stopOnce.Do(func() { close(a.quit) })
}

// startActor registers and runs the actor for a freshly claimed session.
func (s *Service) startActor(session *domain.Session) (*sessionActor, error) {
	a := newSessionActor(session)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	s.actors[a.sessionID] = a
	s.mu.Unlock()

	go s.runActor(a)
	return a, nil
}

// stopActor stops the session's actor, if any, and waits for it to exit.
func (s *Service) stopActor(sessionID string) {
	s.mu.Lock()
	a, ok := s.actors[sessionID]
	s.mu.Unlock()
	if !ok {
		return
	}
	a.stop()
	<-a.done
}

func (s *Service) removeActor(a *sessionActor) {
	s.mu.Lock()
	if s.actors[a.sessionID] == a {
		delete(s.actors, a.sessionID)
	}
	s.mu.Unlock()
}

func (s *Service) runActor(a *sessionActor) {
	defer close(a.done)
	defer s.removeActor(a)

	logger := s.logger.With(zap.String("session_id", a.sessionID), zap.String("user_id", a.userID))
	logger.Debug("session actor started")

	for {
		select {
		case <-a.quit:
			logger.Debug("session actor stopped")
			return
		case <-s.baseCtx.Done():
			return
		case evt := <-a.events:
			if s.handleEvent(s.baseCtx, a, evt, logger) {
				logger.Info("session reached terminal status, actor exiting")
				return
			}
		}
	}
}

// handleEvent applies one event. It returns true when the session entered a
// terminal status. Panics are logged and swallowed so the loop keeps running.
func (s *Service) handleEvent(ctx context.Context, a *sessionActor, evt domain.Event, logger *zap.Logger) (stop bool) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic while handling session event",
				zap.String("event", evt.Name()), zap.Any("panic", r), zap.Stack("stack"))
			stop = false
		}
	}()

	session, err := s.store.GetSession(ctx, a.sessionID)
	if err != nil {
		logger.Error("failed to load session", zap.String("event", evt.Name()), zap.Error(err))
		return false
	}
	if session == nil || !session.Active {
		// Retired by a newer start; nothing more to do for this client.
		return true
	}

	next, ok := nextStatus(session.Status, evt)
	if !ok {
		logger.Debug("ignoring event",
			zap.String("event", evt.Name()), zap.String("status", string(session.Status)))
		return false
	}

	if e, isMsg := evt.(domain.MessageEvent); isMsg {
		s.handleInbound(ctx, session, e.Message, logger)
		return false
	}

	if err := s.applyTransition(ctx, session, evt, next); err != nil {
		logger.Error("failed to apply transition",
			zap.String("event", evt.Name()), zap.String("to", string(next)), zap.Error(err))
		return false
	}
	logger.Info("session transition",
		zap.String("event", evt.Name()), zap.String("from", string(session.Status)), zap.String("to", string(next)))
	return isTerminal(next)
}

// applyTransition persists a lifecycle event and publishes it.
func (s *Service) applyTransition(ctx context.Context, session *domain.Session, evt domain.Event, next domain.SessionStatus) error {
	now := s.now()
	update := domain.StatusUpdate{Status: next}
	eventType := domain.EventTypeSessionStatus
	var eventErr string

	switch e := evt.(type) {
	case domain.QREvent:
		update.QRCode = &e.Code
		eventType = domain.EventTypeQR
		session.QRCode = e.Code
	case domain.ReadyEvent:
		empty := ""
		update.QRCode = &empty
		update.LastError = &empty
		update.ConnectedAt = &now
		if e.PhoneNumber != "" {
			update.PhoneNumber = &e.PhoneNumber
			session.PhoneNumber = e.PhoneNumber
		}
		session.QRCode = ""
	case domain.DisconnectedEvent:
		update.DisconnectedAt = &now
		if e.Reason != "" {
			update.LastError = &e.Reason
			eventErr = e.Reason
		}
	case domain.AuthFailureEvent:
		reason := e.Reason
		if reason == "" {
			reason = "authentication failed"
		}
		update.LastError = &reason
		update.DisconnectedAt = &now
		eventErr = reason
	default:
		return fmt.Errorf("unexpected event %T", evt)
	}

	if err := s.store.UpdateSessionStatus(ctx, session.SessionID, update); err != nil {
		return err
	}

	session.Status = next
	s.publish(eventType, session, func(se *domain.StatusEvent) {
		se.QRCode = session.QRCode
		se.Error = eventErr
	})
	return nil
}
