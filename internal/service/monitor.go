package service

import (
	"context"
	"time"

	"github.com/xiaot623/autoreply/internal/domain"
	"go.uber.org/zap"
)

const pairingTimeoutReason = "pairing timed out"

// RunPairingMonitor retires sessions that stay in pairing past the pairing
// timeout, counted from session creation so QR refreshes do not extend it.
// It returns when ctx is done.
func (s *Service) RunPairingMonitor(ctx context.Context, interval time.Duration) {
	if s.config.PairingTimeout <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepStalePairings(ctx)
		}
	}
}

func (s *Service) sweepStalePairings(ctx context.Context) {
	sweepCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	cutoff := s.now().Add(-s.config.PairingTimeout)
	stale, err := s.store.ListStaleSessions(sweepCtx, domain.SessionStatusPairing, cutoff)
	if err != nil {
		s.logger.Warn("pairing sweep failed", zap.Error(err))
		return
	}

	for i := range stale {
		session := &stale[i]
		lock := s.userLock(session.UserID)
		lock.Lock()

		current, err := s.store.GetSession(sweepCtx, session.SessionID)
		if err != nil || current == nil || !current.Active ||
			current.Status != domain.SessionStatusPairing || !current.CreatedAt.Before(cutoff) {
			// Progressed or retired since the listing.
			lock.Unlock()
			continue
		}

		s.teardown(sweepCtx, session.SessionID)
		if err := s.retire(sweepCtx, current, pairingTimeoutReason); err != nil {
			s.logger.Warn("failed to retire stale pairing", zap.String("session_id", session.SessionID), zap.Error(err))
		}
		lock.Unlock()
	}
}
