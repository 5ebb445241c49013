package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xiaot623/autoreply/internal/adapter/transport"
	"github.com/xiaot623/autoreply/internal/domain"
)

func TestStartSessionPairingFlow(t *testing.T) {
	f := newFixture(t)
	f.transport.AutoConnect = false
	ctx := context.Background()

	res, err := f.svc.StartSession(ctx, "u1", domain.StartOptions{PersonaOverride: "be brief"})
	require.NoError(t, err)
	assert.Equal(t, "pairing requested", res.Message)
	assert.Contains(t, res.SessionID, "wa_")

	require.Eventually(t, func() bool {
		qr, err := f.svc.GetQR(ctx, "u1")
		return err == nil && qr.Status == domain.SessionStatusPairing && qr.QRCode != ""
	}, waitFor, tick)
	assert.NotEmpty(t, f.notifier.ofType(domain.EventTypeQR))

	cfg, err := f.store.GetConfig(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, cfg, "start must create the default config")

	require.NoError(t, f.transport.Emit(res.SessionID, domain.ReadyEvent{PhoneNumber: "5511912345678"}))
	require.Eventually(t, func() bool {
		s, err := f.svc.GetStatus(ctx, "u1")
		return err == nil && s.Status == domain.SessionStatusConnected
	}, waitFor, tick)

	session, err := f.svc.GetStatus(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "5511912345678", session.PhoneNumber)
	assert.Empty(t, session.QRCode)
	assert.NotNil(t, session.ConnectedAt)
	assert.Equal(t, "be brief", session.PersonaOverride)
	assert.True(t, session.AutoReplyEnabled)
	assert.False(t, session.IsPaused)
}

func TestStartSessionReplacesPrevious(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.connect(t, "u1")
	second := f.connect(t, "u1")
	require.NotEqual(t, first, second)

	old, err := f.store.GetSession(ctx, first)
	require.NoError(t, err)
	assert.False(t, old.Active)
	assert.Equal(t, domain.SessionStatusDisconnected, old.Status)
	assert.Contains(t, f.transport.Disconnected(), first)
	assert.False(t, f.transport.HasClient(first))

	active, err := f.store.GetActiveSession(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, second, active.SessionID)
}

func TestStartSessionTransportFailure(t *testing.T) {
	f := newFixture(t)
	f.transport.CreateErr = errors.New("browser crashed")
	ctx := context.Background()

	_, err := f.svc.StartSession(ctx, "u1", domain.StartOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "browser crashed")

	session, err := f.store.GetActiveSession(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, session)
	assert.Equal(t, domain.SessionStatusError, session.Status)
	assert.Equal(t, "browser crashed", session.LastError)

	// A new start recovers from error.
	f.transport.CreateErr = nil
	f.connect(t, "u1")
}

func TestStartSessionRequiresUser(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.StartSession(context.Background(), "", domain.StartOptions{})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestDisconnectSessionIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sessionID := f.connect(t, "u1")

	require.NoError(t, f.svc.DisconnectSession(ctx, "u1"))
	require.NoError(t, f.svc.DisconnectSession(ctx, "u1"))

	session, err := f.store.GetSession(ctx, sessionID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionStatusDisconnected, session.Status)
	assert.False(t, session.Active)
	assert.NotNil(t, session.DisconnectedAt)

	status, err := f.svc.GetStatus(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, domain.SessionStatusDisconnected, status.Status)

	assert.ErrorIs(t, f.transport.Deliver("u1", textFrom("ext-after", "5511999990020", "hi")), transport.ErrUnknownSession)
	_, err = f.svc.TogglePause(ctx, "u1")
	assert.ErrorIs(t, err, ErrNoActiveSession)
}

func TestDisconnectSurvivesTransportError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sessionID := f.connect(t, "u1")
	f.transport.DisconnectErr = errors.New("already gone")

	require.NoError(t, f.svc.DisconnectSession(ctx, "u1"))

	session, err := f.store.GetSession(ctx, sessionID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionStatusDisconnected, session.Status)
	assert.False(t, session.Active)
}

func TestRemoteDisconnectKeepsData(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sessionID := f.connect(t, "u1")

	in := textFrom("ext-keep", "5511999990021", "hi")
	f.deliver(t, "u1", in)
	require.Eventually(t, func() bool { return len(f.transport.Sent()) == 1 }, waitFor, tick)

	require.NoError(t, f.transport.Emit(sessionID, domain.DisconnectedEvent{Reason: "connection lost"}))
	require.Eventually(t, func() bool {
		s, err := f.store.GetSession(ctx, sessionID)
		return err == nil && s.Status == domain.SessionStatusDisconnected
	}, waitFor, tick)

	session, err := f.store.GetSession(ctx, sessionID)
	require.NoError(t, err)
	assert.NotNil(t, session.DisconnectedAt)
	assert.Len(t, f.messages(t, "u1", in.ChatID), 2)

	cfg, err := f.store.GetConfig(ctx, "u1")
	require.NoError(t, err)
	assert.NotNil(t, cfg)
}

func TestAuthFailureMovesToError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sessionID := f.connect(t, "u1")

	require.NoError(t, f.transport.Emit(sessionID, domain.AuthFailureEvent{Reason: "logged out from phone"}))
	require.Eventually(t, func() bool {
		s, err := f.store.GetSession(ctx, sessionID)
		return err == nil && s.Status == domain.SessionStatusError
	}, waitFor, tick)

	session, err := f.store.GetSession(ctx, sessionID)
	require.NoError(t, err)
	assert.Equal(t, "logged out from phone", session.LastError)

	// Terminal: later events are not applied.
	_ = f.transport.Emit(sessionID, domain.ReadyEvent{PhoneNumber: "1"})
	time.Sleep(50 * time.Millisecond)
	session, err = f.store.GetSession(ctx, sessionID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionStatusError, session.Status)
}

func TestUpdateSessionSettings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.connect(t, "u1")

	_, err := f.svc.UpdateSessionSettings(ctx, "u1", domain.SessionSettings{})
	assert.ErrorIs(t, err, ErrInvalidInput)

	persona := "answer like a pirate"
	paused := true
	session, err := f.svc.UpdateSessionSettings(ctx, "u1", domain.SessionSettings{PersonaOverride: &persona, IsPaused: &paused})
	require.NoError(t, err)
	assert.Equal(t, persona, session.PersonaOverride)
	assert.True(t, session.IsPaused)
	assert.True(t, session.AutoReplyEnabled)

	stored, err := f.store.GetActiveSession(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, persona, stored.PersonaOverride)
	assert.True(t, stored.IsPaused)
}

func TestConfigLazyDefaultsAndValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cfg, err := f.svc.GetConfig(ctx, "u9")
	require.NoError(t, err)
	assert.Equal(t, "u9", cfg.UserID)
	assert.Equal(t, f.cfg.Defaults.MaxMessagesPerChatPerHour, cfg.MaxMessagesPerChatPerHour)

	cfg.ResponseDelayMinMs = 5000
	cfg.ResponseDelayMaxMs = 1000
	_, err = f.svc.UpdateConfig(ctx, "u9", cfg)
	assert.ErrorIs(t, err, ErrInvalidInput)

	cfg.ResponseDelayMaxMs = 9000
	cfg.Tone = "formal"
	updated, err := f.svc.UpdateConfig(ctx, "u9", cfg)
	require.NoError(t, err)
	assert.Equal(t, "formal", updated.Tone)
	assert.Equal(t, 9000, updated.ResponseDelayMaxMs)
}

func TestPairingMonitorRetiresStaleSessions(t *testing.T) {
	f := newFixture(t)
	f.transport.AutoConnect = false
	ctx := context.Background()

	res, err := f.svc.StartSession(ctx, "u1", domain.StartOptions{})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		s, err := f.store.GetSession(ctx, res.SessionID)
		return err == nil && s.Status == domain.SessionStatusPairing
	}, waitFor, tick)

	f.svc.sweepStalePairings(ctx)
	session, err := f.store.GetSession(ctx, res.SessionID)
	require.NoError(t, err)
	assert.True(t, session.Active, "fresh pairing must survive the sweep")

	f.svc.now = func() time.Time { return time.Now().Add(time.Hour) }
	f.svc.sweepStalePairings(ctx)

	session, err = f.store.GetSession(ctx, res.SessionID)
	require.NoError(t, err)
	assert.False(t, session.Active)
	assert.Equal(t, domain.SessionStatusDisconnected, session.Status)
	assert.Equal(t, pairingTimeoutReason, session.LastError)
	assert.Contains(t, f.transport.Disconnected(), res.SessionID)
}

func TestCloseStopsActors(t *testing.T) {
	f := newFixture(t)
	f.svc.delay = func(lo, hi time.Duration) time.Duration { return time.Hour }
	f.connect(t, "u1")

	in := textFrom("ext-close", "5511999990022", "hi")
	f.deliver(t, "u1", in)
	require.Eventually(t, func() bool {
		return len(byDirection(f.messages(t, "u1", in.ChatID), domain.DirectionInbound)) == 1
	}, waitFor, tick)

	done := make(chan struct{})
	go func() {
		f.svc.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(waitFor):
		t.Fatal("Close did not return")
	}

	msgs := f.messages(t, "u1", in.ChatID)
	require.Len(t, msgs, 1)
	assert.Equal(t, domain.MessageStatusProcessing, msgs[0].Status)

	_, err := f.svc.StartSession(context.Background(), "u2", domain.StartOptions{})
	assert.ErrorIs(t, err, ErrClosed)
}
