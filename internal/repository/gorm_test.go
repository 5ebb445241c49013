package repository

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xiaot623/autoreply/internal/domain"
)

func newTestGormStore(t *testing.T) *GormStore {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "autoreply.db")
	store, err := NewGormStore("sqlite", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestGormStoreClaimSession(t *testing.T) {
	ctx := context.Background()
	store := newTestGormStore(t)

	require.NoError(t, store.ClaimSession(ctx, newSession("s1", "u1"), ""))
	assert.ErrorIs(t, store.ClaimSession(ctx, newSession("s2", "u1"), ""), ErrSessionConflict)
	require.NoError(t, store.ClaimSession(ctx, newSession("s2", "u1"), "s1"))

	active, err := store.GetActiveSession(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, "s2", active.SessionID)
	assert.True(t, active.AutoReplyEnabled)

	old, err := store.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, old.Active)
	assert.NotNil(t, old.DisconnectedAt)

	missing, err := store.GetSession(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestGormStoreMessages(t *testing.T) {
	ctx := context.Background()
	store := newTestGormStore(t)
	require.NoError(t, store.ClaimSession(ctx, newSession("s1", "u1"), ""))

	base := time.Now().Add(-30 * time.Minute)
	for i := 0; i < 4; i++ {
		m := newInbound(fmt.Sprintf("m%d", i), "s1", "chat-a", domain.MessageStatusReplied, base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, store.CreateMessage(ctx, m))
	}

	dup := newInbound("m9", "s1", "chat-a", domain.MessageStatusProcessing, time.Now())
	dup.ExternalID = "ext-m0"
	assert.ErrorIs(t, store.CreateMessage(ctx, dup), ErrDuplicateMessage)

	n, err := store.CountInbound(ctx, "u1", "chat-a", time.Now().Add(-time.Hour), domain.RateLimitedStatuses)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	trigger, err := store.GetMessage(ctx, "m3")
	require.NoError(t, err)
	history, err := store.ChatHistory(ctx, "u1", "chat-a", trigger.CreatedAt, "m3", 2)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "m1", history[0].MessageID)
	assert.Equal(t, "m2", history[1].MessageID)

	require.NoError(t, store.UpdateMessage(ctx, "m3", domain.MessageUpdate{
		Status:   domain.MessageStatusError,
		Metadata: map[string]interface{}{"error": true},
	}))
	got, err := store.GetMessage(ctx, "m3")
	require.NoError(t, err)
	assert.Equal(t, domain.MessageStatusError, got.Status)
	assert.Equal(t, true, got.Metadata["error"])

	assert.ErrorIs(t, store.UpdateMessage(ctx, "missing", domain.MessageUpdate{Status: domain.MessageStatusError}), ErrNotFound)

	page, total, err := store.ListMessages(ctx, "u1", domain.MessageFilter{Direction: domain.DirectionInbound, Limit: 3})
	require.NoError(t, err)
	assert.Equal(t, 4, total)
	assert.Len(t, page, 3)
}

func TestGormStoreConfig(t *testing.T) {
	ctx := context.Background()
	store := newTestGormStore(t)

	cfg := domain.DefaultAutomationConfig().WithDefaults("u1")
	cfg.BlockedContacts = []string{"+55 11 9999-0000"}
	require.NoError(t, store.UpsertConfig(ctx, cfg))

	cfg.MaxMessagesPerChatPerHour = 3
	require.NoError(t, store.UpsertConfig(ctx, cfg))

	got, err := store.GetConfig(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 3, got.MaxMessagesPerChatPerHour)
	assert.Equal(t, []string{"+55 11 9999-0000"}, got.BlockedContacts)
	assert.Empty(t, got.AllowedContacts)
}

func TestGormStoreClaimSessionKeepsAutoReplyDisabled(t *testing.T) {
	ctx := context.Background()
	store := newTestGormStore(t)

	s := newSession("s1", "u1")
	s.AutoReplyEnabled = false
	require.NoError(t, store.ClaimSession(ctx, s, ""))

	got, err := store.GetSession(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.False(t, got.AutoReplyEnabled)
	assert.True(t, got.Active)
}

func TestGormStoreStaleSessionsUseCreationTime(t *testing.T) {
	ctx := context.Background()
	store := newTestGormStore(t)

	old := newSession("s1", "u1")
	old.CreatedAt = time.Now().Add(-10 * time.Minute)
	require.NoError(t, store.ClaimSession(ctx, old, ""))
	require.NoError(t, store.ClaimSession(ctx, newSession("s2", "u2"), ""))

	// A QR refresh bumps updated_at but not the pairing age.
	qr := "qr-rotated"
	for _, id := range []string{"s1", "s2"} {
		require.NoError(t, store.UpdateSessionStatus(ctx, id, domain.StatusUpdate{Status: domain.SessionStatusPairing, QRCode: &qr}))
	}

	stale, err := store.ListStaleSessions(ctx, domain.SessionStatusPairing, time.Now().Add(-5*time.Minute))
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, "s1", stale[0].SessionID)
}

func TestGormStoreMessageOrderWithTiedTimestamps(t *testing.T) {
	ctx := context.Background()
	store := newTestGormStore(t)
	require.NoError(t, store.ClaimSession(ctx, newSession("s1", "u1"), ""))

	at := time.Now().Add(-time.Minute).Truncate(time.Second)
	for _, id := range []string{"m2", "m4", "m1", "m3"} {
		require.NoError(t, store.CreateMessage(ctx, newInbound(id, "s1", "chat-a", domain.MessageStatusReplied, at)))
	}

	var seen []string
	for offset := 0; offset < 4; offset += 2 {
		page, total, err := store.ListMessages(ctx, "u1", domain.MessageFilter{Limit: 2, Offset: offset})
		require.NoError(t, err)
		assert.Equal(t, 4, total)
		for _, m := range page {
			seen = append(seen, m.MessageID)
		}
	}
	assert.Equal(t, []string{"m4", "m3", "m2", "m1"}, seen)

	history, err := store.ChatHistory(ctx, "u1", "chat-a", at, "", 3)
	require.NoError(t, err)
	ids := make([]string, 0, len(history))
	for _, m := range history {
		ids = append(ids, m.MessageID)
	}
	assert.Equal(t, []string{"m2", "m3", "m4"}, ids)
}
