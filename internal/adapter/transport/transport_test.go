package transport

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xiaot623/autoreply/internal/domain"
	"go.uber.org/zap"
)

type recorder struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *recorder) sink(evt domain.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recorder) all() []domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Event(nil), r.events...)
}

func TestMockTransportLifecycle(t *testing.T) {
	ctx := context.Background()
	m := NewMockTransport()
	m.AutoConnect = true
	rec := &recorder{}

	res, err := m.CreateClient(ctx, ClientOptions{SessionID: "s1", UserID: "u1", Sink: rec.sink})
	require.NoError(t, err)
	assert.True(t, res.Success)

	events := rec.all()
	require.Len(t, events, 2)
	assert.Equal(t, domain.QREvent{Code: "mock-qr-s1"}, events[0])
	assert.Equal(t, domain.ReadyEvent{PhoneNumber: "15550000000"}, events[1])

	sent, err := m.SendMessage(ctx, "s1", "chat-a", "hello", SendOptions{SimulateTyping: true, TypingDuration: time.Second})
	require.NoError(t, err)
	assert.True(t, sent.Success)
	require.Len(t, m.Sent(), 1)
	assert.Equal(t, "hello", m.Sent()[0].Content)
	assert.Equal(t, time.Second, m.Sent()[0].Options.TypingDuration)

	require.NoError(t, m.Deliver("u1", domain.InboundMessage{ExternalID: "e1"}))
	assert.Len(t, rec.all(), 3)

	require.NoError(t, m.DisconnectClient(ctx, "s1"))
	assert.False(t, m.HasClient("s1"))
	_, err = m.SendMessage(ctx, "s1", "chat-a", "again", SendOptions{})
	assert.ErrorIs(t, err, ErrUnknownSession)
	assert.ErrorIs(t, m.Emit("s1", domain.DisconnectedEvent{}), ErrUnknownSession)
}

func TestMockTransportSendFailure(t *testing.T) {
	ctx := context.Background()
	m := NewMockTransport()
	rec := &recorder{}
	_, err := m.CreateClient(ctx, ClientOptions{SessionID: "s1", UserID: "u1", Sink: rec.sink})
	require.NoError(t, err)

	m.SetSendErr(errors.New("socket closed"))
	res, err := m.SendMessage(ctx, "s1", "chat-a", "hello", SendOptions{})
	require.Error(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "socket closed", res.Error)
	assert.Empty(t, m.Sent())
}

func TestTwilioTransportRouting(t *testing.T) {
	ctx := context.Background()
	tr, err := NewTwilioTransport(TwilioConfig{
		AccountSID: "AC123",
		AuthToken:  "token",
		From:       "+14155238886",
	}, zap.NewNop())
	require.NoError(t, err)

	rec := &recorder{}
	_, err = tr.CreateClient(ctx, ClientOptions{SessionID: "s1", UserID: "u1", Sink: rec.sink})
	require.NoError(t, err)
	require.Len(t, rec.all(), 1)
	assert.Equal(t, domain.ReadyEvent{PhoneNumber: "14155238886"}, rec.all()[0])

	webhook := TwilioWebhook{MessageSid: "SM1", From: "whatsapp:+5511999990000", Body: "oi", ProfileName: "Ana"}
	require.NoError(t, tr.Deliver("u1", webhook.ToInbound()))
	events := rec.all()
	require.Len(t, events, 2)
	msgEvt, ok := events[1].(domain.MessageEvent)
	require.True(t, ok)
	assert.Equal(t, "SM1", msgEvt.Message.ExternalID)
	assert.Equal(t, "5511999990000", msgEvt.Message.ChatID)
	assert.Equal(t, domain.MessageKindText, msgEvt.Message.Kind)

	assert.ErrorIs(t, tr.Deliver("other", webhook.ToInbound()), ErrUnknownSession)

	require.NoError(t, tr.DisconnectClient(ctx, "s1"))
	assert.ErrorIs(t, tr.Deliver("u1", webhook.ToInbound()), ErrUnknownSession)
}

func TestTwilioWebhookMedia(t *testing.T) {
	msg := TwilioWebhook{MessageSid: "SM2", From: "whatsapp:+1555", NumMedia: "1"}.ToInbound()
	assert.True(t, msg.HasMedia)
	assert.Equal(t, domain.MessageKindMedia, msg.Kind)

	msg = TwilioWebhook{MessageSid: "SM3", From: "whatsapp:+1555", NumMedia: "0"}.ToInbound()
	assert.Equal(t, domain.MessageKindUnsupported, msg.Kind)
}

func TestTwilioAddress(t *testing.T) {
	assert.Equal(t, "whatsapp:+5511999990000", twilioAddress("5511999990000"))
	assert.Equal(t, "whatsapp:+5511999990000", twilioAddress("5511999990000@s.whatsapp.net"))
	assert.Equal(t, "whatsapp:+1555", twilioAddress("whatsapp:+1555"))
}

func TestParseJID(t *testing.T) {
	jid, err := parseJID("5511999990000@s.whatsapp.net")
	require.NoError(t, err)
	assert.Equal(t, "5511999990000", jid.User)

	jid, err = parseJID("+55 11 99999-0000")
	require.NoError(t, err)
	assert.Equal(t, "5511999990000", jid.User)
	assert.Equal(t, "s.whatsapp.net", jid.Server)

	_, err = parseJID("")
	assert.Error(t, err)
}

func TestSleepCtx(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleepCtx(ctx, time.Hour), context.Canceled)
	assert.NoError(t, sleepCtx(context.Background(), 0))
}
