package transport

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/twilio/twilio-go"
	twilioclient "github.com/twilio/twilio-go/client"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
	"github.com/xiaot623/autoreply/internal/domain"
	"go.uber.org/zap"
)

// TwilioConfig holds the WhatsApp Business credentials.
type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	// From is the sender, e.g. "whatsapp:+14155238886".
	From    string
	Timeout time.Duration
}

// TwilioTransport sends through the Twilio Messaging API and receives through
// the inbound webhook. There is no pairing step.
type TwilioTransport struct {
	client    *twilio.RestClient
	validator twilioclient.RequestValidator
	from      string
	logger    *zap.Logger

	mu       sync.Mutex
	sessions map[string]twilioSession // by session id
	byUser   map[string]string        // user id -> session id
}

type twilioSession struct {
	userID string
	sink   EventSink
}

// NewTwilioTransport creates a Twilio-backed transport.
func NewTwilioTransport(cfg TwilioConfig, logger *zap.Logger) (*TwilioTransport, error) {
	if cfg.AccountSID == "" || cfg.AuthToken == "" || cfg.From == "" {
		return nil, fmt.Errorf("missing Twilio credentials")
	}

	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	if cfg.Timeout > 0 {
		client.SetTimeout(cfg.Timeout)
	}

	from := cfg.From
	if !strings.HasPrefix(from, "whatsapp:") {
		from = "whatsapp:" + from
	}

	return &TwilioTransport{
		client:    client,
		validator: twilioclient.NewRequestValidator(cfg.AuthToken),
		from:      from,
		logger:    logger,
		sessions:  make(map[string]twilioSession),
		byUser:    make(map[string]string),
	}, nil
}

// CreateClient registers the session for webhook delivery and reports it ready.
func (t *TwilioTransport) CreateClient(ctx context.Context, opts ClientOptions) (*CreateResult, error) {
	t.mu.Lock()
	if prev, ok := t.byUser[opts.UserID]; ok {
		delete(t.sessions, prev)
	}
	t.sessions[opts.SessionID] = twilioSession{userID: opts.UserID, sink: opts.Sink}
	t.byUser[opts.UserID] = opts.SessionID
	t.mu.Unlock()

	opts.Sink(domain.ReadyEvent{PhoneNumber: domain.NormalizeContact(t.from)})
	return &CreateResult{Success: true, Message: "connected via Twilio"}, nil
}

// SendMessage sends a WhatsApp message. Twilio has no typing indicator, so the
// typing duration is spent waiting.
func (t *TwilioTransport) SendMessage(ctx context.Context, sessionID, chatID, content string, opts SendOptions) (*SendResult, error) {
	t.mu.Lock()
	_, ok := t.sessions[sessionID]
	t.mu.Unlock()
	if !ok {
		return nil, ErrUnknownSession
	}

	if opts.SimulateTyping {
		if err := sleepCtx(ctx, opts.TypingDuration); err != nil {
			return &SendResult{Error: err.Error()}, err
		}
	}
	if err := ctx.Err(); err != nil {
		return &SendResult{Error: err.Error()}, err
	}

	params := &twilioApi.CreateMessageParams{}
	params.SetFrom(t.from)
	params.SetTo(twilioAddress(chatID))
	params.SetBody(content)

	resp, err := t.client.Api.CreateMessage(params)
	if err != nil {
		t.logger.Warn("twilio send failed", zap.String("session_id", sessionID), zap.Error(err))
		return &SendResult{Error: err.Error()}, fmt.Errorf("twilio send failed: %w", err)
	}

	result := &SendResult{Success: true}
	if resp.Sid != nil {
		result.MessageID = *resp.Sid
	}
	return result, nil
}

// DisconnectClient stops routing webhooks to the session.
func (t *TwilioTransport) DisconnectClient(ctx context.Context, sessionID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[sessionID]
	if !ok {
		return nil
	}
	delete(t.sessions, sessionID)
	if t.byUser[s.userID] == sessionID {
		delete(t.byUser, s.userID)
	}
	return nil
}

// Deliver routes a webhook message to the user's session.
func (t *TwilioTransport) Deliver(userID string, msg domain.InboundMessage) error {
	t.mu.Lock()
	sessionID, ok := t.byUser[userID]
	var s twilioSession
	if ok {
		s = t.sessions[sessionID]
	}
	t.mu.Unlock()
	if !ok {
		return ErrUnknownSession
	}
	s.sink(domain.MessageEvent{Message: msg})
	return nil
}

// ValidateSignature checks the X-Twilio-Signature header of a webhook.
func (t *TwilioTransport) ValidateSignature(fullURL string, params map[string]string, signature string) bool {
	return t.validator.Validate(fullURL, params, signature)
}

// TwilioWebhook is the form payload Twilio posts for an incoming WhatsApp message.
type TwilioWebhook struct {
	MessageSid        string `form:"MessageSid"`
	AccountSid        string `form:"AccountSid"`
	From              string `form:"From"` // whatsapp:+919876543210
	To                string `form:"To"`
	Body              string `form:"Body"`
	ProfileName       string `form:"ProfileName"`
	NumMedia          string `form:"NumMedia"`
	MediaContentType0 string `form:"MediaContentType0"`
}

// ToInbound converts the webhook payload into an inbound message.
func (w TwilioWebhook) ToInbound() domain.InboundMessage {
	hasMedia := w.NumMedia != "" && w.NumMedia != "0"
	kind := domain.MessageKindText
	switch {
	case hasMedia:
		kind = domain.MessageKindMedia
	case strings.TrimSpace(w.Body) == "":
		kind = domain.MessageKindUnsupported
	}
	contact := domain.NormalizeContact(w.From)
	return domain.InboundMessage{
		ExternalID:  w.MessageSid,
		ChatID:      contact,
		ContactID:   contact,
		ContactName: w.ProfileName,
		Content:     w.Body,
		Kind:        kind,
		HasMedia:    hasMedia,
		Timestamp:   time.Now(),
		Metadata: map[string]interface{}{
			"provider": "twilio",
			"to":       w.To,
		},
	}
}

func twilioAddress(chatID string) string {
	if strings.HasPrefix(chatID, "whatsapp:") {
		return chatID
	}
	return "whatsapp:+" + domain.NormalizeContact(chatID)
}

var (
	_ Transport       = (*TwilioTransport)(nil)
	_ InboundReceiver = (*TwilioTransport)(nil)
)
