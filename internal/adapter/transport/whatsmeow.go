package transport

import (
	"context"
	"fmt"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"github.com/xiaot623/autoreply/internal/domain"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"
)

// WhatsmeowTransport drives WhatsApp multi-device clients.
// Device credentials live in whatsmeow's own sqlstore.
type WhatsmeowTransport struct {
	container *sqlstore.Container
	logger    *zap.Logger

	mu      sync.Mutex
	clients map[string]*waClient
}

type waClient struct {
	client *whatsmeow.Client
	sink   EventSink
	cancel context.CancelFunc
}

// NewWhatsmeowTransport opens the device store at dsn.
func NewWhatsmeowTransport(ctx context.Context, dsn string, logger *zap.Logger) (*WhatsmeowTransport, error) {
	container, err := sqlstore.New(ctx, "sqlite3", dsn, NewWALogger(logger.Named("wa-store")))
	if err != nil {
		return nil, fmt.Errorf("failed to open whatsmeow store: %w", err)
	}
	return &WhatsmeowTransport{
		container: container,
		logger:    logger,
		clients:   make(map[string]*waClient),
	}, nil
}

// CreateClient creates a fresh device and starts pairing.
func (t *WhatsmeowTransport) CreateClient(ctx context.Context, opts ClientOptions) (*CreateResult, error) {
	t.mu.Lock()
	if _, exists := t.clients[opts.SessionID]; exists {
		t.mu.Unlock()
		return nil, fmt.Errorf("client for session %s already exists", opts.SessionID)
	}
	t.mu.Unlock()

	device := t.container.NewDevice()
	client := whatsmeow.NewClient(device, NewWALogger(t.logger.Named("wa-client").With(zap.String("session_id", opts.SessionID))))
	// Reconnection is a new session start, not a silent retry.
	client.EnableAutoReconnect = false

	// The QR loop outlives the request that created the client.
	clientCtx, cancel := context.WithCancel(context.Background())
	wc := &waClient{client: client, sink: opts.Sink, cancel: cancel}
	client.AddEventHandler(func(evt interface{}) { t.handleEvent(opts.SessionID, wc, evt) })

	qrChan, err := client.GetQRChannel(clientCtx)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to get QR channel: %w", err)
	}
	if err := client.Connect(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	t.mu.Lock()
	t.clients[opts.SessionID] = wc
	t.mu.Unlock()

	go t.pumpQR(opts.SessionID, wc, qrChan)

	return &CreateResult{Success: true, Message: "pairing requested"}, nil
}

func (t *WhatsmeowTransport) pumpQR(sessionID string, wc *waClient, qrChan <-chan whatsmeow.QRChannelItem) {
	for item := range qrChan {
		switch item.Event {
		case whatsmeow.QRChannelEventCode:
			wc.sink(domain.QREvent{Code: item.Code})
		case "success":
			t.logger.Info("pairing succeeded", zap.String("session_id", sessionID))
		case "timeout":
			wc.sink(domain.AuthFailureEvent{Reason: "pairing timed out"})
		default:
			reason := item.Event
			if item.Error != nil {
				reason = item.Error.Error()
			}
			wc.sink(domain.AuthFailureEvent{Reason: reason})
		}
	}
}

func (t *WhatsmeowTransport) handleEvent(sessionID string, wc *waClient, evt interface{}) {
	switch v := evt.(type) {
	case *events.Message:
		wc.sink(domain.MessageEvent{Message: convertMessage(v)})
	case *events.Connected:
		phone := ""
		if wc.client.Store.ID != nil {
			phone = wc.client.Store.ID.User
		}
		wc.sink(domain.ReadyEvent{PhoneNumber: phone})
	case *events.PairSuccess:
		t.logger.Info("device paired", zap.String("session_id", sessionID), zap.String("jid", v.ID.String()))
	case *events.Disconnected:
		wc.sink(domain.DisconnectedEvent{Reason: "connection closed"})
	case *events.LoggedOut:
		wc.sink(domain.DisconnectedEvent{Reason: "logged out: " + v.Reason.String()})
	case *events.ConnectFailure:
		wc.sink(domain.AuthFailureEvent{Reason: "connect failure: " + v.Reason.String()})
	case *events.TemporaryBan:
		wc.sink(domain.AuthFailureEvent{Reason: v.String()})
	case *events.StreamReplaced:
		wc.sink(domain.AuthFailureEvent{Reason: "stream replaced by another connection"})
	}
}

func convertMessage(v *events.Message) domain.InboundMessage {
	msg := domain.InboundMessage{
		ExternalID:  string(v.Info.ID),
		ChatID:      v.Info.Chat.String(),
		ContactID:   v.Info.Sender.User,
		ContactName: v.Info.PushName,
		IsGroup:     v.Info.IsGroup,
		FromMe:      v.Info.IsFromMe,
		Timestamp:   v.Info.Timestamp,
		Metadata: map[string]interface{}{
			"sender_jid": v.Info.Sender.String(),
		},
	}

	m := v.Message
	switch {
	case m.GetConversation() != "":
		msg.Content = m.GetConversation()
		msg.Kind = domain.MessageKindText
	case m.GetExtendedTextMessage().GetText() != "":
		msg.Content = m.GetExtendedTextMessage().GetText()
		msg.Kind = domain.MessageKindText
	case m.GetImageMessage() != nil:
		msg.Content = m.GetImageMessage().GetCaption()
		msg.Kind, msg.HasMedia = domain.MessageKindMedia, true
	case m.GetVideoMessage() != nil:
		msg.Content = m.GetVideoMessage().GetCaption()
		msg.Kind, msg.HasMedia = domain.MessageKindMedia, true
	case m.GetDocumentMessage() != nil:
		msg.Content = m.GetDocumentMessage().GetCaption()
		msg.Kind, msg.HasMedia = domain.MessageKindMedia, true
	case m.GetAudioMessage() != nil, m.GetStickerMessage() != nil:
		msg.Kind, msg.HasMedia = domain.MessageKindMedia, true
	default:
		msg.Kind = domain.MessageKindUnsupported
	}
	return msg
}

// SendMessage sends a text message, optionally showing a typing indicator first.
func (t *WhatsmeowTransport) SendMessage(ctx context.Context, sessionID, chatID, content string, opts SendOptions) (*SendResult, error) {
	t.mu.Lock()
	wc, ok := t.clients[sessionID]
	t.mu.Unlock()
	if !ok {
		return nil, ErrUnknownSession
	}

	jid, err := parseJID(chatID)
	if err != nil {
		return &SendResult{Error: err.Error()}, err
	}

	if opts.SimulateTyping && opts.TypingDuration > 0 {
		if err := wc.client.SendChatPresence(ctx, jid, types.ChatPresenceComposing, types.ChatPresenceMediaText); err != nil {
			t.logger.Debug("typing indicator failed", zap.String("session_id", sessionID), zap.Error(err))
		}
		if err := sleepCtx(ctx, opts.TypingDuration); err != nil {
			return &SendResult{Error: err.Error()}, err
		}
		_ = wc.client.SendChatPresence(ctx, jid, types.ChatPresencePaused, types.ChatPresenceMediaText)
	}

	msg := &waE2E.Message{Conversation: proto.String(content)}
	if opts.QuotedMessageID != "" {
		ctxInfo := &waE2E.ContextInfo{
			StanzaID:      proto.String(opts.QuotedMessageID),
			QuotedMessage: &waE2E.Message{Conversation: proto.String(opts.QuotedText)},
		}
		if opts.QuotedParticipant != "" {
			ctxInfo.Participant = proto.String(opts.QuotedParticipant)
		}
		msg = &waE2E.Message{ExtendedTextMessage: &waE2E.ExtendedTextMessage{
			Text:        proto.String(content),
			ContextInfo: ctxInfo,
		}}
	}

	resp, err := wc.client.SendMessage(ctx, jid, msg)
	if err != nil {
		return &SendResult{Error: err.Error()}, fmt.Errorf("whatsmeow send failed: %w", err)
	}
	return &SendResult{Success: true, MessageID: string(resp.ID)}, nil
}

// DisconnectClient logs the device out (or drops an unpaired connection) and forgets it.
func (t *WhatsmeowTransport) DisconnectClient(ctx context.Context, sessionID string) error {
	t.mu.Lock()
	wc, ok := t.clients[sessionID]
	delete(t.clients, sessionID)
	t.mu.Unlock()
	if !ok {
		return nil
	}

	wc.cancel()
	var err error
	if wc.client.Store.ID != nil && wc.client.IsLoggedIn() {
		err = wc.client.Logout(ctx)
	}
	wc.client.Disconnect()
	return err
}

// Close disconnects every client without logging them out.
func (t *WhatsmeowTransport) Close() error {
	t.mu.Lock()
	clients := t.clients
	t.clients = make(map[string]*waClient)
	t.mu.Unlock()

	for _, wc := range clients {
		wc.cancel()
		wc.client.Disconnect()
	}
	return t.container.Close()
}

func parseJID(chatID string) (types.JID, error) {
	if strings.Contains(chatID, "@") {
		jid, err := types.ParseJID(chatID)
		if err != nil {
			return types.JID{}, fmt.Errorf("invalid chat id %q: %w", chatID, err)
		}
		return jid, nil
	}
	user := domain.NormalizeContact(chatID)
	if user == "" {
		return types.JID{}, fmt.Errorf("invalid chat id %q", chatID)
	}
	return types.NewJID(user, types.DefaultUserServer), nil
}

var _ Transport = (*WhatsmeowTransport)(nil)
