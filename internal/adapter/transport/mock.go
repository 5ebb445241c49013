package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xiaot623/autoreply/internal/domain"
)

// SentMessage is a send recorded by MockTransport.
type SentMessage struct {
	SessionID string
	ChatID    string
	Content   string
	Options   SendOptions
	MessageID string
	SentAt    time.Time
}

// MockTransport is an in-memory transport for tests and local runs.
type MockTransport struct {
	mu      sync.Mutex
	clients map[string]mockClient
	sent    []SentMessage
	closed  []string

	// EmitQR makes CreateClient publish a QR code immediately.
	EmitQR bool
	// AutoConnect makes CreateClient publish a ready event after the QR.
	AutoConnect bool
	Phone       string

	CreateErr     error
	SendErr       error
	DisconnectErr error
}

type mockClient struct {
	userID string
	sink   EventSink
}

// NewMockTransport creates a mock that issues a QR on every CreateClient.
func NewMockTransport() *MockTransport {
	return &MockTransport{
		clients: make(map[string]mockClient),
		EmitQR:  true,
		Phone:   "15550000000",
	}
}

// CreateClient registers the sink.
func (m *MockTransport) CreateClient(ctx context.Context, opts ClientOptions) (*CreateResult, error) {
	m.mu.Lock()
	if m.CreateErr != nil {
		err := m.CreateErr
		m.mu.Unlock()
		return nil, err
	}
	m.clients[opts.SessionID] = mockClient{userID: opts.UserID, sink: opts.Sink}
	emitQR, autoConnect, phone := m.EmitQR, m.AutoConnect, m.Phone
	m.mu.Unlock()

	if emitQR {
		opts.Sink(domain.QREvent{Code: "mock-qr-" + opts.SessionID})
	}
	if autoConnect {
		opts.Sink(domain.ReadyEvent{PhoneNumber: phone})
	}
	return &CreateResult{Success: true, Message: "pairing requested"}, nil
}

// SendMessage records the message.
func (m *MockTransport) SendMessage(ctx context.Context, sessionID, chatID, content string, opts SendOptions) (*SendResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.clients[sessionID]; !ok {
		return nil, ErrUnknownSession
	}
	if m.SendErr != nil {
		return &SendResult{Error: m.SendErr.Error()}, m.SendErr
	}
	if err := ctx.Err(); err != nil {
		return &SendResult{Error: err.Error()}, err
	}
	id := "mock-" + uuid.New().String()[:8]
	m.sent = append(m.sent, SentMessage{
		SessionID: sessionID,
		ChatID:    chatID,
		Content:   content,
		Options:   opts,
		MessageID: id,
		SentAt:    time.Now(),
	})
	return &SendResult{Success: true, MessageID: id}, nil
}

// DisconnectClient forgets the session.
func (m *MockTransport) DisconnectClient(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.clients, sessionID)
	m.closed = append(m.closed, sessionID)
	return m.DisconnectErr
}

// Emit injects an event into a session as if the backend had produced it.
func (m *MockTransport) Emit(sessionID string, evt domain.Event) error {
	m.mu.Lock()
	c, ok := m.clients[sessionID]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
	}
	c.sink(evt)
	return nil
}

// Deliver injects an inbound message for the user's live session.
func (m *MockTransport) Deliver(userID string, msg domain.InboundMessage) error {
	m.mu.Lock()
	var sink EventSink
	for _, c := range m.clients {
		if c.userID == userID {
			sink = c.sink
		}
	}
	m.mu.Unlock()
	if sink == nil {
		return ErrUnknownSession
	}
	sink(domain.MessageEvent{Message: msg})
	return nil
}

// Sent returns every recorded send.
func (m *MockTransport) Sent() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SentMessage(nil), m.sent...)
}

// Disconnected returns the session ids torn down so far.
func (m *MockTransport) Disconnected() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.closed...)
}

// HasClient reports whether the session has a live client.
func (m *MockTransport) HasClient(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.clients[sessionID]
	return ok
}

// SetSendErr changes the send failure under the lock.
func (m *MockTransport) SetSendErr(err error) {
	m.mu.Lock()
	m.SendErr = err
	m.mu.Unlock()
}

var (
	_ Transport       = (*MockTransport)(nil)
	_ InboundReceiver = (*MockTransport)(nil)
)
