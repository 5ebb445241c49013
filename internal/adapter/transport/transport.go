// Package transport connects sessions to a WhatsApp messaging backend.
package transport

import (
	"context"
	"errors"
	"time"

	"github.com/xiaot623/autoreply/internal/domain"
)

// ErrUnknownSession is returned for operations on a session without a client.
var ErrUnknownSession = errors.New("no transport client for session")

// EventSink receives lifecycle and message events for one session.
// Implementations must not block for long.
type EventSink func(domain.Event)

// ClientOptions configure a new transport client.
type ClientOptions struct {
	SessionID string
	UserID    string
	Sink      EventSink
}

// CreateResult reports the outcome of a connection request.
type CreateResult struct {
	Success bool
	Message string
}

// SendOptions humanize an outbound message.
type SendOptions struct {
	SimulateTyping bool
	TypingDuration time.Duration
	// QuotedMessageID is the external id of the message being replied to.
	QuotedMessageID string
	// QuotedParticipant and QuotedText let backends render the quote preview.
	QuotedParticipant string
	QuotedText        string
}

// SendResult reports the outcome of a send.
type SendResult struct {
	Success   bool
	MessageID string
	Error     string
}

// Transport is a messaging backend holding one client per session.
type Transport interface {
	CreateClient(ctx context.Context, opts ClientOptions) (*CreateResult, error)
	SendMessage(ctx context.Context, sessionID, chatID, content string, opts SendOptions) (*SendResult, error)
	DisconnectClient(ctx context.Context, sessionID string) error
}

// InboundReceiver accepts messages pushed to the service by webhook-driven backends.
type InboundReceiver interface {
	Deliver(userID string, msg domain.InboundMessage) error
}

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
