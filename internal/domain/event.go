package domain

import "time"

// Event is a transport callback delivered to a session's state machine.
// The set is closed: only the types in this file implement it.
type Event interface {
	isEvent()
	// Name is used for logging.
	Name() string
}

// QREvent carries a fresh pairing payload.
type QREvent struct {
	Code string
}

// ReadyEvent reports an authenticated, connected client.
type ReadyEvent struct {
	PhoneNumber string
}

// MessageEvent carries one inbound chat message.
type MessageEvent struct {
	Message InboundMessage
}

// DisconnectedEvent reports that the connection went away.
type DisconnectedEvent struct {
	Reason string
}

// AuthFailureEvent reports that the transport rejected the credentials.
type AuthFailureEvent struct {
	Reason string
}

func (QREvent) isEvent()           {}
func (ReadyEvent) isEvent()        {}
func (MessageEvent) isEvent()      {}
func (DisconnectedEvent) isEvent() {}
func (AuthFailureEvent) isEvent()  {}

func (QREvent) Name() string           { return "qr" }
func (ReadyEvent) Name() string        { return "ready" }
func (MessageEvent) Name() string      { return "message" }
func (DisconnectedEvent) Name() string { return "disconnected" }
func (AuthFailureEvent) Name() string  { return "auth_failure" }

// StatusEvent is pushed to status-stream subscribers of a user.
type StatusEvent struct {
	Type      EventType     `json:"type"`
	Ts        int64         `json:"ts"` // Unix milliseconds
	UserID    string        `json:"user_id"`
	SessionID string        `json:"session_id"`
	Status    SessionStatus `json:"status,omitempty"`
	QRCode    string        `json:"qr_code,omitempty"`
	Phone     string        `json:"phone_number,omitempty"`
	MessageID string        `json:"message_id,omitempty"`
	ChatID    string        `json:"chat_id,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// NewStatusEvent stamps an event with the current time.
func NewStatusEvent(t EventType, session *Session) StatusEvent {
	return StatusEvent{
		Type:      t,
		Ts:        time.Now().UnixMilli(),
		UserID:    session.UserID,
		SessionID: session.SessionID,
		Status:    session.Status,
		Phone:     session.PhoneNumber,
	}
}
