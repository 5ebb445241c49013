// Package domain defines the core domain models for the auto-reply engine.
package domain

// SessionStatus represents the connection phase of a WhatsApp session.
type SessionStatus string

const (
	SessionStatusDisconnected SessionStatus = "disconnected"
	SessionStatusPairing      SessionStatus = "pairing"
	SessionStatusConnected    SessionStatus = "connected"
	SessionStatusError        SessionStatus = "error"
)

// Direction tells whether a message was received or sent by the account.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// MessageKind classifies message content.
type MessageKind string

const (
	MessageKindText        MessageKind = "text"
	MessageKindMedia       MessageKind = "media"
	MessageKindUnsupported MessageKind = "unsupported"
)

// MessageStatus represents the processing status of a ledger entry.
type MessageStatus string

const (
	MessageStatusReceived   MessageStatus = "received"
	MessageStatusProcessing MessageStatus = "processing"
	MessageStatusReplied    MessageStatus = "replied"
	MessageStatusIgnored    MessageStatus = "ignored"
	MessageStatusError      MessageStatus = "error"

	// Outbound only.
	MessageStatusSent MessageStatus = "sent"
)

// RateLimitedStatuses are the inbound statuses that consume rate-limit budget.
var RateLimitedStatuses = []MessageStatus{
	MessageStatusProcessing,
	MessageStatusReplied,
	MessageStatusError,
}

// IgnoreReason explains why an inbound message was recorded as ignored.
type IgnoreReason string

const (
	IgnoreReasonGroup          IgnoreReason = "group_chat"
	IgnoreReasonMedia          IgnoreReason = "media"
	IgnoreReasonNotText        IgnoreReason = "not_text"
	IgnoreReasonBlockedContact IgnoreReason = "blocked_contact"
	IgnoreReasonNotAllowed     IgnoreReason = "not_in_allow_list"
	IgnoreReasonKeyword        IgnoreReason = "blocked_keyword"
	IgnoreReasonPolicy         IgnoreReason = "policy"
)

// EventType names the kind of a status event pushed to subscribers.
type EventType string

const (
	EventTypeSessionStatus EventType = "session_status"
	EventTypeQR            EventType = "qr"
	EventTypeMessage       EventType = "message"
)
