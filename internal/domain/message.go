package domain

import (
	"strings"
	"time"
)

// GroupChatSuffix is the JID server suffix WhatsApp uses for group chats.
const GroupChatSuffix = "@g.us"

// Message is one ledger entry for an inbound or outbound chat message.
type Message struct {
	MessageID      string                 `json:"message_id"`
	SessionID      string                 `json:"session_id"`
	UserID         string                 `json:"user_id"`
	ExternalID     string                 `json:"external_id"`
	ChatID         string                 `json:"chat_id"`
	Direction      Direction              `json:"direction"`
	ContactID      string                 `json:"contact_id,omitempty"`
	ContactName    string                 `json:"contact_name,omitempty"`
	Content        string                 `json:"content"`
	Kind           MessageKind            `json:"kind"`
	IsGroup        bool                   `json:"is_group"`
	Status         MessageStatus          `json:"status"`
	IgnoreReason   IgnoreReason           `json:"ignore_reason,omitempty"`
	ReplyToID      string                 `json:"reply_to_id,omitempty"`
	ReplyMessageID string                 `json:"reply_message_id,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
	ReceivedAt     *time.Time             `json:"received_at,omitempty"`
	SentAt         *time.Time             `json:"sent_at,omitempty"`
	ProcessedAt    *time.Time             `json:"processed_at,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
}

// InboundMessage is a message as reported by the transport, before admission.
type InboundMessage struct {
	ExternalID  string                 `json:"external_id"`
	ChatID      string                 `json:"chat_id"`
	ContactID   string                 `json:"contact_id"`
	ContactName string                 `json:"contact_name,omitempty"`
	Content     string                 `json:"content"`
	Kind        MessageKind            `json:"kind"`
	IsGroup     bool                   `json:"is_group"`
	HasMedia    bool                   `json:"has_media"`
	FromMe      bool                   `json:"from_me"`
	Timestamp   time.Time              `json:"timestamp"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// IsGroupChat reports whether the message belongs to a group conversation.
func (m *InboundMessage) IsGroupChat() bool {
	return m.IsGroup || strings.HasSuffix(m.ChatID, GroupChatSuffix)
}

// Contact resolves the contact identity, falling back to the chat id.
func (m *InboundMessage) Contact() string {
	if m.ContactID != "" {
		return NormalizeContact(m.ContactID)
	}
	return NormalizeContact(m.ChatID)
}

// MessageUpdate is a status transition of a ledger entry.
// Empty fields are left untouched; a non-nil Metadata replaces the stored one.
type MessageUpdate struct {
	Status         MessageStatus
	ReplyMessageID string
	Metadata       map[string]interface{}
	ProcessedAt    *time.Time
}

// MessageFilter narrows ListMessages results.
type MessageFilter struct {
	ChatID    string
	Direction Direction
	Status    MessageStatus
	Limit     int
	Offset    int
	// Page, when set, is 1-based and overrides Offset.
	Page int
}

// MessagePage is a paginated slice of ledger entries.
type MessagePage struct {
	Messages []Message `json:"messages"`
	Total    int       `json:"total"`
	Page     int       `json:"page"`
	Limit    int       `json:"limit"`
	HasMore  bool      `json:"has_more"`
}

// NormalizeContact reduces a phone number or JID to its bare digits so that
// "+55 11 9999-0000", "5511999990000" and "5511999990000@s.whatsapp.net"
// compare equal.
func NormalizeContact(raw string) string {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "whatsapp:")
	if i := strings.IndexByte(raw, '@'); i >= 0 {
		raw = raw[:i]
	}
	// Device suffix, e.g. "5511999990000:12".
	if i := strings.IndexByte(raw, ':'); i >= 0 {
		raw = raw[:i]
	}
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return strings.ToLower(raw)
	}
	return b.String()
}
