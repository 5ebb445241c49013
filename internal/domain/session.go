package domain

import "time"

// Session is one user's automation-enabled WhatsApp connection.
type Session struct {
	SessionID        string        `json:"session_id"`
	UserID           string        `json:"user_id"`
	PhoneNumber      string        `json:"phone_number,omitempty"`
	Status           SessionStatus `json:"status"`
	QRCode           string        `json:"qr_code,omitempty"`
	AutoReplyEnabled bool          `json:"auto_reply_enabled"`
	IsPaused         bool          `json:"is_paused"`
	PersonaOverride  string        `json:"persona_override,omitempty"`
	Active           bool          `json:"active"`
	LastError        string        `json:"last_error,omitempty"`
	LastActivityAt   *time.Time    `json:"last_activity_at,omitempty"`
	ConnectedAt      *time.Time    `json:"connected_at,omitempty"`
	DisconnectedAt   *time.Time    `json:"disconnected_at,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

// AcceptsAutomation reports whether neither kill switch suppresses replies.
func (s *Session) AcceptsAutomation() bool {
	return s.AutoReplyEnabled && !s.IsPaused
}

// IsLive reports whether the session may still hold a transport connection.
func (s *Session) IsLive() bool {
	return s.Active && s.Status != SessionStatusDisconnected && s.Status != SessionStatusError
}

// SessionSettings is a partial update of the operator-controlled session fields.
// Nil fields are left untouched.
type SessionSettings struct {
	AutoReplyEnabled *bool   `json:"auto_reply_enabled,omitempty"`
	IsPaused         *bool   `json:"is_paused,omitempty"`
	PersonaOverride  *string `json:"persona_override,omitempty"`
}

// IsEmpty reports whether the update carries no field.
func (s SessionSettings) IsEmpty() bool {
	return s.AutoReplyEnabled == nil && s.IsPaused == nil && s.PersonaOverride == nil
}

// StatusUpdate describes a lifecycle transition persisted by the state machine.
type StatusUpdate struct {
	Status         SessionStatus
	QRCode         *string
	PhoneNumber    *string
	LastError      *string
	ConnectedAt    *time.Time
	DisconnectedAt *time.Time
	// Release clears the active claim so a new session can be started.
	Release bool
}
