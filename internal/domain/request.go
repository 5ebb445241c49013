package domain

// StartOptions are the caller-supplied options for starting a session.
type StartOptions struct {
	PersonaOverride  string `json:"persona_override,omitempty"`
	AutoReplyEnabled *bool  `json:"auto_reply_enabled,omitempty"`
}

// StartResult is returned as soon as pairing has been requested.
type StartResult struct {
	SessionID string        `json:"session_id"`
	Status    SessionStatus `json:"status"`
	Message   string        `json:"message"`
}

// QRResponse is the current pairing payload of a session.
type QRResponse struct {
	SessionID string        `json:"session_id"`
	Status    SessionStatus `json:"status"`
	QRCode    string        `json:"qr_code,omitempty"`
}

// ToggleResponse reports the kill-switch state after a toggle.
type ToggleResponse struct {
	SessionID        string `json:"session_id"`
	AutoReplyEnabled bool   `json:"auto_reply_enabled"`
	IsPaused         bool   `json:"is_paused"`
}

// ManualSendRequest sends an operator-authored message, bypassing automation.
type ManualSendRequest struct {
	ChatID          string `json:"chat_id"`
	Content         string `json:"content"`
	QuotedMessageID string `json:"quoted_message_id,omitempty"`
}

// ErrorResponse is the JSON body of every failed HTTP request.
type ErrorResponse struct {
	Error string `json:"error"`
}
