package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// AutomationConfig is the per-user auto-reply policy.
type AutomationConfig struct {
	UserID string `json:"user_id" yaml:"-"`

	// Persona
	Tone               string `json:"tone" yaml:"tone"`
	Style              string `json:"style" yaml:"style"`
	CustomInstructions string `json:"custom_instructions" yaml:"custom_instructions"`
	Language           string `json:"language" yaml:"language"`

	// Timing
	ResponseDelayMinMs int  `json:"response_delay_min_ms" yaml:"response_delay_min_ms"`
	ResponseDelayMaxMs int  `json:"response_delay_max_ms" yaml:"response_delay_max_ms"`
	TypingIndicator    bool `json:"typing_indicator" yaml:"typing_indicator"`

	// Access control
	BlockedContacts []string `json:"blocked_contacts" yaml:"blocked_contacts"`
	AllowedContacts []string `json:"allowed_contacts" yaml:"allowed_contacts"`
	AllowListMode   bool     `json:"allow_list_mode" yaml:"allow_list_mode"`
	BlockedKeywords []string `json:"blocked_keywords" yaml:"blocked_keywords"`

	// Content filters
	IgnoreGroups bool `json:"ignore_groups" yaml:"ignore_groups"`
	IgnoreMedia  bool `json:"ignore_media" yaml:"ignore_media"`

	// Throughput limits
	MaxMessagesPerHour        int `json:"max_messages_per_hour" yaml:"max_messages_per_hour"`
	MaxMessagesPerChatPerHour int `json:"max_messages_per_chat_per_hour" yaml:"max_messages_per_chat_per_hour"`

	// Model
	ModelName    string  `json:"model_name" yaml:"model_name"`
	Temperature  float64 `json:"temperature" yaml:"temperature"`
	MaxTokens    int     `json:"max_tokens" yaml:"max_tokens"`
	ContextLimit int     `json:"context_limit" yaml:"context_limit"`

	CreatedAt time.Time `json:"created_at" yaml:"-"`
	UpdatedAt time.Time `json:"updated_at" yaml:"-"`
}

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid automation config")

// IsContactBlocked reports whether the contact is on the block list.
func (c *AutomationConfig) IsContactBlocked(contact string) bool {
	return containsContact(c.BlockedContacts, contact)
}

// IsContactAllowed applies both access checks: the block list always, the
// allow list only in allow-list mode.
func (c *AutomationConfig) IsContactAllowed(contact string) bool {
	if c.IsContactBlocked(contact) {
		return false
	}
	if c.AllowListMode && !containsContact(c.AllowedContacts, contact) {
		return false
	}
	return true
}

// MatchBlockedKeyword returns the first blocked keyword contained in content,
// compared case-insensitively.
func (c *AutomationConfig) MatchBlockedKeyword(content string) (string, bool) {
	lower := strings.ToLower(content)
	for _, kw := range c.BlockedKeywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(kw)) {
			return kw, true
		}
	}
	return "", false
}

// DelayBounds returns the configured reply delay window.
func (c *AutomationConfig) DelayBounds() (time.Duration, time.Duration) {
	lo := time.Duration(c.ResponseDelayMinMs) * time.Millisecond
	hi := time.Duration(c.ResponseDelayMaxMs) * time.Millisecond
	if hi < lo {
		hi = lo
	}
	return lo, hi
}

// Validate checks the ranges of numeric settings.
func (c *AutomationConfig) Validate() error {
	switch {
	case c.ResponseDelayMinMs < 0:
		return fmt.Errorf("%w: response_delay_min_ms must be >= 0", ErrInvalidConfig)
	case c.ResponseDelayMaxMs < c.ResponseDelayMinMs:
		return fmt.Errorf("%w: response_delay_max_ms must be >= response_delay_min_ms", ErrInvalidConfig)
	case c.MaxMessagesPerHour < 0:
		return fmt.Errorf("%w: max_messages_per_hour must be >= 0", ErrInvalidConfig)
	case c.MaxMessagesPerChatPerHour < 0:
		return fmt.Errorf("%w: max_messages_per_chat_per_hour must be >= 0", ErrInvalidConfig)
	case c.Temperature < 0 || c.Temperature > 2:
		return fmt.Errorf("%w: temperature must be within [0, 2]", ErrInvalidConfig)
	case c.MaxTokens <= 0:
		return fmt.Errorf("%w: max_tokens must be > 0", ErrInvalidConfig)
	case c.ContextLimit < 0:
		return fmt.Errorf("%w: context_limit must be >= 0", ErrInvalidConfig)
	}
	return nil
}

// WithDefaults returns a copy of defaults owned by userID.
func (c AutomationConfig) WithDefaults(userID string) *AutomationConfig {
	cfg := c
	cfg.UserID = userID
	cfg.BlockedContacts = append([]string(nil), c.BlockedContacts...)
	cfg.AllowedContacts = append([]string(nil), c.AllowedContacts...)
	cfg.BlockedKeywords = append([]string(nil), c.BlockedKeywords...)
	return &cfg
}

// DefaultAutomationConfig is the policy a user gets before changing anything.
func DefaultAutomationConfig() AutomationConfig {
	return AutomationConfig{
		Tone:                      "friendly",
		Style:                     "casual",
		Language:                  "English",
		ResponseDelayMinMs:        2000,
		ResponseDelayMaxMs:        8000,
		TypingIndicator:           true,
		IgnoreGroups:              true,
		IgnoreMedia:               true,
		MaxMessagesPerHour:        60,
		MaxMessagesPerChatPerHour: 10,
		ModelName:                 "llama3",
		Temperature:               0.7,
		MaxTokens:                 500,
		ContextLimit:              10,
	}
}

func containsContact(list []string, contact string) bool {
	want := NormalizeContact(contact)
	if want == "" {
		return false
	}
	for _, entry := range list {
		if NormalizeContact(entry) == want {
			return true
		}
	}
	return false
}
