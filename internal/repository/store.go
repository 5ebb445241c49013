// Package repository persists sessions, the message ledger and automation configs.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/xiaot623/autoreply/internal/domain"
)

var (
	// ErrNotFound is returned by updates that match no row.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateMessage is returned when a message with the same external id exists.
	ErrDuplicateMessage = errors.New("duplicate message")
	// ErrSessionConflict is returned when another active session was claimed concurrently.
	ErrSessionConflict = errors.New("session conflict")
)

// Store defines the interface for data persistence.
// Get methods return (nil, nil) when the row does not exist.
type Store interface {
	// Session operations

	// ClaimSession retires the user's active session and inserts session as
	// the new active one in a single transaction. previousID is the active
	// session id the caller observed ("" for none); if another session holds
	// the claim by then, ErrSessionConflict is returned and nothing changes.
	ClaimSession(ctx context.Context, session *domain.Session, previousID string) error
	GetSession(ctx context.Context, sessionID string) (*domain.Session, error)
	GetActiveSession(ctx context.Context, userID string) (*domain.Session, error)
	UpdateSessionStatus(ctx context.Context, sessionID string, update domain.StatusUpdate) error
	UpdateSessionSettings(ctx context.Context, sessionID string, settings domain.SessionSettings) error
	TouchSession(ctx context.Context, sessionID string, at time.Time) error
	ListStaleSessions(ctx context.Context, status domain.SessionStatus, createdBefore time.Time) ([]domain.Session, error)

	// Message operations
	CreateMessage(ctx context.Context, message *domain.Message) error
	GetMessage(ctx context.Context, messageID string) (*domain.Message, error)
	MessageExists(ctx context.Context, externalID string) (bool, error)
	UpdateMessage(ctx context.Context, messageID string, update domain.MessageUpdate) error
	CountInbound(ctx context.Context, userID, chatID string, since time.Time, statuses []domain.MessageStatus) (int, error)
	ChatHistory(ctx context.Context, userID, chatID string, before time.Time, excludeID string, limit int) ([]domain.Message, error)
	ListMessages(ctx context.Context, userID string, filter domain.MessageFilter) ([]domain.Message, int, error)

	// Config operations
	GetConfig(ctx context.Context, userID string) (*domain.AutomationConfig, error)
	UpsertConfig(ctx context.Context, cfg *domain.AutomationConfig) error

	// Lifecycle
	Close() error
}
