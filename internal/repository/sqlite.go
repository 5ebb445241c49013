package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/xiaot623/autoreply/internal/domain"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	memory := dsn == ":memory:" || strings.Contains(dsn, "mode=memory")
	db, err := sql.Open("sqlite3", withConnParams(dsn, memory))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// For in-memory SQLite, multiple connections create separate databases.
	// Shared-cache table locks fail immediately instead of honouring
	// busy_timeout, so those DSNs are limited to one connection as well.
	if memory || strings.Contains(dsn, "cache=shared") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// withConnParams adds the per-connection pragmas the store relies on unless
// the DSN sets them. File databases run in WAL mode and take the write lock
// when a transaction begins, so concurrent writers wait on busy_timeout.
func withConnParams(dsn string, memory bool) string {
	params := []string{"_foreign_keys=on", "_busy_timeout=5000"}
	if !memory {
		params = append(params, "_journal_mode=WAL", "_txlock=immediate")
	}
	for _, p := range params {
		key := p[:strings.IndexByte(p, '=')+1]
		if strings.Contains(dsn, key) {
			continue
		}
		if strings.Contains(dsn, "?") {
			dsn += "&" + p
		} else {
			dsn += "?" + p
		}
	}
	return dsn
}

// migrate runs database migrations.
func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			phone_number TEXT,
			status TEXT NOT NULL DEFAULT 'disconnected',
			qr_code TEXT,
			auto_reply_enabled INTEGER NOT NULL DEFAULT 1,
			is_paused INTEGER NOT NULL DEFAULT 0,
			persona_override TEXT,
			active INTEGER NOT NULL DEFAULT 1,
			last_error TEXT,
			last_activity_at DATETIME,
			connected_at DATETIME,
			disconnected_at DATETIME,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_sessions_active_user ON sessions(user_id) WHERE active = 1`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_pairing_age ON sessions(status, created_at)`,
		`CREATE TABLE IF NOT EXISTS messages (
			message_id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			external_id TEXT NOT NULL UNIQUE,
			chat_id TEXT NOT NULL,
			direction TEXT NOT NULL,
			contact_id TEXT,
			contact_name TEXT,
			content TEXT NOT NULL DEFAULT '',
			kind TEXT NOT NULL DEFAULT 'text',
			is_group INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			ignore_reason TEXT,
			reply_to_id TEXT,
			reply_message_id TEXT,
			metadata TEXT,
			received_at DATETIME,
			sent_at DATETIME,
			processed_at DATETIME,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (session_id) REFERENCES sessions(session_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_chat ON messages(user_id, chat_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_rate ON messages(user_id, direction, status, created_at)`,
		`CREATE TABLE IF NOT EXISTS automation_configs (
			user_id TEXT PRIMARY KEY,
			tone TEXT NOT NULL DEFAULT '',
			style TEXT NOT NULL DEFAULT '',
			custom_instructions TEXT NOT NULL DEFAULT '',
			language TEXT NOT NULL DEFAULT '',
			response_delay_min_ms INTEGER NOT NULL DEFAULT 0,
			response_delay_max_ms INTEGER NOT NULL DEFAULT 0,
			typing_indicator INTEGER NOT NULL DEFAULT 1,
			blocked_contacts TEXT,
			allowed_contacts TEXT,
			allow_list_mode INTEGER NOT NULL DEFAULT 0,
			blocked_keywords TEXT,
			ignore_groups INTEGER NOT NULL DEFAULT 1,
			ignore_media INTEGER NOT NULL DEFAULT 1,
			max_messages_per_hour INTEGER NOT NULL DEFAULT 0,
			max_messages_per_chat_per_hour INTEGER NOT NULL DEFAULT 0,
			model_name TEXT NOT NULL DEFAULT '',
			temperature REAL NOT NULL DEFAULT 0.7,
			max_tokens INTEGER NOT NULL DEFAULT 0,
			context_limit INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const sessionColumns = `session_id, user_id, phone_number, status, qr_code, auto_reply_enabled, is_paused,
	persona_override, active, last_error, last_activity_at, connected_at, disconnected_at, created_at, updated_at`

// ClaimSession retires the current active session and inserts a new one.
func (s *SQLiteStore) ClaimSession(ctx context.Context, session *domain.Session, previousID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRowContext(ctx,
		`SELECT session_id FROM sessions WHERE user_id = ? AND active = 1`, session.UserID).Scan(&current)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return err
	}
	if current != previousID {
		return ErrSessionConflict
	}

	now := time.Now().UTC()
	if current != "" {
		_, err = tx.ExecContext(ctx,
			`UPDATE sessions SET active = 0, qr_code = NULL,
				status = CASE WHEN status IN ('pairing', 'connected') THEN 'disconnected' ELSE status END,
				disconnected_at = COALESCE(disconnected_at, ?), updated_at = ?
			WHERE session_id = ?`,
			now, now, current)
		if err != nil {
			return err
		}
	}

	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	session.UpdatedAt = now
	session.Active = true
	_, err = tx.ExecContext(ctx,
		`INSERT INTO sessions (`+sessionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		session.SessionID, session.UserID, nullString(session.PhoneNumber), session.Status, nullString(session.QRCode),
		session.AutoReplyEnabled, session.IsPaused, nullString(session.PersonaOverride), session.Active,
		nullString(session.LastError), nullTime(session.LastActivityAt), nullTime(session.ConnectedAt),
		nullTime(session.DisconnectedAt), session.CreatedAt.UTC(), session.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrSessionConflict
		}
		return err
	}
	return tx.Commit()
}

// GetSession retrieves a session by ID.
func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE session_id = ?`, sessionID)
	return scanSession(row)
}

// GetActiveSession retrieves the user's claimed session.
func (s *SQLiteStore) GetActiveSession(ctx context.Context, userID string) (*domain.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE user_id = ? AND active = 1`, userID)
	return scanSession(row)
}

// UpdateSessionStatus persists a lifecycle transition.
func (s *SQLiteStore) UpdateSessionStatus(ctx context.Context, sessionID string, update domain.StatusUpdate) error {
	sets := []string{"status = ?", "updated_at = ?"}
	args := []interface{}{update.Status, time.Now().UTC()}
	if update.QRCode != nil {
		sets = append(sets, "qr_code = ?")
		args = append(args, nullString(*update.QRCode))
	}
	if update.PhoneNumber != nil {
		sets = append(sets, "phone_number = ?")
		args = append(args, nullString(*update.PhoneNumber))
	}
	if update.LastError != nil {
		sets = append(sets, "last_error = ?")
		args = append(args, nullString(*update.LastError))
	}
	if update.ConnectedAt != nil {
		sets = append(sets, "connected_at = ?")
		args = append(args, update.ConnectedAt.UTC())
	}
	if update.DisconnectedAt != nil {
		sets = append(sets, "disconnected_at = ?")
		args = append(args, update.DisconnectedAt.UTC())
	}
	if update.Release {
		sets = append(sets, "active = 0")
	}
	args = append(args, sessionID)
	return s.execAffecting(ctx, `UPDATE sessions SET `+strings.Join(sets, ", ")+` WHERE session_id = ?`, args...)
}

// UpdateSessionSettings applies a partial update of the operator-controlled fields.
func (s *SQLiteStore) UpdateSessionSettings(ctx context.Context, sessionID string, settings domain.SessionSettings) error {
	sets := []string{"updated_at = ?"}
	args := []interface{}{time.Now().UTC()}
	if settings.AutoReplyEnabled != nil {
		sets = append(sets, "auto_reply_enabled = ?")
		args = append(args, *settings.AutoReplyEnabled)
	}
	if settings.IsPaused != nil {
		sets = append(sets, "is_paused = ?")
		args = append(args, *settings.IsPaused)
	}
	if settings.PersonaOverride != nil {
		sets = append(sets, "persona_override = ?")
		args = append(args, nullString(*settings.PersonaOverride))
	}
	args = append(args, sessionID)
	return s.execAffecting(ctx, `UPDATE sessions SET `+strings.Join(sets, ", ")+` WHERE session_id = ?`, args...)
}

// TouchSession stamps the last activity time.
func (s *SQLiteStore) TouchSession(ctx context.Context, sessionID string, at time.Time) error {
	return s.execAffecting(ctx,
		`UPDATE sessions SET last_activity_at = ?, updated_at = ? WHERE session_id = ?`,
		at.UTC(), time.Now().UTC(), sessionID)
}

// ListStaleSessions lists active sessions in status that were created before the cutoff.
func (s *SQLiteStore) ListStaleSessions(ctx context.Context, status domain.SessionStatus, createdBefore time.Time) ([]domain.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE active = 1 AND status = ? AND created_at < ? ORDER BY created_at ASC`,
		status, createdBefore.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []domain.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *session)
	}
	return sessions, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row rowScanner) (*domain.Session, error) {
	var session domain.Session
	var phone, qr, persona, lastError sql.NullString
	var lastActivity, connectedAt, disconnectedAt sql.NullTime
	err := row.Scan(&session.SessionID, &session.UserID, &phone, &session.Status, &qr,
		&session.AutoReplyEnabled, &session.IsPaused, &persona, &session.Active, &lastError,
		&lastActivity, &connectedAt, &disconnectedAt, &session.CreatedAt, &session.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	session.PhoneNumber = phone.String
	session.QRCode = qr.String
	session.PersonaOverride = persona.String
	session.LastError = lastError.String
	session.LastActivityAt = timePtr(lastActivity)
	session.ConnectedAt = timePtr(connectedAt)
	session.DisconnectedAt = timePtr(disconnectedAt)
	return &session, nil
}

const messageColumns = `message_id, session_id, user_id, external_id, chat_id, direction, contact_id, contact_name,
	content, kind, is_group, status, ignore_reason, reply_to_id, reply_message_id, metadata,
	received_at, sent_at, processed_at, created_at`

// CreateMessage appends a message to the ledger.
func (s *SQLiteStore) CreateMessage(ctx context.Context, message *domain.Message) error {
	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now()
	}
	metadata, err := marshalMetadata(message.Metadata)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO messages (`+messageColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		message.MessageID, message.SessionID, message.UserID, message.ExternalID, message.ChatID, message.Direction,
		nullString(message.ContactID), nullString(message.ContactName), message.Content, message.Kind, message.IsGroup,
		message.Status, nullString(string(message.IgnoreReason)), nullString(message.ReplyToID),
		nullString(message.ReplyMessageID), metadata, nullTime(message.ReceivedAt), nullTime(message.SentAt),
		nullTime(message.ProcessedAt), message.CreatedAt.UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateMessage
		}
		return err
	}
	return nil
}

// GetMessage retrieves a message by ID.
func (s *SQLiteStore) GetMessage(ctx context.Context, messageID string) (*domain.Message, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE message_id = ?`, messageID)
	msg, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return msg, err
}

// MessageExists reports whether a message with the external id was recorded.
func (s *SQLiteStore) MessageExists(ctx context.Context, externalID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM messages WHERE external_id = ?`, externalID).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// UpdateMessage applies a status transition.
func (s *SQLiteStore) UpdateMessage(ctx context.Context, messageID string, update domain.MessageUpdate) error {
	var sets []string
	var args []interface{}
	if update.Status != "" {
		sets = append(sets, "status = ?")
		args = append(args, update.Status)
	}
	if update.ReplyMessageID != "" {
		sets = append(sets, "reply_message_id = ?")
		args = append(args, update.ReplyMessageID)
	}
	if update.Metadata != nil {
		metadata, err := marshalMetadata(update.Metadata)
		if err != nil {
			return err
		}
		sets = append(sets, "metadata = ?")
		args = append(args, metadata)
	}
	if update.ProcessedAt != nil {
		sets = append(sets, "processed_at = ?")
		args = append(args, update.ProcessedAt.UTC())
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, messageID)
	return s.execAffecting(ctx, `UPDATE messages SET `+strings.Join(sets, ", ")+` WHERE message_id = ?`, args...)
}

// CountInbound counts inbound messages in the given statuses created since the cutoff.
// An empty chatID counts across all chats of the user.
func (s *SQLiteStore) CountInbound(ctx context.Context, userID, chatID string, since time.Time, statuses []domain.MessageStatus) (int, error) {
	query := `SELECT COUNT(1) FROM messages WHERE user_id = ? AND direction = ? AND created_at >= ?`
	args := []interface{}{userID, domain.DirectionInbound, since.UTC()}
	if chatID != "" {
		query += ` AND chat_id = ?`
		args = append(args, chatID)
	}
	if len(statuses) > 0 {
		query += ` AND status IN (` + placeholders(len(statuses)) + `)`
		for _, st := range statuses {
			args = append(args, st)
		}
	}

	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// ChatHistory returns up to limit messages of the chat created at or before the
// cutoff, excluding excludeID, in chronological order.
func (s *SQLiteStore) ChatHistory(ctx context.Context, userID, chatID string, before time.Time, excludeID string, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+messageColumns+` FROM messages
		WHERE user_id = ? AND chat_id = ? AND message_id != ? AND created_at <= ?
		ORDER BY created_at DESC, rowid DESC LIMIT ?`,
		userID, chatID, excludeID, before.UTC(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// ListMessages returns a page of the user's ledger, newest first, and the total match count.
func (s *SQLiteStore) ListMessages(ctx context.Context, userID string, filter domain.MessageFilter) ([]domain.Message, int, error) {
	where := ` WHERE user_id = ?`
	args := []interface{}{userID}
	if filter.ChatID != "" {
		where += ` AND chat_id = ?`
		args = append(args, filter.ChatID)
	}
	if filter.Direction != "" {
		where += ` AND direction = ?`
		args = append(args, filter.Direction)
	}
	if filter.Status != "" {
		where += ` AND status = ?`
		args = append(args, filter.Status)
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM messages`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + messageColumns + ` FROM messages` + where + ` ORDER BY created_at DESC, rowid DESC`
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d OFFSET %d", filter.Limit, filter.Offset)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	messages, err := scanMessages(rows)
	if err != nil {
		return nil, 0, err
	}
	return messages, total, nil
}

func scanMessages(rows *sql.Rows) ([]domain.Message, error) {
	var messages []domain.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *msg)
	}
	return messages, rows.Err()
}

func scanMessage(row rowScanner) (*domain.Message, error) {
	var msg domain.Message
	var contactID, contactName, ignoreReason, replyTo, replyMsg, metadata sql.NullString
	var receivedAt, sentAt, processedAt sql.NullTime
	err := row.Scan(&msg.MessageID, &msg.SessionID, &msg.UserID, &msg.ExternalID, &msg.ChatID, &msg.Direction,
		&contactID, &contactName, &msg.Content, &msg.Kind, &msg.IsGroup, &msg.Status, &ignoreReason,
		&replyTo, &replyMsg, &metadata, &receivedAt, &sentAt, &processedAt, &msg.CreatedAt)
	if err != nil {
		return nil, err
	}
	msg.ContactID = contactID.String
	msg.ContactName = contactName.String
	msg.IgnoreReason = domain.IgnoreReason(ignoreReason.String)
	msg.ReplyToID = replyTo.String
	msg.ReplyMessageID = replyMsg.String
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &msg.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata of %s: %w", msg.MessageID, err)
		}
	}
	msg.ReceivedAt = timePtr(receivedAt)
	msg.SentAt = timePtr(sentAt)
	msg.ProcessedAt = timePtr(processedAt)
	return &msg, nil
}

// GetConfig retrieves the user's automation config.
func (s *SQLiteStore) GetConfig(ctx context.Context, userID string) (*domain.AutomationConfig, error) {
	var cfg domain.AutomationConfig
	var blocked, allowed, keywords sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, tone, style, custom_instructions, language, response_delay_min_ms, response_delay_max_ms,
			typing_indicator, blocked_contacts, allowed_contacts, allow_list_mode, blocked_keywords, ignore_groups,
			ignore_media, max_messages_per_hour, max_messages_per_chat_per_hour, model_name, temperature, max_tokens,
			context_limit, created_at, updated_at
		FROM automation_configs WHERE user_id = ?`, userID).Scan(
		&cfg.UserID, &cfg.Tone, &cfg.Style, &cfg.CustomInstructions, &cfg.Language, &cfg.ResponseDelayMinMs,
		&cfg.ResponseDelayMaxMs, &cfg.TypingIndicator, &blocked, &allowed, &cfg.AllowListMode, &keywords,
		&cfg.IgnoreGroups, &cfg.IgnoreMedia, &cfg.MaxMessagesPerHour, &cfg.MaxMessagesPerChatPerHour,
		&cfg.ModelName, &cfg.Temperature, &cfg.MaxTokens, &cfg.ContextLimit, &cfg.CreatedAt, &cfg.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	for _, f := range []struct {
		raw  sql.NullString
		dest *[]string
	}{{blocked, &cfg.BlockedContacts}, {allowed, &cfg.AllowedContacts}, {keywords, &cfg.BlockedKeywords}} {
		if f.raw.Valid && f.raw.String != "" {
			if err := json.Unmarshal([]byte(f.raw.String), f.dest); err != nil {
				return nil, fmt.Errorf("decode config lists: %w", err)
			}
		}
	}
	return &cfg, nil
}

// UpsertConfig inserts or replaces the user's automation config.
func (s *SQLiteStore) UpsertConfig(ctx context.Context, cfg *domain.AutomationConfig) error {
	now := time.Now().UTC()
	if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = now
	}
	cfg.UpdatedAt = now
	blocked, _ := json.Marshal(nonNil(cfg.BlockedContacts))
	allowed, _ := json.Marshal(nonNil(cfg.AllowedContacts))
	keywords, _ := json.Marshal(nonNil(cfg.BlockedKeywords))
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO automation_configs (user_id, tone, style, custom_instructions, language, response_delay_min_ms,
			response_delay_max_ms, typing_indicator, blocked_contacts, allowed_contacts, allow_list_mode,
			blocked_keywords, ignore_groups, ignore_media, max_messages_per_hour, max_messages_per_chat_per_hour,
			model_name, temperature, max_tokens, context_limit, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			tone = excluded.tone, style = excluded.style, custom_instructions = excluded.custom_instructions,
			language = excluded.language, response_delay_min_ms = excluded.response_delay_min_ms,
			response_delay_max_ms = excluded.response_delay_max_ms, typing_indicator = excluded.typing_indicator,
			blocked_contacts = excluded.blocked_contacts, allowed_contacts = excluded.allowed_contacts,
			allow_list_mode = excluded.allow_list_mode, blocked_keywords = excluded.blocked_keywords,
			ignore_groups = excluded.ignore_groups, ignore_media = excluded.ignore_media,
			max_messages_per_hour = excluded.max_messages_per_hour,
			max_messages_per_chat_per_hour = excluded.max_messages_per_chat_per_hour,
			model_name = excluded.model_name, temperature = excluded.temperature, max_tokens = excluded.max_tokens,
			context_limit = excluded.context_limit, updated_at = excluded.updated_at`,
		cfg.UserID, cfg.Tone, cfg.Style, cfg.CustomInstructions, cfg.Language, cfg.ResponseDelayMinMs,
		cfg.ResponseDelayMaxMs, cfg.TypingIndicator, string(blocked), string(allowed), cfg.AllowListMode,
		string(keywords), cfg.IgnoreGroups, cfg.IgnoreMedia, cfg.MaxMessagesPerHour, cfg.MaxMessagesPerChatPerHour,
		cfg.ModelName, cfg.Temperature, cfg.MaxTokens, cfg.ContextLimit, cfg.CreatedAt.UTC(), cfg.UpdatedAt)
	return err
}

func (s *SQLiteStore) execAffecting(ctx context.Context, query string, args ...interface{}) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func marshalMetadata(m map[string]interface{}) (sql.NullString, error) {
	if len(m) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encode metadata: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func nonNil(list []string) []string {
	if list == nil {
		return []string{}
	}
	return list
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
