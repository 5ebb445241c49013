package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/xiaot623/autoreply/internal/domain"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// GormStore implements Store on top of gorm, for PostgreSQL deployments.
type GormStore struct {
	db *gorm.DB
}

type sessionRecord struct {
	SessionID        string `gorm:"primaryKey;size:64"`
	UserID           string `gorm:"size:128;not null;uniqueIndex:idx_gorm_sessions_active_user,where:active = true"`
	PhoneNumber      string `gorm:"size:32"`
	Status           string `gorm:"size:20;not null;index:idx_gorm_sessions_status,priority:1"`
	QRCode           string `gorm:"type:text"`
	AutoReplyEnabled bool   `gorm:"not null"`
	IsPaused         bool   `gorm:"not null;default:false"`
	PersonaOverride  string `gorm:"type:text"`
	Active           bool   `gorm:"not null"`
	LastError        string `gorm:"type:text"`
	LastActivityAt   *time.Time
	ConnectedAt      *time.Time
	DisconnectedAt   *time.Time
	CreatedAt        time.Time `gorm:"not null;index:idx_gorm_sessions_status,priority:2"`
	UpdatedAt        time.Time `gorm:"not null"`
}

func (sessionRecord) TableName() string { return "wa_sessions" }

type messageRecord struct {
	MessageID      string `gorm:"primaryKey;size:64"`
	SessionID      string `gorm:"size:64;not null;index"`
	UserID         string `gorm:"size:128;not null;index:idx_gorm_messages_chat,priority:1"`
	ExternalID     string `gorm:"size:255;not null;uniqueIndex"`
	ChatID         string `gorm:"size:128;not null;index:idx_gorm_messages_chat,priority:2"`
	Direction      string `gorm:"size:10;not null"`
	ContactID      string `gorm:"size:64"`
	ContactName    string `gorm:"size:255"`
	Content        string `gorm:"type:text"`
	Kind           string `gorm:"size:20;not null"`
	IsGroup        bool   `gorm:"not null;default:false"`
	Status         string `gorm:"size:20;not null"`
	IgnoreReason   string `gorm:"size:32"`
	ReplyToID      string `gorm:"size:64"`
	ReplyMessageID string `gorm:"size:64"`
	Metadata       string `gorm:"type:text"`
	ReceivedAt     *time.Time
	SentAt         *time.Time
	ProcessedAt    *time.Time
	CreatedAt      time.Time `gorm:"not null;index:idx_gorm_messages_chat,priority:3"`
}

func (messageRecord) TableName() string { return "wa_messages" }

type configRecord struct {
	UserID                    string `gorm:"primaryKey;size:128"`
	Tone                      string
	Style                     string
	CustomInstructions        string `gorm:"type:text"`
	Language                  string
	ResponseDelayMinMs        int
	ResponseDelayMaxMs        int
	TypingIndicator           bool
	BlockedContacts           string `gorm:"type:text"`
	AllowedContacts           string `gorm:"type:text"`
	AllowListMode             bool
	BlockedKeywords           string `gorm:"type:text"`
	IgnoreGroups              bool
	IgnoreMedia               bool
	MaxMessagesPerHour        int
	MaxMessagesPerChatPerHour int
	ModelName                 string
	Temperature               float64
	MaxTokens                 int
	ContextLimit              int
	CreatedAt                 time.Time
	UpdatedAt                 time.Time
}

func (configRecord) TableName() string { return "wa_automation_configs" }

// NewGormStore opens a gorm connection for the given driver ("postgres" or "sqlite")
// and migrates the schema.
func NewGormStore(driver, dsn string) (*GormStore, error) {
	var dialector gorm.Dialector
	switch driver {
	case "postgres":
		dialector = postgres.Open(dsn)
	case "sqlite", "gorm-sqlite":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported gorm driver: %s", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if driver != "postgres" {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if err := db.AutoMigrate(&sessionRecord{}, &messageRecord{}, &configRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return &GormStore{db: db}, nil
}

// Close closes the underlying connection pool.
func (g *GormStore) Close() error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ClaimSession retires the current active session and inserts a new one.
func (g *GormStore) ClaimSession(ctx context.Context, session *domain.Session, previousID string) error {
	return g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current sessionRecord
		err := tx.Where("user_id = ? AND active = ?", session.UserID, true).Take(&current).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if current.SessionID != previousID {
			return ErrSessionConflict
		}

		now := time.Now().UTC()
		if current.SessionID != "" {
			updates := map[string]interface{}{
				"active":     false,
				"qr_code":    "",
				"updated_at": now,
			}
			if current.Status == string(domain.SessionStatusPairing) || current.Status == string(domain.SessionStatusConnected) {
				updates["status"] = string(domain.SessionStatusDisconnected)
			}
			if current.DisconnectedAt == nil {
				updates["disconnected_at"] = now
			}
			if err := tx.Model(&sessionRecord{}).Where("session_id = ?", current.SessionID).Updates(updates).Error; err != nil {
				return err
			}
		}

		if session.CreatedAt.IsZero() {
			session.CreatedAt = now
		}
		session.UpdatedAt = now
		session.Active = true
		rec := toSessionRecord(session)
		if err := tx.Create(&rec).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrSessionConflict
			}
			return err
		}
		return nil
	})
}

// GetSession retrieves a session by ID.
func (g *GormStore) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	return g.takeSession(ctx, "session_id = ?", sessionID)
}

// GetActiveSession retrieves the user's claimed session.
func (g *GormStore) GetActiveSession(ctx context.Context, userID string) (*domain.Session, error) {
	return g.takeSession(ctx, "user_id = ? AND active = ?", userID, true)
}

func (g *GormStore) takeSession(ctx context.Context, query string, args ...interface{}) (*domain.Session, error) {
	var rec sessionRecord
	err := g.db.WithContext(ctx).Where(query, args...).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rec.toDomain(), nil
}

// UpdateSessionStatus persists a lifecycle transition.
func (g *GormStore) UpdateSessionStatus(ctx context.Context, sessionID string, update domain.StatusUpdate) error {
	updates := map[string]interface{}{
		"status":     string(update.Status),
		"updated_at": time.Now().UTC(),
	}
	if update.QRCode != nil {
		updates["qr_code"] = *update.QRCode
	}
	if update.PhoneNumber != nil {
		updates["phone_number"] = *update.PhoneNumber
	}
	if update.LastError != nil {
		updates["last_error"] = *update.LastError
	}
	if update.ConnectedAt != nil {
		updates["connected_at"] = update.ConnectedAt.UTC()
	}
	if update.DisconnectedAt != nil {
		updates["disconnected_at"] = update.DisconnectedAt.UTC()
	}
	if update.Release {
		updates["active"] = false
	}
	return g.updateSession(ctx, sessionID, updates)
}

// UpdateSessionSettings applies a partial update of the operator-controlled fields.
func (g *GormStore) UpdateSessionSettings(ctx context.Context, sessionID string, settings domain.SessionSettings) error {
	updates := map[string]interface{}{"updated_at": time.Now().UTC()}
	if settings.AutoReplyEnabled != nil {
		updates["auto_reply_enabled"] = *settings.AutoReplyEnabled
	}
	if settings.IsPaused != nil {
		updates["is_paused"] = *settings.IsPaused
	}
	if settings.PersonaOverride != nil {
		updates["persona_override"] = *settings.PersonaOverride
	}
	return g.updateSession(ctx, sessionID, updates)
}

// TouchSession stamps the last activity time.
func (g *GormStore) TouchSession(ctx context.Context, sessionID string, at time.Time) error {
	return g.updateSession(ctx, sessionID, map[string]interface{}{
		"last_activity_at": at.UTC(),
		"updated_at":       time.Now().UTC(),
	})
}

func (g *GormStore) updateSession(ctx context.Context, sessionID string, updates map[string]interface{}) error {
	res := g.db.WithContext(ctx).Model(&sessionRecord{}).Where("session_id = ?", sessionID).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListStaleSessions lists active sessions in status that were created before the cutoff.
func (g *GormStore) ListStaleSessions(ctx context.Context, status domain.SessionStatus, createdBefore time.Time) ([]domain.Session, error) {
	var recs []sessionRecord
	err := g.db.WithContext(ctx).
		Where("active = ? AND status = ? AND created_at < ?", true, string(status), createdBefore.UTC()).
		Order("created_at ASC").
		Find(&recs).Error
	if err != nil {
		return nil, err
	}
	sessions := make([]domain.Session, 0, len(recs))
	for i := range recs {
		sessions = append(sessions, *recs[i].toDomain())
	}
	return sessions, nil
}

// CreateMessage appends a message to the ledger.
func (g *GormStore) CreateMessage(ctx context.Context, message *domain.Message) error {
	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now()
	}
	rec, err := toMessageRecord(message)
	if err != nil {
		return err
	}
	if err := g.db.WithContext(ctx).Create(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicateMessage
		}
		return err
	}
	return nil
}

// GetMessage retrieves a message by ID.
func (g *GormStore) GetMessage(ctx context.Context, messageID string) (*domain.Message, error) {
	var rec messageRecord
	err := g.db.WithContext(ctx).Where("message_id = ?", messageID).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rec.toDomain()
}

// MessageExists reports whether a message with the external id was recorded.
func (g *GormStore) MessageExists(ctx context.Context, externalID string) (bool, error) {
	var n int64
	err := g.db.WithContext(ctx).Model(&messageRecord{}).Where("external_id = ?", externalID).Count(&n).Error
	return n > 0, err
}

// UpdateMessage applies a status transition.
func (g *GormStore) UpdateMessage(ctx context.Context, messageID string, update domain.MessageUpdate) error {
	updates := map[string]interface{}{}
	if update.Status != "" {
		updates["status"] = string(update.Status)
	}
	if update.ReplyMessageID != "" {
		updates["reply_message_id"] = update.ReplyMessageID
	}
	if update.Metadata != nil {
		b, err := json.Marshal(update.Metadata)
		if err != nil {
			return fmt.Errorf("encode metadata: %w", err)
		}
		updates["metadata"] = string(b)
	}
	if update.ProcessedAt != nil {
		updates["processed_at"] = update.ProcessedAt.UTC()
	}
	if len(updates) == 0 {
		return nil
	}
	res := g.db.WithContext(ctx).Model(&messageRecord{}).Where("message_id = ?", messageID).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// CountInbound counts inbound messages in the given statuses created since the cutoff.
func (g *GormStore) CountInbound(ctx context.Context, userID, chatID string, since time.Time, statuses []domain.MessageStatus) (int, error) {
	q := g.db.WithContext(ctx).Model(&messageRecord{}).
		Where("user_id = ? AND direction = ? AND created_at >= ?", userID, string(domain.DirectionInbound), since.UTC())
	if chatID != "" {
		q = q.Where("chat_id = ?", chatID)
	}
	if len(statuses) > 0 {
		names := make([]string, len(statuses))
		for i, st := range statuses {
			names[i] = string(st)
		}
		q = q.Where("status IN ?", names)
	}
	var n int64
	if err := q.Count(&n).Error; err != nil {
		return 0, err
	}
	return int(n), nil
}

// ChatHistory returns up to limit messages of the chat created at or before the
// cutoff, excluding excludeID, in chronological order.
func (g *GormStore) ChatHistory(ctx context.Context, userID, chatID string, before time.Time, excludeID string, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		return nil, nil
	}
	var recs []messageRecord
	err := g.db.WithContext(ctx).
		Where("user_id = ? AND chat_id = ? AND message_id <> ? AND created_at <= ?", userID, chatID, excludeID, before.UTC()).
		Order("created_at DESC").
		Order("message_id DESC").
		Limit(limit).
		Find(&recs).Error
	if err != nil {
		return nil, err
	}
	messages := make([]domain.Message, len(recs))
	for i := range recs {
		msg, err := recs[i].toDomain()
		if err != nil {
			return nil, err
		}
		messages[len(recs)-1-i] = *msg
	}
	return messages, nil
}

// ListMessages returns a page of the user's ledger, newest first, and the total match count.
func (g *GormStore) ListMessages(ctx context.Context, userID string, filter domain.MessageFilter) ([]domain.Message, int, error) {
	q := g.db.WithContext(ctx).Model(&messageRecord{}).Where("user_id = ?", userID)
	if filter.ChatID != "" {
		q = q.Where("chat_id = ?", filter.ChatID)
	}
	if filter.Direction != "" {
		q = q.Where("direction = ?", string(filter.Direction))
	}
	if filter.Status != "" {
		q = q.Where("status = ?", string(filter.Status))
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page := q.Order("created_at DESC").Order("message_id DESC")
	if filter.Limit > 0 {
		page = page.Limit(filter.Limit).Offset(filter.Offset)
	}
	var recs []messageRecord
	if err := page.Find(&recs).Error; err != nil {
		return nil, 0, err
	}
	messages := make([]domain.Message, 0, len(recs))
	for i := range recs {
		msg, err := recs[i].toDomain()
		if err != nil {
			return nil, 0, err
		}
		messages = append(messages, *msg)
	}
	return messages, int(total), nil
}

// GetConfig retrieves the user's automation config.
func (g *GormStore) GetConfig(ctx context.Context, userID string) (*domain.AutomationConfig, error) {
	var rec configRecord
	err := g.db.WithContext(ctx).Where("user_id = ?", userID).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rec.toDomain()
}

// UpsertConfig inserts or replaces the user's automation config.
func (g *GormStore) UpsertConfig(ctx context.Context, cfg *domain.AutomationConfig) error {
	now := time.Now().UTC()
	if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = now
	}
	cfg.UpdatedAt = now
	rec, err := toConfigRecord(cfg)
	if err != nil {
		return err
	}
	// Save upserts on primary key, keeping the original created_at.
	return g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing configRecord
		err := tx.Select("created_at").Where("user_id = ?", cfg.UserID).Take(&existing).Error
		switch {
		case err == nil:
			rec.CreatedAt = existing.CreatedAt
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}
		return tx.Save(&rec).Error
	})
}

func toSessionRecord(s *domain.Session) sessionRecord {
	return sessionRecord{
		SessionID:        s.SessionID,
		UserID:           s.UserID,
		PhoneNumber:      s.PhoneNumber,
		Status:           string(s.Status),
		QRCode:           s.QRCode,
		AutoReplyEnabled: s.AutoReplyEnabled,
		IsPaused:         s.IsPaused,
		PersonaOverride:  s.PersonaOverride,
		Active:           s.Active,
		LastError:        s.LastError,
		LastActivityAt:   s.LastActivityAt,
		ConnectedAt:      s.ConnectedAt,
		DisconnectedAt:   s.DisconnectedAt,
		CreatedAt:        s.CreatedAt.UTC(),
		UpdatedAt:        s.UpdatedAt.UTC(),
	}
}

func (r *sessionRecord) toDomain() *domain.Session {
	return &domain.Session{
		SessionID:        r.SessionID,
		UserID:           r.UserID,
		PhoneNumber:      r.PhoneNumber,
		Status:           domain.SessionStatus(r.Status),
		QRCode:           r.QRCode,
		AutoReplyEnabled: r.AutoReplyEnabled,
		IsPaused:         r.IsPaused,
		PersonaOverride:  r.PersonaOverride,
		Active:           r.Active,
		LastError:        r.LastError,
		LastActivityAt:   r.LastActivityAt,
		ConnectedAt:      r.ConnectedAt,
		DisconnectedAt:   r.DisconnectedAt,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}
}

func toMessageRecord(m *domain.Message) (messageRecord, error) {
	rec := messageRecord{
		MessageID:      m.MessageID,
		SessionID:      m.SessionID,
		UserID:         m.UserID,
		ExternalID:     m.ExternalID,
		ChatID:         m.ChatID,
		Direction:      string(m.Direction),
		ContactID:      m.ContactID,
		ContactName:    m.ContactName,
		Content:        m.Content,
		Kind:           string(m.Kind),
		IsGroup:        m.IsGroup,
		Status:         string(m.Status),
		IgnoreReason:   string(m.IgnoreReason),
		ReplyToID:      m.ReplyToID,
		ReplyMessageID: m.ReplyMessageID,
		ReceivedAt:     m.ReceivedAt,
		SentAt:         m.SentAt,
		ProcessedAt:    m.ProcessedAt,
		CreatedAt:      m.CreatedAt.UTC(),
	}
	if len(m.Metadata) > 0 {
		b, err := json.Marshal(m.Metadata)
		if err != nil {
			return rec, fmt.Errorf("encode metadata: %w", err)
		}
		rec.Metadata = string(b)
	}
	return rec, nil
}

func (r *messageRecord) toDomain() (*domain.Message, error) {
	msg := &domain.Message{
		MessageID:      r.MessageID,
		SessionID:      r.SessionID,
		UserID:         r.UserID,
		ExternalID:     r.ExternalID,
		ChatID:         r.ChatID,
		Direction:      domain.Direction(r.Direction),
		ContactID:      r.ContactID,
		ContactName:    r.ContactName,
		Content:        r.Content,
		Kind:           domain.MessageKind(r.Kind),
		IsGroup:        r.IsGroup,
		Status:         domain.MessageStatus(r.Status),
		IgnoreReason:   domain.IgnoreReason(r.IgnoreReason),
		ReplyToID:      r.ReplyToID,
		ReplyMessageID: r.ReplyMessageID,
		ReceivedAt:     r.ReceivedAt,
		SentAt:         r.SentAt,
		ProcessedAt:    r.ProcessedAt,
		CreatedAt:      r.CreatedAt,
	}
	if r.Metadata != "" {
		if err := json.Unmarshal([]byte(r.Metadata), &msg.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata of %s: %w", r.MessageID, err)
		}
	}
	return msg, nil
}

func toConfigRecord(c *domain.AutomationConfig) (configRecord, error) {
	rec := configRecord{
		UserID:                    c.UserID,
		Tone:                      c.Tone,
		Style:                     c.Style,
		CustomInstructions:        c.CustomInstructions,
		Language:                  c.Language,
		ResponseDelayMinMs:        c.ResponseDelayMinMs,
		ResponseDelayMaxMs:        c.ResponseDelayMaxMs,
		TypingIndicator:           c.TypingIndicator,
		AllowListMode:             c.AllowListMode,
		IgnoreGroups:              c.IgnoreGroups,
		IgnoreMedia:               c.IgnoreMedia,
		MaxMessagesPerHour:        c.MaxMessagesPerHour,
		MaxMessagesPerChatPerHour: c.MaxMessagesPerChatPerHour,
		ModelName:                 c.ModelName,
		Temperature:               c.Temperature,
		MaxTokens:                 c.MaxTokens,
		ContextLimit:              c.ContextLimit,
		CreatedAt:                 c.CreatedAt.UTC(),
		UpdatedAt:                 c.UpdatedAt.UTC(),
	}
	for _, f := range []struct {
		src  []string
		dest *string
	}{{c.BlockedContacts, &rec.BlockedContacts}, {c.AllowedContacts, &rec.AllowedContacts}, {c.BlockedKeywords, &rec.BlockedKeywords}} {
		b, err := json.Marshal(nonNil(f.src))
		if err != nil {
			return rec, err
		}
		*f.dest = string(b)
	}
	return rec, nil
}

func (r *configRecord) toDomain() (*domain.AutomationConfig, error) {
	cfg := &domain.AutomationConfig{
		UserID:                    r.UserID,
		Tone:                      r.Tone,
		Style:                     r.Style,
		CustomInstructions:        r.CustomInstructions,
		Language:                  r.Language,
		ResponseDelayMinMs:        r.ResponseDelayMinMs,
		ResponseDelayMaxMs:        r.ResponseDelayMaxMs,
		TypingIndicator:           r.TypingIndicator,
		AllowListMode:             r.AllowListMode,
		IgnoreGroups:              r.IgnoreGroups,
		IgnoreMedia:               r.IgnoreMedia,
		MaxMessagesPerHour:        r.MaxMessagesPerHour,
		MaxMessagesPerChatPerHour: r.MaxMessagesPerChatPerHour,
		ModelName:                 r.ModelName,
		Temperature:               r.Temperature,
		MaxTokens:                 r.MaxTokens,
		ContextLimit:              r.ContextLimit,
		CreatedAt:                 r.CreatedAt,
		UpdatedAt:                 r.UpdatedAt,
	}
	for _, f := range []struct {
		raw  string
		dest *[]string
	}{{r.BlockedContacts, &cfg.BlockedContacts}, {r.AllowedContacts, &cfg.AllowedContacts}, {r.BlockedKeywords, &cfg.BlockedKeywords}} {
		if f.raw == "" {
			continue
		}
		if err := json.Unmarshal([]byte(f.raw), f.dest); err != nil {
			return nil, fmt.Errorf("decode config lists: %w", err)
		}
	}
	return cfg, nil
}
