package sqlite

import (
	"claudechat-backend/internal/models"
	"claudechat-backend/internal/store"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Compile-time check to ensure SQLiteStore implements store.Store
var _ store.Store = (*SQLiteStore)(nil)

// SQLiteStore keeps timestamps as INTEGER unix microseconds so ordering is numeric.
type SQLiteStore struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewSQLiteStore(db *sql.DB, logger *zap.Logger) *SQLiteStore {
	return &SQLiteStore{db: db, logger: logger.Named("sqlite")}
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("database error applying schema: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() {
	if err := s.db.Close(); err != nil {
		s.logger.Warn("error closing database", zap.Error(err))
	}
}

// --- Conversation Methods ---

const createConversation = `
INSERT INTO conversations (id, title, created_at, updated_at)
VALUES (?, ?, ?, ?)`

func (s *SQLiteStore) CreateConversation(ctx context.Context, title string) (*models.Conversation, error) {
	now := store.Now()
	c := models.Conversation{
		ID:        uuid.NewString(),
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if _, err := s.db.ExecContext(ctx, createConversation, c.ID, c.Title, toMicros(now), toMicros(now)); err != nil {
		s.logger.Error("CreateConversation failed", zap.Error(err))
		return nil, fmt.Errorf("database error creating conversation: %w", err)
	}
	s.logger.Debug("conversation created", zap.String("conversation_id", c.ID))
	return &c, nil
}

const listConversations = `
SELECT id, title, created_at, updated_at
FROM conversations
ORDER BY updated_at DESC, id`

func (s *SQLiteStore) ListConversations(ctx context.Context) ([]models.Conversation, error) {
	return s.queryConversations(ctx, listConversations)
}

const getConversation = `
SELECT id, title, created_at, updated_at
FROM conversations
WHERE id = ?`

func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	c, err := scanConversation(s.db.QueryRowContext(ctx, getConversation, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("error scanning conversation: %w", err)
	}

	msgs, err := s.ListMessages(ctx, id, 0)
	if err != nil {
		return nil, err
	}
	c.Messages = msgs
	return &c, nil
}

const searchConversations = `
SELECT c.id, c.title, c.created_at, c.updated_at
FROM conversations c
WHERE LOWER(c.title) LIKE ?1 ESCAPE '\'
   OR EXISTS (
        SELECT 1 FROM messages m
        WHERE m.conversation_id = c.id AND LOWER(m.content) LIKE ?1 ESCAPE '\'
   )
ORDER BY c.updated_at DESC, c.id`

func (s *SQLiteStore) SearchConversations(ctx context.Context, query string) ([]models.Conversation, error) {
	q, ok := store.NormalizeSearchQuery(query)
	if !ok {
		return []models.Conversation{}, nil
	}
	return s.queryConversations(ctx, searchConversations, store.LikePattern(q))
}

const updateConversationTitle = `
UPDATE conversations SET title = ?, updated_at = ? WHERE id = ?`

func (s *SQLiteStore) UpdateConversationTitle(ctx context.Context, id string, title string) error {
	res, err := s.db.ExecContext(ctx, updateConversationTitle, title, toMicros(store.Now()), id)
	if err != nil {
		return fmt.Errorf("error executing update conversation title: %w", err)
	}
	return requireRow(res)
}

// DeleteConversation removes the conversation and every message it owns in one transaction.
func (s *SQLiteStore) DeleteConversation(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE conversation_id = ?`, id); err != nil {
		return fmt.Errorf("error deleting conversation messages: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("error executing delete conversation: %w", err)
	}
	if err := requireRow(res); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit delete conversation: %w", err)
	}
	return nil
}

// --- Message Methods ---

const insertMessage = `
INSERT INTO messages (id, conversation_id, role, content, model, temperature, thinking_enabled, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

func (s *SQLiteStore) AppendMessage(ctx context.Context, arg store.AppendMessageParams) (*models.Message, error) {
	if err := store.ValidateAppend(arg); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	now := store.Now()
	res, err := tx.ExecContext(ctx, `UPDATE conversations SET updated_at = ? WHERE id = ?`, toMicros(now), arg.ConversationID)
	if err != nil {
		return nil, fmt.Errorf("error touching conversation: %w", err)
	}
	if err := requireRow(res); err != nil {
		return nil, err
	}

	temperature := arg.Temperature
	m := models.Message{
		ID:              uuid.NewString(),
		ConversationID:  arg.ConversationID,
		Role:            arg.Role,
		Content:         arg.Content,
		Model:           arg.Model,
		Temperature:     &temperature,
		ThinkingEnabled: arg.ThinkingEnabled,
		CreatedAt:       now,
	}
	if _, err := tx.ExecContext(ctx, insertMessage,
		m.ID,
		m.ConversationID,
		string(m.Role),
		m.Content,
		m.Model,
		temperature,
		m.ThinkingEnabled,
		toMicros(now),
	); err != nil {
		s.logger.Error("AppendMessage failed", zap.String("conversation_id", arg.ConversationID), zap.Error(err))
		return nil, fmt.Errorf("error inserting message: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit message: %w", err)
	}
	return &m, nil
}

const listMessages = `
SELECT id, conversation_id, role, content, model, temperature, thinking_enabled, created_at
FROM messages
WHERE conversation_id = ?
ORDER BY created_at ASC, seq ASC
LIMIT ?`

// ListMessages returns the first limit messages in chronological order; limit <= 0 means all.
func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID string, limit int) ([]models.Message, error) {
	if limit <= 0 {
		limit = -1 // SQLite: negative LIMIT means no limit
	}
	rows, err := s.db.QueryContext(ctx, listMessages, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("error querying messages: %w", err)
	}
	defer rows.Close()

	items := []models.Message{}
	for rows.Next() {
		var (
			m         models.Message
			model     sql.NullString
			temp      sql.NullString
			createdAt int64
		)
		if err := rows.Scan(
			&m.ID,
			&m.ConversationID,
			&m.Role,
			&m.Content,
			&model,
			&temp,
			&m.ThinkingEnabled,
			&createdAt,
		); err != nil {
			return nil, fmt.Errorf("error scanning message row: %w", err)
		}
		if model.Valid {
			m.Model = &model.String
		}
		if temp.Valid {
			m.Temperature = &temp.String
		}
		m.CreatedAt = fromMicros(createdAt)
		items = append(items, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating message rows: %w", err)
	}
	return items, nil
}

// --- helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (models.Conversation, error) {
	var (
		c                    models.Conversation
		createdAt, updatedAt int64
	)
	if err := row.Scan(&c.ID, &c.Title, &createdAt, &updatedAt); err != nil {
		return models.Conversation{}, err
	}
	c.CreatedAt = fromMicros(createdAt)
	c.UpdatedAt = fromMicros(updatedAt)
	return c, nil
}

func (s *SQLiteStore) queryConversations(ctx context.Context, query string, args ...any) ([]models.Conversation, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error querying conversations: %w", err)
	}
	defer rows.Close()

	items := []models.Conversation{}
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning conversation row: %w", err)
		}
		items = append(items, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating conversation rows: %w", err)
	}
	return items, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("error reading affected rows: %w", err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func toMicros(t time.Time) int64 { return t.UnixMicro() }

func fromMicros(us int64) time.Time { return time.UnixMicro(us).UTC() }
