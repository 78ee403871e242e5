package postgres

import (
	"claudechat-backend/internal/models"
	"claudechat-backend/internal/store"
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Compile-time check to ensure PostgresStore implements store.Store
var _ store.Store = (*PostgresStore)(nil)

type PostgresStore struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewPostgresStore(db *pgxpool.Pool, logger *zap.Logger) *PostgresStore {
	return &PostgresStore{db: db, logger: logger.Named("postgres")}
}

// Migrate creates the tables if they do not exist yet.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("database error applying schema: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

func (s *PostgresStore) Close() {
	s.db.Close()
}

// --- Conversation Methods ---

const createConversation = `-- name: CreateConversation :one
INSERT INTO conversations (id, title, created_at, updated_at)
VALUES ($1, $2, $3, $3)
RETURNING id, title, created_at, updated_at;
`

// CreateConversation inserts a new conversation with created_at == updated_at.
func (s *PostgresStore) CreateConversation(ctx context.Context, title string) (*models.Conversation, error) {
	var c models.Conversation
	err := s.db.QueryRow(ctx, createConversation, uuid.NewString(), title, store.Now()).Scan(
		&c.ID,
		&c.Title,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		s.logPgError("CreateConversation", err)
		return nil, fmt.Errorf("database error creating conversation: %w", err)
	}
	s.logger.Debug("conversation created", zap.String("conversation_id", c.ID))
	return &c, nil
}

const listConversations = `-- name: ListConversations :many
SELECT id, title, created_at, updated_at
FROM conversations
ORDER BY updated_at DESC, id;
`

func (s *PostgresStore) ListConversations(ctx context.Context) ([]models.Conversation, error) {
	return s.queryConversations(ctx, listConversations)
}

const getConversation = `-- name: GetConversation :one
SELECT id, title, created_at, updated_at
FROM conversations
WHERE id = $1;
`

// GetConversation returns the conversation and its messages in chronological order.
// Returns store.ErrNotFound if the conversation does not exist.
func (s *PostgresStore) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	var c models.Conversation
	err := s.db.QueryRow(ctx, getConversation, id).Scan(
		&c.ID,
		&c.Title,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
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

const searchConversations = `-- name: SearchConversations :many
SELECT c.id, c.title, c.created_at, c.updated_at
FROM conversations c
WHERE LOWER(c.title) LIKE $1 ESCAPE '\'
   OR EXISTS (
        SELECT 1 FROM messages m
        WHERE m.conversation_id = c.id AND LOWER(m.content) LIKE $1 ESCAPE '\'
   )
ORDER BY c.updated_at DESC, c.id;
`

// SearchConversations matches the query against titles and message bodies.
// Queries shorter than store.MinSearchQueryLength return an empty result.
func (s *PostgresStore) SearchConversations(ctx context.Context, query string) ([]models.Conversation, error) {
	q, ok := store.NormalizeSearchQuery(query)
	if !ok {
		return []models.Conversation{}, nil
	}
	return s.queryConversations(ctx, searchConversations, store.LikePattern(q))
}

const updateConversationTitle = `-- name: UpdateConversationTitle :exec
UPDATE conversations
SET title = $1, updated_at = $2
WHERE id = $3;
`

func (s *PostgresStore) UpdateConversationTitle(ctx context.Context, id string, title string) error {
	tag, err := s.db.Exec(ctx, updateConversationTitle, title, store.Now(), id)
	if err != nil {
		return fmt.Errorf("error executing update conversation title: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

const deleteConversationMessages = `-- name: DeleteConversationMessages :exec
DELETE FROM messages WHERE conversation_id = $1;
`

const deleteConversation = `-- name: DeleteConversation :exec
DELETE FROM conversations WHERE id = $1;
`

// DeleteConversation removes the conversation and every message it owns in one transaction.
func (s *PostgresStore) DeleteConversation(ctx context.Context, id string) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	msgTag, err := tx.Exec(ctx, deleteConversationMessages, id)
	if err != nil {
		return fmt.Errorf("error deleting conversation messages: %w", err)
	}
	tag, err := tx.Exec(ctx, deleteConversation, id)
	if err != nil {
		return fmt.Errorf("error executing delete conversation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit delete conversation: %w", err)
	}

	s.logger.Debug("conversation deleted",
		zap.String("conversation_id", id),
		zap.Int64("messages", msgTag.RowsAffected()))
	return nil
}

// --- Message Methods ---

const touchConversation = `-- name: TouchConversation :exec
UPDATE conversations SET updated_at = $1 WHERE id = $2;
`

const insertMessage = `-- name: InsertMessage :one
INSERT INTO messages (
    id, conversation_id, role, content, model, temperature, thinking_enabled, created_at
) VALUES (
    $1, $2, $3, $4, $5, $6, $7, $8
)
RETURNING id, conversation_id, role, content, model, temperature, thinking_enabled, created_at;
`

// AppendMessage inserts a message and bumps the owning conversation's updated_at
// with the same timestamp, atomically.
func (s *PostgresStore) AppendMessage(ctx context.Context, arg store.AppendMessageParams) (*models.Message, error) {
	if err := store.ValidateAppend(arg); err != nil {
		return nil, err
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	now := store.Now()
	tag, err := tx.Exec(ctx, touchConversation, now, arg.ConversationID)
	if err != nil {
		return nil, fmt.Errorf("error touching conversation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, store.ErrNotFound
	}

	var m models.Message
	err = tx.QueryRow(ctx, insertMessage,
		uuid.NewString(),
		arg.ConversationID,
		string(arg.Role),
		arg.Content,
		arg.Model, // pgx handles *string to NULL automatically
		arg.Temperature,
		arg.ThinkingEnabled,
		now,
	).Scan(
		&m.ID,
		&m.ConversationID,
		&m.Role,
		&m.Content,
		&m.Model,
		&m.Temperature,
		&m.ThinkingEnabled,
		&m.CreatedAt,
	)
	if err != nil {
		s.logPgError("AppendMessage", err)
		return nil, fmt.Errorf("error inserting message: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit message: %w", err)
	}
	return &m, nil
}

const listMessages = `-- name: ListMessages :many
SELECT id, conversation_id, role, content, model, temperature, thinking_enabled, created_at
FROM messages
WHERE conversation_id = $1
ORDER BY created_at ASC, seq ASC
LIMIT $2;
`

// ListMessages returns the first limit messages of a conversation in chronological
// order. A limit <= 0 returns all of them.
func (s *PostgresStore) ListMessages(ctx context.Context, conversationID string, limit int) ([]models.Message, error) {
	var lim *int
	if limit > 0 {
		lim = &limit // NULL means no limit
	}
	rows, err := s.db.Query(ctx, listMessages, conversationID, lim)
	if err != nil {
		return nil, fmt.Errorf("error querying messages: %w", err)
	}
	defer rows.Close()

	items := []models.Message{}
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(
			&m.ID,
			&m.ConversationID,
			&m.Role,
			&m.Content,
			&m.Model,
			&m.Temperature,
			&m.ThinkingEnabled,
			&m.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("error scanning message row: %w", err)
		}
		items = append(items, m)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating message rows: %w", err)
	}
	return items, nil
}

// --- helpers ---

func (s *PostgresStore) queryConversations(ctx context.Context, query string, args ...any) ([]models.Conversation, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error querying conversations: %w", err)
	}
	defer rows.Close()

	items := []models.Conversation{}
	for rows.Next() {
		var c models.Conversation
		if err := rows.Scan(
			&c.ID,
			&c.Title,
			&c.CreatedAt,
			&c.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("error scanning conversation row: %w", err)
		}
		items = append(items, c)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating conversation rows: %w", err)
	}
	return items, nil
}

// logPgError records the PostgreSQL error code and detail when available.
func (s *PostgresStore) logPgError(op string, err error) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		s.logger.Error("postgres error",
			zap.String("op", op),
			zap.String("code", pgErr.Code),
			zap.String("message", pgErr.Message),
			zap.String("detail", pgErr.Detail))
		return
	}
	s.logger.Error("database error", zap.String("op", op), zap.Error(err))
}
