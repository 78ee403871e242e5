package store

import (
	"claudechat-backend/internal/models"
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"
)

// ErrNotFound is returned when a specific record is not found.
var ErrNotFound = errors.New("record not found")

// ErrInvalidRole is returned when a message is appended with an unknown role.
var ErrInvalidRole = errors.New("invalid message role")

// MinSearchQueryLength is the shortest trimmed query SearchConversations will run.
const MinSearchQueryLength = 2

// AppendMessageParams contains parameters for appending a message to a conversation.
type AppendMessageParams struct {
	ConversationID  string
	Role            models.Role
	Content         string
	Model           *string // Only set for assistant messages
	Temperature     string  // Textual form of the float used, kept for audit
	ThinkingEnabled bool
}

// Store defines the interface for conversation persistence.
// Every method runs in its own statement or transaction; none is held across calls.
type Store interface {
	// Conversation operations
	CreateConversation(ctx context.Context, title string) (*models.Conversation, error)
	ListConversations(ctx context.Context) ([]models.Conversation, error)
	GetConversation(ctx context.Context, id string) (*models.Conversation, error) // Includes messages
	SearchConversations(ctx context.Context, query string) ([]models.Conversation, error)
	UpdateConversationTitle(ctx context.Context, id string, title string) error
	DeleteConversation(ctx context.Context, id string) error

	// Message operations
	AppendMessage(ctx context.Context, arg AppendMessageParams) (*models.Message, error)
	ListMessages(ctx context.Context, conversationID string, limit int) ([]models.Message, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close()
}

// Now returns the timestamp used for new rows: UTC at microsecond resolution,
// which both backends round-trip exactly.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// NormalizeSearchQuery trims the query and reports whether it is long enough to run.
func NormalizeSearchQuery(query string) (string, bool) {
	q := strings.TrimSpace(query)
	if utf8.RuneCountInString(q) < MinSearchQueryLength {
		return "", false
	}
	return q, true
}

// LikePattern builds a lower-cased "%query%" pattern where LIKE wildcards in the
// query match literally. Use it with ESCAPE '\'.
func LikePattern(query string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(strings.ToLower(query)) + "%"
}

// ValidateAppend checks the parameters shared by every backend.
func ValidateAppend(arg AppendMessageParams) error {
	if !arg.Role.Valid() {
		return ErrInvalidRole
	}
	return nil
}
