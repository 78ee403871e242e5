package models

import (
	"time"
)

// Conversation represents a named, ordered thread of messages.
type Conversation struct {
	ID        string    `db:"id" json:"id"`
	Title     string    `db:"title" json:"title"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
	// Messages is only populated by single-conversation lookups.
	Messages []Message `db:"-" json:"messages,omitempty"`
}

// Message is a single immutable entry in a conversation's log.
type Message struct {
	ID              string    `db:"id" json:"id"`
	ConversationID  string    `db:"conversation_id" json:"conversation_id"`
	Role            Role      `db:"role" json:"role"`
	Content         string    `db:"content" json:"content"`
	Model           *string   `db:"model" json:"model"` // nil for user messages
	Temperature     *string   `db:"temperature" json:"temperature"`
	ThinkingEnabled bool      `db:"thinking_enabled" json:"thinking_enabled"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
}
