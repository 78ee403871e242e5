package models

import (
	"time"
)

// --- Request Structs ---

// CreateConversationRequest defines the body for creating a conversation.
type CreateConversationRequest struct {
	Title string `json:"title"`
}

// UpdateTitleRequest defines the body for renaming a conversation.
type UpdateTitleRequest struct {
	Title string `json:"title"`
}

// ChatRequest is the body of POST /chat and the payload of every WebSocket turn.
type ChatRequest struct {
	Message             string     `json:"message"`
	ConversationHistory []ChatTurn `json:"conversation_history"`
	Model               string     `json:"model"`
	Temperature         *float64   `json:"temperature,omitempty"` // nil means the server default
	EnableThinking      bool       `json:"enable_thinking"`
	EnableWebSearch     bool       `json:"enable_web_search"`
	ConversationID      *string    `json:"conversation_id,omitempty"`
}

// HasConversation reports whether the request is attached to a stored conversation.
func (r ChatRequest) HasConversation() bool {
	return r.ConversationID != nil && *r.ConversationID != ""
}

// --- Response Structs ---

// ErrorResponse defines the standard structure for API errors.
type ErrorResponse struct {
	Error string `json:"error"`
}

// MessageResponse is a plain acknowledgement body.
type MessageResponse struct {
	Message string `json:"message"`
}

// ConversationDetail is the single-conversation view; messages are always present.
type ConversationDetail struct {
	Conversation
	Messages []Message `json:"messages"`
}

// NewConversationDetail wraps c for the detail endpoint.
func NewConversationDetail(c *Conversation) ConversationDetail {
	msgs := c.Messages
	if msgs == nil {
		msgs = []Message{}
	}
	return ConversationDetail{Conversation: *c, Messages: msgs}
}

// ChatResponse is returned by the non-streaming chat endpoint.
type ChatResponse struct {
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// TitleResponse is returned by title generation.
type TitleResponse struct {
	Title string `json:"title"`
}

// HealthResponse is returned by the health probe when the service is ready.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// --- Streaming Notifications ---

// NotificationType discriminates the notifications sent on a streaming connection.
type NotificationType string

const (
	NotificationStatus   NotificationType = "status"
	NotificationChunk    NotificationType = "chunk"
	NotificationComplete NotificationType = "complete"
	NotificationError    NotificationType = "error"
)

// Notification is one server->client frame on a streaming connection.
// Only the fields relevant to Type are set.
type Notification struct {
	Type        NotificationType `json:"type"`
	Message     string           `json:"message"`                // status, complete, error
	Content     string           `json:"content,omitempty"`      // chunk: the fragment
	FullMessage string           `json:"full_message,omitempty"` // chunk: cumulative text
	Timestamp   *time.Time       `json:"timestamp,omitempty"`    // complete
}

// StatusNotification builds a "status" frame.
func StatusNotification(msg string) Notification {
	return Notification{Type: NotificationStatus, Message: msg}
}

// ChunkNotification builds a "chunk" frame.
func ChunkNotification(fragment, full string) Notification {
	return Notification{Type: NotificationChunk, Content: fragment, FullMessage: full}
}

// CompleteNotification builds the terminal "complete" frame of a turn.
func CompleteNotification(full string, at time.Time) Notification {
	return Notification{Type: NotificationComplete, Message: full, Timestamp: &at}
}

// ErrorNotification builds an "error" frame.
func ErrorNotification(msg string) Notification {
	return Notification{Type: NotificationError, Message: msg}
}
