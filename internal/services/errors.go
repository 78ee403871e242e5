package services

import (
	"claudechat-backend/internal/llm"
	"errors"
)

// Errors returned by the services; handlers map them to HTTP statuses.
var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrValidation           = errors.New("validation failed")
	ErrUpstreamUnavailable  = errors.New("upstream client not initialized")
	ErrUpstream             = errors.New("upstream request failed")
)

// MaxTitleLength matches the width of the title column.
const MaxTitleLength = 255

type readiness interface {
	Ready() bool
}

// upstreamReady reports whether c can serve calls. Completers without a
// readiness notion are always ready.
func upstreamReady(c llm.Completer) bool {
	if r, ok := c.(readiness); ok {
		return r.Ready()
	}
	return true
}

// upstreamMessage extracts the provider's own message when there is one.
func upstreamMessage(err error) string {
	var upErr *llm.UpstreamError
	if errors.As(err, &upErr) && upErr.Message != "" {
		return upErr.Message
	}
	return err.Error()
}
