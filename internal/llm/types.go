// Package llm adapts upstream large-language-model APIs to a single streaming
// interface and describes the models the service exposes.
package llm

import (
	"context"
	"fmt"
)

// Message is one turn of the conversation sent upstream.
type Message struct {
	Role    string // "user" or "assistant"
	Content string
}

// CompletionRequest carries everything an adapter needs for one upstream call.
type CompletionRequest struct {
	Model       string
	Messages    []Message
	MaxTokens   int
	Temperature float64
	Thinking    bool // extended thinking; callers set it only for models that support it
	WebSearch   bool
}

// StreamEvent is one item of a completion stream: either a text fragment or
// the terminal error.
type StreamEvent struct {
	Text string
	Err  error
}

// Completer streams a completion from an upstream provider.
//
// The returned channel yields fragments in order and is closed when the reply
// ends. At most one event carries Err, and it is always the last one.
// Cancelling ctx abandons the stream; the producer stops and releases the
// underlying connection. Implementations keep no state between calls.
type Completer interface {
	Stream(ctx context.Context, req CompletionRequest) (<-chan StreamEvent, error)
}

// UpstreamError is a failure reported by the provider itself.
type UpstreamError struct {
	Status  int    // HTTP status, 0 when the error arrived mid-stream
	Type    string // provider error type, e.g. "overloaded_error"
	Message string
}

func (e *UpstreamError) Error() string {
	switch {
	case e.Type != "" && e.Status != 0:
		return fmt.Sprintf("%s (%d): %s", e.Type, e.Status, e.Message)
	case e.Type != "":
		return fmt.Sprintf("%s: %s", e.Type, e.Message)
	case e.Status != 0:
		return fmt.Sprintf("upstream status %d: %s", e.Status, e.Message)
	}
	return e.Message
}
