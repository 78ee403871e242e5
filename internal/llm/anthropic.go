package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"
)

const (
	minThinkingBudget = 1024
	maxThinkingBudget = 16000

	webSearchMaxUses = 5
)

// AnthropicClient streams completions from the Anthropic Messages API.
type AnthropicClient struct {
	client anthropic.Client
	logger *zap.Logger
}

// NewAnthropicClient returns a client for baseURL (the public API when empty).
// Retries are disabled and no HTTP timeout is set; callers bound each call
// with ctx.
func NewAnthropicClient(apiKey, baseURL string, logger *zap.Logger) (*AnthropicClient, error) {
	if apiKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimRight(baseURL, "/")+"/"))
	}
	return &AnthropicClient{
		client: anthropic.NewClient(opts...),
		logger: logger.Named("anthropic"),
	}, nil
}

func buildAnthropicRequest(req CompletionRequest) anthropic.MessageNewParams {
	msgs := make([]anthropic.MessageParam, len(req.Messages))
	for i, m := range req.Messages {
		block := anthropic.NewTextBlock(m.Content)
		if m.Role == "assistant" {
			msgs[i] = anthropic.NewAssistantMessage(block)
		} else {
			msgs[i] = anthropic.NewUserMessage(block)
		}
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: int64(req.MaxTokens),
		Messages:  msgs,
	}
	// The API rejects a custom temperature when thinking is on.
	if budget := thinkingBudget(req.MaxTokens); req.Thinking && budget > 0 {
		params.Thinking = anthropic.ThinkingConfigParamOfEnabled(int64(budget))
	} else {
		params.Temperature = anthropic.Float(req.Temperature)
	}
	if req.WebSearch {
		params.Tools = []anthropic.ToolUnionParam{{
			OfWebSearchTool20250305: &anthropic.WebSearchTool20250305Param{MaxUses: anthropic.Int(webSearchMaxUses)},
		}}
	}
	return params
}

// thinkingBudget returns a budget below maxTokens, or 0 when there is no room
// for the API minimum.
func thinkingBudget(maxTokens int) int {
	budget := min(maxTokens/2, maxThinkingBudget)
	if budget < minThinkingBudget {
		return 0
	}
	return budget
}

// Stream sends the request and returns text fragments as they arrive. A
// rejected request is returned directly; failures after the stream started
// arrive as the final event.
func (c *AnthropicClient) Stream(ctx context.Context, req CompletionRequest) (<-chan StreamEvent, error) {
	stream := c.client.Messages.NewStreaming(ctx, buildAnthropicRequest(req))
	if err := stream.Err(); err != nil {
		stream.Close() //nolint:errcheck
		return nil, anthropicError(err)
	}

	c.logger.Debug("stream opened",
		zap.String("model", req.Model),
		zap.Int("messages", len(req.Messages)),
		zap.Bool("thinking", req.Thinking),
		zap.Bool("web_search", req.WebSearch))

	events := make(chan StreamEvent)
	go func() {
		defer close(events)
		defer stream.Close() //nolint:errcheck

		stopped := false
		for !stopped && stream.Next() {
			switch ev := stream.Current().AsAny().(type) {
			case anthropic.ContentBlockDeltaEvent:
				delta, ok := ev.Delta.AsAny().(anthropic.TextDelta)
				if !ok || delta.Text == "" {
					continue // thinking, citations, tool input
				}
				select {
				case events <- StreamEvent{Text: delta.Text}:
				case <-ctx.Done():
					return
				}
			case anthropic.MessageStopEvent:
				stopped = true
			}
		}

		var err error
		switch {
		case stream.Err() != nil && ctx.Err() != nil:
			err = ctx.Err()
		case stream.Err() != nil:
			err = anthropicError(stream.Err())
		case !stopped:
			err = fmt.Errorf("anthropic: %w before message_stop", io.ErrUnexpectedEOF)
		}
		if err == nil {
			return
		}
		select {
		case events <- StreamEvent{Err: err}:
		case <-ctx.Done():
		}
	}()
	return events, nil
}

type anthropicErrorBody struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// anthropicError turns SDK failures into UpstreamError, keeping the
// provider's own type and message when the body carried them.
func anthropicError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		up := &UpstreamError{Status: apiErr.StatusCode, Message: apiErr.Error()}
		var body anthropicErrorBody
		if json.Unmarshal([]byte(apiErr.RawJSON()), &body) == nil && body.Error.Message != "" {
			up.Type, up.Message = body.Error.Type, body.Error.Message
		}
		return up
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	// Error events inside the stream surface as text with the event JSON appended.
	msg := err.Error()
	if i := strings.Index(msg, "{"); i >= 0 {
		var body anthropicErrorBody
		if json.Unmarshal([]byte(msg[i:]), &body) == nil && body.Error.Message != "" {
			return &UpstreamError{Type: body.Error.Type, Message: body.Error.Message}
		}
	}
	return &UpstreamError{Message: msg}
}
