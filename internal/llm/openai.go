package llm

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"
	"go.uber.org/zap"
)

// OpenAIClient streams completions from any OpenAI-compatible endpoint
// (OpenAI itself, Ollama's /v1, vLLM) through langchaingo.
type OpenAIClient struct {
	llm    llms.Model
	logger *zap.Logger
}

// NewOpenAIClient connects to baseURL with token. defaultModel is used when a
// request names no model.
func NewOpenAIClient(baseURL, token, defaultModel string, logger *zap.Logger) (*OpenAIClient, error) {
	opts := []openai.Option{
		openai.WithToken(token),
		openai.WithModel(defaultModel),
	}
	if baseURL != "" {
		opts = append(opts, openai.WithBaseURL(baseURL))
	}
	model, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("openai: %w", err)
	}
	return &OpenAIClient{llm: model, logger: logger.Named("openai")}, nil
}

func toMessageContent(msgs []Message) []llms.MessageContent {
	out := make([]llms.MessageContent, 0, len(msgs))
	for _, m := range msgs {
		role := schema.ChatMessageTypeHuman
		if m.Role == "assistant" {
			role = schema.ChatMessageTypeAI
		}
		out = append(out, llms.TextParts(role, m.Content))
	}
	return out
}

func (c *OpenAIClient) callOptions(req CompletionRequest, fn func(context.Context, []byte) error) []llms.CallOption {
	opts := []llms.CallOption{
		llms.WithTemperature(req.Temperature),
		llms.WithStreamingFunc(fn),
	}
	if req.Model != "" {
		opts = append(opts, llms.WithModel(req.Model))
	}
	if req.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(req.MaxTokens))
	}
	if req.Thinking || req.WebSearch {
		c.logger.Debug("thinking and web search are not available on this transport, ignoring",
			zap.String("model", req.Model),
			zap.Bool("thinking", req.Thinking),
			zap.Bool("web_search", req.WebSearch))
	}
	return opts
}

// Stream runs GenerateContent in its own goroutine; each streamed chunk blocks
// until the consumer receives it.
func (c *OpenAIClient) Stream(ctx context.Context, req CompletionRequest) (<-chan StreamEvent, error) {
	events := make(chan StreamEvent)

	forward := func(ctx context.Context, chunk []byte) error {
		if len(chunk) == 0 {
			return nil
		}
		select {
		case events <- StreamEvent{Text: string(chunk)}:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	opts := c.callOptions(req, forward)

	go func() {
		defer close(events)
		_, err := c.llm.GenerateContent(ctx, toMessageContent(req.Messages), opts...)
		if err == nil {
			return
		}
		if ctx.Err() != nil {
			return
		}
		select {
		case events <- StreamEvent{Err: &UpstreamError{Message: err.Error()}}:
		case <-ctx.Done():
		}
	}()
	return events, nil
}
