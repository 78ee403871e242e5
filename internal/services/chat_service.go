package services

import (
	"claudechat-backend/internal/llm"
	"claudechat-backend/internal/models"
	"claudechat-backend/internal/store"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DefaultTemperature is used when a request does not name one.
const DefaultTemperature = 0.1

// assistantSaveTimeout bounds the write of a finished reply, which outlives
// the client connection.
const assistantSaveTimeout = 5 * time.Second

// ChatOptions tunes the chat pipeline.
type ChatOptions struct {
	UpstreamTimeout time.Duration // per upstream call, zero disables
	PacedModel      string        // model whose stream is paced
	PaceEvery       int           // pause after this many chunks
	PaceDelay       time.Duration
}

// Notifier delivers one notification to the client of a streaming turn.
// A returned error means the connection is gone.
type Notifier func(ctx context.Context, n models.Notification) error

// ChatService runs chat turns against the upstream and records them.
type ChatService struct {
	store    store.Store
	upstream llm.Completer
	models   *llm.Registry
	opts     ChatOptions
	logger   *zap.Logger
}

// NewChatService creates a new ChatService.
func NewChatService(s store.Store, upstream llm.Completer, registry *llm.Registry, opts ChatOptions, logger *zap.Logger) *ChatService {
	return &ChatService{
		store:    s,
		upstream: upstream,
		models:   registry,
		opts:     opts,
		logger:   logger.Named("chat"),
	}
}

// turn is a validated chat request with defaults applied.
type turn struct {
	req         models.ChatRequest
	model       string
	spec        llm.ModelSpec
	temperature float64
}

func (t turn) temperatureText() string {
	return strconv.FormatFloat(t.temperature, 'f', -1, 64)
}

func (t turn) conversationID() string {
	if t.req.ConversationID == nil {
		return ""
	}
	return *t.req.ConversationID
}

func (t turn) completionRequest() llm.CompletionRequest {
	msgs := make([]llm.Message, 0, len(t.req.ConversationHistory)+1)
	for _, h := range t.req.ConversationHistory {
		msgs = append(msgs, llm.Message{Role: string(h.Role), Content: h.Content})
	}
	msgs = append(msgs, llm.Message{Role: string(models.RoleUser), Content: t.req.Message})

	return llm.CompletionRequest{
		Model:       t.model,
		Messages:    msgs,
		MaxTokens:   t.spec.MaxTokens,
		Temperature: t.temperature,
		Thinking:    t.req.EnableThinking && t.spec.SupportsThinking,
		WebSearch:   t.req.EnableWebSearch,
	}
}

func (s *ChatService) prepare(req models.ChatRequest) (turn, error) {
	if strings.TrimSpace(req.Message) == "" {
		return turn{}, fmt.Errorf("%w: message cannot be empty", ErrValidation)
	}
	for i, h := range req.ConversationHistory {
		if !h.Role.Valid() {
			return turn{}, fmt.Errorf("%w: conversation_history[%d] has invalid role %q", ErrValidation, i, h.Role)
		}
	}

	t := turn{req: req, model: req.Model, temperature: DefaultTemperature}
	if t.model == "" {
		t.model = s.models.DefaultModel()
	}
	if req.Temperature != nil {
		t.temperature = *req.Temperature
	}
	if t.temperature < 0 || t.temperature > 1 {
		return turn{}, fmt.Errorf("%w: temperature must be between 0 and 1", ErrValidation)
	}
	t.spec = s.models.Lookup(t.model)
	return t, nil
}

func (s *ChatService) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opts.UpstreamTimeout > 0 {
		return context.WithTimeout(ctx, s.opts.UpstreamTimeout)
	}
	return context.WithCancel(ctx)
}

func (s *ChatService) saveUserTurn(ctx context.Context, t turn) error {
	_, err := s.store.AppendMessage(ctx, store.AppendMessageParams{
		ConversationID:  t.conversationID(),
		Role:            models.RoleUser,
		Content:         t.req.Message,
		Temperature:     t.temperatureText(),
		ThinkingEnabled: t.req.EnableThinking,
	})
	if err != nil {
		s.logger.Error("failed to save user message",
			zap.String("conversation_id", t.conversationID()), zap.Error(err))
	}
	return err
}

// saveAssistantTurn is best effort; failures are logged only. The client has
// already been given the reply, so the write ignores ctx cancellation.
func (s *ChatService) saveAssistantTurn(ctx context.Context, t turn, text string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), assistantSaveTimeout)
	defer cancel()

	model := t.model
	_, err := s.store.AppendMessage(ctx, store.AppendMessageParams{
		ConversationID:  t.conversationID(),
		Role:            models.RoleAssistant,
		Content:         text,
		Model:           &model,
		Temperature:     t.temperatureText(),
		ThinkingEnabled: t.req.EnableThinking,
	})
	if err != nil {
		s.logger.Error("failed to save assistant message",
			zap.String("conversation_id", t.conversationID()), zap.Error(err))
		return
	}
	s.logger.Debug("assistant message saved",
		zap.String("conversation_id", t.conversationID()), zap.Int("chars", len(text)))
}

// StreamTurn runs one streaming turn and reports its progress through send.
// Turn failures (validation, upstream, persistence) become error notifications
// and StreamTurn returns nil. A non-nil error means send failed or ctx ended,
// and the caller should drop the connection.
func (s *ChatService) StreamTurn(ctx context.Context, req models.ChatRequest, send Notifier) error {
	t, err := s.prepare(req)
	if err != nil {
		return send(ctx, models.ErrorNotification(err.Error()))
	}
	if !upstreamReady(s.upstream) {
		return send(ctx, models.ErrorNotification(ErrUpstreamUnavailable.Error()))
	}

	log := s.logger.With(zap.String("model", t.model), zap.String("conversation_id", t.conversationID()))

	if req.HasConversation() {
		if err := s.saveUserTurn(ctx, t); err != nil {
			if sendErr := send(ctx, models.ErrorNotification("Failed to save message: "+err.Error())); sendErr != nil {
				return sendErr
			}
		}
	}

	if err := send(ctx, models.StatusNotification(fmt.Sprintf("Processing with %s...", t.spec.Name))); err != nil {
		return err
	}

	callCtx, cancel := s.withTimeout(ctx)
	defer cancel()

	events, err := s.upstream.Stream(callCtx, t.completionRequest())
	if err != nil {
		log.Warn("upstream call failed", zap.Error(err))
		return send(ctx, s.streamError(t, err))
	}

	var (
		full   strings.Builder
		chunks int
	)
	for ev := range events {
		if ev.Err != nil {
			if callCtx.Err() != nil {
				break
			}
			log.Warn("upstream stream failed", zap.Int("chunks", chunks), zap.Error(ev.Err))
			cancel()
			return send(ctx, s.streamError(t, ev.Err))
		}
		full.WriteString(ev.Text)
		chunks++
		if err := send(ctx, models.ChunkNotification(ev.Text, full.String())); err != nil {
			return err
		}
		if err := s.pace(callCtx, t.model, chunks); err != nil {
			break
		}
	}

	// The producer may close the channel without an error event on cancellation.
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := callCtx.Err(); err != nil {
		log.Warn("upstream call timed out", zap.Int("chunks", chunks), zap.Duration("timeout", s.opts.UpstreamTimeout))
		return send(ctx, models.ErrorNotification(fmt.Sprintf("Request timed out for %s. Please try again.", t.spec.Name)))
	}

	text := full.String()
	if err := send(ctx, models.CompleteNotification(text, time.Now().UTC())); err != nil {
		return err
	}
	log.Info("turn completed", zap.Int("chunks", chunks), zap.Int("chars", len(text)))

	if req.HasConversation() && text != "" {
		s.saveAssistantTurn(ctx, t, text)
	}
	return nil
}

func (s *ChatService) streamError(t turn, err error) models.Notification {
	if errors.Is(err, llm.ErrNotReady) {
		return models.ErrorNotification(ErrUpstreamUnavailable.Error())
	}
	return models.ErrorNotification(fmt.Sprintf("Streaming error with %s: %s", t.spec.Name, upstreamMessage(err)))
}

// pace pauses after every PaceEvery chunks of the paced model. The pause ends
// early when ctx is done, and ctx's error is returned.
func (s *ChatService) pace(ctx context.Context, model string, chunks int) error {
	if s.opts.PaceEvery <= 0 || s.opts.PaceDelay <= 0 || model != s.opts.PacedModel {
		return nil
	}
	if chunks%s.opts.PaceEvery != 0 {
		return nil
	}
	timer := time.NewTimer(s.opts.PaceDelay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Complete runs a turn without streaming and returns the whole reply.
func (s *ChatService) Complete(ctx context.Context, req models.ChatRequest) (*models.ChatResponse, error) {
	t, err := s.prepare(req)
	if err != nil {
		return nil, err
	}
	if !upstreamReady(s.upstream) {
		return nil, ErrUpstreamUnavailable
	}

	if req.HasConversation() {
		_ = s.saveUserTurn(ctx, t) // logged; the turn goes on
	}

	callCtx, cancel := s.withTimeout(ctx)
	defer cancel()

	text, err := llm.Collect(callCtx, s.upstream, t.completionRequest())
	if err != nil {
		if errors.Is(err, llm.ErrNotReady) {
			return nil, ErrUpstreamUnavailable
		}
		s.logger.Warn("completion failed", zap.String("model", t.model), zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrUpstream, err)
	}

	if req.HasConversation() && text != "" {
		s.saveAssistantTurn(ctx, t, text)
	}
	return &models.ChatResponse{Message: text, Timestamp: time.Now().UTC()}, nil
}

// UpstreamMessage returns the provider's message for an ErrUpstream failure.
func UpstreamMessage(err error) string {
	return upstreamMessage(err)
}
