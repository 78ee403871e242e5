package services

import (
	"claudechat-backend/internal/llm"
	"claudechat-backend/internal/models"
	"claudechat-backend/internal/store"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
)

const (
	defaultTitle        = "New Chat"
	titleSourceMessages = 5
	titleSourceChars    = 1000
	titleMaxWords       = 4
	titleMaxTokens      = 20
	titleTemperature    = 0.3
	titleFallbackChars  = 30
)

// ConversationService defines the conversation management operations.
type ConversationService interface {
	CreateConversation(ctx context.Context, req models.CreateConversationRequest) (*models.Conversation, error)
	ListConversations(ctx context.Context) ([]models.Conversation, error)
	SearchConversations(ctx context.Context, query string) ([]models.Conversation, error)
	GetConversation(ctx context.Context, id string) (*models.Conversation, error)
	UpdateTitle(ctx context.Context, id string, req models.UpdateTitleRequest) error
	DeleteConversation(ctx context.Context, id string) error
	GenerateTitle(ctx context.Context, id string) (string, error)
}

type conversationService struct {
	store    store.Store
	upstream llm.Completer
	models   *llm.Registry
	timeout  time.Duration
	logger   *zap.Logger
}

// NewConversationService creates a new ConversationService. timeout bounds
// each title generation call; zero means no extra deadline.
func NewConversationService(s store.Store, upstream llm.Completer, registry *llm.Registry, timeout time.Duration, logger *zap.Logger) ConversationService {
	return &conversationService{
		store:    s,
		upstream: upstream,
		models:   registry,
		timeout:  timeout,
		logger:   logger.Named("conversations"),
	}
}

func validateTitle(title string) (string, error) {
	t := strings.TrimSpace(title)
	if t == "" {
		return "", fmt.Errorf("%w: title cannot be empty", ErrValidation)
	}
	if utf8.RuneCountInString(t) > MaxTitleLength {
		return "", fmt.Errorf("%w: title cannot exceed %d characters", ErrValidation, MaxTitleLength)
	}
	return t, nil
}

func (s *conversationService) CreateConversation(ctx context.Context, req models.CreateConversationRequest) (*models.Conversation, error) {
	title, err := validateTitle(req.Title)
	if err != nil {
		return nil, err
	}
	c, err := s.store.CreateConversation(ctx, title)
	if err != nil {
		s.logger.Error("create conversation failed", zap.Error(err))
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	s.logger.Info("conversation created", zap.String("conversation_id", c.ID))
	return c, nil
}

func (s *conversationService) ListConversations(ctx context.Context) ([]models.Conversation, error) {
	list, err := s.store.ListConversations(ctx)
	if err != nil {
		s.logger.Error("list conversations failed", zap.Error(err))
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	return list, nil
}

// SearchConversations returns an empty list for queries shorter than two characters.
func (s *conversationService) SearchConversations(ctx context.Context, query string) ([]models.Conversation, error) {
	list, err := s.store.SearchConversations(ctx, query)
	if err != nil {
		s.logger.Error("search conversations failed", zap.String("query", query), zap.Error(err))
		return nil, fmt.Errorf("failed to search conversations: %w", err)
	}
	return list, nil
}

func (s *conversationService) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	c, err := s.store.GetConversation(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrConversationNotFound
		}
		s.logger.Error("get conversation failed", zap.String("conversation_id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to retrieve conversation: %w", err)
	}
	return c, nil
}

func (s *conversationService) UpdateTitle(ctx context.Context, id string, req models.UpdateTitleRequest) error {
	title, err := validateTitle(req.Title)
	if err != nil {
		return err
	}
	return s.setTitle(ctx, id, title)
}

func (s *conversationService) setTitle(ctx context.Context, id, title string) error {
	if err := s.store.UpdateConversationTitle(ctx, id, title); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrConversationNotFound
		}
		s.logger.Error("update title failed", zap.String("conversation_id", id), zap.Error(err))
		return fmt.Errorf("failed to update conversation title: %w", err)
	}
	return nil
}

func (s *conversationService) DeleteConversation(ctx context.Context, id string) error {
	if err := s.store.DeleteConversation(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrConversationNotFound
		}
		s.logger.Error("delete conversation failed", zap.String("conversation_id", id), zap.Error(err))
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	s.logger.Info("conversation deleted", zap.String("conversation_id", id))
	return nil
}

// GenerateTitle asks the default model for a short title built from the first
// few messages and stores it. Generation failures fall back to an excerpt of
// the first message. A conversation without messages gets "New Chat" and is
// left untouched.
func (s *conversationService) GenerateTitle(ctx context.Context, id string) (string, error) {
	if !upstreamReady(s.upstream) {
		return "", ErrUpstreamUnavailable
	}
	if _, err := s.GetConversation(ctx, id); err != nil {
		return "", err
	}

	msgs, err := s.store.ListMessages(ctx, id, titleSourceMessages)
	if err != nil {
		s.logger.Error("list messages for title failed", zap.String("conversation_id", id), zap.Error(err))
		return "", fmt.Errorf("failed to load messages: %w", err)
	}
	if len(msgs) == 0 {
		return defaultTitle, nil
	}

	title, err := s.askForTitle(ctx, msgs)
	if err != nil || title == "" {
		s.logger.Warn("title generation failed, using first message",
			zap.String("conversation_id", id), zap.Error(err))
		title = excerpt(msgs[0].Content, titleFallbackChars)
	}

	if err := s.setTitle(ctx, id, title); err != nil {
		return "", err
	}
	return title, nil
}

func (s *conversationService) askForTitle(ctx context.Context, msgs []models.Message) (string, error) {
	var transcript strings.Builder
	for _, m := range msgs {
		fmt.Fprintf(&transcript, "%s: %s\n", m.Role, m.Content)
	}
	content := truncateRunes(transcript.String(), titleSourceChars)

	prompt := "Based on this conversation, generate a concise title that captures the main topic.\n" +
		"The title should be EXACTLY 4 words or less, no punctuation, just the core topic.\n\n" +
		"Conversation:\n" + content + "...\n\n" +
		"Title (4 words max):"

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	out, err := llm.Collect(ctx, s.upstream, llm.CompletionRequest{
		Model:       s.models.DefaultModel(),
		Messages:    []llm.Message{{Role: string(models.RoleUser), Content: prompt}},
		MaxTokens:   titleMaxTokens,
		Temperature: titleTemperature,
	})
	if err != nil {
		return "", err
	}
	return cleanTitle(out), nil
}

// cleanTitle strips quotes and keeps the first four words.
func cleanTitle(raw string) string {
	t := strings.NewReplacer(`"`, "", "'", "").Replace(strings.TrimSpace(raw))
	words := strings.Fields(t)
	if len(words) > titleMaxWords {
		words = words[:titleMaxWords]
	}
	return strings.Join(words, " ")
}

func excerpt(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return truncateRunes(s, n) + "..."
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
