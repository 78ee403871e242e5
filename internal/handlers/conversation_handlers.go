package handlers

import (
	"claudechat-backend/internal/models"
	"claudechat-backend/internal/services"
	"claudechat-backend/pkg/httputil"
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// ConversationService defines the interface expected from the conversation service.
type ConversationService interface {
	CreateConversation(ctx context.Context, req models.CreateConversationRequest) (*models.Conversation, error)
	ListConversations(ctx context.Context) ([]models.Conversation, error)
	SearchConversations(ctx context.Context, query string) ([]models.Conversation, error)
	GetConversation(ctx context.Context, id string) (*models.Conversation, error)
	UpdateTitle(ctx context.Context, id string, req models.UpdateTitleRequest) error
	DeleteConversation(ctx context.Context, id string) error
	GenerateTitle(ctx context.Context, id string) (string, error)
}

type ConversationHandlers struct {
	svc    ConversationService
	logger *zap.Logger
}

func NewConversationHandlers(svc ConversationService, logger *zap.Logger) *ConversationHandlers {
	return &ConversationHandlers{svc: svc, logger: logger.Named("conversations")}
}

// respondServiceError maps service sentinels to statuses; fallback is the
// message used for unexpected failures.
func (h *ConversationHandlers) respondServiceError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	switch {
	case errors.Is(err, services.ErrConversationNotFound):
		httputil.RespondError(w, http.StatusNotFound, "Conversation not found")
	case errors.Is(err, services.ErrValidation):
		httputil.RespondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, services.ErrUpstreamUnavailable):
		httputil.RespondError(w, http.StatusServiceUnavailable, err.Error())
	default:
		h.logger.Error(fallback, zap.String("path", r.URL.Path), zap.Error(err))
		httputil.RespondError(w, http.StatusInternalServerError, fallback)
	}
}

// HandleCreateConversation handles POST /conversations
func (h *ConversationHandlers) HandleCreateConversation(w http.ResponseWriter, r *http.Request) {
	var req models.CreateConversationRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	c, err := h.svc.CreateConversation(r.Context(), req)
	if err != nil {
		h.respondServiceError(w, r, err, "Failed to create conversation")
		return
	}
	httputil.RespondJSON(w, http.StatusCreated, c)
}

// HandleListConversations handles GET /conversations
func (h *ConversationHandlers) HandleListConversations(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.ListConversations(r.Context())
	if err != nil {
		h.respondServiceError(w, r, err, "Failed to list conversations")
		return
	}
	if list == nil {
		list = []models.Conversation{}
	}
	httputil.RespondJSON(w, http.StatusOK, list)
}

// HandleSearchConversations handles GET /conversations/search?q=
func (h *ConversationHandlers) HandleSearchConversations(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.SearchConversations(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		h.respondServiceError(w, r, err, "Failed to search conversations")
		return
	}
	if list == nil {
		list = []models.Conversation{}
	}
	httputil.RespondJSON(w, http.StatusOK, list)
}

// HandleGetConversation handles GET /conversations/{conversationID}
func (h *ConversationHandlers) HandleGetConversation(w http.ResponseWriter, r *http.Request) {
	c, err := h.svc.GetConversation(r.Context(), chi.URLParam(r, "conversationID"))
	if err != nil {
		h.respondServiceError(w, r, err, "Failed to get conversation")
		return
	}
	httputil.RespondJSON(w, http.StatusOK, models.NewConversationDetail(c))
}

// HandleDeleteConversation handles DELETE /conversations/{conversationID}
func (h *ConversationHandlers) HandleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteConversation(r.Context(), chi.URLParam(r, "conversationID")); err != nil {
		h.respondServiceError(w, r, err, "Failed to delete conversation")
		return
	}
	httputil.RespondJSON(w, http.StatusOK, models.MessageResponse{Message: "Conversation deleted successfully"})
}

// HandleUpdateTitle handles PUT /conversations/{conversationID}/title
func (h *ConversationHandlers) HandleUpdateTitle(w http.ResponseWriter, r *http.Request) {
	var req models.UpdateTitleRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	if err := h.svc.UpdateTitle(r.Context(), chi.URLParam(r, "conversationID"), req); err != nil {
		h.respondServiceError(w, r, err, "Failed to update conversation title")
		return
	}
	httputil.RespondJSON(w, http.StatusOK, models.MessageResponse{Message: "Title updated successfully"})
}

// HandleGenerateTitle handles POST /conversations/{conversationID}/generate-title
func (h *ConversationHandlers) HandleGenerateTitle(w http.ResponseWriter, r *http.Request) {
	title, err := h.svc.GenerateTitle(r.Context(), chi.URLParam(r, "conversationID"))
	if err != nil {
		h.respondServiceError(w, r, err, "Failed to generate conversation title")
		return
	}
	httputil.RespondJSON(w, http.StatusOK, models.TitleResponse{Title: title})
}
