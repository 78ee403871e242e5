package handlers

import (
	"claudechat-backend/internal/models"
	"claudechat-backend/internal/services"
	"claudechat-backend/internal/session"
	"claudechat-backend/pkg/httputil"
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ChatService defines the interface expected from the chat service.
type ChatService interface {
	Complete(ctx context.Context, req models.ChatRequest) (*models.ChatResponse, error)
	StreamTurn(ctx context.Context, req models.ChatRequest, send services.Notifier) error
}

type ChatHandlers struct {
	chat     ChatService
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewChatHandlers builds the chat handlers. allowedOrigins restricts which
// browser origins may open a streaming connection; "*" allows any.
func NewChatHandlers(chat ChatService, allowedOrigins []string, logger *zap.Logger) *ChatHandlers {
	return &ChatHandlers{
		chat: chat,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		logger: logger.Named("chat"),
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true // not a browser
		}
		for _, a := range allowed {
			if a == "*" || strings.EqualFold(a, origin) {
				return true
			}
		}
		return false
	}
}

// HandleChat handles POST /chat
func (h *ChatHandlers) HandleChat(w http.ResponseWriter, r *http.Request) {
	var req models.ChatRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	resp, err := h.chat.Complete(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrValidation):
			httputil.RespondError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, services.ErrUpstreamUnavailable):
			httputil.RespondError(w, http.StatusServiceUnavailable, err.Error())
		case errors.Is(err, services.ErrUpstream):
			httputil.RespondError(w, http.StatusBadGateway, services.UpstreamMessage(err))
		default:
			h.logger.Error("chat failed", zap.Error(err))
			httputil.RespondError(w, http.StatusInternalServerError, "Chat request failed")
		}
		return
	}
	httputil.RespondJSON(w, http.StatusOK, resp)
}

// HandleStream handles GET /ws: it upgrades the connection and hands it to a
// session controller until the client leaves.
func (h *ChatHandlers) HandleStream(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	ctrl := session.New(newWSConn(ws), h.chat, h.logger)
	log := h.logger.With(zap.String("session_id", ctrl.ID()), zap.String("remote", r.RemoteAddr))
	log.Info("websocket connection accepted")

	// The request context ends with the server, not with the socket.
	err = ctrl.Serve(r.Context())
	switch {
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
		log.Info("websocket client disconnected")
	case errors.Is(err, context.Canceled):
		log.Info("websocket session cancelled")
	default:
		log.Warn("websocket session ended", zap.Error(err))
	}
}
