package api

import (
	"claudechat-backend/internal/handlers"
	"claudechat-backend/pkg/httputil"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

// RouterDependencies holds all the dependencies required by the router setup.
type RouterDependencies struct {
	ConversationHandler *handlers.ConversationHandlers
	ChatHandler         *handlers.ChatHandlers
	SystemHandler       *handlers.SystemHandlers
	AllowedOrigins      []string
	RequestTimeout      time.Duration // for plain request/response routes
	Logger              *zap.Logger
}

// NewRouter creates and configures the main Chi router for the application.
func NewRouter(deps RouterDependencies) *chi.Mux {
	if deps.ConversationHandler == nil || deps.ChatHandler == nil || deps.SystemHandler == nil {
		panic("router: handler dependency is nil")
	}
	if deps.RequestTimeout <= 0 {
		deps.RequestTimeout = 60 * time.Second
	}

	r := chi.NewRouter()

	// --- Base Middleware Stack ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(deps.Logger))
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Requested-With"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: !allowsAny(deps.AllowedOrigins),
		MaxAge:           300,
	}))

	// Long-lived routes: a chat turn can outlast any fixed request timeout.
	// The chat service bounds each upstream call itself.
	r.Post("/chat", deps.ChatHandler.HandleChat)
	r.Get("/ws", deps.ChatHandler.HandleStream)

	timeout := middleware.Timeout(deps.RequestTimeout)

	r.With(timeout).Get("/health", deps.SystemHandler.HandleHealth)
	r.With(timeout).Get("/models", deps.SystemHandler.HandleModels)

	r.Route("/conversations", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(timeout)
			r.Post("/", deps.ConversationHandler.HandleCreateConversation)
			r.Get("/", deps.ConversationHandler.HandleListConversations)
			r.Get("/search", deps.ConversationHandler.HandleSearchConversations)
			r.Get("/{conversationID}", deps.ConversationHandler.HandleGetConversation)
			r.Delete("/{conversationID}", deps.ConversationHandler.HandleDeleteConversation)
			r.Put("/{conversationID}/title", deps.ConversationHandler.HandleUpdateTitle)
		})
		// Calls the upstream, bounded by the upstream timeout instead.
		r.Post("/{conversationID}/generate-title", deps.ConversationHandler.HandleGenerateTitle)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httputil.RespondError(w, http.StatusNotFound, "API endpoint not found")
	})

	return r
}

func allowsAny(origins []string) bool {
	for _, o := range origins {
		if o == "*" {
			return true
		}
	}
	return false
}
