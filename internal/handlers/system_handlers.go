package handlers

import (
	"claudechat-backend/internal/llm"
	"claudechat-backend/internal/models"
	"claudechat-backend/pkg/httputil"
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const healthPingTimeout = 2 * time.Second

// Pinger reports whether the database is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadinessChecker reports whether the upstream client is installed.
type ReadinessChecker interface {
	Ready() bool
}

type SystemHandlers struct {
	db       Pinger
	upstream ReadinessChecker
	models   *llm.Registry
	logger   *zap.Logger
}

func NewSystemHandlers(db Pinger, upstream ReadinessChecker, registry *llm.Registry, logger *zap.Logger) *SystemHandlers {
	return &SystemHandlers{db: db, upstream: upstream, models: registry, logger: logger.Named("system")}
}

// HandleHealth handles GET /health
func (h *SystemHandlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if !h.upstream.Ready() {
		httputil.RespondError(w, http.StatusServiceUnavailable, "Upstream client not initialized")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), healthPingTimeout)
	defer cancel()
	if err := h.db.Ping(ctx); err != nil {
		h.logger.Warn("health check: database ping failed", zap.Error(err))
		httputil.RespondError(w, http.StatusServiceUnavailable, "Database unavailable")
		return
	}
	httputil.RespondJSON(w, http.StatusOK, models.HealthResponse{Status: "healthy", Timestamp: time.Now().UTC()})
}

type modelsResponse struct {
	Models map[string]llm.ModelSpec `json:"models"`
}

// HandleModels handles GET /models
func (h *SystemHandlers) HandleModels(w http.ResponseWriter, r *http.Request) {
	httputil.RespondJSON(w, http.StatusOK, modelsResponse{Models: h.models.All()})
}
