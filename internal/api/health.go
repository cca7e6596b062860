package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

const healthCheckTimeout = 2 * time.Second

type pinger interface {
	Ping(ctx context.Context) error
}

// Health returns the service status. A dataset database that does not
// answer a ping makes the service report 503.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"status":   "ok",
		"provider": h.providerMode(),
		"sessions": len(h.sessions.List()),
	}

	if p, ok := h.catalog.Primary().(pinger); ok {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()
		if err := p.Ping(ctx); err != nil {
			h.logger.Error("Health check failed", "error", err)
			status["status"] = "degraded"
			status["dataset"] = "unreachable"
			JSON(w, http.StatusServiceUnavailable, status)
			return
		}
	}

	JSON(w, http.StatusOK, status)
}

func (h *Handler) providerMode() string {
	if h.cfg.Provider.UseFake() {
		return "fake"
	}
	return h.cfg.Provider.Model
}

// RegisterHealth registers the health check route.
func (h *Handler) RegisterHealth(r chi.Router) {
	r.Get("/health", h.Health)
}
