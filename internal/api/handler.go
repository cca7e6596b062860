// Package api provides HTTP handlers for the counseling trainer API.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/ashureev/counselsim/internal/config"
	"github.com/ashureev/counselsim/internal/domain"
	"github.com/ashureev/counselsim/internal/persona"
	"github.com/ashureev/counselsim/internal/relay"
	"github.com/ashureev/counselsim/internal/store"
)

// SessionCloser disconnects live channels attached to a session.
type SessionCloser interface {
	CloseSession(sessionID string)
}

// Handler provides common handler utilities and dependencies.
type Handler struct {
	sessions store.Repository
	catalog  *persona.Catalog
	relay    *relay.Relay
	closer   SessionCloser
	cfg      *config.Config
	logger   *slog.Logger
}

// NewHandler creates a Handler. closer may be nil.
func NewHandler(sessions store.Repository, catalog *persona.Catalog, rl *relay.Relay, closer SessionCloser, cfg *config.Config, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		sessions: sessions,
		catalog:  catalog,
		relay:    rl,
		closer:   closer,
		cfg:      cfg,
		logger:   logger,
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// StatusFor maps an error to an HTTP status and a message that is safe to
// show to clients. Unclassified errors become a generic 500.
func StatusFor(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, domain.ErrSessionClosed), errors.Is(err, domain.ErrInvalidRequest):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, domain.ErrProvider):
		return http.StatusInternalServerError, "failed to generate a reply"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

// writeError logs server-side failures and writes the mapped response.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := StatusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	Error(w, status, msg)
}
