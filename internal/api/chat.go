package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/counselsim/internal/domain"
	"github.com/ashureev/counselsim/internal/relay"
)

type chatRequest struct {
	Message any             `json:"message"`
	Stream  json.RawMessage `json:"stream"`
}

// wantsStream accepts true or "true".
func (c chatRequest) wantsStream() bool {
	switch string(c.Stream) {
	case "true", `"true"`:
		return true
	}
	return false
}

func (c chatRequest) text() string {
	s, _ := c.Message.(string)
	return s
}

// Chat handles POST /api/sessions/{id}/chat. Streaming replies are sent as
// server-sent events; validation failures are always plain JSON errors
// because the event stream is opened lazily.
func (h *Handler) Chat(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")

	// Session checks come before body validation so an unknown or ended
	// session is reported as such whatever the body holds.
	s, err := h.sessions.Get(sessionID)
	if err == nil && !s.IsActive() {
		err = fmt.Errorf("session %s: %w", sessionID, domain.ErrSessionClosed)
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	var body chatRequest
	if err := h.decode(w, r, &body); err != nil {
		h.writeDecodeError(w, r, err)
		return
	}

	req := relay.Request{
		SessionID: sessionID,
		Message:   body.text(),
		Stream:    body.wantsStream(),
	}

	if !req.Stream {
		reply, err := h.relay.HandleExchange(r.Context(), req, nil)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		JSON(w, http.StatusOK, reply)
		return
	}

	em, err := relay.NewSSEEmitter(w, h.cfg.SSE.KeepaliveInterval, h.logger)
	if err != nil {
		Error(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	defer em.Close()

	if _, err := h.relay.HandleExchange(r.Context(), req, em); err != nil {
		switch {
		case errors.Is(err, relay.ErrAborted):
			h.logger.Info("Chat stream aborted by client", "session_id", req.SessionID, "error", err)
		case em.Started():
			h.logger.Error("Chat stream failed after start", "session_id", req.SessionID, "error", err)
		default:
			h.writeError(w, r, err)
		}
	}
}
