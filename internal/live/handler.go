package live

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ashureev/counselsim/internal/api"
	"github.com/ashureev/counselsim/internal/config"
	"github.com/ashureev/counselsim/internal/domain"
	"github.com/ashureev/counselsim/internal/middleware"
	"github.com/ashureev/counselsim/internal/relay"
	"github.com/ashureev/counselsim/internal/store"
)

const writeTimeout = 10 * time.Second

// Handler serves GET /ws/sessions/{id}/chat. Every inbound text frame
// carrying a message runs one streamed exchange on the socket.
type Handler struct {
	sessions      store.Repository
	relay         *relay.Relay
	hub           *Hub
	allowedOrigin string
	isDev         bool
	readLimit     int64
	limiter       *middleware.RateLimiter
	logger        *slog.Logger
}

// NewHandler creates the WebSocket chat handler.
func NewHandler(sessions store.Repository, rl *relay.Relay, hub *Hub, cfg *config.Config, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		sessions:      sessions,
		relay:         rl,
		hub:           hub,
		allowedOrigin: cfg.FrontendURL,
		isDev:         cfg.IsDevelopment(),
		readLimit:     cfg.SSE.MaxRequestBodySize,
		logger:        logger,
	}
}

// SetRateLimiter applies the chat limiter to every inbound message, sharing
// its budget with the HTTP chat endpoint.
func (h *Handler) SetRateLimiter(rl *middleware.RateLimiter) {
	h.limiter = rl
}

// Register mounts the socket route.
func (h *Handler) Register(r chi.Router) {
	r.Get("/ws/sessions/{id}/chat", h.ServeHTTP)
}

// inbound is a client frame: {"message": "..."} or {"type": "ping"}.
type inbound struct {
	Type    string `json:"type,omitempty"`
	Message string `json:"message"`
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	h.logger.Info("WebSocket connection request", "session_id", sessionID, "ip", r.RemoteAddr)

	if !h.checkOrigin(r) {
		api.Error(w, http.StatusForbidden, "origin not allowed")
		return
	}

	s, err := h.sessions.Get(sessionID)
	if err == nil && !s.IsActive() {
		err = fmt.Errorf("session %s: %w", sessionID, domain.ErrSessionClosed)
	}
	if err != nil {
		status, msg := api.StatusFor(err)
		api.Error(w, status, msg)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Error("Failed to accept WebSocket", "error", err, "session_id", sessionID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "connection closed"); closeErr != nil {
			h.logger.Debug("Failed to close websocket", "error", closeErr, "session_id", sessionID)
		}
	}()
	if h.readLimit > 0 {
		ws.SetReadLimit(h.readLimit)
	}

	connID := uuid.NewString()
	h.hub.Register(sessionID, connID, ws)
	defer h.hub.Unregister(sessionID, connID)

	h.readLoop(r.Context(), ws, sessionID, middleware.ClientKey(r))
	h.logger.Info("Live chat ended", "session_id", sessionID, "conn_id", connID)
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	h.logger.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

func (h *Handler) readLoop(ctx context.Context, ws *websocket.Conn, sessionID, clientKey string) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				h.logger.Debug("WebSocket closed", "session_id", sessionID, "status", websocket.CloseStatus(err))
			} else if ctx.Err() == nil {
				h.logger.Warn("WebSocket read error", "error", err, "session_id", sessionID)
			}
			return
		}

		var msg inbound
		if err := json.Unmarshal(data, &msg); err != nil {
			if err := writeJSON(ctx, ws, errorFrame{Error: "invalid message", Status: http.StatusBadRequest}); err != nil {
				return
			}
			continue
		}
		if msg.Type == "ping" {
			if err := writeJSON(ctx, ws, map[string]string{"type": "pong"}); err != nil {
				h.logger.Debug("Failed to send pong", "error", err)
				return
			}
			continue
		}

		if h.limiter != nil && !h.limiter.Allow(clientKey) {
			if err := writeJSON(ctx, ws, errorFrame{Error: "rate limit exceeded", Status: http.StatusTooManyRequests}); err != nil {
				return
			}
			continue
		}

		em := &wsEmitter{ctx: ctx, conn: ws}
		_, err = h.relay.HandleExchange(ctx, relay.Request{
			SessionID: sessionID,
			Message:   msg.Message,
			Stream:    true,
		}, em)
		if err == nil {
			continue
		}
		if errors.Is(err, relay.ErrAborted) {
			h.logger.Info("Live exchange aborted", "session_id", sessionID, "error", err)
			return
		}
		status, text := api.StatusFor(err)
		if status >= http.StatusInternalServerError {
			h.logger.Error("Live exchange failed", "session_id", sessionID, "error", err)
		}
		if err := writeJSON(ctx, ws, errorFrame{Error: text, Status: status}); err != nil {
			return
		}
	}
}

type errorFrame struct {
	Error  string `json:"error"`
	Status int    `json:"status"`
}

// wsEmitter sends one exchange as JSON text frames. The first failed write
// is sticky.
type wsEmitter struct {
	ctx  context.Context
	conn *websocket.Conn

	mu     sync.Mutex
	failed error
}

var _ relay.Emitter = (*wsEmitter)(nil)

func (e *wsEmitter) Meta(m relay.Meta) error {
	return e.send(struct {
		Meta relay.Meta `json:"meta"`
	}{m})
}

func (e *wsEmitter) Delta(text string) error {
	return e.send(struct {
		Delta string `json:"delta"`
	}{text})
}

func (e *wsEmitter) Done() error {
	return e.send(struct {
		Done bool `json:"done"`
	}{true})
}

func (e *wsEmitter) send(v any) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.failed != nil {
		return e.failed
	}
	if err := writeJSON(e.ctx, e.conn, v); err != nil {
		e.failed = err
		return err
	}
	return nil
}

func writeJSON(ctx context.Context, ws *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return ws.Write(ctx, websocket.MessageText, data)
}
