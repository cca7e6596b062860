// Package live serves the WebSocket chat channel and tracks the sockets
// open on each counseling session.
package live

import (
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

// Conn is the part of a websocket connection the hub needs.
type Conn interface {
	Close(code websocket.StatusCode, reason string) error
}

// Hub manages active WebSocket connections per session. A session may have
// several sockets open, one per browser tab.
type Hub struct {
	mu     sync.RWMutex
	active map[string]map[string]Conn
	logger *slog.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		active: make(map[string]map[string]Conn),
		logger: logger,
	}
}

// Register adds a connection for a session.
func (h *Hub) Register(sessionID, connID string, conn Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.active[sessionID]; !exists {
		h.active[sessionID] = make(map[string]Conn)
	}
	h.active[sessionID][connID] = conn
	h.logger.Info("Live socket registered", "session_id", sessionID, "conn_id", connID)
}

// Unregister removes a connection. Unknown ids are ignored.
func (h *Hub) Unregister(sessionID, connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	conns, ok := h.active[sessionID]
	if !ok {
		return
	}
	if _, exists := conns[connID]; !exists {
		return
	}
	delete(conns, connID)
	if len(conns) == 0 {
		delete(h.active, sessionID)
	}
	h.logger.Info("Live socket unregistered", "session_id", sessionID, "conn_id", connID)
}

// Count returns the number of open sockets on a session.
func (h *Hub) Count(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.active[sessionID])
}

// CloseSession closes every socket attached to an ended session.
func (h *Hub) CloseSession(sessionID string) {
	h.mu.Lock()
	conns := h.active[sessionID]
	delete(h.active, sessionID)
	h.mu.Unlock()

	// Close performs a handshake with the peer, so it runs outside the lock.
	for connID, conn := range conns {
		if err := conn.Close(websocket.StatusGoingAway, "session ended"); err != nil {
			h.logger.Debug("Failed to close live socket", "session_id", sessionID, "conn_id", connID, "error", err)
		}
		h.logger.Info("Live socket closed", "session_id", sessionID, "conn_id", connID)
	}
}

// CloseAll closes every socket on every session. Used at shutdown, since
// http.Server.Shutdown does not track hijacked connections.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	ids := make([]string, 0, len(h.active))
	for id := range h.active {
		ids = append(ids, id)
	}
	h.mu.RUnlock()

	for _, id := range ids {
		h.CloseSession(id)
	}
}
