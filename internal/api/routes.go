package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers session, chat and patient routes. chatLimit wraps
// the chat endpoint only.
func (h *Handler) RegisterRoutes(r chi.Router, chatLimit func(http.Handler) http.Handler) {
	if chatLimit == nil {
		chatLimit = func(next http.Handler) http.Handler { return next }
	}
	r.Route("/api", func(r chi.Router) {
		r.Route("/sessions", func(r chi.Router) {
			r.Get("/", h.ListSessions)
			r.Post("/", h.CreateSession)
			r.Post("/by_id", h.CreateSessionByPatient)
			r.Get("/{id}", h.GetSession)
			r.Delete("/{id}", h.EndSession)
			r.With(chatLimit).Post("/{id}/chat", h.Chat)
		})
		r.Route("/patients", func(r chi.Router) {
			r.Get("/", h.ListPatients)
			r.Get("/ids", h.PatientIDs)
			r.Get("/{id}", h.GetPatient)
		})
	})
}
