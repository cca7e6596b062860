package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/counselsim/internal/persona"
)

const (
	defaultPage     = 1
	defaultPageSize = 10
)

// ListPatients handles GET /api/patients?page=&page_size=&random_order=.
// Records that fail to resolve are left out of the page.
func (h *Handler) ListPatients(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page := queryInt(q.Get("page"), defaultPage)
	pageSize := queryInt(q.Get("page_size"), defaultPageSize)
	random := q.Get("random_order") == "true"

	ids, err := h.catalog.IDs(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	patients := make([]persona.Summary, 0, pageSize)
	for _, id := range persona.Page(ids, page, pageSize, random) {
		rec, err := h.catalog.Resolve(r.Context(), id)
		if err != nil {
			h.logger.Warn("Skipping unreadable patient record", "patient_id", id, "error", err)
			continue
		}
		patients = append(patients, persona.Summarize(rec))
	}

	JSON(w, http.StatusOK, map[string]any{
		"patients":  patients,
		"total":     len(ids),
		"page":      page,
		"page_size": pageSize,
	})
}

// PatientIDs handles GET /api/patients/ids.
func (h *Handler) PatientIDs(w http.ResponseWriter, r *http.Request) {
	ids, err := h.catalog.IDs(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, map[string]any{"ids": ids, "count": len(ids)})
}

// GetPatient handles GET /api/patients/{id}.
func (h *Handler) GetPatient(w http.ResponseWriter, r *http.Request) {
	rec, err := h.catalog.Resolve(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, persona.Describe(rec))
}

// queryInt parses a positive integer, falling back to def.
func queryInt(s string, def int) int {
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return def
	}
	return n
}
