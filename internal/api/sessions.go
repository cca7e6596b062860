package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/counselsim/internal/domain"
	"github.com/ashureev/counselsim/internal/persona"
)

const customCaseTitle = "自定义咨询案例"

// createSessionRequest decodes every bundle field loosely. A field of the
// wrong type is treated as absent.
type createSessionRequest struct {
	PatientID             json.RawMessage `json:"patient_id"`
	Profile               any             `json:"profile"`
	Report                any             `json:"report"`
	PreviousConversations any             `json:"previous_conversations"`
	SeekerPrompt          any             `json:"seeker_prompt"`
	Chain                 any             `json:"chain"`
}

type sessionCreated struct {
	SessionID string          `json:"session_id"`
	CreatedAt time.Time       `json:"created_at"`
	Profile   domain.Portrait `json:"profile"`
	Status    string          `json:"status"`
}

type sessionMetadata struct {
	CreatedAt    time.Time       `json:"created_at"`
	MessageCount int             `json:"message_count"`
	Status       string          `json:"status"`
	Profile      domain.Portrait `json:"profile"`
}

type sessionView struct {
	SessionID      string             `json:"session_id"`
	Metadata       sessionMetadata    `json:"metadata"`
	Conversation   []domain.Utterance `json:"conversation"`
	ComplaintStage int                `json:"complaint_stage"`
	StatusSummary  string             `json:"status_summary"`
}

// CreateSession handles POST /api/sessions. The body is either an inline
// persona bundle or {"patient_id": ...}.
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := h.decode(w, r, &req); err != nil {
		h.writeDecodeError(w, r, err)
		return
	}

	if id := rawID(req.PatientID); id != "" {
		h.createFromPatient(w, r, id)
		return
	}

	chain := persona.LenientChain(req.Chain)
	report, _ := req.Report.(map[string]any)
	if report == nil {
		report = map[string]any{"title": customCaseTitle}
	}
	profile, _ := req.Profile.(map[string]any)
	previous, _ := req.PreviousConversations.([]any)
	prompt, _ := req.SeekerPrompt.(string)

	s := h.sessions.Create(domain.SessionSeed{
		Portrait:              persona.NormalizePortrait(profile),
		Report:                report,
		PreviousConversations: previous,
		SeekerPrompt:          prompt,
		Chain:                 chain,
	})
	h.logger.Info("Session created", "session_id", s.ID, "chain_length", len(chain))
	JSON(w, http.StatusOK, created(s))
}

// CreateSessionByPatient handles POST /api/sessions/by_id.
func (h *Handler) CreateSessionByPatient(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := h.decode(w, r, &req); err != nil {
		h.writeDecodeError(w, r, err)
		return
	}
	id := rawID(req.PatientID)
	if id == "" {
		Error(w, http.StatusBadRequest, "patient_id is required")
		return
	}
	h.createFromPatient(w, r, id)
}

func (h *Handler) createFromPatient(w http.ResponseWriter, r *http.Request, patientID string) {
	rec, err := h.catalog.Resolve(r.Context(), patientID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	s := h.sessions.Create(rec.Seed())
	h.logger.Info("Session created", "session_id", s.ID, "patient_id", patientID)
	JSON(w, http.StatusOK, created(s))
}

// ListSessions handles GET /api/sessions.
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	list := h.sessions.List()
	JSON(w, http.StatusOK, map[string]any{
		"sessions": list,
		"total":    len(list),
	})
}

// GetSession handles GET /api/sessions/{id}.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	s, err := h.sessions.Get(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, sessionView{
		SessionID: s.ID,
		Metadata: sessionMetadata{
			CreatedAt:    s.CreatedAt,
			MessageCount: s.MessageCount,
			Status:       string(s.Status),
			Profile:      s.Portrait,
		},
		Conversation:   s.Conversation,
		ComplaintStage: s.ChainIndex,
		StatusSummary:  string(s.Status),
	})
}

// EndSession handles DELETE /api/sessions/{id}. Live sockets for the
// session are closed.
func (h *Handler) EndSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ended, err := h.sessions.End(id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if !ended {
		JSON(w, http.StatusOK, map[string]any{
			"message":    fmt.Sprintf("session %s already ended", id),
			"session_id": id,
			"ended":      false,
		})
		return
	}
	if h.closer != nil {
		h.closer.CloseSession(id)
	}
	h.logger.Info("Session ended", "session_id", id)
	JSON(w, http.StatusOK, map[string]any{
		"message":    fmt.Sprintf("session %s ended", id),
		"session_id": id,
		"ended":      true,
	})
}

func created(s *domain.Session) sessionCreated {
	return sessionCreated{
		SessionID: s.ID,
		CreatedAt: s.CreatedAt,
		Profile:   s.Portrait,
		Status:    string(s.Status),
	}
}

// decode reads a JSON body bounded by the configured size. An empty body
// decodes as the zero value.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.SSE.MaxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (h *Handler) writeDecodeError(w http.ResponseWriter, r *http.Request, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		Error(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}
	h.logger.Debug("Invalid request body", "path", r.URL.Path, "error", err)
	Error(w, http.StatusBadRequest, "invalid request body")
}

// rawID accepts a JSON string or number.
func rawID(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(string(raw))
}
