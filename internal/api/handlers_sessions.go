package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/iammorganparry/clive/apps/projmem/internal/memory"
	"github.com/iammorganparry/clive/apps/projmem/internal/models"
)

// SessionHandler handles session-related HTTP requests.
type SessionHandler struct {
	svc *memory.Service
}

// NewSessionHandler creates a new session handler.
func NewSessionHandler(svc *memory.Service) *SessionHandler {
	return &SessionHandler{svc: svc}
}

// Create handles POST /sessions
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req models.CreateSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	resp, err := h.svc.CreateSession(r.Context(), &req)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	status := http.StatusCreated
	if !resp.Created {
		status = http.StatusOK
	}
	writeJSON(w, status, resp)
}

// List handles GET /sessions?projectPath=
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	projectPath := r.URL.Query().Get("projectPath")
	if projectPath == "" {
		writeError(w, http.StatusBadRequest, "projectPath is required")
		return
	}

	sessions, err := h.svc.ListSessions(r.Context(), projectPath, queryInt(r, "limit", 50))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if sessions == nil {
		sessions = []*models.Session{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": sessions,
	})
}

// Stop handles POST /sessions/{id}/stop
func (h *SessionHandler) Stop(w http.ResponseWriter, r *http.Request) {
	req := models.StopSessionRequest{
		SessionID:   chi.URLParam(r, "id"),
		ProjectPath: r.URL.Query().Get("projectPath"),
	}

	sess, err := h.svc.StopSession(r.Context(), &req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session": sess,
	})
}

// Get handles GET /sessions/{id}
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	detail, err := h.svc.GetSession(r.Context(), chi.URLParam(r, "id"), r.URL.Query().Get("projectPath"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if detail.Records == nil {
		detail.Records = []models.Entry{}
	}
	writeJSON(w, http.StatusOK, detail)
}

// Summarize handles POST /sessions/{id}/summarize
func (h *SessionHandler) Summarize(w http.ResponseWriter, r *http.Request) {
	sum, err := h.svc.SummarizeSession(r.Context(), chi.URLParam(r, "id"), r.URL.Query().Get("projectPath"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}
