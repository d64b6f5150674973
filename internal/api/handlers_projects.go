package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/iammorganparry/clive/apps/projmem/internal/memory"
	"github.com/iammorganparry/clive/apps/projmem/internal/models"
)

type ProjectHandler struct {
	svc *memory.Service
}

func NewProjectHandler(svc *memory.Service) *ProjectHandler {
	return &ProjectHandler{svc: svc}
}

// List handles GET /projects
func (h *ProjectHandler) List(w http.ResponseWriter, r *http.Request) {
	projects := h.svc.ListProjects()
	if projects == nil {
		projects = []models.Project{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"projects": projects,
	})
}

// Stats handles GET /projects/{id}/stats
func (h *ProjectHandler) Stats(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	stats, err := h.svc.ProjectStats(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

// Recent handles GET /records/recent
func (h *ProjectHandler) Recent(w http.ResponseWriter, r *http.Request) {
	entries, err := h.svc.Recent(r.Context(), r.URL.Query().Get("projectPath"), queryInt(r, "limit", 20))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if entries == nil {
		entries = []models.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"records": entries,
	})
}
