package api

import (
	"net/http"

	"github.com/iammorganparry/clive/apps/projmem/internal/memory"
	"github.com/iammorganparry/clive/apps/projmem/internal/models"
)

// RecordHandler serves record writes and search.
type RecordHandler struct {
	svc *memory.Service
}

func NewRecordHandler(svc *memory.Service) *RecordHandler {
	return &RecordHandler{svc: svc}
}

// Prompt handles POST /prompts
func (h *RecordHandler) Prompt(w http.ResponseWriter, r *http.Request) {
	var req models.PromptRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	rec, err := h.svc.InsertPrompt(r.Context(), &req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

// Response handles POST /responses
func (h *RecordHandler) Response(w http.ResponseWriter, r *http.Request) {
	var req models.ResponseRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	rec, err := h.svc.InsertResponse(r.Context(), &req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

// Observation handles POST /observations
func (h *RecordHandler) Observation(w http.ResponseWriter, r *http.Request) {
	var req models.ObservationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.ToolName == "" {
		writeError(w, http.StatusBadRequest, "toolName is required")
		return
	}

	rec, err := h.svc.InsertObservation(r.Context(), &req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

// Summary handles PUT /summaries
func (h *RecordHandler) Summary(w http.ResponseWriter, r *http.Request) {
	var req models.SummaryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	sum, err := h.svc.UpsertSummary(r.Context(), &req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// Search handles POST /search
func (h *RecordHandler) Search(w http.ResponseWriter, r *http.Request) {
	var req models.SearchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	resp, err := h.svc.Search(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if resp.Results == nil {
		resp.Results = []models.SearchResult{}
	}

	writeJSON(w, http.StatusOK, resp)
}
