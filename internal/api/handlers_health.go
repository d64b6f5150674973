package api

import (
	"net/http"

	"github.com/iammorganparry/clive/apps/projmem/internal/memory"
)

type HealthHandler struct {
	svc *memory.Service
}

func NewHealthHandler(svc *memory.Service) *HealthHandler {
	return &HealthHandler{svc: svc}
}

// Health handles GET /health. A degraded dependency reports 503 so health checks
// notice, but the body is still the full report.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	resp := h.svc.Health(r.Context())

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}
