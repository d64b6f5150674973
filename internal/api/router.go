package api

import (
	"log/slog"

	"github.com/go-chi/chi/v5"

	"github.com/iammorganparry/clive/apps/projmem/internal/memory"
)

// NewRouter creates the Chi router with all routes and middleware.
func NewRouter(svc *memory.Service, apiKey string, logger *slog.Logger) *chi.Mux {
	if logger == nil {
		logger = slog.Default()
	}
	r := chi.NewRouter()

	// Global middleware (runs on ALL routes including /health)
	r.Use(CORS)
	r.Use(RequestID)
	r.Use(Logger(logger))
	r.Use(Recovery(logger))

	healthH := NewHealthHandler(svc)
	sessionH := NewSessionHandler(svc)
	recordH := NewRecordHandler(svc)
	projectH := NewProjectHandler(svc)

	// Unauthenticated routes
	r.Get("/health", healthH.Health)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(apiKey))

		r.Route("/sessions", func(r chi.Router) {
			r.Get("/", sessionH.List)
			r.Post("/", sessionH.Create)
			r.Get("/{id}", sessionH.Get)
			r.Post("/{id}/stop", sessionH.Stop)
			r.Post("/{id}/summarize", sessionH.Summarize)
		})

		r.Post("/prompts", recordH.Prompt)
		r.Post("/responses", recordH.Response)
		r.Post("/observations", recordH.Observation)
		r.Put("/summaries", recordH.Summary)
		r.Post("/search", recordH.Search)
		r.Get("/records/recent", projectH.Recent)

		r.Route("/projects", func(r chi.Router) {
			r.Get("/", projectH.List)
			r.Get("/{id}/stats", projectH.Stats)
		})
	})

	return r
}
