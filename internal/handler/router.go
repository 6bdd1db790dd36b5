package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter mounts the health check and the authenticated /v1 API
func NewRouter(h *HTTPHandler, v KeyValidator) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(CORSMiddleware)

	r.Get("/health", HealthCheck)

	r.Route("/v1", func(r chi.Router) {
		r.Use(Authenticate(v))

		r.Post("/patterns/recompute", h.HandleRecomputePatterns)
		r.Get("/patterns", h.HandleListPatterns)
		r.Patch("/patterns/{id}", h.HandleSetPatternStatus)

		r.Post("/insights/recompute", h.HandleRecomputeInsights)
		r.Get("/insights", h.HandleListInsights)
		r.Get("/insights/summary", h.HandleInsightSummary)
		r.Get("/insights/{id}/sessions", h.HandleInsightSessions)
		r.Patch("/insights/{id}", h.HandleSetInsightStatus)
	})

	return r
}
