package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Route("/ingest", func(r chi.Router) {
			r.Get("/status", s.handleIngestStatus)
			r.Get("/logs", s.handleIngestLogs)
		})

		r.Post("/reconcile", s.handleReconcile)

		r.Get("/devices/{id}/latest", s.handleDeviceLatest)

		r.Get("/ws", s.handleWebSocket)
	})

	return r
}
