// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"net/http"
	"time"

	"github.com/ManuGH/matchvault/internal/api/middleware"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	// Probes and scrapes bypass rate limiting and request logging.
	r.Group(func(r chi.Router) {
		r.Use(middleware.Recoverer)
		if s.deps.Health != nil {
			r.Get("/healthz", s.deps.Health.ServeHealth)
			r.Get("/readyz", s.deps.Health.ServeReady)
		}
		r.Handle("/metrics", promhttp.Handler())
	})

	r.Group(func(r chi.Router) {
		middleware.ApplyStack(r, middleware.StackConfig{
			EnableSecurityHeaders: true,
			EnableMetrics:         true,
			EnableLogging:         true,
			TracingService:        s.deps.TracingService,
			RateLimit:             s.deps.Config.RateLimit,
			RateWindow:            time.Minute,
		})
		r.Get("/status", s.handleStatus)
		r.Get("/settings", s.handleGetSettings)
		r.Patch("/settings", s.handlePatchSettings)
		r.Post("/sync/push", s.handleSyncPush)
		r.Post("/storage/retry", s.handleStorageRetry)
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not_found", "no such endpoint")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	})
	return r
}
