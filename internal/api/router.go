package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter mounts everything under /api/v1. Only /health is public.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.accessMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Route("/devices", func(r chi.Router) {
				r.Get("/", s.handleListDevices)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetDevice)
					r.Post("/command", s.handleDeviceCommand)
					r.Post("/refresh", s.handleRefreshDevice)
					r.Get("/history", s.handleDeviceHistory)
				})
			})

			r.Get("/audit", s.handleListAudit)

			r.Get(wsPath(s.wsCfg.Path), s.handleWebSocket)
		})
	})

	return r
}

// handleHealth reports bridge status and device counts.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	managed, available := s.commander.DeviceCounts()
	status := "ok"
	if available < managed {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":            status,
		"version":           s.version,
		"devices_managed":   managed,
		"devices_available": available,
	})
}

func wsPath(path string) string {
	if path == "" {
		return "/ws"
	}
	return path
}
