package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/nerrad567/exhibit-core/internal/link"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(middleware.RequestSize(maxRequestBodySize))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Route("/devices", func(r chi.Router) {
			r.Get("/", s.handleListDevices)
			r.Post("/refresh", s.handleRefreshDevices)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetDevice)
				r.Post("/actions", s.handleDeviceAction)
				r.Get("/history", s.handleGetDeviceHistory)
			})
		})

		r.Post("/device-types/{type}/actions", s.handleTypeAction)

		r.Route("/custom-devices", func(r chi.Router) {
			r.Post("/", s.handleCreateCustomDevice)
			r.Delete("/{id}", s.handleDeleteCustomDevice)
		})

		r.Route("/link", func(r chi.Router) {
			r.Get("/", s.handleGetLink)
			r.Post("/connect", s.handleLinkConnect)
			r.Post("/disconnect", s.handleLinkDisconnect)
			r.Post("/raw", s.handleLinkRaw)
		})

		r.Post("/lifecycle/{phase}", s.handleLifecycle)

		r.Get("/audit", s.handleListAudit)

		r.Get(s.wsPath(), s.handleWebSocket)
	})

	return r
}

func (s *Server) wsPath() string {
	if s.wsCfg.Path == "" {
		return "/ws"
	}
	return s.wsCfg.Path
}

// handleHealth reports the server version, the link state and the number of
// registered devices. The status is "degraded" while the link is down.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	st := s.link.Status()
	status := "ok"
	if st.State != link.StateConnected {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  status,
		"version": s.version,
		"link":    st.State,
		"devices": s.registry.GetDeviceCount(),
		"clients": s.hub.ClientCount(),
	})
}
