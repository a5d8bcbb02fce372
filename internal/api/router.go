package api

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
)

// healthCheckTimeout bounds all component checks of GET /health.
const healthCheckTimeout = 3 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/protocols", s.handleListProtocols)

		r.Route("/controllers", func(r chi.Router) {
			r.Get("/", s.handleListControllers)
			r.Post("/", s.handleCreateController)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetController)
				r.Patch("/", s.handleUpdateController)
				r.Delete("/", s.handleDeleteController)

				r.Post("/gate/{action}", s.handleGate)
				r.Post("/display", s.handleDisplay)
				r.Post("/payment/{action}", s.handlePayment)
				r.Post("/health", s.handleProbeController)
			})
		})

		r.Route("/sites", func(r chi.Router) {
			r.Get("/", s.handleListSites)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetSite)
				r.Put("/", s.handlePutSite)
				r.Post("/recalculate", s.handleRecalculateSite)
			})
		})

		r.Post("/healthcheck/run", s.handleRunCycle)

		r.Get("/audit", s.handleListAudit)

		r.Get("/ws", s.handleWebSocket)
	})

	return r
}

// handleHealth reports the service version and the state of each dependency.
// Any failing component turns the response into 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	names := make([]string, 0, len(s.healthChecks))
	for name := range s.healthChecks {
		names = append(names, name)
	}
	sort.Strings(names)

	status := "ok"
	components := make(map[string]string, len(names))
	for _, name := range names {
		if err := s.healthChecks[name](ctx); err != nil {
			components[name] = err.Error()
			status = "degraded"
			continue
		}
		components[name] = "ok"
	}

	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status":            status,
		"version":           s.version,
		"components":        components,
		"websocket_clients": s.hub.ClientCount(),
	})
}

// handleListProtocols lists the protocol codes adapters are registered for.
func (s *Server) handleListProtocols(w http.ResponseWriter, _ *http.Request) {
	protocols := s.adapters.Protocols()
	writeJSON(w, http.StatusOK, map[string]any{"protocols": protocols, "count": len(protocols)})
}
