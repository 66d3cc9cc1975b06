package hubapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.bodySizeLimitMiddleware)
	r.Use(s.rateLimitMiddleware)

	// Operational endpoints (no envelope required)
	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	// Platform endpoints, signed by the administrative principal
	r.Group(func(r chi.Router) {
		r.Use(s.verifyAdmin)

		r.Post("/location", s.handleCreateLocation)
		r.Post("/location/{id}", s.handleLocationAction)
		r.Put("/location/{id}", s.handleLocationAction)
		r.Post("/command", s.handleQueueCommands)
		if s.audit != nil {
			r.Get("/audit", s.handleListAudit)
		}
	})

	// Pairing claim, signed with the pairing code itself
	r.Group(func(r chi.Router) {
		r.Use(s.verifyPairingClaim)
		r.Post("/relay", s.handleClaimRelay)
	})

	// Relay endpoints, signed with stored credentials
	r.Group(func(r chi.Router) {
		r.Use(s.verifyRelay)

		r.Put("/relay/{id}", s.handleRelayUpdate)
		r.Get("/relay/{id}/commands", s.handleFetchCommands)
		r.Head("/relay/{id}/commands", s.handleProbeCommands)
		r.Post("/relay/{id}/results", s.handleCommandResults)
	})

	// Token exchange, verified without the token element
	r.Group(func(r chi.Router) {
		r.Use(s.verifyRelayNoToken)
		r.Put("/token", s.handleExchangeToken)
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
	})
}
