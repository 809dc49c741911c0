package api

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

	// Prometheus scrape endpoint (no auth, local network monitoring)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		// Health check (no auth required)
		r.Get("/health", s.handleHealth)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			// Device endpoints
			r.Route("/devices", func(r chi.Router) {
				r.Get("/", s.handleListDevices)
				r.Get("/stats", s.handleDeviceStats)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetDevice)
					r.Get("/history", s.handleDeviceHistory)
					r.Post("/pair", s.handlePairDevice)
					r.Post("/unpair", s.handleUnpairDevice)
					r.Get("/commands", s.handleListDeviceCommands)
					r.Post("/commands", s.handleSubmitCommand)
				})
			})

			// Command lifecycle endpoints
			r.Route("/commands", func(r chi.Router) {
				r.Post("/bulk", s.handleSubmitBulk)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetCommand)
					r.Post("/cancel", s.handleCancelCommand)
					r.Post("/retry", s.handleRetryCommand)
				})
			})

			// Protocol discovery
			r.Post("/discovery/{protocol}", s.handleDiscover)
		})
	})

	// WebSocket fanout (auth via token query, validated in the hub)
	if s.hub != nil {
		r.Get("/ws", s.hub.HandleWS)
	}

	return r
}
