// Package api exposes the quiet-space catalog as a JSON HTTP API.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/smukkama/calmcorners/internal/catalog"
)

// NewRouter builds the HTTP handler for svc.
func NewRouter(svc *catalog.Service, cfg Config) http.Handler {
	h := NewHandler(svc)
	limitWrites := writeRateLimit(cfg)

	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(RequestIDWithLogging())
	r.Use(AccessLog())
	r.Use(chimiddleware.Recoverer)
	r.Use(corsHandler(cfg.CORSOrigins))

	r.NotFound(NotFound)
	r.MethodNotAllowed(MethodNotAllowed)

	r.Get("/", h.Root)
	r.Get("/health", h.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(chimiddleware.Timeout(30 * time.Second))

		r.Route("/locations", func(r chi.Router) {
			r.Get("/", h.ListLocations)
			r.With(limitWrites).Post("/", h.CreateLocation)
			r.Get("/{id}", h.GetLocation)
			r.With(limitWrites).Delete("/{id}", h.DeleteLocation)
			r.Get("/{id}/reviews", h.ListLocationReviews)
		})

		r.Route("/reviews", func(r chi.Router) {
			r.Get("/", h.ListReviews)
			r.With(limitWrites).Post("/", h.CreateReview)
			r.Get("/{id}", h.GetReview)
			r.With(limitWrites).Put("/{id}", h.UpdateReview)
			r.With(limitWrites).Patch("/{id}", h.UpdateReview)
			r.With(limitWrites).Delete("/{id}", h.DeleteReview)
		})
	})

	return r
}
