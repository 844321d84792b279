/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the chi router, middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. CORS:       Cross-origin requests for operator tooling

ROUTES:
  GET /api/expenses            Filtered, paginated listing
  GET /api/expenses/{id}       Single expense
  PUT /api/expenses/{id}/status  Approve/decline with expected_version
  GET /healthz                 Liveness probe
  GET /metrics                 Prometheus scrape endpoint

SECURITY NOTE:
  No authentication middleware; authn/authz is handled upstream by the
  gateway in deployment.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "PUT", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Route("/api", func(r chi.Router) {
		r.Route("/expenses", func(r chi.Router) {
			r.Get("/", h.ListExpenses)
			r.Get("/{id}", h.GetExpense)
			r.Put("/{id}/status", h.UpdateStatus)
		})
	})

	r.Get("/healthz", h.Healthz)
	r.Handle("/metrics", promhttp.Handler())

	return r
}
