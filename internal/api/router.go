// Package api serves the admin HTTP surface: health probes, metrics and
// authenticated queue, credential and dead letter operations.
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/sungwon/flowgate/internal/auth"
	"github.com/sungwon/flowgate/internal/dlq"
	"github.com/sungwon/flowgate/internal/queue"
)

// Deps are the components the router serves. Credentials and DLQ are
// optional; their routes are registered only when set.
type Deps struct {
	Queues      *queue.Manager
	Credentials CredentialService
	DLQ         dlq.Queue
	JWT         *auth.JWTService
	APIKeys     *auth.APIKeySet
	Checks      map[string]Pinger
}

// NewRouter creates a chi.Mux with all routes, middleware, and handlers configured.
func NewRouter(deps Deps, log zerolog.Logger) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(CorrelationIDMiddleware(log))
	r.Use(LoggingMiddleware(log))
	r.Use(RecoverMiddleware(log))

	// Health and metrics (no auth required)
	r.Get("/healthz", HealthzHandler())
	r.Get("/readyz", ReadyzHandler(deps.Checks))
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(auth.BearerAuth(deps.JWT, deps.APIKeys))

		r.Get("/queues", ListQueuesHandler(deps.Queues))
		r.Get("/queues/{name}", GetQueueHandler(deps.Queues))
		r.Post("/queues/{name}/clear", ClearQueueHandler(deps.Queues))

		if deps.Credentials != nil {
			r.Get("/credentials/{owner}", GetCredentialHandler(deps.Credentials))
			r.Post("/credentials/{owner}/invalidate", InvalidateCredentialHandler(deps.Credentials))
		}

		if deps.DLQ != nil {
			r.Get("/dlq", ListDLQHandler(deps.DLQ))
			r.Post("/dlq/reprocess", DLQReprocessHandler(deps.DLQ))
		}
	})

	return r
}
