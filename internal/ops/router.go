// Package ops provides the worker's operational HTTP surface: liveness,
// readiness, ingest run inspection and provider health.
package ops

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/ecomonitor/ecomonitor/internal/provider/resilience"
	"github.com/ecomonitor/ecomonitor/internal/worker"
)

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	Version string
	Logger  zerolog.Logger

	// All dependencies are optional; endpoints degrade to empty responses.
	Runs     RunSource
	Jobs     JobRunner
	Registry *resilience.Registry
	Database worker.Pinger

	// TriggerLimit overrides TriggerRateLimit when RequestLimit is set.
	TriggerLimit RateLimitConfig
}

// NewRouter creates a chi router with the ops routes configured.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(RequestID)
	r.Use(Tracing)
	r.Use(Logger(cfg.Logger))
	r.Use(Recovery(cfg.Logger))
	r.Use(chimiddleware.RealIP)

	h := &Handler{
		version:  cfg.Version,
		runs:     cfg.Runs,
		jobs:     cfg.Jobs,
		registry: cfg.Registry,
		database: cfg.Database,
	}

	limit := TriggerRateLimit
	if cfg.TriggerLimit.RequestLimit > 0 {
		limit = cfg.TriggerLimit
	}

	r.Get("/health", h.HealthCheck)

	r.Route("/v1/ops", func(r chi.Router) {
		r.Get("/ready", h.ReadinessCheck)
		r.Get("/providers", h.Providers)
		r.Route("/runs", func(r chi.Router) {
			r.Get("/", h.ListRuns)
			r.Get("/last", h.LastRun)
			r.With(RateLimitByIP(limit)).Post("/", h.TriggerRun)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeProblem(w, r, NewNotFound(GetRequestID(r.Context()), "no such endpoint"))
	})

	return r
}
