// Package main provides the entrypoint for the ingestion worker. It runs the
// scheduled ingest job, consumes job requests from Pub/Sub when configured
// and serves the ops HTTP surface.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/ecomonitor/ecomonitor/internal/app"
	"github.com/ecomonitor/ecomonitor/internal/config"
	"github.com/ecomonitor/ecomonitor/internal/ops"
	"github.com/ecomonitor/ecomonitor/internal/telemetry"
	"github.com/ecomonitor/ecomonitor/internal/worker"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	const serviceName = "ecomonitor-worker"

	log := zerolog.New(os.Stdout).
		With().
		Timestamp().
		Str("service", serviceName).
		Str("version", Version).
		Logger()

	log.Info().
		Str("build_time", BuildTime).
		Msg("starting ingest worker")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg.Telemetry.ServiceName = serviceName
	cfg.Telemetry.ServiceVersion = Version
	tp, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize telemetry")
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if shutdownErr := tp.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Error().Err(shutdownErr).Msg("failed to shutdown telemetry")
		}
	}()

	if cfg.Telemetry.Enabled {
		log.Info().
			Str("otlp_endpoint", cfg.Telemetry.OTLPEndpoint).
			Msg("OpenTelemetry initialized")
	}

	// The worker owns the schema; one-shot jobs only migrate when asked.
	a, err := app.New(ctx, cfg, log, app.Options{Migrate: true})
	if err != nil {
		log.Error().Err(err).Msg("failed to initialize pipeline")
		os.Exit(1) //nolint:gocritic // intentional exit, telemetry cleanup is best-effort
	}
	defer a.Close()

	scheduler := worker.NewScheduler(worker.SchedulerConfig{
		Config: cfg.Worker,
		Jobs:   a.Jobs,
		Logger: log,
	})
	if err := scheduler.Start(); err != nil {
		log.Error().Err(err).Msg("failed to start scheduler")
		os.Exit(1)
	}
	if next, ok := scheduler.NextRun(); ok {
		log.Info().Time("next_run", next).Msg("ingest scheduled")
	}

	var pubsubHandler *worker.PubSubHandler
	if cfg.PubSub.Enabled() {
		pubsubHandler, err = worker.NewPubSubHandler(ctx, worker.PubSubConfig{
			ProjectID:        cfg.PubSub.ProjectID,
			SubscriptionName: cfg.PubSub.Subscription,
			Jobs:             a.Jobs,
			Logger:           log,
		})
		if err != nil {
			log.Error().Err(err).Msg("failed to create pubsub handler")
			os.Exit(1)
		}

		go func() {
			if err := pubsubHandler.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("pubsub handler stopped")
			}
		}()
	} else {
		log.Warn().Msg("PUBSUB_PROJECT_ID not set, on-demand jobs disabled")
	}

	router := ops.NewRouter(ops.RouterConfig{
		Version:  Version,
		Logger:   log,
		Runs:     a.Orchestrator,
		Jobs:     a.Jobs,
		Registry: a.Registry,
		Database: a.Pool,
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.Worker.JobTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().
			Str("addr", server.Addr).
			Msg("ops server listening")

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down worker")

	scheduler.Stop()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("ops server forced to shutdown")
	}
	if pubsubHandler != nil {
		if err := pubsubHandler.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close pubsub client")
		}
	}

	log.Info().
		Int64("total_runs", a.Metrics.Snapshot().TotalRuns).
		Msg("worker stopped")
}
