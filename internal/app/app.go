// Package app assembles the ingestion pipeline from configuration. It is
// shared by the one-shot ingest command and the long-running worker.
package app

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/ecomonitor/ecomonitor/internal/config"
	"github.com/ecomonitor/ecomonitor/internal/database"
	"github.com/ecomonitor/ecomonitor/internal/ingest"
	"github.com/ecomonitor/ecomonitor/internal/measurement"
	"github.com/ecomonitor/ecomonitor/internal/openmeteo"
	"github.com/ecomonitor/ecomonitor/internal/provider/resilience"
	"github.com/ecomonitor/ecomonitor/internal/worker"
)

// Options controls optional bootstrap steps.
type Options struct {
	// Migrate applies the schema and seeds the parameter catalog.
	Migrate bool
}

// App holds the assembled pipeline components.
type App struct {
	Config       *config.Config
	Pool         *pgxpool.Pool
	Registry     *resilience.Registry
	Service      *measurement.Service
	Orchestrator *ingest.Orchestrator
	Metrics      *ingest.Metrics
	Jobs         *worker.Jobs
}

// New connects to Postgres and assembles the pipeline on top of it.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger, opts Options) (*App, error) {
	pool, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	logger.Info().
		Str("host", cfg.Database.Host).
		Int("port", cfg.Database.Port).
		Str("database", cfg.Database.Database).
		Msg("database connected")

	repo := measurement.NewPostgresRepository(pool)
	if opts.Migrate {
		if err := database.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
		seeded, err := repo.SeedParameters(ctx, measurement.SeedCatalog())
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("seed parameters: %w", err)
		}
		logger.Info().Int("seeded", seeded).Msg("schema migrated")
	}

	a, err := Assemble(cfg, repo, pool, logger)
	if err != nil {
		pool.Close()
		return nil, err
	}
	a.Pool = pool
	return a, nil
}

// Assemble builds the pipeline on top of an existing repository. db is the
// health check target and may be nil.
func Assemble(cfg *config.Config, repo measurement.Repository, db worker.Pinger, logger zerolog.Logger) (*App, error) {
	registry := resilience.NewRegistry()

	metrics, err := ingest.NewMetrics()
	if err != nil {
		return nil, fmt.Errorf("ingest metrics: %w", err)
	}

	service := measurement.NewService(measurement.ServiceConfig{
		Repository: repo,
		Logger:     logger,
	})

	orch, err := ingest.New(ingest.Config{
		Fetchers:       Fetchers(cfg, registry, logger),
		Persister:      service,
		Concurrency:    cfg.Concurrency,
		FetcherTimeout: cfg.FetcherTimeout,
		Metrics:        metrics,
		Logger:         logger,
	})
	if err != nil {
		return nil, err
	}

	var backfill worker.BackfillFunc
	if cfg.Archive.Enabled {
		backfill = Backfill(cfg, registry, logger)
	}

	jobs := worker.NewJobs(worker.JobsConfig{
		Config:   cfg.Worker,
		Ingester: orch,
		Backfill: backfill,
		Database: db,
		Registry: registry,
		Logger:   logger,
	})

	return &App{
		Config:       cfg,
		Registry:     registry,
		Service:      service,
		Orchestrator: orch,
		Metrics:      metrics,
		Jobs:         jobs,
	}, nil
}

// Close releases the database pool.
func (a *App) Close() {
	if a.Pool != nil {
		a.Pool.Close()
	}
}

// Fetchers returns the live fetchers enabled by cfg.
func Fetchers(cfg *config.Config, registry *resilience.Registry, logger zerolog.Logger) []ingest.Fetcher {
	var fetchers []ingest.Fetcher
	if cfg.AirQuality.Enabled {
		fetchers = append(fetchers, openmeteo.NewAirQualityFetcher(
			fetcherConfig(cfg, cfg.AirQuality, openmeteo.NameAirQuality, registry, logger),
		))
	}
	if cfg.Weather.Enabled {
		fetchers = append(fetchers, openmeteo.NewWeatherFetcher(
			fetcherConfig(cfg, cfg.Weather, openmeteo.NameWeather, registry, logger),
		))
	}
	return fetchers
}

// Backfill returns a constructor for archive fetchers covering a given
// number of days.
func Backfill(cfg *config.Config, registry *resilience.Registry, logger zerolog.Logger) worker.BackfillFunc {
	archive := openmeteo.NewArchiveFetcher(openmeteo.ArchiveConfig{
		FetcherConfig: fetcherConfig(cfg, cfg.Archive, openmeteo.NameArchive, registry, logger),
		Days:          cfg.Backfill.Days,
		Step:          cfg.Backfill.Step,
		Delay:         cfg.Backfill.Delay,
	})
	return func(days int) ingest.Fetcher {
		return archive.WithDays(days)
	}
}

func fetcherConfig(cfg *config.Config, src config.SourceConfig, name string, registry *resilience.Registry, logger zerolog.Logger) openmeteo.FetcherConfig {
	logger = logger.With().Str("fetcher", name).Logger()

	rc := resilience.DefaultClientConfig(name)
	rc.Timeout = src.Timeout
	rc.MaxRetries = uint64(cfg.MaxRetries) //nolint:gosec // validated non-negative
	rc.Registry = registry
	rc.Logger = logger

	return openmeteo.FetcherConfig{
		BaseURL:    src.BaseURL,
		Timezone:   src.Timezone,
		Timeout:    src.Timeout,
		Points:     src.Points,
		HTTPClient: resilience.NewClient(rc),
		Registry:   registry,
		Logger:     logger,
	}
}
