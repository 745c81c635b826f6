// Package main provides the one-shot ingestion job. It runs all or selected
// fetchers once, or a historical backfill, and exits with a code derived
// from the run summary.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/ecomonitor/ecomonitor/internal/app"
	"github.com/ecomonitor/ecomonitor/internal/config"
	"github.com/ecomonitor/ecomonitor/internal/ingest"
	"github.com/ecomonitor/ecomonitor/internal/telemetry"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

// fetcherList collects -fetcher values, repeated or comma separated.
type fetcherList []string

func (l *fetcherList) String() string {
	return strings.Join(*l, ",")
}

func (l *fetcherList) Set(v string) error {
	for _, name := range strings.Split(v, ",") {
		if name = strings.TrimSpace(name); name != "" {
			*l = append(*l, name)
		}
	}
	return nil
}

func main() {
	os.Exit(run())
}

func run() int {
	const serviceName = "ecomonitor-ingest"

	var (
		fetchers     fetcherList
		backfillDays int
		migrate      bool
		list         bool
	)
	flag.Var(&fetchers, "fetcher", "fetcher to run (repeatable or comma separated); default all")
	flag.IntVar(&backfillDays, "backfill-days", 0, "run a historical weather backfill over this many days instead")
	flag.BoolVar(&migrate, "migrate", false, "apply the schema and seed parameters before running")
	flag.BoolVar(&list, "list", false, "list the configured fetchers and exit")
	flag.Parse()

	log := zerolog.New(os.Stdout).
		With().
		Timestamp().
		Str("service", serviceName).
		Str("version", Version).
		Logger()

	cfg, err := config.Load()
	if err != nil {
		log.Error().Err(err).Msg("failed to load configuration")
		return ingest.ExitCritical
	}
	if err := cfg.Validate(); err != nil {
		log.Error().Err(err).Msg("invalid configuration")
		return ingest.ExitCritical
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg.Telemetry.ServiceName = serviceName
	cfg.Telemetry.ServiceVersion = Version
	tp, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		log.Error().Err(err).Msg("failed to initialize telemetry")
		return ingest.ExitCritical
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := tp.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Error().Err(shutdownErr).Msg("failed to shutdown telemetry")
		}
	}()

	log.Info().
		Str("build_time", BuildTime).
		Str("environment", cfg.Environment).
		Msg("starting ingest job")

	a, err := app.New(ctx, cfg, log, app.Options{Migrate: migrate})
	if err != nil {
		log.Error().Err(err).Msg("failed to initialize pipeline")
		return ingest.ExitCritical
	}
	defer a.Close()

	if list {
		for _, name := range a.Orchestrator.Names() {
			fmt.Println(name)
		}
		return ingest.ExitOK
	}

	var summary *ingest.Summary
	switch {
	case backfillDays > 0:
		summary, err = a.Jobs.Backfill(ctx, backfillDays)
	default:
		summary, err = a.Jobs.Ingest(ctx, fetchers...)
	}
	if err != nil {
		log.Error().Err(err).Msg("ingest job failed")
		return ingest.ExitCritical
	}

	code := summary.ExitCode()
	for _, name := range summary.Names() {
		if summary.Results[name].StorageFailure {
			log.Error().Str("fetcher", name).Msg("storage unavailable during run")
			code = ingest.ExitCritical
		}
	}
	log.Info().Int("exit_code", code).Msg("ingest job finished")
	return code
}
