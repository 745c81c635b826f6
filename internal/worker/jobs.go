package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ecomonitor/ecomonitor/internal/ingest"
	"github.com/ecomonitor/ecomonitor/internal/provider/resilience"
)

// Job types.
const (
	JobIngest      = "ingest_run"
	JobBackfill    = "backfill"
	JobHealthCheck = "health_check"
)

// ErrBackfillDisabled is returned when no backfill fetcher is configured.
var ErrBackfillDisabled = errors.New("backfill not configured")

// Ingester runs fetchers and persists their output.
type Ingester interface {
	Run(ctx context.Context, names ...string) (*ingest.Summary, error)
	RunFetchers(ctx context.Context, fetchers []ingest.Fetcher) *ingest.Summary
}

var _ Ingester = (*ingest.Orchestrator)(nil)

// BackfillFunc builds a fetcher covering the last days days.
type BackfillFunc func(days int) ingest.Fetcher

// Pinger checks storage connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// JobRecord describes one finished job.
type JobRecord struct {
	RunID     string        `json:"run_id,omitempty"`
	Type      string        `json:"type"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration_ns"`
	ExitCode  int           `json:"exit_code"`
	Totals    ingest.Totals `json:"totals"`
	Error     string        `json:"error,omitempty"`
}

// JobsConfig holds configuration for creating Jobs.
type JobsConfig struct {
	Config   Config
	Ingester Ingester

	// Backfill is optional; backfill jobs fail with ErrBackfillDisabled
	// when it is nil.
	Backfill BackfillFunc

	// Database and Registry are optional health check targets.
	Database Pinger
	Registry *resilience.Registry

	Logger zerolog.Logger
}

// Jobs executes worker jobs and keeps a bounded history of their outcomes.
type Jobs struct {
	config   Config
	ingester Ingester
	backfill BackfillFunc
	database Pinger
	registry *resilience.Registry
	logger   zerolog.Logger

	mu      sync.RWMutex
	history []JobRecord
}

// NewJobs creates a job executor.
func NewJobs(cfg JobsConfig) *Jobs {
	return &Jobs{
		config:   cfg.Config.withDefaults(),
		ingester: cfg.Ingester,
		backfill: cfg.Backfill,
		database: cfg.Database,
		registry: cfg.Registry,
		logger:   cfg.Logger,
	}
}

// Ingest runs the named fetchers, or all of them when none are named.
func (j *Jobs) Ingest(ctx context.Context, names ...string) (*ingest.Summary, error) {
	ctx, cancel := context.WithTimeout(ctx, j.config.JobTimeout)
	defer cancel()

	start := time.Now()
	summary, err := j.ingester.Run(ctx, names...)
	j.record(JobIngest, start, summary, err)
	return summary, err
}

// Backfill loads the last days days of history. A non-positive days uses the
// configured default.
func (j *Jobs) Backfill(ctx context.Context, days int) (*ingest.Summary, error) {
	start := time.Now()
	if j.backfill == nil {
		j.record(JobBackfill, start, nil, ErrBackfillDisabled)
		return nil, ErrBackfillDisabled
	}
	if days <= 0 {
		days = j.config.BackfillDays
	}

	ctx, cancel := context.WithTimeout(ctx, j.config.JobTimeout)
	defer cancel()

	j.logger.Info().Int("days", days).Msg("starting backfill")

	summary := j.ingester.RunFetchers(ctx, []ingest.Fetcher{j.backfill(days)})
	j.record(JobBackfill, start, summary, nil)
	return summary, nil
}

// HealthCheck verifies storage connectivity and that no provider circuit is
// open.
func (j *Jobs) HealthCheck(ctx context.Context) error {
	start := time.Now()
	err := j.healthCheck(ctx)
	j.record(JobHealthCheck, start, nil, err)
	return err
}

func (j *Jobs) healthCheck(ctx context.Context) error {
	if j.database != nil {
		if err := j.database.Ping(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}
	if j.registry == nil {
		return nil
	}

	var open []string
	for _, h := range j.registry.GetAllHealth() {
		if h.IsUnhealthy() {
			open = append(open, h.Name)
		}
	}
	if len(open) > 0 {
		return fmt.Errorf("providers unhealthy: %s", strings.Join(open, ", "))
	}
	return nil
}

func (j *Jobs) record(jobType string, start time.Time, summary *ingest.Summary, err error) {
	rec := JobRecord{
		Type:      jobType,
		StartedAt: start.UTC(),
		Duration:  time.Since(start),
	}
	if summary != nil {
		rec.RunID = summary.RunID
		rec.ExitCode = summary.ExitCode()
		rec.Totals = summary.Totals()
	}
	if err != nil {
		rec.Error = err.Error()
		rec.ExitCode = ingest.ExitCritical
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	j.history = append(j.history, rec)
	if over := len(j.history) - j.config.HistorySize; over > 0 {
		j.history = append([]JobRecord(nil), j.history[over:]...)
	}
}

// History returns finished jobs, newest first.
func (j *Jobs) History() []JobRecord {
	j.mu.RLock()
	defer j.mu.RUnlock()

	out := make([]JobRecord, len(j.history))
	for i, rec := range j.history {
		out[len(out)-1-i] = rec
	}
	return out
}

// Last returns the most recent finished job of the given type.
func (j *Jobs) Last(jobType string) (JobRecord, bool) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	for i := len(j.history) - 1; i >= 0; i-- {
		if j.history[i].Type == jobType {
			return j.history[i], true
		}
	}
	return JobRecord{}, false
}
