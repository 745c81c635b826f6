package ingest

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/ecomonitor/ecomonitor/internal/ingest"

// Metrics holds the OpenTelemetry instruments for ingestion runs along with
// in-process run counters.
type Metrics struct {
	received metric.Int64Counter
	saved    metric.Int64Counter
	errors   metric.Int64Counter
	duration metric.Float64Histogram

	mu            sync.RWMutex
	totalRuns     int64
	totalReceived int64
	totalSaved    int64
	totalErrors   int64
	lastRunAt     time.Time
	lastDuration  time.Duration
}

// NewMetrics creates a new Metrics instance with initialized instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(instrumentationName)

	received, err := meter.Int64Counter(
		"ingest.records.received",
		metric.WithDescription("Records produced by fetchers"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		return nil, err
	}

	saved, err := meter.Int64Counter(
		"ingest.records.saved",
		metric.WithDescription("Records persisted to storage"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		return nil, err
	}

	errs, err := meter.Int64Counter(
		"ingest.records.errors",
		metric.WithDescription("Errors reported by fetch and persist stages"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	duration, err := meter.Float64Histogram(
		"ingest.fetcher.duration",
		metric.WithDescription("Duration of one fetcher run including persistence"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		received: received,
		saved:    saved,
		errors:   errs,
		duration: duration,
	}, nil
}

func (m *Metrics) recordFetcher(ctx context.Context, name string, r Result) {
	attrs := metric.WithAttributes(
		attribute.String("fetcher", name),
		attribute.String("status", r.Status()),
	)
	m.received.Add(ctx, int64(r.Received), attrs)
	m.saved.Add(ctx, int64(r.Saved), attrs)
	m.errors.Add(ctx, int64(len(r.Errors)), attrs)
	m.duration.Record(ctx, r.Duration.Seconds(), attrs)
}

func (m *Metrics) recordRun(s *Summary) {
	t := s.Totals()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.totalRuns++
	m.totalReceived += int64(t.Received)
	m.totalSaved += int64(t.Saved)
	m.totalErrors += int64(t.Errors)
	m.lastRunAt = s.FinishedAt
	m.lastDuration = s.FinishedAt.Sub(s.StartedAt)
}

// Snapshot returns the accumulated run counters.
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return MetricsSnapshot{
		TotalRuns:     m.totalRuns,
		TotalReceived: m.totalReceived,
		TotalSaved:    m.totalSaved,
		TotalErrors:   m.totalErrors,
		LastRunAt:     m.lastRunAt,
		LastDuration:  m.lastDuration,
	}
}

// MetricsSnapshot is a point-in-time copy of the run counters.
type MetricsSnapshot struct {
	TotalRuns     int64         `json:"total_runs"`
	TotalReceived int64         `json:"total_received"`
	TotalSaved    int64         `json:"total_saved"`
	TotalErrors   int64         `json:"total_errors"`
	LastRunAt     time.Time     `json:"last_run_at"`
	LastDuration  time.Duration `json:"last_duration_ns"`
}
