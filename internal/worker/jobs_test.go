package worker_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecomonitor/ecomonitor/internal/ingest"
	"github.com/ecomonitor/ecomonitor/internal/measurement"
	"github.com/ecomonitor/ecomonitor/internal/provider/resilience"
	"github.com/ecomonitor/ecomonitor/internal/worker"
)

var (
	testSource = measurement.SourceInfo{Name: "Test Source", URL: "https://example.test"}
	center     = measurement.Point{Name: "Center", Lat: 55.7558, Lon: 37.6173}
)

type stubFetcher struct {
	name    string
	records int
	err     error
}

func (f *stubFetcher) Name() string { return f.name }

func (f *stubFetcher) Collect(context.Context) (*measurement.Batch, error) {
	if f.err != nil {
		return nil, f.err
	}
	batch := &measurement.Batch{Source: testSource}
	for i := 0; i < f.records; i++ {
		batch.Records = append(batch.Records, measurement.NewRecord(
			"temperature", measurement.CategoryWeather, float64(i), measurement.UnitCelsius, center,
			time.Date(2024, 1, 1, i, 0, 0, 0, time.UTC),
		))
	}
	return batch, nil
}

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func newIngester(t *testing.T, fetchers ...ingest.Fetcher) *ingest.Orchestrator {
	t.Helper()
	repo := measurement.NewInMemoryRepository(measurement.SeedCatalog()...)
	o, err := ingest.New(ingest.Config{
		Fetchers:  fetchers,
		Persister: measurement.NewService(measurement.ServiceConfig{Repository: repo, Logger: zerolog.Nop()}),
		Logger:    zerolog.Nop(),
	})
	require.NoError(t, err)
	return o
}

func TestJobs_Ingest(t *testing.T) {
	jobs := worker.NewJobs(worker.JobsConfig{
		Ingester: newIngester(t, &stubFetcher{name: "weather", records: 3}, &stubFetcher{name: "air", err: errors.New("timeout")}),
		Logger:   zerolog.Nop(),
	})

	summary, err := jobs.Ingest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ingest.ExitWithErrors, summary.ExitCode())

	rec, ok := jobs.Last(worker.JobIngest)
	require.True(t, ok)
	assert.Equal(t, summary.RunID, rec.RunID)
	assert.Equal(t, ingest.Totals{Received: 3, Saved: 3, Errors: 1}, rec.Totals)
	assert.Equal(t, ingest.ExitWithErrors, rec.ExitCode)
	assert.Empty(t, rec.Error)
}

func TestJobs_IngestUnknownFetcher(t *testing.T) {
	jobs := worker.NewJobs(worker.JobsConfig{
		Ingester: newIngester(t, &stubFetcher{name: "weather", records: 1}),
		Logger:   zerolog.Nop(),
	})

	_, err := jobs.Ingest(context.Background(), "pollen")
	assert.ErrorIs(t, err, ingest.ErrUnknownFetcher)

	rec, ok := jobs.Last(worker.JobIngest)
	require.True(t, ok)
	assert.Equal(t, ingest.ExitCritical, rec.ExitCode)
	assert.Contains(t, rec.Error, "pollen")
}

func TestJobs_Backfill(t *testing.T) {
	var gotDays []int
	jobs := worker.NewJobs(worker.JobsConfig{
		Config:   worker.Config{BackfillDays: 30},
		Ingester: newIngester(t),
		Backfill: func(days int) ingest.Fetcher {
			gotDays = append(gotDays, days)
			return &stubFetcher{name: "archive", records: 2}
		},
		Logger: zerolog.Nop(),
	})

	summary, err := jobs.Backfill(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Results["archive"].Saved)

	_, err = jobs.Backfill(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, []int{30, 7}, gotDays)
}

func TestJobs_BackfillDisabled(t *testing.T) {
	jobs := worker.NewJobs(worker.JobsConfig{Ingester: newIngester(t), Logger: zerolog.Nop()})

	_, err := jobs.Backfill(context.Background(), 5)
	assert.ErrorIs(t, err, worker.ErrBackfillDisabled)
}

func TestJobs_HealthCheck(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		jobs := worker.NewJobs(worker.JobsConfig{
			Ingester: newIngester(t),
			Database: pinger{},
			Registry: resilience.NewRegistry(),
			Logger:   zerolog.Nop(),
		})
		assert.NoError(t, jobs.HealthCheck(context.Background()))
	})

	t.Run("database down", func(t *testing.T) {
		jobs := worker.NewJobs(worker.JobsConfig{
			Ingester: newIngester(t),
			Database: pinger{err: errors.New("connection refused")},
			Logger:   zerolog.Nop(),
		})
		err := jobs.HealthCheck(context.Background())
		assert.ErrorContains(t, err, "database")

		rec, ok := jobs.Last(worker.JobHealthCheck)
		require.True(t, ok)
		assert.Contains(t, rec.Error, "connection refused")
	})

	t.Run("open circuit", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer server.Close()

		registry := resilience.NewRegistry()
		cb := resilience.DefaultCircuitBreakerConfig("open_meteo_weather")
		cb.ReadyToTrip = func(counts gobreaker.Counts) bool { return counts.ConsecutiveFailures >= 1 }
		cfg := resilience.DefaultClientConfig("open_meteo_weather")
		cfg.MaxRetries = 0
		cfg.CircuitBreaker = &cb
		cfg.Registry = registry
		client := resilience.NewClient(cfg)

		var out map[string]any
		require.Error(t, client.GetJSON(context.Background(), server.URL, nil, &out))

		jobs := worker.NewJobs(worker.JobsConfig{
			Ingester: newIngester(t),
			Registry: registry,
			Logger:   zerolog.Nop(),
		})
		assert.ErrorContains(t, jobs.HealthCheck(context.Background()), "open_meteo_weather")
	})
}

func TestJobs_HistoryBounded(t *testing.T) {
	jobs := worker.NewJobs(worker.JobsConfig{
		Config:   worker.Config{HistorySize: 2},
		Ingester: newIngester(t),
		Logger:   zerolog.Nop(),
	})

	for i := 0; i < 3; i++ {
		require.NoError(t, jobs.HealthCheck(context.Background()))
	}
	_, err := jobs.Ingest(context.Background())
	require.NoError(t, err)

	history := jobs.History()
	require.Len(t, history, 2)
	assert.Equal(t, worker.JobIngest, history[0].Type)
	assert.Equal(t, worker.JobHealthCheck, history[1].Type)

	_, ok := jobs.Last(worker.JobBackfill)
	assert.False(t, ok)
}

func TestDefaultConfig(t *testing.T) {
	cfg := worker.DefaultConfig()

	assert.Equal(t, 60*time.Minute, cfg.Interval)
	assert.Equal(t, 10*time.Minute, cfg.JobTimeout)
	assert.Equal(t, 90, cfg.BackfillDays)
	assert.Equal(t, 20, cfg.HistorySize)
	assert.Empty(t, cfg.Schedule)
}
