package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecomonitor/ecomonitor/internal/config"
	"github.com/ecomonitor/ecomonitor/internal/measurement"
)

var configKeys = []string{
	"APP_ENV", "APP_PORT", "DATABASE_URL",
	"OTEL_ENABLED", "OTEL_SAMPLE_RATIO",
	"AIR_QUALITY_ENABLED", "AIR_QUALITY_URL", "AIR_QUALITY_POINTS", "AIR_QUALITY_TIMEOUT",
	"WEATHER_ENABLED", "WEATHER_POINTS", "WEATHER_TIMEZONE",
	"ARCHIVE_ENABLED", "ARCHIVE_POINTS",
	"BACKFILL_DAYS", "BACKFILL_STEP", "BACKFILL_DELAY",
	"INGEST_CONCURRENCY", "INGEST_FETCHER_TIMEOUT", "HTTP_MAX_RETRIES",
	"INGEST_SCHEDULE", "INGEST_INTERVAL", "JOB_TIMEOUT",
	"PUBSUB_PROJECT_ID", "PUBSUB_SUBSCRIPTION",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range configKeys {
		t.Setenv(key, "")
	}
}

func TestFromEnv_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := config.FromEnv()
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, "8080", cfg.Port)
	assert.True(t, cfg.AirQuality.Enabled)
	assert.Equal(t, []measurement.Point{config.DefaultCenter}, cfg.AirQuality.Points)
	assert.Equal(t, "auto", cfg.AirQuality.Timezone)
	assert.Len(t, cfg.Weather.Points, 10)
	assert.Equal(t, cfg.Weather.Points, cfg.Archive.Points)
	assert.Equal(t, "Europe/Moscow", cfg.Archive.Timezone)
	assert.Equal(t, 30*time.Second, cfg.Weather.Timeout)
	assert.Equal(t, 90, cfg.Backfill.Days)
	assert.Equal(t, 6, cfg.Backfill.Step)
	assert.Equal(t, 90, cfg.Worker.BackfillDays)
	assert.Equal(t, 2, cfg.Concurrency)
	assert.Equal(t, 2, cfg.MaxRetries)
	assert.Equal(t, time.Hour, cfg.Worker.Interval)
	assert.False(t, cfg.PubSub.Enabled())
	assert.False(t, cfg.Telemetry.Enabled)

	assert.NoError(t, cfg.Validate())
}

func TestFromEnv_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("APP_ENV", "production")
	t.Setenv("AIR_QUALITY_ENABLED", "false")
	t.Setenv("WEATHER_POINTS", "North@55.9,37.6; 55.5,37.5")
	t.Setenv("WEATHER_TIMEZONE", "UTC")
	t.Setenv("BACKFILL_DAYS", "30")
	t.Setenv("INGEST_CONCURRENCY", "4")
	t.Setenv("INGEST_FETCHER_TIMEOUT", "2m")
	t.Setenv("INGEST_SCHEDULE", "0 * * * *")
	t.Setenv("PUBSUB_PROJECT_ID", "eco")
	t.Setenv("PUBSUB_SUBSCRIPTION", "ingest-jobs")

	cfg, err := config.FromEnv()
	require.NoError(t, err)

	assert.Equal(t, "production", cfg.Telemetry.Environment)
	assert.False(t, cfg.AirQuality.Enabled)
	assert.Equal(t, []measurement.Point{
		{Name: "North", Lat: 55.9, Lon: 37.6},
		{Lat: 55.5, Lon: 37.5},
	}, cfg.Weather.Points)
	assert.Equal(t, cfg.Weather.Points, cfg.Archive.Points)
	assert.Equal(t, "UTC", cfg.Weather.Timezone)
	assert.Equal(t, 30, cfg.Worker.BackfillDays)
	assert.Equal(t, 4, cfg.Concurrency)
	assert.Equal(t, 2*time.Minute, cfg.FetcherTimeout)
	assert.Equal(t, "0 * * * *", cfg.Worker.Schedule)
	assert.True(t, cfg.PubSub.Enabled())
	assert.NoError(t, cfg.Validate())
}

func TestFromEnv_InvalidValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("INGEST_CONCURRENCY", "many")
	t.Setenv("WEATHER_POINTS", "55.9")
	t.Setenv("INGEST_INTERVAL", "hourly")

	_, err := config.FromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "INGEST_CONCURRENCY")
	assert.Contains(t, err.Error(), "WEATHER_POINTS")
	assert.Contains(t, err.Error(), "INGEST_INTERVAL")
}

func TestLoad_DotEnvDoesNotOverride(t *testing.T) {
	clearEnv(t)
	t.Setenv("APP_PORT", "9090")
	// godotenv keeps variables that exist even when empty.
	require.NoError(t, os.Unsetenv("APP_ENV"))

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("APP_PORT=7070\nAPP_ENV=staging\n"), 0o600))
	t.Chdir(dir)

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "staging", cfg.Environment)
}

func TestLoad_NoDotEnv(t *testing.T) {
	clearEnv(t)
	t.Chdir(t.TempDir())

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
}

func TestValidate(t *testing.T) {
	clearEnv(t)
	base, err := config.FromEnv()
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"no fetchers", func(c *config.Config) { c.AirQuality.Enabled, c.Weather.Enabled = false, false }, "at least one"},
		{"bad point", func(c *config.Config) { c.Weather.Points = []measurement.Point{{Lat: 91, Lon: 0}} }, "WEATHER_POINTS"},
		{"no points", func(c *config.Config) { c.AirQuality.Points = nil }, "AIR_QUALITY_POINTS"},
		{"zero timeout", func(c *config.Config) { c.Archive.Timeout = 0 }, "ARCHIVE_TIMEOUT"},
		{"zero concurrency", func(c *config.Config) { c.Concurrency = 0 }, "INGEST_CONCURRENCY"},
		{"negative retries", func(c *config.Config) { c.MaxRetries = -1 }, "HTTP_MAX_RETRIES"},
		{"zero step", func(c *config.Config) { c.Backfill.Step = 0 }, "BACKFILL_STEP"},
		{"sample ratio", func(c *config.Config) { c.Telemetry.SampleRatio = 2 }, "OTEL_SAMPLE_RATIO"},
		{"half pubsub", func(c *config.Config) { c.PubSub.ProjectID = "eco" }, "PUBSUB_SUBSCRIPTION"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := *base
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParsePoints(t *testing.T) {
	points, err := config.ParsePoints("Tyoply Stan@55.618,37.503;;55.591, 37.2615")
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.Equal(t, "tyoply_stan", points[0].Slug())
	assert.Equal(t, 37.2615, points[1].Lon)

	_, err = config.ParsePoints("Center@north,east")
	assert.ErrorContains(t, err, "latitude")
}
