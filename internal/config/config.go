// Package config loads the runtime configuration from the environment,
// optionally seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/ecomonitor/ecomonitor/internal/database"
	"github.com/ecomonitor/ecomonitor/internal/measurement"
	"github.com/ecomonitor/ecomonitor/internal/openmeteo"
	"github.com/ecomonitor/ecomonitor/internal/telemetry"
	"github.com/ecomonitor/ecomonitor/internal/worker"
)

const (
	defaultTimeout     = 30 * time.Second
	defaultConcurrency = 2
	defaultMaxRetries  = 2
	defaultPort        = "8080"
	defaultOTLP        = "localhost:4317"
)

// DefaultCenter is the point used when no air quality point is configured.
var DefaultCenter = measurement.Point{Name: "Moscow Center", Lat: 55.7558, Lon: 37.6173}

// DefaultGrid returns the Moscow weather grid.
func DefaultGrid() []measurement.Point {
	return []measurement.Point{
		{Name: "Kremlin", Lat: 55.7520, Lon: 37.6175},
		{Name: "VDNKh", Lat: 55.8284, Lon: 37.6385},
		{Name: "Tsaritsyno", Lat: 55.6194, Lon: 37.6862},
		{Name: "Krylatskoye", Lat: 55.7579, Lon: 37.4087},
		{Name: "Izmailovo", Lat: 55.7887, Lon: 37.7948},
		{Name: "Strogino", Lat: 55.8045, Lon: 37.4024},
		{Name: "Medvedkovo", Lat: 55.8815, Lon: 37.6590},
		{Name: "Tyoply Stan", Lat: 55.6180, Lon: 37.5030},
		{Name: "Maryino", Lat: 55.6500, Lon: 37.7440},
		{Name: "Vnukovo", Lat: 55.5910, Lon: 37.2615},
	}
}

// SourceConfig configures one upstream fetcher.
type SourceConfig struct {
	Enabled  bool
	BaseURL  string
	Timezone string
	Timeout  time.Duration
	Points   []measurement.Point
}

// BackfillConfig configures the historical archive fetcher.
type BackfillConfig struct {
	Days  int
	Step  int
	Delay time.Duration
}

// PubSubConfig names the subscription job requests arrive on.
type PubSubConfig struct {
	ProjectID    string
	Subscription string
}

// Enabled reports whether both the project and subscription are set.
func (c PubSubConfig) Enabled() bool {
	return c.ProjectID != "" && c.Subscription != ""
}

// Config is the complete runtime configuration.
type Config struct {
	Environment string
	Port        string

	Database  database.Config
	Telemetry telemetry.Config

	AirQuality SourceConfig
	Weather    SourceConfig
	Archive    SourceConfig
	Backfill   BackfillConfig

	// Concurrency bounds parallel fetchers per run.
	Concurrency int

	// FetcherTimeout bounds one fetcher including persistence. Zero disables.
	FetcherTimeout time.Duration

	// MaxRetries is the per-request retry budget of the HTTP client.
	MaxRetries int

	Worker worker.Config
	PubSub PubSubConfig
}

// Load reads the configuration from the environment. Values in a .env file
// in the working directory are applied first without overriding variables
// that are already set.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return FromEnv()
}

// FromEnv reads the configuration from the process environment only.
func FromEnv() (*Config, error) {
	p := &parser{}

	cfg := &Config{
		Environment: getEnvOrDefault("APP_ENV", "development"),
		Port:        getEnvOrDefault("APP_PORT", defaultPort),
		Database:    database.ConfigFromEnv(),
		Telemetry: telemetry.Config{
			ServiceVersion: "dev",
			Enabled:        p.bool("OTEL_ENABLED", false),
			OTLPEndpoint:   getEnvOrDefault("OTEL_EXPORTER_OTLP_ENDPOINT", defaultOTLP),
			SampleRatio:    p.float("OTEL_SAMPLE_RATIO", 1),
		},
		AirQuality: p.source("AIR_QUALITY", "auto", []measurement.Point{DefaultCenter}),
		Weather:    p.source("WEATHER", "auto", DefaultGrid()),
		Backfill: BackfillConfig{
			Days:  p.int("BACKFILL_DAYS", openmeteo.DefaultArchiveDays),
			Step:  p.int("BACKFILL_STEP", openmeteo.DefaultArchiveStep),
			Delay: p.duration("BACKFILL_DELAY", openmeteo.DefaultArchiveDelay),
		},
		Concurrency:    p.int("INGEST_CONCURRENCY", defaultConcurrency),
		FetcherTimeout: p.duration("INGEST_FETCHER_TIMEOUT", 0),
		MaxRetries:     p.int("HTTP_MAX_RETRIES", defaultMaxRetries),
		Worker: worker.Config{
			Schedule:    strings.TrimSpace(os.Getenv("INGEST_SCHEDULE")),
			Interval:    p.duration("INGEST_INTERVAL", worker.DefaultConfig().Interval),
			JobTimeout:  p.duration("JOB_TIMEOUT", worker.DefaultConfig().JobTimeout),
			HistorySize: p.int("JOB_HISTORY_SIZE", worker.DefaultConfig().HistorySize),
		},
		PubSub: PubSubConfig{
			ProjectID:    strings.TrimSpace(os.Getenv("PUBSUB_PROJECT_ID")),
			Subscription: strings.TrimSpace(os.Getenv("PUBSUB_SUBSCRIPTION")),
		},
	}
	cfg.Telemetry.Environment = cfg.Environment
	cfg.Archive = p.source("ARCHIVE", "Europe/Moscow", cfg.Weather.Points)
	cfg.Worker.BackfillDays = cfg.Backfill.Days

	if err := p.err(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for values that cannot work.
func (c *Config) Validate() error {
	var errs []error

	if err := c.Database.Validate(); err != nil {
		errs = append(errs, err)
	}
	if !c.AirQuality.Enabled && !c.Weather.Enabled {
		errs = append(errs, errors.New("at least one of AIR_QUALITY_ENABLED and WEATHER_ENABLED must be true"))
	}
	for name, src := range map[string]SourceConfig{"AIR_QUALITY": c.AirQuality, "WEATHER": c.Weather, "ARCHIVE": c.Archive} {
		if !src.Enabled {
			continue
		}
		if len(src.Points) == 0 {
			errs = append(errs, fmt.Errorf("%s_POINTS: no points configured", name))
		}
		for _, pt := range src.Points {
			if !pt.Valid() {
				errs = append(errs, fmt.Errorf("%s_POINTS: invalid coordinates %g, %g", name, pt.Lat, pt.Lon))
			}
		}
		if src.Timeout <= 0 {
			errs = append(errs, fmt.Errorf("%s_TIMEOUT must be positive", name))
		}
	}
	if c.Concurrency <= 0 {
		errs = append(errs, errors.New("INGEST_CONCURRENCY must be positive"))
	}
	if c.MaxRetries < 0 {
		errs = append(errs, errors.New("HTTP_MAX_RETRIES must not be negative"))
	}
	if c.Backfill.Days <= 0 || c.Backfill.Step <= 0 {
		errs = append(errs, errors.New("BACKFILL_DAYS and BACKFILL_STEP must be positive"))
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		errs = append(errs, errors.New("OTEL_SAMPLE_RATIO must be within [0, 1]"))
	}
	if (c.PubSub.ProjectID == "") != (c.PubSub.Subscription == "") {
		errs = append(errs, errors.New("PUBSUB_PROJECT_ID and PUBSUB_SUBSCRIPTION must be set together"))
	}

	return errors.Join(errs...)
}

// ParsePoints parses a semicolon separated list of points. Each entry is
// "lat,lon" or "name@lat,lon".
func ParsePoints(s string) ([]measurement.Point, error) {
	var points []measurement.Point
	for _, entry := range strings.Split(s, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		var p measurement.Point
		coords := entry
		if name, rest, ok := strings.Cut(entry, "@"); ok {
			p.Name = strings.TrimSpace(name)
			coords = rest
		}

		lat, lon, ok := strings.Cut(coords, ",")
		if !ok {
			return nil, fmt.Errorf("point %q: expected lat,lon", entry)
		}
		var err error
		if p.Lat, err = strconv.ParseFloat(strings.TrimSpace(lat), 64); err != nil {
			return nil, fmt.Errorf("point %q: latitude: %w", entry, err)
		}
		if p.Lon, err = strconv.ParseFloat(strings.TrimSpace(lon), 64); err != nil {
			return nil, fmt.Errorf("point %q: longitude: %w", entry, err)
		}
		points = append(points, p)
	}
	return points, nil
}

// parser accumulates the first error per variable while reading values.
type parser struct {
	errs []error
}

func (p *parser) err() error {
	return errors.Join(p.errs...)
}

func (p *parser) fail(key string, err error) {
	p.errs = append(p.errs, fmt.Errorf("invalid %s: %w", key, err))
}

func (p *parser) source(prefix, timezone string, points []measurement.Point) SourceConfig {
	src := SourceConfig{
		Enabled:  p.bool(prefix+"_ENABLED", true),
		BaseURL:  strings.TrimSpace(os.Getenv(prefix + "_URL")),
		Timezone: getEnvOrDefault(prefix+"_TIMEZONE", timezone),
		Timeout:  p.duration(prefix+"_TIMEOUT", defaultTimeout),
		Points:   points,
	}
	if raw := strings.TrimSpace(os.Getenv(prefix + "_POINTS")); raw != "" {
		parsed, err := ParsePoints(raw)
		if err != nil {
			p.fail(prefix+"_POINTS", err)
		} else {
			src.Points = parsed
		}
	}
	return src
}

func (p *parser) int(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.fail(key, err)
		return def
	}
	return n
}

func (p *parser) float(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		p.fail(key, err)
		return def
	}
	return f
}

func (p *parser) bool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.fail(key, err)
		return def
	}
	return b
}

func (p *parser) duration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.fail(key, err)
		return def
	}
	return d
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}
