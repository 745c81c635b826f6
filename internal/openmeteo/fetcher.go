package openmeteo

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ecomonitor/ecomonitor/internal/measurement"
	"github.com/ecomonitor/ecomonitor/internal/provider/resilience"
)

// Fetcher names.
const (
	NameAirQuality = "open_meteo_air_quality"
	NameWeather    = "open_meteo_weather"
	NameArchive    = "open_meteo_archive"
)

// Data sources measurements are persisted under.
var (
	AirQualitySource = measurement.SourceInfo{
		Name: "Open-Meteo Air Quality API",
		URL:  "https://open-meteo.com/en/docs/air-quality-api",
	}
	WeatherSource = measurement.SourceInfo{
		Name: "Open-Meteo Weather API",
		URL:  "https://open-meteo.com/en/docs",
	}
	ArchiveSource = measurement.SourceInfo{
		Name: "Open-Meteo Historical Weather API",
		URL:  "https://open-meteo.com/en/docs/historical-weather-api",
	}
)

// weatherContext are the weather parameters folded into the metadata of
// every other weather record of the same point and hour.
var weatherContext = []string{"wind_speed", "wind_direction", "humidity", "pressure"}

// FetcherConfig is the configuration shared by Open-Meteo fetchers.
type FetcherConfig struct {
	// BaseURL overrides the endpoint.
	BaseURL string

	// Timezone is sent as the timezone query parameter.
	Timezone string

	// Timeout bounds each upstream request. Default: 30 seconds.
	Timeout time.Duration

	// Points are the coordinates to collect data for.
	Points []measurement.Point

	// HTTPClient overrides the resilient client built from the fields below.
	HTTPClient *resilience.Client

	// Registry receives the provider client for health reporting.
	Registry *resilience.Registry

	Logger zerolog.Logger
}

func (cfg FetcherConfig) client(name string) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		rc := resilience.DefaultClientConfig(name)
		if cfg.Timeout > 0 {
			rc.Timeout = cfg.Timeout
		}
		rc.Registry = cfg.Registry
		rc.Logger = cfg.Logger
		httpClient = resilience.NewClient(rc)
	}
	return NewClient(ClientConfig{HTTPClient: httpClient, Logger: cfg.Logger})
}

func (cfg FetcherConfig) baseURL(def string) string {
	if cfg.BaseURL != "" {
		return cfg.BaseURL
	}
	return def
}

// validatePoints rejects the whole configuration if any point is not a
// valid Earth coordinate, so no upstream call is made with bad input.
func validatePoints(points []measurement.Point) error {
	if len(points) == 0 {
		return fmt.Errorf("%w: no points configured", measurement.ErrInvalidCoordinates)
	}
	for _, p := range points {
		if !p.Valid() {
			return fmt.Errorf("%w: %s (%g, %g)", measurement.ErrInvalidCoordinates, label(p), p.Lat, p.Lon)
		}
	}
	return nil
}
