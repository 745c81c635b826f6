package openmeteo

import (
	"context"
	"net/url"

	"github.com/rs/zerolog"

	"github.com/ecomonitor/ecomonitor/internal/measurement"
)

// WeatherFetcher collects the latest weather for a grid of points with a
// single multi-coordinate request.
type WeatherFetcher struct {
	client   *Client
	parser   *Parser
	baseURL  string
	timezone string
	points   []measurement.Point
	logger   zerolog.Logger
}

// NewWeatherFetcher creates a weather fetcher.
func NewWeatherFetcher(cfg FetcherConfig) *WeatherFetcher {
	tz := cfg.Timezone
	if tz == "" {
		tz = "auto"
	}
	return &WeatherFetcher{
		client:   cfg.client(NameWeather),
		baseURL:  cfg.baseURL(DefaultForecastURL),
		timezone: tz,
		points:   cfg.Points,
		logger:   cfg.Logger,
		parser: NewParser(ParserConfig{
			Mappings:          measurement.WeatherMappings(),
			ExternalID:        func(p measurement.Point) string { return "open_meteo_weather_" + p.Slug() },
			ContextParameters: weatherContext,
			Logger:            cfg.Logger,
		}),
	}
}

// Name returns the fetcher name.
func (f *WeatherFetcher) Name() string {
	return NameWeather
}

// Source returns the data source records are persisted under.
func (f *WeatherFetcher) Source() measurement.SourceInfo {
	return WeatherSource
}

// Collect fetches the grid in one call and attributes each response element
// to its requested point by position.
func (f *WeatherFetcher) Collect(ctx context.Context) (*measurement.Batch, error) {
	if err := validatePoints(f.points); err != nil {
		return nil, err
	}

	lat, lon := coordinateParams(f.points)
	params := url.Values{}
	params.Set("latitude", lat)
	params.Set("longitude", lon)
	params.Set("hourly", measurement.HourlyFields(measurement.WeatherMappings()))
	params.Set("timezone", f.timezone)
	params.Set("wind_speed_unit", "ms")

	f.logger.Info().
		Int("points", len(f.points)).
		Msg("requesting weather grid")

	responses, err := f.client.FetchHourly(ctx, f.baseURL, params)
	if err != nil {
		return nil, err
	}

	records, skipped, err := f.parser.ParseMulti(responses, f.points)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, noMeasurements(skipped)
	}

	f.logger.Info().
		Int("records", len(records)).
		Int("points", len(f.points)).
		Int("skipped_points", len(skipped)).
		Msg("weather collected")

	return &measurement.Batch{
		Source:  WeatherSource,
		Records: records,
		Errors:  skipped,
	}, nil
}
