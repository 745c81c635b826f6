package openmeteo

import (
	"context"
	"fmt"
	"net/url"

	"github.com/rs/zerolog"

	"github.com/ecomonitor/ecomonitor/internal/measurement"
)

// AirQualityFetcher collects the latest pollutant concentrations, one
// single-point request per configured point.
type AirQualityFetcher struct {
	client   *Client
	parser   *Parser
	baseURL  string
	timezone string
	points   []measurement.Point
	logger   zerolog.Logger
}

// NewAirQualityFetcher creates an air quality fetcher.
func NewAirQualityFetcher(cfg FetcherConfig) *AirQualityFetcher {
	tz := cfg.Timezone
	if tz == "" {
		tz = "auto"
	}
	return &AirQualityFetcher{
		client:   cfg.client(NameAirQuality),
		baseURL:  cfg.baseURL(DefaultAirQualityURL),
		timezone: tz,
		points:   cfg.Points,
		logger:   cfg.Logger,
		parser: NewParser(ParserConfig{
			Mappings:   measurement.AirQualityMappings(),
			ExternalID: func(p measurement.Point) string { return "open_meteo_" + p.Slug() },
			Logger:     cfg.Logger,
		}),
	}
}

// Name returns the fetcher name.
func (f *AirQualityFetcher) Name() string {
	return NameAirQuality
}

// Source returns the data source records are persisted under.
func (f *AirQualityFetcher) Source() measurement.SourceInfo {
	return AirQualitySource
}

// Collect fetches and parses the latest air quality for every point. A point
// whose request or payload fails is reported in the batch errors; an error
// is returned only when no point produced any record.
func (f *AirQualityFetcher) Collect(ctx context.Context) (*measurement.Batch, error) {
	if err := validatePoints(f.points); err != nil {
		return nil, err
	}

	batch := &measurement.Batch{Source: AirQualitySource}
	var lastErr error
	for _, point := range f.points {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		params := url.Values{}
		lat, lon := coordinateParams([]measurement.Point{point})
		params.Set("latitude", lat)
		params.Set("longitude", lon)
		params.Set("hourly", measurement.HourlyFields(measurement.AirQualityMappings()))
		params.Set("timezone", f.timezone)

		f.logger.Info().
			Str("point", label(point)).
			Float64("lat", point.Lat).
			Float64("lon", point.Lon).
			Msg("requesting air quality")

		responses, err := f.client.FetchHourly(ctx, f.baseURL, params)
		if err != nil {
			lastErr = err
			batch.Errors = append(batch.Errors, fmt.Sprintf("point %s: %v", label(point), err))
			continue
		}

		records, skipped, err := f.parser.ParseMulti(responses, []measurement.Point{point})
		if err != nil {
			lastErr = err
			batch.Errors = append(batch.Errors, fmt.Sprintf("point %s: %v", label(point), err))
			continue
		}
		batch.Errors = append(batch.Errors, skipped...)
		batch.Records = append(batch.Records, records...)
	}

	if len(batch.Records) == 0 {
		if lastErr != nil && len(f.points) == 1 {
			return nil, lastErr
		}
		return nil, noMeasurements(batch.Errors)
	}

	f.logger.Info().
		Int("records", len(batch.Records)).
		Int("points", len(f.points)).
		Msg("air quality collected")
	return batch, nil
}

// noMeasurements builds the error returned when nothing was produced.
func noMeasurements(details []string) error {
	if len(details) == 0 {
		return ErrNoMeasurements
	}
	return fmt.Errorf("%w: %v", ErrNoMeasurements, details)
}
