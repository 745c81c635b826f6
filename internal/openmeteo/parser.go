package openmeteo

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/ecomonitor/ecomonitor/internal/measurement"
)

// Structural parse errors.
var (
	ErrNoHourlyData       = errors.New("response has no hourly data")
	ErrNoTimeSeries       = errors.New("hourly data has no time series")
	ErrPointCountMismatch = errors.New("response count does not match requested points")
	ErrNoMeasurements     = errors.New("no measurements parsed from response")
)

// gridTolerance is how far, in degrees, a response's echoed coordinates may
// sit from the requested point. Open-Meteo snaps requests to its model grid.
const gridTolerance = 0.1

// ParserConfig holds configuration for a Parser.
type ParserConfig struct {
	// Mappings lists the upstream fields to extract.
	Mappings []measurement.ParameterMapping

	// ExternalID derives the external identifier of a point.
	ExternalID func(measurement.Point) string

	// Step selects series mode: 0 keeps only the latest sample per
	// parameter; n > 0 keeps every n-th hourly entry.
	Step int

	// ContextParameters are canonical parameter names whose normalized
	// values are folded into the metadata of every other record of the same
	// point and timestamp.
	ContextParameters []string

	Logger zerolog.Logger
}

// Parser converts hourly responses into canonical records.
type Parser struct {
	mappings   []measurement.ParameterMapping
	externalID func(measurement.Point) string
	step       int
	context    map[string]bool
	normalizer *measurement.Normalizer
	logger     zerolog.Logger
}

// NewParser creates a Parser.
func NewParser(cfg ParserConfig) *Parser {
	externalID := cfg.ExternalID
	if externalID == nil {
		externalID = func(p measurement.Point) string { return "open_meteo_" + p.Slug() }
	}
	ctxParams := make(map[string]bool, len(cfg.ContextParameters))
	for _, name := range cfg.ContextParameters {
		ctxParams[name] = true
	}
	return &Parser{
		mappings:   cfg.Mappings,
		externalID: externalID,
		step:       cfg.Step,
		context:    ctxParams,
		normalizer: measurement.NewNormalizer(cfg.Logger),
		logger:     cfg.Logger,
	}
}

// ParsePoint converts one response for point p. A missing hourly container
// or time series is a structural error; a parameter with no usable sample is
// skipped.
func (p *Parser) ParsePoint(resp *HourlyResponse, point measurement.Point) ([]measurement.Record, error) {
	if resp == nil || len(resp.Hourly) == 0 {
		return nil, ErrNoHourlyData
	}
	times, ok, err := resp.Times()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoTimeSeries, err)
	}
	if !ok || len(times) == 0 {
		return nil, ErrNoTimeSeries
	}

	loc := resp.Location()
	externalID := p.externalID(point)

	var records []measurement.Record
	for _, m := range p.mappings {
		values, present, err := resp.Series(m.UpstreamKey)
		if !present {
			p.logger.Debug().Str("parameter", m.UpstreamKey).Msg("parameter absent from response")
			continue
		}
		if err != nil {
			p.logger.Warn().Err(err).Str("parameter", m.UpstreamKey).Msg("malformed series skipped")
			continue
		}

		samples := p.samples(values, times, loc)
		if len(samples) == 0 {
			p.logger.Debug().
				Str("parameter", m.UpstreamKey).
				Str("point", point.Name).
				Msg("no data for parameter")
			continue
		}

		for _, s := range samples {
			rec := measurement.NewRecord(m.Name, m.Category, p.normalizer.Apply(m, s.Value), m.Unit, point, s.Time)
			rec.ExternalID = externalID
			rec.StationName = point.Name
			rec.Metadata = map[string]any{"upstream_key": m.UpstreamKey}
			records = append(records, rec)
		}
	}

	p.foldContext(records)
	return records, nil
}

func (p *Parser) samples(values []*float64, times []string, loc *time.Location) []measurement.Sample {
	if p.step <= 0 {
		s, ok := measurement.LatestSample(values, times, loc)
		if !ok {
			return nil
		}
		return []measurement.Sample{s}
	}
	if len(values) != len(times) {
		return nil
	}
	return measurement.Samples(values, times, loc, p.step)
}

// foldContext copies context parameter values onto the other records that
// share their timestamp.
func (p *Parser) foldContext(records []measurement.Record) {
	if len(p.context) == 0 {
		return
	}

	byTime := make(map[int64]map[string]any)
	for _, r := range records {
		if !p.context[r.ParameterName] {
			continue
		}
		k := r.Timestamp.Unix()
		if byTime[k] == nil {
			byTime[k] = make(map[string]any)
		}
		byTime[k][r.ParameterName] = *r.Value
	}

	for i := range records {
		for name, v := range byTime[records[i].Timestamp.Unix()] {
			if name == records[i].ParameterName {
				continue
			}
			records[i].Metadata[name] = v
		}
	}
}

// ParseMulti attributes responses to points positionally. The response count
// must equal the point count. A point whose response lacks hourly data is
// skipped and reported in the returned messages.
func (p *Parser) ParseMulti(resps []HourlyResponse, points []measurement.Point) ([]measurement.Record, []string, error) {
	if len(resps) != len(points) {
		return nil, nil, fmt.Errorf("%w: got %d responses for %d points", ErrPointCountMismatch, len(resps), len(points))
	}

	var (
		records []measurement.Record
		skipped []string
	)
	for i := range resps {
		point := points[i]
		resp := &resps[i]

		if drift(resp, point) > gridTolerance {
			p.logger.Warn().
				Str("point", point.Name).
				Float64("requested_lat", point.Lat).
				Float64("requested_lon", point.Lon).
				Float64("response_lat", resp.Latitude).
				Float64("response_lon", resp.Longitude).
				Msg("response coordinates drift from requested point")
		}

		recs, err := p.ParsePoint(resp, point)
		if err != nil {
			msg := fmt.Sprintf("point %s (%.5f, %.5f): %v", label(point), point.Lat, point.Lon, err)
			p.logger.Warn().Msg(msg)
			skipped = append(skipped, msg)
			continue
		}
		records = append(records, recs...)
	}

	return records, skipped, nil
}

func drift(resp *HourlyResponse, point measurement.Point) float64 {
	return math.Max(math.Abs(resp.Latitude-point.Lat), math.Abs(resp.Longitude-point.Lon))
}

func label(p measurement.Point) string {
	if p.Name != "" {
		return p.Name
	}
	return p.Slug()
}
