package openmeteo

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/ecomonitor/ecomonitor/internal/measurement"
)

const (
	// DefaultArchiveDays is the default backfill window.
	DefaultArchiveDays = 90

	// DefaultArchiveStep keeps one hourly entry in six.
	DefaultArchiveStep = 6

	// DefaultArchiveDelay separates per-point archive calls.
	DefaultArchiveDelay = 500 * time.Millisecond

	dateLayout = "2006-01-02"
)

// ArchiveConfig holds configuration for an ArchiveFetcher.
type ArchiveConfig struct {
	FetcherConfig

	// Days is the backfill window ending today. Default: 90.
	Days int

	// Step keeps every Step-th hourly entry. Default: 6.
	Step int

	// Delay is the pause between per-point calls. Default: 500ms.
	Delay time.Duration

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

// ArchiveFetcher backfills historical weather, one request per point.
type ArchiveFetcher struct {
	client   *Client
	parser   *Parser
	baseURL  string
	timezone string
	points   []measurement.Point
	days     int
	delay    time.Duration
	now      func() time.Time
	logger   zerolog.Logger
}

// NewArchiveFetcher creates an archive fetcher.
func NewArchiveFetcher(cfg ArchiveConfig) *ArchiveFetcher {
	if cfg.Days <= 0 {
		cfg.Days = DefaultArchiveDays
	}
	if cfg.Step <= 0 {
		cfg.Step = DefaultArchiveStep
	}
	if cfg.Delay < 0 {
		cfg.Delay = 0
	} else if cfg.Delay == 0 {
		cfg.Delay = DefaultArchiveDelay
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	tz := cfg.Timezone
	if tz == "" {
		tz = "Europe/Moscow"
	}

	return &ArchiveFetcher{
		client:   cfg.client(NameArchive),
		baseURL:  cfg.baseURL(DefaultArchiveURL),
		timezone: tz,
		points:   cfg.Points,
		days:     cfg.Days,
		delay:    cfg.Delay,
		now:      cfg.Now,
		logger:   cfg.Logger,
		parser: NewParser(ParserConfig{
			Mappings:   measurement.WeatherMappings(),
			ExternalID: func(p measurement.Point) string { return "hist_weather_" + p.Slug() },
			Step:       cfg.Step,
			Logger:     cfg.Logger,
		}),
	}
}

// Name returns the fetcher name.
func (f *ArchiveFetcher) Name() string {
	return NameArchive
}

// Source returns the data source records are persisted under.
func (f *ArchiveFetcher) Source() measurement.SourceInfo {
	return ArchiveSource
}

// WithDays returns a copy of the fetcher with a different backfill window.
func (f *ArchiveFetcher) WithDays(days int) *ArchiveFetcher {
	cpy := *f
	if days > 0 {
		cpy.days = days
	}
	return &cpy
}

// Collect backfills the configured window ending today.
func (f *ArchiveFetcher) Collect(ctx context.Context) (*measurement.Batch, error) {
	end := f.now()
	start := end.AddDate(0, 0, -f.days)
	return f.CollectRange(ctx, start, end)
}

// CollectRange backfills [start, end] (dates, inclusive). A failing point is
// reported in the batch errors and the remaining points are still fetched.
func (f *ArchiveFetcher) CollectRange(ctx context.Context, start, end time.Time) (*measurement.Batch, error) {
	if err := validatePoints(f.points); err != nil {
		return nil, err
	}
	if end.Before(start) {
		return nil, fmt.Errorf("archive range: end %s before start %s", end.Format(dateLayout), start.Format(dateLayout))
	}

	f.logger.Info().
		Str("start", start.Format(dateLayout)).
		Str("end", end.Format(dateLayout)).
		Int("points", len(f.points)).
		Msg("starting weather backfill")

	batch := &measurement.Batch{Source: ArchiveSource}
	for i, point := range f.points {
		if i > 0 {
			if err := sleep(ctx, f.delay); err != nil {
				return nil, err
			}
		}

		lat, lon := coordinateParams([]measurement.Point{point})
		params := url.Values{}
		params.Set("latitude", lat)
		params.Set("longitude", lon)
		params.Set("start_date", start.Format(dateLayout))
		params.Set("end_date", end.Format(dateLayout))
		params.Set("hourly", measurement.HourlyFields(measurement.WeatherMappings()))
		params.Set("timezone", f.timezone)
		params.Set("wind_speed_unit", "ms")

		responses, err := f.client.FetchHourly(ctx, f.baseURL, params)
		if err != nil {
			batch.Errors = append(batch.Errors, fmt.Sprintf("point %s: %v", label(point), err))
			continue
		}

		records, skipped, err := f.parser.ParseMulti(responses, []measurement.Point{point})
		if err != nil {
			batch.Errors = append(batch.Errors, fmt.Sprintf("point %s: %v", label(point), err))
			continue
		}
		batch.Errors = append(batch.Errors, skipped...)
		batch.Records = append(batch.Records, records...)

		f.logger.Info().
			Str("point", label(point)).
			Int("records", len(records)).
			Msgf("backfilled point %d/%d", i+1, len(f.points))
	}

	if len(batch.Records) == 0 {
		return nil, noMeasurements(batch.Errors)
	}
	return batch, nil
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
