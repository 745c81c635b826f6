package measurement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// ServiceConfig holds configuration for creating a Service.
type ServiceConfig struct {
	Repository Repository
	Logger     zerolog.Logger

	// Now returns the ingestion time. Defaults to time.Now.
	Now func() time.Time
}

// Service resolves dimension rows and persists canonical records.
type Service struct {
	repo   Repository
	logger zerolog.Logger
	now    func() time.Time
}

// NewService creates a new measurement service.
func NewService(cfg ServiceConfig) *Service {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		repo:   cfg.Repository,
		logger: cfg.Logger,
		now:    now,
	}
}

// BatchResult is the outcome of persisting one batch.
type BatchResult struct {
	Saved  int
	Errors []string
}

// ResolveSource returns the id of the named data source, creating it if
// absent.
func (s *Service) ResolveSource(ctx context.Context, src SourceInfo) (int64, error) {
	if src.Description == "" {
		src.Description = "External data source: " + src.Name
	}
	id, err := s.repo.UpsertSource(ctx, src)
	if err != nil {
		return 0, fmt.Errorf("resolve source %q: %w", src.Name, err)
	}
	return id, nil
}

// ResolveParameterID looks up a curated parameter. It reports false when the
// catalog has no such parameter; parameters are never created here.
func (s *Service) ResolveParameterID(ctx context.Context, name string, category Category) (int64, bool, error) {
	p, err := s.repo.FindParameter(ctx, name, category)
	if errors.Is(err, ErrParameterNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("resolve parameter %q: %w", name, err)
	}
	return p.ID, true, nil
}

// ResolveLocation returns the id of the location at lat/lon, matching on
// coordinates rounded to CoordinatePrecision decimals, and creates it from
// the unrounded coordinates on a miss.
func (s *Service) ResolveLocation(ctx context.Context, lat, lon float64, name string) (int64, error) {
	if !ValidCoordinates(lat, lon) {
		return 0, fmt.Errorf("%w: %g, %g", ErrInvalidCoordinates, lat, lon)
	}

	loc, err := s.repo.FindLocation(ctx, lat, lon)
	if err == nil {
		return loc.ID, nil
	}
	if !errors.Is(err, ErrLocationNotFound) {
		return 0, fmt.Errorf("find location: %w", err)
	}

	if name == "" {
		name = DefaultLocationName(lat, lon)
	}
	id, err := s.repo.CreateLocation(ctx, &Location{
		Name:     name,
		Lat:      lat,
		Lon:      lon,
		IsActive: true,
	})
	if err != nil {
		return 0, fmt.Errorf("create location: %w", err)
	}

	s.logger.Info().
		Int64("location_id", id).
		Float64("lat", lat).
		Float64("lon", lon).
		Str("name", name).
		Msg("created location")
	return id, nil
}

// DefaultLocationName synthesizes a name from rounded coordinates.
func DefaultLocationName(lat, lon float64) string {
	return fmt.Sprintf("Point (%.5f, %.5f)", RoundCoordinate(lat), RoundCoordinate(lon))
}

// PersistBatch validates and inserts each record independently. Per-record
// failures are collected as error strings and never stop the batch. An error
// is returned only when storage cannot be reached (ErrStorageUnavailable) or
// ctx ends first (ErrBatchInterrupted); the result then holds what was saved
// before that.
func (s *Service) PersistBatch(ctx context.Context, records []Record, src SourceInfo) (BatchResult, error) {
	result := BatchResult{Errors: []string{}}
	if len(records) == 0 {
		s.logger.Warn().Str("source", src.Name).Msg("empty measurement batch")
		return result, nil
	}

	sourceID, err := s.ResolveSource(ctx, src)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return result, fmt.Errorf("%w: %w", ErrBatchInterrupted, ctxErr)
		}
		return result, err
	}

	b := &batch{
		Service:    s,
		sourceID:   sourceID,
		parameters: make(map[parameterKey]int64),
		locations:  make(map[[2]float64]int64),
	}

	for idx, rec := range records {
		if err := ctx.Err(); err != nil {
			return result, b.interrupted(src, result.Saved, len(records)-idx, err)
		}

		err := b.persist(ctx, rec)
		if err == nil {
			result.Saved++
			continue
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return result, b.interrupted(src, result.Saved, len(records)-idx, ctxErr)
		}
		if errors.Is(err, ErrStorageUnavailable) {
			s.logger.Error().
				Err(err).
				Str("source", src.Name).
				Int("saved", result.Saved).
				Int("remaining", len(records)-idx).
				Msg("storage unavailable, aborting batch")
			return result, err
		}

		msg := fmt.Sprintf("measurement %d: %v", idx, err)
		s.logger.Warn().Str("source", src.Name).Msg(msg)
		result.Errors = append(result.Errors, msg)
	}

	s.logger.Info().
		Str("source", src.Name).
		Int("saved", result.Saved).
		Int("received", len(records)).
		Int("errors", len(result.Errors)).
		Msg("persisted measurement batch")

	return result, nil
}

type parameterKey struct {
	name     string
	category Category
}

// batch memoizes dimension lookups for the duration of one PersistBatch.
type batch struct {
	*Service
	sourceID   int64
	parameters map[parameterKey]int64

	// locations is keyed on exact coordinates; rounding belongs to the
	// repository lookup.
	locations map[[2]float64]int64
}

func (b *batch) interrupted(src SourceInfo, saved, remaining int, err error) error {
	b.logger.Warn().
		Err(err).
		Str("source", src.Name).
		Int("saved", saved).
		Int("remaining", remaining).
		Msg("batch interrupted")
	return fmt.Errorf("%w: %w", ErrBatchInterrupted, err)
}

func (b *batch) persist(ctx context.Context, rec Record) error {
	if missing := rec.MissingFields(); len(missing) > 0 {
		return fmt.Errorf("missing fields %v", missing)
	}

	value, lat, lon := *rec.Value, *rec.Latitude, *rec.Longitude
	if !ValidCoordinates(lat, lon) {
		return fmt.Errorf("%w: %g, %g", ErrInvalidCoordinates, lat, lon)
	}
	if err := ValidateValue(rec.ParameterName, value); err != nil {
		return err
	}

	parameterID, err := b.parameterID(ctx, rec.ParameterName, rec.Category)
	if err != nil {
		return err
	}

	locationID, err := b.locationID(ctx, lat, lon, rec.StationName)
	if err != nil {
		return err
	}

	measuredAt := rec.Timestamp
	if measuredAt.IsZero() {
		measuredAt = b.now()
	}

	sourceID := b.sourceID
	m := &Measurement{
		LocationID:  locationID,
		ParameterID: parameterID,
		SourceID:    &sourceID,
		Value:       value,
		MeasuredAt:  measuredAt,
		ExtraData:   rec.ExtraData(),
	}
	if err := b.repo.InsertMeasurement(ctx, m); err != nil {
		return fmt.Errorf("insert: %w", err)
	}
	return nil
}

func (b *batch) parameterID(ctx context.Context, name string, category Category) (int64, error) {
	key := parameterKey{name: name, category: category}
	if id, ok := b.parameters[key]; ok {
		return id, nil
	}

	id, found, err := b.ResolveParameterID(ctx, name, category)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, fmt.Errorf("%w: %q (category %s)", ErrParameterNotFound, name, category)
	}
	b.parameters[key] = id
	return id, nil
}

func (b *batch) locationID(ctx context.Context, lat, lon float64, name string) (int64, error) {
	key := [2]float64{lat, lon}
	if id, ok := b.locations[key]; ok {
		return id, nil
	}

	id, err := b.ResolveLocation(ctx, lat, lon, name)
	if err != nil {
		return 0, err
	}
	b.locations[key] = id
	return id, nil
}
