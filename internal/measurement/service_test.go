package measurement_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecomonitor/ecomonitor/internal/measurement"
)

var testSource = measurement.SourceInfo{
	Name: "Open-Meteo Air Quality API",
	URL:  "https://open-meteo.com/en/docs/air-quality-api",
}

var moscow = measurement.Point{Name: "Center", Lat: 55.7558, Lon: 37.6173}

func newTestService(t *testing.T) (*measurement.Service, *measurement.InMemoryRepository) {
	t.Helper()
	repo := measurement.NewInMemoryRepository(measurement.SeedCatalog()...)
	svc := measurement.NewService(measurement.ServiceConfig{
		Repository: repo,
		Logger:     zerolog.Nop(),
	})
	return svc, repo
}

func TestPersistBatch_RoundTrip(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	rec := measurement.NewRecord("PM10", measurement.CategoryAirQuality, 12, measurement.UnitMicrogramsPerM3, moscow, ts)
	rec.ExternalID = "openmeteo_air_center"
	rec.StationName = "Center"
	rec.Metadata = map[string]any{"humidity": 71.0}

	result, err := svc.PersistBatch(ctx, []measurement.Record{rec}, testSource)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Saved)
	assert.Empty(t, result.Errors)

	rows := repo.Measurements()
	require.Len(t, rows, 1)

	got, err := repo.GetMeasurement(ctx, rows[0].ID)
	require.NoError(t, err)
	assert.Equal(t, 12.0, got.Value)
	assert.True(t, ts.Equal(got.MeasuredAt))
	require.NotNil(t, got.SourceID)
	assert.Equal(t, "openmeteo_air_center", got.ExtraData["external_id"])
	assert.Equal(t, "Center", got.ExtraData["station_name"])
	assert.Equal(t, 71.0, got.ExtraData["humidity"])

	param, err := repo.FindParameter(ctx, "PM10", measurement.CategoryAirQuality)
	require.NoError(t, err)
	assert.Equal(t, param.ID, got.ParameterID)

	loc, err := repo.FindLocation(ctx, moscow.Lat, moscow.Lon)
	require.NoError(t, err)
	assert.Equal(t, loc.ID, got.LocationID)
	assert.Equal(t, "Center", loc.Name)
}

func TestPersistBatch_MissingLatitude(t *testing.T) {
	svc, repo := newTestService(t)

	rec := measurement.Record{
		ParameterName: "PM10",
		Category:      measurement.CategoryAirQuality,
		Value:         measurement.Float(5),
		Longitude:     measurement.Float(37.6),
	}

	result, err := svc.PersistBatch(context.Background(), []measurement.Record{rec}, testSource)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Saved)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "latitude")
	assert.Contains(t, result.Errors[0], "measurement 0")
	assert.Empty(t, repo.Measurements())
}

func TestPersistBatch_PartialFailure(t *testing.T) {
	svc, repo := newTestService(t)
	ts := time.Now().UTC()

	records := []measurement.Record{
		measurement.NewRecord("PM10", measurement.CategoryAirQuality, 10, measurement.UnitMicrogramsPerM3, moscow, ts),
		measurement.NewRecord("benzene", measurement.CategoryAirQuality, 1, measurement.UnitMicrogramsPerM3, moscow, ts),
		measurement.NewRecord("PM2.5", measurement.CategoryAirQuality, 7, measurement.UnitMicrogramsPerM3, moscow, ts),
		measurement.NewRecord("CO", measurement.CategoryAirQuality, 500, measurement.UnitMilligramsPerM3, moscow, ts),
		{ParameterName: "NO2", Category: measurement.CategoryAirQuality},
		measurement.NewRecord("NO2", measurement.CategoryAirQuality, 20, measurement.UnitMicrogramsPerM3,
			measurement.Point{Lat: 95, Lon: 10}, ts),
	}

	result, err := svc.PersistBatch(context.Background(), records, testSource)
	require.NoError(t, err)

	assert.Equal(t, 2, result.Saved)
	require.Len(t, result.Errors, 4)
	assert.Equal(t, len(records), result.Saved+len(result.Errors))
	assert.Contains(t, result.Errors[0], "measurement 1")
	assert.Contains(t, result.Errors[0], "parameter not found")
	assert.Contains(t, result.Errors[1], "exceeds plausible limit")
	assert.Contains(t, result.Errors[2], "value")
	assert.Contains(t, result.Errors[3], "invalid coordinates")
	assert.Len(t, repo.Measurements(), 2)
}

func TestPersistBatch_NegativeTemperatureAccepted(t *testing.T) {
	svc, repo := newTestService(t)

	rec := measurement.NewRecord("temperature", measurement.CategoryWeather, -18.4, measurement.UnitCelsius, moscow, time.Now())
	result, err := svc.PersistBatch(context.Background(), []measurement.Record{rec}, testSource)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Saved)
	assert.Equal(t, -18.4, repo.Measurements()[0].Value)
}

func TestPersistBatch_NegativePollutantRejected(t *testing.T) {
	svc, repo := newTestService(t)

	rec := measurement.NewRecord("SO2", measurement.CategoryAirQuality, -1, measurement.UnitMicrogramsPerM3, moscow, time.Now())
	result, err := svc.PersistBatch(context.Background(), []measurement.Record{rec}, testSource)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Saved)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "negative value")
	assert.Empty(t, repo.Measurements())
}

func TestPersistBatch_ZeroTimestampUsesIngestionTime(t *testing.T) {
	repo := measurement.NewInMemoryRepository(measurement.SeedCatalog()...)
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	svc := measurement.NewService(measurement.ServiceConfig{
		Repository: repo,
		Logger:     zerolog.Nop(),
		Now:        func() time.Time { return now },
	})

	rec := measurement.NewRecord("humidity", measurement.CategoryWeather, 60, measurement.UnitPercent, moscow, time.Time{})
	_, err := svc.PersistBatch(context.Background(), []measurement.Record{rec}, testSource)
	require.NoError(t, err)

	rows := repo.Measurements()
	require.Len(t, rows, 1)
	assert.True(t, now.Equal(rows[0].MeasuredAt))
}

func TestPersistBatch_Empty(t *testing.T) {
	svc, repo := newTestService(t)

	result, err := svc.PersistBatch(context.Background(), nil, testSource)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Saved)
	assert.NotNil(t, result.Errors)
	assert.Empty(t, result.Errors)
	assert.Equal(t, 0, repo.SourceCount())
}

func TestPersistBatch_StorageUnavailableAborts(t *testing.T) {
	svc, repo := newTestService(t)
	repo.SetInsertError(fmt.Errorf("%w: connection refused", measurement.ErrStorageUnavailable))

	ts := time.Now()
	records := []measurement.Record{
		measurement.NewRecord("PM10", measurement.CategoryAirQuality, 10, measurement.UnitMicrogramsPerM3, moscow, ts),
		measurement.NewRecord("PM2.5", measurement.CategoryAirQuality, 5, measurement.UnitMicrogramsPerM3, moscow, ts),
	}

	result, err := svc.PersistBatch(context.Background(), records, testSource)
	require.Error(t, err)
	assert.ErrorIs(t, err, measurement.ErrStorageUnavailable)
	assert.Equal(t, 0, result.Saved)
}

func TestPersistBatch_InsertRejectionIsPerRecord(t *testing.T) {
	svc, repo := newTestService(t)
	repo.SetInsertError(errors.New("check constraint violated"))

	rec := measurement.NewRecord("PM10", measurement.CategoryAirQuality, 10, measurement.UnitMicrogramsPerM3, moscow, time.Now())
	result, err := svc.PersistBatch(context.Background(), []measurement.Record{rec}, testSource)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Saved)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "check constraint violated")
}

func TestPersistBatch_CancelledContext(t *testing.T) {
	svc, _ := newTestService(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec := measurement.NewRecord("PM10", measurement.CategoryAirQuality, 10, measurement.UnitMicrogramsPerM3, moscow, time.Now())
	_, err := svc.PersistBatch(ctx, []measurement.Record{rec}, testSource)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, err, measurement.ErrBatchInterrupted)
	assert.NotErrorIs(t, err, measurement.ErrStorageUnavailable)
}

func TestPersistBatch_DeadlineIsNotStorageFailure(t *testing.T) {
	svc, repo := newTestService(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()
	<-ctx.Done()

	rec := measurement.NewRecord("PM10", measurement.CategoryAirQuality, 10, measurement.UnitMicrogramsPerM3, moscow, time.Now())
	result, err := svc.PersistBatch(ctx, []measurement.Record{rec, rec}, testSource)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.ErrorIs(t, err, measurement.ErrBatchInterrupted)
	assert.NotErrorIs(t, err, measurement.ErrStorageUnavailable)
	assert.Equal(t, 0, result.Saved)
	assert.Empty(t, repo.Measurements())
}

// lookupCounter counts location lookups reaching the repository.
type lookupCounter struct {
	*measurement.InMemoryRepository
	lookups int
}

func (r *lookupCounter) FindLocation(ctx context.Context, lat, lon float64) (*measurement.Location, error) {
	r.lookups++
	return r.InMemoryRepository.FindLocation(ctx, lat, lon)
}

func TestPersistBatch_LocationCacheUsesExactCoordinates(t *testing.T) {
	repo := &lookupCounter{InMemoryRepository: measurement.NewInMemoryRepository(measurement.SeedCatalog()...)}
	svc := measurement.NewService(measurement.ServiceConfig{Repository: repo, Logger: zerolog.Nop()})
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	near := measurement.Point{Lat: 55.755801, Lon: 37.617302}
	records := []measurement.Record{
		measurement.NewRecord("PM10", measurement.CategoryAirQuality, 10, measurement.UnitMicrogramsPerM3, moscow, ts),
		measurement.NewRecord("PM2.5", measurement.CategoryAirQuality, 5, measurement.UnitMicrogramsPerM3, moscow, ts),
		measurement.NewRecord("PM10", measurement.CategoryAirQuality, 11, measurement.UnitMicrogramsPerM3, near, ts),
	}

	result, err := svc.PersistBatch(context.Background(), records, testSource)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Saved)

	// The repeated point is served from the batch cache; the nearby point
	// is resolved by the repository, which maps it to the same location.
	assert.Equal(t, 2, repo.lookups)
	assert.Equal(t, 1, repo.LocationCount())
}

func TestResolveLocation_Dedup(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	id1, err := svc.ResolveLocation(ctx, 55.7558, 37.6173, "")
	require.NoError(t, err)

	id2, err := svc.ResolveLocation(ctx, 55.755801, 37.617302, "")
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	id3, err := svc.ResolveLocation(ctx, 55.75581, 37.6173, "")
	require.NoError(t, err)
	assert.NotEqual(t, id1, id3)

	assert.Equal(t, 2, repo.LocationCount())

	loc, err := repo.FindLocation(ctx, 55.7558, 37.6173)
	require.NoError(t, err)
	assert.Equal(t, "Point (55.75580, 37.61730)", loc.Name)
	assert.Equal(t, 55.7558, loc.Lat)
}

func TestResolveLocation_InvalidCoordinates(t *testing.T) {
	svc, repo := newTestService(t)

	_, err := svc.ResolveLocation(context.Background(), 91, 0, "")
	assert.ErrorIs(t, err, measurement.ErrInvalidCoordinates)
	assert.Equal(t, 0, repo.LocationCount())
}

func TestResolveSource_Idempotent(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	id1, err := svc.ResolveSource(ctx, testSource)
	require.NoError(t, err)
	id2, err := svc.ResolveSource(ctx, testSource)
	require.NoError(t, err)

	assert.Equal(t, id1, id2)
	assert.Equal(t, 1, repo.SourceCount())
}

func TestResolveParameterID(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	id, found, err := svc.ResolveParameterID(ctx, "PM2.5", measurement.CategoryAirQuality)
	require.NoError(t, err)
	assert.True(t, found)
	assert.NotZero(t, id)

	_, found, err = svc.ResolveParameterID(ctx, "PM2.5", measurement.CategoryWeather)
	require.NoError(t, err)
	assert.False(t, found)

	_, found, err = svc.ResolveParameterID(ctx, "radon", measurement.CategoryAirQuality)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRecordMissingFields(t *testing.T) {
	assert.Equal(t,
		[]string{"parameter_name", "category", "value", "latitude", "longitude"},
		measurement.Record{}.MissingFields(),
	)

	rec := measurement.NewRecord("PM10", measurement.CategoryAirQuality, 0, "", moscow, time.Time{})
	assert.Empty(t, rec.MissingFields())
}

func TestPointSlug(t *testing.T) {
	assert.Equal(t, "red_square", measurement.Point{Name: "Red Square"}.Slug())
	assert.Equal(t, "55.75580_37.61730", measurement.Point{Lat: 55.7558, Lon: 37.6173}.Slug())
}
