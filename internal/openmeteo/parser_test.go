package openmeteo_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecomonitor/ecomonitor/internal/measurement"
	"github.com/ecomonitor/ecomonitor/internal/openmeteo"
)

var (
	center = measurement.Point{Name: "Center", Lat: 55.7558, Lon: 37.6173}
	north  = measurement.Point{Name: "North", Lat: 55.85, Lon: 37.6}
)

// hourlyPayload builds a response object for point p with the given series.
func hourlyPayload(p measurement.Point, offset int, tz string, series map[string]any) map[string]any {
	return map[string]any{
		"latitude":           p.Lat,
		"longitude":          p.Lon,
		"utc_offset_seconds": offset,
		"timezone":           tz,
		"hourly":             series,
	}
}

func decode(t *testing.T, v any) openmeteo.HourlyResponse {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	var resp openmeteo.HourlyResponse
	require.NoError(t, json.Unmarshal(raw, &resp))
	return resp
}

func byName(records []measurement.Record) map[string]measurement.Record {
	out := make(map[string]measurement.Record, len(records))
	for _, r := range records {
		out[r.ParameterName] = r
	}
	return out
}

func airQualityParser() *openmeteo.Parser {
	return openmeteo.NewParser(openmeteo.ParserConfig{
		Mappings: measurement.AirQualityMappings(),
		Logger:   zerolog.Nop(),
	})
}

func TestParsePoint_LatestNonNull(t *testing.T) {
	resp := decode(t, hourlyPayload(center, 0, "GMT", map[string]any{
		"time":            []string{"2024-03-01T10:00", "2024-03-01T11:00", "2024-03-01T12:00"},
		"pm10":            []any{10, nil, 12},
		"carbon_monoxide": []any{400, 500, nil},
		"ozone":           []any{nil, nil, nil},
	}))

	records, err := airQualityParser().ParsePoint(&resp, center)
	require.NoError(t, err)
	require.Len(t, records, 2)

	got := byName(records)

	pm10 := got["PM10"]
	require.NotNil(t, pm10.Value)
	assert.Equal(t, 12.0, *pm10.Value)
	assert.Equal(t, measurement.CategoryAirQuality, pm10.Category)
	assert.Equal(t, measurement.UnitMicrogramsPerM3, pm10.Unit)
	assert.True(t, time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC).Equal(pm10.Timestamp))
	assert.Equal(t, center.Lat, *pm10.Latitude)
	assert.Equal(t, center.Lon, *pm10.Longitude)
	assert.Equal(t, "open_meteo_center", pm10.ExternalID)
	assert.Equal(t, "Center", pm10.StationName)
	assert.Equal(t, "pm10", pm10.Metadata["upstream_key"])

	co := got["CO"]
	assert.Equal(t, 0.5, *co.Value)
	assert.Equal(t, measurement.UnitMilligramsPerM3, co.Unit)
	assert.Equal(t, 11, co.Timestamp.Hour())

	_, hasOzone := got["O3"]
	assert.False(t, hasOzone, "all-null series is skipped")
}

func TestParsePoint_LocalTimestamps(t *testing.T) {
	resp := decode(t, hourlyPayload(center, 3*3600, "Europe/Moscow", map[string]any{
		"time": []string{"2024-03-01T12:00"},
		"pm10": []any{8},
	}))

	records, err := airQualityParser().ParsePoint(&resp, center)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.True(t, time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC).Equal(records[0].Timestamp))
}

func TestParsePoint_StructuralErrors(t *testing.T) {
	noHourly := decode(t, map[string]any{"latitude": 55.75, "longitude": 37.62})
	_, err := airQualityParser().ParsePoint(&noHourly, center)
	assert.ErrorIs(t, err, openmeteo.ErrNoHourlyData)

	noTime := decode(t, hourlyPayload(center, 0, "GMT", map[string]any{"pm10": []any{1}}))
	_, err = airQualityParser().ParsePoint(&noTime, center)
	assert.ErrorIs(t, err, openmeteo.ErrNoTimeSeries)

	badTime := decode(t, hourlyPayload(center, 0, "GMT", map[string]any{"time": 42, "pm10": []any{1}}))
	_, err = airQualityParser().ParsePoint(&badTime, center)
	assert.ErrorIs(t, err, openmeteo.ErrNoTimeSeries)
}

func TestParsePoint_MalformedSeriesSkipped(t *testing.T) {
	resp := decode(t, hourlyPayload(center, 0, "GMT", map[string]any{
		"time":  []string{"2024-03-01T12:00"},
		"pm10":  []any{"high"},
		"pm2_5": []any{4.2},
	}))

	records, err := airQualityParser().ParsePoint(&resp, center)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "PM2.5", records[0].ParameterName)
}

func TestParsePoint_WeatherNormalizationAndContext(t *testing.T) {
	parser := openmeteo.NewParser(openmeteo.ParserConfig{
		Mappings:          measurement.WeatherMappings(),
		ContextParameters: []string{"wind_speed", "wind_direction"},
		Logger:            zerolog.Nop(),
	})
	resp := decode(t, hourlyPayload(center, 0, "GMT", map[string]any{
		"time":               []string{"2024-01-10T06:00"},
		"temperature_2m":     []any{-12.5},
		"wind_direction_10m": []any{-15},
		"wind_speed_10m":     []any{3.4},
		"precipitation":      []any{-0.1},
	}))

	records, err := parser.ParsePoint(&resp, center)
	require.NoError(t, err)
	got := byName(records)

	assert.Equal(t, -12.5, *got["temperature"].Value)
	assert.Equal(t, 345.0, *got["wind_direction"].Value)
	assert.Equal(t, 0.0, *got["precipitation"].Value)

	assert.Equal(t, 3.4, got["temperature"].Metadata["wind_speed"])
	assert.Equal(t, 345.0, got["temperature"].Metadata["wind_direction"])
	assert.Equal(t, 345.0, got["wind_speed"].Metadata["wind_direction"])
	assert.NotContains(t, got["wind_speed"].Metadata, "wind_speed")
}

func TestParseMulti_PositionalAttribution(t *testing.T) {
	resps := []openmeteo.HourlyResponse{
		decode(t, hourlyPayload(center, 0, "GMT", map[string]any{
			"time": []string{"2024-03-01T12:00"},
			"pm10": []any{11},
		})),
		decode(t, hourlyPayload(north, 0, "GMT", map[string]any{
			"time": []string{"2024-03-01T12:00"},
			"pm10": []any{22},
		})),
	}

	records, skipped, err := airQualityParser().ParseMulti(resps, []measurement.Point{center, north})
	require.NoError(t, err)
	assert.Empty(t, skipped)
	require.Len(t, records, 2)

	assert.Equal(t, 11.0, *records[0].Value)
	assert.Equal(t, center.Lat, *records[0].Latitude)
	assert.Equal(t, 22.0, *records[1].Value)
	assert.Equal(t, north.Lat, *records[1].Latitude)
	assert.Equal(t, "open_meteo_north", records[1].ExternalID)
}

func TestParseMulti_CountMismatch(t *testing.T) {
	resps := []openmeteo.HourlyResponse{
		decode(t, hourlyPayload(center, 0, "GMT", map[string]any{
			"time": []string{"2024-03-01T12:00"},
			"pm10": []any{11},
		})),
	}

	records, _, err := airQualityParser().ParseMulti(resps, []measurement.Point{center, north})
	assert.ErrorIs(t, err, openmeteo.ErrPointCountMismatch)
	assert.Empty(t, records)
}

func TestParseMulti_SkipsPointWithoutHourly(t *testing.T) {
	resps := []openmeteo.HourlyResponse{
		decode(t, map[string]any{"latitude": center.Lat, "longitude": center.Lon}),
		decode(t, hourlyPayload(north, 0, "GMT", map[string]any{
			"time": []string{"2024-03-01T12:00"},
			"pm10": []any{22},
		})),
	}

	records, skipped, err := airQualityParser().ParseMulti(resps, []measurement.Point{center, north})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, north.Lat, *records[0].Latitude)
	require.Len(t, skipped, 1)
	assert.Contains(t, skipped[0], "Center")
	assert.Contains(t, skipped[0], "no hourly data")
}

func TestParsePoint_SeriesMode(t *testing.T) {
	parser := openmeteo.NewParser(openmeteo.ParserConfig{
		Mappings: measurement.AirQualityMappings(),
		Step:     2,
		Logger:   zerolog.Nop(),
	})
	resp := decode(t, hourlyPayload(center, 0, "GMT", map[string]any{
		"time": []string{"2024-03-01T00:00", "2024-03-01T01:00", "2024-03-01T02:00", "2024-03-01T03:00"},
		"pm10": []any{1, 2, 3, 4},
	}))

	records, err := parser.ParsePoint(&resp, center)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, 1.0, *records[0].Value)
	assert.Equal(t, 3.0, *records[1].Value)
}
