package openmeteo

import (
	"encoding/json"
	"fmt"
	"time"
)

// timeKey is the hourly field holding the ISO-8601 timestamps.
const timeKey = "time"

// HourlyResponse is one forecast/air-quality/archive response object. Open-Meteo
// returns an array of these for multi-coordinate requests, in request order.
type HourlyResponse struct {
	Latitude         float64 `json:"latitude"`
	Longitude        float64 `json:"longitude"`
	Elevation        float64 `json:"elevation"`
	UTCOffsetSeconds int     `json:"utc_offset_seconds"`
	Timezone         string  `json:"timezone"`

	// Hourly holds the parallel series keyed by upstream field name. Values
	// are decoded lazily so one malformed series does not spoil the rest.
	Hourly map[string]json.RawMessage `json:"hourly"`

	HourlyUnits map[string]string `json:"hourly_units"`

	// Error and Reason are set on error payloads.
	Error  bool   `json:"error"`
	Reason string `json:"reason"`
}

// Location returns the zone naive timestamps in this response are expressed
// in.
func (r *HourlyResponse) Location() *time.Location {
	if r.UTCOffsetSeconds == 0 && (r.Timezone == "" || r.Timezone == "GMT" || r.Timezone == "UTC") {
		return time.UTC
	}
	return time.FixedZone(r.Timezone, r.UTCOffsetSeconds)
}

// Times decodes the timestamp series. It reports false when the series is
// absent.
func (r *HourlyResponse) Times() ([]string, bool, error) {
	raw, ok := r.Hourly[timeKey]
	if !ok {
		return nil, false, nil
	}
	var times []string
	if err := json.Unmarshal(raw, &times); err != nil {
		return nil, true, fmt.Errorf("decode %s: %w", timeKey, err)
	}
	return times, true, nil
}

// Series decodes the values of key. Nulls decode to nil entries. It reports
// false when the key is absent.
func (r *HourlyResponse) Series(key string) ([]*float64, bool, error) {
	raw, ok := r.Hourly[key]
	if !ok {
		return nil, false, nil
	}
	var values []*float64
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil, true, fmt.Errorf("decode %s: %w", key, err)
	}
	return values, true, nil
}
