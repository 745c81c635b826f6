// Package measurement provides the canonical measurement model, value
// normalization and idempotent persistence against the location/parameter/
// source dimensions.
package measurement

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// Persistence errors.
var (
	ErrParameterNotFound   = errors.New("parameter not found")
	ErrLocationNotFound    = errors.New("location not found")
	ErrSourceNotFound      = errors.New("data source not found")
	ErrMeasurementNotFound = errors.New("measurement not found")
	ErrStorageUnavailable  = errors.New("storage unavailable")
	ErrBatchInterrupted    = errors.New("batch interrupted")
	ErrInvalidCoordinates  = errors.New("invalid coordinates")
	ErrInvalidValue        = errors.New("invalid value")
)

// Category groups parameters by the kind of observation.
type Category string

const (
	CategoryAirQuality Category = "air_quality"
	CategoryWeather    Category = "weather"
)

// Parameter is a curated, canonical environmental parameter.
type Parameter struct {
	ID             int64
	Name           string
	Unit           string
	Category       Category
	SafeLimit      *float64
	AllowsNegative bool
}

// Location is a monitoring point. Its identity is the coordinate pair
// rounded to CoordinatePrecision decimals.
type Location struct {
	ID        int64
	Name      string
	Lat       float64
	Lon       float64
	District  string
	IsActive  bool
	CreatedAt time.Time
}

// DataSource is an upstream system measurements originate from.
type DataSource struct {
	ID          int64
	Name        string
	URL         string
	Description string
}

// Measurement is a persisted fact row.
type Measurement struct {
	ID          int64
	LocationID  int64
	ParameterID int64
	SourceID    *int64
	Value       float64
	MeasuredAt  time.Time
	CreatedAt   time.Time
	ExtraData   map[string]any
}

// Point is a named geographic coordinate that data is requested for.
type Point struct {
	Name string
	Lat  float64
	Lon  float64
}

// Valid reports whether the point is a valid Earth coordinate.
func (p Point) Valid() bool {
	return ValidCoordinates(p.Lat, p.Lon)
}

// Slug returns a lowercase identifier derived from the point name, or from
// its rounded coordinates when unnamed.
func (p Point) Slug() string {
	if p.Name == "" {
		return fmt.Sprintf("%.5f_%.5f", RoundCoordinate(p.Lat), RoundCoordinate(p.Lon))
	}
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(p.Name), " ", "_"))
}

// Record is the canonical measurement produced by a response parser and
// consumed by the persistence adapter. Value, Latitude and Longitude are
// pointers so that an absent field can be told apart from a zero.
type Record struct {
	ParameterName string
	Category      Category
	Value         *float64
	Unit          string
	Latitude      *float64
	Longitude     *float64

	// Timestamp is the observation time. Zero means "unknown" and the
	// ingestion time is used instead.
	Timestamp time.Time

	ExternalID  string
	StationName string

	// Metadata holds open-ended attributes folded into the persisted
	// extra data map.
	Metadata map[string]any
}

// NewRecord builds a record with every required field set.
func NewRecord(name string, category Category, value float64, unit string, p Point, ts time.Time) Record {
	return Record{
		ParameterName: name,
		Category:      category,
		Value:         Float(value),
		Unit:          unit,
		Latitude:      Float(p.Lat),
		Longitude:     Float(p.Lon),
		Timestamp:     ts,
	}
}

// MissingFields returns the names of required fields that are absent, in
// a fixed order.
func (r Record) MissingFields() []string {
	var missing []string
	if r.ParameterName == "" {
		missing = append(missing, "parameter_name")
	}
	if r.Category == "" {
		missing = append(missing, "category")
	}
	if r.Value == nil {
		missing = append(missing, "value")
	}
	if r.Latitude == nil {
		missing = append(missing, "latitude")
	}
	if r.Longitude == nil {
		missing = append(missing, "longitude")
	}
	return missing
}

// ExtraData assembles the opaque metadata map persisted alongside the fact
// row. Returns nil when there is nothing to store.
func (r Record) ExtraData() map[string]any {
	extra := make(map[string]any, len(r.Metadata)+2)
	for k, v := range r.Metadata {
		extra[k] = v
	}
	if r.ExternalID != "" {
		extra["external_id"] = r.ExternalID
	}
	if r.StationName != "" {
		extra["station_name"] = r.StationName
	}
	if len(extra) == 0 {
		return nil
	}
	return extra
}

// SourceInfo describes the data source a batch is persisted under.
type SourceInfo struct {
	Name        string
	URL         string
	Description string
}

// Batch is the output of one fetcher run before persistence.
type Batch struct {
	Source  SourceInfo
	Records []Record

	// Errors are non-fatal problems found while collecting, such as a grid
	// point whose response had no time series.
	Errors []string
}

// Float returns a pointer to v.
func Float(v float64) *float64 {
	return &v
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
