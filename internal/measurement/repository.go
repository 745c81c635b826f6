package measurement

import (
	"context"
	"math"
)

// Repository defines the storage operations the persistence adapter needs.
type Repository interface {
	// UpsertSource returns the id of the data source with the given name,
	// creating it if absent. Must be atomic under concurrent callers.
	UpsertSource(ctx context.Context, src SourceInfo) (int64, error)

	// FindParameter looks up a curated parameter by name and category.
	// Returns ErrParameterNotFound if no such parameter exists.
	FindParameter(ctx context.Context, name string, category Category) (*Parameter, error)

	// FindLocation returns the location whose coordinates round to the same
	// CoordinatePrecision decimals as lat/lon.
	// Returns ErrLocationNotFound if there is none.
	FindLocation(ctx context.Context, lat, lon float64) (*Location, error)

	// CreateLocation inserts loc unless a location with the same rounded
	// coordinates exists, and returns the id of whichever row wins.
	CreateLocation(ctx context.Context, loc *Location) (int64, error)

	// InsertMeasurement inserts a fact row and sets its ID and CreatedAt.
	InsertMeasurement(ctx context.Context, m *Measurement) error

	// GetMeasurement retrieves a fact row by ID.
	// Returns ErrMeasurementNotFound if it doesn't exist.
	GetMeasurement(ctx context.Context, id int64) (*Measurement, error)
}

// coordinateKey is the rounded-coordinate identity of a location.
type coordinateKey struct {
	lat int64
	lon int64
}

func keyFor(lat, lon float64) coordinateKey {
	const scale = 1e5
	return coordinateKey{
		lat: int64(math.Round(lat * scale)),
		lon: int64(math.Round(lon * scale)),
	}
}
