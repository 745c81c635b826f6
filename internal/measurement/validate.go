package measurement

import (
	"fmt"
	"math"
)

// CoordinatePrecision is the number of decimals that define location
// identity (about one meter).
const CoordinatePrecision = 5

// DefaultValueCeiling bounds parameters without an explicit limit.
const DefaultValueCeiling = 1e6

var valueCeilings = map[string]float64{
	"PM2.5": 1000,
	"PM10":  2000,
	"NO2":   1000,
	"SO2":   1000,
	"CO":    100,
	"O3":    500,
}

// ValidCoordinates reports whether lat/lon is a valid Earth coordinate.
func ValidCoordinates(lat, lon float64) bool {
	return finite(lat) && finite(lon) &&
		lat >= -90 && lat <= 90 &&
		lon >= -180 && lon <= 180
}

// RoundCoordinate rounds c to CoordinatePrecision decimals.
func RoundCoordinate(c float64) float64 {
	const scale = 1e5
	return math.Round(c*scale) / scale
}

// ValueCeiling returns the largest plausible value for a parameter.
func ValueCeiling(name string) float64 {
	if c, ok := valueCeilings[name]; ok {
		return c
	}
	return DefaultValueCeiling
}

// ValidateValue checks that v is finite, within the parameter's plausible
// ceiling, and non-negative unless the parameter allows negative values.
func ValidateValue(name string, v float64) error {
	if !finite(v) {
		return fmt.Errorf("%w: %s is not a finite number", ErrInvalidValue, name)
	}
	if v < 0 && KindOf(name) != KindSigned {
		return fmt.Errorf("%w: negative value %g for %s", ErrInvalidValue, v, name)
	}
	if ceiling := ValueCeiling(name); math.Abs(v) > ceiling {
		return fmt.Errorf("%w: %g exceeds plausible limit %g for %s", ErrInvalidValue, v, ceiling, name)
	}
	return nil
}
