package measurement

import (
	"math"

	"github.com/rs/zerolog"
)

// Normalize repairs v so it satisfies the domain of kind. It reports whether
// the value was changed.
func Normalize(kind ValueKind, v float64) (float64, bool) {
	switch kind {
	case KindSigned:
		return v, false
	case KindCircular:
		w := WrapDegrees(v)
		return w, w != v
	default:
		if v < 0 {
			return 0, true
		}
		return v, false
	}
}

// WrapDegrees maps v into [0, 360) preserving v modulo 360.
func WrapDegrees(v float64) float64 {
	w := math.Mod(v, 360)
	if w < 0 {
		w += 360
	}
	// -0, and tiny negatives that round up to 360 after the shift.
	if w == 0 || w >= 360 {
		return 0
	}
	return w
}

// Normalizer converts upstream values into canonical units and repairs them
// per parameter, logging data-quality corrections.
type Normalizer struct {
	logger zerolog.Logger
}

// NewNormalizer creates a Normalizer.
func NewNormalizer(logger zerolog.Logger) *Normalizer {
	return &Normalizer{logger: logger}
}

// Apply converts raw with the mapping's unit factor and then normalizes it.
func (n *Normalizer) Apply(m ParameterMapping, raw float64) float64 {
	converted := m.Convert(raw)
	normalized, changed := Normalize(m.Kind, converted)
	if !changed {
		return normalized
	}

	if m.Kind == KindCircular {
		n.logger.Info().
			Str("parameter", m.Name).
			Float64("raw", converted).
			Float64("normalized", normalized).
			Msg("wrapped circular value")
	} else {
		n.logger.Warn().
			Str("parameter", m.Name).
			Str("upstream_key", m.UpstreamKey).
			Float64("raw", converted).
			Msg("negative value clamped to zero")
	}
	return normalized
}
