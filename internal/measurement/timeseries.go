package measurement

import (
	"fmt"
	"strings"
	"time"
)

// Sample is a single non-null observation from an hourly series.
type Sample struct {
	Value float64
	Time  time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

// ParseTimestamp parses an ISO-8601 timestamp. A trailing "Z" is read as
// +00:00. Timestamps without a zone are interpreted in loc (UTC if nil).
func ParseTimestamp(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	s = strings.TrimSpace(s)
	if strings.HasSuffix(s, "Z") {
		s = strings.TrimSuffix(s, "Z") + "+00:00"
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}

// LatestSample scans values and timestamps from the most recent entry
// backwards and returns the first entry with a present value and a
// parseable timestamp. It reports false when the series are empty, differ in
// length, or hold no usable entry.
func LatestSample(values []*float64, timestamps []string, loc *time.Location) (Sample, bool) {
	if len(values) == 0 || len(timestamps) == 0 || len(values) != len(timestamps) {
		return Sample{}, false
	}

	for i := len(values) - 1; i >= 0; i-- {
		if values[i] == nil {
			continue
		}
		t, err := ParseTimestamp(timestamps[i], loc)
		if err != nil {
			continue
		}
		return Sample{Value: *values[i], Time: t}, true
	}

	return Sample{}, false
}

// Samples returns every usable entry at indices 0, step, 2*step, ... in
// chronological order. Used for historical backfill.
func Samples(values []*float64, timestamps []string, loc *time.Location, step int) []Sample {
	if step <= 0 {
		step = 1
	}
	n := len(timestamps)
	if len(values) < n {
		n = len(values)
	}

	var out []Sample
	for i := 0; i < n; i += step {
		if values[i] == nil {
			continue
		}
		t, err := ParseTimestamp(timestamps[i], loc)
		if err != nil {
			continue
		}
		out = append(out, Sample{Value: *values[i], Time: t})
	}
	return out
}
