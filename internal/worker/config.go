// Package worker runs ingestion jobs on a schedule and on demand from
// Pub/Sub messages.
package worker

import (
	"time"
)

// Config holds configuration for the background worker.
type Config struct {
	// Schedule is a cron expression evaluated in UTC. When empty, Interval
	// is used instead.
	Schedule string

	// Interval between scheduled ingest runs.
	// Default: 60 minutes
	Interval time.Duration

	// JobTimeout bounds a single job.
	// Default: 10 minutes
	JobTimeout time.Duration

	// BackfillDays is the window used when a backfill job does not name one.
	// Default: 90
	BackfillDays int

	// HistorySize is the number of finished jobs kept for inspection.
	// Default: 20
	HistorySize int
}

// DefaultConfig returns the default worker configuration.
func DefaultConfig() Config {
	return Config{
		Interval:     60 * time.Minute,
		JobTimeout:   10 * time.Minute,
		BackfillDays: 90,
		HistorySize:  20,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Interval <= 0 {
		c.Interval = def.Interval
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = def.JobTimeout
	}
	if c.BackfillDays <= 0 {
		c.BackfillDays = def.BackfillDays
	}
	if c.HistorySize <= 0 {
		c.HistorySize = def.HistorySize
	}
	return c
}
