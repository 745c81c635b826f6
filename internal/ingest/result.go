package ingest

import (
	"sort"
	"time"

	"github.com/rs/zerolog"
)

// Exit codes for batch invocations.
const (
	ExitOK           = 0
	ExitWithErrors   = 1
	ExitNothingSaved = 2
	ExitCritical     = 3
)

// maxReportedErrors caps how many error lines a report logs per fetcher.
const maxReportedErrors = 10

// Fetcher run states.
const (
	StatusOK      = "ok"
	StatusPartial = "partial"
	StatusErrors  = "errors"
	StatusNoData  = "no_data"
)

// Result is the outcome of one fetcher run.
type Result struct {
	Received int      `json:"received"`
	Saved    int      `json:"saved"`
	Errors   []string `json:"errors"`

	// StorageFailure is set when persistence was aborted because the store
	// could not be reached.
	StorageFailure bool `json:"storage_failure,omitempty"`

	Duration time.Duration `json:"-"`
}

func failed(msg string) Result {
	return Result{Errors: []string{msg}}
}

// Status classifies the result for reporting.
func (r Result) Status() string {
	switch {
	case len(r.Errors) > 0:
		return StatusErrors
	case r.Received > 0 && r.Saved == r.Received:
		return StatusOK
	case r.Saved < r.Received:
		return StatusPartial
	default:
		return StatusNoData
	}
}

// Summary aggregates the results of one orchestrator run, keyed by fetcher
// name.
type Summary struct {
	RunID      string            `json:"run_id"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
	Results    map[string]Result `json:"results"`
}

// Totals holds the summed counters of a Summary.
type Totals struct {
	Received int `json:"received"`
	Saved    int `json:"saved"`
	Errors   int `json:"errors"`
}

// Totals sums received, saved and error counts over all fetchers.
func (s *Summary) Totals() Totals {
	var t Totals
	for _, r := range s.Results {
		t.Received += r.Received
		t.Saved += r.Saved
		t.Errors += len(r.Errors)
	}
	return t
}

// SuccessRate is saved/received as a percentage, or 0 when nothing was
// received.
func (s *Summary) SuccessRate() float64 {
	t := s.Totals()
	if t.Received == 0 {
		return 0
	}
	return float64(t.Saved) / float64(t.Received) * 100
}

// ExitCode maps the run outcome onto the batch job exit code: any error
// yields ExitWithErrors, otherwise nothing saved yields ExitNothingSaved.
func (s *Summary) ExitCode() int {
	t := s.Totals()
	switch {
	case t.Errors > 0:
		return ExitWithErrors
	case t.Saved == 0:
		return ExitNothingSaved
	default:
		return ExitOK
	}
}

// Names returns the fetcher names in the summary, sorted.
func (s *Summary) Names() []string {
	names := make([]string, 0, len(s.Results))
	for name := range s.Results {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Log writes a per-fetcher report and the aggregate totals.
func (s *Summary) Log(logger zerolog.Logger) {
	for _, name := range s.Names() {
		r := s.Results[name]

		event := logger.Info()
		if len(r.Errors) > 0 {
			event = logger.Warn()
		}
		event.
			Str("run_id", s.RunID).
			Str("fetcher", name).
			Str("status", r.Status()).
			Int("received", r.Received).
			Int("saved", r.Saved).
			Int("errors", len(r.Errors)).
			Dur("duration", r.Duration).
			Msg("fetcher report")

		for i, msg := range r.Errors {
			if i == maxReportedErrors {
				logger.Warn().
					Str("fetcher", name).
					Int("omitted", len(r.Errors)-maxReportedErrors).
					Msg("further errors omitted")
				break
			}
			logger.Warn().Str("fetcher", name).Msg(msg)
		}
	}

	t := s.Totals()
	logger.Info().
		Str("run_id", s.RunID).
		Int("received", t.Received).
		Int("saved", t.Saved).
		Int("errors", t.Errors).
		Float64("success_pct", s.SuccessRate()).
		Dur("duration", s.FinishedAt.Sub(s.StartedAt)).
		Int("exit_code", s.ExitCode()).
		Msg("ingest run summary")
}
