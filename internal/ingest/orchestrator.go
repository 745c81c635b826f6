// Package ingest runs fetchers and hands their batches to persistence,
// isolating each fetcher so that one failure never affects another.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ecomonitor/ecomonitor/internal/measurement"
)

// DefaultConcurrency is the number of fetchers run in parallel.
const DefaultConcurrency = 2

// ErrUnknownFetcher is returned when a run names a fetcher that is not
// registered.
var ErrUnknownFetcher = errors.New("unknown fetcher")

// Fetcher collects one batch of canonical records from an upstream source.
type Fetcher interface {
	Name() string
	Collect(ctx context.Context) (*measurement.Batch, error)
}

// Persister stores a batch of records under a data source.
type Persister interface {
	PersistBatch(ctx context.Context, records []measurement.Record, src measurement.SourceInfo) (measurement.BatchResult, error)
}

var _ Persister = (*measurement.Service)(nil)

// Config holds configuration for creating an Orchestrator.
type Config struct {
	Fetchers  []Fetcher
	Persister Persister

	// Concurrency bounds how many fetchers run at once. Default: 2.
	Concurrency int

	// FetcherTimeout bounds one fetcher run including persistence. Zero
	// means no per-fetcher deadline.
	FetcherTimeout time.Duration

	// Metrics is optional.
	Metrics *Metrics
	Logger  zerolog.Logger
}

// Orchestrator runs registered fetchers and persists what they produce.
type Orchestrator struct {
	fetchers    map[string]Fetcher
	order       []string
	persister   Persister
	concurrency int
	timeout     time.Duration
	metrics     *Metrics
	logger      zerolog.Logger
	tracer      trace.Tracer

	mu   sync.RWMutex
	last *Summary
}

// New creates an orchestrator. Fetcher names must be unique.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Persister == nil {
		return nil, errors.New("ingest: persister is required")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}

	o := &Orchestrator{
		fetchers:    make(map[string]Fetcher, len(cfg.Fetchers)),
		persister:   cfg.Persister,
		concurrency: cfg.Concurrency,
		timeout:     cfg.FetcherTimeout,
		metrics:     cfg.Metrics,
		logger:      cfg.Logger,
		tracer:      otel.Tracer(instrumentationName),
	}
	for _, f := range cfg.Fetchers {
		name := f.Name()
		if _, dup := o.fetchers[name]; dup {
			return nil, fmt.Errorf("ingest: duplicate fetcher %q", name)
		}
		o.fetchers[name] = f
		o.order = append(o.order, name)
	}
	return o, nil
}

// Names returns the registered fetcher names in registration order.
func (o *Orchestrator) Names() []string {
	return append([]string(nil), o.order...)
}

// LastRun returns the summary of the most recent run, or nil.
func (o *Orchestrator) LastRun() *Summary {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.last
}

// RunAll runs every registered fetcher.
func (o *Orchestrator) RunAll(ctx context.Context) *Summary {
	return o.RunFetchers(ctx, o.fetchersByName(o.order))
}

// RunOne runs a single fetcher by name. An unknown name yields an error
// result along with ErrUnknownFetcher.
func (o *Orchestrator) RunOne(ctx context.Context, name string) (Result, error) {
	if _, ok := o.fetchers[name]; !ok {
		err := fmt.Errorf("%w: %s", ErrUnknownFetcher, name)
		return failed(err.Error()), err
	}
	summary := o.RunFetchers(ctx, o.fetchersByName([]string{name}))
	return summary.Results[name], nil
}

// Run runs the named fetchers, or all of them when names is empty.
func (o *Orchestrator) Run(ctx context.Context, names ...string) (*Summary, error) {
	if len(names) == 0 {
		return o.RunAll(ctx), nil
	}
	for _, name := range names {
		if _, ok := o.fetchers[name]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownFetcher, name)
		}
	}
	return o.RunFetchers(ctx, o.fetchersByName(names)), nil
}

func (o *Orchestrator) fetchersByName(names []string) []Fetcher {
	out := make([]Fetcher, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		if seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, o.fetchers[name])
	}
	return out
}

type fetcherResult struct {
	name   string
	result Result
}

// RunFetchers runs the given fetchers on a bounded worker pool. Every fetcher
// gets an entry in the summary, including ones that panicked or never started
// because ctx was cancelled.
func (o *Orchestrator) RunFetchers(ctx context.Context, fetchers []Fetcher) *Summary {
	summary := &Summary{
		RunID:     uuid.New().String(),
		StartedAt: time.Now().UTC(),
		Results:   make(map[string]Result, len(fetchers)),
	}

	names := make([]string, len(fetchers))
	for i, f := range fetchers {
		names[i] = f.Name()
	}
	sort.Strings(names)

	o.logger.Info().
		Str("run_id", summary.RunID).
		Strs("fetchers", names).
		Int("concurrency", o.concurrency).
		Msg("starting ingest run")

	jobs := make(chan Fetcher, len(fetchers))
	results := make(chan fetcherResult, len(fetchers))

	workers := min(o.concurrency, len(fetchers))
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o.worker(ctx, jobs, results)
		}()
	}

	for _, f := range fetchers {
		jobs <- f
	}
	close(jobs)

	go func() {
		wg.Wait()
		close(results)
	}()

	for fr := range results {
		summary.Results[fr.name] = fr.result
	}

	summary.FinishedAt = time.Now().UTC()

	if o.metrics != nil {
		o.metrics.recordRun(summary)
	}
	summary.Log(o.logger)

	o.mu.Lock()
	o.last = summary
	o.mu.Unlock()

	return summary
}

func (o *Orchestrator) worker(ctx context.Context, jobs <-chan Fetcher, results chan<- fetcherResult) {
	for f := range jobs {
		name := f.Name()
		if err := ctx.Err(); err != nil {
			results <- fetcherResult{name: name, result: failed(fmt.Sprintf("fetcher not started: %v", err))}
			continue
		}
		results <- fetcherResult{name: name, result: o.runFetcher(ctx, f)}
	}
}

// runFetcher collects and persists one fetcher's batch. Panics are recovered
// into an error result.
func (o *Orchestrator) runFetcher(ctx context.Context, f Fetcher) (result Result) {
	name := f.Name()
	start := time.Now()

	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	ctx, span := o.tracer.Start(ctx, "ingest.fetcher",
		trace.WithAttributes(attribute.String("fetcher", name)),
	)

	logger := o.logger.With().Str("fetcher", name).Logger()

	defer func() {
		if rec := recover(); rec != nil {
			logger.Error().
				Interface("panic", rec).
				Bytes("stack", debug.Stack()).
				Msg("fetcher panicked")
			result = failed(fmt.Sprintf("fetcher panicked: %v", rec))
		}
		if result.Errors == nil {
			result.Errors = []string{}
		}
		result.Duration = time.Since(start)

		span.SetAttributes(
			attribute.Int("records.received", result.Received),
			attribute.Int("records.saved", result.Saved),
			attribute.Int("errors", len(result.Errors)),
		)
		if result.Status() == StatusErrors {
			span.SetStatus(codes.Error, result.Errors[0])
		}
		span.End()

		if o.metrics != nil {
			o.metrics.recordFetcher(ctx, name, result)
		}
	}()

	logger.Info().Msg("collecting")

	batch, err := f.Collect(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("fetch failed")
		return failed(err.Error())
	}
	if batch == nil || len(batch.Records) == 0 {
		logger.Warn().Msg("fetcher returned no records")
		r := Result{}
		if batch != nil {
			r.Errors = append(r.Errors, batch.Errors...)
		}
		return r
	}

	result.Received = len(batch.Records)
	result.Errors = append(result.Errors, batch.Errors...)

	persisted, err := o.persister.PersistBatch(ctx, batch.Records, batch.Source)
	result.Saved = persisted.Saved
	result.Errors = append(result.Errors, persisted.Errors...)
	switch {
	case err == nil:
	case errors.Is(err, measurement.ErrStorageUnavailable):
		logger.Error().Err(err).Int("saved", persisted.Saved).Msg("persistence aborted")
		result.StorageFailure = true
		result.Errors = append(result.Errors, fmt.Sprintf("storage: %v", err))
	default:
		logger.Warn().Err(err).Int("saved", persisted.Saved).Msg("persistence stopped early")
		result.Errors = append(result.Errors, fmt.Sprintf("persist: %v", err))
	}

	return result
}
