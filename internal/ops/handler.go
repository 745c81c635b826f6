package ops

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/ecomonitor/ecomonitor/internal/ingest"
	"github.com/ecomonitor/ecomonitor/internal/provider/resilience"
	"github.com/ecomonitor/ecomonitor/internal/worker"
)

// Health status values.
const (
	HealthOK       = "ok"
	HealthDegraded = "degraded"
	HealthDown     = "down"
)

// RunSource exposes the most recent ingest run.
type RunSource interface {
	LastRun() *ingest.Summary
}

// JobRunner starts ingest runs and reports finished jobs.
type JobRunner interface {
	Ingest(ctx context.Context, names ...string) (*ingest.Summary, error)
	History() []worker.JobRecord
}

var (
	_ RunSource = (*ingest.Orchestrator)(nil)
	_ JobRunner = (*worker.Jobs)(nil)
)

// Health is the body of the liveness and readiness endpoints.
type Health struct {
	Status  string         `json:"status"`
	Time    time.Time      `json:"time"`
	Details map[string]any `json:"details,omitempty"`
}

// RunView is the JSON representation of an ingest run.
type RunView struct {
	RunID      string                `json:"run_id"`
	StartedAt  time.Time             `json:"started_at"`
	FinishedAt time.Time             `json:"finished_at"`
	Totals     ingest.Totals         `json:"totals"`
	SuccessPct float64               `json:"success_pct"`
	ExitCode   int                   `json:"exit_code"`
	Fetchers   map[string]FetcherRun `json:"fetchers"`
}

// FetcherRun is one fetcher's outcome within a RunView.
type FetcherRun struct {
	Status string `json:"status"`
	ingest.Result
}

// NewRunView converts a summary for output.
func NewRunView(s *ingest.Summary) RunView {
	v := RunView{
		RunID:      s.RunID,
		StartedAt:  s.StartedAt,
		FinishedAt: s.FinishedAt,
		Totals:     s.Totals(),
		SuccessPct: s.SuccessRate(),
		ExitCode:   s.ExitCode(),
		Fetchers:   make(map[string]FetcherRun, len(s.Results)),
	}
	for name, r := range s.Results {
		v.Fetchers[name] = FetcherRun{Status: r.Status(), Result: r}
	}
	return v
}

// ProviderView is the JSON representation of one upstream provider.
type ProviderView struct {
	Provider            string     `json:"provider"`
	Status              string     `json:"status"`
	CircuitState        string     `json:"circuit_state"`
	Requests            uint32     `json:"requests"`
	ConsecutiveFailures uint32     `json:"consecutive_failures"`
	LastSuccessAt       *time.Time `json:"last_success_at,omitempty"`
	LastFailureAt       *time.Time `json:"last_failure_at,omitempty"`
	LastError           string     `json:"last_error,omitempty"`
	LastErrorKind       string     `json:"last_error_kind,omitempty"`
}

// TriggerRequest is the optional body of POST /v1/ops/runs.
type TriggerRequest struct {
	Fetchers []string `json:"fetchers"`
}

// Handler serves the worker's operational endpoints.
type Handler struct {
	version  string
	runs     RunSource
	jobs     JobRunner
	registry *resilience.Registry
	database worker.Pinger
}

// HealthCheck handles GET /health - liveness check.
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, Health{
		Status:  HealthOK,
		Time:    time.Now().UTC(),
		Details: map[string]any{"version": h.version},
	})
}

// ReadinessCheck handles GET /v1/ops/ready. Storage must be reachable; open
// provider circuits degrade the status without failing readiness.
func (h *Handler) ReadinessCheck(w http.ResponseWriter, r *http.Request) {
	health := Health{Status: HealthOK, Time: time.Now().UTC(), Details: map[string]any{}}

	if h.database != nil {
		if err := h.database.Ping(r.Context()); err != nil {
			health.Status = HealthDown
			health.Details["database"] = err.Error()
			writeJSON(w, r, http.StatusServiceUnavailable, health)
			return
		}
		health.Details["database"] = HealthOK
	}
	if h.registry != nil && !h.registry.AllHealthy() {
		health.Status = HealthDegraded
	}

	writeJSON(w, r, http.StatusOK, health)
}

// LastRun handles GET /v1/ops/runs/last.
func (h *Handler) LastRun(w http.ResponseWriter, r *http.Request) {
	var last *ingest.Summary
	if h.runs != nil {
		last = h.runs.LastRun()
	}
	if last == nil {
		writeProblem(w, r, NewNotFound(GetRequestID(r.Context()), "no ingest run recorded yet"))
		return
	}
	writeJSON(w, r, http.StatusOK, NewRunView(last))
}

// ListRuns handles GET /v1/ops/runs - finished jobs, newest first.
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	history := []worker.JobRecord{}
	if h.jobs != nil {
		history = h.jobs.History()
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"jobs": history})
}

// TriggerRun handles POST /v1/ops/runs. The run executes synchronously and
// its summary is returned.
func (h *Handler) TriggerRun(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())
	if h.jobs == nil {
		writeProblem(w, r, NewServiceUnavailable(requestID, "ingest runs are not available"))
		return
	}

	var req TriggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeProblem(w, r, NewBadRequest(requestID, "invalid request body: "+err.Error()))
		return
	}

	summary, err := h.jobs.Ingest(r.Context(), req.Fetchers...)
	switch {
	case errors.Is(err, ingest.ErrUnknownFetcher):
		writeProblem(w, r, NewBadRequest(requestID, err.Error()))
		return
	case err != nil:
		writeProblem(w, r, NewInternalError(requestID, err.Error()))
		return
	}

	writeJSON(w, r, http.StatusOK, NewRunView(summary))
}

// Providers handles GET /v1/ops/providers - circuit breaker health per
// upstream provider.
func (h *Handler) Providers(w http.ResponseWriter, r *http.Request) {
	providers := []ProviderView{}
	if h.registry != nil {
		for _, ph := range h.registry.GetAllHealth() {
			providers = append(providers, ProviderView{
				Provider:            ph.Name,
				Status:              ph.Status(),
				CircuitState:        ph.CircuitState.String(),
				Requests:            ph.Counts.Requests,
				ConsecutiveFailures: ph.Counts.ConsecutiveFailures,
				LastSuccessAt:       ph.LastSuccessAt,
				LastFailureAt:       ph.LastFailureAt,
				LastError:           ph.LastError,
				LastErrorKind:       string(ph.LastErrorKind),
			})
		}
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"providers": providers})
}
