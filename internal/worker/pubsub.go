package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub/v2"
	"github.com/rs/zerolog"

	"github.com/ecomonitor/ecomonitor/internal/ingest"
)

// ErrUnknownJob is returned for messages with an unrecognised job type.
var ErrUnknownJob = errors.New("unknown job type")

// PubSubHandler handles Pub/Sub messages for the worker.
type PubSubHandler struct {
	client           *pubsub.Client
	subscriber       *pubsub.Subscriber
	subscriptionName string
	dispatcher       *Dispatcher
	logger           zerolog.Logger
}

// PubSubConfig holds configuration for the Pub/Sub handler.
type PubSubConfig struct {
	ProjectID        string
	SubscriptionName string
	Jobs             *Jobs
	Logger           zerolog.Logger
}

// JobMessage is the payload of a job request.
type JobMessage struct {
	JobType string `json:"job_type"`

	// Fetchers restricts an ingest_run to the named fetchers.
	Fetchers []string `json:"fetchers,omitempty"`

	// Days sets the backfill window.
	Days int `json:"days,omitempty"`
}

// NewPubSubHandler creates a new Pub/Sub handler.
func NewPubSubHandler(ctx context.Context, cfg PubSubConfig) (*PubSubHandler, error) {
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	subscriber := client.Subscriber(cfg.SubscriptionName)

	// Jobs are long running; keep few outstanding and extend leases.
	subscriber.ReceiveSettings.MaxOutstandingMessages = 2
	subscriber.ReceiveSettings.MaxExtension = 30 * time.Minute

	return &PubSubHandler{
		client:           client,
		subscriber:       subscriber,
		subscriptionName: cfg.SubscriptionName,
		dispatcher:       NewDispatcher(cfg.Jobs, cfg.Logger),
		logger:           cfg.Logger,
	}, nil
}

// Start begins processing Pub/Sub messages. It blocks until ctx is done.
func (h *PubSubHandler) Start(ctx context.Context) error {
	h.logger.Info().
		Str("subscription", h.subscriptionName).
		Msg("starting pubsub handler")

	return h.subscriber.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		h.handleMessage(ctx, msg)
	})
}

// Close closes the Pub/Sub client.
func (h *PubSubHandler) Close() error {
	return h.client.Close()
}

func (h *PubSubHandler) handleMessage(ctx context.Context, msg *pubsub.Message) {
	logger := h.logger.With().
		Str("message_id", msg.ID).
		Str("publish_time", msg.PublishTime.Format(time.RFC3339)).
		Logger()

	logger.Debug().Msg("received pubsub message")

	if h.dispatcher.Dispatch(ctx, msg.Data) {
		msg.Ack()
		return
	}
	msg.Nack()
}

// Dispatcher decodes job messages and runs them.
type Dispatcher struct {
	jobs   *Jobs
	logger zerolog.Logger
}

// NewDispatcher creates a dispatcher over jobs.
func NewDispatcher(jobs *Jobs, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{jobs: jobs, logger: logger}
}

// Dispatch runs the job encoded in data and reports whether the message
// should be acknowledged. Malformed and unknown messages are acknowledged to
// prevent redelivery. Jobs that could not reach storage are not, so they are
// retried.
func (d *Dispatcher) Dispatch(ctx context.Context, data []byte) bool {
	start := time.Now()

	var msg JobMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		d.logger.Error().Err(err).Msg("failed to parse job message")
		return true
	}

	err := d.run(ctx, msg)
	switch {
	case errors.Is(err, ErrUnknownJob), errors.Is(err, ingest.ErrUnknownFetcher), errors.Is(err, ErrBackfillDisabled):
		d.logger.Warn().Err(err).Str("job_type", msg.JobType).Msg("rejecting job")
		return true
	case err != nil:
		d.logger.Error().Err(err).Str("job_type", msg.JobType).Msg("job failed")
		return false
	}

	d.logger.Info().
		Str("job_type", msg.JobType).
		Dur("duration", time.Since(start)).
		Msg("job completed")
	return true
}

func (d *Dispatcher) run(ctx context.Context, msg JobMessage) error {
	switch msg.JobType {
	case JobIngest:
		summary, err := d.jobs.Ingest(ctx, msg.Fetchers...)
		if err != nil {
			return err
		}
		return storageFailure(summary)
	case JobBackfill:
		summary, err := d.jobs.Backfill(ctx, msg.Days)
		if err != nil {
			return err
		}
		return storageFailure(summary)
	case JobHealthCheck:
		return d.jobs.HealthCheck(ctx)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownJob, msg.JobType)
	}
}

func storageFailure(s *ingest.Summary) error {
	for _, name := range s.Names() {
		if s.Results[name].StorageFailure {
			return fmt.Errorf("fetcher %s: storage unavailable", name)
		}
	}
	return nil
}
