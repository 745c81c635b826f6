package worker

import (
	"context"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/rs/zerolog"
)

// Scheduler triggers ingest runs on a cron schedule or a fixed interval.
type Scheduler struct {
	scheduler *gocron.Scheduler
	jobs      *Jobs
	schedule  string
	interval  time.Duration
	logger    zerolog.Logger

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

// SchedulerConfig holds configuration for creating a Scheduler.
type SchedulerConfig struct {
	Config Config
	Jobs   *Jobs
	Logger zerolog.Logger
}

// NewScheduler creates a scheduler. Call Start to begin triggering runs.
func NewScheduler(cfg SchedulerConfig) *Scheduler {
	c := cfg.Config.withDefaults()
	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()

	return &Scheduler{
		scheduler: s,
		jobs:      cfg.Jobs,
		schedule:  c.Schedule,
		interval:  c.Interval,
		logger:    cfg.Logger,
	}
}

// Start registers the ingest job and starts the scheduler. Interval jobs run
// once immediately; cron jobs wait for their first slot. A run still in
// progress when the next slot arrives causes that slot to be skipped.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.mu.Unlock()

	var err error
	if s.schedule != "" {
		_, err = s.scheduler.Cron(s.schedule).Do(s.run)
	} else {
		_, err = s.scheduler.Every(s.interval).Do(s.run)
	}
	if err != nil {
		s.cancel()
		return err
	}

	s.logger.Info().
		Str("schedule", s.schedule).
		Dur("interval", s.interval).
		Msg("starting ingest scheduler")

	s.scheduler.StartAsync()
	return nil
}

func (s *Scheduler) run() {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()

	s.logger.Info().Msg("scheduled ingest run triggered")

	summary, err := s.jobs.Ingest(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("scheduled ingest run failed")
		return
	}

	s.logger.Info().
		Str("run_id", summary.RunID).
		Int("exit_code", summary.ExitCode()).
		Msg("scheduled ingest run completed")
}

// NextRun returns the time of the next scheduled run, if any.
func (s *Scheduler) NextRun() (time.Time, bool) {
	_, next := s.scheduler.NextRun()
	if next.IsZero() {
		return time.Time{}, false
	}
	return next, true
}

// Stop cancels an in-flight run and stops the scheduler.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	s.scheduler.Stop()
	s.logger.Info().Msg("ingest scheduler stopped")
}
