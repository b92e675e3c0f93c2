// Package schedule publishes sync jobs on a cron schedule.
package schedule

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/rjlee/actual-landg-pension/internal/jobs"
)

// TriggerCron marks jobs published by the scheduler.
const TriggerCron = "cron"

// Scheduler enqueues a sync job on every tick of a standard five-field cron
// expression. Ticks never overlap a running pass: the queue serializes them.
type Scheduler struct {
	cron    *cron.Cron
	enqueue func()
	log     zerolog.Logger
}

// New parses spec and registers the sync job. The scheduler is not started.
func New(ctx context.Context, spec string, publisher jobs.Publisher, log zerolog.Logger) (*Scheduler, error) {
	log = log.With().Str("component", "schedule").Str("cron", spec).Logger()
	c := cron.New()

	enqueue := func() {
		job := &jobs.Job{Type: jobs.JobTypeSync, Trigger: TriggerCron}
		if err := publisher.Publish(ctx, job); err != nil {
			log.Error().Err(err).Msg("Failed to enqueue scheduled sync")
			return
		}
		log.Info().Str("job_id", job.JobID).Msg("Scheduled sync enqueued")
	}
	if _, err := c.AddFunc(spec, enqueue); err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", spec, err)
	}

	return &Scheduler{cron: c, enqueue: enqueue, log: log}, nil
}

// Start runs the schedule in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Time("next", s.cron.Entries()[0].Next).Msg("Scheduler started")
}

// RunNow enqueues a sync outside the schedule.
func (s *Scheduler) RunNow() {
	s.enqueue()
}

// Stop halts the schedule and waits for a tick in progress to finish.
func (s *Scheduler) Stop(ctx context.Context) error {
	select {
	case <-s.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Entries exposes the registered entries.
func (s *Scheduler) Entries() []cron.Entry {
	return s.cron.Entries()
}
