// Package schedule runs the cron-driven triggers. Each trigger handler
// re-derives its work from store state, so a missed or duplicated firing
// self-corrects on the next run.
package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// TriggerFunc is one cron entry point. The returned summary is logged for
// observability; errors are logged, never propagated into the scheduler.
type TriggerFunc func(ctx context.Context) (summary string, err error)

// Scheduler owns the cron table and a base context shared by all trigger
// invocations.
type Scheduler struct {
	cron *cron.Cron
	log  zerolog.Logger
}

// New creates a scheduler using standard 5-field cron expressions.
func New(log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron: cron.New(),
		log:  log,
	}
}

// Register adds a named trigger on the given cron spec.
func (s *Scheduler) Register(ctx context.Context, name, spec string, fn TriggerFunc) error {
	_, err := s.cron.AddFunc(spec, func() {
		start := time.Now()
		log := s.log.With().Str("trigger", name).Logger()
		log.Info().Msg("Trigger fired")

		summary, err := fn(ctx)
		if err != nil {
			log.Error().Err(err).Dur("elapsed", time.Since(start)).Msg("Trigger failed")
			return
		}
		log.Info().Str("summary", summary).Dur("elapsed", time.Since(start)).Msg("Trigger completed")
	})
	if err != nil {
		return fmt.Errorf("schedule: registering %s (%q): %w", name, spec, err)
	}
	return nil
}

// Start begins firing triggers on schedule.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts scheduling and waits for running triggers to return.
func (s *Scheduler) Stop(ctx context.Context) error {
	stopped := s.cron.Stop()
	select {
	case <-stopped.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
