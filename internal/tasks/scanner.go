// Package tasks holds the background jobs: the due-template scanner, the
// recurrence processor, the budget monitor and the monthly report
// generator. Each job re-derives its work from store state on every run,
// so overlapping or repeated invocations converge instead of compounding.
package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/welthapp/jobs/internal/jobs"
	"github.com/welthapp/jobs/internal/ledger"
)

// Scanner finds due recurring templates and fans each out as one queue
// job carrying only identity. It never mutates the ledger; the processor
// re-validates everything before applying.
type Scanner struct {
	store ledger.Store
	queue jobs.Publisher
	log   zerolog.Logger
	now   func() time.Time
}

// NewScanner creates a scanner over the given ledger and queue.
func NewScanner(store ledger.Store, queue jobs.Publisher, log zerolog.Logger) *Scanner {
	return &Scanner{
		store: store,
		queue: queue,
		log:   log,
		now:   time.Now,
	}
}

// Run scans once and returns the number of jobs published. A publish
// failure for one template is logged and does not block its siblings.
func (s *Scanner) Run(ctx context.Context) (int, error) {
	now := s.now()
	due, err := s.store.ListDueRecurring(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("scanner: listing due templates: %w", err)
	}

	published := 0
	for _, tmpl := range due {
		job := &jobs.ProcessRecurringJob{
			TransactionID: tmpl.ID,
			UserID:        tmpl.UserID,
		}
		if err := s.queue.PublishProcessRecurring(ctx, job); err != nil {
			s.log.Error().
				Err(err).
				Str("transaction_id", tmpl.ID).
				Str("user_id", tmpl.UserID).
				Msg("Failed to publish recurring job")
			continue
		}
		published++
	}

	s.log.Info().
		Int("due", len(due)).
		Int("published", published).
		Msg("Recurrence scan completed")
	return published, nil
}
