package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/welthapp/jobs/internal/domain"
	"github.com/welthapp/jobs/internal/jobs"
	"github.com/welthapp/jobs/internal/ledger"
	"github.com/welthapp/jobs/internal/recurrence"
)

// Processor materializes one occurrence from a due recurring template.
// Every invocation re-fetches the template and re-checks due-ness before
// the atomic write, which makes at-least-once delivery safe: after a
// successful apply the schedule has advanced, so a duplicate event fails
// the due check and no-ops.
type Processor struct {
	store ledger.Store
	log   zerolog.Logger
	now   func() time.Time
}

// NewProcessor creates a processor over the given ledger.
func NewProcessor(store ledger.Store, log zerolog.Logger) *Processor {
	return &Processor{
		store: store,
		log:   log,
		now:   time.Now,
	}
}

// Handle adapts Process to the queue's JobHandler signature.
func (p *Processor) Handle(ctx context.Context, job jobs.Job) error {
	rj, ok := job.(*jobs.ProcessRecurringJob)
	if !ok {
		return &jobs.ValidationError{Reason: fmt.Sprintf("unexpected job type %T", job)}
	}
	return p.Process(ctx, rj.TransactionID, rj.UserID)
}

// Process applies one recurring template identified by transaction and
// owner. Validation faults (missing identity, unknown interval) are
// terminal; a missing template or account, or an undue template, is a
// no-op; everything else is transient and retryable.
func (p *Processor) Process(ctx context.Context, transactionID, userID string) error {
	if transactionID == "" || userID == "" {
		return &jobs.ValidationError{Reason: "missing transaction or user ID"}
	}

	log := p.log.With().Str("transaction_id", transactionID).Str("user_id", userID).Logger()

	// Fresh fetch: the scanner's snapshot may be minutes old.
	tmpl, err := p.store.GetTransaction(ctx, transactionID, userID)
	if errors.Is(err, ledger.ErrNotFound) {
		log.Warn().Msg("Template vanished between scan and process, skipping")
		return nil
	}
	if err != nil {
		return fmt.Errorf("processor: fetching template: %w", err)
	}

	now := p.now()
	if !tmpl.DueAt(now) {
		log.Debug().Msg("Template not due, skipping")
		return nil
	}

	if _, err := p.store.GetAccount(ctx, tmpl.AccountID); err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			// The owning account is gone; retire the template rather than
			// retry an apply that can never succeed.
			log.Warn().Str("account_id", tmpl.AccountID).Msg("Account missing, deactivating template")
			if derr := p.store.DeactivateRecurring(ctx, transactionID, userID); derr != nil {
				return fmt.Errorf("processor: deactivating orphaned template: %w", derr)
			}
			return nil
		}
		return fmt.Errorf("processor: fetching account: %w", err)
	}

	next, err := recurrence.NextOccurrence(now, tmpl.RecurringInterval)
	if err != nil {
		return &jobs.ValidationError{Reason: err.Error()}
	}

	occurrence := &domain.Transaction{
		ID:          uuid.New().String(),
		UserID:      tmpl.UserID,
		AccountID:   tmpl.AccountID,
		Type:        tmpl.Type,
		Amount:      tmpl.Amount,
		Description: tmpl.Description + " (Recurring)",
		Category:    tmpl.Category,
		Date:        now,
		Status:      domain.StatusCompleted,
		IsRecurring: false,
	}

	app := ledger.RecurringApplication{
		Occurrence:    occurrence,
		AccountID:     tmpl.AccountID,
		BalanceDelta:  tmpl.SignedAmount(),
		TemplateID:    tmpl.ID,
		UserID:        tmpl.UserID,
		LastProcessed: now,
		NextRecurring: next,
	}
	if err := p.store.ApplyRecurring(ctx, app); err != nil {
		return fmt.Errorf("processor: applying occurrence: %w", err)
	}

	log.Info().
		Str("occurrence_id", occurrence.ID).
		Str("amount", tmpl.Amount.String()).
		Time("next_recurring", next).
		Msg("Recurring transaction applied")
	return nil
}
