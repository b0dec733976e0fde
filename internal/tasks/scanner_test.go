package tasks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/welthapp/jobs/internal/domain"
	"github.com/welthapp/jobs/internal/jobs"
	"github.com/welthapp/jobs/internal/ledger/inmemory"
	"github.com/welthapp/jobs/internal/logger"
)

// fakePublisher records published jobs, optionally failing some.
type fakePublisher struct {
	published []*jobs.ProcessRecurringJob
	failFor   map[string]error // keyed by transaction ID
}

func (f *fakePublisher) PublishProcessRecurring(ctx context.Context, job *jobs.ProcessRecurringJob) error {
	if err := f.failFor[job.TransactionID]; err != nil {
		return err
	}
	f.published = append(f.published, job)
	return nil
}

func (f *fakePublisher) Close() error { return nil }

func TestScanner_PublishesOnlyDueTemplates(t *testing.T) {
	ctx := context.Background()
	store := inmemory.NewStore()
	now := time.Date(2025, time.June, 15, 0, 0, 0, 0, time.UTC)
	past := now.AddDate(0, 0, -2)
	future := now.AddDate(0, 0, 2)

	seed := func(id string, lastProcessed, next *time.Time, recurring bool, status domain.TransactionStatus) {
		tx := &domain.Transaction{
			ID: id, UserID: "u1", AccountID: "a1",
			Type: domain.TypeExpense, Amount: decimal.NewFromInt(10),
			Status: status, IsRecurring: recurring,
			RecurringInterval: domain.IntervalMonthly,
			LastProcessed:     lastProcessed, NextRecurringDate: next,
		}
		if err := store.CreateTransaction(ctx, tx); err != nil {
			t.Fatalf("CreateTransaction: %v", err)
		}
	}

	seed("due-never", nil, nil, true, domain.StatusCompleted)
	seed("due-elapsed", &past, &past, true, domain.StatusCompleted)
	seed("future", &past, &future, true, domain.StatusCompleted)
	seed("pending", nil, nil, true, domain.StatusPending)
	seed("one-off", nil, nil, false, domain.StatusCompleted)

	pub := &fakePublisher{}
	s := NewScanner(store, pub, logger.NewWithWriter(nilWriter{}))
	s.now = func() time.Time { return now }

	count, err := s.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if count != 2 {
		t.Errorf("published count = %d, want 2", count)
	}

	// Events carry identity only; the processor re-fetches state.
	for _, job := range pub.published {
		if job.TransactionID == "" || job.UserID == "" {
			t.Errorf("job missing identity: %+v", job)
		}
	}
}

func TestScanner_PublishFailureDoesNotBlockSiblings(t *testing.T) {
	ctx := context.Background()
	store := inmemory.NewStore()

	for _, id := range []string{"t1", "t2", "t3"} {
		tx := &domain.Transaction{
			ID: id, UserID: "u1", AccountID: "a1",
			Type: domain.TypeExpense, Amount: decimal.NewFromInt(10),
			Status: domain.StatusCompleted, IsRecurring: true,
			RecurringInterval: domain.IntervalDaily,
		}
		if err := store.CreateTransaction(ctx, tx); err != nil {
			t.Fatalf("CreateTransaction: %v", err)
		}
	}

	pub := &fakePublisher{failFor: map[string]error{"t2": errors.New("queue full")}}
	s := NewScanner(store, pub, logger.NewWithWriter(nilWriter{}))

	count, err := s.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if count != 2 {
		t.Errorf("published count = %d, want 2 (t2 failed)", count)
	}
}

// nilWriter discards log output in tests.
type nilWriter struct{}

func (nilWriter) Write(p []byte) (int, error) { return len(p), nil }
