package inmemory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/welthapp/jobs/internal/jobs"
)

// recorder collects handled jobs with timestamps.
type recorder struct {
	mu      sync.Mutex
	handled []string
	times   []time.Time
	errs    map[string]error // per transaction ID, returned once per call
	calls   map[string]int
}

func newRecorder() *recorder {
	return &recorder{errs: make(map[string]error), calls: make(map[string]int)}
}

func (r *recorder) handler(ctx context.Context, job jobs.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	pj := job.(*jobs.ProcessRecurringJob)
	r.handled = append(r.handled, pj.TransactionID)
	r.times = append(r.times, time.Now())
	r.calls[pj.TransactionID]++
	return r.errs[pj.TransactionID]
}

func (r *recorder) count(txID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[txID]
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestQueue_PublishAndConsume(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	q := NewQueue(Options{Workers: 2}, store)
	defer q.Close()

	rec := newRecorder()
	if err := q.Start(ctx, rec.handler); err != nil {
		t.Fatalf("Start: %v", err)
	}

	job := &jobs.ProcessRecurringJob{TransactionID: "tx1", UserID: "u1"}
	if err := q.PublishProcessRecurring(ctx, job); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if job.JobID == "" {
		t.Error("expected a job ID to be assigned")
	}

	waitFor(t, 2*time.Second, func() bool { return rec.count("tx1") == 1 })
}

func TestQueue_ValidationErrorDropsWithoutRetry(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	q := NewQueue(Options{Workers: 1, RetryBase: time.Millisecond}, store)
	defer q.Close()

	rec := newRecorder()
	rec.errs["bad"] = &jobs.ValidationError{Reason: "missing user id"}
	if err := q.Start(ctx, rec.handler); err != nil {
		t.Fatalf("Start: %v", err)
	}

	job := &jobs.ProcessRecurringJob{JobID: "j1", TransactionID: "bad"}
	if err := q.PublishProcessRecurring(ctx, job); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		saved, err := store.GetJob(ctx, "j1")
		return err == nil && saved.Status == jobs.JobStatusDropped
	})

	// Give any stray retry a chance to fire, then confirm one call only.
	time.Sleep(20 * time.Millisecond)
	if got := rec.count("bad"); got != 1 {
		t.Errorf("handler calls = %d, want 1 (no retries for validation faults)", got)
	}
}

func TestQueue_TransientFailureRetriesThenFails(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	q := NewQueue(Options{Workers: 1, MaxRetries: 2, RetryBase: time.Millisecond}, store)
	defer q.Close()

	rec := newRecorder()
	rec.errs["flaky"] = errors.New("storage unavailable")
	if err := q.Start(ctx, rec.handler); err != nil {
		t.Fatalf("Start: %v", err)
	}

	job := &jobs.ProcessRecurringJob{JobID: "j1", TransactionID: "flaky", UserID: "u1"}
	if err := q.PublishProcessRecurring(ctx, job); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		saved, err := store.GetJob(ctx, "j1")
		return err == nil && saved.Status == jobs.JobStatusFailed
	})

	// Initial attempt plus two retries.
	if got := rec.count("flaky"); got != 3 {
		t.Errorf("handler calls = %d, want 3", got)
	}

	saved, err := store.GetJob(ctx, "j1")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if saved.Error == "" {
		t.Error("expected failed job to keep its error for reporting")
	}

	failed, err := store.ListJobs(ctx, jobs.JobFilter{Status: jobs.JobStatusFailed})
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(failed) != 1 {
		t.Errorf("failed job records = %d, want 1", len(failed))
	}
}

func TestQueue_RecoversAfterTransientFailure(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	q := NewQueue(Options{Workers: 1, MaxRetries: 3, RetryBase: time.Millisecond}, store)
	defer q.Close()

	var mu sync.Mutex
	attempts := 0
	handler := func(ctx context.Context, job jobs.Job) error {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		if attempts < 2 {
			return errors.New("transient")
		}
		return nil
	}
	if err := q.Start(ctx, handler); err != nil {
		t.Fatalf("Start: %v", err)
	}

	job := &jobs.ProcessRecurringJob{JobID: "j1", TransactionID: "tx1", UserID: "u1"}
	if err := q.PublishProcessRecurring(ctx, job); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		saved, err := store.GetJob(ctx, "j1")
		return err == nil && saved.Status == jobs.JobStatusCompleted
	})
}

func TestQueue_ThrottlesPerUser(t *testing.T) {
	ctx := context.Background()
	q := NewQueue(Options{
		Workers:        4,
		ThrottleLimit:  2,
		ThrottleWindow: 300 * time.Millisecond,
	}, nil)
	defer q.Close()

	rec := newRecorder()
	if err := q.Start(ctx, rec.handler); err != nil {
		t.Fatalf("Start: %v", err)
	}

	for _, id := range []string{"a", "b", "c"} {
		job := &jobs.ProcessRecurringJob{TransactionID: id, UserID: "u1"}
		if err := q.PublishProcessRecurring(ctx, job); err != nil {
			t.Fatalf("Publish(%s): %v", id, err)
		}
	}

	waitFor(t, 3*time.Second, func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return len(rec.handled) == 3
	})

	rec.mu.Lock()
	defer rec.mu.Unlock()
	spread := rec.times[2].Sub(rec.times[0])
	if spread < 100*time.Millisecond {
		t.Errorf("third job ran %v after first; expected it pushed to the next window", spread)
	}
}

func TestQueue_OtherUserNotThrottled(t *testing.T) {
	ctx := context.Background()
	q := NewQueue(Options{
		Workers:        4,
		ThrottleLimit:  1,
		ThrottleWindow: time.Minute,
	}, nil)
	defer q.Close()

	rec := newRecorder()
	if err := q.Start(ctx, rec.handler); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := q.PublishProcessRecurring(ctx, &jobs.ProcessRecurringJob{TransactionID: "a", UserID: "u1"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := q.PublishProcessRecurring(ctx, &jobs.ProcessRecurringJob{TransactionID: "b", UserID: "u2"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	// u2's job must not wait behind u1's exhausted window.
	waitFor(t, 2*time.Second, func() bool {
		return rec.count("a") == 1 && rec.count("b") == 1
	})
}

func TestQueue_StopDrainsBufferedJobs(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	q := NewQueue(Options{Workers: 1, ThrottleLimit: 100}, store)

	rec := newRecorder()
	handler := func(ctx context.Context, job jobs.Job) error {
		// Slow enough that most jobs are still buffered when Stop runs.
		time.Sleep(time.Millisecond)
		return rec.handler(ctx, job)
	}
	if err := q.Start(ctx, handler); err != nil {
		t.Fatalf("Start: %v", err)
	}

	const n = 50
	for i := 0; i < n; i++ {
		job := &jobs.ProcessRecurringJob{TransactionID: fmt.Sprintf("tx%d", i), UserID: "u1"}
		if err := q.PublishProcessRecurring(ctx, job); err != nil {
			t.Fatalf("Publish(tx%d): %v", i, err)
		}
	}

	stopCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := q.Stop(stopCtx); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	rec.mu.Lock()
	handled := len(rec.handled)
	rec.mu.Unlock()
	if handled != n {
		t.Errorf("handled %d of %d queued jobs before Stop returned", handled, n)
	}
}

func TestQueue_StopDrainsThrottledJobs(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	q := NewQueue(Options{
		Workers:        2,
		ThrottleLimit:  1,
		ThrottleWindow: 100 * time.Millisecond,
	}, store)

	rec := newRecorder()
	if err := q.Start(ctx, rec.handler); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// The second job for u1 is pushed to the next throttle window; Stop
	// must wait for it instead of exiting between the windows.
	for _, id := range []string{"a", "b"} {
		job := &jobs.ProcessRecurringJob{TransactionID: id, UserID: "u1"}
		if err := q.PublishProcessRecurring(ctx, job); err != nil {
			t.Fatalf("Publish(%s): %v", id, err)
		}
	}

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := q.Stop(stopCtx); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	if rec.count("a") != 1 || rec.count("b") != 1 {
		t.Errorf("handled a=%d b=%d before Stop returned, want both once", rec.count("a"), rec.count("b"))
	}
}

func TestQueue_CloseDuringBackoffFailsJob(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	q := NewQueue(Options{Workers: 1, MaxRetries: 3, RetryBase: 300 * time.Millisecond}, store)

	rec := newRecorder()
	rec.errs["flaky"] = errors.New("storage unavailable")
	if err := q.Start(ctx, rec.handler); err != nil {
		t.Fatalf("Start: %v", err)
	}

	job := &jobs.ProcessRecurringJob{JobID: "j1", TransactionID: "flaky", UserID: "u1"}
	if err := q.PublishProcessRecurring(ctx, job); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		saved, err := store.GetJob(ctx, "j1")
		return err == nil && saved.Status == jobs.JobStatusRetrying
	})

	// A short deadline forces Stop to give up mid-backoff; the pending
	// retry must then surface as a terminal failure, not stay retrying.
	stopCtx, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
	defer cancel()
	if err := q.Stop(stopCtx); err == nil {
		t.Fatal("expected Stop to report the expired drain deadline")
	}

	waitFor(t, 2*time.Second, func() bool {
		saved, err := store.GetJob(ctx, "j1")
		return err == nil && saved.Status == jobs.JobStatusFailed
	})

	saved, err := store.GetJob(ctx, "j1")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if !strings.Contains(saved.Error, "storage unavailable") {
		t.Errorf("failed job lost its original error: %q", saved.Error)
	}
}

func TestQueue_PublishAfterCloseFails(t *testing.T) {
	q := NewQueue(Options{}, nil)
	if err := q.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	err := q.PublishProcessRecurring(context.Background(), &jobs.ProcessRecurringJob{TransactionID: "x"})
	if err == nil {
		t.Fatal("expected publish on closed queue to fail")
	}
}
