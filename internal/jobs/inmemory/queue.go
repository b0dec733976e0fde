// Package inmemory implements the job queue on Go channels. It is
// suitable for single-instance deployments and testing; a multi-instance
// deployment would swap in a hosted queue behind the same interfaces.
package inmemory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/welthapp/jobs/internal/jobs"
)

// Options tune queue behavior. Zero values fall back to defaults.
type Options struct {
	// BufferSize is how many jobs can be queued before publish blocks.
	BufferSize int

	// Workers is the number of concurrent handler goroutines.
	Workers int

	// ThrottleLimit caps jobs handled per user per ThrottleWindow.
	// Excess jobs are delayed to the next window, not dropped.
	ThrottleLimit int

	// ThrottleWindow is the fixed throttle window length.
	ThrottleWindow time.Duration

	// MaxRetries bounds retries for transient failures.
	MaxRetries int

	// RetryBase is the first retry delay; it doubles per attempt.
	RetryBase time.Duration
}

func (o Options) withDefaults() Options {
	if o.BufferSize <= 0 {
		o.BufferSize = 100
	}
	if o.Workers <= 0 {
		o.Workers = 5
	}
	if o.ThrottleLimit <= 0 {
		o.ThrottleLimit = 10
	}
	if o.ThrottleWindow <= 0 {
		o.ThrottleWindow = time.Minute
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = 3
	}
	if o.RetryBase <= 0 {
		o.RetryBase = time.Second
	}
	return o
}

type userWindow struct {
	start time.Time
	count int
}

// Queue is an in-memory job publisher and consumer with per-user
// throttling and bounded exponential-backoff retries.
type Queue struct {
	opts      Options
	jobChan   chan *jobs.ProcessRecurringJob
	closeChan chan struct{}
	wg        sync.WaitGroup
	inflight  sync.WaitGroup
	mu        sync.RWMutex
	store     jobs.JobStore
	closed    bool

	throttleMu sync.Mutex
	windows    map[string]*userWindow

	now func() time.Time
}

// NewQueue creates a new in-memory job queue. The store, if non-nil,
// receives every status transition, keeping failed jobs visible.
func NewQueue(opts Options, store jobs.JobStore) *Queue {
	opts = opts.withDefaults()
	return &Queue{
		opts:      opts,
		jobChan:   make(chan *jobs.ProcessRecurringJob, opts.BufferSize),
		closeChan: make(chan struct{}),
		store:     store,
		windows:   make(map[string]*userWindow),
		now:       time.Now,
	}
}

// PublishProcessRecurring implements the Publisher interface.
func (q *Queue) PublishProcessRecurring(ctx context.Context, job *jobs.ProcessRecurringJob) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return fmt.Errorf("queue is closed")
	}

	if job.JobID == "" {
		job.JobID = uuid.New().String()
	}
	if job.Status == "" {
		job.Status = jobs.JobStatusPending
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = q.now()
	}
	if job.MaxRetries == 0 {
		job.MaxRetries = q.opts.MaxRetries
	}

	if q.store != nil {
		if err := q.store.SaveJob(ctx, job); err != nil {
			return fmt.Errorf("failed to save job: %w", err)
		}
	}

	// Count the job as in flight before it hits the channel, so Stop's
	// drain cannot observe an empty queue with a send still pending.
	q.inflight.Add(1)
	select {
	case q.jobChan <- job:
		return nil
	case <-ctx.Done():
		q.inflight.Done()
		return ctx.Err()
	case <-q.closeChan:
		q.inflight.Done()
		return fmt.Errorf("queue is closed")
	}
}

// Start implements the Consumer interface. The handler runs concurrently,
// up to Options.Workers at a time.
func (q *Queue) Start(ctx context.Context, handler jobs.JobHandler) error {
	q.mu.RLock()
	if q.closed {
		q.mu.RUnlock()
		return fmt.Errorf("queue is closed")
	}
	q.mu.RUnlock()

	for i := 0; i < q.opts.Workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, handler)
	}

	return nil
}

func (q *Queue) worker(ctx context.Context, handler jobs.JobHandler) {
	defer q.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.closeChan:
			return
		case job := <-q.jobChan:
			if job == nil {
				return
			}

			if delay, throttled := q.reserve(job.UserID); throttled {
				// Over the per-user budget for this window; push the job
				// into the next window instead of running it now.
				q.requeueAfter(ctx, job, delay)
				continue
			}

			q.processJob(ctx, job, handler)
		}
	}
}

// reserve consumes one slot of the user's throttle window. It returns the
// remaining window time when the user is over budget.
func (q *Queue) reserve(userID string) (time.Duration, bool) {
	q.throttleMu.Lock()
	defer q.throttleMu.Unlock()

	now := q.now()
	w := q.windows[userID]
	if w == nil || now.Sub(w.start) >= q.opts.ThrottleWindow {
		q.windows[userID] = &userWindow{start: now, count: 1}
		return 0, false
	}
	if w.count < q.opts.ThrottleLimit {
		w.count++
		return 0, false
	}
	return q.opts.ThrottleWindow - now.Sub(w.start), true
}

func (q *Queue) requeueAfter(ctx context.Context, job *jobs.ProcessRecurringJob, delay time.Duration) {
	time.AfterFunc(delay, func() {
		// Check the shutdown signal first: with buffer room free, a plain
		// select could win the send and strand the job unread.
		select {
		case <-q.closeChan:
			q.abandon(ctx, job, "queue closed before throttled job could run")
			return
		default:
		}
		select {
		case q.jobChan <- job:
		case <-q.closeChan:
			q.abandon(ctx, job, "queue closed before throttled job could run")
		case <-ctx.Done():
			q.abandon(ctx, job, "context canceled before throttled job could run")
		}
	})
}

// abandon records a job the queue can no longer run as failed, so it
// stays visible in the store instead of vanishing on shutdown.
func (q *Queue) abandon(ctx context.Context, job *jobs.ProcessRecurringJob, reason string) {
	defer q.inflight.Done()

	completed := q.now()
	job.Status = jobs.JobStatusFailed
	job.CompletedAt = &completed
	job.Error = reason
	if q.store != nil {
		_ = q.store.SaveJob(ctx, job)
	}
}

// processJob executes a single job, persisting each status transition.
// Validation faults are dropped; transient faults retry with exponential
// backoff until the attempt cap, then stay recorded as failed.
func (q *Queue) processJob(ctx context.Context, job *jobs.ProcessRecurringJob, handler jobs.JobHandler) {
	job.Status = jobs.JobStatusRunning
	started := q.now()
	job.StartedAt = &started

	if q.store != nil {
		_ = q.store.SaveJob(ctx, job)
	}

	err := handler(ctx, job)

	completed := q.now()
	job.CompletedAt = &completed

	switch {
	case err == nil:
		job.Status = jobs.JobStatusCompleted
		job.Error = ""

	case jobs.IsValidation(err):
		job.Status = jobs.JobStatusDropped
		job.Error = err.Error()

	case job.RetryCount < job.MaxRetries:
		job.Error = err.Error()
		job.RetryCount++
		job.Status = jobs.JobStatusRetrying
		if q.store != nil {
			_ = q.store.SaveJob(ctx, job)
		}

		backoff := q.opts.RetryBase << (job.RetryCount - 1)
		time.AfterFunc(backoff, func() {
			job.Status = jobs.JobStatusPending
			job.StartedAt = nil
			job.CompletedAt = nil
			if q.store != nil {
				_ = q.store.SaveJob(ctx, job)
			}
			// Requeue directly: the job is already counted in flight. If
			// the queue closed during the backoff, record the terminal
			// failure rather than leaving the job stuck as retrying. The
			// shutdown signal is checked first so a free buffer slot
			// cannot win the select and strand the job unread.
			select {
			case <-q.closeChan:
				q.abandon(ctx, job, fmt.Sprintf("queue closed before retry %d could run: %s", job.RetryCount, job.Error))
				return
			default:
			}
			select {
			case q.jobChan <- job:
			case <-q.closeChan:
				q.abandon(ctx, job, fmt.Sprintf("queue closed before retry %d could run: %s", job.RetryCount, job.Error))
			case <-ctx.Done():
				q.abandon(ctx, job, fmt.Sprintf("context canceled before retry %d could run: %s", job.RetryCount, job.Error))
			}
		})
		// Still in flight until the rescheduled attempt resolves.
		return

	default:
		job.Status = jobs.JobStatusFailed
		job.Error = err.Error()
	}

	if q.store != nil {
		_ = q.store.SaveJob(ctx, job)
	}
	q.inflight.Done()
}

// Stop implements the Consumer interface. It refuses new publishes,
// drains every accepted job (buffered, throttled or mid-retry) to a
// terminal status, then releases the workers. The context bounds the
// drain; on expiry remaining jobs are recorded as failed by their
// requeue paths rather than run.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		q.inflight.Wait()
		close(drained)
	}()

	var drainErr error
	select {
	case <-drained:
	case <-ctx.Done():
		drainErr = ctx.Err()
	}

	close(q.closeChan)

	// If the drain timed out, whatever is still buffered will never run;
	// record each leftover as failed so nothing vanishes silently.
	if drainErr != nil {
	sweep:
		for {
			select {
			case job := <-q.jobChan:
				q.abandon(ctx, job, "queue stopped before job could run")
			default:
				break sweep
			}
		}
	}

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return drainErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close implements the Publisher interface.
func (q *Queue) Close() error {
	return q.Stop(context.Background())
}

// Ensure Queue implements both Publisher and Consumer interfaces.
var _ jobs.Publisher = (*Queue)(nil)
var _ jobs.Consumer = (*Queue)(nil)
