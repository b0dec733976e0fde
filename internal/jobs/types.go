// Package jobs defines the dispatch surface for fan-out work: job records,
// their lifecycle, and the publisher/consumer seams. Queue implementations
// live in subpackages.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// JobType represents the type of job to be executed.
type JobType string

const (
	// JobTypeProcessRecurring materializes one due recurring transaction.
	JobTypeProcessRecurring JobType = "process_recurring"
)

// JobStatus represents the current status of a job.
type JobStatus string

const (
	// JobStatusPending indicates the job is waiting to be processed.
	JobStatusPending JobStatus = "pending"
	// JobStatusRunning indicates the job is currently being processed.
	JobStatusRunning JobStatus = "running"
	// JobStatusCompleted indicates the job completed successfully.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed indicates the job failed terminally.
	JobStatusFailed JobStatus = "failed"
	// JobStatusRetrying indicates the job failed and is being retried.
	JobStatusRetrying JobStatus = "retrying"
	// JobStatusDropped indicates the job carried an invalid payload and
	// was discarded without retry.
	JobStatusDropped JobStatus = "dropped"
)

// ProcessRecurringJob is one fan-out unit: a single due recurring template
// identified by transaction and owner. It deliberately carries no
// transaction payload — the processor re-fetches fresh state, so a stale
// event cannot apply stale data.
type ProcessRecurringJob struct {
	// JobID is the unique identifier for this job.
	JobID string `json:"job_id"`

	// TransactionID identifies the recurring template.
	TransactionID string `json:"transaction_id"`

	// UserID is the template's owner; it also keys the throttle.
	UserID string `json:"user_id"`

	// Status is the current status of the job.
	Status JobStatus `json:"status"`

	// CreatedAt is when the job was created.
	CreatedAt time.Time `json:"created_at"`

	// StartedAt is when the job started processing.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// CompletedAt is when the job reached a terminal state.
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Error contains error details if the job failed.
	Error string `json:"error,omitempty"`

	// RetryCount is the number of times this job has been retried.
	RetryCount int `json:"retry_count"`

	// MaxRetries is the maximum number of retries allowed.
	MaxRetries int `json:"max_retries"`
}

// Job is a generic interface for all job types.
type Job interface {
	// GetID returns the unique job identifier.
	GetID() string

	// GetType returns the job type.
	GetType() JobType

	// GetStatus returns the current job status.
	GetStatus() JobStatus
}

// GetID implements the Job interface.
func (j *ProcessRecurringJob) GetID() string {
	return j.JobID
}

// GetType implements the Job interface.
func (j *ProcessRecurringJob) GetType() JobType {
	return JobTypeProcessRecurring
}

// GetStatus implements the Job interface.
func (j *ProcessRecurringJob) GetStatus() JobStatus {
	return j.Status
}

// Publisher defines the interface for publishing jobs to a queue.
type Publisher interface {
	// PublishProcessRecurring publishes one recurring-transaction job.
	PublishProcessRecurring(ctx context.Context, job *ProcessRecurringJob) error

	// Close closes the publisher and releases resources.
	Close() error
}

// Consumer defines the interface for consuming jobs from a queue.
type Consumer interface {
	// Start begins consuming jobs from the queue.
	// The handler function is called for each job received.
	Start(ctx context.Context, handler JobHandler) error

	// Stop stops consuming jobs and waits for in-flight jobs to complete.
	Stop(ctx context.Context) error
}

// JobHandler is a function that processes a job. A plain error marks the
// job transient-failed and eligible for retry; a ValidationError marks it
// dropped without retry.
type JobHandler func(ctx context.Context, job Job) error

// JobStore defines the interface for storing and retrieving job status,
// including terminal failures, so abandoned work stays visible.
type JobStore interface {
	// SaveJob saves or updates a job's state.
	SaveJob(ctx context.Context, job *ProcessRecurringJob) error

	// GetJob retrieves a job by ID.
	GetJob(ctx context.Context, jobID string) (*ProcessRecurringJob, error)

	// ListJobs retrieves jobs with optional filtering.
	ListJobs(ctx context.Context, filter JobFilter) ([]*ProcessRecurringJob, error)
}

// JobFilter defines filtering criteria for listing jobs.
type JobFilter struct {
	// UserID filters jobs by owning user.
	UserID string

	// Status filters jobs by status.
	Status JobStatus

	// Limit limits the number of results.
	Limit int

	// Offset for pagination.
	Offset int
}

// ValidationError marks a job payload as malformed. The queue drops such
// jobs after logging instead of retrying them.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid job payload: %s", e.Reason)
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
