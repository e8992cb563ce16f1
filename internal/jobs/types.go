package jobs

import (
	"context"
	"time"
)

// JobType represents the type of job to be executed.
type JobType string

const (
	// JobTypeDuplicateScan re-runs duplicate detection over stored rows.
	JobTypeDuplicateScan JobType = "duplicate_scan"
	// JobTypeCategorize categorizes stored rows that have no category.
	JobTypeCategorize JobType = "categorize"
)

// Valid reports whether t is a known job type.
func (t JobType) Valid() bool {
	return t == JobTypeDuplicateScan || t == JobTypeCategorize
}

// JobStatus represents the current status of a job.
type JobStatus string

const (
	// JobStatusPending indicates the job is waiting to be processed.
	JobStatusPending JobStatus = "pending"
	// JobStatusRunning indicates the job is currently being processed.
	JobStatusRunning JobStatus = "running"
	// JobStatusCompleted indicates the job completed successfully.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed indicates the job failed.
	JobStatusFailed JobStatus = "failed"
	// JobStatusRetrying indicates the job failed and is being retried.
	JobStatusRetrying JobStatus = "retrying"
)

// Params carries the inputs of a job. Fields not used by a type are ignored.
type Params struct {
	// AsOf bounds a duplicate scan to rows dated on or before it (YYYY-MM-DD).
	AsOf string `json:"as_of,omitempty"`
	// AutoFinalize resolves high-confidence scan groups automatically.
	AutoFinalize bool `json:"auto_finalize,omitempty"`
	// Limit caps how many rows a categorize job handles.
	Limit int `json:"limit,omitempty"`
}

// Job is one queued background operation.
type Job struct {
	// JobID is the unique identifier for this job.
	JobID string `json:"job_id"`

	Type   JobType `json:"type"`
	Params Params  `json:"params"`

	// Status is the current status of the job.
	Status JobStatus `json:"status"`

	// RunID is the processing log entry the job produced, once known.
	RunID int64 `json:"run_id,omitempty"`

	// Result holds type-specific counters reported by the handler.
	Result map[string]interface{} `json:"result,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Error contains error details if the job failed.
	Error string `json:"error,omitempty"`

	// RetryCount is the number of times this job has been retried.
	RetryCount int `json:"retry_count"`

	// MaxRetries is the maximum number of retries allowed.
	MaxRetries int `json:"max_retries"`
}

// Publisher defines the interface for publishing jobs to a queue.
type Publisher interface {
	// Publish enqueues a job.
	Publish(ctx context.Context, job *Job) error

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

// JobHandler processes a job. It may fill job.Result and job.RunID, and
// returns an error if the job failed and should be retried.
type JobHandler func(ctx context.Context, job *Job) error

// JobStore defines the interface for storing and retrieving job status.
type JobStore interface {
	// SaveJob saves or updates a job's state.
	SaveJob(ctx context.Context, job *Job) error

	// GetJob retrieves a job by ID.
	GetJob(ctx context.Context, jobID string) (*Job, error)

	// ListJobs retrieves jobs with optional filtering, newest first.
	ListJobs(ctx context.Context, filter JobFilter) ([]*Job, error)

	// UpdateJobStatus updates the status of a job.
	UpdateJobStatus(ctx context.Context, jobID string, status JobStatus, errorMsg string) error
}

// JobFilter defines filtering criteria for listing jobs.
type JobFilter struct {
	// Type filters jobs by type.
	Type JobType

	// Status filters jobs by status.
	Status JobStatus

	// Limit limits the number of results.
	Limit int

	// Offset for pagination.
	Offset int
}
