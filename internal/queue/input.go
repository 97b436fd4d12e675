package queue

import (
	"time"

	"github.com/google/uuid"
)

// PublishInput is the caller-supplied request to enqueue a job.
type PublishInput struct {
	Type         string
	Payload      Payload
	Priority     *int
	MaxAttempts  *int
	ScheduledFor *time.Time
	TraceID      string
}

// Validate checks the publish input against the schema.
func (in *PublishInput) Validate() error {
	if in.Type == "" {
		return &ValidationError{Field: "type", Reason: "must not be empty"}
	}
	if in.Payload == nil {
		return &ValidationError{Field: "payload", Reason: "must be a map"}
	}
	if in.MaxAttempts != nil && *in.MaxAttempts < 1 {
		return &ValidationError{Field: "max_attempts", Reason: "must be positive"}
	}
	return nil
}

// CompleteInput is the caller-supplied request to mark a processing job
// completed. Result is optional and echoed back in the ResultEnvelope.
type CompleteInput struct {
	JobID  uuid.UUID
	Result Payload
}

// Validate checks the complete input against the schema.
func (in *CompleteInput) Validate() error {
	if in.JobID == uuid.Nil {
		return &ValidationError{Field: "job_id", Reason: "must be a non-zero UUID"}
	}
	return nil
}

// FailInput is the caller-supplied request to report a processing job failed.
type FailInput struct {
	JobID uuid.UUID
	Error string
}

// Validate checks the fail input against the schema.
func (in *FailInput) Validate() error {
	if in.JobID == uuid.Nil {
		return &ValidationError{Field: "job_id", Reason: "must be a non-zero UUID"}
	}
	if in.Error == "" {
		return &ValidationError{Field: "error", Reason: "must not be empty"}
	}
	return nil
}
