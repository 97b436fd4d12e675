package queue

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Job status constants
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Default values applied when a publisher omits the optional fields
const (
	DefaultPriority    = 0
	DefaultMaxAttempts = 3
)

// RetryBackoffStep is the per-attempt delay added before a failed job
// becomes eligible again: scheduled_for = now + attempts * RetryBackoffStep.
const RetryBackoffStep = 30 * time.Second

// Payload is the opaque job payload. The queue persists it verbatim as a
// JSON document and never inspects its contents.
type Payload map[string]interface{}

// Value implements driver.Valuer so a Payload can be written to a JSONB column.
func (p Payload) Value() (driver.Value, error) {
	if p == nil {
		return []byte("{}"), nil
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return data, nil
}

// Scan implements sql.Scanner so a Payload can be read back from a JSONB column.
func (p *Payload) Scan(src interface{}) error {
	var data []byte
	switch v := src.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	case nil:
		*p = nil
		return nil
	default:
		return fmt.Errorf("cannot scan %T into payload", src)
	}
	return json.Unmarshal(data, p)
}

// Clone returns a shallow copy of the payload map. Nested values are shared.
func (p Payload) Clone() Payload {
	if p == nil {
		return nil
	}
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// JobEnvelope is the canonical record for one unit of work. The adapter owns
// the authoritative copy; callers receive snapshots.
type JobEnvelope struct {
	ID           uuid.UUID  `db:"id" json:"job_id"`
	TraceID      string     `db:"trace_id" json:"trace_id"`
	Type         string     `db:"type" json:"type"`
	Payload      Payload    `db:"payload" json:"payload"`
	Status       string     `db:"status" json:"status"`
	Priority     int        `db:"priority" json:"priority"`
	Attempts     int        `db:"attempts" json:"attempts"`
	MaxAttempts  int        `db:"max_attempts" json:"max_attempts"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
	ScheduledFor time.Time  `db:"scheduled_for" json:"scheduled_for"`
	StartedAt    *time.Time `db:"started_at" json:"started_at,omitempty"`
	CompletedAt  *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	FailedAt     *time.Time `db:"failed_at" json:"failed_at,omitempty"`
	Error        *string    `db:"error" json:"error,omitempty"`
	WorkerID     *string    `db:"worker_id" json:"worker_id,omitempty"`

	// Result holds the completion result when the backing store keeps it.
	// The Postgres adapter does not persist results; only the in-memory
	// adapter fills this field.
	Result Payload `db:"-" json:"result,omitempty"`
}

// Terminal reports whether the envelope is in a terminal status.
func (e *JobEnvelope) Terminal() bool {
	return e.Status == StatusCompleted || e.Status == StatusFailed
}

// Clone returns a snapshot copy of the envelope.
func (e *JobEnvelope) Clone() *JobEnvelope {
	out := *e
	out.Payload = e.Payload.Clone()
	out.Result = e.Result.Clone()
	if e.StartedAt != nil {
		t := *e.StartedAt
		out.StartedAt = &t
	}
	if e.CompletedAt != nil {
		t := *e.CompletedAt
		out.CompletedAt = &t
	}
	if e.FailedAt != nil {
		t := *e.FailedAt
		out.FailedAt = &t
	}
	if e.Error != nil {
		s := *e.Error
		out.Error = &s
	}
	if e.WorkerID != nil {
		s := *e.WorkerID
		out.WorkerID = &s
	}
	return &out
}

// Validate checks the envelope against the schema and cross-field rules.
// Every envelope returned by an adapter is revalidated before it is
// surfaced to callers, catching storage drift early.
func (e *JobEnvelope) Validate() error {
	if e == nil {
		return &ValidationError{Field: "envelope", Reason: "must not be nil"}
	}
	if e.ID == uuid.Nil {
		return &ValidationError{Field: "job_id", Reason: "must be a non-zero UUID"}
	}
	if e.TraceID == "" {
		return &ValidationError{Field: "trace_id", Reason: "must not be empty"}
	}
	if e.Type == "" {
		return &ValidationError{Field: "type", Reason: "must not be empty"}
	}
	switch e.Status {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
	default:
		return &ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", e.Status)}
	}
	if e.Attempts < 0 {
		return &ValidationError{Field: "attempts", Reason: "must not be negative"}
	}
	if e.MaxAttempts < 1 {
		return &ValidationError{Field: "max_attempts", Reason: "must be positive"}
	}
	if e.CreatedAt.IsZero() {
		return &ValidationError{Field: "created_at", Reason: "must be set"}
	}
	if e.UpdatedAt.IsZero() {
		return &ValidationError{Field: "updated_at", Reason: "must be set"}
	}
	if e.ScheduledFor.IsZero() {
		return &ValidationError{Field: "scheduled_for", Reason: "must be set"}
	}
	if e.ScheduledFor.Before(e.CreatedAt) {
		return &ValidationError{Field: "scheduled_for", Reason: "must not precede created_at"}
	}

	switch e.Status {
	case StatusPending:
		if e.WorkerID != nil {
			return &ValidationError{Field: "worker_id", Reason: "must be null while pending"}
		}
	case StatusProcessing:
		if e.WorkerID == nil {
			return &ValidationError{Field: "worker_id", Reason: "must be set while processing"}
		}
		if e.StartedAt == nil {
			return &ValidationError{Field: "started_at", Reason: "must be set while processing"}
		}
	case StatusCompleted:
		if e.CompletedAt == nil {
			return &ValidationError{Field: "completed_at", Reason: "must be set on a completed job"}
		}
	case StatusFailed:
		if e.FailedAt == nil {
			return &ValidationError{Field: "failed_at", Reason: "must be set on a failed job"}
		}
	}

	if e.Terminal() && e.Attempts > e.MaxAttempts {
		return &ValidationError{Field: "attempts", Reason: "must not exceed max_attempts in a terminal status"}
	}
	return nil
}

// ResultEnvelope is the view returned from the Complete and Fail operations.
type ResultEnvelope struct {
	JobID       uuid.UUID `json:"job_id"`
	TraceID     string    `json:"trace_id"`
	Type        string    `json:"type"`
	Status      string    `json:"status"`
	Result      Payload   `json:"result,omitempty"`
	Error       *string   `json:"error,omitempty"`
	CompletedAt time.Time `json:"completed_at"`
}
