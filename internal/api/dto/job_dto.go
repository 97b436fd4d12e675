package dto

import (
	"time"

	"github.com/cuongbtq/durable-queue/internal/queue"
)

// PublishJobRequest is the POST /api/v1/jobs body.
type PublishJobRequest struct {
	Type         string                 `json:"type" binding:"required"`
	Payload      map[string]interface{} `json:"payload" binding:"required"`
	Priority     *int                   `json:"priority"`
	MaxAttempts  *int                   `json:"max_attempts"`
	ScheduledFor *time.Time             `json:"scheduled_for"`
	TraceID      string                 `json:"trace_id"`
}

// PublishJobResponse identifies the accepted job.
type PublishJobResponse struct {
	JobID   string `json:"job_id"`
	TraceID string `json:"trace_id"`
}

// ListJobsRequest is the GET /api/v1/jobs query.
type ListJobsRequest struct {
	TraceID  string `form:"trace_id"`
	JobType  string `form:"type"`
	Status   string `form:"status"`
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
}

// ListJobsResponse carries one page of jobs.
type ListJobsResponse struct {
	Jobs       []JobDTO `json:"jobs"`
	NextCursor string   `json:"next_cursor,omitempty"`
}

// JobDTO is the API view of a job envelope.
type JobDTO struct {
	JobID        string                 `json:"job_id"`
	TraceID      string                 `json:"trace_id"`
	Type         string                 `json:"type"`
	Payload      map[string]interface{} `json:"payload"`
	Status       string                 `json:"status"`
	Priority     int                    `json:"priority"`
	Attempts     int                    `json:"attempts"`
	MaxAttempts  int                    `json:"max_attempts"`
	CreatedAt    string                 `json:"created_at"`
	UpdatedAt    string                 `json:"updated_at"`
	ScheduledFor string                 `json:"scheduled_for"`
	StartedAt    string                 `json:"started_at,omitempty"`
	CompletedAt  string                 `json:"completed_at,omitempty"`
	FailedAt     string                 `json:"failed_at,omitempty"`
	Error        string                 `json:"error,omitempty"`
	WorkerID     string                 `json:"worker_id,omitempty"`
}

// NewJobDTO maps an envelope into its API view.
func NewJobDTO(env *queue.JobEnvelope) JobDTO {
	dto := JobDTO{
		JobID:        env.ID.String(),
		TraceID:      env.TraceID,
		Type:         env.Type,
		Payload:      env.Payload,
		Status:       env.Status,
		Priority:     env.Priority,
		Attempts:     env.Attempts,
		MaxAttempts:  env.MaxAttempts,
		CreatedAt:    env.CreatedAt.Format(time.RFC3339),
		UpdatedAt:    env.UpdatedAt.Format(time.RFC3339),
		ScheduledFor: env.ScheduledFor.Format(time.RFC3339),
	}
	if env.StartedAt != nil {
		dto.StartedAt = env.StartedAt.Format(time.RFC3339)
	}
	if env.CompletedAt != nil {
		dto.CompletedAt = env.CompletedAt.Format(time.RFC3339)
	}
	if env.FailedAt != nil {
		dto.FailedAt = env.FailedAt.Format(time.RFC3339)
	}
	if env.Error != nil {
		dto.Error = *env.Error
	}
	if env.WorkerID != nil {
		dto.WorkerID = *env.WorkerID
	}
	return dto
}
