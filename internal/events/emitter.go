// Package events publishes terminal job lifecycle events to a RabbitMQ
// exchange for downstream consumers (audit trails, webhooks). The emitter
// is an observability surface only: it never sits on the claim path and
// workers never discover jobs through it.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/durable-queue/internal/queue"
	"github.com/cuongbtq/durable-queue/shared/rabbitmq"
)

// JobFinishedEvent is the wire shape published when a job reaches a
// terminal status.
type JobFinishedEvent struct {
	JobID      string    `json:"job_id"`
	TraceID    string    `json:"trace_id"`
	JobType    string    `json:"job_type"`
	Status     string    `json:"status"`
	Error      *string   `json:"error,omitempty"`
	FinishedAt time.Time `json:"finished_at"`
}

// Emitter publishes job lifecycle events.
type Emitter struct {
	client *rabbitmq.Client
	logger *slog.Logger
}

// New creates an Emitter over an established RabbitMQ client.
func New(client *rabbitmq.Client, logger *slog.Logger) *Emitter {
	return &Emitter{
		client: client,
		logger: logger,
	}
}

// JobFinished publishes a terminal outcome. Non-terminal results (a requeue
// reported by the Fail operation) are skipped silently.
func (e *Emitter) JobFinished(ctx context.Context, res *queue.ResultEnvelope) error {
	if res.Status != queue.StatusCompleted && res.Status != queue.StatusFailed {
		return nil
	}

	event := JobFinishedEvent{
		JobID:      res.JobID.String(),
		TraceID:    res.TraceID,
		JobType:    res.Type,
		Status:     res.Status,
		Error:      res.Error,
		FinishedAt: res.CompletedAt,
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal job event: %w", err)
	}

	if err := e.client.PublishWithRetry(ctx, body, "application/json"); err != nil {
		return fmt.Errorf("failed to publish job event: %w", err)
	}

	e.logger.Debug("Job lifecycle event published",
		slog.String("job_id", event.JobID),
		slog.String("status", event.Status),
	)

	return nil
}
