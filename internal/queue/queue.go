package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Queue is the stateless operations layer over an Adapter. It generates
// identifiers, assembles envelopes, and translates adapter results into
// caller-facing shapes.
type Queue struct {
	adapter Adapter
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures a Queue.
type Option func(*Queue)

// WithClock overrides the clock used when filling envelope defaults.
// Intended for tests; the Postgres adapter stamps rows with the database
// clock regardless.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) {
		q.now = now
	}
}

// New creates a Queue over the given adapter.
func New(adapter Adapter, logger *slog.Logger, opts ...Option) *Queue {
	q := &Queue{
		adapter: adapter,
		logger:  logger,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// PublishReceipt identifies a freshly published job.
type PublishReceipt struct {
	JobID   uuid.UUID `json:"job_id"`
	TraceID string    `json:"trace_id"`
}

// Publish validates the input, assembles a pending envelope with defaults
// filled, persists it, and returns the job and trace identifiers.
func (q *Queue) Publish(ctx context.Context, in PublishInput) (*PublishReceipt, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	now := q.now()

	env := &JobEnvelope{
		ID:           uuid.New(),
		TraceID:      in.TraceID,
		Type:         in.Type,
		Payload:      in.Payload,
		Status:       StatusPending,
		Priority:     DefaultPriority,
		MaxAttempts:  DefaultMaxAttempts,
		CreatedAt:    now,
		UpdatedAt:    now,
		ScheduledFor: now,
	}
	if env.TraceID == "" {
		env.TraceID = uuid.New().String()
	}
	if in.Priority != nil {
		env.Priority = *in.Priority
	}
	if in.MaxAttempts != nil {
		env.MaxAttempts = *in.MaxAttempts
	}
	// A scheduled_for in the past is treated as "eligible now" so the
	// stored envelope keeps scheduled_for >= created_at.
	if in.ScheduledFor != nil && in.ScheduledFor.After(now) {
		env.ScheduledFor = *in.ScheduledFor
	}

	stored, err := q.adapter.Insert(ctx, env)
	if err != nil {
		return nil, fmt.Errorf("failed to insert job: %w", err)
	}
	if err := stored.Validate(); err != nil {
		return nil, fmt.Errorf("adapter returned invalid envelope: %w", err)
	}

	q.logger.Info("Job published",
		slog.String("job_id", stored.ID.String()),
		slog.String("trace_id", stored.TraceID),
		slog.String("job_type", stored.Type),
		slog.Int("priority", stored.Priority),
	)

	return &PublishReceipt{JobID: stored.ID, TraceID: stored.TraceID}, nil
}

// ClaimNext claims one eligible pending job for workerName, or returns
// (nil, nil) when none is available. An empty jobTypes slice disables the
// type filter.
func (q *Queue) ClaimNext(ctx context.Context, workerName string, jobTypes []string) (*JobEnvelope, error) {
	if workerName == "" {
		return nil, &ValidationError{Field: "worker_name", Reason: "must not be empty"}
	}

	env, err := q.adapter.Claim(ctx, workerName, jobTypes)
	if err != nil {
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}
	if env == nil {
		return nil, nil
	}
	if err := env.Validate(); err != nil {
		return nil, fmt.Errorf("adapter returned invalid envelope: %w", err)
	}

	q.logger.Debug("Job claimed",
		slog.String("job_id", env.ID.String()),
		slog.String("job_type", env.Type),
		slog.String("worker_id", workerName),
		slog.Int("attempts", env.Attempts),
	)

	return env, nil
}

// Complete transitions a processing job to completed and returns its
// ResultEnvelope. Returns (nil, nil) when the job is missing or not in
// processing. The result map is echoed back from the caller's input; the
// durable adapter does not persist it.
func (q *Queue) Complete(ctx context.Context, in CompleteInput) (*ResultEnvelope, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	env, err := q.adapter.Complete(ctx, in.JobID, in.Result)
	if err != nil {
		return nil, fmt.Errorf("failed to complete job: %w", err)
	}
	if env == nil {
		return nil, nil
	}
	if err := env.Validate(); err != nil {
		return nil, fmt.Errorf("adapter returned invalid envelope: %w", err)
	}

	q.logger.Info("Job completed",
		slog.String("job_id", env.ID.String()),
		slog.String("job_type", env.Type),
	)

	completedAt := env.UpdatedAt
	if env.CompletedAt != nil {
		completedAt = *env.CompletedAt
	}

	return &ResultEnvelope{
		JobID:       env.ID,
		TraceID:     env.TraceID,
		Type:        env.Type,
		Status:      StatusCompleted,
		Result:      in.Result,
		CompletedAt: completedAt,
	}, nil
}

// Fail reports a processing job failed and returns its ResultEnvelope.
// The envelope's status reflects the actual outcome: "failed" when the
// attempt budget is exhausted, "pending" when the job was requeued with
// backoff. Returns (nil, nil) when the job is missing or not in processing.
func (q *Queue) Fail(ctx context.Context, in FailInput) (*ResultEnvelope, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	env, err := q.adapter.Fail(ctx, in.JobID, in.Error)
	if err != nil {
		return nil, fmt.Errorf("failed to fail job: %w", err)
	}
	if env == nil {
		return nil, nil
	}
	if err := env.Validate(); err != nil {
		return nil, fmt.Errorf("adapter returned invalid envelope: %w", err)
	}

	if env.Status == StatusFailed {
		q.logger.Warn("Job failed terminally",
			slog.String("job_id", env.ID.String()),
			slog.String("job_type", env.Type),
			slog.Int("attempts", env.Attempts),
			slog.String("error", in.Error),
		)
	} else {
		q.logger.Info("Job requeued for retry",
			slog.String("job_id", env.ID.String()),
			slog.String("job_type", env.Type),
			slog.Int("attempts", env.Attempts),
			slog.Time("scheduled_for", env.ScheduledFor),
		)
	}

	completedAt := env.UpdatedAt
	if env.FailedAt != nil {
		completedAt = *env.FailedAt
	}

	return &ResultEnvelope{
		JobID:       env.ID,
		TraceID:     env.TraceID,
		Type:        env.Type,
		Status:      env.Status,
		Error:       env.Error,
		CompletedAt: completedAt,
	}, nil
}
