package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/durable-queue/internal/queue"
)

// processJob executes one claimed job and reports the outcome back to the
// queue.
func (w *Worker) processJob(ctx context.Context, workerName string, job *queue.JobEnvelope) {
	w.logger.Info("Processing job",
		slog.String("worker_name", workerName),
		slog.String("job_id", job.ID.String()),
		slog.String("trace_id", job.TraceID),
		slog.String("job_type", job.Type),
		slog.Int("attempts", job.Attempts),
	)

	w.mu.RLock()
	handler := w.handlers[job.Type]
	w.mu.RUnlock()

	if handler == nil {
		// The claim filter should prevent this; fail the job so it is not
		// stuck in processing.
		w.reportFailure(ctx, workerName, job, fmt.Errorf("no handler registered for job type %q", job.Type))
		return
	}

	jobCtx := ctx
	if w.jobTimeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(ctx, w.jobTimeout)
		defer cancel()
	}

	result, err := handler(jobCtx, job)
	if err != nil {
		w.reportFailure(ctx, workerName, job, err)
		return
	}

	res, err := w.queue.Complete(ctx, queue.CompleteInput{JobID: job.ID, Result: result})
	if err != nil {
		w.logger.Error("Failed to complete job",
			slog.String("worker_name", workerName),
			slog.String("job_id", job.ID.String()),
			slog.Any("error", err),
		)
		return
	}
	if res == nil {
		w.logger.Warn("Job no longer in processing, completion dropped",
			slog.String("worker_name", workerName),
			slog.String("job_id", job.ID.String()),
		)
		return
	}

	w.logger.Info("Job completed successfully",
		slog.String("worker_name", workerName),
		slog.String("job_id", job.ID.String()),
		slog.String("job_type", job.Type),
	)

	w.emitFinished(ctx, res)
}

// reportFailure reports a failed execution; the queue decides between a
// backoff requeue and a terminal failure.
func (w *Worker) reportFailure(ctx context.Context, workerName string, job *queue.JobEnvelope, execErr error) {
	w.logger.Error("Job execution failed",
		slog.String("worker_name", workerName),
		slog.String("job_id", job.ID.String()),
		slog.String("job_type", job.Type),
		slog.Any("error", execErr),
	)

	res, err := w.queue.Fail(ctx, queue.FailInput{JobID: job.ID, Error: execErr.Error()})
	if err != nil {
		w.logger.Error("Failed to report job failure",
			slog.String("worker_name", workerName),
			slog.String("job_id", job.ID.String()),
			slog.Any("error", err),
		)
		return
	}
	if res == nil {
		w.logger.Warn("Job no longer in processing, failure dropped",
			slog.String("worker_name", workerName),
			slog.String("job_id", job.ID.String()),
		)
		return
	}

	w.emitFinished(ctx, res)
}

// emitFinished publishes a lifecycle event for terminal outcomes when an
// emitter is configured.
func (w *Worker) emitFinished(ctx context.Context, res *queue.ResultEnvelope) {
	if w.emitter == nil {
		return
	}

	emitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := w.emitter.JobFinished(emitCtx, res); err != nil {
		w.logger.Warn("Failed to publish job lifecycle event",
			slog.String("job_id", res.JobID.String()),
			slog.Any("error", err),
		)
	}
}
