package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cuongbtq/durable-queue/internal/events"
	"github.com/cuongbtq/durable-queue/internal/queue"
)

// Handler executes one claimed job and returns its completion result.
// A returned error reports the job failed; the retry budget decides whether
// it is requeued or terminally failed.
type Handler func(ctx context.Context, job *queue.JobEnvelope) (queue.Payload, error)

// Config holds worker configuration
type Config struct {
	Logger       *slog.Logger
	Queue        *queue.Queue
	Emitter      *events.Emitter // optional; nil disables lifecycle events
	Concurrency  int
	PollInterval time.Duration
	JobTimeout   time.Duration
}

// Worker claims and executes jobs. It spawns Concurrency goroutines, each
// polling the queue on its own ticker; workers discover jobs by polling
// only.
type Worker struct {
	logger       *slog.Logger
	queue        *queue.Queue
	emitter      *events.Emitter
	workerID     string
	concurrency  int
	pollInterval time.Duration
	jobTimeout   time.Duration

	mu       sync.RWMutex
	handlers map[string]Handler

	wg       sync.WaitGroup
	stopChan chan struct{}
}

// NewWorker creates a new worker instance. A random workerID distinguishes
// this process in the worker_id column.
func NewWorker(cfg *Config) *Worker {
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}

	return &Worker{
		logger:       cfg.Logger,
		queue:        cfg.Queue,
		emitter:      cfg.Emitter,
		workerID:     uuid.New().String(),
		concurrency:  cfg.Concurrency,
		pollInterval: pollInterval,
		jobTimeout:   cfg.JobTimeout,
		handlers:     make(map[string]Handler),
		stopChan:     make(chan struct{}),
	}
}

// Register associates h with jobType. Must be called before Start.
func (w *Worker) Register(jobType string, h Handler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers[jobType] = h
}

// jobTypes returns the registered types, used as the claim filter.
func (w *Worker) jobTypes() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	types := make([]string, 0, len(w.handlers))
	for t := range w.handlers {
		types = append(types, t)
	}
	return types
}

// Start spawns the worker pool and blocks until ctx is canceled.
func (w *Worker) Start(ctx context.Context) error {
	if len(w.jobTypes()) == 0 {
		return fmt.Errorf("no job handlers registered")
	}

	w.logger.Info("Starting worker",
		slog.String("worker_id", w.workerID),
		slog.Int("concurrency", w.concurrency),
		slog.Duration("poll_interval", w.pollInterval),
		slog.Duration("job_timeout", w.jobTimeout),
	)

	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.workerLoop(ctx, i)
	}

	<-ctx.Done()
	w.logger.Info("Worker context canceled, stopping...")
	return nil
}

// Stop gracefully stops the worker and waits for in-flight jobs.
func (w *Worker) Stop() {
	w.logger.Info("Stopping worker...")
	close(w.stopChan)
	w.wg.Wait()
	w.logger.Info("Worker stopped")
}

// workerLoop polls the queue until the worker stops. Claim errors are
// logged and the loop continues on the next tick.
func (w *Worker) workerLoop(ctx context.Context, workerNum int) {
	defer w.wg.Done()

	workerName := fmt.Sprintf("%s-%d", w.workerID, workerNum)
	w.logger.Info("Worker goroutine started",
		slog.String("worker_name", workerName),
	)

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopChan:
			w.logger.Info("Worker goroutine stopping - stopChan closed",
				slog.String("worker_name", workerName),
			)
			return

		case <-ctx.Done():
			w.logger.Info("Worker goroutine stopping - context canceled",
				slog.String("worker_name", workerName),
			)
			return

		case <-ticker.C:
			job, err := w.queue.ClaimNext(ctx, workerName, w.jobTypes())
			if err != nil {
				w.logger.Error("Failed to claim job",
					slog.String("worker_name", workerName),
					slog.Any("error", err),
				)
				continue
			}
			if job == nil {
				continue // nothing eligible; normal case
			}

			w.processJob(ctx, workerName, job)
		}
	}
}
