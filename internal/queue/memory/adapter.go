// Package memory provides an in-process queue adapter with the same
// observable semantics as the Postgres adapter. It keeps everything in a
// map and is meant for tests and single-process development; Claim is not
// safe under true parallelism beyond the mutex serializing each call.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cuongbtq/durable-queue/internal/queue"
)

// Adapter is the in-memory queue adapter.
type Adapter struct {
	mu          sync.Mutex
	jobs        map[uuid.UUID]*queue.JobEnvelope
	order       []uuid.UUID
	now         func() time.Time
	initialized bool
	closed      bool
}

// New creates an in-memory adapter using the host clock.
func New() *Adapter {
	return NewWithClock(time.Now)
}

// NewWithClock creates an in-memory adapter with an injectable clock so
// tests can drive schedule gating and backoff deterministically.
func NewWithClock(now func() time.Time) *Adapter {
	if now == nil {
		now = time.Now
	}
	return &Adapter{now: now}
}

// Initialize prepares the adapter. Idempotent.
func (a *Adapter) Initialize(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return queue.ErrAdapterClosed
	}
	if a.jobs == nil {
		a.jobs = make(map[uuid.UUID]*queue.JobEnvelope)
	}
	a.initialized = true
	return nil
}

// Close releases the adapter. Further operations fail.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	a.jobs = nil
	a.order = nil
	return nil
}

func (a *Adapter) checkReady() error {
	if a.closed {
		return queue.ErrAdapterClosed
	}
	if !a.initialized {
		return queue.ErrNotInitialized
	}
	return nil
}

// Insert stores a copy of the envelope, filling storage defaults for a
// missing id, timestamps, and schedule.
func (a *Adapter) Insert(ctx context.Context, env *queue.JobEnvelope) (*queue.JobEnvelope, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.checkReady(); err != nil {
		return nil, err
	}

	stored := env.Clone()
	now := a.now()
	if stored.ID == uuid.Nil {
		stored.ID = uuid.New()
	}
	if stored.Status == "" {
		stored.Status = queue.StatusPending
	}
	if stored.MaxAttempts == 0 {
		stored.MaxAttempts = queue.DefaultMaxAttempts
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	if stored.UpdatedAt.IsZero() {
		stored.UpdatedAt = now
	}
	if stored.ScheduledFor.IsZero() {
		stored.ScheduledFor = stored.CreatedAt
	}

	a.jobs[stored.ID] = stored
	a.order = append(a.order, stored.ID)
	return stored.Clone(), nil
}

// Claim scans for the eligible pending job with the highest priority and
// earliest schedule, ties broken by insertion order, and transitions it to
// processing for workerName.
func (a *Adapter) Claim(ctx context.Context, workerName string, jobTypes []string) (*queue.JobEnvelope, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.checkReady(); err != nil {
		return nil, err
	}

	now := a.now()

	var eligible []*queue.JobEnvelope
	for _, id := range a.order {
		env := a.jobs[id]
		if env.Status != queue.StatusPending {
			continue
		}
		if env.ScheduledFor.After(now) {
			continue
		}
		if len(jobTypes) > 0 && !containsType(jobTypes, env.Type) {
			continue
		}
		eligible = append(eligible, env)
	}
	if len(eligible) == 0 {
		return nil, nil
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		if eligible[i].Priority != eligible[j].Priority {
			return eligible[i].Priority > eligible[j].Priority
		}
		return eligible[i].ScheduledFor.Before(eligible[j].ScheduledFor)
	})

	env := eligible[0]
	started := now
	worker := workerName
	env.Status = queue.StatusProcessing
	env.Attempts++
	env.StartedAt = &started
	env.WorkerID = &worker
	env.UpdatedAt = now

	return env.Clone(), nil
}

// Complete transitions a processing job to completed and stores the result
// inside the envelope. Returns (nil, nil) when the job is missing or not in
// processing.
func (a *Adapter) Complete(ctx context.Context, jobID uuid.UUID, result queue.Payload) (*queue.JobEnvelope, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.checkReady(); err != nil {
		return nil, err
	}

	env, ok := a.jobs[jobID]
	if !ok || env.Status != queue.StatusProcessing {
		return nil, nil
	}

	now := a.now()
	completed := now
	env.Status = queue.StatusCompleted
	env.CompletedAt = &completed
	env.UpdatedAt = now
	env.Result = result.Clone()

	return env.Clone(), nil
}

// Fail applies the retry rule to a processing job: requeue with linear
// backoff while attempts remain, terminal failed otherwise. Returns
// (nil, nil) when the job is missing or not in processing.
func (a *Adapter) Fail(ctx context.Context, jobID uuid.UUID, errMsg string) (*queue.JobEnvelope, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.checkReady(); err != nil {
		return nil, err
	}

	env, ok := a.jobs[jobID]
	if !ok || env.Status != queue.StatusProcessing {
		return nil, nil
	}

	now := a.now()
	msg := errMsg
	env.Error = &msg
	env.UpdatedAt = now

	if env.Attempts >= env.MaxAttempts {
		failed := now
		env.Status = queue.StatusFailed
		env.FailedAt = &failed
		// worker_id is retained on a terminal failure for forensics.
	} else {
		env.Status = queue.StatusPending
		env.WorkerID = nil
		env.ScheduledFor = now.Add(time.Duration(env.Attempts) * queue.RetryBackoffStep)
	}

	return env.Clone(), nil
}

func containsType(types []string, t string) bool {
	for _, candidate := range types {
		if candidate == t {
			return true
		}
	}
	return false
}
