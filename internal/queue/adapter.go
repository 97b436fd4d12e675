package queue

import (
	"context"

	"github.com/google/uuid"
)

// Adapter is the narrow storage contract behind the queue. Claim, Complete
// and Fail are the only operations whose behavior differs between backends.
//
// Operations whose precondition is not met (job missing, or not in the
// required status) return (nil, nil) rather than an error, so retried calls
// stay idempotent. Storage failures are returned as errors and callers
// should assume nothing was committed unless they can verify otherwise.
type Adapter interface {
	// Initialize prepares backing storage. Idempotent, but callers must
	// sequence it before first use; it is not safe to race with itself.
	Initialize(ctx context.Context) error

	// Close releases all resources. Operations after Close fail.
	Close() error

	// Insert persists a fully-formed envelope and returns the stored copy,
	// with any storage-applied defaults filled in.
	Insert(ctx context.Context, env *JobEnvelope) (*JobEnvelope, error)

	// Claim atomically transitions one eligible pending job to processing
	// for workerName and returns it. An empty jobTypes slice means no type
	// filter. Returns (nil, nil) when no job is eligible.
	Claim(ctx context.Context, workerName string, jobTypes []string) (*JobEnvelope, error)

	// Complete transitions a processing job to completed.
	Complete(ctx context.Context, jobID uuid.UUID, result Payload) (*JobEnvelope, error)

	// Fail requeues a processing job with backoff when attempts remain,
	// or marks it terminally failed otherwise.
	Fail(ctx context.Context, jobID uuid.UUID, errMsg string) (*JobEnvelope, error)
}
