// Package postgres provides the durable queue adapter. It is the
// authoritative backend: all cross-process ordering is mediated by the
// database, and the atomic claim relies on FOR UPDATE SKIP LOCKED so
// concurrent claimers never block each other on contended rows.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/cuongbtq/durable-queue/internal/queue"
	"github.com/cuongbtq/durable-queue/shared/postgresql"
)

const (
	// DefaultSchema is the namespace the jobs table lives in.
	DefaultSchema = "queue"
	// DefaultTable is the jobs table name.
	DefaultTable = "jobs"
)

// Config holds the adapter configuration. Either ConnString or the discrete
// connection parameters must be set; Schema and Table default to "queue"
// and "jobs".
type Config struct {
	ConnString string

	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string

	Schema string
	Table  string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

func (c *Config) schema() string {
	if c.Schema == "" {
		return DefaultSchema
	}
	return c.Schema
}

func (c *Config) table() string {
	if c.Table == "" {
		return DefaultTable
	}
	return c.Table
}

func (c *Config) validate() error {
	if c.ConnString == "" && (c.Host == "" || c.Database == "") {
		return fmt.Errorf("postgres adapter requires a connection string or host and database")
	}
	return nil
}

// Adapter is the durable queue adapter over PostgreSQL.
type Adapter struct {
	config Config
	logger *slog.Logger

	mu     sync.Mutex
	client *postgresql.Client
	closed bool

	insertQuery   string
	claimQuery    string
	completeQuery string
	failQuery     string
}

// New creates a Postgres adapter. No connection is made until Initialize.
func New(config Config, logger *slog.Logger) *Adapter {
	a := &Adapter{
		config: config,
		logger: logger,
	}
	a.buildQueries()
	return a
}

// buildQueries renders the fixed statements against the configured
// schema and table.
func (a *Adapter) buildQueries() {
	qualified := pq.QuoteIdentifier(a.config.schema()) + "." + pq.QuoteIdentifier(a.config.table())

	a.insertQuery = fmt.Sprintf(`
		INSERT INTO %s (id, trace_id, type, payload, status, priority, attempts, max_attempts, scheduled_for)
		VALUES (COALESCE($1, gen_random_uuid()), $2, $3, $4, $5, $6, $7, $8, COALESCE($9, NOW()))
		RETURNING %s`, qualified, envelopeColumns)

	// The inner select takes a row lock only; rows locked by a concurrent
	// claimer are skipped rather than waited on, so at most one claimer
	// wins each job and idle claimers see an empty result.
	a.claimQuery = fmt.Sprintf(`
		UPDATE %[1]s SET
			status = 'processing',
			worker_id = $1,
			attempts = attempts + 1,
			started_at = NOW(),
			updated_at = NOW()
		WHERE id = (
			SELECT id FROM %[1]s
			WHERE status = 'pending'
			  AND scheduled_for <= NOW()
			  AND (cardinality($2::text[]) = 0 OR type = ANY($2::text[]))
			ORDER BY priority DESC, scheduled_for ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING %[2]s`, qualified, envelopeColumns)

	a.completeQuery = fmt.Sprintf(`
		UPDATE %s SET
			status = 'completed',
			completed_at = NOW(),
			updated_at = NOW()
		WHERE id = $1 AND status = 'processing'
		RETURNING %s`, qualified, envelopeColumns)

	// Branches on the post-claim attempt count. worker_id is retained on a
	// terminal failure; on requeue the backoff is computed in SQL from the
	// stored attempts so concurrent clocks cannot disagree.
	a.failQuery = fmt.Sprintf(`
		UPDATE %s SET
			status = CASE WHEN attempts >= max_attempts THEN 'failed' ELSE 'pending' END,
			error = $2,
			failed_at = CASE WHEN attempts >= max_attempts THEN NOW() ELSE failed_at END,
			worker_id = CASE WHEN attempts >= max_attempts THEN worker_id ELSE NULL END,
			scheduled_for = CASE WHEN attempts >= max_attempts THEN scheduled_for
				ELSE NOW() + attempts * ($3 * INTERVAL '1 second') END,
			updated_at = NOW()
		WHERE id = $1 AND status = 'processing'
		RETURNING %s`, qualified, envelopeColumns)
}

// Initialize connects to the database and bootstraps the namespace, table,
// and indexes. Idempotent; configuration problems surface here.
func (a *Adapter) Initialize(ctx context.Context) error {
	if err := a.config.validate(); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return queue.ErrAdapterClosed
	}

	if a.client == nil {
		client, err := postgresql.NewClient(ctx, &postgresql.Config{
			ConnString:      a.config.ConnString,
			Host:            a.config.Host,
			Port:            a.config.Port,
			User:            a.config.User,
			Password:        a.config.Password,
			Database:        a.config.Database,
			SSLMode:         a.config.SSLMode,
			MaxOpenConns:    a.config.MaxOpenConns,
			MaxIdleConns:    a.config.MaxIdleConns,
			ConnMaxLifetime: a.config.ConnMaxLifetime,
			ConnMaxIdleTime: a.config.ConnMaxIdleTime,
		}, a.logger)
		if err != nil {
			return fmt.Errorf("failed to configure postgres adapter: %w", err)
		}
		a.client = client
	}

	db := a.client.GetDB()
	for _, stmt := range bootstrapStatements(a.config.schema(), a.config.table()) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to bootstrap queue schema: %w", err)
		}
	}

	a.logger.Info("Queue schema ready",
		slog.String("schema", a.config.schema()),
		slog.String("table", a.config.table()),
	)

	return nil
}

// Close releases the connection pool. Terminal.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	if a.client != nil {
		return a.client.Close()
	}
	return nil
}

// Client exposes the underlying database client so callers can share the
// connection pool for read-only queries. Nil before Initialize.
func (a *Adapter) Client() *postgresql.Client {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.client
}

func (a *Adapter) db() (*postgresql.Client, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil, queue.ErrAdapterClosed
	}
	if a.client == nil {
		return nil, queue.ErrNotInitialized
	}
	return a.client, nil
}

// Insert persists the envelope and returns the stored row. The database
// generates the id when the envelope carries a zero UUID, and stamps
// created_at and updated_at with its own clock.
func (a *Adapter) Insert(ctx context.Context, env *queue.JobEnvelope) (*queue.JobEnvelope, error) {
	client, err := a.db()
	if err != nil {
		return nil, err
	}

	var idArg interface{}
	if env.ID != uuid.Nil {
		idArg = env.ID
	}
	// Only an explicitly future schedule is passed through; otherwise the
	// database default keeps scheduled_for equal to created_at.
	var scheduledArg interface{}
	if !env.ScheduledFor.IsZero() && env.ScheduledFor.After(env.CreatedAt) {
		scheduledArg = env.ScheduledFor
	}

	maxAttempts := env.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = queue.DefaultMaxAttempts
	}
	status := env.Status
	if status == "" {
		status = queue.StatusPending
	}

	var stored queue.JobEnvelope
	err = client.GetDB().QueryRowxContext(ctx, a.insertQuery,
		idArg,
		env.TraceID,
		env.Type,
		env.Payload,
		status,
		env.Priority,
		env.Attempts,
		maxAttempts,
		scheduledArg,
	).StructScan(&stored)
	if err != nil {
		return nil, fmt.Errorf("failed to insert job: %w", err)
	}

	return &stored, nil
}

// Claim atomically claims the highest-priority eligible pending job for
// workerName. Returns (nil, nil) when no row is eligible.
func (a *Adapter) Claim(ctx context.Context, workerName string, jobTypes []string) (*queue.JobEnvelope, error) {
	client, err := a.db()
	if err != nil {
		return nil, err
	}

	if jobTypes == nil {
		jobTypes = []string{}
	}

	var claimed queue.JobEnvelope
	err = client.GetDB().QueryRowxContext(ctx, a.claimQuery,
		workerName,
		pq.Array(jobTypes),
	).StructScan(&claimed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}

	return &claimed, nil
}

// Complete transitions a processing job to completed. The completion result
// is not persisted; callers receive it echoed back through the operations
// layer. Returns (nil, nil) when the job is missing or not in processing.
func (a *Adapter) Complete(ctx context.Context, jobID uuid.UUID, result queue.Payload) (*queue.JobEnvelope, error) {
	client, err := a.db()
	if err != nil {
		return nil, err
	}

	var updated queue.JobEnvelope
	err = client.GetDB().QueryRowxContext(ctx, a.completeQuery, jobID).StructScan(&updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to complete job: %w", err)
	}

	return &updated, nil
}

// Fail requeues a processing job with linear backoff when attempts remain,
// or marks it terminally failed otherwise. Returns (nil, nil) when the job
// is missing or not in processing.
func (a *Adapter) Fail(ctx context.Context, jobID uuid.UUID, errMsg string) (*queue.JobEnvelope, error) {
	client, err := a.db()
	if err != nil {
		return nil, err
	}

	var updated queue.JobEnvelope
	err = client.GetDB().QueryRowxContext(ctx, a.failQuery,
		jobID,
		errMsg,
		int64(queue.RetryBackoffStep/time.Second),
	).StructScan(&updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to fail job: %w", err)
	}

	return &updated, nil
}
