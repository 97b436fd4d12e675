// Package storage is the read side of the API service: direct queries over
// the jobs table for fetching and listing envelopes. All writes go through
// the queue operations layer.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/cuongbtq/durable-queue/internal/queue"
	"github.com/cuongbtq/durable-queue/shared/postgresql"
)

// ErrJobNotFound is returned when a job cannot be found in the database
var ErrJobNotFound = errors.New("job not found")

const envelopeColumns = "id, trace_id, type, payload, status, priority, attempts, max_attempts, " +
	"created_at, updated_at, scheduled_for, started_at, completed_at, failed_at, error, worker_id"

// Storage handles read-only job queries for the API service.
type Storage struct {
	db    *sqlx.DB
	table string
}

// NewStorage creates a Storage over the given client, reading from
// schema.table.
func NewStorage(pg *postgresql.Client, schema, table string) *Storage {
	return &Storage{
		db:    pg.GetDB(),
		table: pq.QuoteIdentifier(schema) + "." + pq.QuoteIdentifier(table),
	}
}

// GetJob retrieves one job envelope by id.
func (s *Storage) GetJob(ctx context.Context, jobID uuid.UUID) (*queue.JobEnvelope, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, envelopeColumns, s.table)

	var env queue.JobEnvelope
	if err := s.db.GetContext(ctx, &env, query, jobID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return &env, nil
}

// JobFilter narrows a job listing.
type JobFilter struct {
	TraceID  string
	JobType  string
	Status   string
	PageSize int
	Cursor   *JobCursor
}

// JobCursor is the keyset position for paginating job listings.
type JobCursor struct {
	CreatedAt time.Time
	JobID     uuid.UUID
}

// ListJobs returns up to PageSize+1 jobs matching the filter, newest first.
// The extra row tells the caller whether more results exist.
func (s *Storage) ListJobs(ctx context.Context, filter JobFilter) ([]queue.JobEnvelope, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE 1=1`, envelopeColumns, s.table)
	args := []interface{}{}
	argIdx := 1

	// Filters
	if filter.TraceID != "" {
		query += fmt.Sprintf(" AND trace_id = $%d", argIdx)
		args = append(args, filter.TraceID)
		argIdx++
	}

	if filter.JobType != "" {
		query += fmt.Sprintf(" AND type = $%d", argIdx)
		args = append(args, filter.JobType)
		argIdx++
	}

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, filter.Status)
		argIdx++
	}

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (created_at, id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.JobID)
		argIdx += 2
	}

	// Order by created_at DESC, id DESC for consistent pagination
	query += " ORDER BY created_at DESC, id DESC"

	// Fetch one extra to determine if there are more results
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, filter.PageSize+1)

	var jobs []queue.JobEnvelope
	if err := s.db.SelectContext(ctx, &jobs, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	return jobs, nil
}
