package postgres

import (
	"fmt"

	"github.com/lib/pq"
)

// envelopeColumns is every column of the jobs table, in scan order.
const envelopeColumns = "id, trace_id, type, payload, status, priority, attempts, max_attempts, " +
	"created_at, updated_at, scheduled_for, started_at, completed_at, failed_at, error, worker_id"

// bootstrapStatements returns the idempotent DDL for the namespace, the jobs
// table, and its indexes. The claim hot path is served by the partial index
// over (status, priority DESC, scheduled_for ASC) on pending rows.
func bootstrapStatements(schema, table string) []string {
	qualified := pq.QuoteIdentifier(schema) + "." + pq.QuoteIdentifier(table)
	index := func(suffix string) string {
		return pq.QuoteIdentifier(fmt.Sprintf("%s_%s_idx", table, suffix))
	}

	return []string{
		fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %s`, pq.QuoteIdentifier(schema)),

		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
				trace_id TEXT NOT NULL,
				type TEXT NOT NULL,
				payload JSONB NOT NULL DEFAULT '{}'::jsonb,
				status TEXT NOT NULL DEFAULT 'pending'
					CHECK (status IN ('pending', 'processing', 'completed', 'failed')),
				priority INTEGER NOT NULL DEFAULT 0,
				attempts INTEGER NOT NULL DEFAULT 0 CHECK (attempts >= 0),
				max_attempts INTEGER NOT NULL DEFAULT 3 CHECK (max_attempts >= 1),
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				scheduled_for TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				started_at TIMESTAMPTZ,
				completed_at TIMESTAMPTZ,
				failed_at TIMESTAMPTZ,
				error TEXT,
				worker_id TEXT
			)`, qualified),

		fmt.Sprintf(`
			CREATE INDEX IF NOT EXISTS %s ON %s (status, priority DESC, scheduled_for ASC)
			WHERE status = 'pending'`, index("claim"), qualified),

		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (type)`, index("type"), qualified),

		fmt.Sprintf(`
			CREATE INDEX IF NOT EXISTS %s ON %s (worker_id)
			WHERE worker_id IS NOT NULL`, index("worker"), qualified),

		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (trace_id)`, index("trace"), qualified),
	}
}
