package postgres

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/durable-queue/internal/queue"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}
	assert.Equal(t, DefaultSchema, cfg.schema())
	assert.Equal(t, DefaultTable, cfg.table())

	cfg = Config{Schema: "work", Table: "tasks"}
	assert.Equal(t, "work", cfg.schema())
	assert.Equal(t, "tasks", cfg.table())
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{
			name:   "conn string only",
			config: Config{ConnString: "postgres://u:p@localhost:5432/db"},
		},
		{
			name:   "discrete parameters",
			config: Config{Host: "localhost", Database: "db"},
		},
		{
			name:    "nothing set",
			config:  Config{},
			wantErr: true,
		},
		{
			name:    "host without database",
			config:  Config{Host: "localhost"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestBuildQueriesQuotesIdentifiers(t *testing.T) {
	adapter := New(Config{
		ConnString: "postgres://localhost/db",
		Schema:     "my schema",
		Table:      "Jobs",
	}, testLogger())

	for _, q := range []string{adapter.insertQuery, adapter.claimQuery, adapter.completeQuery, adapter.failQuery} {
		assert.Contains(t, q, `"my schema"."Jobs"`)
	}
}

func TestClaimQueryShape(t *testing.T) {
	adapter := New(Config{ConnString: "postgres://localhost/db"}, testLogger())

	assert.Contains(t, adapter.claimQuery, "FOR UPDATE SKIP LOCKED")
	assert.Contains(t, adapter.claimQuery, "ORDER BY priority DESC, scheduled_for ASC")
	assert.Contains(t, adapter.claimQuery, "attempts = attempts + 1")
	assert.Contains(t, adapter.claimQuery, "LIMIT 1")
	assert.Contains(t, adapter.claimQuery, `"queue"."jobs"`)
}

func TestFailQueryComputesBackoffInSQL(t *testing.T) {
	adapter := New(Config{ConnString: "postgres://localhost/db"}, testLogger())

	assert.Contains(t, adapter.failQuery, "attempts >= max_attempts")
	assert.Contains(t, adapter.failQuery, "INTERVAL '1 second'")
	assert.Contains(t, adapter.failQuery, "status = 'processing'")
}

func TestBootstrapStatementsAreIdempotent(t *testing.T) {
	stmts := bootstrapStatements("queue", "jobs")
	require.Len(t, stmts, 6)

	assert.Contains(t, stmts[0], "CREATE SCHEMA IF NOT EXISTS")
	assert.Contains(t, stmts[1], "CREATE TABLE IF NOT EXISTS")
	for _, stmt := range stmts[2:] {
		assert.Contains(t, stmt, "CREATE INDEX IF NOT EXISTS")
	}

	// The claim hot path index is partial on pending rows.
	assert.Contains(t, stmts[2], "WHERE status = 'pending'")
	assert.Contains(t, stmts[2], "priority DESC, scheduled_for ASC")
}

func TestInitializeRejectsMissingConfig(t *testing.T) {
	adapter := New(Config{}, testLogger())
	err := adapter.Initialize(context.Background())
	require.Error(t, err)
	assert.False(t, strings.Contains(err.Error(), "ping"), "misconfiguration must fail before any connection attempt")
}

func TestOperationsBeforeInitializeFail(t *testing.T) {
	adapter := New(Config{ConnString: "postgres://localhost/db"}, testLogger())

	_, err := adapter.Insert(context.Background(), &queue.JobEnvelope{})
	assert.ErrorIs(t, err, queue.ErrNotInitialized)
}

// liveAdapter connects to the database named by QUEUE_TEST_DATABASE_URL, or
// skips the test when the variable is unset. Each test gets its own table so
// runs stay independent.
func liveAdapter(t *testing.T) *Adapter {
	t.Helper()

	connString := os.Getenv("QUEUE_TEST_DATABASE_URL")
	if connString == "" {
		t.Skip("QUEUE_TEST_DATABASE_URL not set; skipping live database test")
	}

	table := "jobs_" + strings.ReplaceAll(uuid.New().String(), "-", "")
	adapter := New(Config{
		ConnString: connString,
		Schema:     "queue_test",
		Table:      table,
	}, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	require.NoError(t, adapter.Initialize(ctx))
	t.Cleanup(func() { adapter.Close() })

	return adapter
}

func TestLiveRoundTrip(t *testing.T) {
	adapter := liveAdapter(t)
	ctx := context.Background()

	payload := queue.Payload{
		"to":     "u@e.com",
		"count":  float64(3),
		"nested": map[string]interface{}{"deep": []interface{}{"a", "b"}},
	}

	stored, err := adapter.Insert(ctx, &queue.JobEnvelope{
		TraceID: "trace-live",
		Type:    "email",
		Payload: payload,
		Status:  queue.StatusPending,
	})
	require.NoError(t, err)
	require.NoError(t, stored.Validate())
	assert.NotEqual(t, uuid.Nil, stored.ID)
	assert.Equal(t, payload, stored.Payload)

	claimed, err := adapter.Claim(ctx, "worker-live", nil)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	require.NoError(t, claimed.Validate())
	assert.Equal(t, stored.ID, claimed.ID)
	assert.Equal(t, 1, claimed.Attempts)
	assert.Equal(t, payload, claimed.Payload)

	completed, err := adapter.Complete(ctx, claimed.ID, nil)
	require.NoError(t, err)
	require.NotNil(t, completed)
	assert.Equal(t, queue.StatusCompleted, completed.Status)
	require.NotNil(t, completed.CompletedAt)

	// Terminal states are sinks.
	again, err := adapter.Complete(ctx, claimed.ID, nil)
	require.NoError(t, err)
	assert.Nil(t, again)
}

func TestLiveFailRequeuesWithBackoff(t *testing.T) {
	adapter := liveAdapter(t)
	ctx := context.Background()

	stored, err := adapter.Insert(ctx, &queue.JobEnvelope{
		TraceID:     "trace-retry",
		Type:        "flaky",
		Payload:     queue.Payload{},
		Status:      queue.StatusPending,
		MaxAttempts: 2,
	})
	require.NoError(t, err)

	claimed, err := adapter.Claim(ctx, "worker-live", nil)
	require.NoError(t, err)
	require.NotNil(t, claimed)

	requeued, err := adapter.Fail(ctx, stored.ID, "boom")
	require.NoError(t, err)
	require.NotNil(t, requeued)
	assert.Equal(t, queue.StatusPending, requeued.Status)
	assert.Nil(t, requeued.WorkerID)
	assert.True(t, requeued.ScheduledFor.After(requeued.UpdatedAt), "backoff must push the schedule past the fail time")

	// Not eligible until the backoff elapses.
	env, err := adapter.Claim(ctx, "worker-live", nil)
	require.NoError(t, err)
	assert.Nil(t, env)
}

func TestLiveConcurrentClaims(t *testing.T) {
	adapter := liveAdapter(t)
	ctx := context.Background()

	const jobs = 4
	const claimers = 8

	for i := 0; i < jobs; i++ {
		_, err := adapter.Insert(ctx, &queue.JobEnvelope{
			TraceID: "trace-concurrent",
			Type:    "bulk",
			Payload: queue.Payload{},
			Status:  queue.StatusPending,
		})
		require.NoError(t, err)
	}

	var mu sync.Mutex
	claimedIDs := make(map[uuid.UUID]int)

	var wg sync.WaitGroup
	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			env, err := adapter.Claim(ctx, "worker-live", nil)
			assert.NoError(t, err)
			if env != nil {
				mu.Lock()
				claimedIDs[env.ID]++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	// min(K, N) claims succeed, each for a distinct job.
	assert.Len(t, claimedIDs, jobs)
	for id, count := range claimedIDs {
		assert.Equal(t, 1, count, "job %s claimed more than once", id)
	}
}
