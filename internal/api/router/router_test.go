package router_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/durable-queue/internal/api/handler"
	"github.com/cuongbtq/durable-queue/internal/api/router"
	"github.com/cuongbtq/durable-queue/internal/queue"
	"github.com/cuongbtq/durable-queue/internal/queue/memory"
)

func newTestRouter(t *testing.T) (*gin.Engine, *queue.Queue) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	adapter := memory.New()
	require.NoError(t, adapter.Initialize(context.Background()))
	t.Cleanup(func() { adapter.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	q := queue.New(adapter, logger)

	r := router.SetupRouter(&handler.Dependencies{
		Logger: logger,
		Queue:  q,
	})
	return r, q
}

func TestHealthEndpoint(t *testing.T) {
	r, _ := newTestRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")
}

func TestPublishJob(t *testing.T) {
	r, q := newTestRouter(t)

	body := `{"type":"email","payload":{"to":"u@e.com"},"priority":5,"trace_id":"trace-http"}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code)

	var resp struct {
		JobID   string `json:"job_id"`
		TraceID string `json:"trace_id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "trace-http", resp.TraceID)

	jobID, err := uuid.Parse(resp.JobID)
	require.NoError(t, err)

	// The job is claimable with the published attributes.
	env, err := q.ClaimNext(context.Background(), "worker-http", nil)
	require.NoError(t, err)
	require.NotNil(t, env)
	assert.Equal(t, jobID, env.ID)
	assert.Equal(t, "email", env.Type)
	assert.Equal(t, 5, env.Priority)
}

func TestPublishJob_InvalidBody(t *testing.T) {
	r, _ := newTestRouter(t)

	tests := []struct {
		name string
		body string
	}{
		{
			name: "missing type",
			body: `{"payload":{}}`,
		},
		{
			name: "missing payload",
			body: `{"type":"email"}`,
		},
		{
			name: "not json",
			body: `not json at all`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			r.ServeHTTP(w, req)

			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestPublishJob_ValidationErrorFromQueue(t *testing.T) {
	r, _ := newTestRouter(t)

	body := `{"type":"email","payload":{},"max_attempts":0}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "max_attempts")
}

func TestGetJob_InvalidUUID(t *testing.T) {
	r, _ := newTestRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/not-a-uuid", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}
