package handler

import (
	"log/slog"

	"github.com/cuongbtq/durable-queue/internal/api/storage"
	"github.com/cuongbtq/durable-queue/internal/queue"
)

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger  *slog.Logger
	Queue   *queue.Queue
	Storage *storage.Storage
}

// JobHandler serves the job endpoints.
type JobHandler struct {
	logger  *slog.Logger
	queue   *queue.Queue
	storage *storage.Storage
}

// NewJobHandler creates a JobHandler from the shared dependencies.
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger:  deps.Logger,
		queue:   deps.Queue,
		storage: deps.Storage,
	}
}
