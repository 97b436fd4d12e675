package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/cuongbtq/durable-queue/internal/api/dto"
	"github.com/cuongbtq/durable-queue/internal/api/storage"
	"github.com/cuongbtq/durable-queue/internal/queue"
)

// PublishJob handles POST /api/v1/jobs
// Publishes a new job onto the queue
func (h *JobHandler) PublishJob(c *gin.Context) {
	var req dto.PublishJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	receipt, err := h.queue.Publish(c.Request.Context(), queue.PublishInput{
		Type:         req.Type,
		Payload:      queue.Payload(req.Payload),
		Priority:     req.Priority,
		MaxAttempts:  req.MaxAttempts,
		ScheduledFor: req.ScheduledFor,
		TraceID:      req.TraceID,
	})
	if err != nil {
		if queue.IsValidationError(err) {
			h.logger.Error("Invalid publish input", slog.String("error", err.Error()))
			c.JSON(http.StatusBadRequest, gin.H{
				"error": err.Error(),
			})
			return
		}
		h.logger.Error("Failed to publish job", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to publish job",
		})
		return
	}

	c.JSON(http.StatusCreated, dto.PublishJobResponse{
		JobID:   receipt.JobID.String(),
		TraceID: receipt.TraceID,
	})
}

// GetJob handles GET /api/v1/jobs/:job_id
// Retrieves detailed information about a specific job
func (h *JobHandler) GetJob(c *gin.Context) {
	jobID, err := uuid.Parse(c.Param("job_id"))
	if err != nil {
		h.logger.Error("Invalid job_id format",
			slog.String("job_id", c.Param("job_id")),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id must be a valid UUID",
		})
		return
	}

	env, err := h.storage.GetJob(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, storage.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Job not found",
			})
			return
		}
		h.logger.Error("Failed to get job", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get job",
		})
		return
	}

	c.JSON(http.StatusOK, dto.NewJobDTO(env))
}

// ListJobs handles GET /api/v1/jobs
// Lists jobs with optional filtering and cursor pagination
func (h *JobHandler) ListJobs(c *gin.Context) {
	var req dto.ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Error("Invalid query parameters", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = 20
	}
	if req.PageSize > 100 {
		req.PageSize = 100
	}

	cursor, err := DecodeJobCursor(req.Cursor)
	if err != nil {
		h.logger.Error("Invalid cursor", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid cursor",
		})
		return
	}

	jobs, err := h.storage.ListJobs(c.Request.Context(), storage.JobFilter{
		TraceID:  req.TraceID,
		JobType:  req.JobType,
		Status:   req.Status,
		PageSize: req.PageSize,
		Cursor:   cursor,
	})
	if err != nil {
		h.logger.Error("Failed to list jobs", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list jobs",
		})
		return
	}

	hasMore := len(jobs) > req.PageSize
	if hasMore {
		jobs = jobs[:req.PageSize]
	}

	jobResponse := make([]dto.JobDTO, len(jobs))
	for i := range jobs {
		jobResponse[i] = dto.NewJobDTO(&jobs[i])
	}

	var nextCursor string
	if hasMore {
		lastJob := jobs[len(jobs)-1]
		nextCursor = EncodeJobCursor(&storage.JobCursor{
			CreatedAt: lastJob.CreatedAt,
			JobID:     lastJob.ID,
		})
	}

	c.JSON(http.StatusOK, dto.ListJobsResponse{
		Jobs:       jobResponse,
		NextCursor: nextCursor,
	})
}
