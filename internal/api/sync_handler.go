package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/merchantpulse/sync-worker/internal/models"
	"github.com/merchantpulse/sync-worker/internal/progress"
	"github.com/merchantpulse/sync-worker/internal/queue"
)

// JobQueue is the submission side of the queue.
type JobQueue interface {
	Enqueue(ctx context.Context, job *models.SyncJob) error
	Cancel(ctx context.Context, jobID string) error
	Status(ctx context.Context, jobID string) (*models.SyncJob, error)
}

// JobHistory lists finished jobs.
type JobHistory interface {
	ListFinished(ctx context.Context, accountID string, offset, limit int) ([]models.SyncJob, int64, error)
}

// EventSource taps a job's progress stream.
type EventSource interface {
	Subscribe(jobID string) (<-chan progress.Event, func())
}

type SyncHandler struct {
	queue   JobQueue
	history JobHistory
	events  EventSource
	logger  *zap.Logger
}

func NewSyncHandler(q JobQueue, history JobHistory, events EventSource, logger *zap.Logger) *SyncHandler {
	return &SyncHandler{queue: q, history: history, events: events, logger: logger}
}

type startRequest struct {
	AccountID   string             `json:"accountId" binding:"required"`
	Platforms   []string           `json:"platforms"`
	Credentials models.Credentials `json:"credentials"`
}

// Start enqueues a sync of the requested platforms (all of them when the
// list is empty) and returns the job id immediately.
func (h *SyncHandler) Start(c *gin.Context) {
	var req startRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	platforms := req.Platforms
	if len(platforms) == 0 {
		platforms = models.AllPlatforms()
	}
	for _, p := range platforms {
		if !models.ValidPlatform(p) {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unsupported platform: %s", p)})
			return
		}
	}

	h.enqueue(c, req.AccountID, platforms, req.Credentials)
}

// StartPlatform enqueues a sync of a single platform.
func (h *SyncHandler) StartPlatform(c *gin.Context) {
	platform := c.Param("platform")
	if !models.ValidPlatform(platform) {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unsupported platform: %s", platform)})
		return
	}

	var req startRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	h.enqueue(c, req.AccountID, []string{platform}, req.Credentials)
}

func (h *SyncHandler) enqueue(c *gin.Context, accountID string, platforms []string, creds models.Credentials) {
	job := &models.SyncJob{
		ID:          uuid.NewString(),
		AccountID:   accountID,
		Platforms:   platforms,
		Credentials: creds,
	}
	if err := h.queue.Enqueue(c.Request.Context(), job); err != nil {
		h.logger.Error("failed to enqueue job", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to enqueue sync job"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"jobId":     job.ID,
		"status":    "queued",
		"platforms": platforms,
	})
}

// Status returns the job's current state. Credentials are never echoed
// back.
func (h *SyncHandler) Status(c *gin.Context) {
	job, err := h.queue.Status(c.Request.Context(), c.Param("jobId"))
	if errors.Is(err, queue.ErrJobNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	if err != nil {
		h.logger.Error("failed to load job", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load job"})
		return
	}
	c.JSON(http.StatusOK, jobView(job))
}

// History lists finished jobs for an account, newest first.
func (h *SyncHandler) History(c *gin.Context) {
	accountID := c.Query("accountId")
	if accountID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "accountId is required"})
		return
	}
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	if page < 1 {
		page = 1
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if limit < 1 || limit > 100 {
		limit = 20
	}

	jobs, total, err := h.history.ListFinished(c.Request.Context(), accountID, (page-1)*limit, limit)
	if err != nil {
		h.logger.Error("failed to list jobs", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list jobs"})
		return
	}

	views := make([]gin.H, 0, len(jobs))
	for i := range jobs {
		views = append(views, jobView(&jobs[i]))
	}
	c.JSON(http.StatusOK, gin.H{
		"jobs":  views,
		"total": total,
		"page":  page,
		"limit": limit,
	})
}

// Cancel removes a queued job. Jobs that have started or finished cannot
// be cancelled and report not found; for an active job the request still
// suppresses any further retries.
func (h *SyncHandler) Cancel(c *gin.Context) {
	err := h.queue.Cancel(c.Request.Context(), c.Param("jobId"))
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"status": "cancelled"})
	case errors.Is(err, queue.ErrJobActive), errors.Is(err, queue.ErrJobNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found or already started"})
	default:
		h.logger.Error("failed to cancel job", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to cancel job"})
	}
}

// Events streams the job's progress as server-sent events until the
// terminal event arrives or the client disconnects. A finished job yields
// its terminal event immediately.
func (h *SyncHandler) Events(c *gin.Context) {
	jobID := c.Param("jobId")
	job, err := h.queue.Status(c.Request.Context(), jobID)
	if errors.Is(err, queue.ErrJobNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	if err != nil {
		h.logger.Error("failed to load job", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load job"})
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")

	if job.Terminal() {
		writeEvent(c, terminalEvent(job))
		return
	}

	ch, cancel := h.events.Subscribe(jobID)
	defer cancel()

	// the job may have finished between the status read and the
	// subscription; re-check so the stream cannot hang on a dead topic
	job, err = h.queue.Status(c.Request.Context(), jobID)
	if err == nil && job.Terminal() {
		writeEvent(c, terminalEvent(job))
		return
	}

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			writeEvent(c, ev)
			if ev.Type == progress.EventDone {
				return
			}
		}
	}
}

func writeEvent(c *gin.Context, ev progress.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	fmt.Fprintf(c.Writer, "data: %s\n\n", data)
	c.Writer.Flush()
}

// terminalEvent reconstructs the final event from a finished job row.
func terminalEvent(job *models.SyncJob) progress.Event {
	if job.State == models.JobStateFailed {
		reason := "sync failed"
		if job.LastError != nil {
			reason = *job.LastError
		}
		return progress.Event{
			Type:  progress.EventError,
			JobID: job.ID,
			Error: reason,
		}
	}
	return progress.Event{
		Type:     progress.EventDone,
		JobID:    job.ID,
		Progress: 100,
		Message:  "Data sync completed",
		Results:  job.Result,
	}
}

// jobView shapes a job row for API responses, omitting the credential
// snapshot.
func jobView(job *models.SyncJob) gin.H {
	view := gin.H{
		"jobId":     job.ID,
		"accountId": job.AccountID,
		"platforms": job.Platforms,
		"state":     job.State,
		"progress":  job.Progress,
		"message":   job.Message,
		"attempts":  job.Attempts,
		"createdAt": job.CreatedAt,
	}
	if job.Result != nil {
		view["result"] = job.Result
	}
	if job.LastError != nil {
		view["error"] = *job.LastError
	}
	if job.StartedAt != nil {
		view["startedAt"] = job.StartedAt
	}
	if job.FinishedAt != nil {
		view["finishedAt"] = job.FinishedAt
	}
	return view
}
