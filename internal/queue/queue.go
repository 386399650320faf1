package queue

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/merchantpulse/sync-worker/internal/models"
	"github.com/merchantpulse/sync-worker/internal/repository"
)

// ErrJobNotFound is returned when the job id matches no cancellable row.
var ErrJobNotFound = repository.ErrJobNotFound

// ErrJobActive is returned by Cancel when the job has already been picked
// up. The job keeps running; the request only suppresses future retries.
var ErrJobActive = errors.New("job is already active")

// Queue is the persistent job queue. Jobs are claimed one at a time in
// submission order; a buffered wake channel lets producers nudge idle
// workers without waiting for the next poll tick.
type Queue struct {
	jobs   *repository.SyncJobRepository
	logger *zap.Logger

	wake chan struct{}

	// ids of active jobs whose retries were cancelled
	cancelled sync.Map
}

func New(jobs *repository.SyncJobRepository, logger *zap.Logger) *Queue {
	return &Queue{
		jobs:   jobs,
		logger: logger,
		wake:   make(chan struct{}, 1),
	}
}

// Enqueue persists the job in the queued state and wakes a worker. The
// caller assigns the job id before calling, so the id can be returned to
// the client ahead of any processing.
func (q *Queue) Enqueue(ctx context.Context, job *models.SyncJob) error {
	job.State = models.JobStateQueued
	job.Progress = 0
	if err := q.jobs.Create(ctx, job); err != nil {
		return err
	}
	q.logger.Info("job enqueued",
		zap.String("job_id", job.ID),
		zap.String("account_id", job.AccountID),
		zap.Strings("platforms", job.Platforms))

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return nil
}

// Dequeue claims the oldest queued job. Returns repository.ErrJobNotFound
// when the queue is empty.
func (q *Queue) Dequeue(ctx context.Context) (*models.SyncJob, error) {
	job, err := q.jobs.ClaimNext(ctx)
	if err != nil {
		return nil, err
	}
	q.logger.Info("job claimed",
		zap.String("job_id", job.ID),
		zap.String("account_id", job.AccountID))
	return job, nil
}

// Wake returns the channel that fires when a new job is enqueued.
func (q *Queue) Wake() <-chan struct{} {
	return q.wake
}

// Cancel removes a job that has not started yet. An active job cannot be
// removed; the cancellation is recorded so the job is not retried after
// its current attempt, and ErrJobActive is returned. Finished or unknown
// jobs yield ErrJobNotFound.
func (q *Queue) Cancel(ctx context.Context, jobID string) error {
	job, err := q.jobs.GetByID(ctx, jobID)
	if err != nil {
		return err
	}

	switch job.State {
	case models.JobStateQueued:
		return q.jobs.DeleteQueued(ctx, jobID)
	case models.JobStateActive:
		q.cancelled.Store(jobID, struct{}{})
		q.logger.Info("retry cancellation recorded for active job",
			zap.String("job_id", jobID))
		return ErrJobActive
	default:
		return ErrJobNotFound
	}
}

// CancelRequested reports whether retries were cancelled for an active job.
func (q *Queue) CancelRequested(jobID string) bool {
	_, ok := q.cancelled.Load(jobID)
	return ok
}

// Forget clears cancellation state once a job reaches a terminal state.
func (q *Queue) Forget(jobID string) {
	q.cancelled.Delete(jobID)
}

// Status returns the current job row.
func (q *Queue) Status(ctx context.Context, jobID string) (*models.SyncJob, error) {
	return q.jobs.GetByID(ctx, jobID)
}

// Recover re-queues jobs left active by an unclean shutdown. Called once
// at startup before workers begin claiming.
func (q *Queue) Recover(ctx context.Context) error {
	ids, err := q.jobs.ResetActive(ctx)
	if err != nil {
		return err
	}
	if len(ids) > 0 {
		q.logger.Warn("re-queued jobs interrupted by shutdown",
			zap.Strings("job_ids", ids))
	}
	return nil
}
