// Package worker drives queued sync jobs to completion, retrying failed
// attempts with exponential backoff before declaring a job failed.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/merchantpulse/sync-worker/internal/config"
	"github.com/merchantpulse/sync-worker/internal/models"
	"github.com/merchantpulse/sync-worker/internal/progress"
	"github.com/merchantpulse/sync-worker/internal/queue"
)

// JobQueue is the claiming side of the queue.
type JobQueue interface {
	Dequeue(ctx context.Context) (*models.SyncJob, error)
	Wake() <-chan struct{}
	CancelRequested(jobID string) bool
	Forget(jobID string)
}

// JobStore persists attempt counts and terminal states.
type JobStore interface {
	IncrementAttempts(ctx context.Context, jobID string) error
	MarkCompleted(ctx context.Context, jobID string, results *models.SyncResults) error
	MarkFailed(ctx context.Context, jobID string, reason string) error
}

// Runner executes one attempt of a job.
type Runner interface {
	Run(ctx context.Context, job *models.SyncJob) (*models.SyncResults, error)
}

// Publisher delivers progress events, including the terminal one.
type Publisher interface {
	Publish(ev progress.Event)
	PublishTerminal(ev progress.Event)
}

type Worker struct {
	queue  JobQueue
	jobs   JobStore
	runner Runner
	hub    Publisher
	logger *zap.Logger

	concurrency  int
	pollInterval time.Duration
	maxAttempts  int
	backoffBase  time.Duration
}

func New(cfg *config.Config, q JobQueue, jobs JobStore, runner Runner, hub Publisher, logger *zap.Logger) *Worker {
	return &Worker{
		queue:        q,
		jobs:         jobs,
		runner:       runner,
		hub:          hub,
		logger:       logger,
		concurrency:  cfg.WorkerConcurrency,
		pollInterval: cfg.PollInterval,
		maxAttempts:  cfg.MaxAttempts,
		backoffBase:  cfg.BackoffBase,
	}
}

// Run starts the worker pool and blocks until ctx is cancelled and all
// in-flight jobs have drained.
func (w *Worker) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < w.concurrency; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			w.loop(ctx, id)
		}(i)
	}
	wg.Wait()
}

func (w *Worker) loop(ctx context.Context, id int) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			return
		}

		job, err := w.queue.Dequeue(ctx)
		switch {
		case errors.Is(err, queue.ErrJobNotFound):
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			case <-w.queue.Wake():
			}
			continue
		case err != nil:
			w.logger.Error("failed to claim job", zap.Int("worker", id), zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			continue
		}

		w.process(ctx, job)
	}
}

// process runs attempts until the job completes, the retry ceiling is
// reached, or a cancellation suppresses further retries. The terminal
// state is persisted before the terminal event is published, so a status
// read after the event always sees the final row.
func (w *Worker) process(ctx context.Context, job *models.SyncJob) {
	defer w.queue.Forget(job.ID)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = w.backoffBase
	bo.Multiplier = 2
	bo.RandomizationFactor = 0

	var lastErr error
	for attempt := job.Attempts; attempt < w.maxAttempts; {
		if err := w.jobs.IncrementAttempts(ctx, job.ID); err != nil {
			w.logger.Error("failed to record attempt",
				zap.String("job_id", job.ID), zap.Error(err))
		}
		attempt++

		results, err := w.runner.Run(ctx, job)
		if err == nil {
			err = w.jobs.MarkCompleted(ctx, job.ID, results)
			if err == nil {
				w.hub.PublishTerminal(progress.Event{
					Type:     progress.EventDone,
					JobID:    job.ID,
					Progress: 100,
					Message:  "Data sync completed",
					Results:  results,
				})
				w.logger.Info("job completed",
					zap.String("job_id", job.ID),
					zap.Int("attempts", attempt))
				return
			}
			// a completion that cannot be persisted is a failed
			// attempt; the retry policy below applies to it
			err = fmt.Errorf("failed to persist completion: %w", err)
		}

		if ctx.Err() != nil {
			// shutdown mid-attempt; the job stays active and is
			// re-queued by recovery at next startup
			w.logger.Warn("attempt interrupted by shutdown",
				zap.String("job_id", job.ID))
			return
		}

		lastErr = err
		w.logger.Warn("job attempt failed",
			zap.String("job_id", job.ID),
			zap.Int("attempt", attempt),
			zap.Error(err))
		w.hub.Publish(progress.Event{
			Type:  progress.EventError,
			JobID: job.ID,
			Error: fmt.Sprintf("attempt %d failed: %v", attempt, err),
		})

		if attempt >= w.maxAttempts {
			break
		}
		if w.queue.CancelRequested(job.ID) {
			lastErr = fmt.Errorf("retries cancelled: %w", err)
			break
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(bo.NextBackOff()):
		}
	}

	reason := "exhausted retry attempts"
	if lastErr != nil {
		reason = lastErr.Error()
	}
	if err := w.jobs.MarkFailed(ctx, job.ID, reason); err != nil {
		w.logger.Error("failed to mark job failed",
			zap.String("job_id", job.ID), zap.Error(err))
		return
	}
	w.hub.PublishTerminal(progress.Event{
		Type:  progress.EventError,
		JobID: job.ID,
		Error: reason,
	})
	w.logger.Error("job failed",
		zap.String("job_id", job.ID),
		zap.String("reason", reason))
}
