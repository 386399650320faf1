package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/merchantpulse/sync-worker/internal/models"
)

// ErrJobNotFound is returned when a job id matches no row.
var ErrJobNotFound = errors.New("job not found")

type SyncJobRepository struct {
	db *gorm.DB
}

func NewSyncJobRepository(db *gorm.DB) *SyncJobRepository {
	return &SyncJobRepository{db: db}
}

// Create persists a new job in the queued state.
func (r *SyncJobRepository) Create(ctx context.Context, job *models.SyncJob) error {
	if result := r.db.WithContext(ctx).Create(job); result.Error != nil {
		return fmt.Errorf("failed to create job: %w", result.Error)
	}
	return nil
}

// GetByID retrieves a job by its id.
func (r *SyncJobRepository) GetByID(ctx context.Context, jobID string) (*models.SyncJob, error) {
	var job models.SyncJob
	result := r.db.WithContext(ctx).Where("id = ?", jobID).First(&job)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, ErrJobNotFound
	}
	if result.Error != nil {
		return nil, fmt.Errorf("failed to query job: %w", result.Error)
	}
	return &job, nil
}

// ClaimNext moves the oldest queued job to the active state and returns
// it. The claim is a conditional update guarded on the queued state, so
// concurrent workers can never claim the same row: the loser's update
// matches nothing and it moves on to the next queued job. Returns
// ErrJobNotFound when the queue is empty.
func (r *SyncJobRepository) ClaimNext(ctx context.Context) (*models.SyncJob, error) {
	for {
		var job models.SyncJob
		result := r.db.WithContext(ctx).
			Where("state = ?", models.JobStateQueued).
			Order("created_at ASC").
			First(&job)
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrJobNotFound
		}
		if result.Error != nil {
			return nil, fmt.Errorf("failed to query queued jobs: %w", result.Error)
		}

		now := time.Now()
		update := r.db.WithContext(ctx).Model(&models.SyncJob{}).
			Where("id = ? AND state = ?", job.ID, models.JobStateQueued).
			Updates(map[string]interface{}{
				"state":      models.JobStateActive,
				"started_at": now,
				"updated_at": now,
			})
		if update.Error != nil {
			return nil, fmt.Errorf("failed to claim job: %w", update.Error)
		}
		if update.RowsAffected == 0 {
			// another worker claimed it first
			continue
		}

		job.State = models.JobStateActive
		job.StartedAt = &now
		return &job, nil
	}
}

// UpdateProgress records the job's progress percentage and status message.
func (r *SyncJobRepository) UpdateProgress(ctx context.Context, jobID string, percent int, message string) error {
	result := r.db.WithContext(ctx).Model(&models.SyncJob{}).
		Where("id = ?", jobID).
		Updates(map[string]interface{}{
			"progress":   percent,
			"message":    message,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update progress: %w", result.Error)
	}
	return nil
}

// IncrementAttempts bumps the retry attempt counter.
func (r *SyncJobRepository) IncrementAttempts(ctx context.Context, jobID string) error {
	result := r.db.WithContext(ctx).Model(&models.SyncJob{}).
		Where("id = ?", jobID).
		Updates(map[string]interface{}{
			"attempts":   gorm.Expr("attempts + 1"),
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to increment attempts: %w", result.Error)
	}
	return nil
}

// MarkCompleted stores the result payload and moves the job to completed.
func (r *SyncJobRepository) MarkCompleted(ctx context.Context, jobID string, results *models.SyncResults) error {
	now := time.Now()
	result := r.db.WithContext(ctx).Model(&models.SyncJob{}).
		Where("id = ?", jobID).
		Updates(map[string]interface{}{
			"state":       models.JobStateCompleted,
			"progress":    100,
			"message":     "Data sync completed",
			"result":      results,
			"finished_at": now,
			"updated_at":  now,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to mark job completed: %w", result.Error)
	}
	return nil
}

// MarkFailed records the terminal failure reason.
func (r *SyncJobRepository) MarkFailed(ctx context.Context, jobID string, reason string) error {
	now := time.Now()
	result := r.db.WithContext(ctx).Model(&models.SyncJob{}).
		Where("id = ?", jobID).
		Updates(map[string]interface{}{
			"state":       models.JobStateFailed,
			"last_error":  reason,
			"finished_at": now,
			"updated_at":  now,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to mark job failed: %w", result.Error)
	}
	return nil
}

// DeleteQueued removes a job only while it is still queued. Returns
// ErrJobNotFound if no queued row matched.
func (r *SyncJobRepository) DeleteQueued(ctx context.Context, jobID string) error {
	result := r.db.WithContext(ctx).
		Where("id = ? AND state = ?", jobID, models.JobStateQueued).
		Delete(&models.SyncJob{})
	if result.Error != nil {
		return fmt.Errorf("failed to delete job: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrJobNotFound
	}
	return nil
}

// ListFinished returns completed and failed jobs for an account, newest
// first.
func (r *SyncJobRepository) ListFinished(ctx context.Context, accountID string, offset, limit int) ([]models.SyncJob, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.SyncJob{}).
		Where("account_id = ? AND state IN ?", accountID,
			[]models.JobState{models.JobStateCompleted, models.JobStateFailed}).
		Session(&gorm.Session{})

	var total int64
	if result := query.Count(&total); result.Error != nil {
		return nil, 0, fmt.Errorf("failed to count jobs: %w", result.Error)
	}

	var jobs []models.SyncJob
	result := query.Order("finished_at DESC").Offset(offset).Limit(limit).Find(&jobs)
	if result.Error != nil {
		return nil, 0, fmt.Errorf("failed to query jobs: %w", result.Error)
	}
	return jobs, total, nil
}

// ResetActive re-queues jobs stuck in the active state, for recovery after
// an unclean shutdown.
func (r *SyncJobRepository) ResetActive(ctx context.Context) ([]string, error) {
	var jobs []models.SyncJob
	result := r.db.WithContext(ctx).
		Where("state = ?", models.JobStateActive).
		Find(&jobs)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to query active jobs: %w", result.Error)
	}

	ids := make([]string, 0, len(jobs))
	for _, job := range jobs {
		update := r.db.WithContext(ctx).Model(&models.SyncJob{}).
			Where("id = ?", job.ID).
			Updates(map[string]interface{}{
				"state":      models.JobStateQueued,
				"updated_at": time.Now(),
			})
		if update.Error != nil {
			return nil, fmt.Errorf("failed to reset job %s: %w", job.ID, update.Error)
		}
		ids = append(ids, job.ID)
	}
	return ids, nil
}
