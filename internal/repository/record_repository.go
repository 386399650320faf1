package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/merchantpulse/sync-worker/internal/models"
)

type RecordRepository struct {
	db *gorm.DB
}

func NewRecordRepository(db *gorm.DB) *RecordRepository {
	return &RecordRepository{db: db}
}

// Upsert inserts the record if its natural key is absent, otherwise
// replaces the mutable fields and refreshes the sync timestamp. Repeated
// syncs of unchanged upstream data leave the row count untouched.
func (r *RecordRepository) Upsert(ctx context.Context, collection, accountID, provider, externalID string, fields models.JSONB) error {
	now := time.Now()
	record := models.SyncedRecord{
		Collection:   collection,
		AccountID:    accountID,
		Provider:     provider,
		ExternalID:   externalID,
		Fields:       fields,
		LastSyncedAt: now,
	}
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "collection"}, {Name: "account_id"},
				{Name: "provider"}, {Name: "external_id"},
			},
			DoUpdates: clause.AssignmentColumns([]string{"fields", "last_synced_at", "updated_at"}),
		}).
		Create(&record)
	if result.Error != nil {
		return fmt.Errorf("failed to upsert record: %w", result.Error)
	}
	return nil
}

// Find retrieves records for an account, optionally filtered by provider.
func (r *RecordRepository) Find(ctx context.Context, collection, accountID, provider string) ([]models.SyncedRecord, error) {
	query := r.db.WithContext(ctx).
		Where("collection = ? AND account_id = ?", collection, accountID)
	if provider != "" {
		query = query.Where("provider = ?", provider)
	}

	var records []models.SyncedRecord
	result := query.Order("external_id ASC").Find(&records)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to query records: %w", result.Error)
	}
	return records, nil
}

// Count returns the number of records for an account/provider pair in a
// collection.
func (r *RecordRepository) Count(ctx context.Context, collection, accountID, provider string) (int64, error) {
	var count int64
	result := r.db.WithContext(ctx).Model(&models.SyncedRecord{}).
		Where("collection = ? AND account_id = ? AND provider = ?", collection, accountID, provider).
		Count(&count)
	if result.Error != nil {
		return 0, fmt.Errorf("failed to count records: %w", result.Error)
	}
	return count, nil
}

// DeleteByKey removes a single record by its natural key.
func (r *RecordRepository) DeleteByKey(ctx context.Context, collection, accountID, provider, externalID string) error {
	result := r.db.WithContext(ctx).
		Where("collection = ? AND account_id = ? AND provider = ? AND external_id = ?",
			collection, accountID, provider, externalID).
		Delete(&models.SyncedRecord{})
	if result.Error != nil {
		return fmt.Errorf("failed to delete record: %w", result.Error)
	}
	return nil
}

// SetLastSynced refreshes the account's last-synced stamp.
func (r *RecordRepository) SetLastSynced(ctx context.Context, accountID string, t time.Time) error {
	state := models.AccountSyncState{
		AccountID:    accountID,
		LastSyncedAt: t,
	}
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "account_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"last_synced_at", "updated_at"}),
		}).
		Create(&state)
	if result.Error != nil {
		return fmt.Errorf("failed to update sync state: %w", result.Error)
	}
	return nil
}

// GetLastSynced returns the account's last-synced stamp, or nil if the
// account has never completed a sync.
func (r *RecordRepository) GetLastSynced(ctx context.Context, accountID string) (*time.Time, error) {
	var state models.AccountSyncState
	result := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		First(&state)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if result.Error != nil {
		return nil, fmt.Errorf("failed to query sync state: %w", result.Error)
	}
	return &state.LastSyncedAt, nil
}
