package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// JSONB type for GORM to handle PostgreSQL JSONB columns
type JSONB map[string]interface{}

// Value implements driver.Valuer for JSONB
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// Scan implements sql.Scanner for JSONB
func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, j)
	case string:
		return json.Unmarshal([]byte(v), j)
	}
	return errors.New("type assertion to []byte failed")
}

// SyncedRecord is one entity pulled from an external provider. The natural
// key (account, provider, external id) is unique within a collection;
// repeated syncs overwrite the mutable fields and refresh LastSyncedAt,
// never duplicate.
type SyncedRecord struct {
	ID           uint      `gorm:"column:id;primaryKey;autoIncrement"`
	Collection   string    `gorm:"column:collection;uniqueIndex:uq_record_key"`
	AccountID    string    `gorm:"column:account_id;uniqueIndex:uq_record_key;index"`
	Provider     string    `gorm:"column:provider;uniqueIndex:uq_record_key"`
	ExternalID   string    `gorm:"column:external_id;uniqueIndex:uq_record_key"`
	Fields       JSONB     `gorm:"column:fields;type:jsonb"`
	LastSyncedAt time.Time `gorm:"column:last_synced_at"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName specifies the table name for GORM
func (SyncedRecord) TableName() string {
	return "synced_record"
}

// AccountSyncState tracks the per-account "last synced" stamp.
type AccountSyncState struct {
	AccountID    string    `gorm:"column:account_id;primaryKey"`
	LastSyncedAt time.Time `gorm:"column:last_synced_at"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName specifies the table name for GORM
func (AccountSyncState) TableName() string {
	return "account_sync_state"
}
