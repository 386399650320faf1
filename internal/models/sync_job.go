package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

type JobState string

const (
	JobStateQueued    JobState = "queued"
	JobStateActive    JobState = "active"
	JobStateCompleted JobState = "completed"
	JobStateFailed    JobState = "failed"
)

// Supported platform names, in the order the orchestrator processes them.
const (
	PlatformShopify    = "shopify"
	PlatformMeta       = "meta"
	PlatformShiprocket = "shiprocket"
)

// AllPlatforms returns the canonical processing order.
func AllPlatforms() []string {
	return []string{PlatformShopify, PlatformMeta, PlatformShiprocket}
}

// ValidPlatform reports whether name is one of the supported providers.
func ValidPlatform(name string) bool {
	switch name {
	case PlatformShopify, PlatformMeta, PlatformShiprocket:
		return true
	}
	return false
}

// StringSlice is stored as a JSON array column.
type StringSlice []string

// Value implements driver.Valuer for StringSlice
func (s StringSlice) Value() (driver.Value, error) {
	if s == nil {
		return nil, nil
	}
	return json.Marshal(s)
}

// Scan implements sql.Scanner for StringSlice
func (s *StringSlice) Scan(value interface{}) error {
	if value == nil {
		*s = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, s)
	case string:
		return json.Unmarshal([]byte(v), s)
	}
	return errors.New("unsupported type for StringSlice")
}

// PlatformResult is the per-platform outcome of one sync job. It is
// assembled while the platform's phase runs and immutable afterwards.
type PlatformResult struct {
	Status  string `json:"status"` // success | error
	Fetched int    `json:"fetched"`
	Written int    `json:"written"`
	Error   string `json:"error,omitempty"`
	Detail  JSONB  `json:"detail,omitempty"`
}

const (
	ResultStatusSuccess = "success"
	ResultStatusError   = "error"
)

// SyncSummary aggregates a finished job.
type SyncSummary struct {
	TotalRecords int       `json:"totalRecords"`
	Errors       []string  `json:"errors"`
	StartTime    time.Time `json:"startTime"`
	EndTime      time.Time `json:"endTime"`
	DurationMS   int64     `json:"durationMs"`
}

// SyncResults is the full result payload persisted on the job row.
type SyncResults struct {
	Shopify    *PlatformResult `json:"shopify,omitempty"`
	Meta       *PlatformResult `json:"meta,omitempty"`
	Shiprocket *PlatformResult `json:"shiprocket,omitempty"`
	Summary    SyncSummary     `json:"summary"`
}

// Platform returns the result slot for the given platform name.
func (r *SyncResults) Platform(name string) *PlatformResult {
	switch name {
	case PlatformShopify:
		return r.Shopify
	case PlatformMeta:
		return r.Meta
	case PlatformShiprocket:
		return r.Shiprocket
	}
	return nil
}

// SetPlatform stores the result slot for the given platform name.
func (r *SyncResults) SetPlatform(name string, res *PlatformResult) {
	switch name {
	case PlatformShopify:
		r.Shopify = res
	case PlatformMeta:
		r.Meta = res
	case PlatformShiprocket:
		r.Shiprocket = res
	}
}

// Value implements driver.Valuer for SyncResults
func (r SyncResults) Value() (driver.Value, error) {
	return json.Marshal(r)
}

// Scan implements sql.Scanner for SyncResults
func (r *SyncResults) Scan(value interface{}) error {
	if value == nil {
		*r = SyncResults{}
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, r)
	case string:
		return json.Unmarshal([]byte(v), r)
	}
	return errors.New("unsupported type for SyncResults")
}

// SyncJob is one request to synchronize a set of platforms for an account.
// The credential snapshot is taken at submission time and never re-read
// while the job runs.
type SyncJob struct {
	ID          string       `gorm:"column:id;primaryKey"`
	AccountID   string       `gorm:"column:account_id;index"`
	Platforms   StringSlice  `gorm:"column:platforms;type:jsonb"`
	Credentials Credentials  `gorm:"column:credentials;type:jsonb"`
	State       JobState     `gorm:"column:state;index"`
	Progress    int          `gorm:"column:progress"`
	Message     string       `gorm:"column:message"`
	Attempts    int          `gorm:"column:attempts"`
	Result      *SyncResults `gorm:"column:result;type:jsonb"`
	LastError   *string      `gorm:"column:last_error"`
	CreatedAt   time.Time    `gorm:"column:created_at"`
	UpdatedAt   time.Time    `gorm:"column:updated_at"`
	StartedAt   *time.Time   `gorm:"column:started_at"`
	FinishedAt  *time.Time   `gorm:"column:finished_at"`
}

// TableName specifies the table name for GORM
func (SyncJob) TableName() string {
	return "sync_job"
}

// Terminal reports whether the job has reached a final state.
func (j *SyncJob) Terminal() bool {
	return j.State == JobStateCompleted || j.State == JobStateFailed
}
