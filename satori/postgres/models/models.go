// File: models.go
package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// JSONB is a free-form JSON column.
type JSONB map[string]interface{}

// Value implements driver.Valuer.
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	b, err := json.Marshal(j)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported JSONB source type %T", value)
	}
	out := JSONB{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return err
	}
	*j = out
	return nil
}

// AuditRun is one entry of the audit run log.
type AuditRun struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	RunID     string    `gorm:"uniqueIndex;not null;size:64" json:"run_id"`
	Type      string    `gorm:"not null;size:32;index:idx_audit_runs_type" json:"type"`
	User      string    `gorm:"size:255" json:"user"`
	At        time.Time `gorm:"not null;index:idx_audit_runs_at,sort:desc" json:"at"`
	CreatedAt time.Time `gorm:"not null;default:NOW()" json:"created_at"`
}

// TableName specifies the table name for the AuditRun model
func (AuditRun) TableName() string {
	return "audit_runs"
}

// Run types, as shown in the run log.
const (
	RunFull       = "Full Audit"
	RunTest       = "Test Audit"
	RunScheduled  = "Scheduled Audit"
	RunDailyWatch = "Daily Watch"
	RunPostUpdate = "Post-update"
)

// UpdateEvent is one host install/upgrade notification.
type UpdateEvent struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	EventID   string    `gorm:"uniqueIndex;not null;size:64" json:"event_id"`
	Action    string    `gorm:"not null;size:20" json:"action"`
	Type      string    `gorm:"not null;size:20" json:"type"`
	Items     JSONB     `gorm:"type:jsonb" json:"items,omitempty"`
	At        time.Time `gorm:"not null;index:idx_update_events_at,sort:desc" json:"at"`
	CreatedAt time.Time `gorm:"not null;default:NOW()" json:"created_at"`
}

// TableName specifies the table name for the UpdateEvent model
func (UpdateEvent) TableName() string {
	return "update_events"
}
