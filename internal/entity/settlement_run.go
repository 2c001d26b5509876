package entity

import (
	"database/sql"
	"time"

	"github.com/lib/pq"
	"gorm.io/datatypes"
)

type SettlementRunStatus string

const (
	RunStatusRunning   SettlementRunStatus = "RUNNING"
	RunStatusCompleted SettlementRunStatus = "COMPLETED"
	RunStatusFailed    SettlementRunStatus = "FAILED"
)

// Triggers for a settlement run.
const (
	RunTriggerSchedule = "schedule"
	RunTriggerManual   = "manual"
	RunTriggerRetry    = "retry"
)

// SettlementRun is the audit row for one orchestrator invocation. Summary
// holds the per-symbol result report as JSON.
type SettlementRun struct {
	ID           uint                `gorm:"primaryKey" json:"id"`
	TradingDay   time.Time           `gorm:"type:date;not null;index" json:"trading_day"`
	TriggeredBy  string              `gorm:"not null" json:"triggered_by"`
	Symbols      pq.StringArray      `gorm:"type:text[]" json:"symbols"`
	Status       SettlementRunStatus `gorm:"not null" json:"status"`
	StartedAt    time.Time           `gorm:"not null" json:"started_at"`
	CompletedAt  sql.NullTime        `json:"completed_at"`
	ErrorMessage sql.NullString      `json:"error_message"`
	Summary      datatypes.JSON      `gorm:"type:jsonb" json:"summary"`
}

func (SettlementRun) TableName() string {
	return "settlement_runs"
}
