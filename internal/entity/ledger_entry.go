package entity

import (
	"time"
)

// LedgerReason classifies why points moved.
type LedgerReason string

const (
	ReasonSettlementWin        LedgerReason = "SETTLEMENT_WIN"
	ReasonSettlementVoidRefund LedgerReason = "SETTLEMENT_VOID_REFUND"
	ReasonPredictionFee        LedgerReason = "PREDICTION_FEE"
	ReasonOther                LedgerReason = "OTHER"
)

// PointsLedgerEntry is one signed balance mutation. Entries are append-only;
// RefID uniqueness is the idempotency mechanism, and BalanceAfter always
// chains off the previous entry for the same user.
type PointsLedgerEntry struct {
	ID           uint         `gorm:"primaryKey" json:"id"`
	UserID       uint         `gorm:"not null;index:idx_ledger_entries_user_created,priority:1" json:"user_id"`
	DeltaPoints  int64        `gorm:"not null" json:"delta_points"`
	Reason       LedgerReason `gorm:"not null" json:"reason"`
	RefID        string       `gorm:"not null;uniqueIndex:uq_ledger_entries_ref_id" json:"ref_id"`
	BalanceAfter int64        `gorm:"not null" json:"balance_after"`
	CreatedAt    time.Time    `gorm:"autoCreateTime;index:idx_ledger_entries_user_created,priority:2" json:"created_at"`
}

func (PointsLedgerEntry) TableName() string {
	return "points_ledger_entries"
}
