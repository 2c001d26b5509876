package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// Outcome is the classified direction of a symbol for one trading day.
type Outcome string

const (
	OutcomeUp   Outcome = "UP"
	OutcomeDown Outcome = "DOWN"
	OutcomeVoid Outcome = "VOID"
)

// VoidReason explains why a symbol was settled VOID.
type VoidReason string

const (
	VoidMissingOrInvalidPrice VoidReason = "missing_or_invalid_price"
	VoidInsufficientMove      VoidReason = "insufficient_move"
	VoidPriceUnavailable      VoidReason = "price_unavailable"
)

// SettlementRecord is the single classified outcome for (trading_day, symbol).
// Once a payout references it, recomputation never overwrites it silently;
// mismatches set NeedsReconciliation instead.
type SettlementRecord struct {
	ID                  uint                `gorm:"primaryKey" json:"id"`
	TradingDay          time.Time           `gorm:"type:date;not null;uniqueIndex:uq_settlement_records_day_symbol,priority:1" json:"trading_day"`
	Symbol              string              `gorm:"not null;uniqueIndex:uq_settlement_records_day_symbol,priority:2" json:"symbol"`
	Outcome             Outcome             `gorm:"not null" json:"outcome"`
	ClosePrice          decimal.NullDecimal `gorm:"type:numeric(18,4)" json:"close_price"`
	PrevClosePrice      decimal.NullDecimal `gorm:"type:numeric(18,4)" json:"prev_close_price"`
	ChangePercent       decimal.NullDecimal `gorm:"type:numeric(10,4)" json:"change_percent"`
	VoidReason          *VoidReason         `json:"void_reason,omitempty"`
	NeedsReconciliation bool                `gorm:"not null;default:false" json:"needs_reconciliation"`
	ComputedAt          time.Time           `gorm:"not null" json:"computed_at"`
}

func (SettlementRecord) TableName() string {
	return "settlement_records"
}
