package dto

import (
	"time"

	"golang-updown-settler/internal/entity"

	"github.com/shopspring/decimal"
)

// RunSettlementRequest asks for a full settlement pass. TradingDay is an
// explicit YYYY-MM-DD; when empty the day is resolved from AsOf via the
// trading calendar. Symbols, when set, restricts the pass to that subset.
type RunSettlementRequest struct {
	TradingDay string   `json:"trading_day"`
	Symbols    []string `json:"symbols,omitempty"`

	TriggeredBy string    `json:"-"`
	AsOf        time.Time `json:"-"`
}

// RetrySettlementRequest re-runs a pass restricted to unresolved symbols.
type RetrySettlementRequest struct {
	TradingDay string   `json:"trading_day"`
	Symbols    []string `json:"symbols,omitempty"`
}

// SymbolSettlementResult is the per-symbol report of one pass.
type SymbolSettlementResult struct {
	Symbol        string              `json:"symbol"`
	Outcome       entity.Outcome      `json:"outcome,omitempty"`
	VoidReason    *entity.VoidReason  `json:"void_reason,omitempty"`
	ChangePercent decimal.NullDecimal `json:"change_percent"`
	Correct       int                 `json:"correct"`
	Incorrect     int                 `json:"incorrect"`
	Voided        int                 `json:"voided"`
	LedgerEntries int                 `json:"ledger_entries"`
	Repaired      int                 `json:"repaired"`
	Failed        bool                `json:"failed"`
	Error         string              `json:"error,omitempty"`
}

// SettlementDayResult is the structured outcome of one settlement pass.
type SettlementDayResult struct {
	RunID       uint                     `json:"run_id"`
	TradingDay  string                   `json:"trading_day"`
	TriggeredBy string                   `json:"triggered_by"`
	StartedAt   time.Time                `json:"started_at"`
	CompletedAt time.Time                `json:"completed_at"`
	Symbols     []SymbolSettlementResult `json:"symbols"`
}

// FailedSymbols lists the symbols whose processing failed.
func (r *SettlementDayResult) FailedSymbols() []string {
	var out []string
	for _, s := range r.Symbols {
		if s.Failed {
			out = append(out, s.Symbol)
		}
	}
	return out
}
