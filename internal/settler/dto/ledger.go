package dto

import (
	"time"

	"golang-updown-settler/internal/entity"
)

// BalanceResponse is a user's current point balance.
type BalanceResponse struct {
	UserID  uint  `json:"user_id"`
	Balance int64 `json:"balance"`
}

// LedgerPageResponse is one page of a user's ledger history, newest first.
type LedgerPageResponse struct {
	UserID   uint                       `json:"user_id"`
	Page     int                        `json:"page"`
	PageSize int                        `json:"page_size"`
	Entries  []entity.PointsLedgerEntry `json:"entries"`
}

// IntegrityIssue is one user whose recorded balance disagrees with the
// recomputed sum of their ledger deltas.
type IntegrityIssue struct {
	UserID          uint  `json:"user_id"`
	RecomputedSum   int64 `json:"recomputed_sum"`
	RecordedBalance int64 `json:"recorded_balance"`
	Difference      int64 `json:"difference"`
}

// IntegrityReport is the result of a ledger verification sweep. Mismatches
// are reported, never auto-corrected.
type IntegrityReport struct {
	CheckedUsers int              `json:"checked_users"`
	Issues       []IntegrityIssue `json:"issues"`
	CheckedAt    time.Time        `json:"checked_at"`
}

// OK reports whether the sweep found no mismatches.
func (r *IntegrityReport) OK() bool {
	return len(r.Issues) == 0
}
