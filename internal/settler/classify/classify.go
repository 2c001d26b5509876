// Package classify turns an end-of-day price pair into a settlement outcome.
// It is pure: no I/O, no configuration reads, total over all inputs.
package classify

import (
	"golang-updown-settler/internal/entity"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Result is the classified outcome for one price pair.
type Result struct {
	Outcome       entity.Outcome
	ChangePercent decimal.NullDecimal
	VoidReason    *entity.VoidReason
}

// Classify maps a close/previous-close pair to UP, DOWN, or VOID. A missing
// or non-positive close or previous close is VOID with
// missing_or_invalid_price. Movement within ±threshold percent is VOID with
// insufficient_move: a price that barely moved carries no directional signal.
func Classify(close, prevClose decimal.NullDecimal, threshold decimal.Decimal) Result {
	if !close.Valid || close.Decimal.Sign() <= 0 || !prevClose.Valid || prevClose.Decimal.Sign() <= 0 {
		return voidResult(entity.VoidMissingOrInvalidPrice, decimal.NullDecimal{})
	}

	change := close.Decimal.Sub(prevClose.Decimal).Div(prevClose.Decimal).Mul(hundred)
	changeN := decimal.NullDecimal{Decimal: change, Valid: true}

	switch {
	case change.GreaterThan(threshold):
		return Result{Outcome: entity.OutcomeUp, ChangePercent: changeN}
	case change.LessThan(threshold.Neg()):
		return Result{Outcome: entity.OutcomeDown, ChangePercent: changeN}
	default:
		return voidResult(entity.VoidInsufficientMove, changeN)
	}
}

func voidResult(reason entity.VoidReason, change decimal.NullDecimal) Result {
	r := reason
	return Result{Outcome: entity.OutcomeVoid, ChangePercent: change, VoidReason: &r}
}
