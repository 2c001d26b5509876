package dto

import (
	"time"

	"github.com/shopspring/decimal"
)

// EODQuote is the narrow contract supplied by the end-of-day price vendor:
// the close and the reference previous close for one symbol on one day.
type EODQuote struct {
	Symbol         string              `json:"symbol"`
	TradingDay     time.Time           `json:"trading_day"`
	ClosePrice     decimal.NullDecimal `json:"close_price"`
	PrevClosePrice decimal.NullDecimal `json:"prev_close_price"`
}

// GetEODQuoteParam identifies one vendor lookup.
type GetEODQuoteParam struct {
	Symbol     string
	TradingDay time.Time
}
