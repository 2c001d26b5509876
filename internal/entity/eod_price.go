package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// EODPriceRecord is one vendor-reported close/previous-close pair. Rows are
// immutable; a correction is stored as a higher revision for the same
// (trading_day, symbol).
type EODPriceRecord struct {
	ID             uint                `gorm:"primaryKey" json:"id"`
	TradingDay     time.Time           `gorm:"type:date;not null;uniqueIndex:uq_eod_prices_day_symbol_rev,priority:1" json:"trading_day"`
	Symbol         string              `gorm:"not null;uniqueIndex:uq_eod_prices_day_symbol_rev,priority:2" json:"symbol"`
	Revision       int                 `gorm:"not null;uniqueIndex:uq_eod_prices_day_symbol_rev,priority:3" json:"revision"`
	ClosePrice     decimal.NullDecimal `gorm:"type:numeric(18,4)" json:"close_price"`
	PrevClosePrice decimal.NullDecimal `gorm:"type:numeric(18,4)" json:"prev_close_price"`
	FetchedAt      time.Time           `gorm:"not null" json:"fetched_at"`
}

func (EODPriceRecord) TableName() string {
	return "eod_prices"
}
