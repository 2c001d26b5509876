package repository

import (
	"context"
	"errors"
	"time"

	"golang-updown-settler/internal/entity"

	"gorm.io/gorm"
)

// EODPriceRepository stores vendor price reports as immutable revisions per
// (trading_day, symbol).
type EODPriceRepository interface {
	// GetLatest returns the highest committed revision for (day, symbol),
	// or nil when none exists.
	GetLatest(ctx context.Context, day time.Time, symbol string) (*entity.EODPriceRecord, error)
	// Save commits a new record with the next revision number.
	Save(ctx context.Context, record *entity.EODPriceRecord) error
}

// NewEODPriceRepository creates a new GORM-based EOD price repository.
func NewEODPriceRepository(db *gorm.DB) EODPriceRepository {
	return &eodPriceRepository{db: db}
}

type eodPriceRepository struct {
	db *gorm.DB
}

func (r *eodPriceRepository) GetLatest(ctx context.Context, day time.Time, symbol string) (*entity.EODPriceRecord, error) {
	var record entity.EODPriceRecord
	err := r.db.WithContext(ctx).
		Where("trading_day = ? AND symbol = ?", day, symbol).
		Order("revision DESC").
		First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *eodPriceRepository) Save(ctx context.Context, record *entity.EODPriceRecord) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var maxRevision int
		err := tx.Model(&entity.EODPriceRecord{}).
			Where("trading_day = ? AND symbol = ?", record.TradingDay, record.Symbol).
			Select("COALESCE(MAX(revision), 0)").
			Scan(&maxRevision).Error
		if err != nil {
			return err
		}
		record.Revision = maxRevision + 1
		return tx.Create(record).Error
	})
}
