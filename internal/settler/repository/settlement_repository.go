package repository

import (
	"context"
	"errors"
	"time"

	"golang-updown-settler/internal/entity"

	"gorm.io/gorm"
)

// SettlementRecordRepository stores the classified outcome per
// (trading_day, symbol). Overwrite decisions belong to the orchestrator;
// this layer only persists.
type SettlementRecordRepository interface {
	// Get returns the record for (day, symbol), or nil when absent.
	Get(ctx context.Context, day time.Time, symbol string) (*entity.SettlementRecord, error)
	// FindByDay returns all records for the day, ordered by symbol.
	FindByDay(ctx context.Context, day time.Time) ([]entity.SettlementRecord, error)
	Create(ctx context.Context, record *entity.SettlementRecord) error
	Update(ctx context.Context, record *entity.SettlementRecord) error
	// FlagReconciliation marks a record whose recomputation disagreed with
	// the stored outcome after payouts already referenced it.
	FlagReconciliation(ctx context.Context, id uint) error
}

// NewSettlementRecordRepository creates a new GORM-based settlement record repository.
func NewSettlementRecordRepository(db *gorm.DB) SettlementRecordRepository {
	return &settlementRecordRepository{db: db}
}

type settlementRecordRepository struct {
	db *gorm.DB
}

func (r *settlementRecordRepository) Get(ctx context.Context, day time.Time, symbol string) (*entity.SettlementRecord, error) {
	var record entity.SettlementRecord
	err := r.db.WithContext(ctx).
		Where("trading_day = ? AND symbol = ?", day, symbol).
		First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *settlementRecordRepository) FindByDay(ctx context.Context, day time.Time) ([]entity.SettlementRecord, error) {
	var records []entity.SettlementRecord
	err := r.db.WithContext(ctx).
		Where("trading_day = ?", day).
		Order("symbol").
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (r *settlementRecordRepository) Create(ctx context.Context, record *entity.SettlementRecord) error {
	return r.db.WithContext(ctx).Create(record).Error
}

func (r *settlementRecordRepository) Update(ctx context.Context, record *entity.SettlementRecord) error {
	return r.db.WithContext(ctx).Save(record).Error
}

func (r *settlementRecordRepository) FlagReconciliation(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Model(&entity.SettlementRecord{}).
		Where("id = ?", id).
		Update("needs_reconciliation", true).Error
}
