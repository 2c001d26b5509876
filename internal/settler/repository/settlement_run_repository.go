package repository

import (
	"context"
	"time"

	"golang-updown-settler/internal/entity"

	"gorm.io/gorm"
)

// SettlementRunRepository stores the audit trail of orchestrator invocations.
type SettlementRunRepository interface {
	Create(ctx context.Context, run *entity.SettlementRun) error
	Update(ctx context.Context, run *entity.SettlementRun) error
	// FindRecent returns the latest runs, optionally restricted to one day.
	FindRecent(ctx context.Context, day *time.Time, limit int) ([]entity.SettlementRun, error)
}

// NewSettlementRunRepository creates a new GORM-based settlement run repository.
func NewSettlementRunRepository(db *gorm.DB) SettlementRunRepository {
	return &settlementRunRepository{db: db}
}

type settlementRunRepository struct {
	db *gorm.DB
}

func (r *settlementRunRepository) Create(ctx context.Context, run *entity.SettlementRun) error {
	return r.db.WithContext(ctx).Create(run).Error
}

func (r *settlementRunRepository) Update(ctx context.Context, run *entity.SettlementRun) error {
	return r.db.WithContext(ctx).Save(run).Error
}

func (r *settlementRunRepository) FindRecent(ctx context.Context, day *time.Time, limit int) ([]entity.SettlementRun, error) {
	query := r.db.WithContext(ctx).Model(&entity.SettlementRun{})
	if day != nil {
		query = query.Where("trading_day = ?", *day)
	}
	if limit <= 0 {
		limit = 50
	}
	var runs []entity.SettlementRun
	if err := query.Order("id DESC").Limit(limit).Find(&runs).Error; err != nil {
		return nil, err
	}
	return runs, nil
}
