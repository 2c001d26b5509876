package repository

import (
	"context"
	"time"

	"golang-updown-settler/internal/entity"

	"gorm.io/gorm"
)

// openStatuses are the non-terminal prediction states a pass still has to
// settle.
var openStatuses = []entity.PredictionStatus{entity.PredictionPending, entity.PredictionLocked}

// PredictionRepository reads and transitions predictions. Predictions are
// only ever created by the submission flow; this repository never inserts.
type PredictionRepository interface {
	// FindOpenSymbols lists symbols with at least one PENDING/LOCKED
	// prediction for the day.
	FindOpenSymbols(ctx context.Context, day time.Time) ([]string, error)
	// FindByDaySymbol returns every prediction for (day, symbol).
	FindByDaySymbol(ctx context.Context, day time.Time, symbol string) ([]entity.Prediction, error)
	// LockPending moves all PENDING predictions for (day, symbol) to LOCKED.
	LockPending(ctx context.Context, day time.Time, symbol string, lockedAt time.Time) (int64, error)
	// MarkResolved transitions one prediction to a terminal status, guarded
	// so terminal rows are never moved again. Returns whether a row changed.
	MarkResolved(ctx context.Context, id uint, status entity.PredictionStatus, points *int64) (bool, error)
}

// NewPredictionRepository creates a new GORM-based prediction repository.
func NewPredictionRepository(db *gorm.DB) PredictionRepository {
	return &predictionRepository{db: db}
}

type predictionRepository struct {
	db *gorm.DB
}

func (r *predictionRepository) FindOpenSymbols(ctx context.Context, day time.Time) ([]string, error) {
	var symbols []string
	err := r.db.WithContext(ctx).Model(&entity.Prediction{}).
		Distinct("symbol").
		Where("trading_day = ? AND status IN ?", day, openStatuses).
		Order("symbol").
		Pluck("symbol", &symbols).Error
	if err != nil {
		return nil, err
	}
	return symbols, nil
}

func (r *predictionRepository) FindByDaySymbol(ctx context.Context, day time.Time, symbol string) ([]entity.Prediction, error) {
	var predictions []entity.Prediction
	err := r.db.WithContext(ctx).
		Where("trading_day = ? AND symbol = ?", day, symbol).
		Order("id").
		Find(&predictions).Error
	if err != nil {
		return nil, err
	}
	return predictions, nil
}

func (r *predictionRepository) LockPending(ctx context.Context, day time.Time, symbol string, lockedAt time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&entity.Prediction{}).
		Where("trading_day = ? AND symbol = ? AND status = ?", day, symbol, entity.PredictionPending).
		Updates(map[string]interface{}{
			"status":    entity.PredictionLocked,
			"locked_at": lockedAt,
		})
	return res.RowsAffected, res.Error
}

func (r *predictionRepository) MarkResolved(ctx context.Context, id uint, status entity.PredictionStatus, points *int64) (bool, error) {
	res := r.db.WithContext(ctx).Model(&entity.Prediction{}).
		Where("id = ? AND status IN ?", id, openStatuses).
		Updates(map[string]interface{}{
			"status":         status,
			"points_awarded": points,
		})
	return res.RowsAffected > 0, res.Error
}
