package entity

import (
	"time"
)

// PredictionChoice is the direction a user picked for a symbol.
type PredictionChoice string

const (
	ChoiceUp   PredictionChoice = "UP"
	ChoiceDown PredictionChoice = "DOWN"
)

// IsValid reports whether the choice is one of the known directions.
func (c PredictionChoice) IsValid() bool {
	switch c {
	case ChoiceUp, ChoiceDown:
		return true
	}
	return false
}

// PredictionStatus is the lifecycle state of a prediction. Transitions only
// move forward: PENDING -> LOCKED -> {CORRECT, INCORRECT, VOID}.
type PredictionStatus string

const (
	PredictionPending   PredictionStatus = "PENDING"
	PredictionLocked    PredictionStatus = "LOCKED"
	PredictionCorrect   PredictionStatus = "CORRECT"
	PredictionIncorrect PredictionStatus = "INCORRECT"
	PredictionVoid      PredictionStatus = "VOID"
)

// IsTerminal reports whether the status is a final settlement state.
func (s PredictionStatus) IsTerminal() bool {
	switch s {
	case PredictionCorrect, PredictionIncorrect, PredictionVoid:
		return true
	}
	return false
}

type Prediction struct {
	ID            uint             `gorm:"primaryKey" json:"id"`
	TradingDay    time.Time        `gorm:"type:date;not null;uniqueIndex:uq_predictions_day_user_symbol,priority:1;index:idx_predictions_day_symbol_status,priority:1" json:"trading_day"`
	UserID        uint             `gorm:"not null;uniqueIndex:uq_predictions_day_user_symbol,priority:2" json:"user_id"`
	Symbol        string           `gorm:"not null;uniqueIndex:uq_predictions_day_user_symbol,priority:3;index:idx_predictions_day_symbol_status,priority:2" json:"symbol"`
	Choice        PredictionChoice `gorm:"not null" json:"choice"`
	Status        PredictionStatus `gorm:"not null;index:idx_predictions_day_symbol_status,priority:3" json:"status"`
	SubmittedAt   time.Time        `gorm:"not null" json:"submitted_at"`
	LockedAt      *time.Time       `json:"locked_at,omitempty"`
	PointsAwarded *int64           `json:"points_awarded,omitempty"`
	CreatedAt     time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Prediction) TableName() string {
	return "predictions"
}
