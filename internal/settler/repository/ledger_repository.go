package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang-updown-settler/internal/entity"
	"golang-updown-settler/internal/settler/dto"
	"golang-updown-settler/pkg/keylock"

	"gorm.io/gorm"
)

// LedgerRepository is the append-only points ledger. RefID uniqueness makes
// replays safe; balances chain per user under per-user serialization.
type LedgerRepository interface {
	// Apply appends one balance mutation. A refID that was already applied
	// returns the original entry with no new row and no balance change;
	// callers must treat that as success.
	Apply(ctx context.Context, userID uint, delta int64, reason entity.LedgerReason, refID string) (*entity.PointsLedgerEntry, error)
	// GetByRefID returns the entry for a refID, or nil when absent.
	GetByRefID(ctx context.Context, refID string) (*entity.PointsLedgerEntry, error)
	// HasRefWithPrefix reports whether any entry's refID starts with prefix.
	HasRefWithPrefix(ctx context.Context, prefix string) (bool, error)
	// Balance returns the latest balanceAfter for a user, or zero.
	Balance(ctx context.Context, userID uint) (int64, error)
	// History returns one page of a user's entries, newest first.
	History(ctx context.Context, userID uint, page, pageSize int) ([]entity.PointsLedgerEntry, error)
	// VerifyIntegrity recomputes each user's running sum and compares it to
	// the latest balanceAfter. Mismatches are reported, never corrected.
	VerifyIntegrity(ctx context.Context, userID *uint) (*dto.IntegrityReport, error)
}

// NewLedgerRepository creates a new GORM-based ledger repository.
func NewLedgerRepository(db *gorm.DB) LedgerRepository {
	return &ledgerRepository{db: db, userLocks: keylock.New()}
}

type ledgerRepository struct {
	db        *gorm.DB
	userLocks *keylock.KeyedMutex
}

func userLockKey(userID uint) string {
	return fmt.Sprintf("ledger:user:%d", userID)
}

// Apply serializes per user via a keyed mutex so one user's balance chain
// never interleaves while distinct users proceed in parallel. The unique
// index on ref_id is the cross-process backstop: a concurrent duplicate
// insert is reloaded and returned as the original entry.
func (r *ledgerRepository) Apply(ctx context.Context, userID uint, delta int64, reason entity.LedgerReason, refID string) (*entity.PointsLedgerEntry, error) {
	key := userLockKey(userID)
	r.userLocks.Lock(key)
	defer r.userLocks.Unlock(key)

	if existing, err := r.GetByRefID(ctx, refID); err != nil {
		return nil, err
	} else if existing != nil {
		return existing, nil
	}

	entry := &entity.PointsLedgerEntry{
		UserID:      userID,
		DeltaPoints: delta,
		Reason:      reason,
		RefID:       refID,
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var last entity.PointsLedgerEntry
		balance := int64(0)
		err := tx.Where("user_id = ?", userID).Order("id DESC").First(&last).Error
		if err == nil {
			balance = last.BalanceAfter
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		entry.BalanceAfter = balance + delta
		return tx.Create(entry).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			existing, lookupErr := r.GetByRefID(ctx, refID)
			if lookupErr != nil {
				return nil, lookupErr
			}
			if existing == nil {
				return nil, fmt.Errorf("duplicate ref_id %s but entry not found", refID)
			}
			return existing, nil
		}
		return nil, err
	}
	return entry, nil
}

func (r *ledgerRepository) GetByRefID(ctx context.Context, refID string) (*entity.PointsLedgerEntry, error) {
	var entry entity.PointsLedgerEntry
	err := r.db.WithContext(ctx).Where("ref_id = ?", refID).First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// likeEscaper neutralizes LIKE metacharacters so symbols such as BRK_B
// match only their own refIDs.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func (r *ledgerRepository) HasRefWithPrefix(ctx context.Context, prefix string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&entity.PointsLedgerEntry{}).
		Where(`ref_id LIKE ? ESCAPE '\'`, likeEscaper.Replace(prefix)+"%").
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *ledgerRepository) Balance(ctx context.Context, userID uint) (int64, error) {
	var last entity.PointsLedgerEntry
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("id DESC").First(&last).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return last.BalanceAfter, nil
}

func (r *ledgerRepository) History(ctx context.Context, userID uint, page, pageSize int) ([]entity.PointsLedgerEntry, error) {
	if page < 1 {
		page = 1
	}
	var entries []entity.PointsLedgerEntry
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *ledgerRepository) VerifyIntegrity(ctx context.Context, userID *uint) (*dto.IntegrityReport, error) {
	var userIDs []uint
	if userID != nil {
		userIDs = []uint{*userID}
	} else {
		err := r.db.WithContext(ctx).Model(&entity.PointsLedgerEntry{}).
			Distinct("user_id").
			Pluck("user_id", &userIDs).Error
		if err != nil {
			return nil, err
		}
	}

	report := &dto.IntegrityReport{
		CheckedUsers: len(userIDs),
		CheckedAt:    time.Now().UTC(),
	}
	for _, uid := range userIDs {
		var sum int64
		err := r.db.WithContext(ctx).Model(&entity.PointsLedgerEntry{}).
			Where("user_id = ?", uid).
			Select("COALESCE(SUM(delta_points), 0)").
			Scan(&sum).Error
		if err != nil {
			return nil, err
		}

		recorded, err := r.Balance(ctx, uid)
		if err != nil {
			return nil, err
		}
		if sum != recorded {
			report.Issues = append(report.Issues, dto.IntegrityIssue{
				UserID:          uid,
				RecomputedSum:   sum,
				RecordedBalance: recorded,
				Difference:      recorded - sum,
			})
		}
	}
	return report, nil
}
