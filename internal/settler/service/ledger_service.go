package service

import (
	"context"

	"golang-updown-settler/internal/settler/config"
	"golang-updown-settler/internal/settler/dto"
	"golang-updown-settler/internal/settler/repository"
	"golang-updown-settler/pkg/logger"
	"golang-updown-settler/pkg/telegram"
)

// LedgerService exposes point balances, history, and integrity checks on
// top of the ledger repository.
type LedgerService interface {
	GetBalance(ctx context.Context, userID uint) (*dto.BalanceResponse, error)
	GetLedger(ctx context.Context, userID uint, page int) (*dto.LedgerPageResponse, error)
	VerifyIntegrity(ctx context.Context, userID *uint) (*dto.IntegrityReport, error)
}

// NewLedgerService creates a new ledger service.
func NewLedgerService(cfg *config.Config, log *logger.Logger, ledgerRepo repository.LedgerRepository, notifier telegram.Notifier) LedgerService {
	return &ledgerService{
		cfg:        cfg,
		log:        log,
		ledgerRepo: ledgerRepo,
		notifier:   notifier,
	}
}

type ledgerService struct {
	cfg        *config.Config
	log        *logger.Logger
	ledgerRepo repository.LedgerRepository
	notifier   telegram.Notifier
}

func (s *ledgerService) GetBalance(ctx context.Context, userID uint) (*dto.BalanceResponse, error) {
	balance, err := s.ledgerRepo.Balance(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &dto.BalanceResponse{UserID: userID, Balance: balance}, nil
}

func (s *ledgerService) GetLedger(ctx context.Context, userID uint, page int) (*dto.LedgerPageResponse, error) {
	if page < 1 {
		page = 1
	}
	pageSize := s.cfg.Settlement.HistoryPageSize
	entries, err := s.ledgerRepo.History(ctx, userID, page, pageSize)
	if err != nil {
		return nil, err
	}
	return &dto.LedgerPageResponse{
		UserID:   userID,
		Page:     page,
		PageSize: pageSize,
		Entries:  entries,
	}, nil
}

// VerifyIntegrity reports mismatches between recorded balances and the
// recomputed delta sums. Mismatches also raise an operator alert; they are
// never auto-corrected, since silent correction would hide real bugs.
func (s *ledgerService) VerifyIntegrity(ctx context.Context, userID *uint) (*dto.IntegrityReport, error) {
	report, err := s.ledgerRepo.VerifyIntegrity(ctx, userID)
	if err != nil {
		return nil, err
	}

	if !report.OK() {
		s.log.Error("Ledger integrity mismatch detected", logger.IntField("issues", len(report.Issues)))
		if err := s.notifier.SendMessage(telegram.FormatIntegrityAlertMessage(report)); err != nil {
			s.log.Error("Failed to send integrity alert", logger.ErrorField(err))
		}
	}

	return report, nil
}
