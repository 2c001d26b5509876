package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"golang-updown-settler/internal/entity"
	"golang-updown-settler/internal/settler/config"
	"golang-updown-settler/internal/settler/dto"
	"golang-updown-settler/internal/settler/repository"
	"golang-updown-settler/internal/settler/service"
	"golang-updown-settler/pkg/logger"
	"golang-updown-settler/pkg/redislock"
	"golang-updown-settler/pkg/telegram"
	"golang-updown-settler/pkg/tradingcal"
	"golang-updown-settler/pkg/utils"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type fakeGateway struct {
	mu     sync.Mutex
	quotes map[string]dto.EODQuote
	err    error
	calls  int
}

func (f *fakeGateway) Fetch(_ context.Context, param dto.GetEODQuoteParam) (*dto.EODQuote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	q, ok := f.quotes[param.Symbol]
	if !ok {
		return nil, repository.ErrPriceNotAvailable
	}
	return &q, nil
}

func (f *fakeGateway) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type memoryLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

func newMemoryLocker() *memoryLocker {
	return &memoryLocker{held: make(map[string]bool)}
}

func (l *memoryLocker) Acquire(_ context.Context, key string, _ time.Duration) (redislock.ReleaseFunc, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] {
		return nil, redislock.ErrLockHeld
	}
	l.held[key] = true
	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, key)
		return nil
	}, nil
}

type fixture struct {
	db      *gorm.DB
	svc     service.SettlementService
	gateway *fakeGateway
	locker  *memoryLocker
	ledger  repository.LedgerRepository
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(
		&entity.Prediction{},
		&entity.EODPriceRecord{},
		&entity.SettlementRecord{},
		&entity.PointsLedgerEntry{},
		&entity.SettlementRun{},
	))

	cfg := &config.Config{
		Settlement: config.Settlement{
			RewardPoints:         utils.ToPointer(int64(100)),
			FeePoints:            0,
			VoidThresholdPct:     "0.01",
			GatewayMaxAttempts:   2,
			GatewayRetryBackoff:  time.Millisecond,
			DayLockLease:         time.Minute,
			MaxConcurrentSymbols: 2,
			ResultCacheTTL:       time.Minute,
			HistoryPageSize:      20,
		},
	}

	log, err := logger.New("error", "json")
	require.NoError(t, err)

	calendar, err := tradingcal.New(tradingcal.Config{
		Timezone: "UTC",
		Rollover: "18:00",
		Holidays: []string{"2026-12-25"},
	})
	require.NoError(t, err)

	gateway := &fakeGateway{quotes: make(map[string]dto.EODQuote)}
	locker := newMemoryLocker()
	ledger := repository.NewLedgerRepository(db)

	svc, err := service.NewSettlementService(
		cfg, log, calendar, gateway,
		repository.NewPredictionRepository(db),
		repository.NewEODPriceRepository(db),
		repository.NewSettlementRecordRepository(db),
		repository.NewSettlementRunRepository(db),
		ledger,
		locker,
		telegram.NewNoop(),
	)
	require.NoError(t, err)

	return &fixture{db: db, svc: svc, gateway: gateway, locker: locker, ledger: ledger}
}

func (f *fixture) seedPrediction(t *testing.T, day time.Time, userID uint, symbol string, choice entity.PredictionChoice, status entity.PredictionStatus) *entity.Prediction {
	t.Helper()
	p := &entity.Prediction{
		TradingDay:  day,
		UserID:      userID,
		Symbol:      symbol,
		Choice:      choice,
		Status:      status,
		SubmittedAt: day.Add(-3 * time.Hour),
	}
	require.NoError(t, f.db.Create(p).Error)
	return p
}

func (f *fixture) quote(symbol string, day time.Time, close, prevClose string) {
	f.gateway.quotes[symbol] = dto.EODQuote{
		Symbol:         symbol,
		TradingDay:     day,
		ClosePrice:     decimal.NewNullDecimal(decimal.RequireFromString(close)),
		PrevClosePrice: decimal.NewNullDecimal(decimal.RequireFromString(prevClose)),
	}
}

func (f *fixture) ledgerCount(t *testing.T) int64 {
	t.Helper()
	var count int64
	require.NoError(t, f.db.Model(&entity.PointsLedgerEntry{}).Count(&count).Error)
	return count
}

func mustDay(t *testing.T, s string) time.Time {
	t.Helper()
	day, err := utils.ParseDay(s)
	require.NoError(t, err)
	return day
}

func TestRunSettlementWinAndLoss(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	day := mustDay(t, "2026-08-18")

	f.quote("BBCA", day, "110", "100")
	winner := f.seedPrediction(t, day, 1, "BBCA", entity.ChoiceUp, entity.PredictionPending)
	loser := f.seedPrediction(t, day, 2, "BBCA", entity.ChoiceDown, entity.PredictionPending)

	result, err := f.svc.RunSettlement(ctx, &dto.RunSettlementRequest{TradingDay: "2026-08-18"})
	require.NoError(t, err)
	require.Len(t, result.Symbols, 1)

	sym := result.Symbols[0]
	assert.False(t, sym.Failed)
	assert.Equal(t, entity.OutcomeUp, sym.Outcome)
	assert.Equal(t, 1, sym.Correct)
	assert.Equal(t, 1, sym.Incorrect)
	assert.Equal(t, 0, sym.Voided)
	assert.Equal(t, 1, sym.LedgerEntries)

	var reloadedWinner entity.Prediction
	require.NoError(t, f.db.First(&reloadedWinner, winner.ID).Error)
	assert.Equal(t, entity.PredictionCorrect, reloadedWinner.Status)
	require.NotNil(t, reloadedWinner.PointsAwarded)
	assert.Equal(t, int64(100), *reloadedWinner.PointsAwarded)

	var reloadedLoser entity.Prediction
	require.NoError(t, f.db.First(&reloadedLoser, loser.ID).Error)
	assert.Equal(t, entity.PredictionIncorrect, reloadedLoser.Status)

	entry, err := f.ledger.GetByRefID(ctx, "2026-08-18:BBCA:1:WIN")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, int64(100), entry.DeltaPoints)
	assert.Equal(t, int64(100), entry.BalanceAfter)

	// Incorrect predictions never produce a ledger entry.
	loserBalance, err := f.ledger.Balance(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(0), loserBalance)
	assert.Equal(t, int64(1), f.ledgerCount(t))

	// The fetched quote was committed as price revision 1.
	var price entity.EODPriceRecord
	require.NoError(t, f.db.Where("symbol = ?", "BBCA").First(&price).Error)
	assert.Equal(t, 1, price.Revision)
}

func TestRunSettlementVoidRefundsIdempotently(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	day := mustDay(t, "2026-08-18")

	// 0.005% move, under the 0.01% threshold.
	f.quote("TLKM", day, "100.005", "100")
	f.seedPrediction(t, day, 1, "TLKM", entity.ChoiceUp, entity.PredictionPending)
	f.seedPrediction(t, day, 2, "TLKM", entity.ChoiceDown, entity.PredictionPending)

	result, err := f.svc.RunSettlement(ctx, &dto.RunSettlementRequest{TradingDay: "2026-08-18"})
	require.NoError(t, err)
	require.Len(t, result.Symbols, 1)

	sym := result.Symbols[0]
	assert.Equal(t, entity.OutcomeVoid, sym.Outcome)
	require.NotNil(t, sym.VoidReason)
	assert.Equal(t, entity.VoidInsufficientMove, *sym.VoidReason)
	assert.Equal(t, 2, sym.Voided)
	assert.Equal(t, 2, sym.LedgerEntries)

	// Refunds are explicit zero-delta entries with the VOID_REFUND suffix.
	entry, err := f.ledger.GetByRefID(ctx, "2026-08-18:TLKM:1:VOID_REFUND")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, int64(0), entry.DeltaPoints)

	// A full re-run settles nothing and appends nothing.
	rerun, err := f.svc.RunSettlement(ctx, &dto.RunSettlementRequest{TradingDay: "2026-08-18"})
	require.NoError(t, err)
	require.Len(t, rerun.Symbols, 1)
	assert.Equal(t, 0, rerun.Symbols[0].LedgerEntries)
	assert.Equal(t, 0, rerun.Symbols[0].Repaired)
	assert.Equal(t, int64(2), f.ledgerCount(t))
}

func TestRetryAfterCleanRunIsNoOp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	day := mustDay(t, "2026-08-18")

	f.quote("BBCA", day, "110", "100")
	f.seedPrediction(t, day, 1, "BBCA", entity.ChoiceUp, entity.PredictionPending)

	_, err := f.svc.RunSettlement(ctx, &dto.RunSettlementRequest{TradingDay: "2026-08-18"})
	require.NoError(t, err)
	before := f.ledgerCount(t)

	retry, err := f.svc.RetrySettlement(ctx, &dto.RetrySettlementRequest{TradingDay: "2026-08-18"})
	require.NoError(t, err)
	assert.Empty(t, retry.Symbols, "no open symbols remain after a clean run")
	assert.Equal(t, before, f.ledgerCount(t))
}

func TestPriceUnavailableSettlesVoid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	day := mustDay(t, "2026-08-18")

	f.gateway.err = errors.New("vendor down")
	f.seedPrediction(t, day, 1, "ASII", entity.ChoiceUp, entity.PredictionPending)

	result, err := f.svc.RunSettlement(ctx, &dto.RunSettlementRequest{TradingDay: "2026-08-18"})
	require.NoError(t, err)
	require.Len(t, result.Symbols, 1)

	sym := result.Symbols[0]
	assert.False(t, sym.Failed, "an exhausted retry budget is a VOID outcome, not a pass failure")
	assert.Equal(t, entity.OutcomeVoid, sym.Outcome)
	require.NotNil(t, sym.VoidReason)
	assert.Equal(t, entity.VoidPriceUnavailable, *sym.VoidReason)
	assert.Equal(t, 2, f.gateway.callCount(), "retry budget is honored")

	entry, err := f.ledger.GetByRefID(ctx, "2026-08-18:ASII:1:VOID_REFUND")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, int64(0), entry.DeltaPoints)
}

func TestStoredPriceRevisionSkipsGateway(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	day := mustDay(t, "2026-08-18")

	require.NoError(t, f.db.Create(&entity.EODPriceRecord{
		TradingDay:     day,
		Symbol:         "BMRI",
		Revision:       1,
		ClosePrice:     decimal.NewNullDecimal(decimal.RequireFromString("95")),
		PrevClosePrice: decimal.NewNullDecimal(decimal.RequireFromString("100")),
		FetchedAt:      time.Now().UTC(),
	}).Error)
	f.seedPrediction(t, day, 1, "BMRI", entity.ChoiceDown, entity.PredictionPending)

	result, err := f.svc.RunSettlement(ctx, &dto.RunSettlementRequest{TradingDay: "2026-08-18"})
	require.NoError(t, err)
	require.Len(t, result.Symbols, 1)
	assert.Equal(t, entity.OutcomeDown, result.Symbols[0].Outcome)
	assert.Equal(t, 1, result.Symbols[0].Correct)
	assert.Equal(t, 0, f.gateway.callCount(), "a committed revision is reused, never refetched")
}

func TestVendorNoDataAnswerIsNotRetried(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	day := mustDay(t, "2026-08-18")

	// No quote seeded: the gateway answers ErrPriceNotAvailable, a definitive
	// vendor response that must not burn the retry budget.
	f.seedPrediction(t, day, 1, "GOTO", entity.ChoiceUp, entity.PredictionPending)

	result, err := f.svc.RunSettlement(ctx, &dto.RunSettlementRequest{TradingDay: "2026-08-18"})
	require.NoError(t, err)
	require.Len(t, result.Symbols, 1)

	sym := result.Symbols[0]
	assert.Equal(t, entity.OutcomeVoid, sym.Outcome)
	require.NotNil(t, sym.VoidReason)
	assert.Equal(t, entity.VoidPriceUnavailable, *sym.VoidReason)
	assert.Equal(t, 1, f.gateway.callCount())
}

func TestPaidRecordMismatchIsFlaggedNotOverwritten(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	day := mustDay(t, "2026-08-18")

	// A prior run settled BBCA as UP and paid user 1; a corrected price
	// revision now implies DOWN, and user 2's prediction is still open from
	// the interrupted pass.
	record := &entity.SettlementRecord{
		TradingDay:     day,
		Symbol:         "BBCA",
		Outcome:        entity.OutcomeUp,
		ClosePrice:     decimal.NewNullDecimal(decimal.RequireFromString("110")),
		PrevClosePrice: decimal.NewNullDecimal(decimal.RequireFromString("100")),
		ComputedAt:     time.Now().UTC(),
	}
	require.NoError(t, f.db.Create(record).Error)
	require.NoError(t, f.db.Create(&entity.EODPriceRecord{
		TradingDay:     day,
		Symbol:         "BBCA",
		Revision:       2,
		ClosePrice:     decimal.NewNullDecimal(decimal.RequireFromString("95")),
		PrevClosePrice: decimal.NewNullDecimal(decimal.RequireFromString("100")),
		FetchedAt:      time.Now().UTC(),
	}).Error)

	paid := f.seedPrediction(t, day, 1, "BBCA", entity.ChoiceUp, entity.PredictionCorrect)
	require.NoError(t, f.db.Model(paid).Update("points_awarded", 100).Error)
	_, err := f.ledger.Apply(ctx, 1, 100, entity.ReasonSettlementWin, "2026-08-18:BBCA:1:WIN")
	require.NoError(t, err)
	f.seedPrediction(t, day, 2, "BBCA", entity.ChoiceUp, entity.PredictionPending)

	result, err := f.svc.RunSettlement(ctx, &dto.RunSettlementRequest{TradingDay: "2026-08-18"})
	require.NoError(t, err)
	require.Len(t, result.Symbols, 1)
	assert.Equal(t, entity.OutcomeUp, result.Symbols[0].Outcome, "the paid outcome stays authoritative")

	var stored entity.SettlementRecord
	require.NoError(t, f.db.First(&stored, record.ID).Error)
	assert.Equal(t, entity.OutcomeUp, stored.Outcome)
	assert.True(t, stored.NeedsReconciliation)

	// The open prediction settles against the paid record, not the
	// recomputation.
	var late entity.Prediction
	require.NoError(t, f.db.Where("user_id = ?", 2).First(&late).Error)
	assert.Equal(t, entity.PredictionCorrect, late.Status)
}

func TestRepairsMissingPayoutAfterPartialRun(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	day := mustDay(t, "2026-08-18")

	// A prior run crashed after transitioning the prediction but before the
	// ledger write: the record and the terminal status exist, the payout does
	// not.
	require.NoError(t, f.db.Create(&entity.SettlementRecord{
		TradingDay:     day,
		Symbol:         "BBCA",
		Outcome:        entity.OutcomeUp,
		ClosePrice:     decimal.NewNullDecimal(decimal.RequireFromString("110")),
		PrevClosePrice: decimal.NewNullDecimal(decimal.RequireFromString("100")),
		ComputedAt:     time.Now().UTC(),
	}).Error)
	pred := f.seedPrediction(t, day, 1, "BBCA", entity.ChoiceUp, entity.PredictionCorrect)
	require.NoError(t, f.db.Model(pred).Update("points_awarded", 100).Error)

	result, err := f.svc.RunSettlement(ctx, &dto.RunSettlementRequest{TradingDay: "2026-08-18"})
	require.NoError(t, err)
	require.Len(t, result.Symbols, 1, "recorded symbols stay in scope even with no open predictions")

	sym := result.Symbols[0]
	assert.Equal(t, 1, sym.Repaired)
	assert.Equal(t, 1, sym.LedgerEntries)
	assert.Equal(t, 0, f.gateway.callCount())

	balance, err := f.ledger.Balance(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(100), balance)
}

func TestRunRejectsNonTradingDay(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.RunSettlement(context.Background(), &dto.RunSettlementRequest{TradingDay: "2026-08-16"})
	require.ErrorIs(t, err, service.ErrNotTradingDay)
}

func TestRunRequiresDayOrAsOf(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.RunSettlement(context.Background(), &dto.RunSettlementRequest{})
	require.ErrorIs(t, err, service.ErrMissingAsOf)
}

func TestRunResolvesDayFromAsOf(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	day := mustDay(t, "2026-08-21")

	f.quote("BBCA", day, "110", "100")
	f.seedPrediction(t, day, 1, "BBCA", entity.ChoiceUp, entity.PredictionPending)

	// Saturday morning resolves back to Friday's trading day.
	asOf := time.Date(2026, 8, 22, 10, 0, 0, 0, time.UTC)
	result, err := f.svc.RunSettlement(ctx, &dto.RunSettlementRequest{AsOf: asOf, TriggeredBy: entity.RunTriggerSchedule})
	require.NoError(t, err)
	assert.Equal(t, "2026-08-21", result.TradingDay)
	assert.Equal(t, entity.RunTriggerSchedule, result.TriggeredBy)
	require.Len(t, result.Symbols, 1)
	assert.Equal(t, 1, result.Symbols[0].Correct)
}

func TestRunYieldsWhenDayLockHeld(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	release, err := f.locker.Acquire(ctx, "settlement:day-lock:2026-08-18", time.Minute)
	require.NoError(t, err)
	defer func() { _ = release(ctx) }()

	_, err = f.svc.RunSettlement(ctx, &dto.RunSettlementRequest{TradingDay: "2026-08-18"})
	require.ErrorIs(t, err, redislock.ErrLockHeld)
}

func TestRunsAreRecorded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	day := mustDay(t, "2026-08-18")

	f.quote("BBCA", day, "110", "100")
	f.seedPrediction(t, day, 1, "BBCA", entity.ChoiceUp, entity.PredictionPending)

	result, err := f.svc.RunSettlement(ctx, &dto.RunSettlementRequest{TradingDay: "2026-08-18"})
	require.NoError(t, err)

	runs, err := f.svc.ListRuns(ctx, &day)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, result.RunID, runs[0].ID)
	assert.Equal(t, entity.RunStatusCompleted, runs[0].Status)
	assert.Equal(t, entity.RunTriggerManual, runs[0].TriggeredBy)
	assert.True(t, runs[0].CompletedAt.Valid)
	assert.NotEmpty(t, runs[0].Summary)
}

func TestGetSettlementServesCachedRecords(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	day := mustDay(t, "2026-08-18")

	f.quote("BBCA", day, "110", "100")
	f.seedPrediction(t, day, 1, "BBCA", entity.ChoiceUp, entity.PredictionPending)

	_, err := f.svc.RunSettlement(ctx, &dto.RunSettlementRequest{TradingDay: "2026-08-18"})
	require.NoError(t, err)

	records, err := f.svc.GetSettlement(ctx, day)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, entity.OutcomeUp, records[0].Outcome)

	// Second read is served from cache and stays identical.
	cached, err := f.svc.GetSettlement(ctx, day)
	require.NoError(t, err)
	assert.Equal(t, records, cached)
}
