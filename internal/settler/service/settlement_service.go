package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang-updown-settler/internal/entity"
	"golang-updown-settler/internal/settler/classify"
	"golang-updown-settler/internal/settler/config"
	"golang-updown-settler/internal/settler/dto"
	"golang-updown-settler/internal/settler/repository"
	"golang-updown-settler/pkg/common"
	"golang-updown-settler/pkg/logger"
	"golang-updown-settler/pkg/redislock"
	"golang-updown-settler/pkg/telegram"
	"golang-updown-settler/pkg/tradingcal"
	"golang-updown-settler/pkg/utils"

	"github.com/lib/pq"
	gocache "github.com/patrickmn/go-cache"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ErrNotTradingDay is returned when the requested day is a weekend or
// market holiday.
var ErrNotTradingDay = errors.New("not a trading day")

// ErrMissingAsOf is returned when neither an explicit trading day nor an
// as-of instant was supplied. The engine never consults ambient "now".
var ErrMissingAsOf = errors.New("trading day or as-of instant required")

// SettlementService drives full settlement passes for a trading day and
// exposes their results.
type SettlementService interface {
	RunSettlement(ctx context.Context, req *dto.RunSettlementRequest) (*dto.SettlementDayResult, error)
	RetrySettlement(ctx context.Context, req *dto.RetrySettlementRequest) (*dto.SettlementDayResult, error)
	GetSettlement(ctx context.Context, day time.Time) ([]entity.SettlementRecord, error)
	ListRuns(ctx context.Context, day *time.Time) ([]entity.SettlementRun, error)
}

// NewSettlementService creates the settlement orchestrator.
func NewSettlementService(
	cfg *config.Config,
	log *logger.Logger,
	calendar *tradingcal.Calendar,
	gateway repository.EODPriceGateway,
	predictionRepo repository.PredictionRepository,
	priceRepo repository.EODPriceRepository,
	recordRepo repository.SettlementRecordRepository,
	runRepo repository.SettlementRunRepository,
	ledgerRepo repository.LedgerRepository,
	locker redislock.Locker,
	notifier telegram.Notifier,
) (SettlementService, error) {
	threshold, err := cfg.Settlement.VoidThreshold()
	if err != nil {
		return nil, err
	}
	if cfg.Settlement.RewardPoints == nil {
		return nil, errors.New("settlement reward_points not configured")
	}
	return &settlementService{
		cfg:            cfg,
		log:            log,
		calendar:       calendar,
		gateway:        gateway,
		predictionRepo: predictionRepo,
		priceRepo:      priceRepo,
		recordRepo:     recordRepo,
		runRepo:        runRepo,
		ledgerRepo:     ledgerRepo,
		locker:         locker,
		notifier:       notifier,
		threshold:      threshold,
		dayCache:       gocache.New(cfg.Settlement.ResultCacheTTL, 2*cfg.Settlement.ResultCacheTTL),
	}, nil
}

type settlementService struct {
	cfg            *config.Config
	log            *logger.Logger
	calendar       *tradingcal.Calendar
	gateway        repository.EODPriceGateway
	predictionRepo repository.PredictionRepository
	priceRepo      repository.EODPriceRepository
	recordRepo     repository.SettlementRecordRepository
	runRepo        repository.SettlementRunRepository
	ledgerRepo     repository.LedgerRepository
	locker         redislock.Locker
	notifier       telegram.Notifier
	threshold      decimal.Decimal
	dayCache       *gocache.Cache
}

// RunSettlement executes one full pass for a trading day. The day comes
// either from the request or from the as-of instant via the calendar; the
// pass is guarded by a day-scoped advisory lock so two passes for the same
// day never run concurrently.
func (s *settlementService) RunSettlement(ctx context.Context, req *dto.RunSettlementRequest) (*dto.SettlementDayResult, error) {
	day, err := s.resolveDay(req.TradingDay, req.AsOf)
	if err != nil {
		return nil, err
	}

	symbols := req.Symbols
	if len(symbols) == 0 {
		symbols, err = s.allWorkSymbols(ctx, day)
		if err != nil {
			return nil, err
		}
	}

	trigger := req.TriggeredBy
	if trigger == "" {
		trigger = entity.RunTriggerManual
	}

	return s.runPass(ctx, day, symbols, trigger)
}

// RetrySettlement re-runs a pass restricted to the unresolved subset of
// symbols, or the requested subset when given.
func (s *settlementService) RetrySettlement(ctx context.Context, req *dto.RetrySettlementRequest) (*dto.SettlementDayResult, error) {
	day, err := s.resolveDay(req.TradingDay, time.Time{})
	if err != nil {
		return nil, err
	}

	symbols := req.Symbols
	if len(symbols) == 0 {
		symbols, err = s.predictionRepo.FindOpenSymbols(ctx, day)
		if err != nil {
			return nil, err
		}
	}

	return s.runPass(ctx, day, symbols, entity.RunTriggerRetry)
}

// GetSettlement returns the settlement records for a day. Settled days are
// served from a short-lived cache so repeated reads stay cheap.
func (s *settlementService) GetSettlement(ctx context.Context, day time.Time) ([]entity.SettlementRecord, error) {
	day = utils.TruncateToDay(day)
	cacheKey := common.SettlementDayCachePrefix + utils.FormatDay(day)
	if cached, ok := s.dayCache.Get(cacheKey); ok {
		return cached.([]entity.SettlementRecord), nil
	}

	records, err := s.recordRepo.FindByDay(ctx, day)
	if err != nil {
		return nil, err
	}
	s.dayCache.SetDefault(cacheKey, records)
	return records, nil
}

func (s *settlementService) ListRuns(ctx context.Context, day *time.Time) ([]entity.SettlementRun, error) {
	return s.runRepo.FindRecent(ctx, day, 50)
}

// resolveDay validates an explicit YYYY-MM-DD day or derives one from the
// as-of instant. It never falls back to ambient process time.
func (s *settlementService) resolveDay(tradingDay string, asOf time.Time) (time.Time, error) {
	if tradingDay != "" {
		day, err := utils.ParseDay(tradingDay)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid trading day %q: %w", tradingDay, err)
		}
		if !s.calendar.IsTradingDay(day) {
			return time.Time{}, fmt.Errorf("%w: %s", ErrNotTradingDay, tradingDay)
		}
		return day, nil
	}
	if asOf.IsZero() {
		return time.Time{}, ErrMissingAsOf
	}
	return s.calendar.CurrentTradingDay(asOf)
}

// allWorkSymbols is the default pass scope: symbols with open predictions
// plus symbols already carrying a settlement record, so half-finished
// symbols from an interrupted pass get repaired even when every prediction
// is already terminal.
func (s *settlementService) allWorkSymbols(ctx context.Context, day time.Time) ([]string, error) {
	open, err := s.predictionRepo.FindOpenSymbols(ctx, day)
	if err != nil {
		return nil, err
	}
	records, err := s.recordRepo.FindByDay(ctx, day)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(open))
	symbols := make([]string, 0, len(open)+len(records))
	for _, sym := range open {
		if !seen[sym] {
			seen[sym] = true
			symbols = append(symbols, sym)
		}
	}
	for _, rec := range records {
		if !seen[rec.Symbol] {
			seen[rec.Symbol] = true
			symbols = append(symbols, rec.Symbol)
		}
	}
	return symbols, nil
}

func (s *settlementService) runPass(ctx context.Context, day time.Time, symbols []string, trigger string) (*dto.SettlementDayResult, error) {
	dayStr := utils.FormatDay(day)

	release, err := s.locker.Acquire(ctx, common.RedisKeyDayLockPrefix+dayStr, s.cfg.Settlement.DayLockLease)
	if err != nil {
		if errors.Is(err, redislock.ErrLockHeld) {
			s.log.Warn("Settlement pass already running", logger.StringField("trading_day", dayStr))
		}
		return nil, err
	}
	defer func() {
		if err := release(ctx); err != nil {
			s.log.Error("Failed to release day lock", logger.ErrorField(err), logger.StringField("trading_day", dayStr))
		}
	}()

	run := &entity.SettlementRun{
		TradingDay:  day,
		TriggeredBy: trigger,
		Symbols:     pq.StringArray(symbols),
		Status:      entity.RunStatusRunning,
		StartedAt:   time.Now().UTC(),
	}
	if err := s.runRepo.Create(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to create settlement run: %w", err)
	}

	s.log.Info("Settlement pass starting",
		logger.StringField("trading_day", dayStr),
		logger.StringField("triggered_by", trigger),
		logger.IntField("symbols", len(symbols)))

	results := s.settleSymbols(ctx, day, symbols)

	result := &dto.SettlementDayResult{
		RunID:       run.ID,
		TradingDay:  dayStr,
		TriggeredBy: trigger,
		StartedAt:   run.StartedAt,
		CompletedAt: time.Now().UTC(),
		Symbols:     results,
	}

	s.finalizeRun(ctx, run, result)
	s.dayCache.Delete(common.SettlementDayCachePrefix + dayStr)

	if failed := result.FailedSymbols(); len(failed) > 0 {
		msg := telegram.FormatPassAlertMessage(dayStr, trigger, failed)
		if err := s.notifier.SendMessage(msg); err != nil {
			s.log.Error("Failed to send settlement alert", logger.ErrorField(err))
		}
	}

	return result, nil
}

// settleSymbols processes symbols with a bounded worker pool. One symbol's
// failure never aborts the rest of the day's pass.
func (s *settlementService) settleSymbols(ctx context.Context, day time.Time, symbols []string) []dto.SymbolSettlementResult {
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results = make([]dto.SymbolSettlementResult, 0, len(symbols))
	)
	semaphore := make(chan struct{}, s.cfg.Settlement.MaxConcurrentSymbols)

	for _, symbol := range symbols {
		if !utils.ShouldContinue(ctx, s.log) {
			break
		}
		wg.Add(1)
		utils.GoSafe(s.log, func() {
			defer wg.Done()
			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			res := s.settleSymbol(ctx, day, symbol)
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
		})
	}
	wg.Wait()
	return results
}

// settleSymbol runs the full per-symbol sequence: lock predictions, obtain
// an outcome (reusing a committed settlement record when one exists),
// transition predictions, and drive ledger payouts.
func (s *settlementService) settleSymbol(ctx context.Context, day time.Time, symbol string) dto.SymbolSettlementResult {
	res := dto.SymbolSettlementResult{Symbol: symbol}
	fields := []zap.Field{
		logger.StringField("trading_day", utils.FormatDay(day)),
		logger.StringField("symbol", symbol),
	}

	if _, err := s.predictionRepo.LockPending(ctx, day, symbol, time.Now().UTC()); err != nil {
		return s.failSymbol(res, "failed to lock predictions", err, fields...)
	}

	predictions, err := s.predictionRepo.FindByDaySymbol(ctx, day, symbol)
	if err != nil {
		return s.failSymbol(res, "failed to load predictions", err, fields...)
	}

	record, err := s.resolveOutcome(ctx, day, symbol, hasOpen(predictions), fields)
	if err != nil {
		return s.failSymbol(res, "failed to resolve outcome", err, fields...)
	}
	if record == nil {
		// No predictions and no prior record: nothing to settle.
		return res
	}

	res.Outcome = record.Outcome
	res.VoidReason = record.VoidReason
	res.ChangePercent = record.ChangePercent

	for _, pred := range predictions {
		if err := s.settlePrediction(ctx, day, record, pred, &res); err != nil {
			return s.failSymbol(res, "failed to settle prediction", err,
				append(fields, logger.Field("prediction_id", pred.ID))...)
		}
	}

	s.log.Info("Symbol settled", append(fields,
		logger.StringField("outcome", string(res.Outcome)),
		logger.IntField("correct", res.Correct),
		logger.IntField("incorrect", res.Incorrect),
		logger.IntField("voided", res.Voided),
		logger.IntField("ledger_entries", res.LedgerEntries),
		logger.IntField("repaired", res.Repaired))...)

	return res
}

// resolveOutcome returns the settlement record to settle against. A missing
// record is computed from the latest prices (fetching with the retry budget
// when needed); an existing record is recomputed only while predictions are
// still open, and a mismatch after payouts is flagged for manual
// reconciliation rather than overwritten.
func (s *settlementService) resolveOutcome(ctx context.Context, day time.Time, symbol string, open bool, fields []zap.Field) (*entity.SettlementRecord, error) {
	record, err := s.recordRepo.Get(ctx, day, symbol)
	if err != nil {
		return nil, err
	}
	if record != nil && !open {
		// Repair-only pass: reuse the committed outcome.
		return record, nil
	}
	if record == nil && !open {
		return nil, nil
	}

	price, fetchErr := s.latestPrice(ctx, day, symbol)
	if fetchErr != nil {
		s.log.Warn("Price unavailable after retry budget, settling VOID",
			append(fields, logger.ErrorField(fetchErr))...)
	}

	fresh := s.buildRecord(day, symbol, price, fetchErr != nil)

	if record == nil {
		if err := s.recordRepo.Create(ctx, fresh); err != nil {
			return nil, err
		}
		return fresh, nil
	}

	if record.Outcome == fresh.Outcome {
		return record, nil
	}

	paid, err := s.ledgerRepo.HasRefWithPrefix(ctx, refPrefix(day, symbol))
	if err != nil {
		return nil, err
	}
	if paid {
		s.log.Warn("Recomputed outcome disagrees with paid settlement record, flagging",
			append(fields,
				logger.StringField("stored_outcome", string(record.Outcome)),
				logger.StringField("recomputed_outcome", string(fresh.Outcome)))...)
		if err := s.recordRepo.FlagReconciliation(ctx, record.ID); err != nil {
			return nil, err
		}
		record.NeedsReconciliation = true
		return record, nil
	}

	fresh.ID = record.ID
	if err := s.recordRepo.Update(ctx, fresh); err != nil {
		return nil, err
	}
	return fresh, nil
}

// latestPrice returns the newest committed price revision, fetching from
// the vendor first when nothing is stored yet. Fetch errors after the retry
// budget surface to the caller, which settles the symbol VOID.
func (s *settlementService) latestPrice(ctx context.Context, day time.Time, symbol string) (*entity.EODPriceRecord, error) {
	stored, err := s.priceRepo.GetLatest(ctx, day, symbol)
	if err != nil {
		return nil, err
	}
	if stored != nil {
		return stored, nil
	}

	quote, err := s.fetchWithRetry(ctx, day, symbol)
	if err != nil {
		return nil, err
	}

	record := &entity.EODPriceRecord{
		TradingDay:     day,
		Symbol:         symbol,
		ClosePrice:     quote.ClosePrice,
		PrevClosePrice: quote.PrevClosePrice,
		FetchedAt:      time.Now().UTC(),
	}
	if err := s.priceRepo.Save(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}

// fetchWithRetry calls the gateway under the configured attempt budget with
// linear backoff. Identical calls are safe to retry on the vendor side. A
// definitive not-available answer is not retried: the vendor has the data or
// it does not, and retrying it only burns the budget.
func (s *settlementService) fetchWithRetry(ctx context.Context, day time.Time, symbol string) (*dto.EODQuote, error) {
	var lastErr error
	for attempt := 1; attempt <= s.cfg.Settlement.GatewayMaxAttempts; attempt++ {
		quote, err := s.gateway.Fetch(ctx, dto.GetEODQuoteParam{Symbol: symbol, TradingDay: day})
		if err == nil {
			return quote, nil
		}
		if errors.Is(err, repository.ErrPriceNotAvailable) {
			return nil, err
		}
		lastErr = err

		if attempt < s.cfg.Settlement.GatewayMaxAttempts {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * s.cfg.Settlement.GatewayRetryBackoff):
			}
		}
	}
	return nil, fmt.Errorf("gateway retry budget exhausted: %w", lastErr)
}

// buildRecord classifies a price record into a settlement record. A nil
// price (retry budget exhausted) becomes VOID with price_unavailable.
func (s *settlementService) buildRecord(day time.Time, symbol string, price *entity.EODPriceRecord, unavailable bool) *entity.SettlementRecord {
	record := &entity.SettlementRecord{
		TradingDay: day,
		Symbol:     symbol,
		ComputedAt: time.Now().UTC(),
	}

	if unavailable || price == nil {
		reason := entity.VoidPriceUnavailable
		record.Outcome = entity.OutcomeVoid
		record.VoidReason = &reason
		return record
	}

	outcome := classify.Classify(price.ClosePrice, price.PrevClosePrice, s.threshold)
	record.Outcome = outcome.Outcome
	record.ClosePrice = price.ClosePrice
	record.PrevClosePrice = price.PrevClosePrice
	record.ChangePercent = outcome.ChangePercent
	record.VoidReason = outcome.VoidReason
	return record
}

// settlePrediction transitions one prediction against the symbol outcome
// and drives its ledger payout. Terminal predictions are only checked for a
// missing payout left by a partial prior run; the derived refID makes every
// payout at-most-once across repeated passes.
func (s *settlementService) settlePrediction(ctx context.Context, day time.Time, record *entity.SettlementRecord, pred entity.Prediction, res *dto.SymbolSettlementResult) error {
	status, delta, reason := s.resolvePayout(record.Outcome, pred.Choice)

	if pred.Status.IsTerminal() {
		// Status already settled; repair a missing ledger entry if the
		// prior run stopped between transition and payout.
		if reason == "" {
			return nil
		}
		return s.applyPayout(ctx, day, record.Symbol, pred.UserID, delta, reason, res, true)
	}

	points := delta
	if reason == "" {
		points = 0
	}
	moved, err := s.predictionRepo.MarkResolved(ctx, pred.ID, status, &points)
	if err != nil {
		return err
	}
	if moved {
		switch status {
		case entity.PredictionCorrect:
			res.Correct++
		case entity.PredictionIncorrect:
			res.Incorrect++
		case entity.PredictionVoid:
			res.Voided++
		}
	}

	if reason == "" {
		return nil
	}
	return s.applyPayout(ctx, day, record.Symbol, pred.UserID, delta, reason, res, false)
}

// resolvePayout maps (outcome, choice) to the terminal status, ledger delta,
// and ledger reason. An empty reason means no ledger entry is due.
func (s *settlementService) resolvePayout(outcome entity.Outcome, choice entity.PredictionChoice) (entity.PredictionStatus, int64, entity.LedgerReason) {
	if outcome == entity.OutcomeVoid {
		return entity.PredictionVoid, s.cfg.Settlement.FeePoints, entity.ReasonSettlementVoidRefund
	}
	if (outcome == entity.OutcomeUp && choice == entity.ChoiceUp) ||
		(outcome == entity.OutcomeDown && choice == entity.ChoiceDown) {
		return entity.PredictionCorrect, *s.cfg.Settlement.RewardPoints, entity.ReasonSettlementWin
	}
	return entity.PredictionIncorrect, 0, ""
}

func (s *settlementService) applyPayout(ctx context.Context, day time.Time, symbol string, userID uint, delta int64, reason entity.LedgerReason, res *dto.SymbolSettlementResult, repair bool) error {
	refID := deriveRefID(day, symbol, userID, reason)

	existing, err := s.ledgerRepo.GetByRefID(ctx, refID)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}

	if _, err := s.ledgerRepo.Apply(ctx, userID, delta, reason, refID); err != nil {
		return err
	}
	res.LedgerEntries++
	if repair {
		res.Repaired++
	}
	return nil
}

func (s *settlementService) failSymbol(res dto.SymbolSettlementResult, msg string, err error, fields ...zap.Field) dto.SymbolSettlementResult {
	s.log.Error(msg, append(fields, logger.ErrorField(err))...)
	res.Failed = true
	res.Error = fmt.Sprintf("%s: %v", msg, err)
	return res
}

func (s *settlementService) finalizeRun(ctx context.Context, run *entity.SettlementRun, result *dto.SettlementDayResult) {
	run.Status = entity.RunStatusCompleted
	if len(result.FailedSymbols()) > 0 {
		run.Status = entity.RunStatusFailed
		run.ErrorMessage = sql.NullString{
			String: fmt.Sprintf("failed symbols: %v", result.FailedSymbols()),
			Valid:  true,
		}
	}
	run.CompletedAt = sql.NullTime{Time: result.CompletedAt, Valid: true}

	summary, err := json.Marshal(result.Symbols)
	if err != nil {
		s.log.Error("Failed to marshal run summary", logger.ErrorField(err))
	} else {
		run.Summary = summary
	}

	if err := s.runRepo.Update(ctx, run); err != nil {
		s.log.Error("Failed to finalize settlement run", logger.ErrorField(err), logger.Field("run_id", run.ID))
	}
}

func hasOpen(predictions []entity.Prediction) bool {
	for _, p := range predictions {
		if !p.Status.IsTerminal() {
			return true
		}
	}
	return false
}

func refPrefix(day time.Time, symbol string) string {
	return fmt.Sprintf("%s:%s:", utils.FormatDay(day), symbol)
}

// deriveRefID builds the deterministic idempotency key for one payout:
// {day}:{symbol}:{userId}:{WIN|VOID_REFUND}.
func deriveRefID(day time.Time, symbol string, userID uint, reason entity.LedgerReason) string {
	suffix := "WIN"
	if reason == entity.ReasonSettlementVoidRefund {
		suffix = "VOID_REFUND"
	}
	return fmt.Sprintf("%s:%s:%d:%s", utils.FormatDay(day), symbol, userID, suffix)
}
