package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang-updown-settler/internal/settler/config"
	"golang-updown-settler/internal/settler/dto"
	"golang-updown-settler/pkg/logger"
	"golang-updown-settler/pkg/utils"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ErrPriceNotAvailable is returned when the vendor has no usable close data
// for the requested symbol and day. Fetches with identical arguments are
// safe to retry.
var ErrPriceNotAvailable = errors.New("eod price not available")

// EODPriceGateway is the narrow vendor boundary consumed by the settlement
// core: close and previous close for one symbol on one trading day.
type EODPriceGateway interface {
	Fetch(ctx context.Context, param dto.GetEODQuoteParam) (*dto.EODQuote, error)
}

type eodHTTPGateway struct {
	cfg            *config.Config
	log            *logger.Logger
	httpClient     *http.Client
	requestLimiter *rate.Limiter
}

// NewEODHTTPGateway creates the HTTP-backed price gateway.
func NewEODHTTPGateway(cfg *config.Config, log *logger.Logger) EODPriceGateway {
	secondsPerRequest := time.Minute / time.Duration(cfg.EODProvider.MaxRequestPerMinute)
	return &eodHTTPGateway{
		cfg: cfg,
		log: log,
		httpClient: &http.Client{
			Timeout: cfg.EODProvider.Timeout,
		},
		requestLimiter: rate.NewLimiter(rate.Every(secondsPerRequest), 1),
	}
}

type eodVendorResponse struct {
	Symbol    string              `json:"symbol"`
	Date      string              `json:"date"`
	Close     decimal.NullDecimal `json:"close"`
	PrevClose decimal.NullDecimal `json:"prev_close"`
}

func (g *eodHTTPGateway) Fetch(ctx context.Context, param dto.GetEODQuoteParam) (*dto.EODQuote, error) {
	day := utils.FormatDay(param.TradingDay)
	fields := []zap.Field{
		logger.StringField("symbol", param.Symbol),
		logger.StringField("trading_day", day),
	}

	if err := g.requestLimiter.Wait(ctx); err != nil {
		g.log.ErrorContext(ctx, "Failed to wait for request limit", append(fields, logger.ErrorField(err))...)
		return nil, err
	}

	reqURL := fmt.Sprintf("%s/v1/eod?symbol=%s&date=%s",
		g.cfg.EODProvider.BaseURL, url.QueryEscape(param.Symbol), day)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if g.cfg.EODProvider.APIKey != "" {
		req.Header.Set("X-Api-Key", g.cfg.EODProvider.APIKey)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		g.log.ErrorContext(ctx, "Failed to call EOD provider", append(fields, logger.ErrorField(err))...)
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrPriceNotAvailable
	}
	if resp.StatusCode != http.StatusOK {
		g.log.ErrorContext(ctx, "Received non-OK response from EOD provider",
			append(fields, logger.IntField("status_code", resp.StatusCode))...)
		return nil, fmt.Errorf("eod provider returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var vendor eodVendorResponse
	if err := json.Unmarshal(body, &vendor); err != nil {
		return nil, fmt.Errorf("failed to decode EOD provider response: %w", err)
	}

	if !vendor.Close.Valid && !vendor.PrevClose.Valid {
		return nil, ErrPriceNotAvailable
	}

	g.log.DebugContext(ctx, "Fetched EOD quote", fields...)

	return &dto.EODQuote{
		Symbol:         param.Symbol,
		TradingDay:     param.TradingDay,
		ClosePrice:     vendor.Close,
		PrevClosePrice: vendor.PrevClose,
	}, nil
}
