package config

import (
	"fmt"
	"time"

	"golang-updown-settler/pkg/config"
	"golang-updown-settler/pkg/tradingcal"
	"golang-updown-settler/pkg/utils"

	"github.com/shopspring/decimal"
)

// Settlement holds the tuning knobs of the settlement engine. Reward, fee,
// and the void threshold are business decisions, so they only ever come
// from configuration.
type Settlement struct {
	// RewardPoints is a pointer so an explicit zero reward is
	// distinguishable from an absent key.
	RewardPoints         *int64        `mapstructure:"reward_points"`
	FeePoints            int64         `mapstructure:"fee_points"`
	VoidThresholdPct     string        `mapstructure:"void_threshold_pct"`
	GatewayMaxAttempts   int           `mapstructure:"gateway_max_attempts"`
	GatewayRetryBackoff  time.Duration `mapstructure:"gateway_retry_backoff"`
	DayLockLease         time.Duration `mapstructure:"day_lock_lease"`
	MaxConcurrentSymbols int           `mapstructure:"max_concurrent_symbols"`
	CronSpec             string        `mapstructure:"cron_spec"`
	ResultCacheTTL       time.Duration `mapstructure:"result_cache_ttl"`
	HistoryPageSize      int           `mapstructure:"history_page_size"`
}

// VoidThreshold parses the configured threshold percentage.
func (s Settlement) VoidThreshold() (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s.VoidThresholdPct)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("invalid void_threshold_pct %q: %w", s.VoidThresholdPct, err)
	}
	return d, nil
}

// EODProvider holds the end-of-day price vendor settings.
type EODProvider struct {
	BaseURL             string        `mapstructure:"base_url"`
	APIKey              string        `mapstructure:"api_key"`
	MaxRequestPerMinute int           `mapstructure:"max_request_per_minute"`
	Timeout             time.Duration `mapstructure:"timeout"`
}

// Config holds the full configuration for the settlement service.
type Config struct {
	App         config.App        `mapstructure:"app"`
	Logger      config.Logger     `mapstructure:"logger"`
	Database    config.Database   `mapstructure:"database"`
	Redis       config.Redis      `mapstructure:"redis"`
	API         config.API        `mapstructure:"api"`
	Telegram    config.Telegram   `mapstructure:"telegram"`
	Calendar    tradingcal.Config `mapstructure:"calendar"`
	Settlement  Settlement        `mapstructure:"settlement"`
	EODProvider EODProvider       `mapstructure:"eod_provider"`
}

// Load loads the settlement service configuration from the given path.
func Load(path string) (*Config, error) {
	var cfg Config
	if err := config.Load(path, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	if _, err := cfg.Settlement.VoidThreshold(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	s := &cfg.Settlement
	if s.RewardPoints == nil {
		s.RewardPoints = utils.ToPointer(int64(100))
	}
	if s.VoidThresholdPct == "" {
		s.VoidThresholdPct = "0.01"
	}
	if s.GatewayMaxAttempts <= 0 {
		s.GatewayMaxAttempts = 3
	}
	if s.GatewayRetryBackoff <= 0 {
		s.GatewayRetryBackoff = 2 * time.Second
	}
	if s.DayLockLease <= 0 {
		s.DayLockLease = 10 * time.Minute
	}
	if s.MaxConcurrentSymbols <= 0 {
		s.MaxConcurrentSymbols = 4
	}
	if s.ResultCacheTTL <= 0 {
		s.ResultCacheTTL = 5 * time.Minute
	}
	if s.HistoryPageSize <= 0 {
		s.HistoryPageSize = 20
	}
	if cfg.EODProvider.MaxRequestPerMinute <= 0 {
		cfg.EODProvider.MaxRequestPerMinute = 60
	}
	if cfg.EODProvider.Timeout <= 0 {
		cfg.EODProvider.Timeout = 10 * time.Second
	}
}
