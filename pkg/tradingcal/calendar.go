// Package tradingcal resolves which trading day an instant belongs to and
// walks over weekends and market holidays.
package tradingcal

import (
	"errors"
	"fmt"
	"time"

	"golang-updown-settler/pkg/utils"
)

// ErrMissingCalendarData is returned when the market timezone or the holiday
// list is absent. Callers must treat it as fatal: guessing a trading day
// silently corrupts which predictions get settled.
var ErrMissingCalendarData = errors.New("tradingcal: market calendar data missing")

// ErrWalkExhausted is returned when no trading day exists within the
// configured walk window.
var ErrWalkExhausted = errors.New("tradingcal: no trading day within walk window")

// Config holds the market calendar settings.
type Config struct {
	// Timezone is the IANA name of the market timezone, e.g. "Asia/Jakarta".
	Timezone string `mapstructure:"timezone"`
	// Rollover is the daily boundary "HH:MM" in market time. Instants before
	// the boundary are attributed to the previous calendar date.
	Rollover string `mapstructure:"rollover"`
	// Holidays is the list of non-trading dates as YYYY-MM-DD.
	Holidays []string `mapstructure:"holidays"`
	// WeekendDays overrides the non-trading weekdays. Defaults to Saturday
	// and Sunday.
	WeekendDays []string `mapstructure:"weekend_days"`
	// MaxWalkDays bounds backward/forward walks. Defaults to 30.
	MaxWalkDays int `mapstructure:"max_walk_days"`
}

// Calendar answers trading-day questions for one market.
type Calendar struct {
	loc          *time.Location
	rolloverMins int
	holidays     map[string]struct{}
	weekend      map[time.Weekday]struct{}
	maxWalkDays  int
}

// New builds a Calendar from config. It fails with ErrMissingCalendarData
// rather than guessing when the timezone or holiday list is absent.
func New(cfg Config) (*Calendar, error) {
	if cfg.Timezone == "" {
		return nil, fmt.Errorf("%w: timezone not configured", ErrMissingCalendarData)
	}
	if len(cfg.Holidays) == 0 {
		return nil, fmt.Errorf("%w: holiday list not configured", ErrMissingCalendarData)
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("%w: unknown timezone %q", ErrMissingCalendarData, cfg.Timezone)
	}

	rollover, err := parseRollover(cfg.Rollover)
	if err != nil {
		return nil, err
	}

	holidays := make(map[string]struct{}, len(cfg.Holidays))
	for _, h := range cfg.Holidays {
		d, err := utils.ParseDay(h)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid holiday date %q", ErrMissingCalendarData, h)
		}
		holidays[utils.FormatDay(d)] = struct{}{}
	}

	weekend := map[time.Weekday]struct{}{
		time.Saturday: {},
		time.Sunday:   {},
	}
	if len(cfg.WeekendDays) > 0 {
		weekend = make(map[time.Weekday]struct{}, len(cfg.WeekendDays))
		for _, name := range cfg.WeekendDays {
			wd, err := parseWeekday(name)
			if err != nil {
				return nil, err
			}
			weekend[wd] = struct{}{}
		}
	}

	maxWalk := cfg.MaxWalkDays
	if maxWalk <= 0 {
		maxWalk = 30
	}

	return &Calendar{
		loc:          loc,
		rolloverMins: rollover,
		holidays:     holidays,
		weekend:      weekend,
		maxWalkDays:  maxWalk,
	}, nil
}

// IsTradingDay reports whether the given date is a trading day.
func (c *Calendar) IsTradingDay(d time.Time) bool {
	if _, ok := c.weekend[d.Weekday()]; ok {
		return false
	}
	_, holiday := c.holidays[utils.FormatDay(d)]
	return !holiday
}

// CurrentTradingDay resolves the trading day the given instant is part of.
// The instant is converted to market time; before the rollover boundary it
// is attributed to the previous calendar date. The result then walks back to
// the nearest trading day.
func (c *Calendar) CurrentTradingDay(instant time.Time) (time.Time, error) {
	local := instant.In(c.loc)
	day := utils.TruncateToDay(local)
	if local.Hour()*60+local.Minute() < c.rolloverMins {
		day = day.AddDate(0, 0, -1)
	}
	if c.IsTradingDay(day) {
		return day, nil
	}
	return c.PreviousTradingDay(day)
}

// PreviousTradingDay walks backward from the given date to the nearest
// earlier trading day, skipping weekends and holidays.
func (c *Calendar) PreviousTradingDay(d time.Time) (time.Time, error) {
	return c.walk(d, -1)
}

// NextTradingDay walks forward from the given date to the nearest later
// trading day.
func (c *Calendar) NextTradingDay(d time.Time) (time.Time, error) {
	return c.walk(d, 1)
}

func (c *Calendar) walk(d time.Time, step int) (time.Time, error) {
	cur := utils.TruncateToDay(d)
	for i := 0; i < c.maxWalkDays; i++ {
		cur = cur.AddDate(0, 0, step)
		if c.IsTradingDay(cur) {
			return cur, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %d days from %s", ErrWalkExhausted, c.maxWalkDays, utils.FormatDay(d))
}

func parseRollover(s string) (int, error) {
	if s == "" {
		return 18 * 60, nil
	}
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid rollover %q", ErrMissingCalendarData, s)
	}
	return t.Hour()*60 + t.Minute(), nil
}

func parseWeekday(name string) (time.Weekday, error) {
	for wd := time.Sunday; wd <= time.Saturday; wd++ {
		if wd.String() == name {
			return wd, nil
		}
	}
	return 0, fmt.Errorf("%w: invalid weekend day %q", ErrMissingCalendarData, name)
}
