package utils

import (
	"time"
)

// DayLayout is the canonical format for a trading day.
const DayLayout = "2006-01-02"

// FormatDay renders a trading day as YYYY-MM-DD.
func FormatDay(d time.Time) string {
	return d.Format(DayLayout)
}

// ParseDay parses a YYYY-MM-DD trading day into a UTC-midnight time.
func ParseDay(s string) (time.Time, error) {
	return time.Parse(DayLayout, s)
}

// TruncateToDay drops the time-of-day component, keeping the date in UTC.
func TruncateToDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// SameDay reports whether two instants fall on the same calendar date.
func SameDay(a, b time.Time) bool {
	return TruncateToDay(a).Equal(TruncateToDay(b))
}
