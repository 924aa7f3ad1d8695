package domain

import "time"

// Cadence is how often a platform's snapshot rolls to a new period anchor.
type Cadence string

const (
	CadenceWeekly  Cadence = "weekly"
	CadenceMonthly Cadence = "monthly"
)

// Anchor returns the period anchor date for t under this cadence: the
// Monday of t's ISO week, or the first of t's month. The result is
// truncated to midnight UTC so it compares cleanly as a date key.
func (c Cadence) Anchor(t time.Time) time.Time {
	t = t.UTC()
	if c == CadenceMonthly {
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	}
	// Weekday() is Sunday-based; shift so Monday is day 0.
	offset := (int(t.Weekday()) + 6) % 7
	day := t.AddDate(0, 0, -offset)
	return time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
}
