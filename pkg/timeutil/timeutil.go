// Package timeutil provides calendar math for streaks, weekly goals and
// leaderboard timeframes. All helpers are parameterized by *time.Location
// because "day" and "week" mean different things in different classrooms.
// No external dependencies - uses only standard library.
package timeutil

import (
	"fmt"
	"time"
)

// DefaultLocation returns the location used when an account has no
// configured timezone. UTC keeps day boundaries deterministic.
func DefaultLocation() *time.Location {
	return time.UTC
}

// LoadLocation parses an IANA timezone name, falling back to UTC on
// empty input. Invalid names return an error rather than a silent UTC.
func LoadLocation(name string) (*time.Location, error) {
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("timeutil: invalid timezone %q: %w", name, err)
	}
	return loc, nil
}

// StartOfDay returns midnight of the given time in the given location.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
}

// EndOfDay returns the last nanosecond of the given day in the given location.
func EndOfDay(t time.Time, loc *time.Location) time.Time {
	return StartOfDay(t, loc).AddDate(0, 0, 1).Add(-time.Nanosecond)
}

// StartOfWeek returns midnight Monday of the week containing t.
func StartOfWeek(t time.Time, loc *time.Location) time.Time {
	day := StartOfDay(t, loc)
	weekday := int(day.Weekday())
	if weekday == 0 {
		weekday = 7 // Sunday belongs to the week that started the previous Monday
	}
	return day.AddDate(0, 0, -(weekday - 1))
}

// EndOfWeek returns the last nanosecond of Sunday of the week containing t.
func EndOfWeek(t time.Time, loc *time.Location) time.Time {
	return StartOfWeek(t, loc).AddDate(0, 0, 7).Add(-time.Nanosecond)
}

// StartOfMonth returns midnight of the first day of the month containing t.
func StartOfMonth(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, loc)
}

// IsSameDay reports whether a and b fall on the same calendar day
// in the given location.
func IsSameDay(a, b time.Time, loc *time.Location) bool {
	la, lb := a.In(loc), b.In(loc)
	return la.Year() == lb.Year() && la.YearDay() == lb.YearDay()
}

// IsNextDay reports whether b falls on the calendar day immediately
// after a in the given location.
func IsNextDay(a, b time.Time, loc *time.Location) bool {
	return DaysBetween(a, b, loc) == 1
}

// DaysBetween returns the number of calendar day boundaries between a and b
// in the given location. Negative when b precedes a. The dates are
// re-anchored in UTC, where every day is exactly 24 hours: subtracting
// local midnights would be off by one across a DST transition.
func DaysBetween(a, b time.Time, loc *time.Location) int {
	ay, am, ad := a.In(loc).Date()
	by, bm, bd := b.In(loc).Date()
	da := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	db := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)
	return int(db.Sub(da).Hours() / 24)
}

// WeekKey returns the ISO 8601 week identifier for t in the given
// location, e.g. "2026-W11". Used as the period key for weekly awards.
func WeekKey(t time.Time, loc *time.Location) string {
	year, week := t.In(loc).ISOWeek()
	return fmt.Sprintf("%d-W%02d", year, week)
}

// DayKey returns the calendar date of t in the given location
// as "2006-01-02". Used as the period key for daily aggregates.
func DayKey(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("2006-01-02")
}
