package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartOfDay(t *testing.T) {
	loc, err := LoadLocation("Asia/Almaty")
	require.NoError(t, err)

	// 20:30 UTC on March 9 is already March 10 in Almaty (UTC+5).
	ts := time.Date(2026, 3, 9, 20, 30, 0, 0, time.UTC)
	day := StartOfDay(ts, loc)

	assert.Equal(t, 2026, day.Year())
	assert.Equal(t, time.March, day.Month())
	assert.Equal(t, 10, day.Day())
	assert.Equal(t, 0, day.Hour())
}

func TestStartOfWeekMonday(t *testing.T) {
	// Wednesday March 11, 2026.
	ts := time.Date(2026, 3, 11, 15, 0, 0, 0, time.UTC)
	start := StartOfWeek(ts, time.UTC)

	assert.Equal(t, time.Monday, start.Weekday())
	assert.Equal(t, 9, start.Day())
}

func TestStartOfWeekSundayBelongsToPreviousMonday(t *testing.T) {
	// Sunday March 15, 2026.
	ts := time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)
	start := StartOfWeek(ts, time.UTC)

	assert.Equal(t, time.Monday, start.Weekday())
	assert.Equal(t, 9, start.Day())
}

func TestDaysBetween(t *testing.T) {
	a := time.Date(2026, 3, 9, 23, 59, 0, 0, time.UTC)
	b := time.Date(2026, 3, 10, 0, 1, 0, 0, time.UTC)

	assert.Equal(t, 1, DaysBetween(a, b, time.UTC), "two minutes apart but across midnight")
	assert.Equal(t, -1, DaysBetween(b, a, time.UTC))
	assert.Equal(t, 0, DaysBetween(a, a, time.UTC))
}

func TestIsSameDayDependsOnLocation(t *testing.T) {
	loc, err := LoadLocation("Asia/Almaty")
	require.NoError(t, err)

	a := time.Date(2026, 3, 9, 18, 0, 0, 0, time.UTC)
	b := time.Date(2026, 3, 9, 20, 0, 0, 0, time.UTC)

	assert.True(t, IsSameDay(a, b, time.UTC))
	// In Almaty 20:00 UTC is already the next day, 18:00 UTC is not.
	assert.False(t, IsSameDay(a, b, loc))
}

func TestIsNextDay(t *testing.T) {
	a := time.Date(2026, 3, 9, 12, 0, 0, 0, time.UTC)

	assert.True(t, IsNextDay(a, a.AddDate(0, 0, 1), time.UTC))
	assert.False(t, IsNextDay(a, a.AddDate(0, 0, 2), time.UTC))
	assert.False(t, IsNextDay(a, a, time.UTC))
}

func TestWeekKey(t *testing.T) {
	ts := time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "2026-W11", WeekKey(ts, time.UTC))

	// January 1, 2027 is a Friday and belongs to ISO week 53 of 2026.
	newYear := time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "2026-W53", WeekKey(newYear, time.UTC))
}

func TestDayKey(t *testing.T) {
	ts := time.Date(2026, 3, 9, 23, 30, 0, 0, time.UTC)
	assert.Equal(t, "2026-03-09", DayKey(ts, time.UTC))
}

func TestLoadLocation(t *testing.T) {
	loc, err := LoadLocation("")
	require.NoError(t, err)
	assert.Equal(t, time.UTC, loc)

	_, err = LoadLocation("Not/A-Zone")
	assert.Error(t, err)
}

func TestDaysBetweenAcrossDST(t *testing.T) {
	loc, err := LoadLocation("America/New_York")
	require.NoError(t, err)

	// Spring forward (2026-03-08): the day is 23 hours long.
	a := time.Date(2026, 3, 8, 12, 0, 0, 0, loc)
	b := time.Date(2026, 3, 9, 12, 0, 0, 0, loc)
	assert.Equal(t, 1, DaysBetween(a, b, loc))
	assert.True(t, IsNextDay(a, b, loc))

	// Fall back (2026-11-01): the day is 25 hours long.
	a = time.Date(2026, 10, 31, 12, 0, 0, 0, loc)
	b = time.Date(2026, 11, 2, 12, 0, 0, 0, loc)
	assert.Equal(t, 2, DaysBetween(a, b, loc))
}
