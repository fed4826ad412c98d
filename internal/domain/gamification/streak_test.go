package gamification

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spool-edu/progress-core/internal/domain/shared"
)

var d1 = time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

func TestStreak_FirstActivity(t *testing.T) {
	s := NewStreak("student-1")

	delta, err := s.Advance(d1)
	require.NoError(t, err)

	assert.True(t, delta.Started)
	assert.False(t, delta.Advanced)
	assert.Equal(t, 1, s.CurrentStreak)
	assert.Equal(t, 1, s.LongestStreak)
	assert.Equal(t, 1, s.TotalActiveDays)
	assert.Equal(t, d1, s.StreakStartedDate)
}

func TestStreak_IncrementResetSequence(t *testing.T) {
	// Activity dates [D1, D1+1, D1+3] must produce streaks [1, 2, 1]
	// with a longest streak of 2.
	s := NewStreak("student-1")

	delta, err := s.Advance(d1)
	require.NoError(t, err)
	assert.Equal(t, 1, delta.Current)

	delta, err = s.Advance(d1.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.True(t, delta.Advanced)
	assert.Equal(t, 2, delta.Current)

	delta, err = s.Advance(d1.AddDate(0, 0, 3))
	require.NoError(t, err)
	assert.True(t, delta.Broken)
	assert.Equal(t, 1, delta.DaysMissed)
	assert.Equal(t, 1, delta.Current)

	assert.Equal(t, 1, s.CurrentStreak)
	assert.Equal(t, 2, s.LongestStreak)
	assert.Equal(t, 3, s.TotalActiveDays)
}

func TestStreak_SameDayIsNoOp(t *testing.T) {
	s := NewStreak("student-1")
	_, err := s.Advance(d1)
	require.NoError(t, err)

	delta, err := s.Advance(d1.Add(18 * time.Hour))
	require.NoError(t, err)

	assert.False(t, delta.Changed())
	assert.Equal(t, 1, s.CurrentStreak)
	assert.Equal(t, 1, s.TotalActiveDays, "same-day activity must not double-count")
}

func TestStreak_StaleActivityRejected(t *testing.T) {
	s := NewStreak("student-1")
	_, err := s.Advance(d1.AddDate(0, 0, 5))
	require.NoError(t, err)

	_, err = s.Advance(d1)
	assert.ErrorIs(t, err, shared.ErrStaleActivity)

	// State must be untouched by the stale date.
	assert.Equal(t, 1, s.CurrentStreak)
	assert.Equal(t, d1.AddDate(0, 0, 5), s.LastActivityDate)
}

func TestStreak_ResetStartsNewStreakDate(t *testing.T) {
	s := NewStreak("student-1")
	_, err := s.Advance(d1)
	require.NoError(t, err)
	_, err = s.Advance(d1.AddDate(0, 0, 1))
	require.NoError(t, err)

	gapDay := d1.AddDate(0, 0, 10)
	delta, err := s.Advance(gapDay)
	require.NoError(t, err)

	assert.True(t, delta.Broken)
	assert.Equal(t, 8, delta.DaysMissed)
	assert.Equal(t, gapDay, s.StreakStartedDate)
}

func TestStreak_TimeComponentIsIgnored(t *testing.T) {
	s := NewStreak("student-1")
	_, err := s.Advance(d1.Add(23*time.Hour + 59*time.Minute))
	require.NoError(t, err)

	delta, err := s.Advance(d1.AddDate(0, 0, 1).Add(time.Minute))
	require.NoError(t, err)

	assert.True(t, delta.Advanced)
	assert.Equal(t, 2, s.CurrentStreak)
}

func TestStreak_IsBrokenAsOf(t *testing.T) {
	s := NewStreak("student-1")
	_, err := s.Advance(d1)
	require.NoError(t, err)

	assert.False(t, s.IsBrokenAsOf(d1.AddDate(0, 0, 1)))
	assert.True(t, s.IsBrokenAsOf(d1.AddDate(0, 0, 2)))
}

func TestStreak_AdvanceAcrossSpringForward(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	// Clocks jump forward on 2026-03-08, so midnight to midnight is
	// 23 hours; the next calendar day must still extend the streak.
	s := NewStreak("student-1")
	_, err = s.Advance(time.Date(2026, 3, 8, 20, 0, 0, 0, loc))
	require.NoError(t, err)

	delta, err := s.Advance(time.Date(2026, 3, 9, 20, 0, 0, 0, loc))
	require.NoError(t, err)

	assert.True(t, delta.Advanced)
	assert.Equal(t, 2, delta.Current)
}

func TestStreak_IsBrokenAsOfAcrossSpringForward(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	s := NewStreak("student-1")
	_, err = s.Advance(time.Date(2026, 3, 8, 20, 0, 0, 0, loc))
	require.NoError(t, err)

	assert.False(t, s.IsBrokenAsOf(time.Date(2026, 3, 9, 20, 0, 0, 0, loc)))
	assert.True(t, s.IsBrokenAsOf(time.Date(2026, 3, 10, 20, 0, 0, 0, loc)))
}
