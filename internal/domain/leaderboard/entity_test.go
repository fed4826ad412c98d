package leaderboard

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRanking_SortByPointsDesc(t *testing.T) {
	r := NewRanking(nil)
	now := time.Now().UTC()

	require.NoError(t, r.Add(&Entry{StudentID: "a", Points: 100, ReachedAt: now}))
	require.NoError(t, r.Add(&Entry{StudentID: "b", Points: 300, ReachedAt: now}))
	require.NoError(t, r.Add(&Entry{StudentID: "c", Points: 200, ReachedAt: now}))
	r.Sort()

	top := r.Top(3)
	require.Len(t, top, 3)
	assert.Equal(t, "b", top[0].StudentID)
	assert.Equal(t, Rank(1), top[0].Rank)
	assert.Equal(t, "c", top[1].StudentID)
	assert.Equal(t, "a", top[2].StudentID)
	assert.Equal(t, Rank(3), top[2].Rank)
}

func TestRanking_TieBrokenByEarliestAchievement(t *testing.T) {
	r := NewRanking(nil)
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	require.NoError(t, r.Add(&Entry{StudentID: "late", Points: 500, ReachedAt: base.Add(time.Hour)}))
	require.NoError(t, r.Add(&Entry{StudentID: "early", Points: 500, ReachedAt: base}))
	r.Sort()

	top := r.Top(2)
	assert.Equal(t, "early", top[0].StudentID, "earlier achiever of the same total ranks higher")
	assert.Equal(t, "late", top[1].StudentID)
	assert.Equal(t, Rank(1), top[0].Rank)
	assert.Equal(t, Rank(2), top[1].Rank)
}

func TestRanking_OptOutExcluded(t *testing.T) {
	r := NewRanking(map[string]bool{"hidden": true})
	now := time.Now().UTC()

	require.NoError(t, r.Add(&Entry{StudentID: "hidden", Points: 1000, ReachedAt: now}))
	require.NoError(t, r.Add(&Entry{StudentID: "visible", Points: 10, ReachedAt: now}))
	r.Sort()

	assert.Equal(t, 1, r.Count())
	assert.Nil(t, r.GetByID("hidden"))
	assert.Equal(t, Rank(1), r.GetByID("visible").Rank)
}

func TestRanking_DuplicateRejected(t *testing.T) {
	r := NewRanking(nil)
	now := time.Now().UTC()

	require.NoError(t, r.Add(&Entry{StudentID: "a", Points: 1, ReachedAt: now}))
	err := r.Add(&Entry{StudentID: "a", Points: 2, ReachedAt: now})
	assert.ErrorIs(t, err, ErrDuplicateStudent)
}

func TestRanking_TopBounds(t *testing.T) {
	r := NewRanking(nil)
	require.NoError(t, r.Add(&Entry{StudentID: "a", Points: 1, ReachedAt: time.Now()}))
	r.Sort()

	assert.Nil(t, r.Top(0))
	assert.Len(t, r.Top(10), 1)
}

func TestTimeframe_Since(t *testing.T) {
	now := time.Date(2026, 3, 10, 15, 30, 0, 0, time.UTC)

	assert.Equal(t, time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC), TimeframeDaily.Since(now))
	assert.Equal(t, now.AddDate(0, 0, -7), TimeframeWeekly.Since(now))
	assert.Equal(t, now.AddDate(0, -1, 0), TimeframeMonthly.Since(now))
	assert.True(t, TimeframeAllTime.Since(now).IsZero())
}

func TestBoardAndTimeframeValidation(t *testing.T) {
	assert.True(t, BoardPoints.IsValid())
	assert.True(t, BoardStreak.IsValid())
	assert.False(t, Board("karma").IsValid())

	assert.True(t, TimeframeAllTime.IsValid())
	assert.False(t, Timeframe("decade").IsValid())
}
