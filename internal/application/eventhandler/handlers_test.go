package eventhandler

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spool-edu/progress-core/internal/domain/leaderboard"
	"github.com/spool-edu/progress-core/internal/domain/shared"
	"github.com/spool-edu/progress-core/internal/infrastructure/persistence/memory"
	"github.com/spool-edu/progress-core/pkg/logger"
)

func testLogger() *logger.Logger {
	return logger.New(logger.Options{Output: io.Discard, Level: logger.LevelError})
}

func seedCache(t *testing.T, cache *memory.LeaderboardCache, board leaderboard.Board) {
	t.Helper()
	entries := []*leaderboard.Entry{{Rank: 1, StudentID: "student-1", Points: 100}}
	require.NoError(t, cache.SetTop(context.Background(), board, leaderboard.TimeframeAllTime, entries, time.Minute))
}

func cachedTop(t *testing.T, cache *memory.LeaderboardCache, board leaderboard.Board) []*leaderboard.Entry {
	t.Helper()
	entries, err := cache.GetTop(context.Background(), board, leaderboard.TimeframeAllTime, 1)
	require.NoError(t, err)
	return entries
}

func TestOnPointsAwardedInvalidatesPointsBoard(t *testing.T) {
	cache := memory.NewLeaderboardCache()
	seedCache(t, cache, leaderboard.BoardPoints)
	seedCache(t, cache, leaderboard.BoardStreak)

	h := NewOnPointsAwardedHandler(cache, testLogger(), 0)
	err := h.Handle(shared.NewPointsAwardedEvent("student-1", 25, 125, "concept_mastered", "math-fractions-01"))
	require.NoError(t, err)

	assert.Nil(t, cachedTop(t, cache, leaderboard.BoardPoints))
	assert.NotNil(t, cachedTop(t, cache, leaderboard.BoardStreak), "streak board is untouched")
}

func TestOnPointsAwardedSkipsZeroAmount(t *testing.T) {
	cache := memory.NewLeaderboardCache()
	seedCache(t, cache, leaderboard.BoardPoints)

	h := NewOnPointsAwardedHandler(cache, testLogger(), 0)
	require.NoError(t, h.Handle(shared.NewPointsAwardedEvent("student-1", 0, 100, "manual_award", "")))

	assert.NotNil(t, cachedTop(t, cache, leaderboard.BoardPoints))
}

func TestOnPointsAwardedThrottlesInvalidation(t *testing.T) {
	cache := memory.NewLeaderboardCache()
	h := NewOnPointsAwardedHandler(cache, testLogger(), time.Hour)

	require.NoError(t, h.Handle(shared.NewPointsAwardedEvent("student-1", 10, 10, "concept_started", "")))

	// Вторая инвалидация внутри интервала подавляется.
	seedCache(t, cache, leaderboard.BoardPoints)
	require.NoError(t, h.Handle(shared.NewPointsAwardedEvent("student-1", 10, 20, "concept_started", "")))
	assert.NotNil(t, cachedTop(t, cache, leaderboard.BoardPoints))
}

func TestOnStreakChangedInvalidatesStreakBoard(t *testing.T) {
	cache := memory.NewLeaderboardCache()
	h := NewOnStreakChangedHandler(cache, testLogger())

	for _, event := range []shared.Event{
		shared.NewStreakAdvancedEvent("student-1", 3, 5),
		shared.NewStreakBrokenEvent("student-1", 3, 2),
	} {
		seedCache(t, cache, leaderboard.BoardStreak)
		require.NoError(t, h.Handle(event))
		assert.Nil(t, cachedTop(t, cache, leaderboard.BoardStreak))
	}
}

func TestOnBadgeUnlockedCountsAndCallsHook(t *testing.T) {
	var gotBadge string
	h := NewOnBadgeUnlockedHandler(testLogger(), func(e shared.BadgeUnlockedEvent) error {
		gotBadge = e.BadgeID
		return nil
	})

	require.NoError(t, h.Handle(shared.NewBadgeUnlockedEvent("student-1", "quick_learner", "Quick Learner", 100)))

	assert.Equal(t, "quick_learner", gotBadge)
	assert.Equal(t, int64(1), h.Unlocks())
}

func TestOnBadgeUnlockedHookFailureIsSwallowed(t *testing.T) {
	h := NewOnBadgeUnlockedHandler(testLogger(), func(shared.BadgeUnlockedEvent) error {
		return errors.New("push service down")
	})

	assert.NoError(t, h.Handle(shared.NewBadgeUnlockedEvent("student-1", "helper", "Helper", 50)))
	assert.Equal(t, int64(1), h.Unlocks())
}
