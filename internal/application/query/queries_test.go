package query_test

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spool-edu/progress-core/internal/application/query"
	"github.com/spool-edu/progress-core/internal/domain/gamification"
	"github.com/spool-edu/progress-core/internal/domain/learning"
	"github.com/spool-edu/progress-core/internal/domain/shared"
	"github.com/spool-edu/progress-core/internal/infrastructure/persistence/memory"
	"github.com/spool-edu/progress-core/pkg/logger"
)

var queryClock = time.Date(2026, 3, 12, 12, 0, 0, 0, time.UTC)

func testLogger() *logger.Logger {
	return logger.New(logger.Options{Output: io.Discard, Level: logger.LevelError})
}

func seedProgress(t *testing.T, store *memory.Store, student, concept, subject, status string, lastAccessed time.Time) *learning.ConceptProgress {
	t.Helper()

	sid, err := shared.NewStudentID(student)
	require.NoError(t, err)
	cid, err := shared.NewConceptID(concept)
	require.NoError(t, err)

	p := learning.NewConceptProgress(sid, cid, subject)
	p.Status = learning.Status(status)
	p.Attempts = 1
	p.StartedAt = lastAccessed
	p.LastAccessed = lastAccessed
	if p.Status.AtLeast(learning.StatusCompleted) {
		p.CompletedAt = lastAccessed
	}
	if p.Status == learning.StatusMastered {
		p.MasteredAt = lastAccessed
	}
	require.NoError(t, store.Progress().Save(context.Background(), p))
	return p
}

func seedAccount(t *testing.T, store *memory.Store, student string, points int, at time.Time) {
	t.Helper()

	sid, err := shared.NewStudentID(student)
	require.NoError(t, err)
	account := gamification.NewAccount(sid)
	account.Credit(points, at)
	require.NoError(t, store.Accounts().Save(context.Background(), account))
}

func seedLedgerEntry(t *testing.T, store *memory.Store, student, id string, amount int, reason gamification.Reason, at time.Time) {
	t.Helper()

	sid, err := shared.NewStudentID(student)
	require.NoError(t, err)
	require.NoError(t, store.Ledger().Append(context.Background(), &gamification.LedgerEntry{
		ID:        id,
		StudentID: sid,
		Amount:    amount,
		Reason:    reason,
		CreatedAt: at,
	}))
}

// ══════════════════════════════════════════════════════════════════════════════
// GET PROGRESS
// ══════════════════════════════════════════════════════════════════════════════

func TestGetProgress(t *testing.T) {
	ctx := context.Background()

	t.Run("returns items ordered by concept id", func(t *testing.T) {
		store := memory.NewStore()
		seedProgress(t, store, "student-1", "math-fractions-02", "math", "completed", queryClock.Add(-time.Hour))
		seedProgress(t, store, "student-1", "math-fractions-01", "math", "mastered", queryClock.Add(-2*time.Hour))
		seedProgress(t, store, "student-1", "physics-motion-01", "physics", "in_progress", queryClock)
		seedProgress(t, store, "student-2", "math-fractions-01", "math", "in_progress", queryClock)

		h := query.NewGetProgressHandler(store.Progress())
		result, err := h.Handle(ctx, query.GetProgressQuery{StudentID: "student-1"})
		require.NoError(t, err)

		require.Len(t, result.Items, 3)
		assert.Equal(t, "math-fractions-01", result.Items[0].ConceptID)
		assert.Equal(t, "math-fractions-02", result.Items[1].ConceptID)
		assert.Equal(t, "physics-motion-01", result.Items[2].ConceptID)
		assert.Equal(t, "mastered", result.Items[0].Status)
		require.NotNil(t, result.Items[0].MasteredAt)
	})

	t.Run("filters by status", func(t *testing.T) {
		store := memory.NewStore()
		seedProgress(t, store, "student-1", "math-fractions-01", "math", "mastered", queryClock)
		seedProgress(t, store, "student-1", "math-fractions-02", "math", "in_progress", queryClock)

		h := query.NewGetProgressHandler(store.Progress())
		result, err := h.Handle(ctx, query.GetProgressQuery{StudentID: "student-1", OnlyStatus: "mastered"})
		require.NoError(t, err)

		require.Len(t, result.Items, 1)
		assert.Equal(t, "math-fractions-01", result.Items[0].ConceptID)
	})

	t.Run("unknown student gets empty list not error", func(t *testing.T) {
		store := memory.NewStore()

		h := query.NewGetProgressHandler(store.Progress())
		result, err := h.Handle(ctx, query.GetProgressQuery{StudentID: "ghost"})
		require.NoError(t, err)

		assert.Empty(t, result.Items)
	})

	t.Run("rejects bad input", func(t *testing.T) {
		h := query.NewGetProgressHandler(memory.NewStore().Progress())

		_, err := h.Handle(ctx, query.GetProgressQuery{})
		assert.ErrorIs(t, err, shared.ErrMissingStudentID)

		_, err = h.Handle(ctx, query.GetProgressQuery{StudentID: "student-1", OnlyStatus: "bogus"})
		assert.Error(t, err)

		_, err = h.Handle(ctx, query.GetProgressQuery{StudentID: "student-1", Limit: -1})
		assert.Error(t, err)
	})
}

func TestGetProgressSummary(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	seedProgress(t, store, "student-1", "math-fractions-01", "math", "mastered", queryClock.Add(-3*time.Hour))
	seedProgress(t, store, "student-1", "math-fractions-02", "math", "completed", queryClock.Add(-2*time.Hour))
	seedProgress(t, store, "student-1", "physics-motion-01", "physics", "in_progress", queryClock.Add(-time.Hour))
	seedProgress(t, store, "student-1", "biology-cells-01", "biology", "in_progress", queryClock)

	h := query.NewGetProgressSummaryHandler(store.Progress())
	result, err := h.Handle(ctx, query.GetProgressSummaryQuery{StudentID: "student-1", RecentLimit: 2})
	require.NoError(t, err)

	assert.Equal(t, 4, result.TotalConcepts)
	assert.Equal(t, 1, result.StatusCounts["mastered"])
	assert.Equal(t, 1, result.StatusCounts["completed"])
	assert.Equal(t, 2, result.StatusCounts["in_progress"])
	assert.Equal(t, 3, result.SubjectsStarted)

	require.Len(t, result.Recent, 2)
	assert.Equal(t, "biology-cells-01", result.Recent[0].ConceptID)
	assert.Equal(t, "physics-motion-01", result.Recent[1].ConceptID)
}

// ══════════════════════════════════════════════════════════════════════════════
// GET POINTS
// ══════════════════════════════════════════════════════════════════════════════

func TestGetPoints(t *testing.T) {
	ctx := context.Background()

	t.Run("returns account with ledger page", func(t *testing.T) {
		store := memory.NewStore()
		seedAccount(t, store, "student-1", 150, queryClock)
		seedLedgerEntry(t, store, "student-1", "entry-1", 100, gamification.ReasonConceptMastered, queryClock.Add(-time.Hour))
		seedLedgerEntry(t, store, "student-1", "entry-2", 50, gamification.ReasonDailyStreak, queryClock)

		h := query.NewGetPointsHandler(store.Accounts(), store.Ledger())
		result, err := h.Handle(ctx, query.GetPointsQuery{StudentID: "student-1"})
		require.NoError(t, err)

		assert.Equal(t, 150, result.TotalPoints)
		assert.Equal(t, 150, result.LifetimePoints)
		assert.Equal(t, "apprentice", result.Level)
		assert.Equal(t, 351, result.PointsToNextLevel)

		require.Len(t, result.Ledger, 2)
		assert.Equal(t, "entry-2", result.Ledger[0].ID, "newest entry first")
		assert.Equal(t, "daily_streak", result.Ledger[0].Reason)
	})

	t.Run("unknown student gets zero account", func(t *testing.T) {
		store := memory.NewStore()

		h := query.NewGetPointsHandler(store.Accounts(), store.Ledger())
		result, err := h.Handle(ctx, query.GetPointsQuery{StudentID: "ghost"})
		require.NoError(t, err)

		assert.Equal(t, 0, result.TotalPoints)
		assert.Equal(t, "novice", result.Level)
		assert.Equal(t, 101, result.PointsToNextLevel)
		assert.Empty(t, result.Ledger)
	})

	t.Run("rejects missing student id", func(t *testing.T) {
		store := memory.NewStore()
		h := query.NewGetPointsHandler(store.Accounts(), store.Ledger())

		_, err := h.Handle(ctx, query.GetPointsQuery{})
		assert.ErrorIs(t, err, shared.ErrMissingStudentID)
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// GET STREAK
// ══════════════════════════════════════════════════════════════════════════════

func TestGetStreak(t *testing.T) {
	ctx := context.Background()

	t.Run("reports current streak", func(t *testing.T) {
		store := memory.NewStore()
		sid, err := shared.NewStudentID("student-1")
		require.NoError(t, err)

		streak := gamification.NewStreak(sid)
		_, err = streak.Advance(queryClock.AddDate(0, 0, -1))
		require.NoError(t, err)
		_, err = streak.Advance(queryClock)
		require.NoError(t, err)
		require.NoError(t, store.Streaks().Save(ctx, streak))

		h := query.NewGetStreakHandler(store.Streaks()).
			WithClock(func() time.Time { return queryClock })
		result, err := h.Handle(ctx, query.GetStreakQuery{StudentID: "student-1"})
		require.NoError(t, err)

		assert.Equal(t, 2, result.CurrentStreak)
		assert.Equal(t, 2, result.LongestStreak)
		assert.Equal(t, 2, result.TotalActiveDays)
		assert.False(t, result.BrokenAsOf)
		require.NotNil(t, result.LastActivityDate)
	})

	t.Run("flags streak broken as of now without rewriting it", func(t *testing.T) {
		store := memory.NewStore()
		sid, err := shared.NewStudentID("student-1")
		require.NoError(t, err)

		streak := gamification.NewStreak(sid)
		_, err = streak.Advance(queryClock.AddDate(0, 0, -5))
		require.NoError(t, err)
		require.NoError(t, store.Streaks().Save(ctx, streak))

		h := query.NewGetStreakHandler(store.Streaks()).
			WithClock(func() time.Time { return queryClock })
		result, err := h.Handle(ctx, query.GetStreakQuery{StudentID: "student-1"})
		require.NoError(t, err)

		assert.Equal(t, 1, result.CurrentStreak, "stored counter is untouched")
		assert.True(t, result.BrokenAsOf)
	})

	t.Run("unknown student gets zero streak", func(t *testing.T) {
		store := memory.NewStore()

		h := query.NewGetStreakHandler(store.Streaks())
		result, err := h.Handle(ctx, query.GetStreakQuery{StudentID: "ghost"})
		require.NoError(t, err)

		assert.Equal(t, 0, result.CurrentStreak)
		assert.False(t, result.BrokenAsOf)
		assert.Nil(t, result.LastActivityDate)
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// GET BADGES
// ══════════════════════════════════════════════════════════════════════════════

func TestGetBadges(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	sid, err := shared.NewStudentID("student-1")
	require.NoError(t, err)

	require.NoError(t, store.Badges().SaveAward(ctx, &gamification.BadgeAward{
		StudentID: sid,
		BadgeID:   gamification.BadgeQuickLearner,
		AwardedAt: queryClock.Add(-time.Hour),
	}))
	require.NoError(t, store.Badges().SaveAward(ctx, &gamification.BadgeAward{
		StudentID: sid,
		BadgeID:   gamification.BadgeSubjectMaster,
		Period:    "math",
		AwardedAt: queryClock,
	}))

	h := query.NewGetBadgesHandler(store.Badges())
	result, err := h.Handle(ctx, query.GetBadgesQuery{StudentID: "student-1"})
	require.NoError(t, err)

	require.Len(t, result.Unlocked, 2)
	assert.Equal(t, "subject_master", result.Unlocked[0].BadgeID, "newest award first")
	assert.Equal(t, "math", result.Unlocked[0].Period)
	assert.Equal(t, "Quick Learner", result.Unlocked[1].Name)
	assert.Equal(t, 100, result.Unlocked[1].Points)

	available := make(map[string]bool)
	for _, b := range result.Available {
		available[b.BadgeID] = true
	}
	assert.False(t, available["quick_learner"], "non-repeatable held badge is gone")
	assert.True(t, available["subject_master"], "repeatable badge stays earnable")
	assert.True(t, available["consistency_king"])
	assert.True(t, available["perfect_week"])
}

// ══════════════════════════════════════════════════════════════════════════════
// GET LEADERBOARD
// ══════════════════════════════════════════════════════════════════════════════

func TestGetLeaderboard(t *testing.T) {
	ctx := context.Background()

	t.Run("all time points board ranks by total", func(t *testing.T) {
		store := memory.NewStore()
		seedAccount(t, store, "student-1", 300, queryClock.Add(-time.Hour))
		seedAccount(t, store, "student-2", 700, queryClock)
		seedAccount(t, store, "student-3", 300, queryClock) // tie, reached later

		h := query.NewGetLeaderboardHandler(
			store.Accounts(), store.Ledger(), store.Streaks(), nil, nil, testLogger())
		result, err := h.Handle(ctx, query.GetLeaderboardQuery{})
		require.NoError(t, err)

		require.Len(t, result.Entries, 3)
		assert.Equal(t, "student-2", result.Entries[0].StudentID)
		assert.Equal(t, 1, result.Entries[0].Rank)
		assert.Equal(t, "scholar", result.Entries[0].Level)
		assert.Equal(t, "student-1", result.Entries[1].StudentID, "earlier tie wins")
		assert.Equal(t, "student-3", result.Entries[2].StudentID)
		assert.Equal(t, 3, result.Total)
		assert.False(t, result.FromCache)
	})

	t.Run("second identical request is served from cache", func(t *testing.T) {
		store := memory.NewStore()
		seedAccount(t, store, "student-1", 300, queryClock)
		seedAccount(t, store, "student-2", 700, queryClock)

		cache := memory.NewLeaderboardCache()
		h := query.NewGetLeaderboardHandler(
			store.Accounts(), store.Ledger(), store.Streaks(), cache, nil, testLogger())

		first, err := h.Handle(ctx, query.GetLeaderboardQuery{Limit: 2})
		require.NoError(t, err)
		assert.False(t, first.FromCache)

		second, err := h.Handle(ctx, query.GetLeaderboardQuery{Limit: 2})
		require.NoError(t, err)
		assert.True(t, second.FromCache)
		assert.Equal(t, first.Entries, second.Entries)
	})

	t.Run("streak board ranks by current streak", func(t *testing.T) {
		store := memory.NewStore()
		for i, student := range []string{"student-1", "student-2"} {
			sid, err := shared.NewStudentID(student)
			require.NoError(t, err)
			streak := gamification.NewStreak(sid)
			for d := 0; d <= i+1; d++ {
				_, err := streak.Advance(queryClock.AddDate(0, 0, d-i-1))
				require.NoError(t, err)
			}
			require.NoError(t, store.Streaks().Save(ctx, streak))
		}

		h := query.NewGetLeaderboardHandler(
			store.Accounts(), store.Ledger(), store.Streaks(), nil, nil, testLogger())
		result, err := h.Handle(ctx, query.GetLeaderboardQuery{Board: "streak"})
		require.NoError(t, err)

		require.Len(t, result.Entries, 2)
		assert.Equal(t, "student-2", result.Entries[0].StudentID)
		assert.Equal(t, 3, result.Entries[0].Points)
		assert.Equal(t, "novice", result.Entries[0].Level, "no account means novice")
	})

	t.Run("weekly board sums only recent ledger entries", func(t *testing.T) {
		store := memory.NewStore()
		seedAccount(t, store, "student-1", 500, queryClock)
		seedLedgerEntry(t, store, "student-1", "old", 400, gamification.ReasonConceptMastered, queryClock.AddDate(0, 0, -10))
		seedLedgerEntry(t, store, "student-1", "new", 100, gamification.ReasonConceptMastered, queryClock.AddDate(0, 0, -2))
		seedLedgerEntry(t, store, "student-2", "fresh", 25, gamification.ReasonConceptMastered, queryClock.Add(-time.Hour))

		h := query.NewGetLeaderboardHandler(
			store.Accounts(), store.Ledger(), store.Streaks(), nil, nil, testLogger()).
			WithClock(func() time.Time { return queryClock })
		result, err := h.Handle(ctx, query.GetLeaderboardQuery{Timeframe: "weekly"})
		require.NoError(t, err)

		require.Len(t, result.Entries, 2)
		assert.Equal(t, "student-1", result.Entries[0].StudentID)
		assert.Equal(t, 100, result.Entries[0].Points, "entries older than a week are excluded")
		assert.Equal(t, "apprentice", result.Entries[0].Level, "level comes from the all-time account")
		assert.Equal(t, 25, result.Entries[1].Points)
	})

	t.Run("opted out students are hidden", func(t *testing.T) {
		store := memory.NewStore()
		seedAccount(t, store, "student-1", 300, queryClock)
		seedAccount(t, store, "student-2", 700, queryClock)
		optOut := memory.NewOptOutProvider(map[string]bool{"student-2": true})

		h := query.NewGetLeaderboardHandler(
			store.Accounts(), store.Ledger(), store.Streaks(), nil, optOut, testLogger())
		result, err := h.Handle(ctx, query.GetLeaderboardQuery{})
		require.NoError(t, err)

		require.Len(t, result.Entries, 1)
		assert.Equal(t, "student-1", result.Entries[0].StudentID)
	})

	t.Run("includes requester outside the top", func(t *testing.T) {
		store := memory.NewStore()
		seedAccount(t, store, "student-1", 300, queryClock)
		seedAccount(t, store, "student-2", 700, queryClock)
		seedAccount(t, store, "student-3", 100, queryClock)

		h := query.NewGetLeaderboardHandler(
			store.Accounts(), store.Ledger(), store.Streaks(), nil, nil, testLogger())
		result, err := h.Handle(ctx, query.GetLeaderboardQuery{Limit: 2, StudentID: "student-3"})
		require.NoError(t, err)

		require.Len(t, result.Entries, 2)
		require.NotNil(t, result.Me)
		assert.Equal(t, 3, result.Me.Rank)
		assert.Equal(t, 100, result.Me.Points)
	})

	t.Run("rejects bad parameters", func(t *testing.T) {
		store := memory.NewStore()
		h := query.NewGetLeaderboardHandler(
			store.Accounts(), store.Ledger(), store.Streaks(), nil, nil, testLogger())

		_, err := h.Handle(ctx, query.GetLeaderboardQuery{Board: "bogus"})
		assert.Error(t, err)

		_, err = h.Handle(ctx, query.GetLeaderboardQuery{Timeframe: "hourly"})
		assert.ErrorIs(t, err, shared.ErrInvalidTimeframe)

		_, err = h.Handle(ctx, query.GetLeaderboardQuery{Board: "streak", Timeframe: "weekly"})
		assert.ErrorIs(t, err, shared.ErrInvalidTimeframe)

		_, err = h.Handle(ctx, query.GetLeaderboardQuery{Limit: -5})
		assert.Error(t, err)
	})
}
