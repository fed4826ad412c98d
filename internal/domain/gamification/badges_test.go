package gamification

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRuleEngine_QuickLearner(t *testing.T) {
	re := NewRuleEngine()

	pending := re.Evaluate(Snapshot{StudentID: "s1", MasteredToday: 5}, nil)
	require.Len(t, pending, 1)
	assert.Equal(t, BadgeQuickLearner, pending[0].Badge.ID)

	pending = re.Evaluate(Snapshot{StudentID: "s1", MasteredToday: 4}, nil)
	assert.Empty(t, pending)
}

func TestRuleEngine_ConsistencyKing(t *testing.T) {
	re := NewRuleEngine()

	pending := re.Evaluate(Snapshot{StudentID: "s1", CurrentStreak: 7}, nil)
	require.Len(t, pending, 1)
	assert.Equal(t, BadgeConsistencyKing, pending[0].Badge.ID)

	pending = re.Evaluate(Snapshot{StudentID: "s1", CurrentStreak: 6}, nil)
	assert.Empty(t, pending)
}

func TestRuleEngine_Explorer(t *testing.T) {
	re := NewRuleEngine()

	pending := re.Evaluate(Snapshot{StudentID: "s1", SubjectsStarted: 5}, nil)
	require.Len(t, pending, 1)
	assert.Equal(t, BadgeExplorer, pending[0].Badge.ID)
}

func TestRuleEngine_SubjectMasterPerSubject(t *testing.T) {
	re := NewRuleEngine()

	snap := Snapshot{StudentID: "s1", CompletedSubjects: []string{"math", "physics"}}
	pending := re.Evaluate(snap, nil)
	require.Len(t, pending, 2)
	assert.Equal(t, "math", pending[0].Period)
	assert.Equal(t, "physics", pending[1].Period)

	// Already held for math - only physics remains.
	held := map[string]bool{AwardKey(BadgeSubjectMaster, "math"): true}
	pending = re.Evaluate(snap, held)
	require.Len(t, pending, 1)
	assert.Equal(t, "physics", pending[0].Period)
}

func TestRuleEngine_PerfectWeekOnlyAtBoundary(t *testing.T) {
	re := NewRuleEngine()

	snap := Snapshot{StudentID: "s1", WeekKey: "2026-W11", WeeklyCompletionRatio: 1.0}
	assert.Empty(t, re.Evaluate(snap, nil), "not at week boundary")

	snap.AtWeekBoundary = true
	pending := re.Evaluate(snap, nil)
	require.Len(t, pending, 1)
	assert.Equal(t, BadgePerfectWeek, pending[0].Badge.ID)
	assert.Equal(t, "2026-W11", pending[0].Period)

	snap.WeeklyCompletionRatio = 0.9
	assert.Empty(t, re.Evaluate(snap, nil))
}

func TestRuleEngine_Helper(t *testing.T) {
	re := NewRuleEngine()

	pending := re.Evaluate(Snapshot{StudentID: "s1", PeerHelpProvided: true}, nil)
	require.Len(t, pending, 1)
	assert.Equal(t, BadgeHelper, pending[0].Badge.ID)
}

func TestRuleEngine_HeldBadgesAreNotReawarded(t *testing.T) {
	// At-most-once: no matter how many times the criteria hold, a held
	// non-repeatable badge is never proposed again.
	re := NewRuleEngine()
	snap := Snapshot{StudentID: "s1", MasteredToday: 10, CurrentStreak: 30}

	held := map[string]bool{
		AwardKey(BadgeQuickLearner, ""):    true,
		AwardKey(BadgeConsistencyKing, ""): true,
	}

	for i := 0; i < 3; i++ {
		assert.Empty(t, re.Evaluate(snap, held))
	}
}

func TestRuleEngine_RulesAreIndependent(t *testing.T) {
	// Multiple criteria satisfied at once award all matching badges in
	// a single pass; no rule depends on another badge being awarded.
	re := NewRuleEngine()
	snap := Snapshot{
		StudentID:       "s1",
		MasteredToday:   5,
		CurrentStreak:   8,
		SubjectsStarted: 6,
	}

	pending := re.Evaluate(snap, nil)
	ids := make(map[BadgeID]bool)
	for _, p := range pending {
		ids[p.Badge.ID] = true
	}
	assert.True(t, ids[BadgeQuickLearner])
	assert.True(t, ids[BadgeConsistencyKing])
	assert.True(t, ids[BadgeExplorer])
	assert.Len(t, pending, 3)
}

func TestCatalog_LookupAndPoints(t *testing.T) {
	badge, ok := GetBadge(BadgeQuickLearner)
	require.True(t, ok)
	assert.Equal(t, "Quick Learner", badge.Name)
	assert.Greater(t, badge.Points, 0)

	_, ok = GetBadge("no_such_badge")
	assert.False(t, ok)
}

func TestAwardKey(t *testing.T) {
	assert.Equal(t, "quick_learner", AwardKey(BadgeQuickLearner, ""))
	assert.Equal(t, "subject_master@math", AwardKey(BadgeSubjectMaster, "math"))
}
