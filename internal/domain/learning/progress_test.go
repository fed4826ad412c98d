package learning

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spool-edu/progress-core/internal/domain/shared"
)

func eventOfKind(kind EventKind, occurredAt time.Time) LearningEvent {
	return LearningEvent{
		EventID:    "evt-" + string(kind),
		StudentID:  "student-1",
		ConceptID:  "math-fractions-01",
		SubjectID:  "math",
		Kind:       kind,
		TimeSpent:  time.Minute,
		OccurredAt: occurredAt,
		ReceivedAt: occurredAt,
	}
}

func TestStatus_Ordering(t *testing.T) {
	assert.True(t, StatusInProgress.AtLeast(StatusNotStarted))
	assert.True(t, StatusCompleted.AtLeast(StatusInProgress))
	assert.True(t, StatusMastered.AtLeast(StatusCompleted))
	assert.False(t, StatusCompleted.AtLeast(StatusMastered))
	assert.True(t, StatusMastered.IsTerminal())
}

func TestApply_StartedMovesToInProgress(t *testing.T) {
	cp := NewConceptProgress("student-1", "math-fractions-01", "math")
	res := cp.Apply(eventOfKind(KindStarted, time.Now().UTC()))

	assert.Equal(t, StatusNotStarted, res.From)
	assert.Equal(t, StatusInProgress, res.To)
	assert.True(t, res.StatusChanged)
	assert.False(t, res.MasteredNow)
	assert.Equal(t, 1, cp.Attempts)
}

func TestApply_FastForwardToCompleted(t *testing.T) {
	// A completed event without a prior started event is an implicit
	// fast-forward, not an error.
	cp := NewConceptProgress("student-1", "math-fractions-01", "math")
	res := cp.Apply(eventOfKind(KindCompleted, time.Now().UTC()))

	assert.Equal(t, StatusNotStarted, res.From)
	assert.Equal(t, StatusCompleted, res.To)
	assert.True(t, res.StatusChanged)
	assert.False(t, cp.CompletedAt.IsZero())
}

func TestApply_StatusNeverRegresses(t *testing.T) {
	cp := NewConceptProgress("student-1", "math-fractions-01", "math")
	now := time.Now().UTC()

	order := []EventKind{KindStarted, KindCompleted, KindMastered, KindStarted, KindCompleted}
	seen := make([]Status, 0, len(order))
	for i, kind := range order {
		cp.Apply(eventOfKind(kind, now.Add(time.Duration(i)*time.Minute)))
		seen = append(seen, cp.Status)
	}

	prev := StatusNotStarted
	for _, s := range seen {
		assert.True(t, s.AtLeast(prev), "status regressed from %s to %s", prev, s)
		prev = s
	}
	assert.Equal(t, StatusMastered, cp.Status)
	assert.Equal(t, 5, cp.Attempts)
}

func TestApply_RePracticeUpdatesStatsWithoutTransition(t *testing.T) {
	cp := NewConceptProgress("student-1", "math-fractions-01", "math")
	now := time.Now().UTC()
	cp.Apply(eventOfKind(KindStarted, now))

	res := cp.Apply(eventOfKind(KindStarted, now.Add(time.Hour)))

	assert.False(t, res.StatusChanged)
	assert.Equal(t, StatusInProgress, res.To)
	assert.Equal(t, 2, cp.Attempts)
	assert.Equal(t, 2*time.Minute, cp.TotalTimeSpent)
}

func TestApply_MasteredAtSetExactlyOnce(t *testing.T) {
	cp := NewConceptProgress("student-1", "math-fractions-01", "math")
	first := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)

	res := cp.Apply(eventOfKind(KindMastered, first))
	require.True(t, res.MasteredNow)
	assert.Equal(t, first, cp.MasteredAt)

	res = cp.Apply(eventOfKind(KindMastered, first.Add(24*time.Hour)))
	assert.False(t, res.MasteredNow)
	assert.False(t, res.StatusChanged)
	assert.Equal(t, first, cp.MasteredAt, "mastery date must be immutable")
}

func TestApply_BestScoreIsMonotonic(t *testing.T) {
	cp := NewConceptProgress("student-1", "math-fractions-01", "math")
	now := time.Now().UTC()

	withScore := func(v float64, at time.Time) LearningEvent {
		ev := eventOfKind(KindCompleted, at)
		s, err := shared.NewScore(v)
		require.NoError(t, err)
		ev.Score = &s
		return ev
	}

	cp.Apply(withScore(0.6, now))
	require.NotNil(t, cp.BestScore)
	assert.InDelta(t, 0.6, cp.BestScore.Float64(), 1e-9)

	cp.Apply(withScore(0.9, now.Add(time.Minute)))
	assert.InDelta(t, 0.9, cp.BestScore.Float64(), 1e-9)

	cp.Apply(withScore(0.4, now.Add(2*time.Minute)))
	assert.InDelta(t, 0.9, cp.BestScore.Float64(), 1e-9, "best score must not decrease")
	assert.InDelta(t, 0.4, cp.LastScore.Float64(), 1e-9)
}

func TestApply_LastAccessedIsMaxOccurredAt(t *testing.T) {
	cp := NewConceptProgress("student-1", "math-fractions-01", "math")
	late := time.Date(2026, 3, 12, 10, 0, 0, 0, time.UTC)
	early := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)

	cp.Apply(eventOfKind(KindStarted, late))
	cp.Apply(eventOfKind(KindStarted, early))

	assert.Equal(t, late, cp.LastAccessed)
	assert.Equal(t, 2, cp.Attempts, "out-of-order events still count toward stats")
}

func TestApply_PerfectScoreFlag(t *testing.T) {
	cp := NewConceptProgress("student-1", "math-fractions-01", "math")
	ev := eventOfKind(KindCompleted, time.Now().UTC())
	perfect := shared.Score(1.0)
	ev.Score = &perfect

	res := cp.Apply(ev)
	assert.True(t, res.PerfectScore)
}
