package gamification

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLevelFor_ThresholdTable(t *testing.T) {
	assert.Equal(t, LevelNovice, LevelFor(0))
	assert.Equal(t, LevelNovice, LevelFor(100))
	assert.Equal(t, LevelApprentice, LevelFor(101))
	assert.Equal(t, LevelApprentice, LevelFor(500))
	assert.Equal(t, LevelScholar, LevelFor(501))
	assert.Equal(t, LevelScholar, LevelFor(1000))
	assert.Equal(t, LevelExpert, LevelFor(1001))
	assert.Equal(t, LevelExpert, LevelFor(5000))
	assert.Equal(t, LevelMaster, LevelFor(5001))
	assert.Equal(t, LevelMaster, LevelFor(1000000))
}

func TestPointsToNextLevel(t *testing.T) {
	assert.Equal(t, 101, PointsToNextLevel(0))
	assert.Equal(t, 51, PointsToNextLevel(50))
	assert.Equal(t, 1, PointsToNextLevel(100))
	assert.Equal(t, 400, PointsToNextLevel(101))
	assert.Equal(t, 0, PointsToNextLevel(5001), "master has no next level")
}

func TestAccount_CreditUpdatesTotals(t *testing.T) {
	acc := NewAccount("student-1")
	at := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	acc.Credit(20, at)
	assert.Equal(t, 20, acc.TotalPoints.Int())
	assert.Equal(t, 20, acc.LifetimePoints.Int())
	assert.Equal(t, at, acc.TotalReachedAt)

	// A compensating entry lowers the total but not lifetime points.
	acc.Credit(-5, at.Add(time.Minute))
	assert.Equal(t, 15, acc.TotalPoints.Int())
	assert.Equal(t, 20, acc.LifetimePoints.Int())
}

func TestAccount_LevelIsDerived(t *testing.T) {
	acc := NewAccount("student-1")
	assert.Equal(t, LevelNovice, acc.Level())

	acc.Credit(600, time.Now().UTC())
	assert.Equal(t, LevelScholar, acc.Level())
	assert.Equal(t, 401, acc.PointsToNextLevel())
}

func TestAwardSchedule_ForTransition(t *testing.T) {
	s := DefaultAwardSchedule()

	amount, reason := s.ForTransition("in_progress")
	assert.Equal(t, 5, amount)
	assert.Equal(t, ReasonConceptStarted, reason)

	amount, reason = s.ForTransition("completed")
	assert.Equal(t, 10, amount)
	assert.Equal(t, ReasonConceptCompleted, reason)

	amount, reason = s.ForTransition("mastered")
	assert.Equal(t, 25, amount)
	assert.Equal(t, ReasonConceptMastered, reason)

	amount, _ = s.ForTransition("not_started")
	assert.Equal(t, 0, amount)
}
