// Package gamification содержит доменную модель игровой механики:
// счёт очков с журналом начислений, уровни, серии активных дней и бейджи.
// Журнал append-only: исправления - это новые компенсирующие записи,
// существующие записи никогда не редактируются.
package gamification

import (
	"time"

	"github.com/spool-edu/progress-core/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// LEDGER (журнал начислений)
// ══════════════════════════════════════════════════════════════════════════════

// Reason - причина начисления очков.
type Reason string

const (
	// ReasonConceptStarted - начат новый концепт.
	ReasonConceptStarted Reason = "concept_started"
	// ReasonConceptCompleted - завершён концепт.
	ReasonConceptCompleted Reason = "concept_completed"
	// ReasonConceptMastered - освоен концепт.
	ReasonConceptMastered Reason = "concept_mastered"
	// ReasonPerfectScoreBonus - бонус за идеальную оценку.
	ReasonPerfectScoreBonus Reason = "perfect_score_bonus"
	// ReasonSpeedBonus - бонус за быстрое освоение.
	ReasonSpeedBonus Reason = "speed_bonus"
	// ReasonDailyStreak - очередной день серии.
	ReasonDailyStreak Reason = "daily_streak"
	// ReasonWeeklyGoalMet - выполнена недельная цель (внешний сигнал).
	ReasonWeeklyGoalMet Reason = "weekly_goal_met"
	// ReasonBadgeUnlocked - бонус за разблокированный бейдж.
	ReasonBadgeUnlocked Reason = "badge_unlocked"
	// ReasonManualAward - ручное начисление.
	ReasonManualAward Reason = "manual_award"
)

// IsValid проверяет, что причина распознана.
func (r Reason) IsValid() bool {
	switch r {
	case ReasonConceptStarted, ReasonConceptCompleted, ReasonConceptMastered,
		ReasonPerfectScoreBonus, ReasonSpeedBonus, ReasonDailyStreak,
		ReasonWeeklyGoalMet, ReasonBadgeUnlocked, ReasonManualAward:
		return true
	}
	return false
}

// LedgerEntry - одна запись журнала начислений. Неизменяема после записи.
type LedgerEntry struct {
	// ID - уникальный идентификатор записи.
	ID string

	// StudentID - идентификатор студента.
	StudentID shared.StudentID

	// Amount - величина начисления. Пути начисления пишут только
	// неотрицательные суммы; отрицательные допустимы лишь как
	// компенсирующие записи.
	Amount int

	// Reason - причина начисления.
	Reason Reason

	// ConceptID - концепт, за который начислено (если применимо).
	ConceptID shared.ConceptID

	// BadgeID - бейдж, за который начислено (если применимо).
	BadgeID string

	// SourceEventID - событие-источник для трассировки и дедупликации.
	SourceEventID string

	// Note - произвольный комментарий (для ручных начислений).
	Note string

	// CreatedAt - время записи.
	CreatedAt time.Time
}

// ══════════════════════════════════════════════════════════════════════════════
// LEVELS (чистая функция от суммы очков)
// ══════════════════════════════════════════════════════════════════════════════

// Level - уровень студента, выводимый из суммы очков.
type Level string

const (
	LevelNovice     Level = "novice"
	LevelApprentice Level = "apprentice"
	LevelScholar    Level = "scholar"
	LevelExpert     Level = "expert"
	LevelMaster     Level = "master"
)

// levelThreshold описывает одну ступень таблицы уровней.
type levelThreshold struct {
	level Level
	upper int // верхняя граница включительно; -1 для последней ступени
}

// Таблица уровней. Уровень никогда не хранится отдельно от суммы очков -
// он всегда вычисляется заново.
var levelTable = []levelThreshold{
	{LevelNovice, 100},
	{LevelApprentice, 500},
	{LevelScholar, 1000},
	{LevelExpert, 5000},
	{LevelMaster, -1},
}

// LevelFor возвращает уровень для указанной суммы очков.
func LevelFor(totalPoints int) Level {
	for _, t := range levelTable {
		if t.upper < 0 || totalPoints <= t.upper {
			return t.level
		}
	}
	return LevelMaster
}

// PointsToNextLevel возвращает, сколько очков не хватает до следующего
// уровня. Для мастера всегда 0.
func PointsToNextLevel(totalPoints int) int {
	for _, t := range levelTable {
		if t.upper < 0 {
			return 0
		}
		if totalPoints <= t.upper {
			return t.upper + 1 - totalPoints
		}
	}
	return 0
}

// String возвращает строковое представление уровня.
func (l Level) String() string {
	return string(l)
}

// ══════════════════════════════════════════════════════════════════════════════
// ACCOUNT (счёт очков студента)
// ══════════════════════════════════════════════════════════════════════════════

// Account - счёт очков одного студента. TotalPoints всегда равен точной
// сумме записей журнала; LifetimePoints не уменьшается компенсирующими
// записями.
type Account struct {
	// StudentID - идентификатор студента.
	StudentID shared.StudentID

	// TotalPoints - текущая сумма всех записей журнала.
	TotalPoints shared.Points

	// LifetimePoints - сумма всех положительных начислений за всё время.
	LifetimePoints shared.Points

	// TotalReachedAt - когда текущая сумма была достигнута впервые.
	// Используется для разрешения ничьих в лидерборде.
	TotalReachedAt time.Time

	// CreatedAt - время создания счёта.
	CreatedAt time.Time

	// UpdatedAt - время последнего изменения.
	UpdatedAt time.Time
}

// NewAccount создаёт пустой счёт.
func NewAccount(studentID shared.StudentID) *Account {
	now := time.Now().UTC()
	return &Account{
		StudentID:      studentID,
		TotalPoints:    0,
		LifetimePoints: 0,
		TotalReachedAt: now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// Credit применяет начисление к счёту.
func (a *Account) Credit(amount int, at time.Time) {
	a.TotalPoints = a.TotalPoints.Add(amount)
	if amount > 0 {
		a.LifetimePoints = a.LifetimePoints.Add(amount)
	}
	a.TotalReachedAt = at
	a.UpdatedAt = at
}

// Level возвращает текущий уровень счёта.
func (a *Account) Level() Level {
	return LevelFor(a.TotalPoints.Int())
}

// PointsToNextLevel возвращает, сколько очков осталось до следующего уровня.
func (a *Account) PointsToNextLevel() int {
	return PointsToNextLevel(a.TotalPoints.Int())
}

// ══════════════════════════════════════════════════════════════════════════════
// AWARD SCHEDULE (тарифная сетка начислений)
// ══════════════════════════════════════════════════════════════════════════════

// AwardSchedule задаёт величины начислений для каждого триггера.
// Значения по умолчанию могут переопределяться конфигурацией.
type AwardSchedule struct {
	// Started - переход в in_progress.
	Started int

	// Completed - переход в completed.
	Completed int

	// Mastered - переход в mastered.
	Mastered int

	// PerfectBonus - бонус за score == 1.0 на событии, сменившем статус.
	PerfectBonus int

	// SpeedBonus - бонус за освоение быстрее SpeedThreshold.
	SpeedBonus int

	// SpeedThreshold - порог времени для бонуса за скорость.
	SpeedThreshold time.Duration

	// DailyStreak - очки за каждый день продления серии.
	DailyStreak int

	// WeeklyGoal - очки за выполнение недельной цели.
	WeeklyGoal int
}

// DefaultAwardSchedule возвращает тарифную сетку по умолчанию.
func DefaultAwardSchedule() AwardSchedule {
	return AwardSchedule{
		Started:        5,
		Completed:      10,
		Mastered:       25,
		PerfectBonus:   10,
		SpeedBonus:     5,
		SpeedThreshold: 5 * time.Minute,
		DailyStreak:    5,
		WeeklyGoal:     50,
	}
}

// ForTransition возвращает величину начисления за переход в указанный статус.
// Ноль означает "начисления нет".
func (s AwardSchedule) ForTransition(to string) (int, Reason) {
	switch to {
	case "in_progress":
		return s.Started, ReasonConceptStarted
	case "completed":
		return s.Completed, ReasonConceptCompleted
	case "mastered":
		return s.Mastered, ReasonConceptMastered
	}
	return 0, ""
}
