package gamification

import (
	"time"

	"github.com/spool-edu/progress-core/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// BADGE CATALOG
// Каталог - закрытое множество правил: новые бейджи добавляются расширением
// набора и его вычислителя, без динамической загрузки правил.
// ══════════════════════════════════════════════════════════════════════════════

// BadgeID - идентификатор бейджа из каталога.
type BadgeID string

const (
	// BadgeQuickLearner - освоено 5 и более концептов за один день.
	BadgeQuickLearner BadgeID = "quick_learner"
	// BadgeConsistencyKing - серия активности 7 и более дней.
	BadgeConsistencyKing BadgeID = "consistency_king"
	// BadgeSubjectMaster - освоены все концепты предмета.
	BadgeSubjectMaster BadgeID = "subject_master"
	// BadgePerfectWeek - выполнены все задания недели (внешний сигнал).
	BadgePerfectWeek BadgeID = "perfect_week"
	// BadgeHelper - помог другому студенту (внешний сигнал).
	BadgeHelper BadgeID = "helper"
	// BadgeExplorer - начаты концепты в 5 и более различных предметах.
	BadgeExplorer BadgeID = "explorer"
)

// Badge - статическая запись каталога.
type Badge struct {
	// ID - идентификатор бейджа.
	ID BadgeID

	// Name - отображаемое имя.
	Name string

	// Description - описание условия.
	Description string

	// Points - бонус очков при разблокировке.
	Points int

	// Repeatable - может ли бейдж выдаваться повторно (за другой период).
	Repeatable bool
}

// Catalog возвращает полный каталог бейджей.
func Catalog() []Badge {
	return []Badge{
		{BadgeQuickLearner, "Quick Learner", "Mastered 5 concepts in one day", 100, false},
		{BadgeConsistencyKing, "Consistency King", "7-day activity streak", 150, false},
		{BadgeSubjectMaster, "Subject Master", "Mastered every concept in a subject", 200, true},
		{BadgePerfectWeek, "Perfect Week", "Completed 100% of due items for the week", 100, true},
		{BadgeHelper, "Helper", "Helped a fellow student", 50, false},
		{BadgeExplorer, "Explorer", "Started concepts in 5 different subjects", 75, false},
	}
}

// GetBadge возвращает запись каталога по идентификатору.
func GetBadge(id BadgeID) (Badge, bool) {
	for _, b := range Catalog() {
		if b.ID == id {
			return b, true
		}
	}
	return Badge{}, false
}

// ══════════════════════════════════════════════════════════════════════════════
// BADGE AWARD
// ══════════════════════════════════════════════════════════════════════════════

// BadgeAward - факт выдачи бейджа. Для неповторяемых бейджей существует
// не более одной записи на пару (студент, бейдж); для повторяемых -
// не более одной на (студент, бейдж, период).
type BadgeAward struct {
	// StudentID - идентификатор студента.
	StudentID shared.StudentID

	// BadgeID - идентификатор бейджа.
	BadgeID BadgeID

	// Period - ключ периода для повторяемых бейджей
	// (предмет для subject_master, ISO-неделя для perfect_week).
	// Пустой для неповторяемых.
	Period string

	// AwardedAt - время выдачи.
	AwardedAt time.Time
}

// Key возвращает ключ уникальности выдачи.
func (a BadgeAward) Key() string {
	return AwardKey(a.BadgeID, a.Period)
}

// AwardKey строит ключ уникальности (student-scoped).
func AwardKey(id BadgeID, period string) string {
	if period == "" {
		return string(id)
	}
	return string(id) + "@" + period
}

// ══════════════════════════════════════════════════════════════════════════════
// RULE ENGINE
// ══════════════════════════════════════════════════════════════════════════════

// Snapshot - агрегированное состояние студента, против которого оцениваются
// правила. Правила никогда не смотрят в сырые события - только в агрегаты,
// собранные после полного применения события.
type Snapshot struct {
	// StudentID - идентификатор студента.
	StudentID shared.StudentID

	// MasteredToday - число концептов, освоенных в текущую календарную дату.
	MasteredToday int

	// CurrentStreak - текущая длина серии.
	CurrentStreak int

	// SubjectsStarted - число различных предметов с хотя бы одним начатым
	// концептом.
	SubjectsStarted int

	// CompletedSubjects - предметы, в которых освоены все концепты
	// (принадлежность концептов предметам поставляется внешним источником).
	CompletedSubjects []string

	// WeekKey - ключ текущей ISO-недели (например, "2026-W12").
	WeekKey string

	// WeeklyCompletionRatio - доля выполненных заданий недели,
	// поставляется внешним источником. Отрицательное значение - неизвестно.
	WeeklyCompletionRatio float64

	// AtWeekBoundary - оцениваются ли правила на границе недели.
	AtWeekBoundary bool

	// PeerHelpProvided - внешний сигнал "помог другому студенту".
	PeerHelpProvided bool
}

// PendingAward - бейдж, подлежащий выдаче по итогам оценки.
type PendingAward struct {
	Badge  Badge
	Period string
}

// RuleEngine оценивает каталог против снимка состояния. Порядок оценки
// не специфицирован: ни одно правило не зависит от выдачи другого бейджа
// в том же проходе.
type RuleEngine struct {
	catalog []Badge
}

// NewRuleEngine создаёт вычислитель правил со стандартным каталогом.
func NewRuleEngine() *RuleEngine {
	return &RuleEngine{catalog: Catalog()}
}

// Evaluate возвращает бейджи, критерии которых выполнены и которые ещё
// не выданы. held - ключи уже выданных наград (см. AwardKey). Повторная
// выдача - no-op, не ошибка: фильтрация по held делает операцию
// идемпотентной.
func (re *RuleEngine) Evaluate(snap Snapshot, held map[string]bool) []PendingAward {
	var pending []PendingAward

	add := func(id BadgeID, period string) {
		key := AwardKey(id, period)
		if held[key] {
			return
		}
		badge, ok := GetBadge(id)
		if !ok {
			return
		}
		pending = append(pending, PendingAward{Badge: badge, Period: period})
	}

	if snap.MasteredToday >= 5 {
		add(BadgeQuickLearner, "")
	}
	if snap.CurrentStreak >= 7 {
		add(BadgeConsistencyKing, "")
	}
	for _, subject := range snap.CompletedSubjects {
		add(BadgeSubjectMaster, subject)
	}
	if snap.AtWeekBoundary && snap.WeeklyCompletionRatio >= 1.0 {
		add(BadgePerfectWeek, snap.WeekKey)
	}
	if snap.PeerHelpProvided {
		add(BadgeHelper, "")
	}
	if snap.SubjectsStarted >= 5 {
		add(BadgeExplorer, "")
	}

	return pending
}
