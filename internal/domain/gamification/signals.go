package gamification

import (
	"context"
	"time"

	"github.com/spool-edu/progress-core/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// EXTERNAL SIGNALS
// Контракты данных, которые движок потребляет, но не вычисляет:
// состав предметов, недельные цели и факты взаимопомощи приходят извне.
// ══════════════════════════════════════════════════════════════════════════════

// SubjectCatalog поставляет состав предметов. Без него нельзя решить,
// освоен ли предмет целиком.
type SubjectCatalog interface {
	// ConceptCount возвращает число концептов в предмете.
	// Ноль означает "предмет неизвестен": правило subject_master
	// для такого предмета не оценивается.
	ConceptCount(ctx context.Context, subjectID string) (int, error)
}

// WeeklySignal - внешний сигнал о недельных итогах студента.
// Флаг цели и доля выполнения независимы: ни один не выводится из другого.
type WeeklySignal struct {
	// SignalID - уникальный идентификатор сигнала (для дедупликации).
	SignalID string

	// StudentID - идентификатор студента.
	StudentID shared.StudentID

	// WeekKey - ISO-неделя, за которую подведены итоги (например, "2026-W12").
	WeekKey string

	// GoalMet - выполнена ли недельная цель.
	GoalMet bool

	// CompletionRatio - доля выполненных заданий недели.
	// Отрицательное значение - неизвестно.
	CompletionRatio float64
}

// PeerHelpSignal - внешний сигнал "студент помог другому студенту".
type PeerHelpSignal struct {
	// SignalID - уникальный идентификатор сигнала (для дедупликации).
	SignalID string

	// StudentID - кто помог.
	StudentID shared.StudentID

	// HelpedStudentID - кому помогли.
	HelpedStudentID shared.StudentID

	// OccurredAt - когда.
	OccurredAt time.Time
}
