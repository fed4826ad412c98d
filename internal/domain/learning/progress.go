package learning

import (
	"strings"
	"time"

	"github.com/spool-edu/progress-core/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// STATUS (строго упорядоченный, монотонный)
// ══════════════════════════════════════════════════════════════════════════════

// Status - статус прогресса по концепту. Статусы полностью упорядочены
// и никогда не откатываются назад: переходы идут только вперёд или на месте.
type Status string

const (
	// StatusNotStarted - концепт ещё не затронут.
	StatusNotStarted Status = "not_started"
	// StatusInProgress - студент работает над концептом.
	StatusInProgress Status = "in_progress"
	// StatusCompleted - концепт завершён.
	StatusCompleted Status = "completed"
	// StatusMastered - концепт освоен (терминальный статус).
	StatusMastered Status = "mastered"
)

// Rank возвращает порядковый номер статуса для сравнения.
func (s Status) Rank() int {
	switch s {
	case StatusNotStarted:
		return 0
	case StatusInProgress:
		return 1
	case StatusCompleted:
		return 2
	case StatusMastered:
		return 3
	}
	return -1
}

// IsValid проверяет, что статус распознан.
func (s Status) IsValid() bool {
	return s.Rank() >= 0
}

// AtLeast возвращает true, если статус не ниже указанного.
func (s Status) AtLeast(other Status) bool {
	return s.Rank() >= other.Rank()
}

// IsTerminal возвращает true для терминального статуса.
func (s Status) IsTerminal() bool {
	return s == StatusMastered
}

// String возвращает строковое представление.
func (s Status) String() string {
	return string(s)
}

// ParseStatus разбирает строку в Status.
func ParseStatus(v string) (Status, error) {
	s := Status(strings.ToLower(strings.TrimSpace(v)))
	if !s.IsValid() {
		return "", shared.NewDomainError("learning", "ParseStatus", shared.ErrInvalidInput, "unknown progress status")
	}
	return s, nil
}

// TargetStatus возвращает статус, к которому ведёт событие данного вида.
func (k EventKind) TargetStatus() Status {
	switch k {
	case KindStarted:
		return StatusInProgress
	case KindCompleted:
		return StatusCompleted
	case KindMastered:
		return StatusMastered
	}
	return StatusNotStarted
}

// ══════════════════════════════════════════════════════════════════════════════
// CONCEPT PROGRESS (агрегат "студент × концепт")
// ══════════════════════════════════════════════════════════════════════════════

// ConceptProgress - прогресс одного студента по одному концепту.
// Статус меняется только вперёд; статистика накапливается на каждом
// применённом событии независимо от смены статуса.
type ConceptProgress struct {
	// StudentID - идентификатор студента.
	StudentID shared.StudentID

	// ConceptID - идентификатор концепта.
	ConceptID shared.ConceptID

	// SubjectID - предмет концепта.
	SubjectID string

	// Status - текущий статус.
	Status Status

	// Attempts - количество применённых событий.
	Attempts int

	// BestScore - максимальная наблюдавшаяся оценка, nil если оценок не было.
	BestScore *shared.Score

	// LastScore - последняя наблюдавшаяся оценка, nil если оценок не было.
	LastScore *shared.Score

	// TotalTimeSpent - суммарное затраченное время.
	TotalTimeSpent time.Duration

	// StartedAt - время первого применённого события.
	StartedAt time.Time

	// CompletedAt - время первого входа в статус completed или выше.
	CompletedAt time.Time

	// MasteredAt - время первого входа в статус mastered.
	// Устанавливается ровно один раз и больше не меняется.
	// Инвариант: MasteredAt задано тогда и только тогда, когда Status == mastered.
	MasteredAt time.Time

	// LastAccessed - максимальное OccurredAt среди применённых событий.
	LastAccessed time.Time

	// CreatedAt - время создания записи.
	CreatedAt time.Time

	// UpdatedAt - время последнего изменения.
	UpdatedAt time.Time
}

// NewConceptProgress создаёт прогресс в начальном статусе.
func NewConceptProgress(studentID shared.StudentID, conceptID shared.ConceptID, subjectID string) *ConceptProgress {
	now := time.Now().UTC()
	return &ConceptProgress{
		StudentID: studentID,
		ConceptID: conceptID,
		SubjectID: subjectID,
		Status:    StatusNotStarted,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// IsMastered возвращает true, если концепт освоен.
func (cp *ConceptProgress) IsMastered() bool {
	return cp.Status == StatusMastered
}

// ApplyResult - результат применения одного события к прогрессу.
type ApplyResult struct {
	// From - статус до применения.
	From Status

	// To - статус после применения.
	To Status

	// StatusChanged - сменился ли статус. Повторное событие того же или
	// более низкого уровня статистику обновляет, но статус не двигает.
	StatusChanged bool

	// MasteredNow - впервые достигнут статус mastered этим событием.
	MasteredNow bool

	// PerfectScore - событие несло идеальную оценку.
	PerfectScore bool
}

// Apply применяет событие к прогрессу: двигает статус вперёд (если событие
// ведёт к более высокому статусу) и накапливает статистику. Переход может
// перепрыгивать промежуточные статусы: completed по ещё не начатому концепту
// трактуется как неявный fast-forward.
func (cp *ConceptProgress) Apply(ev LearningEvent) ApplyResult {
	from := cp.Status
	target := ev.Kind.TargetStatus()

	if target.Rank() > cp.Status.Rank() {
		cp.Status = target
	}

	cp.Attempts++
	cp.TotalTimeSpent += ev.TimeSpent

	if ev.Score != nil {
		s := *ev.Score
		cp.LastScore = &s
		if cp.BestScore == nil || s > *cp.BestScore {
			best := s
			cp.BestScore = &best
		}
	}

	if cp.StartedAt.IsZero() {
		cp.StartedAt = ev.OccurredAt
	}
	if ev.OccurredAt.After(cp.LastAccessed) {
		cp.LastAccessed = ev.OccurredAt
	}

	statusChanged := cp.Status != from
	if statusChanged && cp.Status.AtLeast(StatusCompleted) && cp.CompletedAt.IsZero() {
		cp.CompletedAt = ev.OccurredAt
	}
	masteredNow := statusChanged && cp.Status == StatusMastered
	if masteredNow {
		cp.MasteredAt = ev.OccurredAt
	}

	cp.UpdatedAt = time.Now().UTC()

	return ApplyResult{
		From:          from,
		To:            cp.Status,
		StatusChanged: statusChanged,
		MasteredNow:   masteredNow,
		PerfectScore:  ev.IsPerfectScore(),
	}
}
