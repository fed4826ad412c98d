// Package learning содержит доменную модель учебных событий и прогресса
// по концептам. Это чистый доменный слой: вся логика переходов статусов
// и нормализации событий живёт здесь, без внешних зависимостей.
package learning

import (
	"strings"
	"time"

	"github.com/spool-edu/progress-core/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// EVENT KIND
// ══════════════════════════════════════════════════════════════════════════════

// EventKind - вид учебного события.
type EventKind string

const (
	// KindStarted - студент начал работу над концептом.
	KindStarted EventKind = "started"
	// KindCompleted - студент завершил концепт.
	KindCompleted EventKind = "completed"
	// KindMastered - студент освоил концепт (терминальный статус).
	KindMastered EventKind = "mastered"
)

// IsValid проверяет, что вид события распознан.
func (k EventKind) IsValid() bool {
	switch k {
	case KindStarted, KindCompleted, KindMastered:
		return true
	}
	return false
}

// String возвращает строковое представление.
func (k EventKind) String() string {
	return string(k)
}

// ParseEventKind разбирает строку в EventKind.
func ParseEventKind(s string) (EventKind, error) {
	k := EventKind(strings.ToLower(strings.TrimSpace(s)))
	if !k.IsValid() {
		return "", shared.ErrUnknownEventKind
	}
	return k, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// RAW EVENT (вход до валидации)
// ══════════════════════════════════════════════════════════════════════════════

// RawEvent - событие в том виде, в котором оно пришло от источника.
// Поля намеренно "сырые": валидация и приведение к каноническому виду
// выполняются в Normalize.
type RawEvent struct {
	// EventID - уникальный идентификатор события (ключ дедупликации).
	EventID string

	// StudentID - идентификатор студента.
	StudentID string

	// ConceptID - идентификатор концепта.
	ConceptID string

	// SubjectID - предмет (опционально; если пусто, берётся из ConceptID).
	SubjectID string

	// Kind - вид события ("started", "completed", "mastered").
	Kind string

	// Score - результат оценивания в [0.0, 1.0], nil если отсутствует.
	Score *float64

	// TimeSpentSec - затраченное время в секундах.
	TimeSpentSec int64

	// OccurredAt - время события у источника (не время приёма).
	// Нулевое значение означает "не передано".
	OccurredAt time.Time
}

// ══════════════════════════════════════════════════════════════════════════════
// LEARNING EVENT (каноническая форма)
// ══════════════════════════════════════════════════════════════════════════════

// LearningEvent - валидированное каноническое учебное событие.
// Неизменяемо после нормализации.
type LearningEvent struct {
	// EventID - уникальный идентификатор события.
	EventID string

	// StudentID - идентификатор студента.
	StudentID shared.StudentID

	// ConceptID - идентификатор концепта.
	ConceptID shared.ConceptID

	// SubjectID - предмет, к которому относится концепт.
	SubjectID string

	// Kind - вид события.
	Kind EventKind

	// Score - результат оценивания, nil если источник его не передал.
	Score *shared.Score

	// TimeSpent - затраченное время.
	TimeSpent time.Duration

	// OccurredAt - время события у источника.
	OccurredAt time.Time

	// ReceivedAt - время приёма события системой.
	ReceivedAt time.Time
}

// HasScore возвращает true, если событие несёт оценку.
func (e LearningEvent) HasScore() bool {
	return e.Score != nil
}

// IsPerfectScore возвращает true при идеальной оценке.
func (e LearningEvent) IsPerfectScore() bool {
	return e.Score != nil && e.Score.IsPerfect()
}

// ActivityDate возвращает календарную дату события в указанной таймзоне.
func (e LearningEvent) ActivityDate(loc *time.Location) time.Time {
	t := e.OccurredAt.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// Допустимое опережение часов источника относительно наших.
const maxFutureSkew = 5 * time.Minute

// Normalize валидирует сырое событие и приводит его к канонической форме.
// Правила отклонения: пустые идентификаторы, нераспознанный вид события,
// оценка вне [0, 1], отрицательное время, метка времени из будущего.
// Отсутствующее OccurredAt заменяется временем приёма. Без побочных эффектов.
func Normalize(raw RawEvent, now time.Time) (LearningEvent, error) {
	if strings.TrimSpace(raw.EventID) == "" {
		return LearningEvent{}, shared.WrapError("learning", "Normalize", shared.ErrEmptyValue, "event ID is required", shared.ErrInvalidEvent)
	}

	studentID, err := shared.NewStudentID(raw.StudentID)
	if err != nil {
		return LearningEvent{}, shared.ErrMissingStudentID
	}

	conceptID, err := shared.NewConceptID(raw.ConceptID)
	if err != nil {
		return LearningEvent{}, shared.ErrMissingConceptID
	}

	kind, err := ParseEventKind(raw.Kind)
	if err != nil {
		return LearningEvent{}, err
	}

	var score *shared.Score
	if raw.Score != nil {
		s, err := shared.NewScore(*raw.Score)
		if err != nil {
			return LearningEvent{}, err
		}
		score = &s
	}

	if raw.TimeSpentSec < 0 {
		return LearningEvent{}, shared.WrapError("learning", "Normalize", shared.ErrNegativeValue, "time spent cannot be negative", shared.ErrInvalidEvent)
	}

	occurredAt := raw.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = now
	}
	if occurredAt.After(now.Add(maxFutureSkew)) {
		return LearningEvent{}, shared.ErrEventFromFuture
	}

	subjectID := strings.ToLower(strings.TrimSpace(raw.SubjectID))
	if subjectID == "" {
		subjectID = conceptID.Subject()
	}

	return LearningEvent{
		EventID:    strings.TrimSpace(raw.EventID),
		StudentID:  studentID,
		ConceptID:  conceptID,
		SubjectID:  subjectID,
		Kind:       kind,
		Score:      score,
		TimeSpent:  time.Duration(raw.TimeSpentSec) * time.Second,
		OccurredAt: occurredAt.UTC(),
		ReceivedAt: now.UTC(),
	}, nil
}
