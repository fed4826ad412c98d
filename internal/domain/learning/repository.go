package learning

import (
	"context"
	"time"

	"github.com/spool-edu/progress-core/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACES
// Эти интерфейсы определяют контракт для работы с хранилищем данных.
// Реализации находятся в infrastructure/persistence.
// ══════════════════════════════════════════════════════════════════════════════

// ProgressRepository определяет операции для работы с прогрессом по концептам.
type ProgressRepository interface {
	// ─────────────────────────────────────────────────────────────────────────
	// CRUD Operations
	// ─────────────────────────────────────────────────────────────────────────

	// Get возвращает прогресс студента по концепту.
	// Возвращает ErrProgressNotFound, если записи нет.
	Get(ctx context.Context, studentID shared.StudentID, conceptID shared.ConceptID) (*ConceptProgress, error)

	// Save создаёт или обновляет прогресс.
	Save(ctx context.Context, progress *ConceptProgress) error

	// ListByStudent возвращает весь прогресс студента.
	ListByStudent(ctx context.Context, studentID shared.StudentID, opts ListOptions) ([]*ConceptProgress, error)

	// ListBySubject возвращает прогресс студента в рамках предмета.
	ListBySubject(ctx context.Context, studentID shared.StudentID, subjectID string) ([]*ConceptProgress, error)

	// ─────────────────────────────────────────────────────────────────────────
	// Aggregates (для правил бейджей)
	// ─────────────────────────────────────────────────────────────────────────

	// CountMasteredBetween возвращает число концептов, освоенных студентом
	// в интервале [from, to).
	CountMasteredBetween(ctx context.Context, studentID shared.StudentID, from, to time.Time) (int, error)

	// CountDistinctSubjects возвращает число различных предметов,
	// в которых студент начал хотя бы один концепт.
	CountDistinctSubjects(ctx context.Context, studentID shared.StudentID) (int, error)
}

// ListOptions содержит параметры для пагинации и сортировки.
type ListOptions struct {
	// Offset - смещение (для пагинации).
	Offset int

	// Limit - максимальное количество записей.
	Limit int

	// SortBy - поле для сортировки.
	SortBy string

	// SortDesc - сортировка по убыванию.
	SortDesc bool

	// OnlyStatus - фильтр по статусу (пустой = без фильтра).
	OnlyStatus Status
}

// DefaultListOptions возвращает параметры по умолчанию.
func DefaultListOptions() ListOptions {
	return ListOptions{
		Offset:   0,
		Limit:    100,
		SortBy:   "last_accessed",
		SortDesc: true,
	}
}

// WithOffset устанавливает смещение.
func (o ListOptions) WithOffset(offset int) ListOptions {
	o.Offset = offset
	return o
}

// WithLimit устанавливает лимит.
func (o ListOptions) WithLimit(limit int) ListOptions {
	o.Limit = limit
	return o
}

// WithSort устанавливает сортировку.
func (o ListOptions) WithSort(field string, desc bool) ListOptions {
	o.SortBy = field
	o.SortDesc = desc
	return o
}

// WithStatus устанавливает фильтр по статусу.
func (o ListOptions) WithStatus(status Status) ListOptions {
	o.OnlyStatus = status
	return o
}

// ══════════════════════════════════════════════════════════════════════════════
// EVENT DEDUPLICATION
// Каждое применённое событие фиксируется вместе с сериализованным результатом,
// чтобы повтор того же event_id вернул прежний результат без побочных эффектов.
// ══════════════════════════════════════════════════════════════════════════════

// AppliedEvent - запись о применённом событии.
type AppliedEvent struct {
	// EventID - идентификатор события.
	EventID string

	// StudentID - студент, в чьей области событие применено.
	StudentID shared.StudentID

	// Result - сериализованный результат обработки (JSON).
	Result []byte

	// AppliedAt - когда событие было применено.
	AppliedAt time.Time
}

// EventRepository определяет операции дедупликации событий.
type EventRepository interface {
	// FindApplied возвращает запись о применённом событии.
	// Возвращает ErrNotFound, если событие ещё не применялось.
	FindApplied(ctx context.Context, studentID shared.StudentID, eventID string) (*AppliedEvent, error)

	// MarkApplied фиксирует применённое событие вместе с результатом.
	// Возвращает ErrAlreadyExists при конфликте event_id.
	MarkApplied(ctx context.Context, record *AppliedEvent) error
}
