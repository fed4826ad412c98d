package query

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spool-edu/progress-core/internal/domain/gamification"
	"github.com/spool-edu/progress-core/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET STREAK QUERY
// Текущее состояние серии активных дней. Серия хранится как есть и не
// пересчитывается чтением; флаг BrokenAsOf показывает, что серия уже
// прервалась бы на момент запроса, хотя счётчик ещё не сброшен.
// ══════════════════════════════════════════════════════════════════════════════

// GetStreakQuery содержит параметры запроса серии.
type GetStreakQuery struct {
	// StudentID - идентификатор студента.
	StudentID string
}

// Validate проверяет корректность параметров запроса.
func (q *GetStreakQuery) Validate() error {
	if q.StudentID == "" {
		return shared.ErrMissingStudentID
	}
	return nil
}

// GetStreakResult содержит результат запроса серии.
type GetStreakResult struct {
	// StudentID - идентификатор студента.
	StudentID string `json:"student_id"`

	// CurrentStreak - текущая длина серии в днях.
	CurrentStreak int `json:"current_streak"`

	// LongestStreak - максимальная серия за всё время.
	LongestStreak int `json:"longest_streak"`

	// LastActivityDate - календарная дата последней активности.
	LastActivityDate *time.Time `json:"last_activity_date,omitempty"`

	// StreakStartedDate - дата начала текущей серии.
	StreakStartedDate *time.Time `json:"streak_started_date,omitempty"`

	// TotalActiveDays - всего активных дней за всё время.
	TotalActiveDays int `json:"total_active_days"`

	// BrokenAsOf - серия фактически прервана на момент запроса
	// (со дня последней активности прошло больше одного дня).
	BrokenAsOf bool `json:"broken_as_of"`

	// GeneratedAt - время генерации результата.
	GeneratedAt time.Time `json:"generated_at"`
}

// GetStreakHandler обрабатывает запросы серии.
type GetStreakHandler struct {
	streaks gamification.StreakRepository
	now     func() time.Time
}

// NewGetStreakHandler создаёт новый обработчик.
func NewGetStreakHandler(streaks gamification.StreakRepository) *GetStreakHandler {
	return &GetStreakHandler{
		streaks: streaks,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// WithClock подменяет источник времени (для тестов).
func (h *GetStreakHandler) WithClock(now func() time.Time) *GetStreakHandler {
	h.now = now
	return h
}

// Handle выполняет запрос.
func (h *GetStreakHandler) Handle(ctx context.Context, q GetStreakQuery) (*GetStreakResult, error) {
	if err := q.Validate(); err != nil {
		return nil, fmt.Errorf("get_streak: %w", err)
	}

	studentID, err := shared.NewStudentID(q.StudentID)
	if err != nil {
		return nil, fmt.Errorf("get_streak: %w", err)
	}

	result := &GetStreakResult{
		StudentID:   q.StudentID,
		GeneratedAt: h.now(),
	}

	streak, err := h.streaks.Get(ctx, studentID)
	if errors.Is(err, shared.ErrNotFound) {
		// Серии ещё нет: все счётчики по нулям.
		return result, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get_streak: load streak: %w", err)
	}

	result.CurrentStreak = streak.CurrentStreak
	result.LongestStreak = streak.LongestStreak
	result.TotalActiveDays = streak.TotalActiveDays
	result.BrokenAsOf = streak.IsBrokenAsOf(h.now())
	if !streak.LastActivityDate.IsZero() {
		t := streak.LastActivityDate
		result.LastActivityDate = &t
	}
	if !streak.StreakStartedDate.IsZero() {
		t := streak.StreakStartedDate
		result.StreakStartedDate = &t
	}

	return result, nil
}
