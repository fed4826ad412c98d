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
// GET POINTS QUERY
// Счёт очков плюс страница журнала начислений. Студент без счёта - это
// валидный студент с нулём очков, а не ошибка.
// ══════════════════════════════════════════════════════════════════════════════

// GetPointsQuery содержит параметры запроса очков.
type GetPointsQuery struct {
	// StudentID - идентификатор студента.
	StudentID string

	// Page - номер страницы журнала (с 1).
	Page int

	// PageSize - размер страницы журнала (по умолчанию 20, максимум 100).
	PageSize int
}

// Validate проверяет корректность параметров запроса.
func (q *GetPointsQuery) Validate() error {
	if q.StudentID == "" {
		return shared.ErrMissingStudentID
	}
	if q.Page < 0 || q.PageSize < 0 {
		return errors.New("pagination values cannot be negative")
	}
	return nil
}

// LedgerEntryDTO - одна запись журнала начислений.
type LedgerEntryDTO struct {
	// ID - идентификатор записи.
	ID string `json:"id"`

	// Amount - величина начисления.
	Amount int `json:"amount"`

	// Reason - причина начисления.
	Reason string `json:"reason"`

	// ConceptID - концепт-источник (если применимо).
	ConceptID string `json:"concept_id,omitempty"`

	// BadgeID - бейдж-источник (если применимо).
	BadgeID string `json:"badge_id,omitempty"`

	// Note - комментарий (для ручных начислений).
	Note string `json:"note,omitempty"`

	// CreatedAt - время записи.
	CreatedAt time.Time `json:"created_at"`
}

// GetPointsResult содержит результат запроса очков.
type GetPointsResult struct {
	// StudentID - идентификатор студента.
	StudentID string `json:"student_id"`

	// TotalPoints - текущая сумма очков.
	TotalPoints int `json:"total_points"`

	// LifetimePoints - сумма всех положительных начислений.
	LifetimePoints int `json:"lifetime_points"`

	// Level - текущий уровень.
	Level string `json:"level"`

	// PointsToNextLevel - сколько очков до следующего уровня (0 для мастера).
	PointsToNextLevel int `json:"points_to_next_level"`

	// Ledger - страница журнала, новые записи первыми.
	Ledger []LedgerEntryDTO `json:"ledger"`

	// GeneratedAt - время генерации результата.
	GeneratedAt time.Time `json:"generated_at"`
}

// GetPointsHandler обрабатывает запросы очков.
type GetPointsHandler struct {
	accounts gamification.AccountRepository
	ledger   gamification.LedgerRepository
}

// NewGetPointsHandler создаёт новый обработчик.
func NewGetPointsHandler(accounts gamification.AccountRepository, ledger gamification.LedgerRepository) *GetPointsHandler {
	return &GetPointsHandler{accounts: accounts, ledger: ledger}
}

// Handle выполняет запрос.
func (h *GetPointsHandler) Handle(ctx context.Context, q GetPointsQuery) (*GetPointsResult, error) {
	if err := q.Validate(); err != nil {
		return nil, fmt.Errorf("get_points: %w", err)
	}

	studentID, err := shared.NewStudentID(q.StudentID)
	if err != nil {
		return nil, fmt.Errorf("get_points: %w", err)
	}

	result := &GetPointsResult{
		StudentID:         q.StudentID,
		Level:             gamification.LevelFor(0).String(),
		PointsToNextLevel: gamification.PointsToNextLevel(0),
		Ledger:            []LedgerEntryDTO{},
		GeneratedAt:       time.Now().UTC(),
	}

	account, err := h.accounts.Get(ctx, studentID)
	switch {
	case errors.Is(err, shared.ErrNotFound):
		// Счёта ещё нет: нулевое состояние выше уже заполнено.
	case err != nil:
		return nil, fmt.Errorf("get_points: load account: %w", err)
	default:
		result.TotalPoints = account.TotalPoints.Int()
		result.LifetimePoints = account.LifetimePoints.Int()
		result.Level = account.Level().String()
		result.PointsToNextLevel = account.PointsToNextLevel()
	}

	entries, err := h.ledger.ListByStudent(ctx, studentID, shared.NewPagination(q.Page, q.PageSize))
	if err != nil {
		return nil, fmt.Errorf("get_points: list ledger: %w", err)
	}
	for _, e := range entries {
		result.Ledger = append(result.Ledger, LedgerEntryDTO{
			ID:        e.ID,
			Amount:    e.Amount,
			Reason:    string(e.Reason),
			ConceptID: e.ConceptID.String(),
			BadgeID:   e.BadgeID,
			Note:      e.Note,
			CreatedAt: e.CreatedAt,
		})
	}

	return result, nil
}
