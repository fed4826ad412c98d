// Package query contains read operations following CQRS pattern.
// Queries never modify state - they only read and return data.
// Each query is a self-contained use case with its own request/response types.
package query

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spool-edu/progress-core/internal/domain/learning"
	"github.com/spool-edu/progress-core/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET PROGRESS QUERY
// Возвращает прогресс студента по концептам. Неизвестный студент - это
// валидный студент без истории: пустой список, а не ошибка.
// ══════════════════════════════════════════════════════════════════════════════

// GetProgressQuery содержит параметры запроса прогресса.
type GetProgressQuery struct {
	// StudentID - идентификатор студента.
	StudentID string

	// OnlyStatus - фильтр по статусу (пустой = без фильтра).
	OnlyStatus string

	// Limit - количество записей (по умолчанию 100).
	Limit int

	// Offset - смещение для пагинации.
	Offset int
}

// Validate проверяет корректность параметров запроса.
func (q *GetProgressQuery) Validate() error {
	if q.StudentID == "" {
		return shared.ErrMissingStudentID
	}
	if q.Limit < 0 {
		return errors.New("limit cannot be negative")
	}
	if q.Limit == 0 {
		q.Limit = 100
	}
	if q.Offset < 0 {
		return errors.New("offset cannot be negative")
	}
	if q.OnlyStatus != "" {
		if _, err := learning.ParseStatus(q.OnlyStatus); err != nil {
			return err
		}
	}
	return nil
}

// ProgressDTO - запись прогресса по одному концепту.
type ProgressDTO struct {
	// ConceptID - идентификатор концепта.
	ConceptID string `json:"concept_id"`

	// SubjectID - предмет концепта.
	SubjectID string `json:"subject_id"`

	// Status - текущий статус.
	Status string `json:"status"`

	// Attempts - число попыток.
	Attempts int `json:"attempts"`

	// BestScore - лучшая оценка (nil, если оценок не было).
	BestScore *float64 `json:"best_score,omitempty"`

	// LastScore - последняя оценка.
	LastScore *float64 `json:"last_score,omitempty"`

	// TotalTimeSpentSec - суммарное время в секундах.
	TotalTimeSpentSec int64 `json:"total_time_spent_sec"`

	// StartedAt - первое событие по концепту.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// CompletedAt - первый переход в completed или выше.
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// MasteredAt - момент освоения.
	MasteredAt *time.Time `json:"mastered_at,omitempty"`

	// LastAccessed - последняя активность по концепту.
	LastAccessed time.Time `json:"last_accessed"`
}

// GetProgressResult содержит результат запроса прогресса.
type GetProgressResult struct {
	// StudentID - идентификатор студента.
	StudentID string `json:"student_id"`

	// Items - записи прогресса, упорядоченные по ConceptID.
	Items []ProgressDTO `json:"items"`

	// GeneratedAt - время генерации результата.
	GeneratedAt time.Time `json:"generated_at"`
}

// GetProgressHandler обрабатывает запросы прогресса.
type GetProgressHandler struct {
	progressRepo learning.ProgressRepository
}

// NewGetProgressHandler создаёт новый обработчик.
func NewGetProgressHandler(progressRepo learning.ProgressRepository) *GetProgressHandler {
	return &GetProgressHandler{progressRepo: progressRepo}
}

// Handle выполняет запрос.
func (h *GetProgressHandler) Handle(ctx context.Context, q GetProgressQuery) (*GetProgressResult, error) {
	if err := q.Validate(); err != nil {
		return nil, fmt.Errorf("get_progress: %w", err)
	}

	studentID, err := shared.NewStudentID(q.StudentID)
	if err != nil {
		return nil, fmt.Errorf("get_progress: %w", err)
	}

	opts := learning.DefaultListOptions().
		WithSort("concept_id", false).
		WithLimit(q.Limit).
		WithOffset(q.Offset)
	if q.OnlyStatus != "" {
		status, _ := learning.ParseStatus(q.OnlyStatus)
		opts = opts.WithStatus(status)
	}

	list, err := h.progressRepo.ListByStudent(ctx, studentID, opts)
	if err != nil {
		return nil, fmt.Errorf("get_progress: list progress: %w", err)
	}

	result := &GetProgressResult{
		StudentID:   q.StudentID,
		Items:       make([]ProgressDTO, 0, len(list)),
		GeneratedAt: time.Now().UTC(),
	}
	for _, p := range list {
		result.Items = append(result.Items, toProgressDTO(p))
	}
	return result, nil
}

func toProgressDTO(p *learning.ConceptProgress) ProgressDTO {
	dto := ProgressDTO{
		ConceptID:         p.ConceptID.String(),
		SubjectID:         p.SubjectID,
		Status:            p.Status.String(),
		Attempts:          p.Attempts,
		TotalTimeSpentSec: int64(p.TotalTimeSpent.Seconds()),
		LastAccessed:      p.LastAccessed,
	}
	if p.BestScore != nil {
		v := p.BestScore.Float64()
		dto.BestScore = &v
	}
	if p.LastScore != nil {
		v := p.LastScore.Float64()
		dto.LastScore = &v
	}
	if !p.StartedAt.IsZero() {
		t := p.StartedAt
		dto.StartedAt = &t
	}
	if !p.CompletedAt.IsZero() {
		t := p.CompletedAt
		dto.CompletedAt = &t
	}
	if !p.MasteredAt.IsZero() {
		t := p.MasteredAt
		dto.MasteredAt = &t
	}
	return dto
}

// ══════════════════════════════════════════════════════════════════════════════
// GET PROGRESS SUMMARY QUERY
// Сводка по статусам плюс последняя активность.
// ══════════════════════════════════════════════════════════════════════════════

// GetProgressSummaryQuery содержит параметры запроса сводки.
type GetProgressSummaryQuery struct {
	// StudentID - идентификатор студента.
	StudentID string

	// RecentLimit - сколько последних концептов вернуть (по умолчанию 5).
	RecentLimit int
}

// Validate проверяет корректность параметров запроса.
func (q *GetProgressSummaryQuery) Validate() error {
	if q.StudentID == "" {
		return shared.ErrMissingStudentID
	}
	if q.RecentLimit <= 0 {
		q.RecentLimit = 5
	}
	return nil
}

// GetProgressSummaryResult содержит сводку прогресса.
type GetProgressSummaryResult struct {
	// StudentID - идентификатор студента.
	StudentID string `json:"student_id"`

	// TotalConcepts - всего концептов с историей.
	TotalConcepts int `json:"total_concepts"`

	// StatusCounts - количество концептов в каждом статусе.
	StatusCounts map[string]int `json:"status_counts"`

	// SubjectsStarted - число предметов с активностью.
	SubjectsStarted int `json:"subjects_started"`

	// Recent - последние затронутые концепты.
	Recent []ProgressDTO `json:"recent"`

	// GeneratedAt - время генерации результата.
	GeneratedAt time.Time `json:"generated_at"`
}

// GetProgressSummaryHandler обрабатывает запросы сводки.
type GetProgressSummaryHandler struct {
	progressRepo learning.ProgressRepository
}

// NewGetProgressSummaryHandler создаёт новый обработчик.
func NewGetProgressSummaryHandler(progressRepo learning.ProgressRepository) *GetProgressSummaryHandler {
	return &GetProgressSummaryHandler{progressRepo: progressRepo}
}

// Handle выполняет запрос.
func (h *GetProgressSummaryHandler) Handle(ctx context.Context, q GetProgressSummaryQuery) (*GetProgressSummaryResult, error) {
	if err := q.Validate(); err != nil {
		return nil, fmt.Errorf("get_progress_summary: %w", err)
	}

	studentID, err := shared.NewStudentID(q.StudentID)
	if err != nil {
		return nil, fmt.Errorf("get_progress_summary: %w", err)
	}

	// Один проход по всем записям студента: объёмы на студента малы.
	list, err := h.progressRepo.ListByStudent(ctx, studentID,
		learning.DefaultListOptions().WithLimit(0).WithSort("last_accessed", true))
	if err != nil {
		return nil, fmt.Errorf("get_progress_summary: list progress: %w", err)
	}

	result := &GetProgressSummaryResult{
		StudentID:     q.StudentID,
		TotalConcepts: len(list),
		StatusCounts:  make(map[string]int),
		GeneratedAt:   time.Now().UTC(),
	}

	subjects := make(map[string]struct{})
	for i, p := range list {
		result.StatusCounts[p.Status.String()]++
		if p.SubjectID != "" {
			subjects[p.SubjectID] = struct{}{}
		}
		if i < q.RecentLimit {
			result.Recent = append(result.Recent, toProgressDTO(p))
		}
	}
	result.SubjectsStarted = len(subjects)

	return result, nil
}
