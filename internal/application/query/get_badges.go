package query

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/spool-edu/progress-core/internal/domain/gamification"
	"github.com/spool-edu/progress-core/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET BADGES QUERY
// Выданные бейджи студента, обогащённые метаданными каталога, плюс
// остаток каталога, который ещё можно заработать.
// ══════════════════════════════════════════════════════════════════════════════

// GetBadgesQuery содержит параметры запроса бейджей.
type GetBadgesQuery struct {
	// StudentID - идентификатор студента.
	StudentID string
}

// Validate проверяет корректность параметров запроса.
func (q *GetBadgesQuery) Validate() error {
	if q.StudentID == "" {
		return shared.ErrMissingStudentID
	}
	return nil
}

// AwardedBadgeDTO - выданный бейдж с метаданными каталога.
type AwardedBadgeDTO struct {
	// BadgeID - идентификатор бейджа.
	BadgeID string `json:"badge_id"`

	// Name - отображаемое имя.
	Name string `json:"name"`

	// Description - описание условия.
	Description string `json:"description"`

	// Points - бонус очков при разблокировке.
	Points int `json:"points"`

	// Period - ключ периода для повторяемых бейджей
	// (предмет, ISO-неделя); пустой для неповторяемых.
	Period string `json:"period,omitempty"`

	// AwardedAt - время выдачи.
	AwardedAt time.Time `json:"awarded_at"`
}

// AvailableBadgeDTO - бейдж каталога, который ещё можно заработать.
type AvailableBadgeDTO struct {
	// BadgeID - идентификатор бейджа.
	BadgeID string `json:"badge_id"`

	// Name - отображаемое имя.
	Name string `json:"name"`

	// Description - описание условия.
	Description string `json:"description"`

	// Points - бонус очков при разблокировке.
	Points int `json:"points"`

	// Repeatable - может выдаваться повторно за другой период.
	Repeatable bool `json:"repeatable"`
}

// GetBadgesResult содержит результат запроса бейджей.
type GetBadgesResult struct {
	// StudentID - идентификатор студента.
	StudentID string `json:"student_id"`

	// Unlocked - выданные бейджи, новые первыми.
	Unlocked []AwardedBadgeDTO `json:"unlocked"`

	// Available - бейджи, которые ещё можно заработать. Повторяемые
	// бейджи остаются доступными и после выдачи.
	Available []AvailableBadgeDTO `json:"available"`

	// GeneratedAt - время генерации результата.
	GeneratedAt time.Time `json:"generated_at"`
}

// GetBadgesHandler обрабатывает запросы бейджей.
type GetBadgesHandler struct {
	badges gamification.BadgeRepository
}

// NewGetBadgesHandler создаёт новый обработчик.
func NewGetBadgesHandler(badges gamification.BadgeRepository) *GetBadgesHandler {
	return &GetBadgesHandler{badges: badges}
}

// Handle выполняет запрос.
func (h *GetBadgesHandler) Handle(ctx context.Context, q GetBadgesQuery) (*GetBadgesResult, error) {
	if err := q.Validate(); err != nil {
		return nil, fmt.Errorf("get_badges: %w", err)
	}

	studentID, err := shared.NewStudentID(q.StudentID)
	if err != nil {
		return nil, fmt.Errorf("get_badges: %w", err)
	}

	awards, err := h.badges.ListAwards(ctx, studentID)
	if err != nil {
		return nil, fmt.Errorf("get_badges: list awards: %w", err)
	}
	sort.Slice(awards, func(i, j int) bool {
		return awards[i].AwardedAt.After(awards[j].AwardedAt)
	})

	result := &GetBadgesResult{
		StudentID:   q.StudentID,
		Unlocked:    make([]AwardedBadgeDTO, 0, len(awards)),
		GeneratedAt: time.Now().UTC(),
	}

	held := make(map[gamification.BadgeID]bool, len(awards))
	for _, a := range awards {
		held[a.BadgeID] = true
		badge, ok := gamification.GetBadge(a.BadgeID)
		if !ok {
			// Запись о неизвестном бейдже: каталог сузили, награду храним.
			badge = gamification.Badge{ID: a.BadgeID, Name: string(a.BadgeID)}
		}
		result.Unlocked = append(result.Unlocked, AwardedBadgeDTO{
			BadgeID:     string(a.BadgeID),
			Name:        badge.Name,
			Description: badge.Description,
			Points:      badge.Points,
			Period:      a.Period,
			AwardedAt:   a.AwardedAt,
		})
	}

	for _, badge := range gamification.Catalog() {
		if held[badge.ID] && !badge.Repeatable {
			continue
		}
		result.Available = append(result.Available, AvailableBadgeDTO{
			BadgeID:     string(badge.ID),
			Name:        badge.Name,
			Description: badge.Description,
			Points:      badge.Points,
			Repeatable:  badge.Repeatable,
		})
	}

	return result, nil
}
