package eventhandler

import (
	"context"

	"github.com/spool-edu/progress-core/internal/domain/leaderboard"
	"github.com/spool-edu/progress-core/internal/domain/shared"
	"github.com/spool-edu/progress-core/pkg/logger"
)

// ═══════════════════════════════════════════════════════════════════════════
// ON STREAK CHANGED HANDLER
// Продление и обрыв серии меняют рейтинг серий. Обработчик один на оба
// типа события: регистрируется и на StreakAdvanced, и на StreakBroken.
// ═══════════════════════════════════════════════════════════════════════════

// OnStreakChangedHandler сбрасывает кеш рейтинга серий.
type OnStreakChangedHandler struct {
	cache leaderboard.Cache
	log   *logger.Logger
}

// NewOnStreakChangedHandler создаёт новый обработчик.
func NewOnStreakChangedHandler(cache leaderboard.Cache, log *logger.Logger) *OnStreakChangedHandler {
	return &OnStreakChangedHandler{
		cache: cache,
		log:   log.With(logger.Component("on_streak_changed")),
	}
}

// EventTypes возвращает типы обрабатываемых событий.
func (h *OnStreakChangedHandler) EventTypes() []shared.EventType {
	return []shared.EventType{shared.EventStreakAdvanced, shared.EventStreakBroken}
}

// Handle обрабатывает изменение серии.
func (h *OnStreakChangedHandler) Handle(event shared.Event) error {
	switch event.EventType() {
	case shared.EventStreakAdvanced, shared.EventStreakBroken:
	default:
		h.log.Warn("unexpected event payload", logger.String("event_type", string(event.EventType())))
		return nil
	}

	ctx := context.Background()
	if err := h.cache.Invalidate(ctx, leaderboard.BoardStreak); err != nil {
		h.log.Warn("streak board invalidation failed", logger.Err(err))
		return nil
	}

	h.log.Debug("streak board cache invalidated",
		logger.String("student_id", event.AggregateID()),
		logger.String("trigger", string(event.EventType())),
	)
	return nil
}
