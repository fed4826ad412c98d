package eventhandler

import (
	"sync/atomic"

	"github.com/spool-edu/progress-core/internal/domain/shared"
	"github.com/spool-edu/progress-core/pkg/logger"
)

// ═══════════════════════════════════════════════════════════════════════════
// ON BADGE UNLOCKED HANDLER
// Бейдж выдаётся не более одного раза на (студент, бейдж, период), поэтому
// каждое такое событие - значимая веха: пишем аудит-лог и дёргаем
// опциональный хук (подключается интеграцией, например пушем уведомлений).
// ═══════════════════════════════════════════════════════════════════════════

// BadgeUnlockHook вызывается на каждый разблокированный бейдж.
// Ошибка хука логируется, но не прерывает обработку.
type BadgeUnlockHook func(event shared.BadgeUnlockedEvent) error

// OnBadgeUnlockedHandler ведёт аудит выдачи бейджей.
type OnBadgeUnlockedHandler struct {
	log  *logger.Logger
	hook BadgeUnlockHook

	// unlocks - счётчик обработанных выдач (для health-отчётов worker'а).
	unlocks atomic.Int64
}

// NewOnBadgeUnlockedHandler создаёт новый обработчик. hook может быть nil.
func NewOnBadgeUnlockedHandler(log *logger.Logger, hook BadgeUnlockHook) *OnBadgeUnlockedHandler {
	return &OnBadgeUnlockedHandler{
		log:  log.With(logger.Component("on_badge_unlocked")),
		hook: hook,
	}
}

// EventType возвращает тип обрабатываемого события.
func (h *OnBadgeUnlockedHandler) EventType() shared.EventType {
	return shared.EventBadgeUnlocked
}

// Unlocks возвращает число обработанных выдач.
func (h *OnBadgeUnlockedHandler) Unlocks() int64 {
	return h.unlocks.Load()
}

// Handle обрабатывает выдачу бейджа.
func (h *OnBadgeUnlockedHandler) Handle(event shared.Event) error {
	unlocked, ok := event.(shared.BadgeUnlockedEvent)
	if !ok {
		h.log.Warn("unexpected event payload", logger.String("event_type", string(event.EventType())))
		return nil
	}

	h.unlocks.Add(1)
	h.log.Info("badge unlocked",
		logger.StudentID(unlocked.StudentID),
		logger.BadgeID(unlocked.BadgeID),
		logger.String("badge_name", unlocked.BadgeName),
		logger.Points(unlocked.Bonus),
	)

	if h.hook != nil {
		if err := h.hook(unlocked); err != nil {
			h.log.Warn("badge unlock hook failed",
				logger.BadgeID(unlocked.BadgeID),
				logger.Err(err),
			)
		}
	}
	return nil
}
