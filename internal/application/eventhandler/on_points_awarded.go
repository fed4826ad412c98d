// Package eventhandler содержит обработчики доменных событий.
// Обработчики подписываются на шину событий и выполняют побочные
// реакции: сброс кеша лидерборда, аудит. Они никогда не трогают
// источник истины - все записи делает диспетчер событий.
package eventhandler

import (
	"context"
	"sync"
	"time"

	"github.com/spool-edu/progress-core/internal/domain/leaderboard"
	"github.com/spool-edu/progress-core/internal/domain/shared"
	"github.com/spool-edu/progress-core/pkg/logger"
)

// ═══════════════════════════════════════════════════════════════════════════
// ON POINTS AWARDED HANDLER
// Каждое начисление очков потенциально меняет рейтинг по очкам, поэтому
// кеш этого рейтинга сбрасывается. Сброс троттлится: при пакетной
// обработке событий достаточно одной инвалидации на интервал - кеш
// и так пересчитается при следующем чтении.
// ═══════════════════════════════════════════════════════════════════════════

// OnPointsAwardedHandler сбрасывает кеш рейтинга по очкам.
type OnPointsAwardedHandler struct {
	cache leaderboard.Cache
	log   *logger.Logger

	// throttle - минимальный интервал между сбросами кеша.
	throttle time.Duration

	mu              sync.Mutex
	lastInvalidated time.Time
}

// NewOnPointsAwardedHandler создаёт новый обработчик.
// throttle <= 0 отключает троттлинг.
func NewOnPointsAwardedHandler(cache leaderboard.Cache, log *logger.Logger, throttle time.Duration) *OnPointsAwardedHandler {
	return &OnPointsAwardedHandler{
		cache:    cache,
		log:      log.With(logger.Component("on_points_awarded")),
		throttle: throttle,
	}
}

// EventType возвращает тип обрабатываемого события.
func (h *OnPointsAwardedHandler) EventType() shared.EventType {
	return shared.EventPointsAwarded
}

// Handle обрабатывает событие начисления очков.
func (h *OnPointsAwardedHandler) Handle(event shared.Event) error {
	awarded, ok := event.(shared.PointsAwardedEvent)
	if !ok {
		h.log.Warn("unexpected event payload", logger.String("event_type", string(event.EventType())))
		return nil
	}
	if awarded.Amount == 0 {
		return nil
	}

	if !h.shouldInvalidate() {
		return nil
	}

	ctx := context.Background()
	if err := h.cache.Invalidate(ctx, leaderboard.BoardPoints); err != nil {
		// Кеш с TTL рассосётся сам - ошибка не фатальна.
		h.log.Warn("points board invalidation failed", logger.Err(err))
		return nil
	}

	h.log.Debug("points board cache invalidated",
		logger.StudentID(awarded.StudentID),
		logger.Points(awarded.Amount),
	)
	return nil
}

// shouldInvalidate применяет троттлинг к сбросам кеша.
func (h *OnPointsAwardedHandler) shouldInvalidate() bool {
	if h.throttle <= 0 {
		return true
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	now := time.Now()
	if now.Sub(h.lastInvalidated) < h.throttle {
		return false
	}
	h.lastInvalidated = now
	return true
}
