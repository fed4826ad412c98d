// Package leaderboard содержит доменную модель лидерборда.
package leaderboard

import (
	"context"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// LEADERBOARD CACHE INTERFACE
// Лидерборд - пересчитываемая проекция, поэтому долговременное хранилище
// ему не нужно: достаточно кеша с TTL поверх источника истины (счетов).
// ══════════════════════════════════════════════════════════════════════════════

// Cache определяет контракт для кеширования лидерборда (Redis, in-memory).
type Cache interface {
	// GetTop возвращает закешированный топ-N указанного вида рейтинга.
	// Возвращает nil без ошибки, если кеш пуст или устарел.
	GetTop(ctx context.Context, board Board, tf Timeframe, limit int) ([]*Entry, error)

	// SetTop сохраняет топ-N в кеш с TTL.
	SetTop(ctx context.Context, board Board, tf Timeframe, entries []*Entry, ttl time.Duration) error

	// GetStudentRank возвращает закешированную позицию студента.
	// Возвращает nil без ошибки при промахе кеша.
	GetStudentRank(ctx context.Context, board Board, studentID string) (*Entry, error)

	// Invalidate сбрасывает кеш указанного вида рейтинга.
	Invalidate(ctx context.Context, board Board) error

	// InvalidateAll сбрасывает весь кеш лидерборда.
	InvalidateAll(ctx context.Context) error
}

// OptOutProvider поставляет флаги исключения из рейтинга.
// Хранение настроек приватности - забота внешнего коллаборатора.
type OptOutProvider interface {
	// OptedOut возвращает множество студентов, скрытых из лидерборда.
	OptedOut(ctx context.Context) (map[string]bool, error)
}
