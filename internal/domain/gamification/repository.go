package gamification

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

// AccountRepository определяет операции для работы со счетами очков.
type AccountRepository interface {
	// Get возвращает счёт студента.
	// Возвращает ErrAccountNotFound, если счёта нет: студент без истории -
	// валидное состояние, читающая сторона подставляет пустой счёт.
	Get(ctx context.Context, studentID shared.StudentID) (*Account, error)

	// Save создаёт или обновляет счёт.
	Save(ctx context.Context, account *Account) error

	// TopByPoints возвращает счета с наибольшей суммой очков.
	// limit <= 0 означает "все счета".
	// Ничьи разрешаются более ранним временем достижения суммы.
	TopByPoints(ctx context.Context, limit int) ([]*Account, error)
}

// LedgerRepository определяет операции для журнала начислений.
// Журнал append-only: операции изменения записей отсутствуют намеренно.
type LedgerRepository interface {
	// Append добавляет запись в журнал.
	Append(ctx context.Context, entry *LedgerEntry) error

	// ListByStudent возвращает записи студента от новых к старым.
	ListByStudent(ctx context.Context, studentID shared.StudentID, p shared.Pagination) ([]*LedgerEntry, error)

	// SumByStudent возвращает точную сумму записей студента.
	SumByStudent(ctx context.Context, studentID shared.StudentID) (int, error)

	// TotalsBetween возвращает суммы начислений каждого студента
	// в интервале [from, to). Нулевое from означает "с начала времён".
	// Используется проекцией лидерборда для срезов по таймфрейму.
	TotalsBetween(ctx context.Context, from, to time.Time) (map[string]int, error)
}

// StreakRepository определяет операции для серий активных дней.
type StreakRepository interface {
	// Get возвращает серию студента.
	// Возвращает ErrNotFound, если записи нет.
	Get(ctx context.Context, studentID shared.StudentID) (*Streak, error)

	// Save создаёт или обновляет серию.
	Save(ctx context.Context, streak *Streak) error

	// TopByCurrent возвращает самые длинные текущие серии.
	// limit <= 0 означает "все серии".
	TopByCurrent(ctx context.Context, limit int) ([]*Streak, error)
}

// BadgeRepository определяет операции для выданных бейджей.
type BadgeRepository interface {
	// ListAwards возвращает все выдачи бейджей студента.
	ListAwards(ctx context.Context, studentID shared.StudentID) ([]*BadgeAward, error)

	// HasAward проверяет наличие выдачи по ключу уникальности.
	HasAward(ctx context.Context, studentID shared.StudentID, key string) (bool, error)

	// SaveAward фиксирует выдачу бейджа. Семантика compare-and-set:
	// возвращает ErrBadgeAlreadyHeld, если выдача по этому ключу уже есть.
	SaveAward(ctx context.Context, award *BadgeAward) error
}
