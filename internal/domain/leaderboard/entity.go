// Package leaderboard содержит доменную модель лидерборда.
// Лидерборд - это производная, полностью пересчитываемая проекция над
// снимками счетов очков: он никогда не является самостоятельно изменяемым
// хранилищем, что исключает дрейф консистентности.
package leaderboard

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// VALUE OBJECTS
// ══════════════════════════════════════════════════════════════════════════════

// Rank представляет позицию студента в лидерборде.
// Rank начинается с 1 (первое место).
type Rank int

// IsValid проверяет, что ранг положительный.
func (r Rank) IsValid() bool {
	return r > 0
}

// IsTop возвращает true, если студент в топ-N.
func (r Rank) IsTop(n int) bool {
	return r >= 1 && int(r) <= n
}

// String возвращает строковое представление ранга.
func (r Rank) String() string {
	return fmt.Sprintf("#%d", r)
}

// Board - вид лидерборда.
type Board string

const (
	// BoardPoints - рейтинг по сумме очков.
	BoardPoints Board = "points"
	// BoardStreak - рейтинг по текущей серии активных дней.
	BoardStreak Board = "streak"
)

// IsValid проверяет, что вид лидерборда распознан.
func (b Board) IsValid() bool {
	return b == BoardPoints || b == BoardStreak
}

// Timeframe - интервал агрегации очков для рейтинга.
type Timeframe string

const (
	TimeframeDaily   Timeframe = "daily"
	TimeframeWeekly  Timeframe = "weekly"
	TimeframeMonthly Timeframe = "monthly"
	TimeframeAllTime Timeframe = "all"
)

// IsValid проверяет, что интервал распознан.
func (tf Timeframe) IsValid() bool {
	switch tf {
	case TimeframeDaily, TimeframeWeekly, TimeframeMonthly, TimeframeAllTime:
		return true
	}
	return false
}

// Since возвращает нижнюю границу интервала относительно now.
// Нулевое время означает "без ограничения".
func (tf Timeframe) Since(now time.Time) time.Time {
	switch tf {
	case TimeframeDaily:
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	case TimeframeWeekly:
		return now.AddDate(0, 0, -7)
	case TimeframeMonthly:
		return now.AddDate(0, -1, 0)
	default:
		return time.Time{}
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// ENTRY
// ══════════════════════════════════════════════════════════════════════════════

// Entry представляет одну строку лидерборда.
type Entry struct {
	// Rank - позиция в рейтинге.
	Rank Rank

	// StudentID - идентификатор студента.
	StudentID string

	// Points - сумма очков (или длина серии для BoardStreak).
	Points int

	// Level - уровень студента (производная от очков).
	Level string

	// ReachedAt - когда текущее значение было достигнуто.
	// Используется для разрешения ничьих: раньше достиг - выше место.
	ReachedAt time.Time
}

// Clone создаёт копию записи.
func (e *Entry) Clone() *Entry {
	if e == nil {
		return nil
	}
	clone := *e
	return &clone
}

// String возвращает строковое представление для логирования.
func (e *Entry) String() string {
	return fmt.Sprintf("Entry{Rank: %d, StudentID: %s, Points: %d}", e.Rank, e.StudentID, e.Points)
}

// ══════════════════════════════════════════════════════════════════════════════
// RANKING (построение проекции)
// ══════════════════════════════════════════════════════════════════════════════

// Ranking строит отсортированный рейтинг из снимков счетов.
// Снимки берутся без блокировки пишущих операций: каждая сумма очков -
// единое консистентное чтение счёта, но рейтинг в целом eventually consistent.
type Ranking struct {
	entries []*Entry
	byID    map[string]*Entry
	optOut  map[string]bool
}

// NewRanking создаёт пустой рейтинг.
// optOut - студенты, исключённые из рейтинга по их настройкам
// (флаги поставляются внешним источником).
func NewRanking(optOut map[string]bool) *Ranking {
	return &Ranking{
		entries: make([]*Entry, 0),
		byID:    make(map[string]*Entry),
		optOut:  optOut,
	}
}

// Add добавляет запись в рейтинг (без автоматической сортировки).
// Записи студентов с опт-аутом молча пропускаются.
func (r *Ranking) Add(entry *Entry) error {
	if entry == nil {
		return ErrNilEntry
	}
	if entry.StudentID == "" {
		return ErrInvalidStudentID
	}
	if r.optOut[entry.StudentID] {
		return nil
	}
	if _, exists := r.byID[entry.StudentID]; exists {
		return ErrDuplicateStudent
	}

	r.entries = append(r.entries, entry)
	r.byID[entry.StudentID] = entry
	return nil
}

// Sort сортирует записи по убыванию очков и присваивает ранги.
// При равных очках выше тот, кто достиг суммы раньше; при полном
// равенстве порядок стабилизируется по StudentID.
func (r *Ranking) Sort() {
	sort.Slice(r.entries, func(i, j int) bool {
		a, b := r.entries[i], r.entries[j]
		if a.Points != b.Points {
			return a.Points > b.Points
		}
		if !a.ReachedAt.Equal(b.ReachedAt) {
			return a.ReachedAt.Before(b.ReachedAt)
		}
		return a.StudentID < b.StudentID
	})

	for i, entry := range r.entries {
		entry.Rank = Rank(i + 1)
	}
}

// GetByID возвращает запись по ID студента.
func (r *Ranking) GetByID(studentID string) *Entry {
	return r.byID[studentID]
}

// Top возвращает топ-N записей.
func (r *Ranking) Top(n int) []*Entry {
	if n <= 0 {
		return nil
	}
	if n > len(r.entries) {
		n = len(r.entries)
	}
	result := make([]*Entry, n)
	copy(result, r.entries[:n])
	return result
}

// All возвращает все записи.
func (r *Ranking) All() []*Entry {
	result := make([]*Entry, len(r.entries))
	copy(result, r.entries)
	return result
}

// Count возвращает общее количество записей.
func (r *Ranking) Count() int {
	return len(r.entries)
}

// ══════════════════════════════════════════════════════════════════════════════
// DOMAIN ERRORS
// ══════════════════════════════════════════════════════════════════════════════

var (
	// ErrInvalidStudentID - невалидный ID студента.
	ErrInvalidStudentID = errors.New("invalid student id: cannot be empty")

	// ErrNilEntry - попытка добавить nil запись.
	ErrNilEntry = errors.New("cannot add nil entry")

	// ErrDuplicateStudent - студент уже есть в рейтинге.
	ErrDuplicateStudent = errors.New("student already exists in ranking")

	// ErrEmptyLeaderboard - лидерборд пуст.
	ErrEmptyLeaderboard = errors.New("leaderboard is empty")
)
