package gamification

import (
	"time"

	"github.com/spool-edu/progress-core/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// STREAK (серия активных календарных дней)
// ══════════════════════════════════════════════════════════════════════════════

// Streak - серия последовательных календарных дней с хотя бы одним
// квалифицирующим событием. Серия движется только вперёд по датам:
// максимальная виденная дата активности - единственный водитель состояния,
// задним числом серия никогда не пересчитывается.
type Streak struct {
	// StudentID - идентификатор студента.
	StudentID shared.StudentID

	// CurrentStreak - текущая длина серии в днях.
	CurrentStreak int

	// LongestStreak - максимальная длина серии за всё время.
	LongestStreak int

	// LastActivityDate - календарная дата последней активности
	// (полночь, без компоненты времени).
	LastActivityDate time.Time

	// StreakStartedDate - дата начала текущей серии.
	StreakStartedDate time.Time

	// TotalActiveDays - общее число активных дней за всё время.
	TotalActiveDays int

	// UpdatedAt - время последнего изменения.
	UpdatedAt time.Time
}

// NewStreak создаёт пустой трекер серии.
func NewStreak(studentID shared.StudentID) *Streak {
	return &Streak{
		StudentID: studentID,
		UpdatedAt: time.Now().UTC(),
	}
}

// StreakDelta - результат применения активности к серии.
type StreakDelta struct {
	// Advanced - серия продлена (+1 день); такие дни дают очки.
	Advanced bool

	// Started - зафиксирован первый активный день студента.
	Started bool

	// Broken - был разрыв, серия сброшена до 1.
	Broken bool

	// DaysMissed - сколько дней пропущено перед сбросом.
	DaysMissed int

	// Current - длина серии после применения.
	Current int

	// Longest - максимальная серия после применения.
	Longest int
}

// Changed возвращает true, если применение изменило состояние серии.
func (d StreakDelta) Changed() bool {
	return d.Advanced || d.Started || d.Broken
}

// Advance применяет активность за календарную дату date.
// Правила:
//   - та же дата, что и LastActivityDate - без изменений;
//   - дата на день позже - серия продлевается;
//   - дата позже более чем на день - серия сбрасывается до 1;
//   - дата раньше LastActivityDate - состояние не меняется,
//     возвращается ErrStaleActivity (статистику событие всё равно
//     пополняет, но серию задним числом не трогает).
func (s *Streak) Advance(date time.Time) (StreakDelta, error) {
	day := truncateToDay(date)

	if s.LastActivityDate.IsZero() {
		s.CurrentStreak = 1
		if s.LongestStreak < 1 {
			s.LongestStreak = 1
		}
		s.LastActivityDate = day
		s.StreakStartedDate = day
		s.TotalActiveDays = 1
		s.UpdatedAt = time.Now().UTC()
		return StreakDelta{Started: true, Current: 1, Longest: s.LongestStreak}, nil
	}

	daysDiff := daysApart(s.LastActivityDate, day)

	switch {
	case daysDiff == 0:
		return StreakDelta{Current: s.CurrentStreak, Longest: s.LongestStreak}, nil

	case daysDiff == 1:
		s.CurrentStreak++
		if s.CurrentStreak > s.LongestStreak {
			s.LongestStreak = s.CurrentStreak
		}
		s.TotalActiveDays++
		s.LastActivityDate = day
		s.UpdatedAt = time.Now().UTC()
		return StreakDelta{Advanced: true, Current: s.CurrentStreak, Longest: s.LongestStreak}, nil

	case daysDiff > 1:
		missed := daysDiff - 1
		s.CurrentStreak = 1
		s.StreakStartedDate = day
		s.TotalActiveDays++
		s.LastActivityDate = day
		s.UpdatedAt = time.Now().UTC()
		return StreakDelta{Broken: true, DaysMissed: missed, Current: 1, Longest: s.LongestStreak}, nil

	default:
		// Событие пришло задним числом: серию не пересчитываем.
		return StreakDelta{Current: s.CurrentStreak, Longest: s.LongestStreak}, shared.ErrStaleActivity
	}
}

// IsBrokenAsOf проверяет, сломана ли серия на указанный момент
// (вчерашний день пропущен).
func (s *Streak) IsBrokenAsOf(now time.Time) bool {
	if s.LastActivityDate.IsZero() {
		return false
	}
	return daysApart(s.LastActivityDate, now) > 1
}

// truncateToDay отбрасывает компоненту времени, сохраняя таймзону.
func truncateToDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// daysApart считает разницу календарных дат. Даты переносятся в UTC,
// где сутки всегда 24 часа: деление на часы в локальной зоне теряет
// день при переходе на летнее время (23-часовые сутки).
func daysApart(a, b time.Time) int {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	da := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	db := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)
	return int(db.Sub(da).Hours() / 24)
}
