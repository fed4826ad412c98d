package query

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spool-edu/progress-core/internal/domain/gamification"
	"github.com/spool-edu/progress-core/internal/domain/leaderboard"
	"github.com/spool-edu/progress-core/internal/domain/shared"
	"github.com/spool-edu/progress-core/pkg/circuitbreaker"
	"github.com/spool-edu/progress-core/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET LEADERBOARD QUERY
// Лидерборд - пересчитываемая проекция: строится из счетов/журнала/серий
// на каждый промах кеша. Кеш читается через circuit breaker, и любой его
// отказ деградирует до пересчёта, а не до ошибки запроса.
// ══════════════════════════════════════════════════════════════════════════════

// leaderboardCacheTTL - время жизни закешированного топа.
const leaderboardCacheTTL = time.Minute

// GetLeaderboardQuery содержит параметры запроса лидерборда.
type GetLeaderboardQuery struct {
	// Board - вид рейтинга: "points" или "streak".
	Board string

	// Timeframe - интервал агрегации: "daily", "weekly", "monthly", "all".
	// Применим только к рейтингу по очкам.
	Timeframe string

	// Limit - размер топа (по умолчанию 20, максимум 100).
	Limit int

	// StudentID - если задан, в ответ включается позиция этого студента,
	// даже когда он не попал в топ. Такой запрос всегда пересчитывает
	// рейтинг, минуя кеш.
	StudentID string
}

// Validate проверяет корректность параметров запроса.
func (q *GetLeaderboardQuery) Validate() error {
	if q.Board == "" {
		q.Board = string(leaderboard.BoardPoints)
	}
	if !leaderboard.Board(q.Board).IsValid() {
		return fmt.Errorf("unknown board %q", q.Board)
	}

	if q.Timeframe == "" {
		q.Timeframe = string(leaderboard.TimeframeAllTime)
	}
	if !leaderboard.Timeframe(q.Timeframe).IsValid() {
		return shared.ErrInvalidTimeframe
	}

	// Рейтинг серий не имеет интервалов: серия уже "текущая" по определению.
	if leaderboard.Board(q.Board) == leaderboard.BoardStreak &&
		leaderboard.Timeframe(q.Timeframe) != leaderboard.TimeframeAllTime {
		return shared.ErrInvalidTimeframe
	}

	if q.Limit < 0 {
		return errors.New("limit cannot be negative")
	}
	if q.Limit == 0 {
		q.Limit = 20
	}
	if q.Limit > 100 {
		q.Limit = 100
	}

	return nil
}

// LeaderboardEntryDTO - одна строка лидерборда.
type LeaderboardEntryDTO struct {
	// Rank - позиция в рейтинге (с 1).
	Rank int `json:"rank"`

	// StudentID - идентификатор студента.
	StudentID string `json:"student_id"`

	// Points - сумма очков, либо длина серии для рейтинга серий.
	Points int `json:"points"`

	// Level - уровень студента.
	Level string `json:"level,omitempty"`
}

// GetLeaderboardResult содержит результат запроса лидерборда.
type GetLeaderboardResult struct {
	// Board - вид рейтинга.
	Board string `json:"board"`

	// Timeframe - интервал агрегации.
	Timeframe string `json:"timeframe"`

	// Entries - топ рейтинга.
	Entries []LeaderboardEntryDTO `json:"entries"`

	// Me - позиция запрошенного студента (nil, если StudentID не задан
	// или студент отсутствует в рейтинге).
	Me *LeaderboardEntryDTO `json:"me,omitempty"`

	// Total - общее число участников рейтинга (0 при ответе из кеша).
	Total int `json:"total"`

	// FromCache - ответ отдан из кеша без пересчёта.
	FromCache bool `json:"from_cache"`

	// GeneratedAt - время генерации результата.
	GeneratedAt time.Time `json:"generated_at"`
}

// GetLeaderboardHandler обрабатывает запросы лидерборда.
type GetLeaderboardHandler struct {
	accounts gamification.AccountRepository
	ledger   gamification.LedgerRepository
	streaks  gamification.StreakRepository
	cache    leaderboard.Cache
	optOut   leaderboard.OptOutProvider
	breaker  *circuitbreaker.Breaker
	log      *logger.Logger
	now      func() time.Time
}

// NewGetLeaderboardHandler создаёт новый обработчик.
// cache и optOut могут быть nil: без кеша каждый запрос пересчитывает
// рейтинг, без провайдера опт-аутов никто не скрывается.
func NewGetLeaderboardHandler(
	accounts gamification.AccountRepository,
	ledger gamification.LedgerRepository,
	streaks gamification.StreakRepository,
	cache leaderboard.Cache,
	optOut leaderboard.OptOutProvider,
	log *logger.Logger,
) *GetLeaderboardHandler {
	h := &GetLeaderboardHandler{
		accounts: accounts,
		ledger:   ledger,
		streaks:  streaks,
		cache:    cache,
		optOut:   optOut,
		log:      log.With(logger.Component("get_leaderboard")),
		now:      func() time.Time { return time.Now().UTC() },
	}
	h.breaker = circuitbreaker.ForCache("leaderboard-cache", func(name string, from, to circuitbreaker.State) {
		h.log.Warn("cache breaker state changed",
			logger.String("breaker", name),
			logger.String("from", from.String()),
			logger.String("to", to.String()),
		)
	})
	return h
}

// WithClock подменяет источник времени (для тестов).
func (h *GetLeaderboardHandler) WithClock(now func() time.Time) *GetLeaderboardHandler {
	h.now = now
	return h
}

// Handle выполняет запрос.
func (h *GetLeaderboardHandler) Handle(ctx context.Context, q GetLeaderboardQuery) (*GetLeaderboardResult, error) {
	if err := q.Validate(); err != nil {
		return nil, fmt.Errorf("get_leaderboard: %w", err)
	}

	board := leaderboard.Board(q.Board)
	tf := leaderboard.Timeframe(q.Timeframe)

	// Персональный запрос нельзя отдать из усечённого топа.
	if q.StudentID == "" {
		if cached := h.readCache(ctx, board, tf, q.Limit); cached != nil {
			return h.toResult(q, cached, nil, 0, true), nil
		}
	}

	ranking, err := h.compute(ctx, board, tf)
	if err != nil {
		return nil, fmt.Errorf("get_leaderboard: %w", err)
	}

	top := ranking.Top(q.Limit)
	h.fillLevels(ctx, board, tf, top)
	h.writeCache(ctx, board, tf, top)

	var me *leaderboard.Entry
	if q.StudentID != "" {
		me = ranking.GetByID(q.StudentID)
		if me != nil {
			h.fillLevels(ctx, board, tf, []*leaderboard.Entry{me})
		}
	}

	return h.toResult(q, top, me, ranking.Count(), false), nil
}

// compute строит полный рейтинг из источника истины.
func (h *GetLeaderboardHandler) compute(ctx context.Context, board leaderboard.Board, tf leaderboard.Timeframe) (*leaderboard.Ranking, error) {
	optedOut := h.optedOut(ctx)
	ranking := leaderboard.NewRanking(optedOut)

	switch {
	case board == leaderboard.BoardStreak:
		streaks, err := h.streaks.TopByCurrent(ctx, 0)
		if err != nil {
			return nil, fmt.Errorf("load streaks: %w", err)
		}
		for _, s := range streaks {
			if s.CurrentStreak <= 0 {
				continue
			}
			if err := ranking.Add(&leaderboard.Entry{
				StudentID: s.StudentID.String(),
				Points:    s.CurrentStreak,
				ReachedAt: s.UpdatedAt,
			}); err != nil {
				return nil, err
			}
		}

	case tf == leaderboard.TimeframeAllTime:
		accounts, err := h.accounts.TopByPoints(ctx, 0)
		if err != nil {
			return nil, fmt.Errorf("load accounts: %w", err)
		}
		for _, a := range accounts {
			if a.TotalPoints.Int() <= 0 {
				continue
			}
			if err := ranking.Add(&leaderboard.Entry{
				StudentID: a.StudentID.String(),
				Points:    a.TotalPoints.Int(),
				Level:     a.Level().String(),
				ReachedAt: a.TotalReachedAt,
			}); err != nil {
				return nil, err
			}
		}

	default:
		now := h.now()
		totals, err := h.ledger.TotalsBetween(ctx, tf.Since(now), now)
		if err != nil {
			return nil, fmt.Errorf("aggregate ledger: %w", err)
		}
		for studentID, points := range totals {
			if points <= 0 {
				continue
			}
			if err := ranking.Add(&leaderboard.Entry{
				StudentID: studentID,
				Points:    points,
			}); err != nil {
				return nil, err
			}
		}
	}

	ranking.Sort()
	return ranking, nil
}

// fillLevels проставляет уровни записям, построенным без счёта под рукой.
func (h *GetLeaderboardHandler) fillLevels(ctx context.Context, board leaderboard.Board, tf leaderboard.Timeframe, entries []*leaderboard.Entry) {
	// Рейтинг по очкам за всё время несёт уровень с самого построения.
	if board == leaderboard.BoardPoints && tf == leaderboard.TimeframeAllTime {
		return
	}
	for _, e := range entries {
		if e.Level != "" {
			continue
		}
		account, err := h.accounts.Get(ctx, shared.StudentID(e.StudentID))
		if err != nil {
			e.Level = gamification.LevelNovice.String()
			continue
		}
		e.Level = account.Level().String()
	}
}

// optedOut загружает флаги скрытых студентов; отказ провайдера не валит
// запрос - рейтинг строится без фильтрации.
func (h *GetLeaderboardHandler) optedOut(ctx context.Context) map[string]bool {
	if h.optOut == nil {
		return nil
	}
	flags, err := h.optOut.OptedOut(ctx)
	if err != nil {
		h.log.Warn("opt-out provider failed, ranking everyone", logger.Err(err))
		return nil
	}
	return flags
}

// readCache пытается прочитать топ из кеша через circuit breaker.
// Любая ошибка трактуется как промах.
func (h *GetLeaderboardHandler) readCache(ctx context.Context, board leaderboard.Board, tf leaderboard.Timeframe, limit int) []*leaderboard.Entry {
	if h.cache == nil {
		return nil
	}

	var entries []*leaderboard.Entry
	err := h.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		entries, err = h.cache.GetTop(ctx, board, tf, limit)
		return err
	})
	if err != nil {
		if !errors.Is(err, circuitbreaker.ErrCircuitOpen) {
			h.log.Warn("leaderboard cache read failed",
				logger.Board(string(board)),
				logger.Err(err),
			)
		}
		return nil
	}
	if len(entries) < limit {
		// Усечённый кеш мог быть записан меньшим лимитом - пересчитываем.
		return nil
	}
	return entries
}

// writeCache сохраняет свежий топ; отказ кеша только логируется.
func (h *GetLeaderboardHandler) writeCache(ctx context.Context, board leaderboard.Board, tf leaderboard.Timeframe, entries []*leaderboard.Entry) {
	if h.cache == nil || len(entries) == 0 {
		return
	}
	err := h.breaker.Execute(ctx, func(ctx context.Context) error {
		return h.cache.SetTop(ctx, board, tf, entries, leaderboardCacheTTL)
	})
	if err != nil && !errors.Is(err, circuitbreaker.ErrCircuitOpen) {
		h.log.Warn("leaderboard cache write failed",
			logger.Board(string(board)),
			logger.Err(err),
		)
	}
}

func (h *GetLeaderboardHandler) toResult(q GetLeaderboardQuery, top []*leaderboard.Entry, me *leaderboard.Entry, total int, fromCache bool) *GetLeaderboardResult {
	result := &GetLeaderboardResult{
		Board:       q.Board,
		Timeframe:   q.Timeframe,
		Entries:     make([]LeaderboardEntryDTO, 0, len(top)),
		Total:       total,
		FromCache:   fromCache,
		GeneratedAt: h.now(),
	}
	for _, e := range top {
		result.Entries = append(result.Entries, toLeaderboardEntryDTO(e))
	}
	if me != nil {
		dto := toLeaderboardEntryDTO(me)
		result.Me = &dto
	}
	return result
}

func toLeaderboardEntryDTO(e *leaderboard.Entry) LeaderboardEntryDTO {
	return LeaderboardEntryDTO{
		Rank:      int(e.Rank),
		StudentID: e.StudentID,
		Points:    e.Points,
		Level:     e.Level,
	}
}
