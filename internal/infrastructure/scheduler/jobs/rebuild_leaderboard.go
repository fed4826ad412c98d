// Package jobs contains implementations of scheduled jobs.
package jobs

import (
	"context"
	"errors"
	"fmt"

	"github.com/spool-edu/progress-core/internal/application/query"
	"github.com/spool-edu/progress-core/internal/domain/leaderboard"
	"github.com/spool-edu/progress-core/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// REBUILD LEADERBOARD JOB
// ══════════════════════════════════════════════════════════════════════════════

// rebuildLimit is how deep each board is warmed. It matches the maximum
// page size the query layer accepts, so any request within limits is a hit.
const rebuildLimit = 100

// RebuildLeaderboardJob recomputes every leaderboard projection and warms
// the cache. The leaderboard is a derived view, so a full rebuild is always
// safe: the job drops the cache and lets the query path repopulate it from
// the accounts, ledger and streak stores.
type RebuildLeaderboardJob struct {
	cache   leaderboard.Cache
	handler *query.GetLeaderboardHandler
	log     *logger.Logger
}

// NewRebuildLeaderboardJob creates a new RebuildLeaderboardJob.
func NewRebuildLeaderboardJob(cache leaderboard.Cache, handler *query.GetLeaderboardHandler, log *logger.Logger) *RebuildLeaderboardJob {
	return &RebuildLeaderboardJob{
		cache:   cache,
		handler: handler,
		log:     log.With(logger.Component("rebuild_leaderboard")),
	}
}

// Name returns the job name.
func (j *RebuildLeaderboardJob) Name() string {
	return "rebuild_leaderboard"
}

// Description returns a human-readable description.
func (j *RebuildLeaderboardJob) Description() string {
	return "Recomputes leaderboard projections and warms the cache"
}

// Run rebuilds every (board, timeframe) combination.
func (j *RebuildLeaderboardJob) Run(ctx context.Context) error {
	if err := j.cache.InvalidateAll(ctx); err != nil {
		j.log.Warn("failed to drop leaderboard cache before rebuild", logger.Err(err))
	}

	combos := []struct {
		board leaderboard.Board
		tf    leaderboard.Timeframe
	}{
		{leaderboard.BoardPoints, leaderboard.TimeframeDaily},
		{leaderboard.BoardPoints, leaderboard.TimeframeWeekly},
		{leaderboard.BoardPoints, leaderboard.TimeframeMonthly},
		{leaderboard.BoardPoints, leaderboard.TimeframeAllTime},
		{leaderboard.BoardStreak, leaderboard.TimeframeAllTime},
	}

	var errs []error
	rebuilt := 0
	for _, c := range combos {
		q := query.GetLeaderboardQuery{
			Board:     string(c.board),
			Timeframe: string(c.tf),
			Limit:     rebuildLimit,
		}

		result, err := j.handler.Handle(ctx, q)
		if err != nil {
			errs = append(errs, fmt.Errorf("rebuild %s/%s: %w", c.board, c.tf, err))
			continue
		}

		rebuilt++
		j.log.Debug("board rebuilt",
			logger.Board(string(c.board)),
			logger.String("timeframe", string(c.tf)),
			logger.Int("entries", len(result.Entries)),
		)
	}

	j.log.Info("leaderboard rebuild finished",
		logger.Int("boards_rebuilt", rebuilt),
		logger.Int("boards_failed", len(errs)),
	)

	return errors.Join(errs...)
}
