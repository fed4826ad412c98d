// Package redis implements Redis-backed caching and queueing.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spool-edu/progress-core/internal/domain/leaderboard"
)

// ══════════════════════════════════════════════════════════════════════════════
// LEADERBOARD CACHE
// Implements leaderboard.Cache. Each (board, timeframe) pair is one JSON
// blob under its own key: the projection is small and always read whole,
// so a sorted set would only add round trips.
// ══════════════════════════════════════════════════════════════════════════════

// LeaderboardCache caches leaderboard projections in Redis.
type LeaderboardCache struct {
	cache *Cache
}

// NewLeaderboardCache creates a leaderboard cache over an existing client.
func NewLeaderboardCache(cache *Cache) *LeaderboardCache {
	return &LeaderboardCache{cache: cache}
}

// cachedEntry is the wire form of a leaderboard entry.
type cachedEntry struct {
	Rank      int       `json:"rank"`
	StudentID string    `json:"student_id"`
	Points    int       `json:"points"`
	Level     string    `json:"level,omitempty"`
	ReachedAt time.Time `json:"reached_at"`
}

// GetTop returns the cached top-N, or nil on miss or expiry.
func (c *LeaderboardCache) GetTop(ctx context.Context, board leaderboard.Board, tf leaderboard.Timeframe, limit int) ([]*leaderboard.Entry, error) {
	var cached []cachedEntry
	err := c.cache.Get(ctx, topKey(board, tf), &cached)
	if err != nil {
		if errors.Is(err, ErrCacheMiss) {
			return nil, nil
		}
		return nil, err
	}

	if limit > 0 && len(cached) > limit {
		cached = cached[:limit]
	}

	entries := make([]*leaderboard.Entry, len(cached))
	for i, e := range cached {
		entries[i] = &leaderboard.Entry{
			Rank:      leaderboard.Rank(e.Rank),
			StudentID: e.StudentID,
			Points:    e.Points,
			Level:     e.Level,
			ReachedAt: e.ReachedAt,
		}
	}
	return entries, nil
}

// SetTop stores the top-N with a TTL.
func (c *LeaderboardCache) SetTop(ctx context.Context, board leaderboard.Board, tf leaderboard.Timeframe, entries []*leaderboard.Entry, ttl time.Duration) error {
	cached := make([]cachedEntry, len(entries))
	for i, e := range entries {
		cached[i] = cachedEntry{
			Rank:      int(e.Rank),
			StudentID: e.StudentID,
			Points:    e.Points,
			Level:     e.Level,
			ReachedAt: e.ReachedAt,
		}
	}

	return c.cache.Set(ctx, topKey(board, tf), cached, ttl)
}

// GetStudentRank returns the student's cached entry on the all-time board.
// Only students inside the cached top are visible here; callers fall back
// to a recompute when this returns nil.
func (c *LeaderboardCache) GetStudentRank(ctx context.Context, board leaderboard.Board, studentID string) (*leaderboard.Entry, error) {
	entries, err := c.GetTop(ctx, board, leaderboard.TimeframeAllTime, 0)
	if err != nil {
		return nil, err
	}

	for _, e := range entries {
		if e.StudentID == studentID {
			return e, nil
		}
	}
	return nil, nil
}

// Invalidate drops every cached timeframe of a board.
func (c *LeaderboardCache) Invalidate(ctx context.Context, board leaderboard.Board) error {
	return c.cache.DeleteByPattern(ctx, fmt.Sprintf("%stop:%s:*", PrefixLeaderboard, board))
}

// InvalidateAll drops the whole leaderboard cache.
func (c *LeaderboardCache) InvalidateAll(ctx context.Context) error {
	return c.cache.DeleteByPattern(ctx, PrefixLeaderboard+"top:*")
}

func topKey(board leaderboard.Board, tf leaderboard.Timeframe) string {
	return fmt.Sprintf("%stop:%s:%s", PrefixLeaderboard, board, tf)
}
