package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/spool-edu/progress-core/internal/domain/leaderboard"
)

// LeaderboardCache is an in-memory leaderboard.Cache with TTL semantics.
type LeaderboardCache struct {
	mu   sync.RWMutex
	tops map[string]cachedTop
	now  func() time.Time
}

type cachedTop struct {
	entries   []*leaderboard.Entry
	expiresAt time.Time
}

// NewLeaderboardCache creates an empty leaderboard cache.
func NewLeaderboardCache() *LeaderboardCache {
	return &LeaderboardCache{
		tops: make(map[string]cachedTop),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// GetTop returns the cached top-N, or nil on miss or expiry.
func (c *LeaderboardCache) GetTop(ctx context.Context, board leaderboard.Board, tf leaderboard.Timeframe, limit int) ([]*leaderboard.Entry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	cached, ok := c.tops[topKey(board, tf)]
	if !ok || c.now().After(cached.expiresAt) {
		return nil, nil
	}

	entries := cached.entries
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	out := make([]*leaderboard.Entry, len(entries))
	for i, e := range entries {
		out[i] = e.Clone()
	}
	return out, nil
}

// SetTop stores the top-N with a TTL.
func (c *LeaderboardCache) SetTop(ctx context.Context, board leaderboard.Board, tf leaderboard.Timeframe, entries []*leaderboard.Entry, ttl time.Duration) error {
	clones := make([]*leaderboard.Entry, len(entries))
	for i, e := range entries {
		clones[i] = e.Clone()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.tops[topKey(board, tf)] = cachedTop{entries: clones, expiresAt: c.now().Add(ttl)}
	return nil
}

// GetStudentRank returns the student's cached entry on the all-time board.
func (c *LeaderboardCache) GetStudentRank(ctx context.Context, board leaderboard.Board, studentID string) (*leaderboard.Entry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	cached, ok := c.tops[topKey(board, leaderboard.TimeframeAllTime)]
	if !ok || c.now().After(cached.expiresAt) {
		return nil, nil
	}
	for _, e := range cached.entries {
		if e.StudentID == studentID {
			return e.Clone(), nil
		}
	}
	return nil, nil
}

// Invalidate drops every cached timeframe of a board.
func (c *LeaderboardCache) Invalidate(ctx context.Context, board leaderboard.Board) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	prefix := string(board) + ":"
	for key := range c.tops {
		if strings.HasPrefix(key, prefix) {
			delete(c.tops, key)
		}
	}
	return nil
}

// InvalidateAll drops the whole cache.
func (c *LeaderboardCache) InvalidateAll(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tops = make(map[string]cachedTop)
	return nil
}

// WithClock replaces the cache clock. Tests only.
func (c *LeaderboardCache) WithClock(now func() time.Time) *LeaderboardCache {
	c.now = now
	return c
}

func topKey(board leaderboard.Board, tf leaderboard.Timeframe) string {
	return string(board) + ":" + string(tf)
}
