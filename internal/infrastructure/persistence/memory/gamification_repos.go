package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/spool-edu/progress-core/internal/domain/gamification"
	"github.com/spool-edu/progress-core/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// ACCOUNTS
// ══════════════════════════════════════════════════════════════════════════════

// AccountRepository is a map-based gamification.AccountRepository.
type AccountRepository struct {
	mu   sync.RWMutex
	data map[string]*gamification.Account
}

// NewAccountRepository creates an empty account repository.
func NewAccountRepository() *AccountRepository {
	return &AccountRepository{data: make(map[string]*gamification.Account)}
}

// Get returns a student's account.
func (r *AccountRepository) Get(ctx context.Context, studentID shared.StudentID) (*gamification.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.data[studentID.String()]
	if !ok {
		return nil, shared.ErrAccountNotFound
	}
	clone := *a
	return &clone, nil
}

// Save creates or replaces an account.
func (r *AccountRepository) Save(ctx context.Context, account *gamification.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	clone := *account
	r.data[account.StudentID.String()] = &clone
	return nil
}

// TopByPoints returns the highest accounts, ties broken by the earlier
// time the total was reached, then by student ID.
func (r *AccountRepository) TopByPoints(ctx context.Context, limit int) ([]*gamification.Account, error) {
	r.mu.RLock()
	all := make([]*gamification.Account, 0, len(r.data))
	for _, a := range r.data {
		clone := *a
		all = append(all, &clone)
	}
	r.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if all[i].TotalPoints != all[j].TotalPoints {
			return all[i].TotalPoints > all[j].TotalPoints
		}
		if !all[i].TotalReachedAt.Equal(all[j].TotalReachedAt) {
			return all[i].TotalReachedAt.Before(all[j].TotalReachedAt)
		}
		return all[i].StudentID < all[j].StudentID
	})

	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// LEDGER
// ══════════════════════════════════════════════════════════════════════════════

// LedgerRepository is a slice-based gamification.LedgerRepository.
type LedgerRepository struct {
	mu   sync.RWMutex
	data map[string][]*gamification.LedgerEntry
}

// NewLedgerRepository creates an empty ledger repository.
func NewLedgerRepository() *LedgerRepository {
	return &LedgerRepository{data: make(map[string][]*gamification.LedgerEntry)}
}

// Append adds an entry to the ledger.
func (r *LedgerRepository) Append(ctx context.Context, entry *gamification.LedgerEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	clone := *entry
	key := entry.StudentID.String()
	r.data[key] = append(r.data[key], &clone)
	return nil
}

// ListByStudent returns the student's entries, newest first.
func (r *LedgerRepository) ListByStudent(ctx context.Context, studentID shared.StudentID, p shared.Pagination) ([]*gamification.LedgerEntry, error) {
	r.mu.RLock()
	entries := r.data[studentID.String()]
	all := make([]*gamification.LedgerEntry, 0, len(entries))
	for _, e := range entries {
		clone := *e
		all = append(all, &clone)
	}
	r.mu.RUnlock()

	sort.SliceStable(all, func(i, j int) bool {
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})

	offset := p.Offset()
	if offset >= len(all) {
		return []*gamification.LedgerEntry{}, nil
	}
	all = all[offset:]
	if limit := p.Limit(); len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// SumByStudent returns the exact sum of the student's entries.
func (r *LedgerRepository) SumByStudent(ctx context.Context, studentID shared.StudentID) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sum := 0
	for _, e := range r.data[studentID.String()] {
		sum += e.Amount
	}
	return sum, nil
}

// TotalsBetween returns per-student sums of entries in [from, to).
func (r *LedgerRepository) TotalsBetween(ctx context.Context, from, to time.Time) (map[string]int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	totals := make(map[string]int)
	for student, entries := range r.data {
		for _, e := range entries {
			if !from.IsZero() && e.CreatedAt.Before(from) {
				continue
			}
			if !to.IsZero() && !e.CreatedAt.Before(to) {
				continue
			}
			totals[student] += e.Amount
		}
	}
	return totals, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// STREAKS
// ══════════════════════════════════════════════════════════════════════════════

// StreakRepository is a map-based gamification.StreakRepository.
type StreakRepository struct {
	mu   sync.RWMutex
	data map[string]*gamification.Streak
}

// NewStreakRepository creates an empty streak repository.
func NewStreakRepository() *StreakRepository {
	return &StreakRepository{data: make(map[string]*gamification.Streak)}
}

// Get returns a student's streak.
func (r *StreakRepository) Get(ctx context.Context, studentID shared.StudentID) (*gamification.Streak, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.data[studentID.String()]
	if !ok {
		return nil, shared.ErrNotFound
	}
	clone := *s
	return &clone, nil
}

// Save creates or replaces a streak.
func (r *StreakRepository) Save(ctx context.Context, streak *gamification.Streak) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	clone := *streak
	r.data[streak.StudentID.String()] = &clone
	return nil
}

// TopByCurrent returns the longest current streaks.
func (r *StreakRepository) TopByCurrent(ctx context.Context, limit int) ([]*gamification.Streak, error) {
	r.mu.RLock()
	all := make([]*gamification.Streak, 0, len(r.data))
	for _, s := range r.data {
		clone := *s
		all = append(all, &clone)
	}
	r.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if all[i].CurrentStreak != all[j].CurrentStreak {
			return all[i].CurrentStreak > all[j].CurrentStreak
		}
		return all[i].StudentID < all[j].StudentID
	})

	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// BADGES
// ══════════════════════════════════════════════════════════════════════════════

// BadgeRepository is a map-based gamification.BadgeRepository.
type BadgeRepository struct {
	mu     sync.RWMutex
	awards map[string][]*gamification.BadgeAward // studentID -> awards
	keys   map[string]struct{}                   // studentID + "/" + award key
}

// NewBadgeRepository creates an empty badge repository.
func NewBadgeRepository() *BadgeRepository {
	return &BadgeRepository{
		awards: make(map[string][]*gamification.BadgeAward),
		keys:   make(map[string]struct{}),
	}
}

// ListAwards returns every badge award of a student.
func (r *BadgeRepository) ListAwards(ctx context.Context, studentID shared.StudentID) ([]*gamification.BadgeAward, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := r.awards[studentID.String()]
	all := make([]*gamification.BadgeAward, 0, len(entries))
	for _, a := range entries {
		clone := *a
		all = append(all, &clone)
	}
	return all, nil
}

// HasAward checks whether the student holds an award with the given key.
func (r *BadgeRepository) HasAward(ctx context.Context, studentID shared.StudentID, key string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.keys[studentID.String()+"/"+key]
	return ok, nil
}

// SaveAward records a badge award, compare-and-set on the uniqueness key.
func (r *BadgeRepository) SaveAward(ctx context.Context, award *gamification.BadgeAward) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := award.StudentID.String() + "/" + award.Key()
	if _, exists := r.keys[key]; exists {
		return shared.ErrBadgeAlreadyHeld
	}
	clone := *award
	studentKey := award.StudentID.String()
	r.awards[studentKey] = append(r.awards[studentKey], &clone)
	r.keys[key] = struct{}{}
	return nil
}
