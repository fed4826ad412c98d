// Package memory provides map-based implementations of every repository
// interface. Used by tests and by the worker in dev mode when Postgres
// and Redis are disabled.
package memory

import (
	"context"

	"github.com/spool-edu/progress-core/internal/application/command"
	"github.com/spool-edu/progress-core/internal/domain/gamification"
	"github.com/spool-edu/progress-core/internal/domain/learning"
)

// Store owns the in-memory state behind all repositories. A single Store
// backs one logical database; repositories obtained from it share data.
type Store struct {
	progress *ProgressRepository
	events   *EventRepository
	accounts *AccountRepository
	ledger   *LedgerRepository
	streaks  *StreakRepository
	badges   *BadgeRepository
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		progress: NewProgressRepository(),
		events:   NewEventRepository(),
		accounts: NewAccountRepository(),
		ledger:   NewLedgerRepository(),
		streaks:  NewStreakRepository(),
		badges:   NewBadgeRepository(),
	}
}

// Progress returns the progress repository.
func (s *Store) Progress() *ProgressRepository { return s.progress }

// Events returns the processed-event repository.
func (s *Store) Events() *EventRepository { return s.events }

// Accounts returns the account repository.
func (s *Store) Accounts() *AccountRepository { return s.accounts }

// Ledger returns the ledger repository.
func (s *Store) Ledger() *LedgerRepository { return s.ledger }

// Streaks returns the streak repository.
func (s *Store) Streaks() *StreakRepository { return s.streaks }

// Badges returns the badge repository.
func (s *Store) Badges() *BadgeRepository { return s.badges }

// ══════════════════════════════════════════════════════════════════════════════
// UNIT OF WORK
// In-memory units of work write through immediately: Commit and Rollback
// are no-ops. Good enough for tests and dev mode, where the per-student
// lock in the dispatcher already serializes writers.
// ══════════════════════════════════════════════════════════════════════════════

type unitOfWork struct {
	store *Store
}

func (u *unitOfWork) Progress() learning.ProgressRepository    { return u.store.progress }
func (u *unitOfWork) Events() learning.EventRepository         { return u.store.events }
func (u *unitOfWork) Accounts() gamification.AccountRepository { return u.store.accounts }
func (u *unitOfWork) Ledger() gamification.LedgerRepository    { return u.store.ledger }
func (u *unitOfWork) Streaks() gamification.StreakRepository   { return u.store.streaks }
func (u *unitOfWork) Badges() gamification.BadgeRepository     { return u.store.badges }
func (u *unitOfWork) Commit(ctx context.Context) error         { return nil }
func (u *unitOfWork) Rollback(ctx context.Context) error       { return nil }

// UnitOfWorkFactory implements command.UnitOfWorkFactory over the store.
type UnitOfWorkFactory struct {
	store *Store
}

// NewUnitOfWorkFactory creates a factory bound to the store.
func NewUnitOfWorkFactory(store *Store) *UnitOfWorkFactory {
	return &UnitOfWorkFactory{store: store}
}

// Begin starts a new unit of work.
func (f *UnitOfWorkFactory) Begin(ctx context.Context) (command.UnitOfWork, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &unitOfWork{store: f.store}, nil
}
