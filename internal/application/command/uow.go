package command

import (
	"context"

	"github.com/spool-edu/progress-core/internal/domain/gamification"
	"github.com/spool-edu/progress-core/internal/domain/learning"
)

// ══════════════════════════════════════════════════════════════════════════════
// UNIT OF WORK
// One learning event touches progress, ledger, account, streak and badges.
// They either all commit or none do, so the transaction boundary spans
// both domain packages and lives here rather than in either of them.
// ══════════════════════════════════════════════════════════════════════════════

// UnitOfWork exposes every repository inside one transaction.
type UnitOfWork interface {
	// Progress returns the concept progress repository bound to the transaction.
	Progress() learning.ProgressRepository

	// Events returns the processed-event (dedup) repository bound to the transaction.
	Events() learning.EventRepository

	// Accounts returns the points account repository bound to the transaction.
	Accounts() gamification.AccountRepository

	// Ledger returns the points ledger repository bound to the transaction.
	Ledger() gamification.LedgerRepository

	// Streaks returns the streak repository bound to the transaction.
	Streaks() gamification.StreakRepository

	// Badges returns the badge award repository bound to the transaction.
	Badges() gamification.BadgeRepository

	// Commit commits the transaction.
	Commit(ctx context.Context) error

	// Rollback rolls the transaction back. Safe to call after Commit.
	Rollback(ctx context.Context) error
}

// UnitOfWorkFactory creates units of work.
type UnitOfWorkFactory interface {
	// Begin starts a new transaction.
	Begin(ctx context.Context) (UnitOfWork, error)
}
