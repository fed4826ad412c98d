// Package postgres implements the PostgreSQL persistence layer.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/spool-edu/progress-core/internal/application/command"
	"github.com/spool-edu/progress-core/internal/domain/gamification"
	"github.com/spool-edu/progress-core/internal/domain/learning"
	"github.com/spool-edu/progress-core/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// UNIT OF WORK
// One transaction spans every repository an event touches, so either the
// whole outcome of an event commits or none of it does.
// ══════════════════════════════════════════════════════════════════════════════

// UnitOfWorkFactory creates pgx-backed units of work.
type UnitOfWorkFactory struct {
	conn *Connection
}

// NewUnitOfWorkFactory creates a new factory over the connection pool.
func NewUnitOfWorkFactory(conn *Connection) *UnitOfWorkFactory {
	return &UnitOfWorkFactory{conn: conn}
}

// Begin starts a new transaction and binds every repository to it.
func (f *UnitOfWorkFactory) Begin(ctx context.Context) (command.UnitOfWork, error) {
	tx, err := f.conn.BeginTx(ctx, DefaultTxOptions())
	if err != nil {
		return nil, err
	}

	return &unitOfWork{
		tx:       tx,
		progress: progressRepoWithQuerier(tx),
		events:   eventRepoWithQuerier(tx),
		accounts: accountRepoWithQuerier(tx),
		ledger:   ledgerRepoWithQuerier(tx),
		streaks:  streakRepoWithQuerier(tx),
		badges:   badgeRepoWithQuerier(tx),
	}, nil
}

type unitOfWork struct {
	tx       pgx.Tx
	progress *ProgressRepository
	events   *EventRepository
	accounts *AccountRepository
	ledger   *LedgerRepository
	streaks  *StreakRepository
	badges   *BadgeRepository
	done     bool
}

func (u *unitOfWork) Progress() learning.ProgressRepository    { return u.progress }
func (u *unitOfWork) Events() learning.EventRepository         { return u.events }
func (u *unitOfWork) Accounts() gamification.AccountRepository { return u.accounts }
func (u *unitOfWork) Ledger() gamification.LedgerRepository    { return u.ledger }
func (u *unitOfWork) Streaks() gamification.StreakRepository   { return u.streaks }
func (u *unitOfWork) Badges() gamification.BadgeRepository     { return u.badges }

// Commit commits the transaction. Timeouts and serialization conflicts
// are mapped onto the shared sentinels so callers can retry: event
// application is idempotent on event_id.
func (u *unitOfWork) Commit(ctx context.Context) error {
	if err := u.tx.Commit(ctx); err != nil {
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			return fmt.Errorf("%w: %w", shared.ErrPersistenceTimeout, err)
		case isSerializationFailure(err):
			return fmt.Errorf("%w: %w", shared.ErrTxConflict, err)
		}
		return err
	}
	u.done = true
	return nil
}

// isSerializationFailure reports SQLSTATE 40001 (serialization_failure)
// and 40P01 (deadlock_detected).
func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}

// Rollback rolls the transaction back. Safe to call after Commit: handlers
// keep it in a defer, so a no-op after a successful commit is expected.
func (u *unitOfWork) Rollback(ctx context.Context) error {
	if u.done {
		return nil
	}
	if err := u.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return err
	}
	return nil
}
