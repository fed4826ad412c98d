// Package postgres implements the PostgreSQL persistence layer.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/spool-edu/progress-core/internal/domain/gamification"
	"github.com/spool-edu/progress-core/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// ACCOUNT REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// AccountRepository implements gamification.AccountRepository for PostgreSQL.
type AccountRepository struct {
	q Querier
}

// NewAccountRepository creates a new AccountRepository.
func NewAccountRepository(conn *Connection) *AccountRepository {
	return &AccountRepository{q: conn}
}

// accountRepoWithQuerier binds the repository to a transaction.
func accountRepoWithQuerier(q Querier) *AccountRepository {
	return &AccountRepository{q: q}
}

// Get returns the student's points account.
func (r *AccountRepository) Get(ctx context.Context, studentID shared.StudentID) (*gamification.Account, error) {
	query := `
		SELECT student_id, total_points, lifetime_points, total_reached_at, created_at, updated_at
		FROM points_accounts
		WHERE student_id = $1
	`

	account, err := scanAccount(r.q.QueryRow(ctx, query, studentID.String()))
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to get points account: %w", err)
	}

	return account, nil
}

// Save creates or updates an account.
func (r *AccountRepository) Save(ctx context.Context, account *gamification.Account) error {
	query := `
		INSERT INTO points_accounts (
			student_id, total_points, lifetime_points, total_reached_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (student_id) DO UPDATE SET
			total_points = EXCLUDED.total_points,
			lifetime_points = EXCLUDED.lifetime_points,
			total_reached_at = EXCLUDED.total_reached_at,
			updated_at = EXCLUDED.updated_at
	`

	_, err := r.q.Exec(ctx, query,
		account.StudentID.String(),
		account.TotalPoints.Int(),
		account.LifetimePoints.Int(),
		account.TotalReachedAt,
		account.CreatedAt,
		account.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save points account: %w", err)
	}

	return nil
}

// TopByPoints returns the highest accounts, ties broken by the earlier
// time the total was reached, then by student ID. limit <= 0 means all.
func (r *AccountRepository) TopByPoints(ctx context.Context, limit int) ([]*gamification.Account, error) {
	query := `
		SELECT student_id, total_points, lifetime_points, total_reached_at, created_at, updated_at
		FROM points_accounts
		ORDER BY total_points DESC, total_reached_at ASC, student_id ASC
	`

	args := []interface{}{}
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}

	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query top accounts: %w", err)
	}
	defer rows.Close()

	accounts := make([]*gamification.Account, 0)
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account row: %w", err)
		}
		accounts = append(accounts, account)
	}

	return accounts, rows.Err()
}

func scanAccount(row rowScanner) (*gamification.Account, error) {
	var (
		account  gamification.Account
		sid      string
		total    int
		lifetime int
	)

	err := row.Scan(
		&sid,
		&total,
		&lifetime,
		&account.TotalReachedAt,
		&account.CreatedAt,
		&account.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	account.StudentID = shared.StudentID(sid)
	account.TotalPoints = shared.Points(total)
	account.LifetimePoints = shared.Points(lifetime)

	return &account, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// LEDGER REPOSITORY IMPLEMENTATION
// Append-only by construction: the repository exposes no update or delete.
// ══════════════════════════════════════════════════════════════════════════════

// LedgerRepository implements gamification.LedgerRepository for PostgreSQL.
type LedgerRepository struct {
	q Querier
}

// NewLedgerRepository creates a new LedgerRepository.
func NewLedgerRepository(conn *Connection) *LedgerRepository {
	return &LedgerRepository{q: conn}
}

// ledgerRepoWithQuerier binds the repository to a transaction.
func ledgerRepoWithQuerier(q Querier) *LedgerRepository {
	return &LedgerRepository{q: q}
}

// Append adds an entry to the journal.
func (r *LedgerRepository) Append(ctx context.Context, entry *gamification.LedgerEntry) error {
	query := `
		INSERT INTO points_ledger (
			id, student_id, amount, reason, concept_id, badge_id, source_event_id, note, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := r.q.Exec(ctx, query,
		entry.ID,
		entry.StudentID.String(),
		entry.Amount,
		string(entry.Reason),
		entry.ConceptID.String(),
		entry.BadgeID,
		entry.SourceEventID,
		entry.Note,
		entry.CreatedAt,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return shared.ErrAlreadyExists
		}
		return fmt.Errorf("failed to append ledger entry: %w", err)
	}

	return nil
}

// ListByStudent returns the student's entries, newest first.
func (r *LedgerRepository) ListByStudent(ctx context.Context, studentID shared.StudentID, p shared.Pagination) ([]*gamification.LedgerEntry, error) {
	query := `
		SELECT id, student_id, amount, reason, concept_id, badge_id, source_event_id, note, created_at
		FROM points_ledger
		WHERE student_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.q.Query(ctx, query, studentID.String(), p.Limit(), p.Offset())
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger entries: %w", err)
	}
	defer rows.Close()

	entries := make([]*gamification.LedgerEntry, 0)
	for rows.Next() {
		var (
			entry     gamification.LedgerEntry
			sid       string
			reason    string
			conceptID string
		)
		err := rows.Scan(
			&entry.ID,
			&sid,
			&entry.Amount,
			&reason,
			&conceptID,
			&entry.BadgeID,
			&entry.SourceEventID,
			&entry.Note,
			&entry.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ledger row: %w", err)
		}

		entry.StudentID = shared.StudentID(sid)
		entry.Reason = gamification.Reason(reason)
		entry.ConceptID = shared.ConceptID(conceptID)
		entries = append(entries, &entry)
	}

	return entries, rows.Err()
}

// SumByStudent returns the exact sum of the student's entries.
func (r *LedgerRepository) SumByStudent(ctx context.Context, studentID shared.StudentID) (int, error) {
	query := `
		SELECT COALESCE(SUM(amount), 0)
		FROM points_ledger
		WHERE student_id = $1
	`

	var sum int
	if err := r.q.QueryRow(ctx, query, studentID.String()).Scan(&sum); err != nil {
		return 0, fmt.Errorf("failed to sum ledger entries: %w", err)
	}

	return sum, nil
}

// TotalsBetween returns per-student sums of entries in [from, to).
// A zero from means "since the beginning of time".
func (r *LedgerRepository) TotalsBetween(ctx context.Context, from, to time.Time) (map[string]int, error) {
	query := `
		SELECT student_id, SUM(amount)
		FROM points_ledger
		WHERE created_at < $1
	`

	args := []interface{}{to}
	if !from.IsZero() {
		query += " AND created_at >= $2"
		args = append(args, from)
	}
	query += " GROUP BY student_id"

	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger totals: %w", err)
	}
	defer rows.Close()

	totals := make(map[string]int)
	for rows.Next() {
		var (
			sid   string
			total int
		)
		if err := rows.Scan(&sid, &total); err != nil {
			return nil, fmt.Errorf("failed to scan totals row: %w", err)
		}
		totals[sid] = total
	}

	return totals, rows.Err()
}

// ══════════════════════════════════════════════════════════════════════════════
// STREAK REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// StreakRepository implements gamification.StreakRepository for PostgreSQL.
type StreakRepository struct {
	q Querier
}

// NewStreakRepository creates a new StreakRepository.
func NewStreakRepository(conn *Connection) *StreakRepository {
	return &StreakRepository{q: conn}
}

// streakRepoWithQuerier binds the repository to a transaction.
func streakRepoWithQuerier(q Querier) *StreakRepository {
	return &StreakRepository{q: q}
}

// Get returns the student's streak.
func (r *StreakRepository) Get(ctx context.Context, studentID shared.StudentID) (*gamification.Streak, error) {
	query := `
		SELECT student_id, current_streak, longest_streak,
			   last_activity_date, streak_started_date, total_active_days, updated_at
		FROM streaks
		WHERE student_id = $1
	`

	streak, err := scanStreak(r.q.QueryRow(ctx, query, studentID.String()))
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get streak: %w", err)
	}

	return streak, nil
}

// Save creates or updates a streak.
func (r *StreakRepository) Save(ctx context.Context, streak *gamification.Streak) error {
	query := `
		INSERT INTO streaks (
			student_id, current_streak, longest_streak,
			last_activity_date, streak_started_date, total_active_days, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (student_id) DO UPDATE SET
			current_streak = EXCLUDED.current_streak,
			longest_streak = EXCLUDED.longest_streak,
			last_activity_date = EXCLUDED.last_activity_date,
			streak_started_date = EXCLUDED.streak_started_date,
			total_active_days = EXCLUDED.total_active_days,
			updated_at = EXCLUDED.updated_at
	`

	_, err := r.q.Exec(ctx, query,
		streak.StudentID.String(),
		streak.CurrentStreak,
		streak.LongestStreak,
		timeToNullable(streak.LastActivityDate),
		timeToNullable(streak.StreakStartedDate),
		streak.TotalActiveDays,
		streak.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save streak: %w", err)
	}

	return nil
}

// TopByCurrent returns the longest current streaks. limit <= 0 means all.
func (r *StreakRepository) TopByCurrent(ctx context.Context, limit int) ([]*gamification.Streak, error) {
	query := `
		SELECT student_id, current_streak, longest_streak,
			   last_activity_date, streak_started_date, total_active_days, updated_at
		FROM streaks
		ORDER BY current_streak DESC, student_id ASC
	`

	args := []interface{}{}
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}

	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query top streaks: %w", err)
	}
	defer rows.Close()

	streaks := make([]*gamification.Streak, 0)
	for rows.Next() {
		streak, err := scanStreak(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan streak row: %w", err)
		}
		streaks = append(streaks, streak)
	}

	return streaks, rows.Err()
}

func scanStreak(row rowScanner) (*gamification.Streak, error) {
	var (
		streak       gamification.Streak
		sid          string
		lastActivity *time.Time
		startedDate  *time.Time
	)

	err := row.Scan(
		&sid,
		&streak.CurrentStreak,
		&streak.LongestStreak,
		&lastActivity,
		&startedDate,
		&streak.TotalActiveDays,
		&streak.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	streak.StudentID = shared.StudentID(sid)
	streak.LastActivityDate = nullableToTime(lastActivity)
	streak.StreakStartedDate = nullableToTime(startedDate)

	return &streak, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// BADGE REPOSITORY IMPLEMENTATION
// The unique constraint on (student_id, award_key) is the real idempotency
// guard: concurrent award attempts collapse into one row and the losers
// receive ErrBadgeAlreadyHeld.
// ══════════════════════════════════════════════════════════════════════════════

// BadgeRepository implements gamification.BadgeRepository for PostgreSQL.
type BadgeRepository struct {
	q Querier
}

// NewBadgeRepository creates a new BadgeRepository.
func NewBadgeRepository(conn *Connection) *BadgeRepository {
	return &BadgeRepository{q: conn}
}

// badgeRepoWithQuerier binds the repository to a transaction.
func badgeRepoWithQuerier(q Querier) *BadgeRepository {
	return &BadgeRepository{q: q}
}

// ListAwards returns all of the student's badge awards.
func (r *BadgeRepository) ListAwards(ctx context.Context, studentID shared.StudentID) ([]*gamification.BadgeAward, error) {
	query := `
		SELECT student_id, badge_id, period, awarded_at
		FROM badge_awards
		WHERE student_id = $1
		ORDER BY awarded_at DESC
	`

	rows, err := r.q.Query(ctx, query, studentID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to list badge awards: %w", err)
	}
	defer rows.Close()

	awards := make([]*gamification.BadgeAward, 0)
	for rows.Next() {
		var (
			award   gamification.BadgeAward
			sid     string
			badgeID string
		)
		if err := rows.Scan(&sid, &badgeID, &award.Period, &award.AwardedAt); err != nil {
			return nil, fmt.Errorf("failed to scan badge award row: %w", err)
		}

		award.StudentID = shared.StudentID(sid)
		award.BadgeID = gamification.BadgeID(badgeID)
		awards = append(awards, &award)
	}

	return awards, rows.Err()
}

// HasAward checks whether an award with the given uniqueness key exists.
func (r *BadgeRepository) HasAward(ctx context.Context, studentID shared.StudentID, key string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM badge_awards
			WHERE student_id = $1 AND award_key = $2
		)
	`

	var exists bool
	if err := r.q.QueryRow(ctx, query, studentID.String(), key).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check badge award: %w", err)
	}

	return exists, nil
}

// SaveAward records a badge award with compare-and-set semantics.
func (r *BadgeRepository) SaveAward(ctx context.Context, award *gamification.BadgeAward) error {
	query := `
		INSERT INTO badge_awards (student_id, badge_id, period, award_key, awarded_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := r.q.Exec(ctx, query,
		award.StudentID.String(),
		string(award.BadgeID),
		award.Period,
		award.Key(),
		award.AwardedAt,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return shared.ErrBadgeAlreadyHeld
		}
		return fmt.Errorf("failed to save badge award: %w", err)
	}

	return nil
}
