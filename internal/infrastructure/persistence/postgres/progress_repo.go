// Package postgres implements the PostgreSQL persistence layer.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/spool-edu/progress-core/internal/domain/learning"
	"github.com/spool-edu/progress-core/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESS REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

const progressColumns = `student_id, concept_id, subject_id, status, attempts,
	   best_score, last_score, total_time_spent_ms,
	   started_at, completed_at, mastered_at, last_accessed,
	   created_at, updated_at`

// ProgressRepository implements learning.ProgressRepository for PostgreSQL.
type ProgressRepository struct {
	q Querier
}

// NewProgressRepository creates a new ProgressRepository.
func NewProgressRepository(conn *Connection) *ProgressRepository {
	return &ProgressRepository{q: conn}
}

// progressRepoWithQuerier binds the repository to a transaction.
func progressRepoWithQuerier(q Querier) *ProgressRepository {
	return &ProgressRepository{q: q}
}

// Get returns the student's progress for a concept.
func (r *ProgressRepository) Get(ctx context.Context, studentID shared.StudentID, conceptID shared.ConceptID) (*learning.ConceptProgress, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM concept_progress
		WHERE student_id = $1 AND concept_id = $2
	`, progressColumns)

	row := r.q.QueryRow(ctx, query, studentID.String(), conceptID.String())

	progress, err := scanProgress(row)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrProgressNotFound
		}
		return nil, fmt.Errorf("failed to get concept progress: %w", err)
	}

	return progress, nil
}

// Save creates or updates a progress row.
func (r *ProgressRepository) Save(ctx context.Context, p *learning.ConceptProgress) error {
	query := `
		INSERT INTO concept_progress (
			student_id, concept_id, subject_id, status, attempts,
			best_score, last_score, total_time_spent_ms,
			started_at, completed_at, mastered_at, last_accessed,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (student_id, concept_id) DO UPDATE SET
			subject_id = EXCLUDED.subject_id,
			status = EXCLUDED.status,
			attempts = EXCLUDED.attempts,
			best_score = EXCLUDED.best_score,
			last_score = EXCLUDED.last_score,
			total_time_spent_ms = EXCLUDED.total_time_spent_ms,
			started_at = EXCLUDED.started_at,
			completed_at = EXCLUDED.completed_at,
			mastered_at = EXCLUDED.mastered_at,
			last_accessed = EXCLUDED.last_accessed,
			updated_at = EXCLUDED.updated_at
	`

	_, err := r.q.Exec(ctx, query,
		p.StudentID.String(),
		p.ConceptID.String(),
		p.SubjectID,
		string(p.Status),
		p.Attempts,
		scoreToNullable(p.BestScore),
		scoreToNullable(p.LastScore),
		p.TotalTimeSpent.Milliseconds(),
		timeToNullable(p.StartedAt),
		timeToNullable(p.CompletedAt),
		timeToNullable(p.MasteredAt),
		timeToNullable(p.LastAccessed),
		p.CreatedAt,
		p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save concept progress: %w", err)
	}

	return nil
}

// ListByStudent returns all of the student's progress rows.
func (r *ProgressRepository) ListByStudent(ctx context.Context, studentID shared.StudentID, opts learning.ListOptions) ([]*learning.ConceptProgress, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM concept_progress
		WHERE student_id = $1
	`, progressColumns)

	args := []interface{}{studentID.String()}
	if opts.OnlyStatus != "" {
		query += fmt.Sprintf(" AND status = $%d", len(args)+1)
		args = append(args, string(opts.OnlyStatus))
	}

	query += " ORDER BY " + progressOrderClause(opts)

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", len(args)+1)
		args = append(args, opts.Limit)
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", len(args)+1)
		args = append(args, opts.Offset)
	}

	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list concept progress: %w", err)
	}
	defer rows.Close()

	return scanProgressRows(rows)
}

// ListBySubject returns the student's progress within one subject.
func (r *ProgressRepository) ListBySubject(ctx context.Context, studentID shared.StudentID, subjectID string) ([]*learning.ConceptProgress, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM concept_progress
		WHERE student_id = $1 AND subject_id = $2
		ORDER BY concept_id
	`, progressColumns)

	rows, err := r.q.Query(ctx, query, studentID.String(), subjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list progress by subject: %w", err)
	}
	defer rows.Close()

	return scanProgressRows(rows)
}

// CountMasteredBetween counts concepts mastered in [from, to).
func (r *ProgressRepository) CountMasteredBetween(ctx context.Context, studentID shared.StudentID, from, to time.Time) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM concept_progress
		WHERE student_id = $1
		  AND mastered_at IS NOT NULL
		  AND mastered_at >= $2
		  AND mastered_at < $3
	`

	var count int
	if err := r.q.QueryRow(ctx, query, studentID.String(), from, to).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count mastered concepts: %w", err)
	}

	return count, nil
}

// CountDistinctSubjects counts subjects with at least one started concept.
func (r *ProgressRepository) CountDistinctSubjects(ctx context.Context, studentID shared.StudentID) (int, error) {
	query := `
		SELECT COUNT(DISTINCT subject_id)
		FROM concept_progress
		WHERE student_id = $1 AND subject_id != ''
	`

	var count int
	if err := r.q.QueryRow(ctx, query, studentID.String()).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count distinct subjects: %w", err)
	}

	return count, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────────────────────────────────────

// progressOrderClause maps ListOptions onto a whitelisted ORDER BY clause.
// Unknown sort fields fall back to last_accessed.
func progressOrderClause(opts learning.ListOptions) string {
	column := "last_accessed"
	switch opts.SortBy {
	case "concept_id", "subject_id", "attempts", "last_accessed", "updated_at":
		column = opts.SortBy
	case "status":
		// Order by progression rank, not alphabetically.
		column = `CASE status
			WHEN 'not_started' THEN 0
			WHEN 'started' THEN 1
			WHEN 'completed' THEN 2
			WHEN 'mastered' THEN 3
		END`
	}

	direction := "ASC"
	if opts.SortDesc {
		direction = "DESC"
	}

	// Secondary key keeps the order deterministic across equal values.
	return fmt.Sprintf("%s %s, concept_id ASC", column, direction)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanProgress(row rowScanner) (*learning.ConceptProgress, error) {
	var (
		p           learning.ConceptProgress
		studentID   string
		conceptID   string
		status      string
		bestScore   *float64
		lastScore   *float64
		totalMs     int64
		startedAt   *time.Time
		completedAt *time.Time
		masteredAt  *time.Time
		accessed    *time.Time
	)

	err := row.Scan(
		&studentID,
		&conceptID,
		&p.SubjectID,
		&status,
		&p.Attempts,
		&bestScore,
		&lastScore,
		&totalMs,
		&startedAt,
		&completedAt,
		&masteredAt,
		&accessed,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	p.StudentID = shared.StudentID(studentID)
	p.ConceptID = shared.ConceptID(conceptID)
	p.Status = learning.Status(status)
	p.BestScore = nullableToScore(bestScore)
	p.LastScore = nullableToScore(lastScore)
	p.TotalTimeSpent = time.Duration(totalMs) * time.Millisecond
	p.StartedAt = nullableToTime(startedAt)
	p.CompletedAt = nullableToTime(completedAt)
	p.MasteredAt = nullableToTime(masteredAt)
	p.LastAccessed = nullableToTime(accessed)

	return &p, nil
}

func scanProgressRows(rows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}) ([]*learning.ConceptProgress, error) {
	list := make([]*learning.ConceptProgress, 0)
	for rows.Next() {
		p, err := scanProgress(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan progress row: %w", err)
		}
		list = append(list, p)
	}
	return list, rows.Err()
}

func scoreToNullable(s *shared.Score) *float64 {
	if s == nil {
		return nil
	}
	v := s.Float64()
	return &v
}

func nullableToScore(v *float64) *shared.Score {
	if v == nil {
		return nil
	}
	s := shared.Score(*v)
	return &s
}

func timeToNullable(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func nullableToTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return t.UTC()
}
