// Package postgres implements the PostgreSQL persistence layer.
package postgres

import (
	"context"
	"fmt"

	"github.com/spool-edu/progress-core/internal/domain/learning"
	"github.com/spool-edu/progress-core/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// EVENT REPOSITORY IMPLEMENTATION
// Deduplication records live in their own table so the dedup check is a
// single primary-key lookup on the hot path.
// ══════════════════════════════════════════════════════════════════════════════

// EventRepository implements learning.EventRepository for PostgreSQL.
type EventRepository struct {
	q Querier
}

// NewEventRepository creates a new EventRepository.
func NewEventRepository(conn *Connection) *EventRepository {
	return &EventRepository{q: conn}
}

// eventRepoWithQuerier binds the repository to a transaction.
func eventRepoWithQuerier(q Querier) *EventRepository {
	return &EventRepository{q: q}
}

// FindApplied returns the record of an applied event.
func (r *EventRepository) FindApplied(ctx context.Context, studentID shared.StudentID, eventID string) (*learning.AppliedEvent, error) {
	query := `
		SELECT student_id, event_id, result, applied_at
		FROM processed_events
		WHERE student_id = $1 AND event_id = $2
	`

	var (
		record learning.AppliedEvent
		sid    string
	)
	err := r.q.QueryRow(ctx, query, studentID.String(), eventID).Scan(
		&sid,
		&record.EventID,
		&record.Result,
		&record.AppliedAt,
	)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrNotFound
		}
		return nil, fmt.Errorf("failed to find applied event: %w", err)
	}

	record.StudentID = shared.StudentID(sid)
	return &record, nil
}

// MarkApplied records an applied event together with its result.
// A concurrent insert of the same event_id surfaces as ErrAlreadyExists,
// which makes the caller re-read the stored result instead of double-applying.
func (r *EventRepository) MarkApplied(ctx context.Context, record *learning.AppliedEvent) error {
	query := `
		INSERT INTO processed_events (student_id, event_id, result, applied_at)
		VALUES ($1, $2, $3, $4)
	`

	_, err := r.q.Exec(ctx, query,
		record.StudentID.String(),
		record.EventID,
		record.Result,
		record.AppliedAt,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return shared.ErrAlreadyExists
		}
		return fmt.Errorf("failed to mark event applied: %w", err)
	}

	return nil
}
