package command

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spool-edu/progress-core/internal/domain/learning"
	"github.com/spool-edu/progress-core/internal/domain/shared"
)

// Manual awards and external signals share the processed-event store with
// learning events: a signal ID is deduplicated exactly like an event ID.

// unmarshalStored decodes a stored result of a previous run.
func unmarshalStored(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("corrupt stored result: %w", err)
	}
	return nil
}

// markAndCommit stores the serialized result under (studentID, dedupID)
// and commits the unit of work.
func markAndCommit(ctx context.Context, uow UnitOfWork, studentID shared.StudentID, dedupID string, result any, now time.Time) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	if err := uow.Events().MarkApplied(ctx, &learning.AppliedEvent{
		EventID:   dedupID,
		StudentID: studentID,
		Result:    payload,
		AppliedAt: now,
	}); err != nil {
		return fmt.Errorf("mark applied: %w", err)
	}
	if err := uow.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
