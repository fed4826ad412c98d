package memory

import (
	"context"
	"sync"

	"github.com/spool-edu/progress-core/internal/domain/learning"
	"github.com/spool-edu/progress-core/internal/domain/shared"
)

// EventRepository is a map-based learning.EventRepository.
type EventRepository struct {
	mu   sync.RWMutex
	data map[string]*learning.AppliedEvent // studentID + "/" + eventID
}

// NewEventRepository creates an empty processed-event repository.
func NewEventRepository() *EventRepository {
	return &EventRepository{data: make(map[string]*learning.AppliedEvent)}
}

// FindApplied returns the record of an already applied event.
func (r *EventRepository) FindApplied(ctx context.Context, studentID shared.StudentID, eventID string) (*learning.AppliedEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.data[appliedKey(studentID, eventID)]
	if !ok {
		return nil, shared.ErrNotFound
	}
	clone := *rec
	clone.Result = append([]byte(nil), rec.Result...)
	return &clone, nil
}

// MarkApplied records an applied event with its serialized result.
func (r *EventRepository) MarkApplied(ctx context.Context, record *learning.AppliedEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := appliedKey(record.StudentID, record.EventID)
	if _, exists := r.data[key]; exists {
		return shared.ErrAlreadyExists
	}
	clone := *record
	clone.Result = append([]byte(nil), record.Result...)
	r.data[key] = &clone
	return nil
}

func appliedKey(studentID shared.StudentID, eventID string) string {
	return studentID.String() + "/" + eventID
}
