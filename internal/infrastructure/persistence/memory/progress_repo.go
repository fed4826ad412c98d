package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/spool-edu/progress-core/internal/domain/learning"
	"github.com/spool-edu/progress-core/internal/domain/shared"
)

// ProgressRepository is a map-based learning.ProgressRepository.
type ProgressRepository struct {
	mu   sync.RWMutex
	data map[string]map[string]*learning.ConceptProgress // studentID -> conceptID -> progress
}

// NewProgressRepository creates an empty progress repository.
func NewProgressRepository() *ProgressRepository {
	return &ProgressRepository{data: make(map[string]map[string]*learning.ConceptProgress)}
}

// Get returns the progress for a student and concept.
func (r *ProgressRepository) Get(ctx context.Context, studentID shared.StudentID, conceptID shared.ConceptID) (*learning.ConceptProgress, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	byConcept, ok := r.data[studentID.String()]
	if !ok {
		return nil, shared.ErrProgressNotFound
	}
	p, ok := byConcept[conceptID.String()]
	if !ok {
		return nil, shared.ErrProgressNotFound
	}
	return cloneProgress(p), nil
}

// Save creates or replaces the progress record.
func (r *ProgressRepository) Save(ctx context.Context, progress *learning.ConceptProgress) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := progress.StudentID.String()
	if r.data[key] == nil {
		r.data[key] = make(map[string]*learning.ConceptProgress)
	}
	r.data[key][progress.ConceptID.String()] = cloneProgress(progress)
	return nil
}

// ListByStudent returns all progress of a student, filtered and paged.
func (r *ProgressRepository) ListByStudent(ctx context.Context, studentID shared.StudentID, opts learning.ListOptions) ([]*learning.ConceptProgress, error) {
	r.mu.RLock()
	result := make([]*learning.ConceptProgress, 0)
	for _, p := range r.data[studentID.String()] {
		if opts.OnlyStatus != "" && p.Status != opts.OnlyStatus {
			continue
		}
		result = append(result, cloneProgress(p))
	}
	r.mu.RUnlock()

	sortProgress(result, opts)

	if opts.Offset >= len(result) {
		return []*learning.ConceptProgress{}, nil
	}
	result = result[opts.Offset:]
	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}
	return result, nil
}

// ListBySubject returns the student's progress within one subject.
func (r *ProgressRepository) ListBySubject(ctx context.Context, studentID shared.StudentID, subjectID string) ([]*learning.ConceptProgress, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*learning.ConceptProgress, 0)
	for _, p := range r.data[studentID.String()] {
		if p.SubjectID == subjectID {
			result = append(result, cloneProgress(p))
		}
	}
	return result, nil
}

// CountMasteredBetween counts concepts mastered in [from, to).
func (r *ProgressRepository) CountMasteredBetween(ctx context.Context, studentID shared.StudentID, from, to time.Time) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for _, p := range r.data[studentID.String()] {
		if p.MasteredAt.IsZero() {
			continue
		}
		if !p.MasteredAt.Before(from) && p.MasteredAt.Before(to) {
			count++
		}
	}
	return count, nil
}

// CountDistinctSubjects counts subjects with at least one started concept.
func (r *ProgressRepository) CountDistinctSubjects(ctx context.Context, studentID shared.StudentID) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	subjects := make(map[string]struct{})
	for _, p := range r.data[studentID.String()] {
		if p.SubjectID != "" {
			subjects[p.SubjectID] = struct{}{}
		}
	}
	return len(subjects), nil
}

func sortProgress(list []*learning.ConceptProgress, opts learning.ListOptions) {
	less := func(a, b *learning.ConceptProgress) bool {
		switch opts.SortBy {
		case "concept_id":
			return a.ConceptID.String() < b.ConceptID.String()
		case "status":
			return a.Status.Rank() < b.Status.Rank()
		default: // last_accessed
			return a.LastAccessed.Before(b.LastAccessed)
		}
	}
	sort.SliceStable(list, func(i, j int) bool {
		if opts.SortDesc {
			return less(list[j], list[i])
		}
		return less(list[i], list[j])
	})
}

func cloneProgress(p *learning.ConceptProgress) *learning.ConceptProgress {
	c := *p
	if p.BestScore != nil {
		best := *p.BestScore
		c.BestScore = &best
	}
	if p.LastScore != nil {
		last := *p.LastScore
		c.LastScore = &last
	}
	return &c
}
