package memory

import (
	"context"
	"sync"

	"github.com/spool-edu/progress-core/internal/domain/leaderboard"
)

// SubjectCatalog is a static gamification.SubjectCatalog backed by a map
// of subject -> concept count. Unknown subjects report zero.
type SubjectCatalog struct {
	mu     sync.RWMutex
	counts map[string]int
}

// NewSubjectCatalog creates a catalog from the given counts.
func NewSubjectCatalog(counts map[string]int) *SubjectCatalog {
	c := make(map[string]int, len(counts))
	for k, v := range counts {
		c[k] = v
	}
	return &SubjectCatalog{counts: c}
}

// ConceptCount returns the number of concepts in a subject.
func (c *SubjectCatalog) ConceptCount(ctx context.Context, subjectID string) (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.counts[subjectID], nil
}

// SetConceptCount updates the catalog.
func (c *SubjectCatalog) SetConceptCount(subjectID string, count int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[subjectID] = count
}

// OptOutProvider is a static leaderboard.OptOutProvider.
type OptOutProvider struct {
	mu     sync.RWMutex
	optOut map[string]bool
}

// NewOptOutProvider creates a provider from the given flags.
func NewOptOutProvider(optOut map[string]bool) *OptOutProvider {
	m := make(map[string]bool, len(optOut))
	for k, v := range optOut {
		m[k] = v
	}
	return &OptOutProvider{optOut: m}
}

// OptedOut returns the current opt-out flags.
func (p *OptOutProvider) OptedOut(ctx context.Context) (map[string]bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make(map[string]bool, len(p.optOut))
	for k, v := range p.optOut {
		out[k] = v
	}
	return out, nil
}

// SetOptOut updates a student's flag.
func (p *OptOutProvider) SetOptOut(studentID string, optedOut bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.optOut[studentID] = optedOut
}

var _ leaderboard.OptOutProvider = (*OptOutProvider)(nil)
