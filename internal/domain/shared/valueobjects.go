// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages.
package shared

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// ═══════════════════════════════════════════════════════════════════════════
// ID Value Objects
// ═══════════════════════════════════════════════════════════════════════════

// StudentID represents an opaque student identifier issued by the platform.
type StudentID string

// IsValid checks if the student ID is non-empty and within length limits.
func (s StudentID) IsValid() bool {
	return len(s) > 0 && len(s) <= 64
}

// String returns the string representation.
func (s StudentID) String() string {
	return string(s)
}

// IsEmpty checks if the ID is empty.
func (s StudentID) IsEmpty() bool {
	return s == ""
}

// NewStudentID creates a new StudentID with validation.
func NewStudentID(id string) (StudentID, error) {
	sid := StudentID(strings.TrimSpace(id))
	if !sid.IsValid() {
		return "", NewDomainError("shared", "NewStudentID", ErrInvalidID, "invalid student ID")
	}
	return sid, nil
}

// ConceptID represents a unique concept identifier.
type ConceptID string

// Concept ID format: subject-topic-number (e.g., "math-fractions-01").
var conceptIDRegex = regexp.MustCompile(`^[a-z][a-z0-9]*(-[a-z0-9]+)*$`)

// IsValid checks if the concept ID format is valid.
func (c ConceptID) IsValid() bool {
	s := string(c)
	return len(s) >= 2 && len(s) <= 64 && conceptIDRegex.MatchString(s)
}

// String returns the string representation.
func (c ConceptID) String() string {
	return string(c)
}

// Subject extracts the leading subject segment from the concept ID.
func (c ConceptID) Subject() string {
	parts := strings.Split(string(c), "-")
	if len(parts) > 0 {
		return parts[0]
	}
	return ""
}

// NewConceptID creates a new ConceptID with validation.
func NewConceptID(id string) (ConceptID, error) {
	cid := ConceptID(strings.ToLower(strings.TrimSpace(id)))
	if !cid.IsValid() {
		return "", NewDomainError("shared", "NewConceptID", ErrInvalidID, "invalid concept ID format")
	}
	return cid, nil
}

// ═══════════════════════════════════════════════════════════════════════════
// Score Value Object
// ═══════════════════════════════════════════════════════════════════════════

// Score represents a normalized assessment score in [0.0, 1.0].
type Score float64

const (
	MinScore Score = 0.0
	MaxScore Score = 1.0
)

// IsValid checks if the score is within valid range.
func (s Score) IsValid() bool {
	return s >= MinScore && s <= MaxScore
}

// Float64 returns the underlying float64 value.
func (s Score) Float64() float64 {
	return float64(s)
}

// IsPerfect returns true for a perfect score.
func (s Score) IsPerfect() bool {
	return s == MaxScore
}

// NewScore creates a new Score with validation.
func NewScore(value float64) (Score, error) {
	s := Score(value)
	if !s.IsValid() {
		return 0, ErrInvalidScore
	}
	return s, nil
}

// ═══════════════════════════════════════════════════════════════════════════
// Points Value Object
// ═══════════════════════════════════════════════════════════════════════════

// Points represents accumulated gamification points.
type Points int

// MaxPoints caps a single account total to guard against runaway awards.
const MaxPoints Points = 100000000

// IsValid checks if the points value is within valid range.
func (p Points) IsValid() bool {
	return p >= 0 && p <= MaxPoints
}

// Int returns the underlying int value.
func (p Points) Int() int {
	return int(p)
}

// Add adds points and returns the result, capped at MaxPoints.
func (p Points) Add(amount int) Points {
	result := Points(int(p) + amount)
	if result > MaxPoints {
		return MaxPoints
	}
	if result < 0 {
		return 0
	}
	return result
}

// NewPoints creates a new Points value with validation.
func NewPoints(amount int) (Points, error) {
	if amount < 0 {
		return 0, NewDomainError("shared", "NewPoints", ErrNegativeValue, "points cannot be negative")
	}
	return Points(amount), nil
}

// ═══════════════════════════════════════════════════════════════════════════
// TimeRange Value Object
// ═══════════════════════════════════════════════════════════════════════════

// TimeRange represents a time period.
type TimeRange struct {
	From time.Time
	To   time.Time
}

// IsValid checks if the time range is valid.
func (t TimeRange) IsValid() bool {
	return !t.From.IsZero() && !t.To.IsZero() && !t.From.After(t.To)
}

// Duration returns the duration of the time range.
func (t TimeRange) Duration() time.Duration {
	return t.To.Sub(t.From)
}

// Contains checks if a time is within the range.
func (t TimeRange) Contains(tm time.Time) bool {
	return (tm.Equal(t.From) || tm.After(t.From)) && (tm.Equal(t.To) || tm.Before(t.To))
}

// String returns a compact representation for logging.
func (t TimeRange) String() string {
	return fmt.Sprintf("[%s, %s]", t.From.Format(time.RFC3339), t.To.Format(time.RFC3339))
}

// NewTimeRange creates a new TimeRange with validation.
func NewTimeRange(from, to time.Time) (TimeRange, error) {
	tr := TimeRange{From: from, To: to}
	if !tr.IsValid() {
		return TimeRange{}, NewDomainError("shared", "NewTimeRange", ErrInvalidInput, "'from' must be before 'to'")
	}
	return tr, nil
}

// LastNDays returns a TimeRange for the last N days.
func LastNDays(n int) TimeRange {
	now := time.Now()
	return TimeRange{
		From: now.AddDate(0, 0, -n),
		To:   now,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Pagination Value Object
// ═══════════════════════════════════════════════════════════════════════════

// Pagination represents pagination parameters.
type Pagination struct {
	Page     int
	PageSize int
}

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Offset returns the offset for database queries.
func (p Pagination) Offset() int {
	if p.Page <= 0 {
		return 0
	}
	return (p.Page - 1) * p.Limit()
}

// Limit returns the limit for database queries.
func (p Pagination) Limit() int {
	if p.PageSize <= 0 {
		return DefaultPageSize
	}
	if p.PageSize > MaxPageSize {
		return MaxPageSize
	}
	return p.PageSize
}

// NewPagination creates a new Pagination with defaults.
func NewPagination(page, pageSize int) Pagination {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	return Pagination{Page: page, PageSize: pageSize}
}

// DefaultPagination returns default pagination.
func DefaultPagination() Pagination {
	return NewPagination(1, DefaultPageSize)
}
