package signals

import (
	"time"

	"github.com/spool-edu/progress-core/internal/domain/gamification"
	"github.com/spool-edu/progress-core/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// WIRE FORMATS
// ══════════════════════════════════════════════════════════════════════════════

// APIResponse is the feed's generic response envelope.
type APIResponse[T any] struct {
	Success bool   `json:"success"`
	Data    T      `json:"data"`
	Error   string `json:"error,omitempty"`
	Meta    *Meta  `json:"meta,omitempty"`
}

// Meta carries pagination metadata.
type Meta struct {
	Total      int `json:"total,omitempty"`
	Page       int `json:"page,omitempty"`
	PerPage    int `json:"per_page,omitempty"`
	TotalPages int `json:"total_pages,omitempty"`
}

// APIError is the feed's error body for 4xx/5xx responses.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return e.Message
}

// WeeklySignalDTO is one end-of-week record as the feed serves it.
// CompletionRatio is a pointer because the feed may legitimately not
// know it; absence must not be read as zero.
type WeeklySignalDTO struct {
	SignalID        string   `json:"signal_id"`
	StudentID       string   `json:"student_id"`
	WeekKey         string   `json:"week_key"`
	GoalMet         bool     `json:"goal_met"`
	CompletionRatio *float64 `json:"completion_ratio,omitempty"`
}

// ToDomain converts the wire record into the engine's signal type.
func (d WeeklySignalDTO) ToDomain() gamification.WeeklySignal {
	ratio := -1.0
	if d.CompletionRatio != nil {
		ratio = *d.CompletionRatio
	}
	return gamification.WeeklySignal{
		SignalID:        d.SignalID,
		StudentID:       shared.StudentID(d.StudentID),
		WeekKey:         d.WeekKey,
		GoalMet:         d.GoalMet,
		CompletionRatio: ratio,
	}
}

// SubjectDTO describes one subject's catalog entry.
type SubjectDTO struct {
	SubjectID    string `json:"subject_id"`
	Title        string `json:"title,omitempty"`
	ConceptCount int    `json:"concept_count"`
}

// PeerHelpSignalDTO is one peer-help record as the feed serves it.
type PeerHelpSignalDTO struct {
	SignalID        string    `json:"signal_id"`
	StudentID       string    `json:"student_id"`
	HelpedStudentID string    `json:"helped_student_id"`
	OccurredAt      time.Time `json:"occurred_at"`
}

// ToDomain converts the wire record into the engine's signal type.
func (d PeerHelpSignalDTO) ToDomain() gamification.PeerHelpSignal {
	return gamification.PeerHelpSignal{
		SignalID:        d.SignalID,
		StudentID:       shared.StudentID(d.StudentID),
		HelpedStudentID: shared.StudentID(d.HelpedStudentID),
		OccurredAt:      d.OccurredAt,
	}
}
