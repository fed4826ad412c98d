// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages.
package shared

import (
	"encoding/json"
	"time"
)

// EventType represents the type of domain event.
type EventType string

// Domain event types - these drive the event-driven architecture.
// Each event represents something significant that happened in the domain.
const (
	// Progress events
	EventProgressStatusChanged EventType = "progress.status_changed"
	EventProgressStarted       EventType = "progress.started"
	EventConceptMastered       EventType = "progress.concept_mastered"

	// Gamification events
	EventPointsAwarded  EventType = "gamification.points_awarded"
	EventLevelUp        EventType = "gamification.level_up"
	EventStreakAdvanced EventType = "gamification.streak_advanced"
	EventStreakBroken   EventType = "gamification.streak_broken"
	EventBadgeUnlocked  EventType = "gamification.badge_unlocked"
	EventWeeklyGoalMet  EventType = "gamification.weekly_goal_met"

	// Leaderboard events
	EventLeaderboardUpdated EventType = "leaderboard.updated"
	EventRankChanged        EventType = "leaderboard.rank_changed"

	// System events
	EventIngestRejected EventType = "system.ingest_rejected"
)

// Event is the base interface for all domain events.
type Event interface {
	// EventType returns the type of the event.
	EventType() EventType

	// OccurredAt returns when the event occurred.
	OccurredAt() time.Time

	// AggregateID returns the ID of the aggregate that produced this event.
	AggregateID() string

	// Payload returns the event data as a map for serialization.
	Payload() map[string]interface{}
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	Type          EventType `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	AggregateId   string    `json:"aggregate_id"`
	Version       int       `json:"version"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// EventType implements Event interface.
func (e BaseEvent) EventType() EventType {
	return e.Type
}

// OccurredAt implements Event interface.
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// AggregateID implements Event interface.
func (e BaseEvent) AggregateID() string {
	return e.AggregateId
}

// NewBaseEvent creates a new base event.
func NewBaseEvent(eventType EventType, aggregateID string) BaseEvent {
	return BaseEvent{
		Type:        eventType,
		Timestamp:   time.Now(),
		AggregateId: aggregateID,
		Version:     1,
	}
}

// WithCorrelationID sets the correlation ID for tracing.
func (e BaseEvent) WithCorrelationID(id string) BaseEvent {
	e.CorrelationID = id
	return e
}

// ═══════════════════════════════════════════════════════════════════════════
// Progress Events
// ═══════════════════════════════════════════════════════════════════════════

// ProgressStatusChangedEvent is emitted when a concept progress moves to a
// higher status (not_started -> in_progress -> completed -> mastered).
type ProgressStatusChangedEvent struct {
	BaseEvent
	StudentID  string `json:"student_id"`
	ConceptID  string `json:"concept_id"`
	SubjectID  string `json:"subject_id,omitempty"`
	FromStatus string `json:"from_status"`
	ToStatus   string `json:"to_status"`
}

// Payload implements Event interface.
func (e ProgressStatusChangedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"student_id":  e.StudentID,
		"concept_id":  e.ConceptID,
		"subject_id":  e.SubjectID,
		"from_status": e.FromStatus,
		"to_status":   e.ToStatus,
	}
}

// NewProgressStatusChangedEvent creates a new ProgressStatusChangedEvent.
func NewProgressStatusChangedEvent(studentID, conceptID, subjectID, from, to string) ProgressStatusChangedEvent {
	return ProgressStatusChangedEvent{
		BaseEvent:  NewBaseEvent(EventProgressStatusChanged, studentID),
		StudentID:  studentID,
		ConceptID:  conceptID,
		SubjectID:  subjectID,
		FromStatus: from,
		ToStatus:   to,
	}
}

// ConceptMasteredEvent is emitted when a concept reaches the mastered status.
type ConceptMasteredEvent struct {
	BaseEvent
	StudentID string  `json:"student_id"`
	ConceptID string  `json:"concept_id"`
	SubjectID string  `json:"subject_id,omitempty"`
	Score     float64 `json:"score"`
}

// Payload implements Event interface.
func (e ConceptMasteredEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"student_id": e.StudentID,
		"concept_id": e.ConceptID,
		"subject_id": e.SubjectID,
		"score":      e.Score,
	}
}

// NewConceptMasteredEvent creates a new ConceptMasteredEvent.
func NewConceptMasteredEvent(studentID, conceptID, subjectID string, score float64) ConceptMasteredEvent {
	return ConceptMasteredEvent{
		BaseEvent: NewBaseEvent(EventConceptMastered, studentID),
		StudentID: studentID,
		ConceptID: conceptID,
		SubjectID: subjectID,
		Score:     score,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Gamification Events
// ═══════════════════════════════════════════════════════════════════════════

// PointsAwardedEvent is emitted for every ledger entry written.
type PointsAwardedEvent struct {
	BaseEvent
	StudentID string `json:"student_id"`
	Amount    int    `json:"amount"`
	NewTotal  int    `json:"new_total"`
	Reason    string `json:"reason"`
	ConceptID string `json:"concept_id,omitempty"`
}

// Payload implements Event interface.
func (e PointsAwardedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"student_id": e.StudentID,
		"amount":     e.Amount,
		"new_total":  e.NewTotal,
		"reason":     e.Reason,
		"concept_id": e.ConceptID,
	}
}

// NewPointsAwardedEvent creates a new PointsAwardedEvent.
func NewPointsAwardedEvent(studentID string, amount, newTotal int, reason, conceptID string) PointsAwardedEvent {
	return PointsAwardedEvent{
		BaseEvent: NewBaseEvent(EventPointsAwarded, studentID),
		StudentID: studentID,
		Amount:    amount,
		NewTotal:  newTotal,
		Reason:    reason,
		ConceptID: conceptID,
	}
}

// LevelUpEvent is emitted when accumulated points cross a level threshold.
type LevelUpEvent struct {
	BaseEvent
	StudentID string `json:"student_id"`
	OldLevel  string `json:"old_level"`
	NewLevel  string `json:"new_level"`
	Total     int    `json:"total"`
}

// Payload implements Event interface.
func (e LevelUpEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"student_id": e.StudentID,
		"old_level":  e.OldLevel,
		"new_level":  e.NewLevel,
		"total":      e.Total,
	}
}

// NewLevelUpEvent creates a new LevelUpEvent.
func NewLevelUpEvent(studentID, oldLevel, newLevel string, total int) LevelUpEvent {
	return LevelUpEvent{
		BaseEvent: NewBaseEvent(EventLevelUp, studentID),
		StudentID: studentID,
		OldLevel:  oldLevel,
		NewLevel:  newLevel,
		Total:     total,
	}
}

// StreakAdvancedEvent is emitted when a student's daily streak grows.
type StreakAdvancedEvent struct {
	BaseEvent
	StudentID     string `json:"student_id"`
	CurrentStreak int    `json:"current_streak"`
	LongestStreak int    `json:"longest_streak"`
}

// Payload implements Event interface.
func (e StreakAdvancedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"student_id":     e.StudentID,
		"current_streak": e.CurrentStreak,
		"longest_streak": e.LongestStreak,
	}
}

// NewStreakAdvancedEvent creates a new StreakAdvancedEvent.
func NewStreakAdvancedEvent(studentID string, current, longest int) StreakAdvancedEvent {
	return StreakAdvancedEvent{
		BaseEvent:     NewBaseEvent(EventStreakAdvanced, studentID),
		StudentID:     studentID,
		CurrentStreak: current,
		LongestStreak: longest,
	}
}

// StreakBrokenEvent is emitted when a gap in activity resets the streak.
type StreakBrokenEvent struct {
	BaseEvent
	StudentID      string `json:"student_id"`
	PreviousStreak int    `json:"previous_streak"`
	DaysMissed     int    `json:"days_missed"`
}

// Payload implements Event interface.
func (e StreakBrokenEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"student_id":      e.StudentID,
		"previous_streak": e.PreviousStreak,
		"days_missed":     e.DaysMissed,
	}
}

// NewStreakBrokenEvent creates a new StreakBrokenEvent.
func NewStreakBrokenEvent(studentID string, previousStreak, daysMissed int) StreakBrokenEvent {
	return StreakBrokenEvent{
		BaseEvent:      NewBaseEvent(EventStreakBroken, studentID),
		StudentID:      studentID,
		PreviousStreak: previousStreak,
		DaysMissed:     daysMissed,
	}
}

// BadgeUnlockedEvent is emitted at most once per (student, badge) pair.
type BadgeUnlockedEvent struct {
	BaseEvent
	StudentID string `json:"student_id"`
	BadgeID   string `json:"badge_id"`
	BadgeName string `json:"badge_name"`
	Bonus     int    `json:"bonus"`
}

// Payload implements Event interface.
func (e BadgeUnlockedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"student_id": e.StudentID,
		"badge_id":   e.BadgeID,
		"badge_name": e.BadgeName,
		"bonus":      e.Bonus,
	}
}

// NewBadgeUnlockedEvent creates a new BadgeUnlockedEvent.
func NewBadgeUnlockedEvent(studentID, badgeID, badgeName string, bonus int) BadgeUnlockedEvent {
	return BadgeUnlockedEvent{
		BaseEvent: NewBaseEvent(EventBadgeUnlocked, studentID),
		StudentID: studentID,
		BadgeID:   badgeID,
		BadgeName: badgeName,
		Bonus:     bonus,
	}
}

// WeeklyGoalMetEvent is emitted when the external weekly-goal signal
// is applied to a student.
type WeeklyGoalMetEvent struct {
	BaseEvent
	StudentID string `json:"student_id"`
	WeekKey   string `json:"week_key"`
	Points    int    `json:"points"`
}

// Payload implements Event interface.
func (e WeeklyGoalMetEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"student_id": e.StudentID,
		"week_key":   e.WeekKey,
		"points":     e.Points,
	}
}

// NewWeeklyGoalMetEvent creates a new WeeklyGoalMetEvent.
func NewWeeklyGoalMetEvent(studentID, weekKey string, points int) WeeklyGoalMetEvent {
	return WeeklyGoalMetEvent{
		BaseEvent: NewBaseEvent(EventWeeklyGoalMet, studentID),
		StudentID: studentID,
		WeekKey:   weekKey,
		Points:    points,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Leaderboard Events
// ═══════════════════════════════════════════════════════════════════════════

// RankChangedEvent is emitted when a student's leaderboard rank changes.
type RankChangedEvent struct {
	BaseEvent
	StudentID  string `json:"student_id"`
	Board      string `json:"board"` // "points" or "streak"
	OldRank    int    `json:"old_rank"`
	NewRank    int    `json:"new_rank"`
	RankChange int    `json:"rank_change"` // Positive = moved up, Negative = moved down
}

// Payload implements Event interface.
func (e RankChangedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"student_id":  e.StudentID,
		"board":       e.Board,
		"old_rank":    e.OldRank,
		"new_rank":    e.NewRank,
		"rank_change": e.RankChange,
	}
}

// NewRankChangedEvent creates a new RankChangedEvent.
func NewRankChangedEvent(studentID, board string, oldRank, newRank int) RankChangedEvent {
	return RankChangedEvent{
		BaseEvent:  NewBaseEvent(EventRankChanged, studentID),
		StudentID:  studentID,
		Board:      board,
		OldRank:    oldRank,
		NewRank:    newRank,
		RankChange: oldRank - newRank, // Positive means moved up
	}
}

// MovedUp returns true if the student moved up in rank.
func (e RankChangedEvent) MovedUp() bool {
	return e.RankChange > 0
}

// ═══════════════════════════════════════════════════════════════════════════
// Event Envelope (for serialization and transport)
// ═══════════════════════════════════════════════════════════════════════════

// EventEnvelope wraps an event for transport/storage.
type EventEnvelope struct {
	ID            string          `json:"id"`
	Type          EventType       `json:"type"`
	AggregateID   string          `json:"aggregate_id"`
	Timestamp     time.Time       `json:"timestamp"`
	Version       int             `json:"version"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// EventHandler is a function that handles an event.
type EventHandler func(event Event) error

// EventPublisher defines the interface for publishing events.
type EventPublisher interface {
	// Publish sends an event to subscribers.
	Publish(event Event) error
}

// EventSubscriber defines the interface for subscribing to events.
type EventSubscriber interface {
	// Subscribe registers a handler for an event type.
	Subscribe(eventType EventType, handler EventHandler) error

	// SubscribeAll registers a handler for all events.
	SubscribeAll(handler EventHandler) error
}

// EventBus combines publishing and subscribing.
type EventBus interface {
	EventPublisher
	EventSubscriber
}
