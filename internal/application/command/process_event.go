// Package command contains write operations (CQRS - Commands).
package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/spool-edu/progress-core/internal/domain/gamification"
	"github.com/spool-edu/progress-core/internal/domain/learning"
	"github.com/spool-edu/progress-core/internal/domain/shared"
	"github.com/spool-edu/progress-core/pkg/keymutex"
	"github.com/spool-edu/progress-core/pkg/logger"
	"github.com/spool-edu/progress-core/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// PROCESS EVENT COMMAND
// The entry point of the whole engine: takes one raw learning event and
// drives it through validation, dedup, the progress state machine, points,
// streaks and badges inside a single transaction. Replays of an already
// processed event_id return the stored result without side effects.
// ══════════════════════════════════════════════════════════════════════════════

// ProcessEventCommand carries one raw learning event.
type ProcessEventCommand struct {
	// Raw is the unvalidated event as received from the transport.
	Raw learning.RawEvent

	// CorrelationID for tracing.
	CorrelationID string
}

// Validate performs the cheap structural checks. Full validation and
// normalization happen in the learning domain.
func (c ProcessEventCommand) Validate() error {
	if c.Raw.EventID == "" {
		return fmt.Errorf("process_event: %w: event_id is required", shared.ErrInvalidEvent)
	}
	if c.Raw.StudentID == "" {
		return fmt.Errorf("process_event: %w", shared.ErrMissingStudentID)
	}
	return nil
}

// ProcessEventResult is the outcome of processing one event. It is stored
// serialized in the processed-event table, so a replay returns exactly the
// totals the first run produced, not recomputed ones.
type ProcessEventResult struct {
	// EventID is the processed event's ID.
	EventID string `json:"event_id"`

	// StudentID is the student the event belongs to.
	StudentID string `json:"student_id"`

	// ConceptID is the concept the event belongs to.
	ConceptID string `json:"concept_id"`

	// Duplicate reports that this event_id was already processed and the
	// rest of the result is the stored outcome of the first run.
	Duplicate bool `json:"duplicate"`

	// PreviousStatus is the concept status before the event.
	PreviousStatus string `json:"previous_status"`

	// NewStatus is the concept status after the event.
	NewStatus string `json:"new_status"`

	// StatusChanged reports whether the status moved forward.
	StatusChanged bool `json:"status_changed"`

	// PointsAwarded is the total points credited by this event.
	PointsAwarded int `json:"points_awarded"`

	// TotalPoints is the account total after the event.
	TotalPoints int `json:"total_points"`

	// Level is the account level after the event.
	Level string `json:"level"`

	// LevelUp reports whether the event pushed the account to a new level.
	LevelUp bool `json:"level_up"`

	// CurrentStreak is the streak length after the event.
	CurrentStreak int `json:"current_streak"`

	// StreakAdvanced reports whether the streak was extended by one day.
	StreakAdvanced bool `json:"streak_advanced"`

	// StreakBroken reports whether the streak was reset by a gap.
	StreakBroken bool `json:"streak_broken"`

	// StreakStale reports an out-of-order activity date: the event was
	// applied to progress and points but did not touch the streak.
	StreakStale bool `json:"streak_stale"`

	// BadgesUnlocked lists badges awarded by this event.
	BadgesUnlocked []string `json:"badges_unlocked,omitempty"`

	// ProcessedAt is when the event was processed.
	ProcessedAt time.Time `json:"processed_at"`

	// Events contains domain events generated. Not part of the stored
	// result: replays do not republish.
	Events []shared.Event `json:"-"`
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// ProcessEventHandler handles the ProcessEventCommand.
type ProcessEventHandler struct {
	uowFactory UnitOfWorkFactory
	catalog    gamification.SubjectCatalog
	rules      *gamification.RuleEngine
	publisher  shared.EventPublisher
	locks      *keymutex.KeyMutex
	log        *logger.Logger

	schedule          gamification.AwardSchedule
	loc               *time.Location
	speedBonusEnabled bool

	now func() time.Time
}

// ProcessEventHandlerConfig contains configuration for the handler.
type ProcessEventHandlerConfig struct {
	// Schedule is the award table. Zero value means defaults.
	Schedule gamification.AwardSchedule

	// Location defines calendar day and week boundaries for streaks
	// and daily badge windows. Nil means UTC.
	Location *time.Location

	// SpeedBonusEnabled gates the mastery speed bonus.
	SpeedBonusEnabled bool
}

// NewProcessEventHandler creates a new ProcessEventHandler.
func NewProcessEventHandler(
	uowFactory UnitOfWorkFactory,
	catalog gamification.SubjectCatalog,
	publisher shared.EventPublisher,
	log *logger.Logger,
	config ProcessEventHandlerConfig,
) *ProcessEventHandler {
	if config.Schedule == (gamification.AwardSchedule{}) {
		config.Schedule = gamification.DefaultAwardSchedule()
	}
	if config.Location == nil {
		config.Location = timeutil.DefaultLocation()
	}

	return &ProcessEventHandler{
		uowFactory:        uowFactory,
		catalog:           catalog,
		rules:             gamification.NewRuleEngine(),
		publisher:         publisher,
		locks:             keymutex.New(),
		log:               log.With(logger.Component("process_event")),
		schedule:          config.Schedule,
		loc:               config.Location,
		speedBonusEnabled: config.SpeedBonusEnabled,
		now:               func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the handler's clock. Tests only.
func (h *ProcessEventHandler) WithClock(now func() time.Time) *ProcessEventHandler {
	h.now = now
	return h
}

// WithLocks shares one per-student lock set across every handler that
// writes the account. Handlers serialize against themselves by default;
// only a shared set serializes the event path against manual awards and
// signal applications for the same student.
func (h *ProcessEventHandler) WithLocks(locks *keymutex.KeyMutex) *ProcessEventHandler {
	h.locks = locks
	return h
}

// Handle executes the process event command.
func (h *ProcessEventHandler) Handle(ctx context.Context, cmd ProcessEventCommand) (*ProcessEventResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	now := h.now()

	ev, err := learning.Normalize(cmd.Raw, now)
	if err != nil {
		h.log.Warn("event rejected",
			logger.EventID(cmd.Raw.EventID),
			logger.StudentID(cmd.Raw.StudentID),
			logger.Err(err))
		return nil, err
	}

	// Events of one student are processed strictly one at a time.
	// Different students proceed in parallel.
	studentKey := ev.StudentID.String()
	h.locks.Lock(studentKey)
	defer h.locks.Unlock(studentKey)

	uow, err := h.uowFactory.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("process_event: begin transaction: %w", err)
	}
	defer uow.Rollback(ctx)

	// Dedup: a replayed event_id returns the result of the first run.
	if stored, err := uow.Events().FindApplied(ctx, ev.StudentID, ev.EventID); err == nil {
		var result ProcessEventResult
		if err := json.Unmarshal(stored.Result, &result); err != nil {
			return nil, fmt.Errorf("process_event: corrupt stored result for event %s: %w", ev.EventID, err)
		}
		result.Duplicate = true
		h.log.Debug("duplicate event", logger.EventID(ev.EventID), logger.StudentID(studentKey))
		return &result, nil
	} else if !shared.IsNotFound(err) {
		return nil, fmt.Errorf("process_event: dedup lookup: %w", err)
	}

	result := &ProcessEventResult{
		EventID:     ev.EventID,
		StudentID:   studentKey,
		ConceptID:   ev.ConceptID.String(),
		ProcessedAt: now,
	}

	// 1. Progress state machine.
	progress, err := uow.Progress().Get(ctx, ev.StudentID, ev.ConceptID)
	if err != nil {
		if !shared.IsNotFound(err) {
			return nil, fmt.Errorf("process_event: load progress: %w", err)
		}
		progress = learning.NewConceptProgress(ev.StudentID, ev.ConceptID, ev.SubjectID)
	}

	applied := progress.Apply(ev)
	if err := uow.Progress().Save(ctx, progress); err != nil {
		return nil, fmt.Errorf("process_event: save progress: %w", err)
	}

	result.PreviousStatus = applied.From.String()
	result.NewStatus = applied.To.String()
	result.StatusChanged = applied.StatusChanged

	if applied.StatusChanged {
		result.Events = append(result.Events, shared.NewProgressStatusChangedEvent(
			studentKey, result.ConceptID, ev.SubjectID, result.PreviousStatus, result.NewStatus))
	}
	if applied.MasteredNow {
		score := 0.0
		if ev.Score != nil {
			score = ev.Score.Float64()
		}
		result.Events = append(result.Events, shared.NewConceptMasteredEvent(
			studentKey, result.ConceptID, ev.SubjectID, score))
	}

	// 2. Points.
	account, err := uow.Accounts().Get(ctx, ev.StudentID)
	if err != nil {
		if !shared.IsNotFound(err) {
			return nil, fmt.Errorf("process_event: load account: %w", err)
		}
		account = gamification.NewAccount(ev.StudentID)
	}
	oldLevel := account.Level()

	credit := func(amount int, reason gamification.Reason, badgeID string) error {
		entry := &gamification.LedgerEntry{
			ID:            uuid.NewString(),
			StudentID:     ev.StudentID,
			Amount:        amount,
			Reason:        reason,
			ConceptID:     ev.ConceptID,
			BadgeID:       badgeID,
			SourceEventID: ev.EventID,
			CreatedAt:     now,
		}
		if err := uow.Ledger().Append(ctx, entry); err != nil {
			return fmt.Errorf("process_event: append ledger entry: %w", err)
		}
		account.Credit(amount, now)
		result.PointsAwarded += amount
		result.Events = append(result.Events, shared.NewPointsAwardedEvent(
			studentKey, amount, account.TotalPoints.Int(), string(reason), result.ConceptID))
		return nil
	}

	// Repeated events at the same or lower status update statistics but
	// never pay again: points follow status transitions only.
	if applied.StatusChanged {
		if amount, reason := h.schedule.ForTransition(result.NewStatus); amount > 0 {
			if err := credit(amount, reason, ""); err != nil {
				return nil, err
			}
		}
		if applied.PerfectScore && h.schedule.PerfectBonus > 0 {
			if err := credit(h.schedule.PerfectBonus, gamification.ReasonPerfectScoreBonus, ""); err != nil {
				return nil, err
			}
		}
		if h.speedBonusEnabled && applied.MasteredNow &&
			ev.TimeSpent > 0 && ev.TimeSpent < h.schedule.SpeedThreshold {
			if err := credit(h.schedule.SpeedBonus, gamification.ReasonSpeedBonus, ""); err != nil {
				return nil, err
			}
		}
	}

	// 3. Streak.
	streak, err := uow.Streaks().Get(ctx, ev.StudentID)
	if err != nil {
		if !shared.IsNotFound(err) {
			return nil, fmt.Errorf("process_event: load streak: %w", err)
		}
		streak = gamification.NewStreak(ev.StudentID)
	}

	previousStreak := streak.CurrentStreak
	delta, streakErr := streak.Advance(ev.ActivityDate(h.loc))
	switch {
	case errors.Is(streakErr, shared.ErrStaleActivity):
		// Backdated events still count for progress and points, they
		// just cannot rewrite streak history.
		result.StreakStale = true
	case streakErr != nil:
		return nil, fmt.Errorf("process_event: advance streak: %w", streakErr)
	case delta.Changed():
		if err := uow.Streaks().Save(ctx, streak); err != nil {
			return nil, fmt.Errorf("process_event: save streak: %w", err)
		}
	}

	result.CurrentStreak = streak.CurrentStreak
	result.StreakAdvanced = delta.Advanced
	result.StreakBroken = delta.Broken

	if delta.Advanced {
		if h.schedule.DailyStreak > 0 {
			if err := credit(h.schedule.DailyStreak, gamification.ReasonDailyStreak, ""); err != nil {
				return nil, err
			}
		}
		result.Events = append(result.Events, shared.NewStreakAdvancedEvent(
			studentKey, delta.Current, delta.Longest))
	}
	if delta.Broken {
		result.Events = append(result.Events, shared.NewStreakBrokenEvent(
			studentKey, previousStreak, delta.DaysMissed))
	}

	// 4. Badges.
	snapshot, err := h.buildSnapshot(ctx, uow, ev, applied, streak)
	if err != nil {
		return nil, err
	}
	held, err := heldAwards(ctx, uow, ev.StudentID)
	if err != nil {
		return nil, fmt.Errorf("process_event: list badge awards: %w", err)
	}

	for _, pending := range h.rules.Evaluate(snapshot, held) {
		award := &gamification.BadgeAward{
			StudentID: ev.StudentID,
			BadgeID:   pending.Badge.ID,
			Period:    pending.Period,
			AwardedAt: now,
		}
		if err := uow.Badges().SaveAward(ctx, award); err != nil {
			if errors.Is(err, shared.ErrBadgeAlreadyHeld) {
				continue
			}
			return nil, fmt.Errorf("process_event: save badge award: %w", err)
		}
		if pending.Badge.Points > 0 {
			if err := credit(pending.Badge.Points, gamification.ReasonBadgeUnlocked, string(pending.Badge.ID)); err != nil {
				return nil, err
			}
		}
		result.BadgesUnlocked = append(result.BadgesUnlocked, string(pending.Badge.ID))
		result.Events = append(result.Events, shared.NewBadgeUnlockedEvent(
			studentKey, string(pending.Badge.ID), pending.Badge.Name, pending.Badge.Points))
	}

	// 5. Finalize account.
	if result.PointsAwarded != 0 {
		if err := uow.Accounts().Save(ctx, account); err != nil {
			return nil, fmt.Errorf("process_event: save account: %w", err)
		}
	}
	result.TotalPoints = account.TotalPoints.Int()
	result.Level = account.Level().String()
	if newLevel := account.Level(); newLevel != oldLevel {
		result.LevelUp = true
		result.Events = append(result.Events, shared.NewLevelUpEvent(
			studentKey, oldLevel.String(), newLevel.String(), result.TotalPoints))
	}

	// 6. Record the processed event with its serialized result.
	payload, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("process_event: marshal result: %w", err)
	}
	if err := uow.Events().MarkApplied(ctx, &learning.AppliedEvent{
		EventID:   ev.EventID,
		StudentID: ev.StudentID,
		Result:    payload,
		AppliedAt: now,
	}); err != nil {
		return nil, fmt.Errorf("process_event: mark applied: %w", err)
	}

	if err := uow.Commit(ctx); err != nil {
		return nil, fmt.Errorf("process_event: commit: %w", err)
	}

	// Publish only after commit: subscribers must never observe state
	// that can still be rolled back.
	for _, event := range result.Events {
		if err := h.publisher.Publish(event); err != nil {
			// State is already committed: a lost notification degrades
			// projections, not data. Log it and move on.
			h.log.Error("failed to publish event",
				logger.String("event_type", string(event.EventType())),
				logger.StudentID(result.StudentID),
				logger.Err(err))
		}
	}

	h.log.Info("event processed",
		logger.EventID(ev.EventID),
		logger.StudentID(studentKey),
		logger.ConceptID(result.ConceptID),
		logger.Points(result.PointsAwarded),
		logger.Bool("status_changed", result.StatusChanged))

	return result, nil
}

// buildSnapshot aggregates the student state the badge rules evaluate.
// Called after the event is fully applied, so the counts include it.
func (h *ProcessEventHandler) buildSnapshot(
	ctx context.Context,
	uow UnitOfWork,
	ev learning.LearningEvent,
	applied learning.ApplyResult,
	streak *gamification.Streak,
) (gamification.Snapshot, error) {
	snap := gamification.Snapshot{
		StudentID:             ev.StudentID,
		CurrentStreak:         streak.CurrentStreak,
		WeekKey:               timeutil.WeekKey(ev.OccurredAt, h.loc),
		WeeklyCompletionRatio: -1, // unknown on the event path
	}

	dayStart := timeutil.StartOfDay(ev.OccurredAt, h.loc)
	mastered, err := uow.Progress().CountMasteredBetween(ctx, ev.StudentID, dayStart, dayStart.AddDate(0, 0, 1))
	if err != nil {
		return snap, fmt.Errorf("process_event: count mastered today: %w", err)
	}
	snap.MasteredToday = mastered

	subjects, err := uow.Progress().CountDistinctSubjects(ctx, ev.StudentID)
	if err != nil {
		return snap, fmt.Errorf("process_event: count subjects: %w", err)
	}
	snap.SubjectsStarted = subjects

	// Only a fresh mastery can complete a subject, and only the event's
	// own subject is affected.
	if applied.MasteredNow && ev.SubjectID != "" {
		total, err := h.catalog.ConceptCount(ctx, ev.SubjectID)
		if err != nil {
			return snap, fmt.Errorf("process_event: subject catalog: %w", err)
		}
		if total > 0 {
			list, err := uow.Progress().ListBySubject(ctx, ev.StudentID, ev.SubjectID)
			if err != nil {
				return snap, fmt.Errorf("process_event: list subject progress: %w", err)
			}
			masteredInSubject := 0
			for _, p := range list {
				if p.IsMastered() {
					masteredInSubject++
				}
			}
			if masteredInSubject >= total {
				snap.CompletedSubjects = []string{ev.SubjectID}
			}
		}
	}

	return snap, nil
}

// heldAwards returns the uniqueness keys of every badge the student holds.
func heldAwards(ctx context.Context, uow UnitOfWork, studentID shared.StudentID) (map[string]bool, error) {
	awards, err := uow.Badges().ListAwards(ctx, studentID)
	if err != nil {
		return nil, err
	}
	held := make(map[string]bool, len(awards))
	for _, a := range awards {
		held[a.Key()] = true
	}
	return held, nil
}
