package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/spool-edu/progress-core/internal/domain/gamification"
	"github.com/spool-edu/progress-core/internal/domain/shared"
	"github.com/spool-edu/progress-core/pkg/keymutex"
	"github.com/spool-edu/progress-core/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// APPLY WEEKLY SIGNALS COMMAND
// Consumes the external end-of-week signals: the weekly-goal flag pays the
// weekly goal points, the completion ratio drives the Perfect Week badge.
// The two are independent inputs - neither is ever derived from the other.
// Idempotent per signal ID.
// ══════════════════════════════════════════════════════════════════════════════

// ApplyWeeklySignalsCommand carries one weekly signal.
type ApplyWeeklySignalsCommand struct {
	Signal gamification.WeeklySignal
}

// Validate validates the command.
func (c ApplyWeeklySignalsCommand) Validate() error {
	if c.Signal.SignalID == "" {
		return fmt.Errorf("apply_weekly_signals: %w: signal_id is required", shared.ErrInvalidInput)
	}
	if c.Signal.StudentID.IsEmpty() {
		return fmt.Errorf("apply_weekly_signals: %w", shared.ErrMissingStudentID)
	}
	if c.Signal.WeekKey == "" {
		return fmt.Errorf("apply_weekly_signals: %w: week_key is required", shared.ErrInvalidInput)
	}
	return nil
}

// ApplyWeeklySignalsResult contains the outcome of applying a weekly signal.
type ApplyWeeklySignalsResult struct {
	// StudentID is the student the signal applies to.
	StudentID string `json:"student_id"`

	// WeekKey is the ISO week the signal covers.
	WeekKey string `json:"week_key"`

	// GoalPointsAwarded is the weekly goal payout (0 when goal not met).
	GoalPointsAwarded int `json:"goal_points_awarded"`

	// BadgesUnlocked lists badges awarded by this signal.
	BadgesUnlocked []string `json:"badges_unlocked,omitempty"`

	// TotalPoints is the account total after the signal.
	TotalPoints int `json:"total_points"`

	// Duplicate reports a replayed signal ID.
	Duplicate bool `json:"duplicate"`

	// AppliedAt is when the signal was applied.
	AppliedAt time.Time `json:"applied_at"`

	// Events contains domain events generated.
	Events []shared.Event `json:"-"`
}

// ApplyWeeklySignalsHandler handles the ApplyWeeklySignalsCommand.
type ApplyWeeklySignalsHandler struct {
	uowFactory UnitOfWorkFactory
	rules      *gamification.RuleEngine
	publisher  shared.EventPublisher
	locks      *keymutex.KeyMutex
	log        *logger.Logger
	schedule   gamification.AwardSchedule
	now        func() time.Time
}

// NewApplyWeeklySignalsHandler creates a new ApplyWeeklySignalsHandler.
func NewApplyWeeklySignalsHandler(
	uowFactory UnitOfWorkFactory,
	publisher shared.EventPublisher,
	log *logger.Logger,
	schedule gamification.AwardSchedule,
) *ApplyWeeklySignalsHandler {
	if schedule == (gamification.AwardSchedule{}) {
		schedule = gamification.DefaultAwardSchedule()
	}
	return &ApplyWeeklySignalsHandler{
		uowFactory: uowFactory,
		rules:      gamification.NewRuleEngine(),
		publisher:  publisher,
		locks:      keymutex.New(),
		log:        log.With(logger.Component("apply_weekly_signals")),
		schedule:   schedule,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the handler's clock. Tests only.
func (h *ApplyWeeklySignalsHandler) WithClock(now func() time.Time) *ApplyWeeklySignalsHandler {
	h.now = now
	return h
}

// WithLocks shares one per-student lock set across every handler that
// writes the account.
func (h *ApplyWeeklySignalsHandler) WithLocks(locks *keymutex.KeyMutex) *ApplyWeeklySignalsHandler {
	h.locks = locks
	return h
}

// Handle applies the weekly signal.
func (h *ApplyWeeklySignalsHandler) Handle(ctx context.Context, cmd ApplyWeeklySignalsCommand) (*ApplyWeeklySignalsResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	sig := cmd.Signal
	now := h.now()

	// Writes to one student's account are strictly serialized.
	studentKey := sig.StudentID.String()
	h.locks.Lock(studentKey)
	defer h.locks.Unlock(studentKey)

	uow, err := h.uowFactory.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("apply_weekly_signals: begin transaction: %w", err)
	}
	defer uow.Rollback(ctx)

	if stored, err := uow.Events().FindApplied(ctx, sig.StudentID, sig.SignalID); err == nil {
		var result ApplyWeeklySignalsResult
		if err := unmarshalStored(stored.Result, &result); err != nil {
			return nil, fmt.Errorf("apply_weekly_signals: %w", err)
		}
		result.Duplicate = true
		return &result, nil
	} else if !shared.IsNotFound(err) {
		return nil, fmt.Errorf("apply_weekly_signals: dedup lookup: %w", err)
	}

	account, err := uow.Accounts().Get(ctx, sig.StudentID)
	if err != nil {
		if !shared.IsNotFound(err) {
			return nil, fmt.Errorf("apply_weekly_signals: load account: %w", err)
		}
		account = gamification.NewAccount(sig.StudentID)
	}

	result := &ApplyWeeklySignalsResult{
		StudentID: sig.StudentID.String(),
		WeekKey:   sig.WeekKey,
		AppliedAt: now,
	}
	dirty := false

	if sig.GoalMet && h.schedule.WeeklyGoal > 0 {
		entry := &gamification.LedgerEntry{
			ID:            uuid.NewString(),
			StudentID:     sig.StudentID,
			Amount:        h.schedule.WeeklyGoal,
			Reason:        gamification.ReasonWeeklyGoalMet,
			SourceEventID: sig.SignalID,
			Note:          sig.WeekKey,
			CreatedAt:     now,
		}
		if err := uow.Ledger().Append(ctx, entry); err != nil {
			return nil, fmt.Errorf("apply_weekly_signals: append ledger entry: %w", err)
		}
		account.Credit(h.schedule.WeeklyGoal, now)
		dirty = true
		result.GoalPointsAwarded = h.schedule.WeeklyGoal
		result.Events = append(result.Events,
			shared.NewWeeklyGoalMetEvent(result.StudentID, sig.WeekKey, h.schedule.WeeklyGoal))
		result.Events = append(result.Events, shared.NewPointsAwardedEvent(
			result.StudentID, h.schedule.WeeklyGoal, account.TotalPoints.Int(),
			string(gamification.ReasonWeeklyGoalMet), ""))
	}

	// Perfect Week is evaluated only here, at the week boundary with the
	// authoritative ratio.
	held, err := heldAwards(ctx, uow, sig.StudentID)
	if err != nil {
		return nil, fmt.Errorf("apply_weekly_signals: list badge awards: %w", err)
	}
	snapshot := gamification.Snapshot{
		StudentID:             sig.StudentID,
		WeekKey:               sig.WeekKey,
		WeeklyCompletionRatio: sig.CompletionRatio,
		AtWeekBoundary:        true,
	}
	for _, pending := range h.rules.Evaluate(snapshot, held) {
		if pending.Badge.ID != gamification.BadgePerfectWeek {
			// Other rules are driven by the event path; a weekly signal
			// carries no data for them.
			continue
		}
		award := &gamification.BadgeAward{
			StudentID: sig.StudentID,
			BadgeID:   pending.Badge.ID,
			Period:    pending.Period,
			AwardedAt: now,
		}
		if err := uow.Badges().SaveAward(ctx, award); err != nil {
			if errors.Is(err, shared.ErrBadgeAlreadyHeld) {
				continue
			}
			return nil, fmt.Errorf("apply_weekly_signals: save badge award: %w", err)
		}
		if pending.Badge.Points > 0 {
			entry := &gamification.LedgerEntry{
				ID:            uuid.NewString(),
				StudentID:     sig.StudentID,
				Amount:        pending.Badge.Points,
				Reason:        gamification.ReasonBadgeUnlocked,
				BadgeID:       string(pending.Badge.ID),
				SourceEventID: sig.SignalID,
				CreatedAt:     now,
			}
			if err := uow.Ledger().Append(ctx, entry); err != nil {
				return nil, fmt.Errorf("apply_weekly_signals: append ledger entry: %w", err)
			}
			account.Credit(pending.Badge.Points, now)
			dirty = true
		}
		result.BadgesUnlocked = append(result.BadgesUnlocked, string(pending.Badge.ID))
		result.Events = append(result.Events, shared.NewBadgeUnlockedEvent(
			result.StudentID, string(pending.Badge.ID), pending.Badge.Name, pending.Badge.Points))
	}

	if dirty {
		if err := uow.Accounts().Save(ctx, account); err != nil {
			return nil, fmt.Errorf("apply_weekly_signals: save account: %w", err)
		}
	}
	result.TotalPoints = account.TotalPoints.Int()

	if err := markAndCommit(ctx, uow, sig.StudentID, sig.SignalID, result, now); err != nil {
		return nil, fmt.Errorf("apply_weekly_signals: %w", err)
	}

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

	h.log.Info("weekly signal applied",
		logger.StudentID(result.StudentID),
		logger.String("week_key", sig.WeekKey),
		logger.Bool("goal_met", sig.GoalMet),
		logger.Float64("completion_ratio", sig.CompletionRatio))

	return result, nil
}
