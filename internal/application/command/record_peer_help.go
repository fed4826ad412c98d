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
// RECORD PEER HELP COMMAND
// Consumes the external "helped a fellow student" signal that drives the
// Helper badge. The engine never detects help itself. Idempotent per
// signal ID.
// ══════════════════════════════════════════════════════════════════════════════

// RecordPeerHelpCommand carries one peer-help signal.
type RecordPeerHelpCommand struct {
	Signal gamification.PeerHelpSignal
}

// Validate validates the command.
func (c RecordPeerHelpCommand) Validate() error {
	if c.Signal.SignalID == "" {
		return fmt.Errorf("record_peer_help: %w: signal_id is required", shared.ErrInvalidInput)
	}
	if c.Signal.StudentID.IsEmpty() {
		return fmt.Errorf("record_peer_help: %w", shared.ErrMissingStudentID)
	}
	return nil
}

// RecordPeerHelpResult contains the outcome of recording a peer-help signal.
type RecordPeerHelpResult struct {
	// StudentID is the helping student.
	StudentID string `json:"student_id"`

	// BadgeUnlocked reports whether the Helper badge was awarded.
	BadgeUnlocked bool `json:"badge_unlocked"`

	// PointsAwarded is the badge bonus (0 when already held).
	PointsAwarded int `json:"points_awarded"`

	// TotalPoints is the account total after the signal.
	TotalPoints int `json:"total_points"`

	// Duplicate reports a replayed signal ID.
	Duplicate bool `json:"duplicate"`

	// AppliedAt is when the signal was applied.
	AppliedAt time.Time `json:"applied_at"`

	// Events contains domain events generated.
	Events []shared.Event `json:"-"`
}

// RecordPeerHelpHandler handles the RecordPeerHelpCommand.
type RecordPeerHelpHandler struct {
	uowFactory UnitOfWorkFactory
	rules      *gamification.RuleEngine
	publisher  shared.EventPublisher
	locks      *keymutex.KeyMutex
	log        *logger.Logger
	now        func() time.Time
}

// NewRecordPeerHelpHandler creates a new RecordPeerHelpHandler.
func NewRecordPeerHelpHandler(
	uowFactory UnitOfWorkFactory,
	publisher shared.EventPublisher,
	log *logger.Logger,
) *RecordPeerHelpHandler {
	return &RecordPeerHelpHandler{
		uowFactory: uowFactory,
		rules:      gamification.NewRuleEngine(),
		publisher:  publisher,
		locks:      keymutex.New(),
		log:        log.With(logger.Component("record_peer_help")),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the handler's clock. Tests only.
func (h *RecordPeerHelpHandler) WithClock(now func() time.Time) *RecordPeerHelpHandler {
	h.now = now
	return h
}

// WithLocks shares one per-student lock set across every handler that
// writes the account.
func (h *RecordPeerHelpHandler) WithLocks(locks *keymutex.KeyMutex) *RecordPeerHelpHandler {
	h.locks = locks
	return h
}

// Handle records the peer-help signal.
func (h *RecordPeerHelpHandler) Handle(ctx context.Context, cmd RecordPeerHelpCommand) (*RecordPeerHelpResult, error) {
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
		return nil, fmt.Errorf("record_peer_help: begin transaction: %w", err)
	}
	defer uow.Rollback(ctx)

	if stored, err := uow.Events().FindApplied(ctx, sig.StudentID, sig.SignalID); err == nil {
		var result RecordPeerHelpResult
		if err := unmarshalStored(stored.Result, &result); err != nil {
			return nil, fmt.Errorf("record_peer_help: %w", err)
		}
		result.Duplicate = true
		return &result, nil
	} else if !shared.IsNotFound(err) {
		return nil, fmt.Errorf("record_peer_help: dedup lookup: %w", err)
	}

	held, err := heldAwards(ctx, uow, sig.StudentID)
	if err != nil {
		return nil, fmt.Errorf("record_peer_help: list badge awards: %w", err)
	}

	result := &RecordPeerHelpResult{
		StudentID: sig.StudentID.String(),
		AppliedAt: now,
	}

	account, err := uow.Accounts().Get(ctx, sig.StudentID)
	if err != nil {
		if !shared.IsNotFound(err) {
			return nil, fmt.Errorf("record_peer_help: load account: %w", err)
		}
		account = gamification.NewAccount(sig.StudentID)
	}

	snapshot := gamification.Snapshot{
		StudentID:        sig.StudentID,
		PeerHelpProvided: true,
	}
	for _, pending := range h.rules.Evaluate(snapshot, held) {
		if pending.Badge.ID != gamification.BadgeHelper {
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
			return nil, fmt.Errorf("record_peer_help: save badge award: %w", err)
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
				return nil, fmt.Errorf("record_peer_help: append ledger entry: %w", err)
			}
			account.Credit(pending.Badge.Points, now)
			if err := uow.Accounts().Save(ctx, account); err != nil {
				return nil, fmt.Errorf("record_peer_help: save account: %w", err)
			}
			result.PointsAwarded = pending.Badge.Points
		}
		result.BadgeUnlocked = true
		result.Events = append(result.Events, shared.NewBadgeUnlockedEvent(
			result.StudentID, string(pending.Badge.ID), pending.Badge.Name, pending.Badge.Points))
	}
	result.TotalPoints = account.TotalPoints.Int()

	if err := markAndCommit(ctx, uow, sig.StudentID, sig.SignalID, result, now); err != nil {
		return nil, fmt.Errorf("record_peer_help: %w", err)
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

	h.log.Info("peer help recorded",
		logger.StudentID(result.StudentID),
		logger.Bool("badge_unlocked", result.BadgeUnlocked))

	return result, nil
}
