package command

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/spool-edu/progress-core/internal/domain/gamification"
	"github.com/spool-edu/progress-core/internal/domain/shared"
	"github.com/spool-edu/progress-core/pkg/keymutex"
	"github.com/spool-edu/progress-core/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// AWARD MANUAL POINTS COMMAND
// An operator grants points outside the event pipeline (contest prizes,
// corrections). Appends a manual_award ledger entry; negative or zero
// amounts are rejected - corrections go through compensating entries
// written by operators directly, never through this path.
// ══════════════════════════════════════════════════════════════════════════════

// AwardManualPointsCommand contains the data for a manual award.
type AwardManualPointsCommand struct {
	// StudentID is the student to credit.
	StudentID string

	// Amount is the number of points. Must be positive.
	Amount int

	// Note explains the award.
	Note string

	// AwardID deduplicates retries of the same grant. Optional;
	// a random ID is generated when empty, making the grant one-shot.
	AwardID string
}

// Validate validates the command.
func (c AwardManualPointsCommand) Validate() error {
	if c.StudentID == "" {
		return fmt.Errorf("award_manual_points: %w", shared.ErrMissingStudentID)
	}
	if c.Amount <= 0 {
		return fmt.Errorf("award_manual_points: %w: amount must be positive, got %d",
			shared.ErrInvalidAward, c.Amount)
	}
	return nil
}

// AwardManualPointsResult contains the outcome of a manual award.
type AwardManualPointsResult struct {
	// StudentID is the credited student.
	StudentID string `json:"student_id"`

	// Amount is the number of points credited.
	Amount int `json:"amount"`

	// TotalPoints is the account total after the award.
	TotalPoints int `json:"total_points"`

	// Level is the account level after the award.
	Level string `json:"level"`

	// LevelUp reports whether the award pushed the account to a new level.
	LevelUp bool `json:"level_up"`

	// Duplicate reports a replayed AwardID.
	Duplicate bool `json:"duplicate"`

	// AwardedAt is when the award was applied.
	AwardedAt time.Time `json:"awarded_at"`

	// Events contains domain events generated.
	Events []shared.Event `json:"-"`
}

// AwardManualPointsHandler handles the AwardManualPointsCommand.
type AwardManualPointsHandler struct {
	uowFactory UnitOfWorkFactory
	publisher  shared.EventPublisher
	locks      *keymutex.KeyMutex
	log        *logger.Logger
	now        func() time.Time
}

// NewAwardManualPointsHandler creates a new AwardManualPointsHandler.
func NewAwardManualPointsHandler(
	uowFactory UnitOfWorkFactory,
	publisher shared.EventPublisher,
	log *logger.Logger,
) *AwardManualPointsHandler {
	return &AwardManualPointsHandler{
		uowFactory: uowFactory,
		publisher:  publisher,
		locks:      keymutex.New(),
		log:        log.With(logger.Component("award_manual_points")),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the handler's clock. Tests only.
func (h *AwardManualPointsHandler) WithClock(now func() time.Time) *AwardManualPointsHandler {
	h.now = now
	return h
}

// WithLocks shares one per-student lock set across every handler that
// writes the account. All writers must hold the same lock: the
// account's read-modify-write is only safe inside the student's
// exclusive section.
func (h *AwardManualPointsHandler) WithLocks(locks *keymutex.KeyMutex) *AwardManualPointsHandler {
	h.locks = locks
	return h
}

// Handle executes the manual award.
func (h *AwardManualPointsHandler) Handle(ctx context.Context, cmd AwardManualPointsCommand) (*AwardManualPointsResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	studentID, err := shared.NewStudentID(cmd.StudentID)
	if err != nil {
		return nil, fmt.Errorf("award_manual_points: %w", err)
	}

	awardID := cmd.AwardID
	if awardID == "" {
		awardID = uuid.NewString()
	}

	now := h.now()

	// Writes to one student's account are strictly serialized.
	studentKey := studentID.String()
	h.locks.Lock(studentKey)
	defer h.locks.Unlock(studentKey)

	uow, err := h.uowFactory.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("award_manual_points: begin transaction: %w", err)
	}
	defer uow.Rollback(ctx)

	if stored, err := uow.Events().FindApplied(ctx, studentID, awardID); err == nil {
		var result AwardManualPointsResult
		if err := unmarshalStored(stored.Result, &result); err != nil {
			return nil, fmt.Errorf("award_manual_points: %w", err)
		}
		result.Duplicate = true
		return &result, nil
	} else if !shared.IsNotFound(err) {
		return nil, fmt.Errorf("award_manual_points: dedup lookup: %w", err)
	}

	account, err := uow.Accounts().Get(ctx, studentID)
	if err != nil {
		if !shared.IsNotFound(err) {
			return nil, fmt.Errorf("award_manual_points: load account: %w", err)
		}
		account = gamification.NewAccount(studentID)
	}
	oldLevel := account.Level()

	entry := &gamification.LedgerEntry{
		ID:            uuid.NewString(),
		StudentID:     studentID,
		Amount:        cmd.Amount,
		Reason:        gamification.ReasonManualAward,
		SourceEventID: awardID,
		Note:          cmd.Note,
		CreatedAt:     now,
	}
	if err := uow.Ledger().Append(ctx, entry); err != nil {
		return nil, fmt.Errorf("award_manual_points: append ledger entry: %w", err)
	}
	account.Credit(cmd.Amount, now)

	if err := uow.Accounts().Save(ctx, account); err != nil {
		return nil, fmt.Errorf("award_manual_points: save account: %w", err)
	}

	result := &AwardManualPointsResult{
		StudentID:   cmd.StudentID,
		Amount:      cmd.Amount,
		TotalPoints: account.TotalPoints.Int(),
		Level:       account.Level().String(),
		AwardedAt:   now,
	}
	result.Events = append(result.Events, shared.NewPointsAwardedEvent(
		cmd.StudentID, cmd.Amount, result.TotalPoints, string(gamification.ReasonManualAward), ""))

	if newLevel := account.Level(); newLevel != oldLevel {
		result.LevelUp = true
		result.Events = append(result.Events, shared.NewLevelUpEvent(
			cmd.StudentID, oldLevel.String(), newLevel.String(), result.TotalPoints))
	}

	if err := markAndCommit(ctx, uow, studentID, awardID, result, now); err != nil {
		return nil, fmt.Errorf("award_manual_points: %w", err)
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

	h.log.Info("manual points awarded",
		logger.StudentID(cmd.StudentID),
		logger.Points(cmd.Amount),
		logger.String("award_id", awardID))

	return result, nil
}
