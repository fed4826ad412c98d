// Package jobs contains implementations of scheduled jobs.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spool-edu/progress-core/internal/application/command"
	"github.com/spool-edu/progress-core/internal/domain/gamification"
	"github.com/spool-edu/progress-core/pkg/logger"
	"github.com/spool-edu/progress-core/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// WEEKLY ROLLOVER JOB
// ══════════════════════════════════════════════════════════════════════════════

// SignalSource supplies the end-of-week signals for one ISO week.
// The signals come from an external grading system; the engine never
// derives them from its own ledger.
type SignalSource interface {
	// WeeklySignals returns every student's signal for the given week key.
	WeeklySignals(ctx context.Context, weekKey string) ([]gamification.WeeklySignal, error)
}

// WeeklyRolloverJob closes out the previous ISO week: it pulls the weekly
// signals and applies each one through the command layer, which pays the
// weekly goal and evaluates the Perfect Week badge. Signals are idempotent
// per signal ID, so a rerun of the job is harmless.
type WeeklyRolloverJob struct {
	source   SignalSource
	handler  *command.ApplyWeeklySignalsHandler
	log      *logger.Logger
	location *time.Location
	now      func() time.Time
}

// NewWeeklyRolloverJob creates a new WeeklyRolloverJob.
func NewWeeklyRolloverJob(source SignalSource, handler *command.ApplyWeeklySignalsHandler, log *logger.Logger, loc *time.Location) *WeeklyRolloverJob {
	if loc == nil {
		loc = time.UTC
	}
	return &WeeklyRolloverJob{
		source:   source,
		handler:  handler,
		log:      log.With(logger.Component("weekly_rollover")),
		location: loc,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the job's clock. Tests only.
func (j *WeeklyRolloverJob) WithClock(now func() time.Time) *WeeklyRolloverJob {
	j.now = now
	return j
}

// Name returns the job name.
func (j *WeeklyRolloverJob) Name() string {
	return "weekly_rollover"
}

// Description returns a human-readable description.
func (j *WeeklyRolloverJob) Description() string {
	return "Applies end-of-week signals: weekly goal payout and Perfect Week"
}

// Run applies every signal of the week that just closed.
// The job is scheduled shortly after the week boundary, so "yesterday"
// always falls inside the week being closed out.
func (j *WeeklyRolloverJob) Run(ctx context.Context) error {
	weekKey := timeutil.WeekKey(j.now().AddDate(0, 0, -1), j.location)

	signals, err := j.source.WeeklySignals(ctx, weekKey)
	if err != nil {
		return fmt.Errorf("weekly_rollover: failed to fetch signals for %s: %w", weekKey, err)
	}

	var (
		applied    int
		duplicates int
		errs       []error
	)

	for _, sig := range signals {
		result, err := j.handler.Handle(ctx, command.ApplyWeeklySignalsCommand{Signal: sig})
		if err != nil {
			errs = append(errs, fmt.Errorf("signal %s: %w", sig.SignalID, err))
			j.log.Error("weekly signal failed",
				logger.StudentID(sig.StudentID.String()),
				logger.String("week_key", weekKey),
				logger.Err(err),
			)
			continue
		}

		if result.Duplicate {
			duplicates++
			continue
		}
		applied++
	}

	j.log.Info("weekly rollover finished",
		logger.String("week_key", weekKey),
		logger.Int("signals_total", len(signals)),
		logger.Int("signals_applied", applied),
		logger.Int("signals_duplicate", duplicates),
		logger.Int("signals_failed", len(errs)),
	)

	return errors.Join(errs...)
}
