package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/spool-edu/progress-core/internal/application/command"
	"github.com/spool-edu/progress-core/internal/domain/gamification"
	"github.com/spool-edu/progress-core/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// PEER HELP SYNC JOB
// ══════════════════════════════════════════════════════════════════════════════

// PeerHelpSource supplies peer-help signals recorded since a given time.
// Like the weekly signals, these come from the external platform.
type PeerHelpSource interface {
	// PeerHelpSignals returns signals that occurred at or after since.
	// A zero since returns everything the source retains.
	PeerHelpSignals(ctx context.Context, since time.Time) ([]gamification.PeerHelpSignal, error)
}

// PeerHelpSyncJob pulls new peer-help signals and records each one, which
// drives the Helper badge. The high-water mark overlaps by one interval
// on purpose: signals are idempotent per signal ID, and a missed signal
// is worse than a replayed one.
type PeerHelpSyncJob struct {
	source  PeerHelpSource
	handler *command.RecordPeerHelpHandler
	log     *logger.Logger
	overlap time.Duration
	now     func() time.Time

	mu    sync.Mutex
	since time.Time
}

// NewPeerHelpSyncJob creates a new PeerHelpSyncJob. The first run fetches
// everything the source retains.
func NewPeerHelpSyncJob(source PeerHelpSource, handler *command.RecordPeerHelpHandler, log *logger.Logger, overlap time.Duration) *PeerHelpSyncJob {
	if overlap <= 0 {
		overlap = 5 * time.Minute
	}
	return &PeerHelpSyncJob{
		source:  source,
		handler: handler,
		log:     log.With(logger.Component("peer_help_sync")),
		overlap: overlap,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the job's clock. Tests only.
func (j *PeerHelpSyncJob) WithClock(now func() time.Time) *PeerHelpSyncJob {
	j.now = now
	return j
}

// Name returns the job name.
func (j *PeerHelpSyncJob) Name() string {
	return "peer_help_sync"
}

// Description returns a human-readable description.
func (j *PeerHelpSyncJob) Description() string {
	return "Pulls peer-help signals and records them for the Helper badge"
}

// Run fetches signals newer than the high-water mark and records them.
// The mark only advances when the fetch succeeds.
func (j *PeerHelpSyncJob) Run(ctx context.Context) error {
	j.mu.Lock()
	since := j.since
	j.mu.Unlock()

	started := j.now()

	signals, err := j.source.PeerHelpSignals(ctx, since)
	if err != nil {
		return fmt.Errorf("peer_help_sync: failed to fetch signals: %w", err)
	}

	var (
		recorded   int
		duplicates int
		errs       []error
	)

	for _, sig := range signals {
		result, err := j.handler.Handle(ctx, command.RecordPeerHelpCommand{Signal: sig})
		if err != nil {
			errs = append(errs, fmt.Errorf("signal %s: %w", sig.SignalID, err))
			j.log.Error("peer-help signal failed",
				logger.StudentID(sig.StudentID.String()),
				logger.Err(err),
			)
			continue
		}

		if result.Duplicate {
			duplicates++
			continue
		}
		recorded++
	}

	j.mu.Lock()
	j.since = started.Add(-j.overlap)
	j.mu.Unlock()

	j.log.Info("peer-help sync finished",
		logger.Int("signals_total", len(signals)),
		logger.Int("signals_recorded", recorded),
		logger.Int("signals_duplicate", duplicates),
		logger.Int("signals_failed", len(errs)),
	)

	return errors.Join(errs...)
}
