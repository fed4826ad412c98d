package jobs_test

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spool-edu/progress-core/internal/application/command"
	"github.com/spool-edu/progress-core/internal/domain/gamification"
	"github.com/spool-edu/progress-core/internal/domain/shared"
	"github.com/spool-edu/progress-core/internal/infrastructure/persistence/memory"
	"github.com/spool-edu/progress-core/internal/infrastructure/scheduler/jobs"
	"github.com/spool-edu/progress-core/pkg/logger"
)

func discardLogger() *logger.Logger {
	return logger.New(logger.Options{Output: io.Discard})
}

type nopPublisher struct{}

func (nopPublisher) Publish(shared.Event) error { return nil }

// jobClock is a Monday 03:00 UTC, right after the rollover slot.
var jobClock = func() time.Time {
	return time.Date(2026, 3, 16, 3, 0, 0, 0, time.UTC)
}

// ══════════════════════════════════════════════════════════════════════════════
// WEEKLY ROLLOVER
// ══════════════════════════════════════════════════════════════════════════════

type stubWeeklySource struct {
	mu      sync.Mutex
	weeks   []string
	signals []gamification.WeeklySignal
	err     error
}

func (s *stubWeeklySource) WeeklySignals(ctx context.Context, weekKey string) ([]gamification.WeeklySignal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.weeks = append(s.weeks, weekKey)
	if s.err != nil {
		return nil, s.err
	}
	return s.signals, nil
}

func TestWeeklyRolloverAppliesSignals(t *testing.T) {
	store := memory.NewStore()
	handler := command.NewApplyWeeklySignalsHandler(
		memory.NewUnitOfWorkFactory(store), nopPublisher{}, discardLogger(),
		gamification.DefaultAwardSchedule(),
	)
	src := &stubWeeklySource{signals: []gamification.WeeklySignal{
		{SignalID: "w11-s1", StudentID: "s1", WeekKey: "2026-W11", GoalMet: true, CompletionRatio: 0.9},
		{SignalID: "w11-s2", StudentID: "s2", WeekKey: "2026-W11", GoalMet: true, CompletionRatio: 1.0},
		{SignalID: "w11-s3", StudentID: "s3", WeekKey: "2026-W11", GoalMet: false, CompletionRatio: 0.4},
	}}

	job := jobs.NewWeeklyRolloverJob(src, handler, discardLogger(), time.UTC).WithClock(jobClock)
	require.NoError(t, job.Run(context.Background()))

	// Monday 03:00 closes out the week that ended on Sunday the 15th.
	require.Len(t, src.weeks, 1)
	assert.Equal(t, "2026-W11", src.weeks[0])

	// Goal met pays the weekly goal; a 100% ratio adds Perfect Week on top.
	sum, err := store.Ledger().SumByStudent(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, 50, sum)

	sum, err = store.Ledger().SumByStudent(context.Background(), "s2")
	require.NoError(t, err)
	assert.Equal(t, 150, sum)

	held, err := store.Badges().HasAward(context.Background(), "s2", "perfect_week@2026-W11")
	require.NoError(t, err)
	assert.True(t, held)

	sum, err = store.Ledger().SumByStudent(context.Background(), "s3")
	require.NoError(t, err)
	assert.Equal(t, 0, sum)
}

func TestWeeklyRolloverRerunIsIdempotent(t *testing.T) {
	store := memory.NewStore()
	handler := command.NewApplyWeeklySignalsHandler(
		memory.NewUnitOfWorkFactory(store), nopPublisher{}, discardLogger(),
		gamification.DefaultAwardSchedule(),
	)
	src := &stubWeeklySource{signals: []gamification.WeeklySignal{
		{SignalID: "w11-s1", StudentID: "s1", WeekKey: "2026-W11", GoalMet: true, CompletionRatio: 0.9},
	}}
	job := jobs.NewWeeklyRolloverJob(src, handler, discardLogger(), time.UTC).WithClock(jobClock)

	require.NoError(t, job.Run(context.Background()))
	require.NoError(t, job.Run(context.Background()))

	sum, err := store.Ledger().SumByStudent(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, 50, sum)
}

func TestWeeklyRolloverPropagatesFetchError(t *testing.T) {
	handler := command.NewApplyWeeklySignalsHandler(
		memory.NewUnitOfWorkFactory(memory.NewStore()), nopPublisher{}, discardLogger(),
		gamification.DefaultAwardSchedule(),
	)
	src := &stubWeeklySource{err: errors.New("feed unavailable")}
	job := jobs.NewWeeklyRolloverJob(src, handler, discardLogger(), time.UTC).WithClock(jobClock)

	err := job.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "feed unavailable")
}

// ══════════════════════════════════════════════════════════════════════════════
// PEER HELP SYNC
// ══════════════════════════════════════════════════════════════════════════════

type stubPeerHelpSource struct {
	mu      sync.Mutex
	sinces  []time.Time
	signals []gamification.PeerHelpSignal
	err     error
}

func (s *stubPeerHelpSource) PeerHelpSignals(ctx context.Context, since time.Time) ([]gamification.PeerHelpSignal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sinces = append(s.sinces, since)
	if s.err != nil {
		return nil, s.err
	}
	return s.signals, nil
}

func TestPeerHelpSyncAdvancesHighWaterMark(t *testing.T) {
	store := memory.NewStore()
	handler := command.NewRecordPeerHelpHandler(
		memory.NewUnitOfWorkFactory(store), nopPublisher{}, discardLogger(),
	)
	src := &stubPeerHelpSource{signals: []gamification.PeerHelpSignal{
		{SignalID: "ph-1", StudentID: "helper-1", HelpedStudentID: "s2", OccurredAt: jobClock().Add(-time.Hour)},
	}}

	overlap := 10 * time.Minute
	job := jobs.NewPeerHelpSyncJob(src, handler, discardLogger(), overlap).WithClock(jobClock)

	require.NoError(t, job.Run(context.Background()))
	require.NoError(t, job.Run(context.Background()))

	// First fetch takes everything; subsequent ones overlap by one interval.
	require.Len(t, src.sinces, 2)
	assert.True(t, src.sinces[0].IsZero())
	assert.True(t, jobClock().Add(-overlap).Equal(src.sinces[1]))

	// The replayed signal from the overlap window is deduplicated.
	held, err := store.Badges().HasAward(context.Background(), "helper-1", "helper")
	require.NoError(t, err)
	assert.True(t, held)

	entries, err := store.Ledger().ListByStudent(context.Background(), "helper-1", shared.NewPagination(1, 10))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestPeerHelpSyncKeepsMarkOnFetchError(t *testing.T) {
	handler := command.NewRecordPeerHelpHandler(
		memory.NewUnitOfWorkFactory(memory.NewStore()), nopPublisher{}, discardLogger(),
	)
	src := &stubPeerHelpSource{err: errors.New("feed unavailable")}
	job := jobs.NewPeerHelpSyncJob(src, handler, discardLogger(), 10*time.Minute).WithClock(jobClock)

	require.Error(t, job.Run(context.Background()))

	src.err = nil
	require.NoError(t, job.Run(context.Background()))

	// The failed fetch must not advance the mark.
	require.Len(t, src.sinces, 2)
	assert.True(t, src.sinces[1].IsZero())
}

// ══════════════════════════════════════════════════════════════════════════════
// ACCOUNT RECONCILIATION
// ══════════════════════════════════════════════════════════════════════════════

func TestReconcileAccountsCleanStore(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()
	ts := jobClock()

	acc := gamification.NewAccount("s1")
	acc.Credit(30, ts)
	require.NoError(t, store.Accounts().Save(ctx, acc))
	require.NoError(t, store.Ledger().Append(ctx, &gamification.LedgerEntry{
		ID: "e1", StudentID: "s1", Amount: 30,
		Reason: gamification.ReasonManualAward, CreatedAt: ts,
	}))

	job := jobs.NewReconcileAccountsJob(store.Accounts(), store.Ledger(), discardLogger())
	assert.NoError(t, job.Run(ctx))
}

func TestReconcileAccountsReportsDrift(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()
	ts := jobClock()

	// Account says 40, ledger says 25.
	acc := gamification.NewAccount("s1")
	acc.Credit(40, ts)
	require.NoError(t, store.Accounts().Save(ctx, acc))
	require.NoError(t, store.Ledger().Append(ctx, &gamification.LedgerEntry{
		ID: "e1", StudentID: "s1", Amount: 25,
		Reason: gamification.ReasonManualAward, CreatedAt: ts,
	}))

	job := jobs.NewReconcileAccountsJob(store.Accounts(), store.Ledger(), discardLogger())
	err := job.Run(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 account(s) drifted")
}
