package command_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spool-edu/progress-core/internal/application/command"
	"github.com/spool-edu/progress-core/internal/domain/gamification"
	"github.com/spool-edu/progress-core/internal/domain/learning"
	"github.com/spool-edu/progress-core/internal/domain/shared"
	"github.com/spool-edu/progress-core/internal/infrastructure/persistence/memory"
	"github.com/spool-edu/progress-core/pkg/keymutex"
	"github.com/spool-edu/progress-core/pkg/logger"
)

type capturePublisher struct {
	mu     sync.Mutex
	events []shared.Event
}

func (p *capturePublisher) Publish(event shared.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *capturePublisher) byType(t shared.EventType) []shared.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []shared.Event
	for _, e := range p.events {
		if e.EventType() == t {
			out = append(out, e)
		}
	}
	return out
}

var testClock = func() time.Time {
	return time.Date(2026, 3, 12, 12, 0, 0, 0, time.UTC)
}

func newTestHandler(store *memory.Store, catalog *memory.SubjectCatalog, pub *capturePublisher) *command.ProcessEventHandler {
	if catalog == nil {
		catalog = memory.NewSubjectCatalog(nil)
	}
	log := logger.New(logger.Options{Output: io.Discard})
	h := command.NewProcessEventHandler(
		memory.NewUnitOfWorkFactory(store),
		catalog,
		pub,
		log,
		command.ProcessEventHandlerConfig{SpeedBonusEnabled: true},
	)
	return h.WithClock(testClock)
}

func rawEvent(id, student, concept, kind string, occurred time.Time) learning.RawEvent {
	return learning.RawEvent{
		EventID:    id,
		StudentID:  student,
		ConceptID:  concept,
		Kind:       kind,
		OccurredAt: occurred,
	}
}

func TestProcessEventCompletedWithPerfectScore(t *testing.T) {
	store := memory.NewStore()
	pub := &capturePublisher{}
	h := newTestHandler(store, nil, pub)

	occurred := time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC)
	raw := rawEvent("e1", "s1", "math-fractions", "completed", occurred)
	score := 1.0
	raw.Score = &score

	result, err := h.Handle(context.Background(), command.ProcessEventCommand{Raw: raw})
	require.NoError(t, err)

	assert.False(t, result.Duplicate)
	assert.Equal(t, "not_started", result.PreviousStatus)
	assert.Equal(t, "completed", result.NewStatus)
	assert.True(t, result.StatusChanged)
	// 10 for the transition + 10 perfect bonus. The first streak day
	// pays nothing.
	assert.Equal(t, 20, result.PointsAwarded)
	assert.Equal(t, 20, result.TotalPoints)
	assert.Equal(t, "novice", result.Level)
	assert.Equal(t, 1, result.CurrentStreak)
	assert.False(t, result.StreakAdvanced)

	sum, err := store.Ledger().SumByStudent(context.Background(), mustStudentID(t, "s1"))
	require.NoError(t, err)
	assert.Equal(t, 20, sum)

	entries, err := store.Ledger().ListByStudent(context.Background(), mustStudentID(t, "s1"), shared.NewPagination(1, 50))
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestProcessEventReplayReturnsStoredResult(t *testing.T) {
	store := memory.NewStore()
	pub := &capturePublisher{}
	h := newTestHandler(store, nil, pub)

	occurred := time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC)
	raw := rawEvent("e1", "s1", "math-fractions", "mastered", occurred)

	first, err := h.Handle(context.Background(), command.ProcessEventCommand{Raw: raw})
	require.NoError(t, err)
	require.False(t, first.Duplicate)

	publishedBefore := len(pub.events)

	replay, err := h.Handle(context.Background(), command.ProcessEventCommand{Raw: raw})
	require.NoError(t, err)

	assert.True(t, replay.Duplicate)
	assert.Equal(t, first.PointsAwarded, replay.PointsAwarded)
	assert.Equal(t, first.TotalPoints, replay.TotalPoints)
	assert.Equal(t, first.NewStatus, replay.NewStatus)

	// No side effects from the replay: ledger and publications untouched.
	sum, err := store.Ledger().SumByStudent(context.Background(), mustStudentID(t, "s1"))
	require.NoError(t, err)
	assert.Equal(t, first.TotalPoints, sum)
	assert.Equal(t, publishedBefore, len(pub.events))
}

func TestProcessEventRepeatedCompletionPaysNothing(t *testing.T) {
	store := memory.NewStore()
	h := newTestHandler(store, nil, &capturePublisher{})

	occurred := time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC)

	first, err := h.Handle(context.Background(), command.ProcessEventCommand{
		Raw: rawEvent("e1", "s1", "math-fractions", "completed", occurred),
	})
	require.NoError(t, err)
	require.Equal(t, 10, first.PointsAwarded)

	// A different event for the same concept at the same status: stats
	// update, no transition, no points even with a perfect score.
	raw := rawEvent("e2", "s1", "math-fractions", "completed", occurred.Add(time.Hour))
	score := 1.0
	raw.Score = &score

	second, err := h.Handle(context.Background(), command.ProcessEventCommand{Raw: raw})
	require.NoError(t, err)

	assert.False(t, second.StatusChanged)
	assert.Equal(t, 0, second.PointsAwarded)
	assert.Equal(t, 10, second.TotalPoints)
}

func TestProcessEventQuickLearnerAwardedOnce(t *testing.T) {
	store := memory.NewStore()
	pub := &capturePublisher{}
	h := newTestHandler(store, nil, pub)

	day := time.Date(2026, 3, 9, 9, 0, 0, 0, time.UTC)

	var last *command.ProcessEventResult
	for i := 1; i <= 6; i++ {
		raw := rawEvent(
			fmt.Sprintf("e%d", i), "s1",
			fmt.Sprintf("math-concept%d", i), "mastered",
			day.Add(time.Duration(i)*time.Minute),
		)
		var err error
		last, err = h.Handle(context.Background(), command.ProcessEventCommand{Raw: raw})
		require.NoError(t, err)

		switch {
		case i < 5:
			assert.Empty(t, last.BadgesUnlocked, "event %d", i)
		case i == 5:
			assert.Equal(t, []string{"quick_learner"}, last.BadgesUnlocked)
		case i == 6:
			assert.Empty(t, last.BadgesUnlocked, "badge must not repeat")
		}
	}

	// 6 masteries at 25 plus one 100-point badge.
	assert.Equal(t, 6*25+100, last.TotalPoints)
	assert.Len(t, pub.byType(shared.EventBadgeUnlocked), 1)
}

func TestProcessEventSubjectMasterPerSubject(t *testing.T) {
	store := memory.NewStore()
	catalog := memory.NewSubjectCatalog(map[string]int{"math": 2, "physics": 1})
	h := newTestHandler(store, catalog, &capturePublisher{})

	day := time.Date(2026, 3, 9, 9, 0, 0, 0, time.UTC)

	r1, err := h.Handle(context.Background(), command.ProcessEventCommand{
		Raw: rawEvent("e1", "s1", "math-fractions", "mastered", day),
	})
	require.NoError(t, err)
	assert.Empty(t, r1.BadgesUnlocked, "subject not finished yet")

	r2, err := h.Handle(context.Background(), command.ProcessEventCommand{
		Raw: rawEvent("e2", "s1", "math-decimals", "mastered", day.Add(time.Minute)),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"subject_master"}, r2.BadgesUnlocked)

	// Repeatable per subject: a different subject earns it again.
	r3, err := h.Handle(context.Background(), command.ProcessEventCommand{
		Raw: rawEvent("e3", "s1", "physics-optics", "mastered", day.Add(2*time.Minute)),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"subject_master"}, r3.BadgesUnlocked)
}

func TestProcessEventStreakLifecycle(t *testing.T) {
	store := memory.NewStore()
	h := newTestHandler(store, nil, &capturePublisher{})
	ctx := context.Background()

	day1 := time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC)

	r1, err := h.Handle(ctx, command.ProcessEventCommand{
		Raw: rawEvent("e1", "s1", "math-c1", "started", day1),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, r1.CurrentStreak)
	assert.False(t, r1.StreakAdvanced)
	assert.Equal(t, 5, r1.PointsAwarded, "started transition only")

	// Next day extends the streak and pays the daily streak points.
	r2, err := h.Handle(ctx, command.ProcessEventCommand{
		Raw: rawEvent("e2", "s1", "math-c2", "started", day1.AddDate(0, 0, 1)),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, r2.CurrentStreak)
	assert.True(t, r2.StreakAdvanced)
	assert.Equal(t, 5+5, r2.PointsAwarded)

	// A gap resets to 1; the reset day pays no streak points.
	r3, err := h.Handle(ctx, command.ProcessEventCommand{
		Raw: rawEvent("e3", "s1", "math-c3", "started", day1.AddDate(0, 0, 3)),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, r3.CurrentStreak)
	assert.True(t, r3.StreakBroken)
	assert.Equal(t, 5, r3.PointsAwarded)
}

func TestProcessEventStaleActivityDoesNotFailEvent(t *testing.T) {
	store := memory.NewStore()
	h := newTestHandler(store, nil, &capturePublisher{})
	ctx := context.Background()

	day2 := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	_, err := h.Handle(ctx, command.ProcessEventCommand{
		Raw: rawEvent("e1", "s1", "math-c1", "started", day2),
	})
	require.NoError(t, err)

	// A backdated event still applies to progress and points but leaves
	// the streak untouched.
	stale, err := h.Handle(ctx, command.ProcessEventCommand{
		Raw: rawEvent("e2", "s1", "math-c2", "completed", day2.AddDate(0, 0, -1)),
	})
	require.NoError(t, err)

	assert.True(t, stale.StreakStale)
	assert.False(t, stale.StreakAdvanced)
	assert.Equal(t, 1, stale.CurrentStreak)
	assert.Equal(t, 10, stale.PointsAwarded)
	assert.Equal(t, "completed", stale.NewStatus)
}

func TestProcessEventSpeedBonusOnFastMastery(t *testing.T) {
	store := memory.NewStore()
	h := newTestHandler(store, nil, &capturePublisher{})

	raw := rawEvent("e1", "s1", "math-c1", "mastered", time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC))
	raw.TimeSpentSec = 120

	result, err := h.Handle(context.Background(), command.ProcessEventCommand{Raw: raw})
	require.NoError(t, err)

	// 25 mastery + 5 speed bonus.
	assert.Equal(t, 30, result.PointsAwarded)
}

func TestProcessEventRejectsInvalidScore(t *testing.T) {
	store := memory.NewStore()
	h := newTestHandler(store, nil, &capturePublisher{})

	raw := rawEvent("e1", "s1", "math-c1", "completed", time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC))
	score := 1.5
	raw.Score = &score

	_, err := h.Handle(context.Background(), command.ProcessEventCommand{Raw: raw})
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrInvalidScore)

	// Nothing was persisted for the rejected event.
	sum, err := store.Ledger().SumByStudent(context.Background(), mustStudentID(t, "s1"))
	require.NoError(t, err)
	assert.Equal(t, 0, sum)
}

func TestProcessEventConcurrentSameStudent(t *testing.T) {
	store := memory.NewStore()
	h := newTestHandler(store, nil, &capturePublisher{})

	day := time.Date(2026, 3, 9, 9, 0, 0, 0, time.UTC)
	const n = 20

	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			raw := rawEvent(
				fmt.Sprintf("e%d", i), "s1",
				fmt.Sprintf("math-concept%d", i), "started",
				day.Add(time.Duration(i)*time.Second),
			)
			_, err := h.Handle(context.Background(), command.ProcessEventCommand{Raw: raw})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	account, err := store.Accounts().Get(context.Background(), mustStudentID(t, "s1"))
	require.NoError(t, err)
	sum, err := store.Ledger().SumByStudent(context.Background(), mustStudentID(t, "s1"))
	require.NoError(t, err)

	// The account total is always the exact ledger sum, regardless of
	// interleaving.
	assert.Equal(t, sum, account.TotalPoints.Int())
	assert.Equal(t, n*5, sum)
}

func TestAwardManualPointsConcurrentSameStudent(t *testing.T) {
	store := memory.NewStore()
	h := command.NewAwardManualPointsHandler(
		memory.NewUnitOfWorkFactory(store), &capturePublisher{}, discardLogger(),
	)

	const grants = 100

	var wg sync.WaitGroup
	wg.Add(grants)
	for i := 0; i < grants; i++ {
		go func(i int) {
			defer wg.Done()
			_, err := h.Handle(context.Background(), command.AwardManualPointsCommand{
				StudentID: "s1",
				Amount:    1,
				AwardID:   fmt.Sprintf("grant-%d", i),
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	account, err := store.Accounts().Get(context.Background(), mustStudentID(t, "s1"))
	require.NoError(t, err)
	sum, err := store.Ledger().SumByStudent(context.Background(), mustStudentID(t, "s1"))
	require.NoError(t, err)

	assert.Equal(t, grants, sum)
	assert.Equal(t, grants, account.TotalPoints.Int())
}

func TestSharedLocksSerializeAllWritePaths(t *testing.T) {
	store := memory.NewStore()
	pub := &capturePublisher{}
	locks := keymutex.New()

	events := newTestHandler(store, nil, pub).WithLocks(locks)
	awards := command.NewAwardManualPointsHandler(
		memory.NewUnitOfWorkFactory(store), pub, discardLogger(),
	).WithLocks(locks)
	peerHelp := command.NewRecordPeerHelpHandler(
		memory.NewUnitOfWorkFactory(store), pub, discardLogger(),
	).WithLocks(locks).WithClock(testClock)

	day := time.Date(2026, 3, 9, 9, 0, 0, 0, time.UTC)
	const n = 25

	var wg sync.WaitGroup
	wg.Add(3 * n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			raw := rawEvent(
				fmt.Sprintf("e%d", i), "s1",
				fmt.Sprintf("math-concept%d", i), "started",
				day.Add(time.Duration(i)*time.Second),
			)
			_, err := events.Handle(context.Background(), command.ProcessEventCommand{Raw: raw})
			assert.NoError(t, err)
		}(i)
		go func(i int) {
			defer wg.Done()
			_, err := awards.Handle(context.Background(), command.AwardManualPointsCommand{
				StudentID: "s1",
				Amount:    2,
				AwardID:   fmt.Sprintf("grant-%d", i),
			})
			assert.NoError(t, err)
		}(i)
		go func(i int) {
			defer wg.Done()
			_, err := peerHelp.Handle(context.Background(), command.RecordPeerHelpCommand{
				Signal: gamification.PeerHelpSignal{
					SignalID:        fmt.Sprintf("help-%d", i),
					StudentID:       "s1",
					HelpedStudentID: "s2",
					OccurredAt:      day,
				},
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	account, err := store.Accounts().Get(context.Background(), mustStudentID(t, "s1"))
	require.NoError(t, err)
	sum, err := store.Ledger().SumByStudent(context.Background(), mustStudentID(t, "s1"))
	require.NoError(t, err)

	// Every write path for the student runs in the same exclusive
	// section, so the total never drifts from the exact ledger sum.
	assert.Equal(t, sum, account.TotalPoints.Int())
}

func TestProcessEventLevelUpFlag(t *testing.T) {
	store := memory.NewStore()
	pub := &capturePublisher{}
	h := newTestHandler(store, nil, pub)
	ctx := context.Background()

	day := time.Date(2026, 3, 9, 9, 0, 0, 0, time.UTC)

	// 4 x 25 = 100 stays novice, the 5th mastery crosses the line.
	var last *command.ProcessEventResult
	for i := 1; i <= 5; i++ {
		raw := rawEvent(
			fmt.Sprintf("e%d", i), "s1",
			fmt.Sprintf("math-concept%d", i), "mastered",
			day.Add(time.Duration(i)*time.Minute),
		)
		var err error
		last, err = h.Handle(ctx, command.ProcessEventCommand{Raw: raw})
		require.NoError(t, err)
	}

	assert.True(t, last.LevelUp)
	assert.Equal(t, "apprentice", last.Level)
	assert.NotEmpty(t, pub.byType(shared.EventLevelUp))
}

type failingPublisher struct {
	calls int
}

func (p *failingPublisher) Publish(shared.Event) error {
	p.calls++
	return errors.New("bus unavailable")
}

func TestProcessEventPublishFailureDoesNotFailCommand(t *testing.T) {
	store := memory.NewStore()
	pub := &failingPublisher{}
	log := logger.New(logger.Options{Output: io.Discard})
	h := command.NewProcessEventHandler(
		memory.NewUnitOfWorkFactory(store),
		memory.NewSubjectCatalog(nil),
		pub,
		log,
		command.ProcessEventHandlerConfig{},
	).WithClock(testClock)

	occurred := time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC)
	result, err := h.Handle(context.Background(), command.ProcessEventCommand{
		Raw: rawEvent("e1", "s1", "math-fractions", "completed", occurred),
	})

	// The state is committed before notifications go out, so a broken
	// bus must not turn a processed event into an error.
	require.NoError(t, err)
	require.False(t, result.Duplicate)
	assert.Greater(t, pub.calls, 0)

	account, err := store.Accounts().Get(context.Background(), mustStudentID(t, "s1"))
	require.NoError(t, err)
	assert.Equal(t, result.PointsAwarded, account.TotalPoints.Int())
}

func mustStudentID(t *testing.T, id string) shared.StudentID {
	t.Helper()
	sid, err := shared.NewStudentID(id)
	require.NoError(t, err)
	return sid
}
