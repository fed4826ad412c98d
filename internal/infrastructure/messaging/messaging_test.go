package messaging

import (
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spool-edu/progress-core/internal/domain/shared"
	"github.com/spool-edu/progress-core/pkg/logger"
	"github.com/spool-edu/progress-core/pkg/retry"
)

func testLogger() *logger.Logger {
	return logger.New(logger.Options{Output: io.Discard, Level: logger.LevelError})
}

func syncBus() *InMemoryEventBus {
	return NewInMemoryEventBus(InMemoryEventBusConfig{
		AsyncMode: false,
		Logger:    testLogger(),
	})
}

func TestInMemoryEventBusRoutesByType(t *testing.T) {
	bus := syncBus()
	defer bus.Close()

	var points, badges, all int
	require.NoError(t, bus.Subscribe(shared.EventPointsAwarded, func(shared.Event) error {
		points++
		return nil
	}))
	require.NoError(t, bus.Subscribe(shared.EventBadgeUnlocked, func(shared.Event) error {
		badges++
		return nil
	}))
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error {
		all++
		return nil
	}))

	require.NoError(t, bus.Publish(shared.NewPointsAwardedEvent("s1", 10, 10, "concept_started", "")))
	require.NoError(t, bus.Publish(shared.NewPointsAwardedEvent("s1", 25, 35, "concept_mastered", "")))
	require.NoError(t, bus.Publish(shared.NewBadgeUnlockedEvent("s1", "helper", "Helper", 50)))

	assert.Equal(t, 2, points)
	assert.Equal(t, 1, badges)
	assert.Equal(t, 3, all)

	stats := bus.Stats()
	assert.Equal(t, int64(3), stats.Published)
	assert.Equal(t, int64(6), stats.Handled)
}

func TestInMemoryEventBusAsyncDelivery(t *testing.T) {
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{
		AsyncMode:      true,
		WorkerPoolSize: 4,
		Logger:         testLogger(),
	})

	var count atomic.Int64
	var wg sync.WaitGroup
	wg.Add(20)
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error {
		defer wg.Done()
		count.Add(1)
		return nil
	}))

	for i := 0; i < 20; i++ {
		require.NoError(t, bus.Publish(shared.NewStreakAdvancedEvent("s1", i, i)))
	}

	wg.Wait()
	require.NoError(t, bus.Close())
	assert.Equal(t, int64(20), count.Load())
}

func TestInMemoryEventBusRejectsAfterClose(t *testing.T) {
	bus := syncBus()
	require.NoError(t, bus.Close())

	err := bus.Publish(shared.NewLevelUpEvent("s1", "novice", "apprentice", 150))
	assert.ErrorIs(t, err, ErrEventBusClosed)

	err = bus.Subscribe(shared.EventLevelUp, func(shared.Event) error { return nil })
	assert.ErrorIs(t, err, ErrEventBusClosed)
}

func TestInMemoryEventBusHandlerErrorIsIsolated(t *testing.T) {
	bus := syncBus()
	defer bus.Close()

	var secondRan bool
	require.NoError(t, bus.Subscribe(shared.EventPointsAwarded, func(shared.Event) error {
		return errors.New("boom")
	}))
	require.NoError(t, bus.Subscribe(shared.EventPointsAwarded, func(shared.Event) error {
		secondRan = true
		return nil
	}))

	require.NoError(t, bus.Publish(shared.NewPointsAwardedEvent("s1", 5, 5, "concept_started", "")))
	assert.True(t, secondRan)
	assert.Equal(t, int64(1), bus.Stats().Failed)
}

func TestDispatcherRetriesUntilSuccess(t *testing.T) {
	bus := syncBus()
	defer bus.Close()

	d := NewDispatcher(DispatcherConfig{
		Bus: bus,
		RetryPolicy: retry.Policy{
			MaxAttempts:  3,
			InitialDelay: time.Millisecond,
			Multiplier:   1.0,
			RetryIf:      func(err error) bool { return err != nil },
		},
		DeadLetterQueueSize: 10,
		Logger:              testLogger(),
	})

	var attempts int
	require.NoError(t, d.Register(shared.EventBadgeUnlocked, "flaky", func(shared.Event) error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	}))
	require.NoError(t, d.Start())

	require.NoError(t, bus.Publish(shared.NewBadgeUnlockedEvent("s1", "explorer", "Explorer", 75)))

	assert.Equal(t, 3, attempts)
	assert.Equal(t, 0, d.DeadLetters().Size())
}

func TestDispatcherSendsExhaustedEventsToDLQ(t *testing.T) {
	bus := syncBus()
	defer bus.Close()

	d := NewDispatcher(DispatcherConfig{
		Bus: bus,
		RetryPolicy: retry.Policy{
			MaxAttempts:  2,
			InitialDelay: time.Millisecond,
			Multiplier:   1.0,
			RetryIf:      func(err error) bool { return err != nil },
		},
		DeadLetterQueueSize: 10,
		Logger:              testLogger(),
	})

	require.NoError(t, d.Register(shared.EventStreakBroken, "doomed", func(shared.Event) error {
		return errors.New("permanent failure")
	}))
	require.NoError(t, d.Start())

	_ = bus.Publish(shared.NewStreakBrokenEvent("s1", 7, 2))

	require.Equal(t, 1, d.DeadLetters().Size())
	entry, ok := d.DeadLetters().Pop()
	require.True(t, ok)
	assert.Equal(t, "doomed", entry.HandlerName)
	assert.Equal(t, shared.EventStreakBroken, entry.Event.EventType())
}

func TestDispatcherRecoversFromPanic(t *testing.T) {
	bus := syncBus()
	defer bus.Close()

	d := NewDispatcher(DispatcherConfig{
		Bus:                 bus,
		RetryPolicy:         retry.Policy{MaxAttempts: 1},
		DeadLetterQueueSize: 10,
		Logger:              testLogger(),
	})

	require.NoError(t, d.Register(shared.EventLevelUp, "panicky", func(shared.Event) error {
		panic("nil map write")
	}))
	require.NoError(t, d.Start())

	_ = bus.Publish(shared.NewLevelUpEvent("s1", "novice", "apprentice", 150))

	assert.Equal(t, 1, d.DeadLetters().Size())
}
