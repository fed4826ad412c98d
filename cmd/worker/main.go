// Package main - точка входа движка обработки учебных событий.
//
// Worker потребляет сырые учебные события из очереди, проводит каждое
// через конвейер (валидация, дедупликация, прогресс, очки, серии,
// бейджи) и поддерживает проекции лидерборда. Фоновые задачи подтягивают
// внешние сигналы: недельные итоги и факты взаимопомощи.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spool-edu/progress-core/config"
	"github.com/spool-edu/progress-core/internal/application/command"
	"github.com/spool-edu/progress-core/internal/application/eventhandler"
	"github.com/spool-edu/progress-core/internal/application/query"
	"github.com/spool-edu/progress-core/internal/domain/gamification"
	"github.com/spool-edu/progress-core/internal/domain/leaderboard"
	"github.com/spool-edu/progress-core/internal/domain/learning"
	"github.com/spool-edu/progress-core/internal/domain/shared"
	"github.com/spool-edu/progress-core/internal/infrastructure/external/signals"
	"github.com/spool-edu/progress-core/internal/infrastructure/messaging"
	"github.com/spool-edu/progress-core/internal/infrastructure/persistence/memory"
	"github.com/spool-edu/progress-core/internal/infrastructure/persistence/postgres"
	"github.com/spool-edu/progress-core/internal/infrastructure/persistence/redis"
	"github.com/spool-edu/progress-core/internal/infrastructure/scheduler"
	"github.com/spool-edu/progress-core/internal/infrastructure/scheduler/jobs"
	"github.com/spool-edu/progress-core/pkg/keymutex"
	"github.com/spool-edu/progress-core/pkg/logger"
	"github.com/spool-edu/progress-core/pkg/retry"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx, cancel); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cancel context.CancelFunc) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. КОНФИГУРАЦИЯ И ЛОГИРОВАНИЕ
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logLevel := logger.ParseLevel(cfg.Observability.LogLevel)
	if cfg.App.Debug {
		logLevel = logger.LevelDebug
	}
	log := logger.New(logger.Options{
		Output:    os.Stdout,
		Level:     logLevel,
		AddCaller: cfg.App.Debug,
	})

	log.Info("starting progress engine worker",
		logger.String("env", string(cfg.App.Environment)),
		logger.String("version", cfg.App.Version),
		logger.String("timezone", cfg.App.Timezone),
		logger.Bool("debug", cfg.App.Debug),
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 2. ХРАНИЛИЩЕ: POSTGRES ИЛИ ПАМЯТЬ (dev-режим)
	// ─────────────────────────────────────────────────────────────────────────
	var (
		uowFactory   command.UnitOfWorkFactory
		progressRepo learning.ProgressRepository
		accountRepo  gamification.AccountRepository
		ledgerRepo   gamification.LedgerRepository
		streakRepo   gamification.StreakRepository
	)

	useMemoryStore := cfg.Database.Disabled || (cfg.Database.URL == "" && cfg.IsDevelopment())
	if useMemoryStore {
		log.Warn("postgres is disabled, state lives in memory and is lost on restart")
		store := memory.NewStore()
		uowFactory = memory.NewUnitOfWorkFactory(store)
		progressRepo = store.Progress()
		accountRepo = store.Accounts()
		ledgerRepo = store.Ledger()
		streakRepo = store.Streaks()
	} else {
		log.Info("connecting to postgres...")
		conn, err := postgres.NewConnectionFromURL(ctx, cfg.Database.URL)
		if err != nil {
			return fmt.Errorf("failed to connect to postgres: %w", err)
		}
		defer func() {
			log.Info("closing postgres connection...")
			conn.Close()
		}()

		if err := conn.Ping(ctx); err != nil {
			return fmt.Errorf("postgres ping failed: %w", err)
		}

		log.Info("running migrations...")
		if err := postgres.NewMigrator(conn).Migrate(ctx); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}

		uowFactory = postgres.NewUnitOfWorkFactory(conn)
		progressRepo = postgres.NewProgressRepository(conn)
		accountRepo = postgres.NewAccountRepository(conn)
		ledgerRepo = postgres.NewLedgerRepository(conn)
		streakRepo = postgres.NewStreakRepository(conn)
		log.Info("postgres ready")
	}
	_ = progressRepo // читающая сторона прогресса живёт в query-обработчиках

	// ─────────────────────────────────────────────────────────────────────────
	// 3. REDIS: КЕШ ЛИДЕРБОРДА И ОЧЕРЕДЬ СОБЫТИЙ
	// ─────────────────────────────────────────────────────────────────────────
	var (
		redisCache *redis.Cache
		lbCache    leaderboard.Cache
		queue      *redis.EventQueue
	)

	if !cfg.Redis.Disabled {
		log.Info("connecting to redis...")
		redisCfg := redis.DefaultConfig()
		redisCfg.Host = cfg.Redis.Host
		redisCfg.Port = cfg.Redis.Port
		redisCfg.Password = cfg.Redis.Password
		redisCfg.DB = cfg.Redis.DB
		redisCfg.PoolSize = cfg.Redis.PoolSize
		redisCfg.MinIdleConns = cfg.Redis.MinIdleConns
		redisCfg.DialTimeout = cfg.Redis.DialTimeout
		redisCfg.ReadTimeout = cfg.Redis.ReadTimeout
		redisCfg.WriteTimeout = cfg.Redis.WriteTimeout

		redisCache, err = redis.NewCache(redisCfg)
		if err != nil {
			if cfg.IsProduction() {
				return fmt.Errorf("failed to connect to redis: %w", err)
			}
			log.Warn("failed to connect to redis, queue and cache disabled", logger.Err(err))
		} else {
			defer redisCache.Close()
			queue = redis.NewEventQueue(redisCache, cfg.Worker.QueueKey)
			if cfg.Features.IsEnabled(config.FeatureLeaderboardCache, nil) {
				lbCache = redis.NewLeaderboardCache(redisCache)
			}
			log.Info("redis ready", logger.String("queue_key", cfg.Worker.QueueKey))
		}
	}
	if lbCache == nil {
		lbCache = memory.NewLeaderboardCache()
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 4. ШИНА СОБЫТИЙ И ДИСПЕТЧЕР
	// ─────────────────────────────────────────────────────────────────────────
	var (
		bus      shared.EventBus
		closeBus func() error
	)

	busCfg := messaging.DefaultInMemoryEventBusConfig()
	busCfg.Logger = log
	if redisCache != nil && cfg.Features.IsEnabled(config.FeatureExperimentalRedisBus, nil) {
		redisBus, err := messaging.NewRedisEventBus(messaging.RedisEventBusConfig{
			Client:         messaging.NewGoRedisClient(redisCache.Client()),
			InstanceID:     fmt.Sprintf("%s-%d", cfg.App.Name, os.Getpid()),
			LocalBusConfig: busCfg,
			Logger:         log,
		})
		if err != nil {
			return fmt.Errorf("failed to start redis event bus: %w", err)
		}
		bus, closeBus = redisBus, redisBus.Close
	} else {
		localBus := messaging.NewInMemoryEventBus(busCfg)
		bus, closeBus = localBus, localBus.Close
	}
	defer func() {
		log.Info("closing event bus...")
		_ = closeBus()
	}()

	dispatcherCfg := messaging.DefaultDispatcherConfig(bus)
	dispatcherCfg.Logger = log
	dispatcherCfg.DeadLetterQueueSize = cfg.Worker.DeadLetterSize
	dispatcher := messaging.NewDispatcher(dispatcherCfg)

	onPoints := eventhandler.NewOnPointsAwardedHandler(lbCache, log, time.Minute)
	onStreak := eventhandler.NewOnStreakChangedHandler(lbCache, log)
	onBadge := eventhandler.NewOnBadgeUnlockedHandler(log, nil)

	if err := dispatcher.Register(onPoints.EventType(), "invalidate_points_boards", onPoints.Handle); err != nil {
		return err
	}
	for _, eventType := range onStreak.EventTypes() {
		if err := dispatcher.Register(eventType, "invalidate_streak_board", onStreak.Handle); err != nil {
			return err
		}
	}
	if err := dispatcher.Register(onBadge.EventType(), "badge_audit", onBadge.Handle); err != nil {
		return err
	}
	if err := dispatcher.Start(); err != nil {
		return fmt.Errorf("failed to start dispatcher: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. ВНЕШНИЙ ФИД СИГНАЛОВ И КАТАЛОГ ПРЕДМЕТОВ
	// ─────────────────────────────────────────────────────────────────────────
	var feed *signals.Client
	var catalog gamification.SubjectCatalog

	if cfg.Signals.BaseURL != "" {
		feedCfg := signals.DefaultClientConfig(cfg.Signals.BaseURL)
		feedCfg.APIKey = cfg.Signals.APIKey
		feedCfg.PageSize = cfg.Signals.PageSize
		feedCfg.Timeout = cfg.Signals.RequestTimeout
		feedCfg.RateLimiter.RequestsPerSecond = cfg.Signals.RequestsPerSecond
		feedCfg.RateLimiter.BurstSize = cfg.Signals.Burst
		feedCfg.Retry = retry.Policy{
			MaxAttempts:  cfg.Signals.MaxRetries + 1,
			InitialDelay: cfg.Signals.RetryBaseDelay,
			MaxDelay:     cfg.Signals.RetryMaxDelay,
			Multiplier:   2.0,
			JitterFactor: 0.1,
		}
		feedCfg.Logger = log
		feed = signals.NewClient(feedCfg)
		catalog = feed
	} else {
		log.Warn("signal feed is not configured, subject catalog is empty and weekly jobs are off")
		catalog = memory.NewSubjectCatalog(nil)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 6. ОБРАБОТЧИКИ КОМАНД И ЗАПРОСОВ
	// ─────────────────────────────────────────────────────────────────────────
	schedule := cfg.Engine.AwardSchedule()
	if !cfg.Features.IsEnabled(config.FeatureEnginePerfectBonus, nil) {
		schedule.PerfectBonus = 0
	}

	// Один набор per-student блокировок на все пишущие обработчики:
	// событие, ручное начисление и внешний сигнал одного студента
	// никогда не применяются одновременно.
	locks := keymutex.New()

	processHandler := command.NewProcessEventHandler(uowFactory, catalog, bus, log,
		command.ProcessEventHandlerConfig{
			Schedule:          schedule,
			Location:          cfg.App.Location,
			SpeedBonusEnabled: cfg.Features.IsEnabled(config.FeatureEngineSpeedBonus, nil),
		}).WithLocks(locks)
	weeklyHandler := command.NewApplyWeeklySignalsHandler(uowFactory, bus, log, schedule).WithLocks(locks)
	peerHelpHandler := command.NewRecordPeerHelpHandler(uowFactory, bus, log).WithLocks(locks)

	optOut := memory.NewOptOutProvider(nil)
	leaderboardHandler := query.NewGetLeaderboardHandler(accountRepo, ledgerRepo, streakRepo, lbCache, optOut, log)

	// ─────────────────────────────────────────────────────────────────────────
	// 7. ПЛАНИРОВЩИК ФОНОВЫХ ЗАДАЧ
	// ─────────────────────────────────────────────────────────────────────────
	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		sched = scheduler.New(scheduler.Config{
			Logger:   log,
			Timezone: cfg.App.Location,
		})

		rebuild := jobs.NewRebuildLeaderboardJob(lbCache, leaderboardHandler, log)
		if err := sched.Register(rebuild, scheduler.NewIntervalSchedule(cfg.Scheduler.RebuildLeaderboardInterval)); err != nil {
			return err
		}

		reconcile := jobs.NewReconcileAccountsJob(accountRepo, ledgerRepo, log)
		if err := sched.Register(reconcile, scheduler.NewIntervalSchedule(cfg.Scheduler.ReconcileInterval)); err != nil {
			return err
		}
		if !cfg.Features.IsEnabled(config.FeatureJobsReconcile, nil) {
			if err := sched.DisableJob(reconcile.Name()); err != nil {
				return err
			}
		}

		if feed != nil {
			rollover := jobs.NewWeeklyRolloverJob(feed, weeklyHandler, log, cfg.App.Location)
			weeklyAt := scheduler.NewWeeklySchedule(
				cfg.Scheduler.RolloverWeekday,
				cfg.Scheduler.RolloverHour,
				cfg.Scheduler.RolloverMinute,
				cfg.App.Location,
			)
			if err := sched.Register(rollover, weeklyAt); err != nil {
				return err
			}
			if !cfg.Features.IsEnabled(config.FeatureJobsWeeklyRollover, nil) {
				if err := sched.DisableJob(rollover.Name()); err != nil {
					return err
				}
			}

			peerHelp := jobs.NewPeerHelpSyncJob(feed, peerHelpHandler, log, cfg.Scheduler.PeerHelpSyncInterval)
			if err := sched.Register(peerHelp, scheduler.NewIntervalSchedule(cfg.Scheduler.PeerHelpSyncInterval)); err != nil {
				return err
			}
			if !cfg.Features.IsEnabled(config.FeatureJobsPeerHelpSync, nil) {
				if err := sched.DisableJob(peerHelp.Name()); err != nil {
					return err
				}
			}
		}

		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
		defer func() {
			log.Info("stopping scheduler...")
			_ = sched.Stop()
		}()
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 8. ПРИЁМ СОБЫТИЙ ИЗ ОЧЕРЕДИ
	// ─────────────────────────────────────────────────────────────────────────
	var wg sync.WaitGroup
	if queue != nil {
		log.Info("starting intake loops", logger.Int("concurrency", cfg.Worker.Concurrency))
		for i := 0; i < cfg.Worker.Concurrency; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				intakeLoop(ctx, queue, processHandler, cfg.Worker.DequeueTimeout, log)
			}()
		}
	} else {
		log.Warn("event queue is unavailable, intake is disabled")
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 9. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("worker is running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	log.Info("received shutdown signal", logger.String("signal", sig.String()))

	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(cfg.App.ShutdownTimeout):
		log.Warn("shutdown timeout exceeded, intake loops did not stop in time")
	}

	log.Info("shutdown completed")
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// ПРИЁМ СОБЫТИЙ
// ══════════════════════════════════════════════════════════════════════════════

// rawEventWire - формат события в очереди.
type rawEventWire struct {
	EventID      string    `json:"event_id"`
	StudentID    string    `json:"student_id"`
	ConceptID    string    `json:"concept_id"`
	SubjectID    string    `json:"subject_id,omitempty"`
	Kind         string    `json:"kind"`
	Score        *float64  `json:"score,omitempty"`
	TimeSpentSec int64     `json:"time_spent_sec,omitempty"`
	OccurredAt   time.Time `json:"occurred_at,omitempty"`
}

func (w rawEventWire) toRaw() learning.RawEvent {
	return learning.RawEvent{
		EventID:      w.EventID,
		StudentID:    w.StudentID,
		ConceptID:    w.ConceptID,
		SubjectID:    w.SubjectID,
		Kind:         w.Kind,
		Score:        w.Score,
		TimeSpentSec: w.TimeSpentSec,
		OccurredAt:   w.OccurredAt,
	}
}

// intakeLoop вычитывает события из очереди и проводит каждое через
// конвейер. Ошибка обработки не роняет цикл: событие логируется и цикл
// продолжается, повторную доставку обеспечивает источник.
func intakeLoop(ctx context.Context, queue *redis.EventQueue, handler *command.ProcessEventHandler, timeout time.Duration, log *logger.Logger) {
	log = log.With(logger.Component("intake"))

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		payload, err := queue.Dequeue(ctx, timeout)
		if err != nil {
			if errors.Is(err, redis.ErrQueueEmpty) || ctx.Err() != nil {
				continue
			}
			log.Error("failed to dequeue event", logger.Err(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		var wire rawEventWire
		if err := json.Unmarshal(payload, &wire); err != nil {
			log.Error("malformed event payload, dropping", logger.Err(err))
			continue
		}

		result, err := handler.Handle(ctx, command.ProcessEventCommand{Raw: wire.toRaw()})
		if err != nil {
			log.Error("failed to process event",
				logger.String("event_id", wire.EventID),
				logger.StudentID(wire.StudentID),
				logger.Err(err),
			)
			continue
		}

		if result.Duplicate {
			log.Debug("duplicate event replayed",
				logger.String("event_id", result.EventID),
				logger.StudentID(result.StudentID),
			)
		}
	}
}
