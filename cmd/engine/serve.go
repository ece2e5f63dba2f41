package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/neuroswitch/progression-engine/internal/application/command"
	"github.com/neuroswitch/progression-engine/internal/application/eventhandler"
	"github.com/neuroswitch/progression-engine/internal/application/query"
	"github.com/neuroswitch/progression-engine/internal/application/session"
	"github.com/neuroswitch/progression-engine/internal/domain/achievement"
	"github.com/neuroswitch/progression-engine/internal/domain/dailyreward"
	"github.com/neuroswitch/progression-engine/internal/domain/shared"
	"github.com/neuroswitch/progression-engine/internal/infrastructure/curriculum"
	"github.com/neuroswitch/progression-engine/internal/infrastructure/messaging"
	"github.com/neuroswitch/progression-engine/internal/infrastructure/metrics"
	"github.com/neuroswitch/progression-engine/internal/infrastructure/observability"
	"github.com/neuroswitch/progression-engine/internal/infrastructure/scheduler"
	httpserver "github.com/neuroswitch/progression-engine/internal/interface/http"
	"github.com/neuroswitch/progression-engine/internal/interface/http/handlers"
	"github.com/neuroswitch/progression-engine/pkg/logger"
	"github.com/neuroswitch/progression-engine/pkg/timeutil"
)

func newServeCmd(a *app, preRun func(*cobra.Command, []string) error) *cobra.Command {
	return &cobra.Command{
		Use:     "serve",
		Short:   "Run the REST API with background jobs",
		PreRunE: preRun,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.serve(cmd.Context())
		},
	}
}

func (a *app) serve(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	cfg, log := a.cfg, a.log

	log.Info("starting progression engine",
		logger.String("version", cfg.App.Version),
		logger.String("database", cfg.Database.Driver),
	)

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 1. Tracing & metrics
	// ─────────────────────────────────────────────────────────────────────────

	shutdownTracing, err := observability.InitTracing(ctx, observability.Config{
		Enabled:     cfg.Observability.TracingEnabled,
		ServiceName: cfg.Observability.ServiceName,
		Environment: string(cfg.App.Environment),
		Version:     cfg.App.Version,
	}, log)
	if err != nil {
		return fmt.Errorf("failed to init tracing: %w", err)
	}

	m := metrics.New()

	// ─────────────────────────────────────────────────────────────────────────
	// 2. Curriculum & policies
	// ─────────────────────────────────────────────────────────────────────────

	cur, err := curriculum.Load(cfg.Engine.CurriculumFile)
	if err != nil {
		return fmt.Errorf("failed to load curriculum: %w", err)
	}
	log.Info("curriculum loaded",
		logger.Int("phases", len(cur.Phases())),
		logger.Int("lessons", cur.Len()),
	)

	policy := dailyreward.NewPolicy(cfg.Engine.DailyRewardAmount, cfg.App.Location)
	catalog := achievement.NewCatalog(cur.PhaseEnds())

	// ─────────────────────────────────────────────────────────────────────────
	// 3. Storage
	// ─────────────────────────────────────────────────────────────────────────

	store, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error("failed to close store", logger.Err(err))
		}
	}()

	redisCache, progressCache := openProgressCache(ctx, cfg, m, log)
	if redisCache != nil {
		defer func() { _ = redisCache.Close() }()
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 4. Event bus
	// ─────────────────────────────────────────────────────────────────────────

	bus := messaging.NewInMemoryEventBus(messaging.Config{
		AsyncMode:      true,
		WorkerPoolSize: 8,
		Logger:         log,
		Metrics:        m,
	})
	dispatcher := messaging.NewDispatcher(bus, log)

	if progressCache != nil {
		onProgress := eventhandler.NewOnProgressChangedHandler(progressCache, log)
		for _, eventType := range onProgress.EventTypes() {
			if err := dispatcher.RegisterHandler(eventType, messaging.Registration{
				Name:        "invalidate_score_cache",
				Handler:     onProgress.Handle,
				MaxAttempts: 3,
			}); err != nil {
				return fmt.Errorf("failed to register handler: %w", err)
			}
		}
	}
	onAchievement := eventhandler.NewOnAchievementUnlockedHandler(log)
	if err := dispatcher.Register(shared.EventAchievementUnlocked, "log_achievement", onAchievement.Handle); err != nil {
		return fmt.Errorf("failed to register handler: %w", err)
	}
	if err := dispatcher.Start(); err != nil {
		return fmt.Errorf("failed to start dispatcher: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. Application layer
	// ─────────────────────────────────────────────────────────────────────────

	clock := timeutil.SystemClock{}
	handlerCfg := command.HandlerConfig{
		StoreAttempts:     cfg.Engine.StoreAttempts,
		StoreInitialDelay: cfg.Engine.StoreInitialDelay,
		Clock:             clock,
		Flags:             cfg.Features,
		Metrics:           m,
		Logger:            log,
	}

	registerLearner := command.NewRegisterLearnerHandler(store, bus, handlerCfg)
	finalizeLesson := command.NewFinalizeLessonHandler(store, cur, catalog, bus, handlerCfg)
	claimDailyReward := command.NewClaimDailyRewardHandler(store, policy, catalog, bus, handlerCfg)

	// A nil *ProgressCache must not end up inside the interface.
	var dashboardCache query.ProgressCache
	if progressCache != nil {
		dashboardCache = progressCache
	}
	getDashboard := query.NewGetDashboardHandler(store, dashboardCache, cur, catalog, policy, query.Config{
		Clock:  clock,
		Flags:  cfg.Features,
		Logger: log,
	})
	previewScores := query.NewPreviewScoresHandler(cfg.Features)

	sessions := session.NewManager(cur, store.Positions(), finalizeLesson, session.Config{
		Clock:     clock,
		Publisher: bus,
		Metrics:   m,
		Logger:    log,
	})

	// ─────────────────────────────────────────────────────────────────────────
	// 6. Scheduler
	// ─────────────────────────────────────────────────────────────────────────

	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		sched = scheduler.New(scheduler.Config{
			Logger:     log,
			Metrics:    m,
			JobTimeout: cfg.Scheduler.JobTimeout,
		})
		job := scheduler.NewReapSessionsJob(sessions, cfg.Engine.SessionIdleTTL, log)
		if err := sched.Register(job, scheduler.Every(cfg.Scheduler.ReapInterval)); err != nil {
			return fmt.Errorf("failed to register job: %w", err)
		}
		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 7. HTTP server
	// ─────────────────────────────────────────────────────────────────────────

	health := handlers.NewCompositeHealthChecker(cfg.App.Version)
	health.AddCheck("store", handlers.NewPingCheck(store))
	if redisCache != nil {
		health.AddOptionalCheck("redis", handlers.NewPingCheck(redisCache))
		health.AddOptionalCheck("score_cache_breaker", handlers.NewBreakerCheck(progressCache.Breaker()))
	}

	server := httpserver.NewServer(httpserver.ConfigFrom(cfg), httpserver.Dependencies{
		RegisterLearner:  registerLearner,
		ClaimDailyReward: claimDailyReward,
		GetDashboard:     getDashboard,
		PreviewScores:    previewScores,
		Sessions:         sessions,
		Curriculum:       cur,
		HealthChecker:    health,
		Metrics:          m,
		Logger:           log,
	})

	errCh := server.StartAsync()
	log.Info("progression engine is running", logger.String("address", server.Address()))

	// ─────────────────────────────────────────────────────────────────────────
	// 8. Graceful shutdown
	// ─────────────────────────────────────────────────────────────────────────

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("received shutdown signal")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server error", logger.Err(err))
			runErr = err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("failed to shutdown http server", logger.Err(err))
	}
	if sched != nil {
		if err := sched.Stop(); err != nil {
			log.Error("failed to stop scheduler", logger.Err(err))
		}
	}
	dispatcher.Stop()
	if err := bus.Close(); err != nil {
		log.Error("failed to close event bus", logger.Err(err))
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Error("failed to flush traces", logger.Err(err))
	}

	log.Info("progression engine stopped")
	return runErr
}
