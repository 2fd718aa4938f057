package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/helpdesk/internal/api/http"
	"github.com/spec-kit/helpdesk/internal/api/http/handlers"
	"github.com/spec-kit/helpdesk/internal/auth"
	"github.com/spec-kit/helpdesk/internal/config"
	"github.com/spec-kit/helpdesk/internal/events"
	"github.com/spec-kit/helpdesk/internal/notify"
	"github.com/spec-kit/helpdesk/internal/observability"
	"github.com/spec-kit/helpdesk/internal/persistence"
	"github.com/spec-kit/helpdesk/internal/realtime"
	"github.com/spec-kit/helpdesk/internal/repository"
	"github.com/spec-kit/helpdesk/internal/repository/memory"
	"github.com/spec-kit/helpdesk/internal/service"
	"github.com/spec-kit/helpdesk/internal/worker"
	"github.com/spec-kit/helpdesk/pkg/util/retry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	if pg.Enabled() && cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pg.PoolHandle(), cfg.Postgres.MigrationsDir, logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	var store repository.Store
	if pg.Enabled() {
		store = repository.NewPostgresStore(pg.PoolHandle())
	} else {
		store = memory.New()
	}
	if cfg.App.SeedUsersFile != "" {
		users, err := persistence.LoadUserSeed(cfg.App.SeedUsersFile)
		if err != nil {
			logger.Fatal("failed to load user seed", zap.Error(err))
		}
		if err := persistence.SeedUsers(ctx, store.Repositories().Users, users, logger); err != nil {
			logger.Fatal("failed to seed users", zap.Error(err))
		}
	}

	metrics := observability.NewMetrics()
	health := map[string]handlers.Pinger{"store": store}

	var (
		broker realtime.Broker
		locker service.Locker
	)
	redis := persistence.NewRedis(cfg.Redis, logger)
	defer redis.Close()
	if err := redis.Ping(ctx); err == nil {
		broker = realtime.NewRedisBroker(redis.Client, cfg.Redis.ChannelPrefix, logger)
		locker = persistence.NewRedisLocker(redis.Client, "")
		health["redis"] = redis
	} else {
		logger.Warn("redis unavailable; change feed and redistribution lock are process-local", zap.Error(err))
		hub := realtime.NewHub()
		broker = hub
		go reportDroppedChanges(ctx, hub, metrics)
	}

	loc, err := cfg.App.Location()
	if err != nil {
		logger.Fatal("invalid timezone", zap.String("timezone", cfg.App.Timezone), zap.Error(err))
	}

	dispatcher := events.NewInMemoryDispatcher()
	rt := service.Runtime{
		Store:      store,
		Dispatcher: dispatcher,
		Broker:     broker,
		Metrics:    metrics,
		Logger:     logger,
		Retry:      cfg.Queue.RetryPolicy(),
		Timeout:    cfg.Queue.OperationTimeout(),
	}
	assignmentService := service.NewAssignmentService(service.AssignmentDependencies{
		Runtime: rt,
		Locker:  locker,
		LockTTL: cfg.Queue.RedistributeLockTTL(),
	})
	ticketService := service.NewTicketService(service.TicketDependencies{
		Runtime:    rt,
		Assignment: assignmentService,
		Location:   loc,
	})
	financeService := service.NewFinanceService(store, nil)

	notificationWorker := worker.NewNotificationWorker(
		notify.NewSender(cfg.Notification, logger),
		cfg.Notification.QueueSize,
		retry.Policy{Attempts: cfg.Notification.SendAttempts, BaseDelay: time.Second},
		logger,
		metrics,
	)
	notificationService := service.NewNotificationService(dispatcher, notificationWorker, logger, metrics, cfg.Notification)
	worker.StartNotificationWorker(ctx, notificationService, notificationWorker)

	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTLMinutes)
	authMiddleware := auth.NewAuthMiddleware(tokens, store.Repositories().Users)

	app := fiber.New(fiber.Config{AppName: cfg.App.Name})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())

	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, health),
		Tickets:        handlers.NewTicketsHandler(ticketService, assignmentService),
		Queue:          handlers.NewQueueHandler(assignmentService),
		Finance:        handlers.NewFinanceHandler(financeService),
		Realtime:       handlers.NewRealtimeHandler(broker, logger),
		Metrics:        metrics,
		AuthMiddleware: authMiddleware.Handle,
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	_ = app.ShutdownWithTimeout(10 * time.Second)
	cancel()
	notificationWorker.Wait()
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}

func reportDroppedChanges(ctx context.Context, hub *realtime.Hub, metrics *observability.Metrics) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	var last int64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			dropped := hub.Dropped()
			metrics.RecordDroppedChanges(dropped - last)
			last = dropped
		}
	}
}
