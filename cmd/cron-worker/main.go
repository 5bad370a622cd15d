package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/projectrefill/refill-backend/internal/audit"
	"github.com/projectrefill/refill-backend/internal/cron"
	"github.com/projectrefill/refill-backend/internal/reconciliation"
	"github.com/projectrefill/refill-backend/internal/stock"
	"github.com/projectrefill/refill-backend/pkg/config"
	"github.com/projectrefill/refill-backend/pkg/db"
	"github.com/projectrefill/refill-backend/pkg/instance"
	"github.com/projectrefill/refill-backend/pkg/logger"
	"github.com/projectrefill/refill-backend/pkg/metrics"
	"github.com/projectrefill/refill-backend/pkg/migrate"
	"github.com/projectrefill/refill-backend/pkg/outbox"
	"github.com/projectrefill/refill-backend/pkg/redis"
)

const lockName = "cron-worker"

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		Format:      cfg.App.LogFormat,
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	auditRecorder, err := audit.NewService(audit.NewRepository(dbClient.DB()))
	if err != nil {
		logg.Error(context.Background(), "failed to create audit recorder", err)
		os.Exit(1)
	}
	outboxRepo := outbox.NewRepository(dbClient.DB())
	reconciler, err := reconciliation.NewService(reconciliation.ServiceParams{
		DB:         dbClient,
		Repository: reconciliation.NewRepository(dbClient.DB()),
		Pairs:      stock.NewRepository(dbClient.DB()),
		Corrector:  stock.NewPoster(),
		Audit:      auditRecorder,
		Outbox:     outbox.NewService(outboxRepo, logg),
		Metrics:    metrics.NewInventoryMetrics(prometheus.DefaultRegisterer),
		Logger:     logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create reconciliation service", err)
		os.Exit(1)
	}

	runLocation, err := cfg.Reconciliation.Location()
	if err != nil {
		logg.Error(context.Background(), "invalid reconciliation timezone", err)
		os.Exit(1)
	}
	reconcileJob, err := cron.NewReconciliationJob(cron.ReconciliationJobParams{
		Logger:     logg,
		Reconciler: reconciler,
		Actor:      cfg.Reconciliation.Actor,
		Location:   runLocation,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create reconciliation job", err)
		os.Exit(1)
	}
	retentionJob, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:        logg,
		DB:            dbClient,
		Repository:    outboxRepo,
		RetentionDays: cfg.Outbox.RetentionDays,
		MaxAttempts:   cfg.Outbox.MaxAttempts,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create outbox retention job", err)
		os.Exit(1)
	}

	lock, err := cron.NewRedisLock(cron.RedisLockParams{
		Client: redisClient,
		Key:    redisClient.LockKey(lockName + ":" + envOrLocal(cfg.App.Env)),
		Holder: instance.GetID(cfg.Service.Kind),
		TTL:    cfg.Reconciliation.LockTTL,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:     logg,
		Registry:   cron.NewRegistry(reconcileJob, retentionJob),
		Lock:       lock,
		Metrics:    metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Interval:   cfg.Reconciliation.Interval,
		JobTimeout: cfg.Reconciliation.LockTTL,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"interval":    cfg.Reconciliation.Interval.String(),
	})
	if cfg.Reconciliation.RunOnce {
		if err := runOnce(ctx, service, cfg.Reconciliation.OnlyJob); err != nil {
			logg.Error(ctx, "cron run failed", err)
			os.Exit(1)
		}
		logg.Info(ctx, "cron run complete")
		return
	}

	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

func runOnce(ctx context.Context, service *cron.Service, only string) error {
	if only != "" {
		return service.RunJob(ctx, only)
	}
	return service.RunCycle(ctx)
}

func envOrLocal(env string) string {
	if env == "" {
		return "local"
	}
	return env
}
