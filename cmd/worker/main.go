package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/projectrefill/refill-backend/internal/driftwatch"
	"github.com/projectrefill/refill-backend/pkg/bigquery"
	"github.com/projectrefill/refill-backend/pkg/config"
	"github.com/projectrefill/refill-backend/pkg/instance"
	"github.com/projectrefill/refill-backend/pkg/logger"
	"github.com/projectrefill/refill-backend/pkg/metrics"
	"github.com/projectrefill/refill-backend/pkg/outbox/idempotency"
	"github.com/projectrefill/refill-backend/pkg/pubsub"
	"github.com/projectrefill/refill-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "drift-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "drift-worker"

	logg = logger.New(logger.Options{
		ServiceName: "drift-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		Format:      cfg.App.LogFormat,
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	pubsubClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap pubsub", err)
		os.Exit(1)
	}
	defer func() {
		if err := pubsubClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing pubsub", err)
		}
	}()

	deps := []dependency{
		{name: "redis", ping: redisClient.Ping},
		{name: "pubsub", ping: pubsubClient.Ping},
	}

	var rows driftwatch.RowInserter
	if cfg.BigQuery.Enabled() {
		tables := driftwatch.ExportTables(cfg.BigQuery.DriftEventsTable, cfg.BigQuery.ReconciliationTable)
		bq, err := bigquery.NewClient(ctx, cfg.GCP, cfg.BigQuery, tables, logg)
		if err != nil {
			logg.Error(ctx, "failed to bootstrap bigquery", err)
			os.Exit(1)
		}
		defer func() {
			if err := bq.Close(); err != nil {
				logg.Error(context.Background(), "error closing bigquery", err)
			}
		}()
		rows = bq
		deps = append(deps, dependency{name: "bigquery", ping: bq.Ping})
	} else {
		logg.Warn(ctx, "bigquery dataset not configured, drift rows will not be exported")
	}

	driftMetrics := metrics.NewDriftWatchMetrics(prometheus.DefaultRegisterer)
	tracker, err := driftwatch.NewTracker(driftwatch.TrackerParams{
		Store:               redisClient,
		Rows:                rows,
		DriftTable:          cfg.BigQuery.DriftEventsTable,
		ReconciliationTable: cfg.BigQuery.ReconciliationTable,
		Threshold:           cfg.DriftWatch.StreakThreshold,
		TTL:                 cfg.DriftWatch.StreakTTL,
		Metrics:             driftMetrics,
		Logger:              logg,
	})
	if err != nil {
		logg.Error(ctx, "failed to create drift tracker", err)
		os.Exit(1)
	}

	manager, err := idempotency.NewManager(redisClient, cfg.DriftWatch.ProcessingLease, cfg.DriftWatch.ProcessedTTL)
	if err != nil {
		logg.Error(ctx, "failed to create idempotency manager", err)
		os.Exit(1)
	}

	subscription := pubsubClient.DriftSubscription()
	if subscription == nil {
		logg.Error(ctx, "drift subscription not configured", errors.New(config.EnvPubSubDriftSubscription+" is empty"))
		os.Exit(1)
	}

	consumer, err := driftwatch.NewService(driftwatch.ServiceParams{
		Subscription: subscription,
		Handler:      tracker,
		Idempotency:  manager,
		Metrics:      driftMetrics,
		Logger:       logg,
	})
	if err != nil {
		logg.Error(ctx, "failed to create drift consumer", err)
		os.Exit(1)
	}

	service, err := NewService(ServiceParams{
		Logger:       logg,
		Consumer:     consumer,
		Dependencies: deps,
	})
	if err != nil {
		logg.Error(ctx, "failed to create worker service", err)
		os.Exit(1)
	}

	ctx = logg.WithFields(ctx, map[string]any{
		"env":          cfg.App.Env,
		"serviceKind":  cfg.Service.Kind,
		"instance":     instance.GetID(cfg.Service.Kind),
		"subscription": cfg.PubSub.DriftSubscription,
	})
	logg.Info(ctx, "starting drift worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "drift worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "drift worker shutting down gracefully")
}
