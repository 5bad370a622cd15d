package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/projectrefill/refill-backend/pkg/config"
	"github.com/projectrefill/refill-backend/pkg/db"
	"github.com/projectrefill/refill-backend/pkg/instance"
	"github.com/projectrefill/refill-backend/pkg/logger"
	"github.com/projectrefill/refill-backend/pkg/metrics"
	"github.com/projectrefill/refill-backend/pkg/migrate"
	"github.com/projectrefill/refill-backend/pkg/outbox"
	"github.com/projectrefill/refill-backend/pkg/outbox/registry"
	"github.com/projectrefill/refill-backend/pkg/pubsub"
)

const serviceName = "outbox-publisher"

func main() {
	logg := logger.New(logger.Options{ServiceName: serviceName})
	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	cfg.Service.Kind = serviceName
	logg = logger.New(logger.Options{
		ServiceName: serviceName,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		Format:      cfg.App.LogFormat,
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": serviceName,
		"instance":    instance.GetID(serviceName),
	})

	if err := run(ctx, cfg, logg); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "outbox publisher stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(ctx, "outbox publisher shutting down gracefully")
}

func run(ctx context.Context, cfg *config.Config, logg *logger.Logger) error {
	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return err
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()
	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		return err
	}

	pubsubClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
	if err != nil {
		return err
	}
	defer func() {
		if err := pubsubClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing pubsub client", err)
		}
	}()
	if err := pubsubClient.Ping(ctx); err != nil {
		return err
	}

	events, err := registry.New(cfg.PubSub)
	if err != nil {
		return err
	}
	relay, err := NewRelay(RelayParams{
		Config:   cfg.Outbox,
		Logger:   logg,
		DB:       dbClient,
		Rows:     outbox.NewRepository(dbClient.DB()),
		DLQ:      outbox.NewDLQRepository(dbClient.DB()),
		Registry: events,
		Sender:   pubsubSender{client: pubsubClient},
		Metrics:  metrics.NewOutboxMetrics(prometheus.DefaultRegisterer),
	})
	if err != nil {
		return err
	}

	logg.Info(ctx, "starting outbox publisher")
	return relay.Run(ctx)
}
