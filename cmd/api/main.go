package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/projectrefill/refill-backend/api/routes"
	"github.com/projectrefill/refill-backend/internal/audit"
	"github.com/projectrefill/refill-backend/internal/events"
	"github.com/projectrefill/refill-backend/internal/numbering"
	"github.com/projectrefill/refill-backend/internal/reconciliation"
	"github.com/projectrefill/refill-backend/internal/stock"
	"github.com/projectrefill/refill-backend/pkg/config"
	"github.com/projectrefill/refill-backend/pkg/db"
	"github.com/projectrefill/refill-backend/pkg/logger"
	"github.com/projectrefill/refill-backend/pkg/metrics"
	"github.com/projectrefill/refill-backend/pkg/migrate"
	"github.com/projectrefill/refill-backend/pkg/outbox"
	"github.com/projectrefill/refill-backend/pkg/redis"
)

const shutdownTimeout = 15 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
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

	registry := prometheus.NewRegistry()
	inventoryMetrics := metrics.NewInventoryMetrics(registry)

	auditRecorder, err := audit.NewService(audit.NewRepository(dbClient.DB()))
	if err != nil {
		logg.Error(context.Background(), "failed to create audit recorder", err)
		os.Exit(1)
	}
	outboxService := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)
	stockRepo := stock.NewRepository(dbClient.DB())
	poster := stock.NewPoster()

	eventsService, err := events.NewService(events.ServiceParams{
		DB:         dbClient,
		Repository: events.NewRepository(dbClient.DB()),
		Numbering:  numbering.NewService(),
		Poster:     poster,
		Audit:      auditRecorder,
		Outbox:     outboxService,
		Metrics:    inventoryMetrics,
		Logger:     logg,
		Config:     cfg.Numbering,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create events service", err)
		os.Exit(1)
	}

	reconciler, err := reconciliation.NewService(reconciliation.ServiceParams{
		DB:         dbClient,
		Repository: reconciliation.NewRepository(dbClient.DB()),
		Pairs:      stockRepo,
		Corrector:  poster,
		Audit:      auditRecorder,
		Outbox:     outboxService,
		Metrics:    inventoryMetrics,
		Logger:     logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create reconciliation service", err)
		os.Exit(1)
	}

	server := &http.Server{
		Addr: ":" + cfg.App.Port,
		Handler: routes.NewRouter(routes.Deps{
			Config:         cfg,
			Logger:         logg,
			DB:             dbClient,
			Redis:          redisClient,
			Idempotency:    redisClient,
			Events:         eventsService,
			Inventory:      stockRepo,
			Reconciliation: reconciler,
			Audit:          auditRecorder,
			Gatherer:       registry,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logg.Info(logg.WithField(ctx, "addr", server.Addr), "starting api server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			logg.Error(context.Background(), "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logg.Error(shutdownCtx, "api server shutdown failed", err)
	}
	logg.Info(shutdownCtx, "api server stopped")
}
