package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/projectrefill/refill-backend/pkg/config"
	"github.com/projectrefill/refill-backend/pkg/db"
	"github.com/projectrefill/refill-backend/pkg/logger"
)

func main() {
	if err := newRootCmd(openRuntime).Execute(); err != nil {
		os.Exit(1)
	}
}

// runtime holds what every subcommand needs. close releases it.
type runtime struct {
	cfg   *config.Config
	logg  *logger.Logger
	db    *db.Client
	close func()
}

type opener func(ctx context.Context) (*runtime, error)

func openRuntime(ctx context.Context) (*runtime, error) {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logg := logger.New(logger.Options{
		ServiceName: "refillctl",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		Format:      cfg.App.LogFormat,
		WarnStack:   cfg.App.LogWarnStack,
		Output:      os.Stderr,
	})
	client, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	return &runtime{
		cfg:  cfg,
		logg: logg,
		db:   client,
		close: func() {
			if err := client.Close(); err != nil {
				logg.Error(context.Background(), "error closing database", err)
			}
		},
	}, nil
}
