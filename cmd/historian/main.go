// cmd/historian is an asynchronous worker that pops game actions from the
// Redis queue and persists them to PostgreSQL.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/jason-s-yu/magicmatch/internal/cache"
	"github.com/jason-s-yu/magicmatch/internal/config"
	"github.com/jason-s-yu/magicmatch/internal/database"
	"github.com/jason-s-yu/magicmatch/internal/historian"
	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"
)

func main() {
	if err := run(); err != nil {
		logrus.Fatalf("historian exited: %v", err)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, err := cfg.Logger()
	if err != nil {
		return err
	}
	if cfg.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required")
	}
	if cfg.RedisAddr == "" {
		return errors.New("REDIS_ADDR is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := database.ConnectDB(ctx, cfg.DatabaseURL); err != nil {
		return err
	}
	defer database.DB.Close()
	if err := database.EnsureSchema(ctx, database.DB); err != nil {
		return err
	}

	rdb, err := cache.NewClient(cfg.RedisAddr, cfg.RedisDB)
	if err != nil {
		return err
	}
	defer rdb.Close()

	svc := historian.NewService(
		&cache.Queue{Client: rdb, Name: cfg.HistorianQueueName},
		&database.GameHistoryStore{Pool: database.DB},
		historian.Options{
			BatchSize:     cfg.HistorianBatchSize,
			FlushInterval: cfg.HistorianFlush,
			Inactivity:    cfg.GameInactivityTimeout,
		},
		logger,
	)
	svc.Run(ctx)
	return nil
}
