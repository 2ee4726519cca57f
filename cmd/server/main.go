// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jason-s-yu/magicmatch/internal/auth"
	"github.com/jason-s-yu/magicmatch/internal/cache"
	"github.com/jason-s-yu/magicmatch/internal/config"
	"github.com/jason-s-yu/magicmatch/internal/events"
	"github.com/jason-s-yu/magicmatch/internal/handlers"
	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"
)

func main() {
	if err := run(); err != nil {
		logrus.Fatalf("server exited: %v", err)
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
	settings, err := cfg.GameSettings()
	if err != nil {
		return err
	}
	if err := auth.Init(cfg.TokenExpireTime); err != nil {
		return err
	}

	if cfg.RedisAddr != "" {
		if err := cache.ConnectRedis(cfg.RedisAddr, cfg.RedisDB, cfg.HistorianQueueName); err != nil {
			// Games run without a historian; only the audit trail is lost.
			logger.WithError(err).Warn("Redis unavailable, action history disabled")
		} else {
			defer cache.CloseRedis()
			logger.Infof("Publishing game actions to Redis list %q", cache.QueueName)
		}
	}

	gs := handlers.NewGameServer(logger, settings)
	gs.Inactivity = cfg.GameInactivityTimeout
	gs.MaxGamesPerOwner = cfg.MaxGamesPerOwner

	if cfg.NATSURL != "" {
		pub, err := events.Connect(cfg.NATSURL, logger)
		if err != nil {
			logger.WithError(err).Warn("NATS unavailable, event fan-out disabled")
		} else {
			defer pub.Close()
			gs.Events = pub
		}
	}

	server := &http.Server{
		Handler:     handlers.NewRouter(logger, gs),
		ReadTimeout: 10 * time.Second,
	}

	l, err := net.Listen("tcp", ":"+cfg.Port)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	logger.Infof("Running on %s with %d pairs per game", l.Addr(), len(settings.Tokens))

	evictCtx, stopEviction := context.WithCancel(context.Background())
	defer stopEviction()
	go gs.RunEviction(evictCtx, time.Minute)

	errc := make(chan error, 1)
	go func() {
		errc <- server.Serve(l)
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to serve: %w", err)
		}
	case sig := <-sigs:
		logger.Infof("terminating: %v", sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(ctx)
}
