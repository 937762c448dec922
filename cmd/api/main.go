package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"invoice-collector/internal/api"
	"invoice-collector/internal/app"
	"invoice-collector/internal/config"
	"invoice-collector/internal/ratelimit"
	"invoice-collector/internal/store"
)

func main() {
	cfg := config.Load()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		var err error
		if cfg, err = config.LoadFile(path, cfg); err != nil {
			slog.Error("load config file", "path", path, "error", err)
			os.Exit(1)
		}
	}
	logger := app.NewLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat, false)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	redisClient := store.NewRedisClient(cfg)
	defer redisClient.Close()
	limiter := ratelimit.NewTokenBucket(redisClient, cfg.RateLimitCapacity, cfg.RateLimitRefill)

	server := api.New(a.Collector, a.Ledger, a.Cache, a.Audit, limiter, logger)
	defer server.Close()

	httpServer := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("api listening", "port", cfg.HTTPPort, "tracking", cfg.Tracking)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("listen", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = httpServer.Shutdown(shutdownCtx)
}
