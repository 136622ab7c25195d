package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/tendant/simple-deposit/internal/envconfig"
	"github.com/tendant/simple-deposit/pkg/deposit/queue"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt := envconfig.MustRead()
	logger, err := rt.Logger(os.Stderr)
	if err != nil {
		slog.Error("Invalid logging settings", "err", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)

	cfg, err := rt.LoadConfig(logger)
	if err != nil {
		logger.Error("Failed to load config", "err", err)
		os.Exit(1)
	}
	svc, err := cfg.BuildService()
	if err != nil {
		logger.Error("Failed to build service", "err", err)
		os.Exit(1)
	}

	server := queue.NewServer(envconfig.RedisOpt(cfg), queue.ServerConfig{
		Concurrency: rt.WorkerConcurrency,
		Queue:       rt.Queue,
		Logger:      logger,
	})
	processor := queue.NewProcessor(svc, logger)

	go func() {
		<-ctx.Done()
		server.Shutdown()
	}()

	logger.Info("Deposit worker starting", "queue", rt.Queue, "concurrency", rt.WorkerConcurrency, "redis", cfg.RedisAddr)
	if err := server.Run(processor.Handler()); err != nil {
		logger.Error("Worker stopped", "err", err)
		os.Exit(1)
	}
}
