package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/tendant/chi-demo/middleware"
	"github.com/tendant/simple-deposit/internal/envconfig"
	"github.com/tendant/simple-deposit/pkg/deposit/api"
	"github.com/tendant/simple-deposit/pkg/deposit/queue"
)

func main() {
	if err := run(); err != nil {
		slog.Error("Server failed", "err", err)
		os.Exit(1)
	}
}

func run() error {
	rt, err := envconfig.Read()
	if err != nil {
		return err
	}
	logger, err := rt.Logger(os.Stderr)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	cfg, err := rt.LoadConfig(logger)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	svc, err := cfg.BuildService()
	if err != nil {
		return fmt.Errorf("build service: %w", err)
	}

	opts := []api.HandlerOption{api.WithLogger(logger)}
	if rt.AsyncDeposits {
		client := queue.NewClient(envconfig.RedisOpt(cfg), queue.WithQueue(rt.Queue), queue.WithMaxRetry(rt.MaxRetry))
		defer client.Close()
		opts = append(opts, api.WithEnqueuer(client))
	}

	var routerOpts []api.RouterOption
	if rt.APIKeySHA256 != "" {
		apiKeyMiddleware, err := middleware.ApiKeyMiddleware(middleware.ApiKeyConfig{
			APIKeys: map[string]string{"deposit": rt.APIKeySHA256},
		})
		if err != nil {
			return fmt.Errorf("initialize API key middleware: %w", err)
		}
		routerOpts = append(routerOpts, api.WithAuth(apiKeyMiddleware))
	}
	if rt.JWTSecret != "" {
		routerOpts = append(routerOpts, api.WithAuth(api.JWTAuth([]byte(rt.JWTSecret))))
	}

	httpServer := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: api.NewRouter(api.NewSubmissionsHandler(svc, opts...), logger, routerOpts...),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Deposit server starting",
			"port", cfg.Port,
			"env", cfg.Environment,
			"format", cfg.PackageFormat,
			"async", rt.AsyncDeposits)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), rt.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
