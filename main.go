package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"frame-fulfillment/api"
	"frame-fulfillment/config"
	"frame-fulfillment/executor"
	"frame-fulfillment/fulfillment"
	"frame-fulfillment/manager"
	"frame-fulfillment/notify"
	"frame-fulfillment/prodigi"
	"frame-fulfillment/registry"
	"frame-fulfillment/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		logger.Warn("no .env file loaded", "err", err)
	}
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := store.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("connect to postgres", "err", err)
		os.Exit(1)
	}
	defer st.Close()
	if err := st.Migrate(ctx); err != nil {
		logger.Error("migrate operations schema", "err", err)
		os.Exit(1)
	}

	fulfillments := fulfillment.NewPostgres(st.Pool())
	if err := fulfillments.Migrate(ctx); err != nil {
		logger.Error("migrate fulfillments schema", "err", err)
		os.Exit(1)
	}

	redisClient, err := notify.Connect(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect to redis", "err", err)
		os.Exit(1)
	}
	defer redisClient.Close()

	reg := registry.New()
	executor.Set{
		Provider:     prodigi.NewRESTClient(cfg.ProdigiBaseURL, cfg.ProdigiAPIKey),
		Fulfillments: fulfillments,
		Notifier:     notify.NewRedisDispatcher(redisClient),
	}.RegisterAll(reg)

	mgr := manager.New(st, reg,
		manager.WithPolicy(cfg.Backoff),
		manager.WithLogger(logger),
	)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		runBatchLoop(ctx, mgr, cfg.PollInterval, logger)
	}()

	server := api.NewServer(cfg.ServerAddr, mgr, st, logger)
	go func() {
		logger.Info("server listening", "addr", cfg.ServerAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", "err", err)
			os.Exit(1)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Info("shutdown signal received")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown", "err", err)
	}

	wg.Wait()
	logger.Info("batch loop stopped")
}

// runBatchLoop is the periodic driver: every interval it runs one batch pass
// over due operations. Multiple instances of this process may run the loop
// concurrently; the store's conditional claims keep them from colliding.
func runBatchLoop(ctx context.Context, mgr *manager.Manager, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			result, err := mgr.ProcessPendingBatch(ctx)
			if err != nil {
				logger.Error("batch pass failed", "err", err)
				continue
			}
			if result.Processed > 0 || result.Failed > 0 {
				logger.Info("batch pass",
					"processed", result.Processed, "failed", result.Failed)
			}
		}
	}
}
