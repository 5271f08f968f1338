package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/medagenda/scheduling-core/internal/config"
	"github.com/medagenda/scheduling-core/internal/db"
	"github.com/medagenda/scheduling-core/internal/scheduling"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	logger.Info("hold-expiry-worker starting up")

	cfg, err := config.Load()
	if err != nil {
		logger.Error("config load error", "err", err)
		os.Exit(1)
	}

	logger.Info("running hold-expiry worker", "env", cfg.Env, "interval", cfg.WorkerInterval.String())

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		logger.Error("postgres connection error", "err", err)
		os.Exit(1)
	}
	defer pgPool.Close()
	logger.Info("connected to Postgres")

	store := scheduling.NewPgStore(pgPool, cfg.TxMaxRetries)
	// The worker takes the slow path through the store transaction only;
	// it never competes for the Redis slot lock.
	svc := scheduling.NewService(store, nil, nil, cfg.HoldTTL, logger)

	// Run once at startup
	runOnce(rootCtx, svc, logger)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			logger.Info("shutdown signal received, stopping hold-expiry worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, svc, logger)
		}
	}
}

func runOnce(ctx context.Context, svc *scheduling.Service, logger *slog.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	released, err := svc.ReleaseExpiredHolds(runCtx)
	if err != nil {
		logger.Error("hold expiry run error", "err", err)
		return
	}
	logger.Info("hold expiry run complete", "released", released, "duration", time.Since(start).String())
}
