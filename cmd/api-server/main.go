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

	"github.com/medagenda/scheduling-core/internal/api"
	"github.com/medagenda/scheduling-core/internal/config"
	"github.com/medagenda/scheduling-core/internal/db"
	"github.com/medagenda/scheduling-core/internal/docs"
	"github.com/medagenda/scheduling-core/internal/notify"
	"github.com/medagenda/scheduling-core/internal/payment"
	redisclient "github.com/medagenda/scheduling-core/internal/redis"
	"github.com/medagenda/scheduling-core/internal/scheduling"
)

const version = "1.0.0"

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	logger.Info("api-server starting up")

	cfg, err := config.Load()
	if err != nil {
		logger.Error("config load error", "err", err)
		os.Exit(1)
	}
	if cfg.StripeAPIKey == "" {
		logger.Error("STRIPE_API_KEY is required")
		os.Exit(1)
	}

	logger.Info("configuration loaded", "env", cfg.Env, "http_port", cfg.HTTPPort,
		"hold_ttl", cfg.HoldTTL.String(), "worker_interval", cfg.WorkerInterval.String())

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

	rdb, err := redisclient.NewClient(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		logger.Error("redis connection error", "err", err)
		os.Exit(1)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error("error closing redis", "err", err)
		}
	}()
	logger.Info("connected to Redis")

	store := scheduling.NewPgStore(pgPool, cfg.TxMaxRetries)
	locker := redisclient.NewSlotLocker(rdb, cfg.LockTTL)

	var renderer scheduling.PrescriptionRenderer
	if cfg.RendererURL != "" {
		renderer = docs.NewHTTPRenderer(cfg.RendererURL)
	}

	svc := scheduling.NewService(store, locker, renderer, cfg.HoldTTL, logger)
	queries := scheduling.NewQueryService(store)

	provider := payment.NewStripeProvider(cfg.StripeAPIKey, cfg.Currency)
	notifier := notify.NewSMTPNotifier(cfg.SMTPHost, cfg.SMTPPort, cfg.MailFrom)
	payments := payment.NewHandler(provider, svc, notifier, cfg.PriceCents, logger)

	router := api.NewRouter(api.RouterConfig{
		Service:  svc,
		Queries:  queries,
		Store:    store,
		Payments: payments,
		PgPool:   pgPool,
		Redis:    rdb,
		Logger:   logger,
		Env:      cfg.Env,
		Version:  version,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-rootCtx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "err", err)
			os.Exit(1)
		}
	}

	logger.Info("shutting down api-server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "err", err)
	}
}
