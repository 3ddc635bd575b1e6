package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"cartsync/internal/config"
	apphttp "cartsync/internal/http"
	"cartsync/internal/integrations/webhook"
	"cartsync/internal/service/cart"
	"cartsync/internal/service/urls"
	storepkg "cartsync/internal/store"
	"cartsync/internal/store/memory"
	"cartsync/internal/store/postgres"
	"cartsync/internal/taskqueue"
)

func main() {
	applied, envErr := config.LoadDotEnv(".env")
	cfg := config.Load()

	logger := newLogger(cfg.LogJSON)
	defer func() { _ = logger.Sync() }()
	if envErr != nil {
		logger.Warnw("failed to load .env", "error", envErr)
	} else if applied > 0 {
		logger.Infow("loaded .env", "keys", applied)
	}

	var st storepkg.Store
	if cfg.StoreMode == "postgres" && cfg.DatabaseURL != "" {
		pgStore, err := postgres.NewStore(cfg.DatabaseURL, cfg.CartTokenKey)
		if err != nil {
			logger.Warnw("postgres store unavailable, falling back to memory store", "error", err)
			st = memory.NewStore()
		} else {
			defer pgStore.Close()
			st = pgStore
		}
	} else {
		st = memory.NewStore()
	}

	queue := taskqueue.New(taskqueue.Options{
		Timeout:         cfg.Queues.Timeout,
		RetryBase:       cfg.Queues.RetryBase,
		RetryMax:        cfg.Queues.RetryMax,
		RatePerSec:      cfg.Queues.RatePerSec,
		OfflineAfter:    cfg.Queues.OfflineAfterFailures,
		OfflineRecovery: cfg.Queues.OfflineRecovery,
	}, logger.Named("taskqueue"))

	publisher := webhook.NewClient(
		cfg.EventsWebhookURL,
		cfg.EventsWebhookTimeout,
		cfg.EventsWebhookRetries,
		cfg.Queues.RetryBase,
		cfg.Queues.RetryMax,
	)

	cartService := cart.NewService(cfg, st, queue, publisher, logger.Named("cart"))
	helpers := urls.NewHelpers(cfg, urls.NewRouteTable(urls.DefaultRoutes()...), logger.Named("urls"))
	srv := apphttp.NewServer(cfg, cartService, helpers, queue.Online, logger.Named("http"))

	httpServer := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      srv.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Infow("cartsync API listening",
			"addr", cfg.ListenAddr,
			"store", cfg.StoreMode,
			"synchronize", cfg.Cart.Synchronize,
			"synchronize_totals", cfg.Cart.SynchronizeTotals)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalw("server failed", "error", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Warnw("graceful shutdown failed", "error", err)
	}
	if err := cartService.Close(ctx); err != nil {
		logger.Warnw("cart events not fully published", "error", err)
	}
}

func newLogger(jsonOutput bool) *zap.SugaredLogger {
	var (
		logger *zap.Logger
		err    error
	)
	if jsonOutput {
		logger, err = zap.NewProduction()
	} else {
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		return zap.NewNop().Sugar()
	}
	return logger.Sugar()
}
