package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fieldtrace/logsync/internal/config"
	"github.com/fieldtrace/logsync/internal/infrastructure/lark"
	"github.com/fieldtrace/logsync/internal/infrastructure/postgres"
	"github.com/fieldtrace/logsync/internal/infrastructure/redis"
	"github.com/fieldtrace/logsync/internal/logger"
	"github.com/fieldtrace/logsync/internal/syncer"
	"github.com/fieldtrace/logsync/internal/transport/rest"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	if cfg.LogLevel != "" {
		_ = os.Setenv("LOG_LEVEL", cfg.LogLevel)
	}

	logger.Init()
	log := logger.Logger.With().
		Str("service", "logsync").
		Str("env", cfg.AppEnv).
		Logger()

	loc, err := cfg.Location()
	if err != nil {
		log.Fatal().Err(err).Str("tz", cfg.ReferenceTZ).Msg("invalid reference timezone")
	}

	// Root ctx with signal cancellation
	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Postgres ----
	dbPool, err := pgxpool.New(rootCtx, cfg.DBDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("postgres pool create failed")
	}
	defer dbPool.Close()

	{
		pingCtx, cancel := context.WithTimeout(rootCtx, 5*time.Second)
		defer cancel()

		if err := dbPool.Ping(pingCtx); err != nil {
			log.Fatal().Err(err).Msg("postgres ping failed")
		}
		log.Info().Msg("postgres connected")
	}

	store := postgres.New(dbPool)
	if err := store.Migrate(rootCtx); err != nil {
		log.Fatal().Err(err).Msg("schema migration failed")
	}

	// ---- Redis (token/TTL cache) ----
	cache := redis.New(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)
	{
		pingCtx, cancel := context.WithTimeout(rootCtx, 2*time.Second)
		defer cancel()

		// Best-effort ping; the lark client refetches tokens on cache failure.
		if err := cache.Client.Ping(pingCtx).Err(); err != nil {
			log.Warn().Err(err).Msg("redis ping failed (continuing)")
		} else {
			log.Info().Msg("redis connected")
		}
	}

	// ---- Reconciliation loop ----
	if cfg.SyncEnabled {
		remote := lark.NewClient(lark.Config{
			BaseURL:   cfg.LarkBaseURL,
			AuthURL:   cfg.LarkAuthURL,
			AppID:     cfg.LarkAppID,
			AppSecret: cfg.LarkAppSecret,
			AppToken:  cfg.LarkAppToken,
		}, cache, log)

		agg := syncer.NewAggregator(store)
		synchronizer := syncer.NewSynchronizer(store, agg, remote, cfg.LarkTableID, cfg.SyncInterval, loc, log)
		go synchronizer.Run(rootCtx)
		log.Info().Msg("synchronizer started")
	} else {
		log.Info().Msg("synchronizer disabled")
	}

	// ---- HTTP server (health, metrics, sync status) ----
	h := rest.NewHandler(store, loc)
	httpHandler := rest.NewRouter(rest.RouterDeps{Handler: h})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      20 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Int("port", cfg.Port).Msg("http server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-rootCtx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		log.Error().Err(err).Msg("http server crashed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	log.Info().Msg("shutdown complete")
}
