package main

import (
	"context"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/JonMunkholm/TUI/internal/config"
	"github.com/JonMunkholm/TUI/internal/core"
	"github.com/JonMunkholm/TUI/internal/logging"
	"github.com/JonMunkholm/TUI/internal/pipeline"
	"github.com/JonMunkholm/TUI/internal/web"
)

func main() {
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"db_max_conns", cfg.Database.MaxConns,
		"export_max_concurrent_jobs", cfg.Export.MaxConcurrentJobs,
		"rate_limit_enabled", cfg.Rate.Enabled,
	)

	if cfg.Observability.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{Dsn: cfg.Observability.SentryDSN}); err != nil {
			slog.Error("failed to initialize sentry", "error", err)
		} else {
			defer sentry.Flush(2 * time.Second)
		}
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.Database.URL)
	if err != nil {
		slog.Error("failed to parse database URL", "error", err)
		os.Exit(1)
	}

	poolConfig.MaxConns = int32(cfg.Database.MaxConns)
	poolConfig.MinConns = int32(cfg.Database.MinConns)
	poolConfig.MaxConnLifetime = cfg.Database.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.Database.MaxConnIdleTime

	ctx := context.Background()
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		slog.Error("failed to ping database", "error", err)
		os.Exit(1)
	}

	if u, err := url.Parse(cfg.Database.URL); err == nil {
		dbName := strings.TrimPrefix(u.Path, "/")
		slog.Info("connected to database", "name", dbName)
	} else {
		slog.Info("connected to database")
	}

	registry := core.NewRegistry()

	deps := pipeline.Deps{
		Pool:       pool,
		Registry:   registry,
		StorageDir: cfg.Export.StoragePath,
		BatchSize:  cfg.Export.BatchSize,
		Logger:     slog.Default(),
	}
	dispatcher := pipeline.NewDispatcher(deps, cfg.Export.MaxConcurrentJobs)

	server := web.NewServer(registry, dispatcher, web.Options{
		TrustedProxyCIDRs:  cfg.Security.TrustedProxies,
		EnableSwagger:      cfg.Observability.EnableSwagger,
		RateLimitPerMinute: rateLimitPerMinute(cfg),
	})

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// Stop accepting and finish in-flight HTTP requests first. This must
		// happen before the dispatcher's queue is closed: otherwise a
		// concurrent POST /exports/csv still being served could call
		// Submit after the queue closes and panic on a send to a closed
		// channel. Once server.Shutdown returns, no handler can call
		// Submit again, so closing the queue afterward is safe.
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}

		limiterStatus := dispatcher.Status()
		if limiterStatus.Active > 0 {
			slog.Info("waiting for exports to complete", "active", limiterStatus.Active)
		}
		if err := dispatcher.Shutdown(shutdownCtx); err != nil {
			slog.Warn("exports did not drain in time", "error", err)
		} else {
			slog.Info("all exports drained")
		}
	}()

	slog.Info("server starting", "addr", cfg.Server.Addr())
	if err := server.Start(cfg.Server.Addr()); err != nil {
		slog.Info("server stopped", "error", err)
	}
}

func rateLimitPerMinute(cfg *config.Config) int {
	if !cfg.Rate.Enabled {
		return 0
	}
	return cfg.Rate.RequestsPerMinute
}
