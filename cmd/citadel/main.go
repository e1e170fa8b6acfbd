package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/MikeSquared-Agency/citadel/internal/api"
	"github.com/MikeSquared-Agency/citadel/internal/commitment"
	"github.com/MikeSquared-Agency/citadel/internal/config"
	"github.com/MikeSquared-Agency/citadel/internal/hermes"
	"github.com/MikeSquared-Agency/citadel/internal/ingest"
	"github.com/MikeSquared-Agency/citadel/internal/metrics"
	"github.com/MikeSquared-Agency/citadel/internal/ratelimit"
	"github.com/MikeSquared-Agency/citadel/internal/scheduler"
	"github.com/MikeSquared-Agency/citadel/internal/store"
	"github.com/MikeSquared-Agency/citadel/internal/voting"
)

type publisher interface {
	Publish(subject string, data any) error
}

func main() {
	cfg := config.Load()
	setupLogging(cfg.LogLevel)
	logger := slog.Default()

	logger.Info("citadel starting", "port", cfg.Port, "env", cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Database
	if cfg.DatabaseURL == "" {
		logger.Error("DATABASE_URL is required")
		os.Exit(1)
	}
	db, err := store.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	if cfg.Migrate {
		if err := db.Migrate(ctx); err != nil {
			logger.Error("failed to migrate database", "error", err)
			os.Exit(1)
		}
	}
	logger.Info("database connected", "migrated", cfg.Migrate)

	// NATS/Hermes. Without a URL events are dropped and nothing is ingested.
	var pub publisher = hermes.Discard{}
	var hermesClient *hermes.Client
	if cfg.NatsURL != "" {
		hermesClient, err = hermes.NewClient(ctx, cfg.NatsURL, cfg.NatsToken, logger)
		if err != nil {
			logger.Error("failed to connect to NATS", "error", err)
			os.Exit(1)
		}
		defer hermesClient.Close()
		pub = hermesClient
		logger.Info("NATS connected", "url", cfg.NatsURL)
	} else {
		logger.Warn("NATS not configured, running without events")
	}

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// Services
	votes := voting.NewService(db, pub, m, logger)
	integrity := commitment.NewService(db, pub, m, logger, cfg.ViolationThreshold)
	sched := scheduler.New(integrity, logger)
	limiter := ratelimit.New(cfg.VoteRateLimit, cfg.RateBurst)

	if hermesClient != nil {
		if err := ingest.New(db, logger).Register(hermesClient); err != nil {
			logger.Error("failed to subscribe to collaborator events", "error", err)
			os.Exit(1)
		}
	}

	// HTTP API
	srv := api.NewServer(cfg.Port, api.Deps{
		Votes:      votes,
		Integrity:  integrity,
		Scheduler:  sched,
		Limiter:    limiter,
		Metrics:    m,
		Gatherer:   reg,
		AdminToken: cfg.AdminToken,
		Ping:       db.Ping,
	}, logger)
	if cfg.AdminToken == "" {
		logger.Warn("CITADEL_ADMIN_TOKEN not set, admin routes disabled")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Start)
	g.Go(func() error {
		limiter.Run(gctx, time.Minute)
		return nil
	})
	if cfg.SchedulerEnabled() {
		g.Go(func() error { return sched.Run(gctx) })
	} else {
		logger.Info("hourly commitments disabled in development")
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	// Announce registration
	if err := pub.Publish(hermes.SubjectRegistered, map[string]any{
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"port":      cfg.Port,
		"scheduler": cfg.SchedulerEnabled(),
	}); err != nil {
		logger.Warn("failed to publish registration", "error", err)
	}

	logger.Info("citadel ready", "port", cfg.Port)

	if err := g.Wait(); err != nil {
		logger.Error("citadel stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("citadel stopped")
}

func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}
