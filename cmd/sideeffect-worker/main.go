package main

import (
	"context"
	"errors"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/printbound/printbound-backend/internal/audit"
	"github.com/printbound/printbound-backend/internal/ledger"
	"github.com/printbound/printbound-backend/internal/notifications"
	"github.com/printbound/printbound-backend/internal/orders"
	"github.com/printbound/printbound-backend/internal/sideeffects"
	"github.com/printbound/printbound-backend/internal/users"
	"github.com/printbound/printbound-backend/pkg/config"
	"github.com/printbound/printbound-backend/pkg/db"
	"github.com/printbound/printbound-backend/pkg/logger"
	"github.com/printbound/printbound-backend/pkg/metrics"
	"github.com/printbound/printbound-backend/pkg/migrate"
	"github.com/printbound/printbound-backend/pkg/outbox"
	"github.com/printbound/printbound-backend/pkg/outbox/payloads"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "sideeffect-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "sideeffect-worker"

	logg = logger.New(logger.Options{
		ServiceName: "sideeffect-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	gormDB := dbClient.DB()

	ledgerService, err := ledger.NewService(ledger.NewRepository(gormDB))
	if err != nil {
		logg.Error(context.Background(), "failed to create ledger service", err)
		os.Exit(1)
	}
	auditService, err := audit.NewService(audit.NewRepository(gormDB))
	if err != nil {
		logg.Error(context.Background(), "failed to create audit service", err)
		os.Exit(1)
	}
	mailer, err := notifications.NewMailer(cfg.Mailer, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create mailer", err)
		os.Exit(1)
	}

	decoderRegistry := outbox.NewDecoderRegistry()
	payloads.RegisterDecoders(decoderRegistry)

	dispatcher, err := sideeffects.NewDispatcher(sideeffects.DispatcherParams{
		Config:     cfg.Outbox,
		Repository: outbox.NewRepository(gormDB),
		Registry:   decoderRegistry,
		Mailer:     mailer,
		Ledger:     ledgerService,
		Audit:      auditService,
		UsersRepo:  users.NewRepository(gormDB),
		OrdersRepo: orders.NewRepository(gormDB),
		Metrics:    metrics.NewDispatchMetrics(registry),
		Logger:     logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create side-effect dispatcher", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": "sideeffect-worker",
	})
	logg.Info(ctx, "starting side-effect worker")

	if err := dispatcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "side-effect worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "side-effect worker shutting down gracefully")
}
