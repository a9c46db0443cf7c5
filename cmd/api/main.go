package main

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/printbound/printbound-backend/api/routes"
	"github.com/printbound/printbound-backend/internal/issues"
	"github.com/printbound/printbound-backend/internal/orders"
	"github.com/printbound/printbound-backend/internal/payments"
	"github.com/printbound/printbound-backend/internal/refunds"
	"github.com/printbound/printbound-backend/internal/resolutions"
	"github.com/printbound/printbound-backend/pkg/config"
	"github.com/printbound/printbound-backend/pkg/db"
	"github.com/printbound/printbound-backend/pkg/logger"
	"github.com/printbound/printbound-backend/pkg/metrics"
	"github.com/printbound/printbound-backend/pkg/migrate"
	"github.com/printbound/printbound-backend/pkg/outbox"
	"github.com/printbound/printbound-backend/pkg/redis"
	pkgstripe "github.com/printbound/printbound-backend/pkg/stripe"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
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

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	stripeClient, err := pkgstripe.NewClient(context.Background(), cfg.Stripe, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap stripe", err)
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	gormDB := dbClient.DB()
	paymentsRepo := payments.NewRepository(gormDB)
	ordersRepo := orders.NewRepository(gormDB)
	issuesRepo := issues.NewRepository(gormDB)
	resolutionsRepo := resolutions.NewRepository(gormDB)
	outboxService := outbox.NewService(outbox.NewRepository(gormDB), logg)

	gateway := payments.NewStripeGateway(stripeClient)
	resolver, err := payments.NewResolver(gateway, paymentsRepo, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create payment resolver", err)
		os.Exit(1)
	}

	executor, err := refunds.NewExecutor(resolver, gateway, metrics.NewRefundMetrics(registry), logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create refund executor", err)
		os.Exit(1)
	}

	issuesService, err := issues.NewService(issues.ServiceParams{
		Tx:              dbClient,
		Repo:            issuesRepo,
		OrdersRepo:      ordersRepo,
		PaymentsRepo:    paymentsRepo,
		Executor:        executor,
		Outbox:          outboxService,
		Idempotency:     redisClient,
		ReportingWindow: cfg.Issues.ReportingWindow,
		Logger:          logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create issues service", err)
		os.Exit(1)
	}

	resolutionsService, err := resolutions.NewService(resolutions.ServiceParams{
		Tx:           dbClient,
		Repo:         resolutionsRepo,
		OrdersRepo:   ordersRepo,
		PaymentsRepo: paymentsRepo,
		Executor:     executor,
		Outbox:       outboxService,
		Logger:       logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create resolutions service", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	id := os.Getenv("DYNO")
	if id == "" {
		id = "local"
	}
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"instance": id,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(routes.Deps{
			Config:      cfg,
			Logger:      logg,
			DB:          dbClient,
			Redis:       redisClient,
			Issues:      issuesService,
			Resolutions: resolutionsService,
			Metrics:     registry,
		}),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
