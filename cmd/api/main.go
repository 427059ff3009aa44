package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/membership-portal/api/routes"
	"github.com/angelmondragon/membership-portal/internal/activity"
	"github.com/angelmondragon/membership-portal/internal/catalog"
	"github.com/angelmondragon/membership-portal/internal/checkout"
	"github.com/angelmondragon/membership-portal/internal/ledger"
	"github.com/angelmondragon/membership-portal/internal/notifications"
	"github.com/angelmondragon/membership-portal/internal/orders"
	"github.com/angelmondragon/membership-portal/internal/pickups"
	"github.com/angelmondragon/membership-portal/pkg/auth/session"
	"github.com/angelmondragon/membership-portal/pkg/config"
	"github.com/angelmondragon/membership-portal/pkg/db"
	"github.com/angelmondragon/membership-portal/pkg/logger"
	"github.com/angelmondragon/membership-portal/pkg/metrics"
	"github.com/angelmondragon/membership-portal/pkg/migrate"
	"github.com/angelmondragon/membership-portal/pkg/outbox"
	"github.com/angelmondragon/membership-portal/pkg/redis"
)

const shutdownTimeout = 15 * time.Second

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
		Format:      cfg.App.LogFormat,
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

	var sessions session.Verifier
	if cfg.FeatureFlags.SessionCheck {
		manager, err := session.NewManager(redisClient, cfg.JWT)
		if err != nil {
			logg.Error(context.Background(), "failed to create session manager", err)
			os.Exit(1)
		}
		sessions = manager
	}

	handler, err := buildHandler(cfg, logg, dbClient, redisClient, sessions)
	if err != nil {
		logg.Error(context.Background(), "failed to wire services", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-sigCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(ctx, "api server shutdown failed", err)
		}
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(ctx, "api server stopped")
}

func buildHandler(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, redisClient *redis.Client, sessions session.Verifier) (http.Handler, error) {
	conn := dbClient.DB()
	reg := prometheus.DefaultRegisterer
	if err := dbClient.RegisterPoolMetrics(reg, "portal"); err != nil {
		return nil, fmt.Errorf("register pool metrics: %w", err)
	}
	if err := redisClient.RegisterPoolMetrics(reg); err != nil {
		return nil, fmt.Errorf("register redis pool metrics: %w", err)
	}
	storeMetrics := metrics.NewStoreMetrics(reg)
	emitter := outbox.NewService(outbox.NewRepository(conn), logg)

	ledgerSvc, err := ledger.NewService(ledger.NewRepository(conn))
	if err != nil {
		return nil, err
	}
	activitySvc, err := activity.NewService(activity.NewRepository(conn))
	if err != nil {
		return nil, err
	}
	notifier, err := notifications.NewNotifier(cfg.Email, notifications.NewLogMailer(logg), logg)
	if err != nil {
		return nil, err
	}

	catalogSvc, err := catalog.NewService(catalog.ServiceParams{
		Repository: catalog.NewRepository(conn),
		DB:         dbClient,
		Outbox:     emitter,
		Logger:     logg,
	})
	if err != nil {
		return nil, err
	}
	orderSvc, err := orders.NewService(orders.ServiceParams{
		Repository: orders.NewRepository(conn),
		DB:         dbClient,
		Retry:      db.RetryPolicyFor(cfg.Store),
		Ledger:     ledgerSvc,
		Activity:   activitySvc,
		Outbox:     emitter,
		Metrics:    storeMetrics,
		Logger:     logg,
	})
	if err != nil {
		return nil, err
	}
	checkoutSvc, err := checkout.NewService(checkout.ServiceParams{
		DB:         dbClient,
		Repository: checkout.NewRepository(conn),
		Ledger:     ledgerSvc,
		Activity:   activitySvc,
		Outbox:     emitter,
		Notifier:   notifier,
		Limiter:    redisClient,
		Metrics:    storeMetrics,
		Config:     cfg.Store,
		Logger:     logg,
	})
	if err != nil {
		return nil, err
	}
	pickupSvc, err := pickups.NewService(pickups.ServiceParams{
		Repository: pickups.NewRepository(conn),
		DB:         dbClient,
		Orders:     orderSvc,
		Outbox:     emitter,
		Logger:     logg,
		Retry:      db.RetryPolicyFor(cfg.Store),
	})
	if err != nil {
		return nil, err
	}

	return routes.NewRouter(routes.Params{
		Config:      cfg,
		Logger:      logg,
		DB:          dbClient,
		Redis:       redisClient,
		Sessions:    sessions,
		Catalog:     catalogSvc,
		Checkout:    checkoutSvc,
		Orders:      orderSvc,
		Pickups:     pickupSvc,
		Ledger:      ledgerSvc,
		Gatherer:    prometheus.DefaultGatherer,
		HTTPMetrics: metrics.NewHTTPMetrics(reg),
	}), nil
}
