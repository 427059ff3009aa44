package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"

	"github.com/angelmondragon/membership-portal/internal/activity"
	"github.com/angelmondragon/membership-portal/internal/cron"
	"github.com/angelmondragon/membership-portal/internal/ledger"
	"github.com/angelmondragon/membership-portal/internal/orders"
	"github.com/angelmondragon/membership-portal/internal/pickups"
	"github.com/angelmondragon/membership-portal/pkg/config"
	"github.com/angelmondragon/membership-portal/pkg/db"
	"github.com/angelmondragon/membership-portal/pkg/logger"
	"github.com/angelmondragon/membership-portal/pkg/metrics"
	"github.com/angelmondragon/membership-portal/pkg/migrate"
	"github.com/angelmondragon/membership-portal/pkg/outbox"
	"github.com/angelmondragon/membership-portal/pkg/redis"
)

const serviceKind = "cron-worker"

func main() {
	app := &cli.App{
		Name:  serviceKind,
		Usage: "closes finished pickup events and prunes published store events",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "once", Usage: "run every job a single time and exit"},
		},
		Action: func(c *cli.Context) error {
			return run(c.Bool("once"))
		},
	}
	if err := app.Run(os.Args); err != nil {
		os.Exit(1)
	}
}

func run(once bool) error {
	logg := logger.New(logger.Options{ServiceName: serviceKind})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		return err
	}

	cfg.Service.Kind = serviceKind

	logg = logger.New(logger.Options{
		ServiceName: serviceKind,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		Format:      cfg.App.LogFormat,
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		return err
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		return err
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		return err
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	registry, err := buildRegistry(cfg, logg, dbClient)
	if err != nil {
		logg.Error(context.Background(), "failed to build cron jobs", err)
		return err
	}

	locker, err := cron.NewRedisLocker(redisClient, redisClient.LockKey(serviceKind, cfg.App.Env), cfg.Cron.LockTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron locker", err)
		return err
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Locker:   locker,
		Metrics:  metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Interval: cfg.Cron.Interval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"once":        once,
	})
	logg.Info(ctx, "starting cron worker")

	if once {
		if err := service.RunOnce(ctx); err != nil {
			logg.Error(ctx, "cron run failed", err)
			return err
		}
		return nil
	}

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		return err
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
	return nil
}

func buildRegistry(cfg *config.Config, logg *logger.Logger, dbClient *db.Client) (*cron.Registry, error) {
	conn := dbClient.DB()
	outboxRepo := outbox.NewRepository(conn)
	emitter := outbox.NewService(outboxRepo, logg)

	ledgerSvc, err := ledger.NewService(ledger.NewRepository(conn))
	if err != nil {
		return nil, err
	}
	activitySvc, err := activity.NewService(activity.NewRepository(conn))
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
		Metrics:    metrics.NewStoreMetrics(prometheus.DefaultRegisterer),
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

	sweep, err := cron.NewPickupSweepJob(cron.PickupSweepJobParams{
		Logger:  logg,
		Pickups: pickupSvc,
	})
	if err != nil {
		return nil, fmt.Errorf("pickup sweep job: %w", err)
	}
	retention, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:     logg,
		DB:         dbClient,
		Repository: outboxRepo,
		Retention:  cfg.Cron.OutboxRetention,
	})
	if err != nil {
		return nil, fmt.Errorf("outbox retention job: %w", err)
	}
	registry := cron.NewRegistry(sweep)
	if err := registry.Register(retention, cfg.Cron.OutboxRetentionEvery); err != nil {
		return nil, err
	}
	return registry, nil
}
