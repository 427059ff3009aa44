package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"

	"github.com/angelmondragon/membership-portal/pkg/config"
	"github.com/angelmondragon/membership-portal/pkg/db"
	"github.com/angelmondragon/membership-portal/pkg/logger"
	"github.com/angelmondragon/membership-portal/pkg/metrics"
	"github.com/angelmondragon/membership-portal/pkg/migrate"
	"github.com/angelmondragon/membership-portal/pkg/outbox"
	"github.com/angelmondragon/membership-portal/pkg/outbox/registry"
	"github.com/angelmondragon/membership-portal/pkg/pubsub"
)

const serviceKind = "outbox-publisher"

func main() {
	_ = godotenv.Load()
	app := &cli.App{
		Name:   serviceKind,
		Usage:  "relay committed store events to Pub/Sub",
		Action: runPublisher,
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "poll the outbox and publish pending events (default)",
				Action: runPublisher,
			},
			{
				Name:  "dlq",
				Usage: "inspect and requeue dead-lettered events",
				Subcommands: []*cli.Command{
					{
						Name:  "list",
						Usage: "print retryable dead letters, oldest first",
						Flags: []cli.Flag{&cli.IntFlag{Name: "limit", Value: 50}},
						Action: withDLQ(func(ctx context.Context, repo *outbox.DLQRepository, c *cli.Context) error {
							entries, err := repo.ListRetryable(ctx, c.Int("limit"))
							if err != nil {
								return err
							}
							for _, entry := range entries {
								fmt.Fprintf(c.App.Writer, "%s\t%s\t%s\tattempts=%d\n",
									entry.EventID, entry.EventType, entry.FailedAt.Format("2006-01-02T15:04:05Z07:00"), entry.AttemptCount)
							}
							return nil
						}),
					},
					{
						Name:      "requeue",
						Usage:     "move dead letters back into the outbox",
						ArgsUsage: "EVENT_ID...",
						Action: withDLQ(func(ctx context.Context, repo *outbox.DLQRepository, c *cli.Context) error {
							if c.NArg() == 0 {
								return cli.Exit("expected at least one event id", 1)
							}
							var errs error
							for _, raw := range c.Args().Slice() {
								eventID, err := uuid.Parse(raw)
								if err != nil {
									errs = multierr.Append(errs, fmt.Errorf("invalid event id %q: %w", raw, err))
									continue
								}
								if err := repo.Requeue(ctx, eventID); err != nil {
									errs = multierr.Append(errs, err)
									continue
								}
								fmt.Fprintln(c.App.Writer, "requeued", eventID)
							}
							return errs
						}),
					},
				},
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// bootstrap loads config and opens the database shared by every command.
func bootstrap(ctx context.Context) (*config.Config, *logger.Logger, *db.Client, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}
	cfg.Service.Kind = serviceKind

	logg := logger.New(logger.Options{
		ServiceName: serviceKind,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		Format:      cfg.App.LogFormat,
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap database", err)
		return nil, nil, nil, err
	}
	return cfg, logg, dbClient, nil
}

func withDLQ(fn func(context.Context, *outbox.DLQRepository, *cli.Context) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		_, _, dbClient, err := bootstrap(c.Context)
		if err != nil {
			return err
		}
		defer dbClient.Close()
		return fn(c.Context, outbox.NewDLQRepository(dbClient.DB()), c)
	}
}

func runPublisher(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, logg, dbClient, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": serviceKind,
	})

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		logg.Error(ctx, "failed to run dev migrations", err)
		return err
	}

	pubsubClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, pubsub.RolePublisher, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap pubsub", err)
		return err
	}
	defer func() {
		if err := pubsubClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing pubsub client", err)
		}
	}()

	eventRegistry, err := registry.NewEventRegistry(cfg.PubSub)
	if err != nil {
		logg.Error(ctx, "failed to build event registry", err)
		return err
	}
	service, err := NewService(ServiceParams{
		Outbox:        cfg.Outbox,
		Logger:        logg,
		DB:            dbClient,
		PubSub:        pubsubClient,
		Repository:    outbox.NewRepository(dbClient.DB()),
		Registry:      eventRegistry,
		DLQRepository: outbox.NewDLQRepository(dbClient.DB()),
		Metrics:       metrics.NewOutboxMetrics(prometheus.DefaultRegisterer),
	})
	if err != nil {
		logg.Error(ctx, "failed to create outbox publisher", err)
		return err
	}

	logg.Info(ctx, "starting outbox publisher")
	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "outbox publisher stopped unexpectedly", err)
		return err
	}
	logg.Info(ctx, "outbox publisher shutting down gracefully")
	return nil
}
