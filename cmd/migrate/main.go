package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"github.com/angelmondragon/membership-portal/pkg/config"
	"github.com/angelmondragon/membership-portal/pkg/db"
	"github.com/angelmondragon/membership-portal/pkg/logger"
	"github.com/angelmondragon/membership-portal/pkg/migrate"
)

const serviceKind = "migrate"

func main() {
	_ = godotenv.Load()
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	dirFlag := &cli.StringFlag{
		Name:  "dir",
		Usage: "migrations directory on disk; empty uses the migrations built into the binary",
	}
	return &cli.App{
		Name:  serviceKind,
		Usage: "manage the store schema",
		Flags: []cli.Flag{dirFlag},
		Commands: []*cli.Command{
			{
				Name:  "up",
				Usage: "apply every pending migration",
				Action: withDB(func(ctx context.Context, sqlDB *sql.DB, c *cli.Context) error {
					return migrate.Run(ctx, sqlDB, c.String("dir"), "up")
				}),
			},
			{
				Name:  "down",
				Usage: "roll back the latest migration",
				Action: withDB(func(ctx context.Context, sqlDB *sql.DB, c *cli.Context) error {
					return migrate.Run(ctx, sqlDB, c.String("dir"), "down")
				}),
			},
			{
				Name:  "status",
				Usage: "print applied and pending migrations",
				Action: withDB(func(ctx context.Context, sqlDB *sql.DB, c *cli.Context) error {
					return migrate.Run(ctx, sqlDB, c.String("dir"), "status")
				}),
			},
			{
				Name:      "to",
				Usage:     "migrate up or down to an exact version",
				ArgsUsage: "YYYYMMDDHHMMSS",
				Action: withDB(func(ctx context.Context, sqlDB *sql.DB, c *cli.Context) error {
					if c.NArg() != 1 {
						return cli.Exit("expected exactly one target version", 1)
					}
					return migrate.MigrateToVersion(ctx, sqlDB, c.String("dir"), c.Args().First())
				}),
			},
			{
				Name:      "create",
				Usage:     "write an empty migration file",
				ArgsUsage: "name",
				Action: func(c *cli.Context) error {
					if c.NArg() != 1 {
						return cli.Exit("expected a migration name", 1)
					}
					dir := c.String("dir")
					if dir == "" {
						dir = migrate.DefaultDir
					}
					path, err := migrate.CreateSQLMigration(dir, c.Args().First(), time.Now())
					if err != nil {
						return err
					}
					fmt.Fprintln(c.App.Writer, "created migration:", path)
					return nil
				},
			},
			{
				Name:  "validate",
				Usage: "check filenames and goose markers",
				Action: func(c *cli.Context) error {
					var (
						count int
						err   error
					)
					if dir := c.String("dir"); dir != "" {
						count, err = migrate.ValidateDir(dir)
					} else {
						count, err = migrate.ValidateFS(migrate.Embedded())
					}
					if err != nil {
						return fmt.Errorf("migration validation failed: %w", err)
					}
					fmt.Fprintf(c.App.Writer, "migration validation passed (%d files)\n", count)
					return nil
				},
			},
		},
	}
}

// withDB loads config, opens the database and hands the raw handle to fn.
func withDB(fn func(context.Context, *sql.DB, *cli.Context) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		logg := logger.New(logger.Options{
			ServiceName: serviceKind,
			Level:       logger.ParseLevel(cfg.App.LogLevel),
			Format:      cfg.App.LogFormat,
			WarnStack:   cfg.App.LogWarnStack,
		})
		ctx := logg.WithFields(c.Context, map[string]any{
			"env": cfg.App.Env,
			"cmd": c.Command.Name,
			"dir": c.String("dir"),
		})

		dbClient, err := db.New(ctx, cfg.DB, logg)
		if err != nil {
			logg.Error(ctx, "database unavailable", err)
			return err
		}
		defer dbClient.Close()

		sqlDB, err := dbClient.DB().DB()
		if err != nil {
			return fmt.Errorf("extract sql.DB: %w", err)
		}

		logg.Info(ctx, "migrate ready")
		if err := fn(ctx, sqlDB, c); err != nil {
			logg.Error(ctx, "migration command failed", err)
			return err
		}
		return nil
	}
}
