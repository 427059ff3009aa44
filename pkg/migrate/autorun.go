package migrate

import (
	"context"
	"errors"
	"fmt"

	"github.com/angelmondragon/membership-portal/pkg/config"
	"github.com/angelmondragon/membership-portal/pkg/db"
	"github.com/angelmondragon/membership-portal/pkg/logger"
)

// MaybeRunDev applies the embedded store migrations on boot in dev when
// PORTAL_AUTO_MIGRATE is set. Other environments run cmd/migrate instead.
func MaybeRunDev(ctx context.Context, cfg *config.Config, logg *logger.Logger, client *db.Client) error {
	if cfg == nil || !cfg.App.IsDev() || !cfg.FeatureFlags.AutoMigrate {
		return nil
	}
	if client == nil {
		return errors.New("auto-migrate needs a db client")
	}
	if logg == nil {
		logg = logger.Nop()
	}

	sqlDB, err := client.DB().DB()
	if err != nil {
		return fmt.Errorf("extracting sql.DB: %w", err)
	}

	count, err := ValidateFS(Embedded())
	if err != nil {
		return fmt.Errorf("embedded migrations: %w", err)
	}
	before, err := Version(ctx, sqlDB)
	if err != nil {
		return err
	}
	ctx = logg.WithFields(ctx, map[string]any{
		"env":            cfg.App.Env,
		"migrations":     count,
		"schema_version": before,
	})
	logg.Info(ctx, "applying store schema migrations")

	if err := Run(ctx, sqlDB, "", "up"); err != nil {
		return fmt.Errorf("running goose up: %w", err)
	}

	after, err := Version(ctx, sqlDB)
	if err != nil {
		return err
	}
	if after == before {
		logg.Info(ctx, "store schema already current")
		return nil
	}
	logg.Info(logg.WithField(ctx, "applied_version", after), "store schema up to date")
	return nil
}
