package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"github.com/angelmondragon/membership-portal/pkg/auth"
	"github.com/angelmondragon/membership-portal/pkg/auth/session"
	"github.com/angelmondragon/membership-portal/pkg/config"
	"github.com/angelmondragon/membership-portal/pkg/enums"
	"github.com/angelmondragon/membership-portal/pkg/logger"
	"github.com/angelmondragon/membership-portal/pkg/redis"
)

func main() {
	app := &cli.App{
		Name:  "devtoken",
		Usage: "mint an access token for local testing",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "user", Usage: "user uuid (random when empty)"},
			&cli.StringFlag{Name: "role", Value: string(enums.UserRoleMember), Usage: "member or admin"},
			&cli.BoolFlag{Name: "register", Usage: "store the session in redis so session checks pass"},
		},
		Action: func(c *cli.Context) error {
			_ = godotenv.Load()
			cfg, err := config.Load()
			if err != nil {
				return cli.Exit(fmt.Sprintf("load config: %v", err), 1)
			}

			payload, err := buildPayload(c.String("user"), c.String("role"))
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}
			token, err := auth.MintAccessToken(cfg.JWT, time.Now().UTC(), payload)
			if err != nil {
				return cli.Exit(fmt.Sprintf("mint token: %v", err), 1)
			}

			if c.Bool("register") {
				if err := register(c.Context, cfg, payload); err != nil {
					return cli.Exit(fmt.Sprintf("register session: %v", err), 1)
				}
			}

			fmt.Fprintf(c.App.Writer, "user_id=%s role=%s\n%s\n", payload.UserID, payload.Role, token)
			return nil
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildPayload(rawUser, rawRole string) (auth.AccessTokenPayload, error) {
	role, err := enums.ParseUserRole(strings.ToLower(strings.TrimSpace(rawRole)))
	if err != nil {
		return auth.AccessTokenPayload{}, err
	}
	userID := uuid.New()
	if trimmed := strings.TrimSpace(rawUser); trimmed != "" {
		userID, err = uuid.Parse(trimmed)
		if err != nil {
			return auth.AccessTokenPayload{}, fmt.Errorf("invalid user uuid: %w", err)
		}
	}
	return auth.AccessTokenPayload{
		UserID: userID,
		Role:   role,
		JTI:    session.NewAccessID(),
	}, nil
}

func register(ctx context.Context, cfg *config.Config, payload auth.AccessTokenPayload) error {
	logg := logger.New(logger.Options{
		ServiceName: "devtoken",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		Format:      cfg.App.LogFormat,
	})
	client, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		return err
	}
	defer client.Close()

	manager, err := session.NewManager(client, cfg.JWT)
	if err != nil {
		return err
	}
	return manager.Register(ctx, payload.JTI, payload.UserID)
}
