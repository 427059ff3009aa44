package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/angelmondragon/membership-portal/internal/notifications"
	"github.com/angelmondragon/membership-portal/pkg/logger"
)

type pinger interface {
	Ping(ctx context.Context) error
}

type consumer interface {
	Run(ctx context.Context) error
}

type ServiceParams struct {
	Logger   *logger.Logger
	DB       pinger
	Redis    pinger
	PubSub   pinger
	Consumer consumer
}

// Service runs the store mailer until its context ends.
type Service struct {
	logg     *logger.Logger
	deps     []namedPinger
	consumer consumer
}

type namedPinger struct {
	name string
	dep  pinger
}

var _ consumer = (*notifications.Consumer)(nil)

func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.DB == nil {
		return nil, errors.New("database client is required")
	}
	if params.Redis == nil {
		return nil, errors.New("redis client is required")
	}
	if params.PubSub == nil {
		return nil, errors.New("pubsub client is required")
	}
	if params.Consumer == nil {
		return nil, errors.New("store mailer consumer is required")
	}
	return &Service{
		logg: params.Logger,
		deps: []namedPinger{
			{name: "database", dep: params.DB},
			{name: "redis", dep: params.Redis},
			{name: "pubsub", dep: params.PubSub},
		},
		consumer: params.Consumer,
	}, nil
}

func (s *Service) ensureReadiness(ctx context.Context) error {
	for _, d := range s.deps {
		if err := d.dep.Ping(ctx); err != nil {
			s.logg.Error(ctx, fmt.Sprintf("%s ping failed", d.name), err)
			return fmt.Errorf("%s ping failed: %w", d.name, err)
		}
	}
	s.logg.Info(ctx, "all worker dependencies are ready")
	return nil
}

func (s *Service) Run(ctx context.Context) error {
	if err := s.ensureReadiness(ctx); err != nil {
		return err
	}
	err := s.consumer.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logg.Error(ctx, "store mailer stopped unexpectedly", err)
		return err
	}
	s.logg.Info(ctx, "worker context canceled")
	return nil
}
