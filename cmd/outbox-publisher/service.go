package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/angelmondragon/membership-portal/pkg/config"
	"github.com/angelmondragon/membership-portal/pkg/db/models"
	"github.com/angelmondragon/membership-portal/pkg/logger"
	"github.com/angelmondragon/membership-portal/pkg/metrics"
	"github.com/angelmondragon/membership-portal/pkg/outbox/registry"
	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"
)

const (
	defaultBatchSize      = 50
	defaultPollMs         = 500
	defaultPublishTimeout = 15 * time.Second
	defaultMaxAttempts    = 10
	maxBackoff            = 10 * time.Second
	jitterWindow          = 250 * time.Millisecond
)

type dbClient interface {
	Ping(context.Context) error
	WithTx(context.Context, func(tx *gorm.DB) error) error
}

type pubSubClient interface {
	Ping(context.Context) error
	Publisher(name string) *gcppubsub.Publisher
}

type outboxRepository interface {
	FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error)
	MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error
	MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error
	MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error
}

type dlqRepository interface {
	InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error
}

type registryResolver interface {
	Resolve(models.OutboxEvent) (*registry.ResolvedEvent, error)
}

type publisherFactory func(topic string) publisher

type ServiceParams struct {
	Outbox           config.OutboxConfig
	Logger           *logger.Logger
	DB               dbClient
	PubSub           pubSubClient
	Repository       outboxRepository
	Registry         registryResolver
	PublisherFactory publisherFactory
	DLQRepository    dlqRepository
	Metrics          *metrics.OutboxMetrics
}

func (p ServiceParams) check() error {
	var err error
	if p.Logger == nil {
		err = multierr.Append(err, errors.New("logger is required"))
	}
	if p.DB == nil {
		err = multierr.Append(err, errors.New("database client is required"))
	}
	if p.PubSub == nil && p.PublisherFactory == nil {
		err = multierr.Append(err, errors.New("pubsub client or publisher factory is required"))
	}
	if p.Repository == nil {
		err = multierr.Append(err, errors.New("outbox repository is required"))
	}
	if p.Registry == nil {
		err = multierr.Append(err, errors.New("event registry is required"))
	}
	if p.DLQRepository == nil {
		err = multierr.Append(err, errors.New("dlq repository is required"))
	}
	return err
}

// Service relays committed outbox rows to Pub/Sub in FOR UPDATE SKIP LOCKED
// batches so several publishers can run side by side.
type Service struct {
	logg             *logger.Logger
	db               dbClient
	repo             outboxRepository
	pubsub           pubSubClient
	registry         registryResolver
	dlq              dlqRepository
	publisherFactory publisherFactory
	metrics          *metrics.OutboxMetrics
	batchSize        int
	maxAttempts      int
	pace             *pacer
	now              func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if err := params.check(); err != nil {
		return nil, err
	}

	factory := params.PublisherFactory
	if factory == nil {
		factory = func(topic string) publisher {
			return wrapPublisher(params.PubSub.Publisher(topic))
		}
	}

	pollMs := orDefault(params.Outbox.PollIntervalMS, defaultPollMs)
	return &Service{
		logg:             params.Logger,
		db:               params.DB,
		repo:             params.Repository,
		pubsub:           params.PubSub,
		registry:         params.Registry,
		dlq:              params.DLQRepository,
		publisherFactory: factory,
		metrics:          params.Metrics,
		batchSize:        orDefault(params.Outbox.BatchSize, defaultBatchSize),
		maxAttempts:      orDefault(params.Outbox.MaxAttempts, defaultMaxAttempts),
		pace:             newPacer(time.Duration(pollMs)*time.Millisecond, maxBackoff),
		now:              func() time.Time { return time.Now().UTC() },
	}, nil
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

type dependency struct {
	name string
	ping func(context.Context) error
}

func (s *Service) ensureReadiness(ctx context.Context) error {
	deps := []dependency{{"database", s.db.Ping}}
	if s.pubsub != nil {
		deps = append(deps, dependency{"pubsub", s.pubsub.Ping})
	}
	for _, p := range deps {
		if err := p.ping(ctx); err != nil {
			s.logg.Error(ctx, p.name+" ping failed", err)
			return fmt.Errorf("%s ping failed: %w", p.name, err)
		}
	}
	return nil
}

// Run polls until ctx is canceled. A full batch is followed immediately by the
// next one; an empty batch waits one poll interval and a failed one backs off.
func (s *Service) Run(ctx context.Context) error {
	if err := s.ensureReadiness(ctx); err != nil {
		return err
	}
	for {
		if err := ctx.Err(); err != nil {
			s.logg.Info(ctx, "outbox publisher stopping")
			return err
		}

		processed, err := s.processBatch(ctx)
		var wait time.Duration
		switch {
		case err != nil:
			s.logg.Error(ctx, "outbox publisher batch error", err)
			wait = s.pace.failure()
		case processed:
			s.pace.reset()
			continue
		default:
			wait = s.pace.idle()
		}
		if err := sleepCtx(ctx, wait); err != nil {
			return err
		}
	}
}

func (s *Service) processBatch(ctx context.Context) (bool, error) {
	processed := false
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		events, err := s.repo.FetchUnpublishedForPublish(tx, s.batchSize, s.maxAttempts)
		if err != nil {
			return err
		}
		processed = len(events) > 0
		for _, event := range events {
			if err := s.relay(ctx, tx, event); err != nil {
				return err
			}
		}
		return nil
	})
	return processed, err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// pacer tracks the delay between polls. Failures double the delay up to
// ceiling; any processed batch resets it.
type pacer struct {
	mu       sync.Mutex
	base     time.Duration
	ceiling  time.Duration
	current  time.Duration
	jitterFn func(time.Duration) time.Duration
}

func newPacer(base, ceiling time.Duration) *pacer {
	src := rand.New(rand.NewSource(time.Now().UnixNano()))
	return &pacer{
		base:    base,
		ceiling: ceiling,
		current: base,
		jitterFn: func(d time.Duration) time.Duration {
			if d <= 0 {
				return 0
			}
			return d + time.Duration(src.Int63n(int64(jitterWindow)))
		},
	}
}

func (p *pacer) reset() {
	p.mu.Lock()
	p.current = p.base
	p.mu.Unlock()
}

func (p *pacer) idle() time.Duration {
	p.mu.Lock()
	p.current = p.base
	p.mu.Unlock()
	return p.jitterFn(p.base)
}

func (p *pacer) failure() time.Duration {
	p.mu.Lock()
	next := p.current * 2
	if next > p.ceiling {
		next = p.ceiling
	}
	if next <= 0 {
		next = p.base
	}
	p.current = next
	p.mu.Unlock()
	return p.jitterFn(next)
}
