package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/membership-portal/pkg/logger"
	"github.com/angelmondragon/membership-portal/pkg/metrics"
)

const defaultInterval = 5 * time.Minute

// ServiceParams configure the cron service.
type ServiceParams struct {
	Logger   *logger.Logger
	Registry *Registry
	Locker   Locker
	Metrics  *metrics.CronJobMetrics
	Interval time.Duration
}

// Service wakes once per interval and runs each due job under its own lease,
// so replicas split the work instead of idling behind one global lock.
type Service struct {
	logg     *logger.Logger
	registry *Registry
	locker   Locker
	metrics  *metrics.CronJobMetrics
	interval time.Duration
	now      func() time.Time
}

// NewService builds a cron service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Locker == nil {
		return nil, fmt.Errorf("locker required")
	}
	registry := params.Registry
	if registry == nil {
		registry = NewRegistry()
	}
	interval := params.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Service{
		logg:     params.Logger,
		registry: registry,
		locker:   params.Locker,
		metrics:  params.Metrics,
		interval: interval,
		now:      time.Now,
	}, nil
}

// Run sweeps immediately, then on every tick until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	if err := s.RunOnce(ctx); err != nil {
		s.logg.Error(ctx, "scheduled run failed", err)
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "cron service stopping")
			return ctx.Err()
		case <-ticker.C:
			if err := s.RunOnce(ctx); err != nil {
				s.logg.Error(ctx, "scheduled run failed", err)
			}
		}
	}
}

// RunOnce runs the jobs due this cycle. Job failures are logged and counted,
// not returned; only a lease error aborts the cycle.
func (s *Service) RunOnce(ctx context.Context) error {
	for _, job := range s.registry.Due(s.now()) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		release, ok, err := s.locker.TryLock(ctx, job.Name())
		if err != nil {
			return fmt.Errorf("lease %s: %w", job.Name(), err)
		}
		if !ok {
			s.metrics.Skipped(job.Name())
			s.logg.Info(s.logg.WithField(ctx, "job", job.Name()), "job leased by another replica; skipping")
			s.registry.MarkRan(job.Name(), s.now())
			continue
		}
		if s.runJob(ctx, job) {
			s.registry.MarkRan(job.Name(), s.now())
		}
		if relErr := release(ctx); relErr != nil {
			s.logg.Error(ctx, "failed to release cron lease", relErr)
		}
	}
	return nil
}

func (s *Service) runJob(ctx context.Context, job Job) bool {
	jobCtx := s.logg.WithFields(ctx, map[string]any{
		"job":   job.Name(),
		"event": "cron.job",
	})
	start := time.Now()
	err := job.Run(jobCtx)
	s.metrics.Observe(job.Name(), start, err)
	jobCtx = s.logg.WithField(jobCtx, "duration_ms", time.Since(start).Milliseconds())
	if err != nil {
		s.logg.Error(jobCtx, "job failed", err)
		return false
	}
	s.logg.Info(jobCtx, "job completed")
	return true
}
