package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/membership-portal/pkg/config"
	pkgerrors "github.com/angelmondragon/membership-portal/pkg/errors"
)

const (
	defaultMaxAttempts    = 3
	defaultInitialBackoff = 50 * time.Millisecond
	defaultMaximumBackoff = 500 * time.Millisecond
)

// ErrRetriesExhausted wraps the last transient failure once the policy gives up.
var ErrRetriesExhausted = errors.New("transaction retries exhausted")

// RetryPolicy controls how many times a conflicting transaction is retried.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaximumBackoff time.Duration
	// Sleep is swapped in tests; defaults to a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// RetryPolicyFor reads the store's transaction retry settings.
func RetryPolicyFor(cfg config.StoreConfig) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    cfg.PlaceMaxAttempts,
		InitialBackoff: cfg.PlaceInitialBackoff,
		MaximumBackoff: cfg.PlaceMaximumBackoff,
	}
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = defaultMaxAttempts
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = defaultInitialBackoff
	}
	if p.MaximumBackoff <= 0 {
		p.MaximumBackoff = defaultMaximumBackoff
	}
	if p.MaximumBackoff < p.InitialBackoff {
		p.MaximumBackoff = p.InitialBackoff
	}
	if p.Sleep == nil {
		p.Sleep = sleepContext
	}
	return p
}

// Retry invokes fn until it succeeds, returns a non-transient error, or the
// policy runs out of attempts.
func Retry(ctx context.Context, policy RetryPolicy, fn func() error) error {
	policy = policy.normalized()
	backoff := policy.InitialBackoff

	for attempt := 1; ; attempt++ {
		if ctx != nil {
			if err := ctx.Err(); err != nil {
				return err
			}
		}

		err := fn()
		if err == nil {
			return nil
		}
		if !IsRetryable(err) {
			return err
		}
		if attempt >= policy.MaxAttempts {
			return fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, attempt, err)
		}

		if err := policy.Sleep(ctx, backoff); err != nil {
			return err
		}
		backoff = minDuration(backoff*2, policy.MaximumBackoff)
	}
}

// Contended reports an exhausted retry as CONCURRENT_UPDATE and returns any
// other error unchanged.
func Contended(err error, message string) error {
	if errors.Is(err, ErrRetriesExhausted) {
		return pkgerrors.Wrap(pkgerrors.CodeContention, err, message)
	}
	return err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	if ctx == nil {
		<-timer.C
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
