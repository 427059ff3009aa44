// Package idempotency keeps Pub/Sub redeliveries from triggering the same
// store side effect twice.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/angelmondragon/membership-portal/pkg/redis"
)

const (
	// DefaultTTL covers the Pub/Sub retention window for store subscriptions.
	DefaultTTL = 7 * 24 * time.Hour

	processedScope = "evt:processed"
)

// ErrAlreadyProcessed is returned by Once when the consumer has handled the event.
var ErrAlreadyProcessed = errors.New("event already processed")

// Manager records processed (consumer, event) pairs in Redis.
// Keys look like `portal:idempotency:evt:processed:<consumer>:<event_id>`.
type Manager struct {
	store redis.IdempotencyStore
	ttl   time.Duration
}

// NewManager falls back to DefaultTTL when ttl is zero.
func NewManager(store redis.IdempotencyStore, ttl time.Duration) (*Manager, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	if ttl == 0 {
		ttl = DefaultTTL
	}
	return &Manager{store: store, ttl: ttl}, nil
}

// CheckAndMarkProcessed claims the event for consumer. It reports true when a
// previous delivery already claimed it.
func (m *Manager) CheckAndMarkProcessed(ctx context.Context, consumer string, eventID uuid.UUID) (bool, error) {
	key, err := m.key(consumer, eventID)
	if err != nil {
		return false, err
	}
	claimed, err := m.store.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339), m.ttl)
	if err != nil {
		return false, fmt.Errorf("claim %s: %w", key, err)
	}
	return !claimed, nil
}

// Delete releases a claim so a redelivery can retry the side effect.
func (m *Manager) Delete(ctx context.Context, consumer string, eventID uuid.UUID) error {
	key, err := m.key(consumer, eventID)
	if err != nil {
		return err
	}
	return m.store.Del(ctx, key)
}

// Once runs fn at most once per (consumer, event). A failed fn releases the
// claim and its error is returned together with any release error.
func (m *Manager) Once(ctx context.Context, consumer string, eventID uuid.UUID, fn func(context.Context) error) error {
	already, err := m.CheckAndMarkProcessed(ctx, consumer, eventID)
	if err != nil {
		return err
	}
	if already {
		return ErrAlreadyProcessed
	}
	if runErr := fn(ctx); runErr != nil {
		return multierr.Append(runErr, m.Delete(ctx, consumer, eventID))
	}
	return nil
}

func (m *Manager) key(consumer string, eventID uuid.UUID) (string, error) {
	if consumer == "" {
		return "", errors.New("consumer name is required")
	}
	if eventID == uuid.Nil {
		return "", errors.New("event id is required")
	}
	return m.store.IdempotencyKey(processedScope+":"+consumer, eventID.String()), nil
}
