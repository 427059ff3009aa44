package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	pkgredis "github.com/angelmondragon/membership-portal/pkg/redis"
)

const defaultLockTTL = 10 * time.Minute

// Release gives a lease back. It is a no-op once the lease expired and
// another replica took it.
type Release func(ctx context.Context) error

// Locker leases job names so only one cron-worker replica runs a job at a time.
type Locker interface {
	TryLock(ctx context.Context, name string) (Release, bool, error)
}

type lockStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, keys ...string) error
}

// RedisLocker stores one SETNX lease per job under prefix. Leases expire after
// ttl so a crashed replica never blocks a job for longer than that.
type RedisLocker struct {
	store  lockStore
	prefix string
	ttl    time.Duration
}

func NewRedisLocker(store lockStore, prefix string, ttl time.Duration) (*RedisLocker, error) {
	if store == nil {
		return nil, errors.New("redis client required for lock")
	}
	if prefix == "" {
		return nil, errors.New("lock key prefix is required")
	}
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &RedisLocker{store: store, prefix: prefix, ttl: ttl}, nil
}

func (l *RedisLocker) key(name string) string {
	return l.prefix + ":" + name
}

// TryLock reports false without error when another replica holds name.
func (l *RedisLocker) TryLock(ctx context.Context, name string) (Release, bool, error) {
	key := l.key(name)
	token := uuid.NewString()
	ok, err := l.store.SetNX(ctx, key, token, l.ttl)
	if err != nil {
		return nil, false, fmt.Errorf("acquire %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}
	return func(ctx context.Context) error {
		current, err := l.store.Get(ctx, key)
		switch {
		case pkgredis.IsMiss(err):
			return nil
		case err != nil:
			return fmt.Errorf("read lock owner: %w", err)
		case current != token:
			return nil
		}
		if err := l.store.Del(ctx, key); err != nil {
			return fmt.Errorf("release %s: %w", key, err)
		}
		return nil
	}, true, nil
}
