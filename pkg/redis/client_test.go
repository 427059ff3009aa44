package redis

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/membership-portal/pkg/config"
)

func TestFixedWindowAllow(t *testing.T) {
	ctx := context.Background()
	mock := newMockCmdable()
	client := &Client{store: mock}

	for want := int64(1); want <= 2; want++ {
		allowed, count, err := client.FixedWindowAllow(ctx, "ip:10.0.0.1", 2, time.Second)
		require.NoError(t, err)
		assert.True(t, allowed)
		assert.Equal(t, want, count)
	}
	assert.Len(t, mock.expireCalls, 1, "window starts on the first hit only")

	allowed, count, err := client.FixedWindowAllow(ctx, "ip:10.0.0.1", 2, time.Second)
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.EqualValues(t, 3, count)
}

func TestIncrWithTTLRestoresLostExpiry(t *testing.T) {
	ctx := context.Background()
	mock := newMockCmdable()
	client := &Client{store: mock}

	mock.incr["portal:rate_limit:stuck"] = 7
	count, err := client.IncrWithTTL(ctx, "portal:rate_limit:stuck", time.Minute)
	require.NoError(t, err)
	assert.EqualValues(t, 8, count)
	require.Len(t, mock.expireCalls, 1)
	assert.Equal(t, time.Minute, mock.expireCalls[0].ttl)

	count, err = client.IncrWithTTL(ctx, "portal:rate_limit:stuck", time.Minute)
	require.NoError(t, err)
	assert.EqualValues(t, 9, count)
	assert.Len(t, mock.expireCalls, 1, "expiry already present")
}

func TestSetNXAndDelete(t *testing.T) {
	ctx := context.Background()
	client := &Client{store: newMockCmdable()}

	ok, err := client.SetNX(ctx, "k", "owner-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = client.SetNX(ctx, "k", "owner-2", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	value, err := client.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "owner-1", value)

	require.NoError(t, client.Set(ctx, "k", "owner-3", time.Minute))
	value, _ = client.Get(ctx, "k")
	assert.Equal(t, "owner-3", value)

	require.NoError(t, client.Del(ctx, "k"))
	_, err = client.Get(ctx, "k")
	assert.True(t, IsMiss(err))
}

func TestZeroClientReturnsNotInitialized(t *testing.T) {
	client := &Client{}
	ctx := context.Background()

	assert.ErrorIs(t, client.Ping(ctx), ErrNotInitialized)
	_, err := client.IncrWithTTL(ctx, "k", time.Second)
	assert.ErrorIs(t, err, ErrNotInitialized)
	assert.ErrorIs(t, client.Set(ctx, "k", "v", 0), ErrNotInitialized)
	assert.NoError(t, client.Close())
}

func TestKeyBuilders(t *testing.T) {
	client := &Client{}
	assert.Equal(t, "portal:idempotency:place-order:abc", client.IdempotencyKey("place-order", "abc"))
	assert.Equal(t, "portal:rate_limit:orders:user-1", client.RateLimitKey("orders:user-1"))
	assert.Equal(t, "portal:session:access:jti", client.AccessSessionKey("jti"))
	assert.Equal(t, "portal:lock:cron-worker:local", client.LockKey("cron-worker", ""))
	assert.Equal(t, "portal:lock:cron-worker:prod", client.LockKey("cron-worker", "prod"))

	staging := &Client{keys: NewKeyspace(" portal-staging: ")}
	assert.Equal(t, "portal-staging:session:access:jti", staging.AccessSessionKey("jti"))
	assert.Equal(t, "portal-staging:rate_limit", staging.keys.Key("rate_limit", " "))
}

func TestRegisterPoolMetricsNeedsConnection(t *testing.T) {
	assert.ErrorIs(t, (&Client{}).RegisterPoolMetrics(prometheus.NewRegistry()), ErrNotInitialized)
	var nilClient *Client
	assert.ErrorIs(t, nilClient.Ping(context.Background()), ErrNotInitialized)
}

func TestOptionsFromConfig(t *testing.T) {
	_, err := optionsFromConfig(config.RedisConfig{})
	assert.Error(t, err)

	opts, err := optionsFromConfig(config.RedisConfig{
		Address:     "localhost:6379",
		DB:          2,
		PoolSize:    20,
		DialTimeout: 3 * time.Second,
	})
	require.NoError(t, err)
	assert.Equal(t, "localhost:6379", opts.Addr)
	assert.Equal(t, 2, opts.DB)
	assert.Equal(t, 20, opts.PoolSize)
	assert.Equal(t, 3*time.Second, opts.DialTimeout)

	opts, err = optionsFromConfig(config.RedisConfig{URL: "redis://:pw@cache:6380/4", Address: "ignored:1", DB: 9})
	require.NoError(t, err)
	assert.Equal(t, "cache:6380", opts.Addr)
	assert.Equal(t, "pw", opts.Password)
	assert.Equal(t, 4, opts.DB, "database in the URL wins")

	_, err = optionsFromConfig(config.RedisConfig{URL: "http://nope"})
	assert.Error(t, err)
}

type mockCmdable struct {
	data        map[string]string
	incr        map[string]int64
	ttls        map[string]time.Duration
	expireCalls []expireCall
}

type expireCall struct {
	key string
	ttl time.Duration
}

func newMockCmdable() *mockCmdable {
	return &mockCmdable{
		data: map[string]string{},
		incr: map[string]int64{},
		ttls: map[string]time.Duration{},
	}
}

func (m *mockCmdable) Ping(context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", nil)
}

func (m *mockCmdable) Set(_ context.Context, key string, value any, _ time.Duration) *redis.StatusCmd {
	m.data[key] = fmt.Sprint(value)
	return redis.NewStatusResult("OK", nil)
}

func (m *mockCmdable) Get(_ context.Context, key string) *redis.StringCmd {
	v, ok := m.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (m *mockCmdable) SetNX(_ context.Context, key string, value any, _ time.Duration) *redis.BoolCmd {
	if _, exists := m.data[key]; exists {
		return redis.NewBoolResult(false, nil)
	}
	m.data[key] = fmt.Sprint(value)
	return redis.NewBoolResult(true, nil)
}

func (m *mockCmdable) Incr(_ context.Context, key string) *redis.IntCmd {
	m.incr[key]++
	return redis.NewIntResult(m.incr[key], nil)
}

func (m *mockCmdable) Expire(_ context.Context, key string, expiration time.Duration) *redis.BoolCmd {
	m.expireCalls = append(m.expireCalls, expireCall{key: key, ttl: expiration})
	m.ttls[key] = expiration
	return redis.NewBoolResult(true, nil)
}

// TTL mirrors Redis: -1 for a key without expiry, -2 for a missing key.
func (m *mockCmdable) TTL(_ context.Context, key string) *redis.DurationCmd {
	if ttl, ok := m.ttls[key]; ok {
		return redis.NewDurationResult(ttl, nil)
	}
	if _, ok := m.incr[key]; ok {
		return redis.NewDurationResult(-1, nil)
	}
	return redis.NewDurationResult(-2, nil)
}

func (m *mockCmdable) Del(_ context.Context, keys ...string) *redis.IntCmd {
	for _, key := range keys {
		delete(m.data, key)
		delete(m.incr, key)
		delete(m.ttls, key)
	}
	return redis.NewIntResult(int64(len(keys)), nil)
}
