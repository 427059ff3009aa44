package cron

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

type memoryStore struct {
	values map[string]string
}

func (m *memoryStore) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	if _, ok := m.values[key]; ok {
		return false, nil
	}
	m.values[key] = value.(string)
	return true, nil
}

func (m *memoryStore) Get(ctx context.Context, key string) (string, error) {
	value, ok := m.values[key]
	if !ok {
		return "", redis.Nil
	}
	return value, nil
}

func (m *memoryStore) Del(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		delete(m.values, key)
	}
	return nil
}

func TestRedisLockerLeasesPerJob(t *testing.T) {
	ctx := context.Background()
	store := &memoryStore{values: map[string]string{}}
	replicaA, err := NewRedisLocker(store, "portal:lock:cron-worker:test", time.Minute)
	if err != nil {
		t.Fatalf("NewRedisLocker: %v", err)
	}
	replicaB, _ := NewRedisLocker(store, "portal:lock:cron-worker:test", time.Minute)

	release, ok, err := replicaA.TryLock(ctx, "pickup-sweep")
	if err != nil || !ok {
		t.Fatalf("first lease: ok=%v err=%v", ok, err)
	}
	if _, ok, _ := replicaB.TryLock(ctx, "pickup-sweep"); ok {
		t.Fatal("second replica must not lease a held job")
	}
	otherRelease, ok, _ := replicaB.TryLock(ctx, "outbox-retention")
	if !ok {
		t.Fatal("a different job must be free")
	}
	if _, held := store.values["portal:lock:cron-worker:test:pickup-sweep"]; !held {
		t.Fatal("lease key not namespaced by job")
	}

	if err := release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, ok, _ := replicaB.TryLock(ctx, "pickup-sweep"); !ok {
		t.Fatal("lease should be free after release")
	}
	if err := otherRelease(ctx); err != nil {
		t.Fatalf("release other: %v", err)
	}
}

func TestRedisLockerLeavesForeignOwner(t *testing.T) {
	ctx := context.Background()
	store := &memoryStore{values: map[string]string{}}
	locker, _ := NewRedisLocker(store, "k", 0)
	if locker.ttl != defaultLockTTL {
		t.Fatalf("expected default ttl, got %s", locker.ttl)
	}
	release, ok, _ := locker.TryLock(ctx, "job")
	if !ok {
		t.Fatal("lease failed")
	}
	store.values["k:job"] = "someone-else"
	if err := release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	if store.values["k:job"] != "someone-else" {
		t.Fatal("expired lease taken by another replica must survive")
	}
}

func TestNewRedisLockerValidates(t *testing.T) {
	if _, err := NewRedisLocker(nil, "k", time.Minute); err == nil {
		t.Fatal("expected error for nil store")
	}
	if _, err := NewRedisLocker(&memoryStore{}, "", time.Minute); err == nil {
		t.Fatal("expected error for empty prefix")
	}
}
