package db

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/angelmondragon/membership-portal/pkg/config"
	pkgerrors "github.com/angelmondragon/membership-portal/pkg/errors"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type testModel struct {
	ID   int
	Name string
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "client.db") + "?_busy_timeout=5000&_txlock=immediate"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&testModel{}))
	return conn
}

func countRows(t *testing.T, conn *gorm.DB) int64 {
	t.Helper()
	var count int64
	require.NoError(t, conn.Model(&testModel{}).Count(&count).Error)
	return count
}

func TestWithTx_CommitsAndRollbacks(t *testing.T) {
	conn := newTestDB(t)
	client := NewFromGorm(conn)
	assert.Nil(t, client.txOptions, "sqlite runs without explicit isolation")

	ctx := context.Background()
	require.NoError(t, client.WithTx(ctx, func(tx *gorm.DB) error {
		return tx.Create(&testModel{Name: "committed"}).Error
	}))
	assert.Equal(t, int64(1), countRows(t, conn))

	err := client.WithTx(ctx, func(tx *gorm.DB) error {
		if err := tx.Create(&testModel{Name: "rolled"}).Error; err != nil {
			return err
		}
		return errors.New("boom")
	})
	require.Error(t, err)
	assert.Equal(t, int64(1), countRows(t, conn))
}

func TestWithTx_RollsBackOnPanic(t *testing.T) {
	conn := newTestDB(t)
	client := NewFromGorm(conn)

	assert.Panics(t, func() {
		_ = client.WithTx(context.Background(), func(tx *gorm.DB) error {
			if err := tx.Create(&testModel{Name: "panic"}).Error; err != nil {
				return err
			}
			panic("boom")
		})
	})
	assert.Equal(t, int64(0), countRows(t, conn))
}

func TestWithRetryTx_RetriesSerializationFailures(t *testing.T) {
	conn := newTestDB(t)
	client := NewFromGorm(conn)

	var sleeps []time.Duration
	policy := RetryPolicy{
		MaxAttempts:    3,
		InitialBackoff: 10 * time.Millisecond,
		MaximumBackoff: 15 * time.Millisecond,
		Sleep: func(_ context.Context, d time.Duration) error {
			sleeps = append(sleeps, d)
			return nil
		},
	}

	attempts := 0
	err := client.WithRetryTx(context.Background(), policy, func(tx *gorm.DB) error {
		attempts++
		if err := tx.Create(&testModel{Name: "attempt"}).Error; err != nil {
			return err
		}
		if attempts < 3 {
			return &pgconn.PgError{Code: "40001", Message: "could not serialize access"}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 15 * time.Millisecond}, sleeps)
	assert.Equal(t, int64(1), countRows(t, conn), "failed attempts must leave no rows")
}

func TestRetry_StopsOnNonRetryableError(t *testing.T) {
	attempts := 0
	boom := errors.New("validation")
	err := Retry(context.Background(), RetryPolicy{MaxAttempts: 5}, func() error {
		attempts++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, attempts)
}

func TestRetry_ExhaustsAttempts(t *testing.T) {
	attempts := 0
	policy := RetryPolicy{
		MaxAttempts: 2,
		Sleep:       func(context.Context, time.Duration) error { return nil },
	}
	err := Retry(context.Background(), policy, func() error {
		attempts++
		return &pgconn.PgError{Code: "40P01"}
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRetriesExhausted)
	assert.Equal(t, 2, attempts)
}

func TestContendedMapsExhaustionOnly(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 2, Sleep: func(context.Context, time.Duration) error { return nil }}
	exhausted := Retry(context.Background(), policy, func() error {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, &pgconn.PgError{Code: "40001"}, "lock order")
	})
	err := Contended(exhausted, "order fulfillment contention")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeContention))
	assert.ErrorIs(t, err, ErrRetriesExhausted)

	conflict := pkgerrors.New(pkgerrors.CodeConflict, "already fulfilled")
	assert.Same(t, conflict, Contended(conflict, "order fulfillment contention"))
}

func TestRetryPolicyForStoreConfig(t *testing.T) {
	policy := RetryPolicyFor(config.StoreConfig{PlaceMaxAttempts: 4, PlaceInitialBackoff: time.Millisecond})
	assert.Equal(t, 4, policy.MaxAttempts)
	assert.Equal(t, time.Millisecond, policy.InitialBackoff)
	assert.Equal(t, defaultMaximumBackoff, policy.normalized().MaximumBackoff)
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "serialization", err: &pgconn.PgError{Code: "40001"}, want: true},
		{name: "deadlock", err: &pgconn.PgError{Code: "40P01"}, want: true},
		{name: "unique", err: &pgconn.PgError{Code: "23505"}, want: false},
		{name: "sqlite busy", err: errors.New("database is locked"), want: true},
		{name: "plain", err: errors.New("nope"), want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestIsUniqueViolation(t *testing.T) {
	err := &pgconn.PgError{Code: "23505", ConstraintName: "ux_outbox_event", Message: "duplicate key value violates unique constraint"}
	assert.True(t, IsUniqueViolation(err, ""))
	assert.True(t, IsUniqueViolation(err, "ux_outbox_event"))
	assert.False(t, IsUniqueViolation(err, "other_constraint"))
	assert.False(t, IsUniqueViolation(errors.New("boom"), ""))
}

func TestIsRetryable_SeesThroughTypedWrappers(t *testing.T) {
	wrapped := pkgerrors.Wrap(pkgerrors.CodeDependency, errors.New("database is locked"), "debit credits")
	assert.True(t, IsRetryable(wrapped))
	assert.True(t, IsRetryable(fmt.Errorf("outer: %w", wrapped)))
}

func TestRegisterPoolMetrics(t *testing.T) {
	client := NewFromGorm(newTestDB(t))
	reg := prometheus.NewRegistry()

	require.NoError(t, client.RegisterPoolMetrics(reg, "portal"))
	count, err := testutil.GatherAndCount(reg, "go_sql_open_connections")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	assert.Error(t, client.RegisterPoolMetrics(reg, "portal"), "duplicate registration")
	assert.Error(t, (&Client{}).Ping(context.Background()))
}
