package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/membership-portal/pkg/config"
	"github.com/angelmondragon/membership-portal/pkg/logger"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func healthConfig() *config.Config {
	return &config.Config{App: config.AppConfig{Env: "test"}}
}

func TestHealthLive(t *testing.T) {
	resp := httptest.NewRecorder()
	HealthLive(healthConfig())(resp, httptest.NewRequest(http.MethodGet, "/health/live", nil))

	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "test", resp.Header().Get(envHeader))
}

func TestHealthReadyReportsEveryCheck(t *testing.T) {
	ok := pingFunc(func(context.Context) error { return nil })
	handler := HealthReady(healthConfig(), logger.Nop(), map[string]Pinger{"database": ok, "redis": ok, "pubsub": nil})

	resp := httptest.NewRecorder()
	handler(resp, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	require.Equal(t, http.StatusOK, resp.Code)

	var body struct {
		Data struct {
			Status string            `json:"status"`
			Checks map[string]string `json:"checks"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	assert.Equal(t, "ready", body.Data.Status)
	assert.Equal(t, map[string]string{"database": "ok", "redis": "ok"}, body.Data.Checks)
}

func TestHealthReadyNamesFailingDependencies(t *testing.T) {
	down := pingFunc(func(context.Context) error { return errors.New("connection refused") })
	ok := pingFunc(func(context.Context) error { return nil })
	handler := HealthReady(healthConfig(), logger.Nop(), map[string]Pinger{"redis": down, "database": down, "pubsub": ok})

	resp := httptest.NewRecorder()
	handler(resp, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	require.Equal(t, http.StatusServiceUnavailable, resp.Code)

	var body struct {
		Error struct {
			Message string         `json:"message"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	assert.Equal(t, "database unavailable", body.Error.Message)
	assert.Equal(t, "database", body.Error.Details["dependency"])
	assert.Equal(t, "database,redis", body.Error.Details["failed"])
}

func TestHealthReadyPingsInParallel(t *testing.T) {
	var calls atomic.Int32
	slow := pingFunc(func(ctx context.Context) error {
		calls.Add(1)
		select {
		case <-time.After(100 * time.Millisecond):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	handler := HealthReady(healthConfig(), logger.Nop(), map[string]Pinger{"a": slow, "b": slow, "c": slow})

	started := time.Now()
	resp := httptest.NewRecorder()
	handler(resp, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

	assert.Equal(t, http.StatusOK, resp.Code)
	assert.EqualValues(t, 3, calls.Load())
	assert.Less(t, time.Since(started), 250*time.Millisecond)
}
