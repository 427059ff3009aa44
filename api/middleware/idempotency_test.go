package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/angelmondragon/membership-portal/pkg/errors"
)

type replayStoreStub struct {
	mu     sync.Mutex
	data   map[string]string
	ttls   map[string]time.Duration
	setErr error
}

func newReplayStore() *replayStoreStub {
	return &replayStoreStub{data: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (s *replayStoreStub) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.data[key]; ok {
		return v, nil
	}
	return "", redis.Nil
}

func (s *replayStoreStub) SetNX(_ context.Context, key string, value any, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[key]; ok {
		return false, nil
	}
	s.data[key] = fmt.Sprint(value)
	s.ttls[key] = ttl
	return true, nil
}

func (s *replayStoreStub) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.setErr != nil {
		return s.setErr
	}
	s.data[key] = fmt.Sprint(value)
	s.ttls[key] = ttl
	return nil
}

func (s *replayStoreStub) Del(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		delete(s.data, key)
	}
	return nil
}

func (s *replayStoreStub) IdempotencyKey(scope, id string) string {
	return "idem:" + scope + ":" + id
}

func (s *replayStoreStub) only(t *testing.T) (string, replayRecord, time.Duration) {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.Len(t, s.data, 1)
	for key, raw := range s.data {
		var record replayRecord
		require.NoError(t, json.Unmarshal([]byte(raw), &record))
		return key, record, s.ttls[key]
	}
	return "", replayRecord{}, 0
}

const orderPattern = "/api/v1/store/order"

func routed(method, path, pattern, key, body string) *http.Request {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rc := chi.NewRouteContext()
	rc.RoutePatterns = []string{pattern}
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rc))
	if key != "" {
		req.Header.Set(IdempotencyKeyHeader, key)
	}
	return req
}

func errorCode(t *testing.T, resp *httptest.ResponseRecorder) string {
	t.Helper()
	var payload struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &payload))
	return payload.Error.Code
}

func TestReplayTTLCoversStateChangingRoutes(t *testing.T) {
	cases := []struct {
		method  string
		pattern string
		want    time.Duration
		ok      bool
	}{
		{http.MethodPost, "/api/v1/store/order", orderReplayTTL, true},
		{http.MethodPost, "/api/v1/store/order/{uuid}/cancel", orderReplayTTL, true},
		{http.MethodPatch, "/api/v1/store/order/{uuid}", standardReplayTTL, true},
		{http.MethodPost, "/api/v1/store/order/pickup/{uuid}/cancel", standardReplayTTL, true},
		{http.MethodPost, "/api/v1/store/order/pickup/{uuid}/complete", standardReplayTTL, true},
		{http.MethodPost, "/api/v1/store/merchandise/option/{uuid}/restock", standardReplayTTL, true},
		{http.MethodGet, "/api/v1/store/order", 0, false},
		{http.MethodPost, "/api/v1/store/collection", 0, false},
	}
	for _, tc := range cases {
		ttl, ok := replayTTL(routed(tc.method, "/x", tc.pattern, "", ""))
		assert.Equal(t, tc.ok, ok, "%s %s", tc.method, tc.pattern)
		assert.Equal(t, tc.want, ttl, "%s %s", tc.method, tc.pattern)
	}
}

func TestIdempotencyKeyValidation(t *testing.T) {
	handler := Idempotency(newReplayStore(), nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	}))

	for _, key := range []string{"", strings.Repeat("k", maxIdempotencyKeyLen+1), "has space"} {
		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, routed(http.MethodPost, orderPattern, orderPattern, key, `{}`))
		assert.Equal(t, http.StatusBadRequest, resp.Code, "key %q", key)
	}
}

func TestIdempotencyReplaysCompletedResponse(t *testing.T) {
	store := newReplayStore()
	var calls int
	handler := Idempotency(store, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"echo":` + string(body) + `}`))
	}))

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, routed(http.MethodPost, orderPattern, orderPattern, "abc", `{"qty":1}`))
	require.Equal(t, http.StatusCreated, first.Code)
	assert.Empty(t, first.Header().Get(ReplayedHeader))

	_, record, ttl := store.only(t)
	assert.Equal(t, stateCompleted, record.State)
	assert.Equal(t, orderReplayTTL, ttl)

	replay := httptest.NewRecorder()
	handler.ServeHTTP(replay, routed(http.MethodPost, orderPattern, orderPattern, "abc", `{"qty":1}`))
	assert.Equal(t, http.StatusCreated, replay.Code)
	assert.Equal(t, "application/json", replay.Header().Get("Content-Type"))
	assert.Equal(t, "true", replay.Header().Get(ReplayedHeader))
	assert.JSONEq(t, `{"echo":{"qty":1}}`, replay.Body.String())
	assert.Equal(t, 1, calls)
}

func TestIdempotencyRejectsChangedRequest(t *testing.T) {
	store := newReplayStore()
	handler := Idempotency(store, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), routed(http.MethodPost, orderPattern, orderPattern, "xyz", `{"qty":1}`))

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, routed(http.MethodPost, orderPattern, orderPattern, "xyz", `{"qty":2}`))
	assert.Equal(t, http.StatusConflict, resp.Code)
	assert.Equal(t, string(pkgerrors.CodeIdempotency), errorCode(t, resp))

	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, routed(http.MethodPost, orderPattern+"?dryRun=true", orderPattern, "xyz", `{"qty":1}`))
	assert.Equal(t, string(pkgerrors.CodeIdempotency), errorCode(t, resp), "query string is part of the fingerprint")
}

func TestIdempotencyRejectsConcurrentDuplicate(t *testing.T) {
	store := newReplayStore()
	entered := make(chan struct{})
	release := make(chan struct{})
	handler := Idempotency(store, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(entered)
		<-release
		w.WriteHeader(http.StatusCreated)
	}))

	done := make(chan int)
	go func() {
		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, routed(http.MethodPost, orderPattern, orderPattern, "same", `{}`))
		done <- resp.Code
	}()
	<-entered

	dup := httptest.NewRecorder()
	handler.ServeHTTP(dup, routed(http.MethodPost, orderPattern, orderPattern, "same", `{}`))
	assert.Equal(t, http.StatusConflict, dup.Code)
	assert.Equal(t, string(pkgerrors.CodeConflict), errorCode(t, dup))

	close(release)
	assert.Equal(t, http.StatusCreated, <-done)
}

func TestIdempotencyReleasesKeyOnServerError(t *testing.T) {
	store := newReplayStore()
	var calls int
	handler := Idempotency(store, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, routed(http.MethodPost, orderPattern, orderPattern, "retry-me", `{}`))
	assert.Equal(t, http.StatusServiceUnavailable, first.Code)
	assert.Empty(t, store.data)

	second := httptest.NewRecorder()
	handler.ServeHTTP(second, routed(http.MethodPost, orderPattern, orderPattern, "retry-me", `{}`))
	assert.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, 2, calls)
}

func TestIdempotencyScopesKeysPerUser(t *testing.T) {
	store := newReplayStore()
	var calls int
	handler := Idempotency(store, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusCreated)
	}))

	for _, user := range []string{"alice", "bob"} {
		req := routed(http.MethodPost, orderPattern, orderPattern, "same", `{}`)
		req = req.WithContext(WithIdentity(req.Context(), user, "member"))
		handler.ServeHTTP(httptest.NewRecorder(), req)
	}
	assert.Equal(t, 2, calls)
}

func TestIdempotencyKeepsResponseWhenPersistFails(t *testing.T) {
	store := newReplayStore()
	store.setErr = errors.New("redis down")
	handler := Idempotency(store, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, routed(http.MethodPost, orderPattern, orderPattern, "k1", `{}`))
	assert.Equal(t, http.StatusCreated, resp.Code)

	_, record, ttl := store.only(t)
	assert.Equal(t, stateInFlight, record.State)
	assert.Equal(t, inFlightTTL, ttl)
}

func TestIdempotencySkipsUnlistedRoutes(t *testing.T) {
	var ran bool
	handler := Idempotency(newReplayStore(), nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ran = true
	}))
	handler.ServeHTTP(httptest.NewRecorder(), routed(http.MethodGet, orderPattern, orderPattern, "", ""))
	assert.True(t, ran)
}
