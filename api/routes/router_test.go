package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/membership-portal/internal/activity"
	"github.com/angelmondragon/membership-portal/internal/catalog"
	"github.com/angelmondragon/membership-portal/internal/checkout"
	"github.com/angelmondragon/membership-portal/internal/ledger"
	"github.com/angelmondragon/membership-portal/internal/orders"
	"github.com/angelmondragon/membership-portal/internal/pickups"
	"github.com/angelmondragon/membership-portal/internal/storetest"
	pkgAuth "github.com/angelmondragon/membership-portal/pkg/auth"
	"github.com/angelmondragon/membership-portal/pkg/config"
	"github.com/angelmondragon/membership-portal/pkg/db"
	"github.com/angelmondragon/membership-portal/pkg/db/models"
	"github.com/angelmondragon/membership-portal/pkg/enums"
	"github.com/angelmondragon/membership-portal/pkg/logger"
	"github.com/angelmondragon/membership-portal/pkg/metrics"
	"github.com/angelmondragon/membership-portal/pkg/outbox"
)

type memoryRedis struct {
	mu     sync.Mutex
	data   map[string]string
	counts map[string]int64
}

func newMemoryRedis() *memoryRedis {
	return &memoryRedis{data: map[string]string{}, counts: map[string]int64{}}
}

func (m *memoryRedis) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.data[key]; ok {
		return v, nil
	}
	return "", redis.Nil
}

func (m *memoryRedis) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[key]; ok {
		return false, nil
	}
	m.data[key] = fmt.Sprint(value)
	return true, nil
}

func (m *memoryRedis) Set(_ context.Context, key string, value any, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = fmt.Sprint(value)
	return nil
}

func (m *memoryRedis) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		delete(m.data, key)
	}
	return nil
}

func (m *memoryRedis) IdempotencyKey(scope, id string) string {
	return "idem:" + scope + ":" + id
}

func (m *memoryRedis) Ping(context.Context) error { return nil }

func (m *memoryRedis) FixedWindowAllow(_ context.Context, scope string, limit int64, _ time.Duration) (bool, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[scope]++
	return m.counts[scope] <= limit, m.counts[scope], nil
}

type stubPinger struct{ err error }

func (s stubPinger) Ping(context.Context) error { return s.err }

type harness struct {
	t       *testing.T
	conn    *gorm.DB
	handler http.Handler
	cfg     *config.Config
	member  *models.User
	admin   *models.User
	option  *models.MerchItemOption
	event   *models.OrderPickupEvent
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	conn := storetest.OpenDB(t)
	client := db.NewFromGorm(conn)
	emitter := outbox.NewService(outbox.NewRepository(conn), logger.Nop())
	ledgerSvc, err := ledger.NewService(ledger.NewRepository(conn))
	require.NoError(t, err)
	activitySvc, err := activity.NewService(activity.NewRepository(conn))
	require.NoError(t, err)

	catalogSvc, err := catalog.NewService(catalog.ServiceParams{
		Repository: catalog.NewRepository(conn),
		DB:         client,
		Outbox:     emitter,
	})
	require.NoError(t, err)
	orderSvc, err := orders.NewService(orders.ServiceParams{
		Repository: orders.NewRepository(conn),
		DB:         client,
		Ledger:     ledgerSvc,
		Activity:   activitySvc,
		Outbox:     emitter,
	})
	require.NoError(t, err)
	placeSvc, err := checkout.NewService(checkout.ServiceParams{
		DB:         client,
		Repository: checkout.NewRepository(conn),
		Ledger:     ledgerSvc,
		Activity:   activitySvc,
		Outbox:     emitter,
		Config:     config.StoreConfig{PurchaseLimitWindow: 30 * 24 * time.Hour, PlaceMaxAttempts: 3},
	})
	require.NoError(t, err)
	pickupSvc, err := pickups.NewService(pickups.ServiceParams{
		Repository: pickups.NewRepository(conn),
		DB:         client,
		Orders:     orderSvc,
		Outbox:     emitter,
	})
	require.NoError(t, err)

	cfg := &config.Config{
		App:       config.AppConfig{Env: "test"},
		JWT:       config.JWTConfig{Secret: "secret", Issuer: "portal", ExpirationMinutes: 30},
		RateLimit: config.RateLimitConfig{PublicIPLimit: 1000, PublicWindow: time.Minute},
	}
	reg := prometheus.NewRegistry()
	handler := NewRouter(Params{
		Config:      cfg,
		Logger:      logger.Nop(),
		DB:          stubPinger{},
		Redis:       newMemoryRedis(),
		Catalog:     catalogSvc,
		Checkout:    placeSvc,
		Orders:      orderSvc,
		Pickups:     pickupSvc,
		Ledger:      ledgerSvc,
		Gatherer:    reg,
		HTTPMetrics: metrics.NewHTTPMetrics(reg),
	})

	collection := storetest.SeedCollection(t, conn, "Fall")
	_, option := storetest.SeedItem(t, conn, collection.ID, storetest.ItemSpec{Name: "Hoodie", Price: 200, Discount: 25, Quantity: 5})
	now := time.Now().UTC()
	return &harness{
		t:       t,
		conn:    conn,
		handler: handler,
		cfg:     cfg,
		member:  storetest.SeedUser(t, conn, 1000),
		admin:   storetest.SeedUser(t, conn, 0),
		option:  option,
		event:   storetest.SeedPickupEvent(t, conn, now.Add(-time.Hour), now.Add(time.Hour), 10),
	}
}

func (h *harness) token(user *models.User, role enums.UserRole) string {
	h.t.Helper()
	token, err := pkgAuth.MintAccessToken(h.cfg.JWT, time.Now(), pkgAuth.AccessTokenPayload{UserID: user.ID, Role: role})
	require.NoError(h.t, err)
	return token
}

func (h *harness) do(method, path, token, idemKey string, body any) *httptest.ResponseRecorder {
	h.t.Helper()
	var payload bytes.Buffer
	if body != nil {
		require.NoError(h.t, json.NewEncoder(&payload).Encode(body))
	}
	req := httptest.NewRequest(method, path, &payload)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if idemKey != "" {
		req.Header.Set("Idempotency-Key", idemKey)
	}
	resp := httptest.NewRecorder()
	h.handler.ServeHTTP(resp, req)
	return resp
}

type orderEnvelope struct {
	Data struct {
		ID        uuid.UUID `json:"uuid"`
		Status    string    `json:"status"`
		TotalCost int       `json:"totalCost"`
		Items     []struct {
			ID       uuid.UUID `json:"uuid"`
			ItemName string    `json:"itemName"`
		} `json:"items"`
	} `json:"data"`
}

func TestHealthAndMetrics(t *testing.T) {
	h := newHarness(t)

	assert.Equal(t, http.StatusOK, h.do(http.MethodGet, "/health/live", "", "", nil).Code)
	assert.Equal(t, http.StatusOK, h.do(http.MethodGet, "/health/ready", "", "", nil).Code)

	metricsResp := h.do(http.MethodGet, "/metrics", "", "", nil)
	assert.Equal(t, http.StatusOK, metricsResp.Code)
	assert.Contains(t, metricsResp.Body.String(), "portal_http_requests_total")
}

func TestReadinessReportsFailingDependency(t *testing.T) {
	handler := NewRouter(Params{
		Config: &config.Config{JWT: config.JWTConfig{Secret: "s", Issuer: "i", ExpirationMinutes: 1}},
		Logger: logger.Nop(),
		DB:     stubPinger{err: fmt.Errorf("connection refused")},
	})
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, resp.Code)
}

func TestRouteGuards(t *testing.T) {
	h := newHarness(t)
	member := h.token(h.member, enums.UserRoleMember)

	assert.Equal(t, http.StatusOK, h.do(http.MethodGet, "/api/v1/store/collection", "", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, h.do(http.MethodGet, "/api/v1/store/order", "", "", nil).Code)
	assert.Equal(t, http.StatusForbidden, h.do(http.MethodPost, "/api/v1/store/collection", member, "", map[string]any{"title": "Nope"}).Code)
	assert.Equal(t, http.StatusBadRequest, h.do(http.MethodPost, "/api/v1/store/order", member, "", map[string]any{
		"order":       []map[string]any{{"option": h.option.ID, "quantity": 1}},
		"pickupEvent": h.event.ID,
	}).Code, "placement without Idempotency-Key")
}

func TestPlaceReplayAndFulfillOverHTTP(t *testing.T) {
	h := newHarness(t)
	member := h.token(h.member, enums.UserRoleMember)
	admin := h.token(h.admin, enums.UserRoleAdmin)
	basket := map[string]any{
		"order":       []map[string]any{{"option": h.option.ID, "quantity": 2}},
		"pickupEvent": h.event.ID,
	}

	first := h.do(http.MethodPost, "/api/v1/store/order", member, "order-1", basket)
	require.Equal(t, http.StatusCreated, first.Code, first.Body.String())
	var placed orderEnvelope
	require.NoError(t, json.Unmarshal(first.Body.Bytes(), &placed))
	assert.Equal(t, 300, placed.Data.TotalCost)
	require.Len(t, placed.Data.Items, 2)
	assert.Equal(t, "Hoodie", placed.Data.Items[0].ItemName)

	replay := h.do(http.MethodPost, "/api/v1/store/order", member, "order-1", basket)
	assert.Equal(t, http.StatusCreated, replay.Code)
	assert.JSONEq(t, first.Body.String(), replay.Body.String())
	assert.Equal(t, "true", replay.Header().Get("Idempotent-Replayed"))
	assert.Equal(t, 700, storetest.Credits(t, h.conn, h.member.ID))
	assert.Equal(t, 3, storetest.Stock(t, h.conn, h.option.ID))

	orderPath := "/api/v1/store/order/" + placed.Data.ID.String()
	fulfill := map[string]any{"items": []map[string]any{{"uuid": placed.Data.Items[0].ID, "notes": "  front desk "}}}
	resp := h.do(http.MethodPatch, orderPath, admin, "fulfill-1", fulfill)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	var partial orderEnvelope
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &partial))
	assert.Equal(t, string(enums.OrderStatusPartiallyFulfilled), partial.Data.Status)

	again := h.do(http.MethodPatch, orderPath, admin, "fulfill-2", fulfill)
	assert.Equal(t, http.StatusConflict, again.Code)

	other := storetest.SeedUser(t, h.conn, 0)
	assert.Equal(t, http.StatusForbidden, h.do(http.MethodGet, orderPath, h.token(other, enums.UserRoleMember), "", nil).Code)
	assert.Equal(t, http.StatusOK, h.do(http.MethodGet, orderPath, member, "", nil).Code)
}

func TestPickupLifecycleOverHTTP(t *testing.T) {
	h := newHarness(t)
	admin := h.token(h.admin, enums.UserRoleAdmin)
	member := h.token(h.member, enums.UserRoleMember)
	start := time.Now().UTC().Add(24 * time.Hour).Truncate(time.Second)

	created := h.do(http.MethodPost, "/api/v1/store/order/pickup", admin, "", map[string]any{
		"title":      "Saturday",
		"start":      start,
		"end":        start.Add(2 * time.Hour),
		"orderLimit": 5,
	})
	require.Equal(t, http.StatusCreated, created.Code, created.Body.String())
	var event struct {
		Data struct {
			ID uuid.UUID `json:"uuid"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(created.Body.Bytes(), &event))

	future := h.do(http.MethodGet, "/api/v1/store/order/pickup/future", member, "", nil)
	require.Equal(t, http.StatusOK, future.Code)
	assert.Contains(t, future.Body.String(), event.Data.ID.String())

	placed := h.do(http.MethodPost, "/api/v1/store/order", member, "order-x", map[string]any{
		"order":       []map[string]any{{"option": h.option.ID, "quantity": 1}},
		"pickupEvent": event.Data.ID,
	})
	require.Equal(t, http.StatusCreated, placed.Code, placed.Body.String())
	assert.Equal(t, 850, storetest.Credits(t, h.conn, h.member.ID))

	cancelled := h.do(http.MethodPost, "/api/v1/store/order/pickup/"+event.Data.ID.String()+"/cancel", admin, "cancel-x", nil)
	require.Equal(t, http.StatusOK, cancelled.Code, cancelled.Body.String())
	assert.Equal(t, 1000, storetest.Credits(t, h.conn, h.member.ID))
	assert.Equal(t, 5, storetest.Stock(t, h.conn, h.option.ID))

	assert.Equal(t, http.StatusConflict, h.do(http.MethodDelete, "/api/v1/store/order/pickup/"+event.Data.ID.String(), admin, "", nil).Code)
}

func (h *harness) placeOne(token, idemKey string) orderEnvelope {
	h.t.Helper()
	resp := h.do(http.MethodPost, "/api/v1/store/order", token, idemKey, map[string]any{
		"order":       []map[string]any{{"option": h.option.ID, "quantity": 1}},
		"pickupEvent": h.event.ID,
	})
	require.Equal(h.t, http.StatusCreated, resp.Code, resp.Body.String())
	var placed orderEnvelope
	require.NoError(h.t, json.Unmarshal(resp.Body.Bytes(), &placed))
	return placed
}

func TestFulfillByItemsBodyOverHTTP(t *testing.T) {
	h := newHarness(t)
	member := h.token(h.member, enums.UserRoleMember)
	admin := h.token(h.admin, enums.UserRoleAdmin)
	first := h.placeOne(member, "order-a")
	second := h.placeOne(member, "order-b")

	spanning := map[string]any{"items": []map[string]any{
		{"uuid": first.Data.Items[0].ID},
		{"uuid": second.Data.Items[0].ID},
	}}
	assert.Equal(t, http.StatusBadRequest, h.do(http.MethodPatch, "/api/v1/store/order", admin, "fulfill-span", spanning).Code)
	assert.Equal(t, http.StatusForbidden, h.do(http.MethodPatch, "/api/v1/store/order", member, "fulfill-member", spanning).Code)

	single := map[string]any{"items": []map[string]any{{"uuid": first.Data.Items[0].ID, "notes": "collected"}}}
	assert.Equal(t, http.StatusBadRequest, h.do(http.MethodPatch, "/api/v1/store/order", admin, "", single).Code,
		"fulfillment without Idempotency-Key")

	resp := h.do(http.MethodPatch, "/api/v1/store/order", admin, "fulfill-a", single)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	var fulfilled orderEnvelope
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &fulfilled))
	assert.Equal(t, first.Data.ID, fulfilled.Data.ID)
	assert.Equal(t, string(enums.OrderStatusFulfilled), fulfilled.Data.Status)

	replay := h.do(http.MethodPatch, "/api/v1/store/order", admin, "fulfill-a", single)
	assert.Equal(t, http.StatusOK, replay.Code)
	assert.Equal(t, "true", replay.Header().Get("Idempotent-Replayed"))
	assert.Equal(t, http.StatusConflict, h.do(http.MethodPatch, "/api/v1/store/order", admin, "fulfill-a2", single).Code)
}

func TestCreditHistoryOverHTTP(t *testing.T) {
	h := newHarness(t)
	member := h.token(h.member, enums.UserRoleMember)
	placed := h.placeOne(member, "order-h")
	h.do(http.MethodPost, "/api/v1/store/order/"+placed.Data.ID.String()+"/cancel", member, "cancel-h", nil)

	assert.Equal(t, http.StatusUnauthorized, h.do(http.MethodGet, "/api/v1/store/credits/history", "", "", nil).Code)

	resp := h.do(http.MethodGet, "/api/v1/store/credits/history?limit=10", member, "", nil)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	var history struct {
		Data struct {
			Entries []struct {
				Type         string     `json:"type"`
				Amount       int        `json:"amount"`
				BalanceAfter int        `json:"balanceAfter"`
				OrderID      *uuid.UUID `json:"order"`
			} `json:"entries"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &history))
	require.Len(t, history.Data.Entries, 2)
	assert.Equal(t, string(enums.LedgerEventTypeRefund), history.Data.Entries[0].Type)
	assert.Equal(t, 150, history.Data.Entries[0].Amount)
	assert.Equal(t, 1000, history.Data.Entries[0].BalanceAfter)
	assert.Equal(t, -150, history.Data.Entries[1].Amount)
	require.NotNil(t, history.Data.Entries[1].OrderID)
	assert.Equal(t, placed.Data.ID, *history.Data.Entries[1].OrderID)

	other := h.token(storetest.SeedUser(t, h.conn, 0), enums.UserRoleMember)
	empty := h.do(http.MethodGet, "/api/v1/store/credits/history", other, "", nil)
	require.Equal(t, http.StatusOK, empty.Code)
	assert.JSONEq(t, `{"data":{"entries":[]}}`, empty.Body.String())
}
