package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/membership-portal/pkg/auth"
	"github.com/angelmondragon/membership-portal/pkg/auth/session"
	"github.com/angelmondragon/membership-portal/pkg/config"
	"github.com/angelmondragon/membership-portal/pkg/enums"
	"github.com/angelmondragon/membership-portal/pkg/logger"
)

var testJWT = config.JWTConfig{Secret: "secret", Issuer: "portal", ExpirationMinutes: 10}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthRejectsMissingToken(t *testing.T) {
	handler := Auth(testJWT, stubSessionVerifier{ok: true}, nil)(okHandler())

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
}

func TestAuthRejectsGarbageToken(t *testing.T) {
	handler := Auth(testJWT, nil, nil)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
}

func TestAuthSeedsIdentity(t *testing.T) {
	userID := uuid.New()
	token := mintTestToken(t, userID, enums.UserRoleAdmin)

	var (
		gotUser string
		gotRole enums.UserRole
	)
	handler := Auth(testJWT, stubSessionVerifier{ok: true}, logger.Nop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser = UserIDFromContext(r.Context())
		gotRole = RoleFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, userID.String(), gotUser)
	assert.Equal(t, enums.UserRoleAdmin, gotRole)
}

func TestAuthRejectsRevokedSession(t *testing.T) {
	token := mintTestToken(t, uuid.New(), enums.UserRoleMember)
	handler := Auth(testJWT, stubSessionVerifier{ok: false}, nil)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
}

func TestAuthSessionStoreFailureIsDependencyError(t *testing.T) {
	token := mintTestToken(t, uuid.New(), enums.UserRoleMember)
	handler := Auth(testJWT, stubSessionVerifier{err: errors.New("redis down")}, nil)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	assert.Equal(t, http.StatusServiceUnavailable, resp.Code)
}

func TestOptionalAuth(t *testing.T) {
	var seen string
	handler := OptionalAuth(testJWT, nil, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = UserIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("anonymous passes through", func(t *testing.T) {
		seen = "unset"
		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusOK, resp.Code)
		assert.Empty(t, seen)
	})

	t.Run("valid bearer identifies caller", func(t *testing.T) {
		userID := uuid.New()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+mintTestToken(t, userID, enums.UserRoleMember))
		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, req)
		assert.Equal(t, http.StatusOK, resp.Code)
		assert.Equal(t, userID.String(), seen)
	})

	t.Run("invalid bearer rejected", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer broken")
		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, req)
		assert.Equal(t, http.StatusUnauthorized, resp.Code)
	})
}

func TestRequireRole(t *testing.T) {
	handler := RequireAdmin(nil)(okHandler())

	cases := []struct {
		name   string
		ctx    context.Context
		status int
	}{
		{"anonymous", context.Background(), http.StatusUnauthorized},
		{"member", WithIdentity(context.Background(), uuid.NewString(), enums.UserRoleMember), http.StatusForbidden},
		{"admin", WithIdentity(context.Background(), uuid.NewString(), enums.UserRoleAdmin), http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil).WithContext(tc.ctx)
			resp := httptest.NewRecorder()
			handler.ServeHTTP(resp, req)
			assert.Equal(t, tc.status, resp.Code)
		})
	}
}

func TestRequireRoleAcceptsAnyListedRole(t *testing.T) {
	handler := RequireRole(logger.Nop(), enums.UserRoleMember, enums.UserRoleAdmin)(okHandler())
	for _, role := range []enums.UserRole{enums.UserRoleMember, enums.UserRoleAdmin} {
		req := httptest.NewRequest(http.MethodGet, "/", nil).
			WithContext(WithIdentity(context.Background(), uuid.NewString(), role))
		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, req)
		assert.Equal(t, http.StatusOK, resp.Code, role)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil).
		WithContext(WithIdentity(context.Background(), uuid.NewString(), enums.UserRole("guest")))
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	assert.Equal(t, http.StatusForbidden, resp.Code)
}

func TestUserUUIDFromContext(t *testing.T) {
	_, ok := UserUUIDFromContext(context.Background())
	assert.False(t, ok)

	id := uuid.New()
	got, ok := UserUUIDFromContext(WithIdentity(context.Background(), id.String(), enums.UserRoleMember))
	require.True(t, ok)
	assert.Equal(t, id, got)
	assert.False(t, IsAdmin(WithIdentity(context.Background(), id.String(), enums.UserRoleMember)))
}

func mintTestToken(t *testing.T, userID uuid.UUID, role enums.UserRole) string {
	t.Helper()
	token, err := auth.MintAccessToken(testJWT, time.Now(), auth.AccessTokenPayload{
		UserID: userID,
		Role:   role,
		JTI:    session.NewAccessID(),
	})
	require.NoError(t, err)
	return token
}

type stubSessionVerifier struct {
	ok  bool
	err error
}

func (s stubSessionVerifier) Verify(context.Context, string, uuid.UUID) (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	return s.ok, nil
}
