package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/membership-portal/pkg/config"
	redisclient "github.com/angelmondragon/membership-portal/pkg/redis"
)

// ErrBlankAccessID is returned when a token carries no jti.
var ErrBlankAccessID = errors.New("access id is required")

type store interface {
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, keys ...string) error
	AccessSessionKey(accessID string) string
}

// Verifier is the read side used by the auth middleware.
type Verifier interface {
	Verify(ctx context.Context, accessID string, userID uuid.UUID) (bool, error)
}

// Manager records live access tokens by jti. Each entry stores the member it
// was issued to, so a jti only verifies for that member.
type Manager struct {
	store store
	ttl   time.Duration
}

// NewManager builds a Redis-backed manager whose entries outlive the access
// tokens they track.
func NewManager(client *redisclient.Client, cfg config.JWTConfig) (*Manager, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	return newManager(client, cfg)
}

func newManager(s store, cfg config.JWTConfig) (*Manager, error) {
	ttl := cfg.SessionTTL()
	if ttl <= 0 {
		return nil, errors.New("session ttl must be positive")
	}
	if accessTTL := time.Duration(cfg.ExpirationMinutes) * time.Minute; ttl < accessTTL {
		return nil, fmt.Errorf("session ttl (%s) must cover access token ttl (%s)", ttl, accessTTL)
	}
	return &Manager{store: s, ttl: ttl}, nil
}

func (m *Manager) key(accessID string) (string, error) {
	accessID = strings.TrimSpace(accessID)
	if accessID == "" {
		return "", ErrBlankAccessID
	}
	return m.store.AccessSessionKey(accessID), nil
}

// Register marks accessID live for userID.
func (m *Manager) Register(ctx context.Context, accessID string, userID uuid.UUID) error {
	key, err := m.key(accessID)
	if err != nil {
		return err
	}
	if userID == uuid.Nil {
		return errors.New("user id is required")
	}
	return m.store.Set(ctx, key, userID.String(), m.ttl)
}

// Verify reports whether accessID is live and was issued to userID. Revoked,
// expired and foreign sessions all report false.
func (m *Manager) Verify(ctx context.Context, accessID string, userID uuid.UUID) (bool, error) {
	key, err := m.key(accessID)
	if err != nil {
		return false, err
	}
	owner, err := m.store.Get(ctx, key)
	if redisclient.IsMiss(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return owner == userID.String(), nil
}

// Revoke ends the session tied to accessID.
func (m *Manager) Revoke(ctx context.Context, accessID string) error {
	key, err := m.key(accessID)
	if err != nil {
		return err
	}
	return m.store.Del(ctx, key)
}

// NewAccessID produces the identifier used as the JWT jti and Redis key.
func NewAccessID() string {
	return uuid.NewString()
}
