package redis

import "strings"

const (
	defaultNamespace  = "portal"
	idempotencyPrefix = "idempotency"
	rateLimitPrefix   = "rate_limit"
	sessionPrefix     = "session"
	lockPrefix        = "lock"
)

// Keyspace builds colon-separated keys under one namespace. The zero value
// uses "portal".
type Keyspace struct {
	namespace string
}

func NewKeyspace(namespace string) Keyspace {
	return Keyspace{namespace: strings.Trim(strings.TrimSpace(namespace), ":")}
}

func (k Keyspace) String() string {
	if k.namespace == "" {
		return defaultNamespace
	}
	return k.namespace
}

// Key joins parts under the namespace, skipping blank parts.
func (k Keyspace) Key(parts ...string) string {
	var b strings.Builder
	b.WriteString(k.String())
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			b.WriteByte(':')
			b.WriteString(part)
		}
	}
	return b.String()
}

// IdempotencyKey returns a namespaced key for idempotency storage.
func (c *Client) IdempotencyKey(scope, id string) string {
	return c.keys.Key(idempotencyPrefix, scope, id)
}

// RateLimitKey returns a namespaced key for rate limit counters.
func (c *Client) RateLimitKey(scope string) string {
	return c.keys.Key(rateLimitPrefix, scope)
}

// AccessSessionKey builds the key tracking a live access token.
func (c *Client) AccessSessionKey(accessID string) string {
	return c.keys.Key(sessionPrefix, "access", accessID)
}

// LockKey builds the prefix for named cron locks scoped to env.
func (c *Client) LockKey(name, env string) string {
	if env == "" {
		env = "local"
	}
	return c.keys.Key(lockPrefix, name, env)
}
