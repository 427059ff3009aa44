package middleware

import (
	"context"

	"github.com/google/uuid"

	"github.com/angelmondragon/membership-portal/pkg/enums"
)

type identityKey struct{}

// Identity is the authenticated caller attached by Auth or OptionalAuth.
type Identity struct {
	UserID string
	Role   enums.UserRole
}

// WithIdentity seeds ctx with a user id and role.
func WithIdentity(ctx context.Context, userID string, role enums.UserRole) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, identityKey{}, Identity{UserID: userID, Role: role})
}

// IdentityFromContext reports false for anonymous requests.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	if ctx == nil {
		return Identity{}, false
	}
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok && id.UserID != ""
}

// UserIDFromContext returns the authenticated user id, or "" for anonymous requests.
func UserIDFromContext(ctx context.Context) string {
	id, _ := IdentityFromContext(ctx)
	return id.UserID
}

// RoleFromContext returns the authenticated role, or "" for anonymous requests.
func RoleFromContext(ctx context.Context) enums.UserRole {
	id, _ := IdentityFromContext(ctx)
	return id.Role
}

// IsAdmin reports whether the request carries an admin bearer.
func IsAdmin(ctx context.Context) bool {
	return RoleFromContext(ctx) == enums.UserRoleAdmin
}

// UserUUIDFromContext parses the authenticated user id.
func UserUUIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(UserIDFromContext(ctx))
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}
