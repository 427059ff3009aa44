package auth

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/membership-portal/pkg/enums"
)

// AccessTokenPayload captures the data available when minting a JWT.
type AccessTokenPayload struct {
	UserID uuid.UUID
	Role   enums.UserRole
	JTI    string
}

// AccessTokenClaims represents the typed JWT presented by portal clients.
type AccessTokenClaims struct {
	UserID uuid.UUID      `json:"user_id"`
	Role   enums.UserRole `json:"role"`
	jwt.RegisteredClaims
}

var _ jwt.ClaimsValidator = (*AccessTokenClaims)(nil)

// Validate runs after the registered claims pass; jwt calls it during parsing.
func (c *AccessTokenClaims) Validate() error {
	if c.UserID == uuid.Nil {
		return errors.New("token missing user_id")
	}
	if !c.Role.IsValid() {
		return fmt.Errorf("token carries invalid role %q", c.Role)
	}
	if c.Subject != "" && c.Subject != c.UserID.String() {
		return errors.New("token subject does not match user_id")
	}
	return nil
}

// IsAdmin reports whether the bearer may use admin store routes.
func (c *AccessTokenClaims) IsAdmin() bool {
	return c != nil && c.Role == enums.UserRoleAdmin
}
