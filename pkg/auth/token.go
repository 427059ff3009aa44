package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/angelmondragon/membership-portal/pkg/config"
)

// ClockSkew is tolerated on exp, nbf and iat.
const ClockSkew = 30 * time.Second

var (
	// ErrTokenExpired lets callers tell an expired session from a forged one.
	ErrTokenExpired = errors.New("access token expired")

	signingMethod = jwt.SigningMethodHS256
)

func checkConfig(cfg config.JWTConfig, minting bool) error {
	var errs error
	if cfg.Secret == "" {
		errs = multierr.Append(errs, errors.New("jwt secret is required"))
	}
	if cfg.Issuer == "" {
		errs = multierr.Append(errs, errors.New("jwt issuer is required"))
	}
	if minting && cfg.ExpirationMinutes <= 0 {
		errs = multierr.Append(errs, errors.New("jwt expiration minutes must be positive"))
	}
	return errs
}

// MintAccessToken issues a signed JWT for the provided payload using the configured TTL.
// An empty JTI gets a random one.
func MintAccessToken(cfg config.JWTConfig, now time.Time, payload AccessTokenPayload) (string, error) {
	if err := checkConfig(cfg, true); err != nil {
		return "", err
	}

	jti := strings.TrimSpace(payload.JTI)
	if jti == "" {
		jti = uuid.NewString()
	}
	claims := &AccessTokenClaims{
		UserID: payload.UserID,
		Role:   payload.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    cfg.Issuer,
			Subject:   payload.UserID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Duration(cfg.ExpirationMinutes) * time.Minute)),
			ID:        jti,
		},
	}
	if err := claims.Validate(); err != nil {
		return "", err
	}

	signed, err := jwt.NewWithClaims(signingMethod, claims).SignedString([]byte(cfg.Secret))
	if err != nil {
		return "", fmt.Errorf("signing jwt: %w", err)
	}
	return signed, nil
}

// ParseAccessToken verifies signature, issuer and lifetime, then the portal
// claims. Expired tokens wrap both ErrTokenExpired and jwt.ErrTokenExpired.
func ParseAccessToken(cfg config.JWTConfig, tokenString string) (*AccessTokenClaims, error) {
	if err := checkConfig(cfg, false); err != nil {
		return nil, err
	}

	claims := &AccessTokenClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims,
		func(*jwt.Token) (interface{}, error) { return []byte(cfg.Secret), nil },
		jwt.WithValidMethods([]string{signingMethod.Alg()}),
		jwt.WithIssuer(cfg.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(ClockSkew),
	)
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, fmt.Errorf("%w: %w", ErrTokenExpired, err)
	case err != nil:
		return nil, err
	}
	return claims, nil
}
