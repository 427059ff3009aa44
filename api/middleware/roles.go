package middleware

import (
	"net/http"
	"slices"
	"strings"

	"github.com/angelmondragon/membership-portal/api/responses"
	"github.com/angelmondragon/membership-portal/pkg/enums"
	pkgerrors "github.com/angelmondragon/membership-portal/pkg/errors"
	"github.com/angelmondragon/membership-portal/pkg/logger"
)

// RequireRole admits authenticated callers holding one of allowed.
// Anonymous callers get 401 and everyone else 403.
func RequireRole(logg *logger.Logger, allowed ...enums.UserRole) func(http.Handler) http.Handler {
	names := make([]string, 0, len(allowed))
	for _, role := range allowed {
		names = append(names, string(role))
	}
	denied := strings.Join(names, " or ") + " role required"

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if UserIDFromContext(ctx) == "" {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}
			role := RoleFromContext(ctx)
			if !slices.Contains(allowed, role) {
				if logg != nil {
					logg.Warn(logg.WithFields(ctx, map[string]any{
						"role": role,
						"path": r.URL.Path,
					}), "role check denied request")
				}
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeForbidden, denied))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAdmin limits a route group to store administrators.
func RequireAdmin(logg *logger.Logger) func(http.Handler) http.Handler {
	return RequireRole(logg, enums.UserRoleAdmin)
}
