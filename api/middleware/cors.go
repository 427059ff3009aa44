package middleware

import (
	"net/http"

	"github.com/go-chi/cors"

	"github.com/angelmondragon/membership-portal/api/responses"
)

// CORS applies the portal frontends' origin policy. With no configured
// origins every origin is allowed but credentials are not.
func CORS(origins []string) func(http.Handler) http.Handler {
	opts := cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", IdempotencyKeyHeader, responses.RequestIDHeader},
		ExposedHeaders: []string{responses.RequestIDHeader, ReplayedHeader, "Retry-After"},
		MaxAge:         300,
	}
	if len(origins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	} else {
		opts.AllowCredentials = true
	}
	return cors.New(opts).Handler
}
