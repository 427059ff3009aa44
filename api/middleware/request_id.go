package middleware

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/membership-portal/api/responses"
	"github.com/angelmondragon/membership-portal/pkg/logger"
)

// requestIDPattern accepts plain tokens of up to 128 characters.
var requestIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._:-]{0,127}$`)

// RequestID propagates the caller's request id, or mints one, and attaches it
// to the response, the request logger and the header seen by handlers.
func RequestID(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := strings.TrimSpace(r.Header.Get(responses.RequestIDHeader))
			if !requestIDPattern.MatchString(reqID) {
				reqID = uuid.NewString()
			}
			r.Header.Set(responses.RequestIDHeader, reqID)
			w.Header().Set(responses.RequestIDHeader, reqID)

			ctx := r.Context()
			if logg != nil {
				ctx = logg.WithRequestID(ctx, reqID)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
