package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/membership-portal/pkg/logger"
	"github.com/angelmondragon/membership-portal/pkg/metrics"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(b)
	r.bytes += n
	return n, err
}

// quietPath matches health checks and scrapes, which log at debug.
func quietPath(path string) bool {
	return strings.HasPrefix(path, "/health/") || path == "/metrics"
}

// Logging logs each request once it completes and records request metrics by
// route pattern. Server errors log at warn.
func Logging(logg *logger.Logger, httpMetrics *metrics.HTTPMetrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if logg != nil {
				ctx = logg.WithFields(ctx, map[string]any{
					"method": r.Method,
					"path":   r.URL.Path,
				})
			}

			rec := &statusRecorder{ResponseWriter: w}
			start := time.Now()
			next.ServeHTTP(rec, r.WithContext(ctx))
			if rec.status == 0 {
				rec.status = http.StatusOK
			}
			duration := time.Since(start)

			route := r.URL.Path
			if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
				route = rc.RoutePattern()
			}
			httpMetrics.ObserveRequest(r.Method, route, rec.status, duration)

			if logg == nil {
				return
			}
			ctx = logg.WithFields(ctx, map[string]any{
				"route":       route,
				"status":      rec.status,
				"bytes":       rec.bytes,
				"duration_ms": duration.Milliseconds(),
			})
			logCompletion(ctx, logg, r.URL.Path, rec.status)
		})
	}
}

func logCompletion(ctx context.Context, logg *logger.Logger, path string, status int) {
	switch {
	case status >= http.StatusInternalServerError:
		logg.Warn(ctx, "request.complete")
	case quietPath(path):
		logg.Debug(ctx, "request.complete")
	default:
		logg.Info(ctx, "request.complete")
	}
}
