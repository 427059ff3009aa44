package controllers

import (
	"context"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/angelmondragon/membership-portal/api/responses"
	"github.com/angelmondragon/membership-portal/pkg/config"
	pkgerrors "github.com/angelmondragon/membership-portal/pkg/errors"
	"github.com/angelmondragon/membership-portal/pkg/logger"
)

const (
	readinessTimeout = 2 * time.Second
	envHeader        = "X-Portal-Env"
)

// Pinger is a dependency readiness checks.
type Pinger interface {
	Ping(ctx context.Context) error
}

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(envHeader, cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

type readiness struct {
	checks map[string]string
	failed []string
	errs   map[string]error
}

// HealthReady pings every dependency in parallel. Concurrent checks share one
// round of pings. Any failure answers 503 naming the failing dependencies.
func HealthReady(cfg *config.Config, logg *logger.Logger, deps map[string]Pinger) http.HandlerFunc {
	var inflight singleflight.Group
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(envHeader, cfg.App.Env)

		v, _, _ := inflight.Do("ready", func() (any, error) {
			return pingAll(context.WithoutCancel(r.Context()), deps), nil
		})
		result := v.(readiness)

		if len(result.failed) > 0 {
			first := result.failed[0]
			responses.WriteError(r.Context(), logg, w,
				pkgerrors.Wrap(pkgerrors.CodeDependency, result.errs[first], first+" unavailable").
					WithDetails(map[string]any{
						"dependency": first,
						"failed":     strings.Join(result.failed, ","),
						"checks":     result.checks,
					}))
			return
		}
		responses.WriteSuccess(w, map[string]any{"status": "ready", "checks": result.checks})
	}
}

func pingAll(ctx context.Context, deps map[string]Pinger) readiness {
	ctx, cancel := context.WithTimeout(ctx, readinessTimeout)
	defer cancel()

	var (
		mu     sync.Mutex
		group  errgroup.Group
		result = readiness{checks: map[string]string{}, errs: map[string]error{}}
	)
	for name, dep := range deps {
		if dep == nil {
			continue
		}
		group.Go(func() error {
			err := dep.Ping(ctx)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.checks[name] = "failed"
				result.errs[name] = err
				result.failed = append(result.failed, name)
				return nil
			}
			result.checks[name] = "ok"
			return nil
		})
	}
	_ = group.Wait()
	sort.Strings(result.failed)
	return result
}
