package notifications

import (
	"context"
	"fmt"

	"go.uber.org/multierr"

	"github.com/angelmondragon/membership-portal/pkg/logger"
)

// Effect is a post-commit action produced alongside a committed result.
type Effect struct {
	Name string
	Run  func(ctx context.Context) error
}

// RunEffects executes every effect in order. A failing effect is logged and
// does not stop the ones after it; the combined error is returned for callers
// that want to observe it.
func RunEffects(ctx context.Context, logg *logger.Logger, effects []Effect) error {
	if logg == nil {
		logg = logger.Nop()
	}
	var errs error
	for _, effect := range effects {
		if effect.Run == nil {
			continue
		}
		if err := runOne(ctx, effect); err != nil {
			logg.Error(logg.WithField(ctx, "effect", effect.Name), "post-commit effect failed", err)
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", effect.Name, err))
		}
	}
	return errs
}

func runOne(ctx context.Context, effect Effect) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return effect.Run(ctx)
}
