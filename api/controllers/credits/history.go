package credits

import (
	"net/http"

	"github.com/angelmondragon/membership-portal/api/middleware"
	"github.com/angelmondragon/membership-portal/api/responses"
	"github.com/angelmondragon/membership-portal/api/validators"
	"github.com/angelmondragon/membership-portal/internal/ledger"
	pkgerrors "github.com/angelmondragon/membership-portal/pkg/errors"
	"github.com/angelmondragon/membership-portal/pkg/logger"
	"github.com/angelmondragon/membership-portal/pkg/pagination"
)

type historyResponse struct {
	Entries []ledger.Movement `json:"entries"`
}

// History lists the caller's own credit movements, newest first.
func History(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "ledger service unavailable"))
			return
		}
		userID, ok := middleware.UserUUIDFromContext(r.Context())
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing"))
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		events, err := svc.History(r.Context(), userID, limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, historyResponse{Entries: ledger.NewMovements(events)})
	}
}
