package pickups

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/membership-portal/api/middleware"
	"github.com/angelmondragon/membership-portal/api/responses"
	"github.com/angelmondragon/membership-portal/api/validators"
	internalorders "github.com/angelmondragon/membership-portal/internal/orders"
	internalpickups "github.com/angelmondragon/membership-portal/internal/pickups"
	pkgerrors "github.com/angelmondragon/membership-portal/pkg/errors"
	"github.com/angelmondragon/membership-portal/pkg/logger"
	"github.com/angelmondragon/membership-portal/pkg/pagination"
)

type createRequest struct {
	Title       string     `json:"title" validate:"required,notblank,max=255"`
	Description string     `json:"description" validate:"max=10000"`
	Start       time.Time  `json:"start" validate:"required"`
	End         time.Time  `json:"end" validate:"required"`
	OrderLimit  int        `json:"orderLimit" validate:"gte=1"`
	LinkedEvent *uuid.UUID `json:"linkedEvent,omitempty"`
}

type editRequest struct {
	Title       *string    `json:"title,omitempty" validate:"omitempty,max=255"`
	Description *string    `json:"description,omitempty" validate:"omitempty,max=10000"`
	Start       *time.Time `json:"start,omitempty"`
	End         *time.Time `json:"end,omitempty"`
	OrderLimit  *int       `json:"orderLimit,omitempty" validate:"omitempty,gte=1"`
	LinkedEvent *uuid.UUID `json:"linkedEvent,omitempty"`
}

func unavailable(w http.ResponseWriter, r *http.Request, logg *logger.Logger) {
	responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "pickup service unavailable"))
}

// ListFuture returns active events that have not ended, soonest first.
func ListFuture(svc internalpickups.Service, logg *logger.Logger) http.HandlerFunc {
	return list(svc, logg, false)
}

// ListPast returns ended or closed events, most recent first.
func ListPast(svc internalpickups.Service, logg *logger.Logger) http.HandlerFunc {
	return list(svc, logg, true)
}

func list(svc internalpickups.Service, logg *logger.Logger, past bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			unavailable(w, r, logg)
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var events []internalpickups.PickupEventDTO
		if past {
			events, err = svc.ListPast(r.Context(), limit)
		} else {
			events, err = svc.ListFuture(r.Context(), limit)
		}
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"pickupEvents": events})
	}
}

func Get(svc internalpickups.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			unavailable(w, r, logg)
			return
		}
		id, err := validators.ParsePathUUID(r, "uuid")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		event, err := svc.Get(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, event)
	}
}

func Create(svc internalpickups.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			unavailable(w, r, logg)
			return
		}
		var body createRequest
		if err := validators.DecodeJSONBody(w, r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		event, err := svc.Create(r.Context(), internalpickups.CreateInput{
			Title:         body.Title,
			Description:   body.Description,
			Start:         body.Start,
			End:           body.End,
			OrderLimit:    body.OrderLimit,
			LinkedEventID: body.LinkedEvent,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, event)
	}
}

func Edit(svc internalpickups.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			unavailable(w, r, logg)
			return
		}
		id, err := validators.ParsePathUUID(r, "uuid")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var body editRequest
		if err := validators.DecodeJSONBody(w, r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		event, err := svc.Edit(r.Context(), id, internalpickups.EditInput{
			Title:         body.Title,
			Description:   body.Description,
			Start:         body.Start,
			End:           body.End,
			OrderLimit:    body.OrderLimit,
			LinkedEventID: body.LinkedEvent,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, event)
	}
}

func Delete(svc internalpickups.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			unavailable(w, r, logg)
			return
		}
		id, err := validators.ParsePathUUID(r, "uuid")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := svc.Delete(r.Context(), id); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteNoContent(w)
	}
}

// Cancel closes an event and cancels every open order attached to it.
func Cancel(svc internalpickups.Service, logg *logger.Logger) http.HandlerFunc {
	return closeEvent(svc, logg, false)
}

// Complete closes an event and marks its open orders as missed.
func Complete(svc internalpickups.Service, logg *logger.Logger) http.HandlerFunc {
	return closeEvent(svc, logg, true)
}

func closeEvent(svc internalpickups.Service, logg *logger.Logger, complete bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			unavailable(w, r, logg)
			return
		}
		id, err := validators.ParsePathUUID(r, "uuid")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		userID, ok := middleware.UserUUIDFromContext(r.Context())
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing"))
			return
		}
		actor := internalorders.Actor{UserID: userID, Role: middleware.RoleFromContext(r.Context())}

		var summary *internalpickups.ClosureSummary
		if complete {
			summary, err = svc.Complete(r.Context(), id, actor)
		} else {
			summary, err = svc.Cancel(r.Context(), id, actor)
		}
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, summary)
	}
}
