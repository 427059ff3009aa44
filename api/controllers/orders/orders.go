package orders

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/membership-portal/api/middleware"
	"github.com/angelmondragon/membership-portal/api/responses"
	"github.com/angelmondragon/membership-portal/api/validators"
	checkoutsvc "github.com/angelmondragon/membership-portal/internal/checkout"
	"github.com/angelmondragon/membership-portal/internal/notifications"
	internalorders "github.com/angelmondragon/membership-portal/internal/orders"
	pkgcheckout "github.com/angelmondragon/membership-portal/pkg/checkout"
	"github.com/angelmondragon/membership-portal/pkg/enums"
	pkgerrors "github.com/angelmondragon/membership-portal/pkg/errors"
	"github.com/angelmondragon/membership-portal/pkg/logger"
	"github.com/angelmondragon/membership-portal/pkg/pagination"
)

func actorFrom(r *http.Request) (internalorders.Actor, error) {
	userID, ok := middleware.UserUUIDFromContext(r.Context())
	if !ok {
		return internalorders.Actor{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	return internalorders.Actor{UserID: userID, Role: middleware.RoleFromContext(r.Context())}, nil
}

type placeOrderRequest struct {
	Order       []basketLineRequest `json:"order" validate:"required,min=1,dive"`
	PickupEvent uuid.UUID           `json:"pickupEvent" validate:"required"`
}

type basketLineRequest struct {
	Option   uuid.UUID `json:"option" validate:"required"`
	Quantity int       `json:"quantity" validate:"gt=0"`
}

// Place commits a member's basket, then runs the confirmation effects outside
// the transaction.
func Place(svc checkoutsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}
		actor, err := actorFrom(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body placeOrderRequest
		if err := validators.DecodeJSONBody(w, r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		lines := make([]pkgcheckout.BasketLine, 0, len(body.Order))
		for _, line := range body.Order {
			lines = append(lines, pkgcheckout.BasketLine{OptionID: line.Option, Quantity: line.Quantity})
		}

		placed, err := svc.PlaceOrder(r.Context(), checkoutsvc.PlaceOrderInput{
			UserID:        actor.UserID,
			Lines:         lines,
			PickupEventID: body.PickupEvent,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		_ = notifications.RunEffects(r.Context(), logg, placed.Effects)
		responses.WriteSuccessStatus(w, http.StatusCreated, newPlacedOrderResponse(placed))
	}
}

func newPlacedOrderResponse(placed *checkoutsvc.PlacedOrder) internalorders.OrderDetail {
	refs := map[uuid.UUID]internalorders.ItemRef{}
	if placed.Quote != nil {
		for _, line := range placed.Quote.Lines {
			refs[line.OptionID] = internalorders.ItemRef{ItemID: line.ItemID, ItemName: line.ItemName}
		}
	}
	return internalorders.NewOrderDetail(placed.Order, refs)
}

// List pages the caller's orders. Admins may pass all=true or pickupEvent.
func List(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}
		actor, err := actorFrom(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		all, err := validators.ParseQueryBool(r, "all")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		pickupEventID, err := validators.ParseQueryUUID(r, "pickupEvent")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		input := internalorders.ListInput{
			All:           all,
			PickupEventID: pickupEventID,
			Limit:         limit,
			Cursor:        strings.TrimSpace(r.URL.Query().Get("cursor")),
		}
		if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
			status, err := enums.ParseOrderStatus(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status"))
				return
			}
			input.Status = &status
		}

		list, err := svc.List(r.Context(), actor, input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, list)
	}
}

// Detail returns one order to its owner or an admin.
func Detail(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}
		actor, err := actorFrom(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderID, err := validators.ParsePathUUID(r, "uuid")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		detail, err := svc.Get(r.Context(), orderID, actor)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, detail)
	}
}

type fulfillRequest struct {
	Items []fulfillItemRequest `json:"items" validate:"required,min=1,dive"`
}

type fulfillItemRequest struct {
	UUID  uuid.UUID `json:"uuid" validate:"required"`
	Notes *string   `json:"notes,omitempty" validate:"omitempty,max=1000"`
}

// Fulfill hands out the named items of an order. Without an order id in the
// path the order is the one holding every listed item.
func Fulfill(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}
		actor, err := actorFrom(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var orderID uuid.UUID
		if chi.URLParam(r, "uuid") != "" {
			orderID, err = validators.ParsePathUUID(r, "uuid")
			if err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
		}
		var body fulfillRequest
		if err := validators.DecodeJSONBody(w, r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		items := make([]internalorders.FulfillItem, 0, len(body.Items))
		for _, item := range body.Items {
			var notes *string
			if item.Notes != nil {
				trimmed := validators.SanitizeString(*item.Notes, 1000)
				notes = &trimmed
			}
			items = append(items, internalorders.FulfillItem{ItemID: item.UUID, Notes: notes})
		}

		detail, err := svc.Fulfill(r.Context(), internalorders.FulfillInput{
			OrderID: orderID,
			Items:   items,
			Actor:   actor,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, detail)
	}
}

type cancelResponse struct {
	Order           uuid.UUID         `json:"uuid"`
	Status          enums.OrderStatus `json:"status"`
	RefundedCredits int               `json:"refundedCredits"`
	RestockedUnits  int               `json:"restockedUnits"`
}

// Cancel refunds and restocks an order's unfulfilled items.
func Cancel(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}
		actor, err := actorFrom(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderID, err := validators.ParsePathUUID(r, "uuid")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		resolution, err := svc.Cancel(r.Context(), orderID, actor)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, cancelResponse{
			Order:           resolution.OrderID,
			Status:          resolution.Status,
			RefundedCredits: resolution.RefundedCredits,
			RestockedUnits:  resolution.RestockedUnits,
		})
	}
}
