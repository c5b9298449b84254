package controllers

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/vcledger/api/middleware"
	"github.com/angelmondragon/vcledger/api/responses"
	"github.com/angelmondragon/vcledger/api/validators"
	"github.com/angelmondragon/vcledger/internal/reservation"
	pkgerrors "github.com/angelmondragon/vcledger/pkg/errors"
	"github.com/angelmondragon/vcledger/pkg/logger"
)

const defaultReleaseReason = "released by operator"

type reserveItemRequest struct {
	CatalogItemID string    `json:"catalogItemId" validate:"required,max=128"`
	LocationID    uuid.UUID `json:"locationId" validate:"required"`
	Quantity      int64     `json:"quantity" validate:"gt=0"`
}

type reserveRequest struct {
	CartID uuid.UUID            `json:"cartId" validate:"required"`
	Items  []reserveItemRequest `json:"items" validate:"required,min=1,max=100,dive"`
}

type releaseRequest struct {
	Reason string `json:"reason" validate:"omitempty,max=256"`
}

type fulfillRequest struct {
	ReceiptID uuid.UUID `json:"receiptId" validate:"required"`
}

type fulfillView struct {
	Events           []eventView              `json:"events"`
	Allocations      []reservation.Allocation `json:"allocations"`
	AlreadyFulfilled bool                     `json:"alreadyFulfilled"`
}

func engineUnavailable(engine reservation.Engine) error {
	if engine == nil {
		return pkgerrors.New(pkgerrors.CodeInternal, "reservation engine unavailable")
	}
	return nil
}

// decodeOptionalBody treats an empty body as the zero request.
func decodeOptionalBody(r *http.Request, dest any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return validators.ValidateStruct(dest)
	}
	return validators.DecodeJSONBody(r, dest)
}

// Reserve holds stock for a cart. Lines without enough available stock are
// returned as rejected; the call still succeeds.
func Reserve(engine reservation.Engine, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := engineUnavailable(engine); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req reserveRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		items := make([]reservation.Item, 0, len(req.Items))
		for _, it := range req.Items {
			items = append(items, reservation.Item{
				CatalogItemID: strings.TrimSpace(it.CatalogItemID),
				LocationID:    it.LocationID,
				Quantity:      it.Quantity,
			})
		}
		principal := middleware.PrincipalFromContext(r.Context())
		ctx := r.Context()
		if logg != nil {
			ctx = logg.WithCartID(ctx, req.CartID.String())
		}
		res, err := engine.Reserve(ctx, principal.TenantID, req.CartID, items, principal.UserID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, newReservationView(res))
	}
}

func ReleaseReservation(engine reservation.Engine, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := engineUnavailable(engine); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		cartID, err := validators.ParseUUIDParam(r, "cartId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req releaseRequest
		if err := decodeOptionalBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		reason := validators.SanitizeString(req.Reason, 256)
		if reason == "" {
			reason = defaultReleaseReason
		}
		principal := middleware.PrincipalFromContext(r.Context())
		events, err := engine.Release(r.Context(), principal.TenantID, cartID, principal.UserID, reason)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"cartId": cartID, "events": newEventViews(events)})
	}
}

// FulfillReservation converts a cart's holds into sales against a receipt.
// Repeating it for the same receipt returns the original sales.
func FulfillReservation(engine reservation.Engine, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := engineUnavailable(engine); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		cartID, err := validators.ParseUUIDParam(r, "cartId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req fulfillRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		principal := middleware.PrincipalFromContext(r.Context())
		res, err := engine.Fulfill(r.Context(), principal.TenantID, cartID, req.ReceiptID, principal.UserID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		allocations := res.Allocations
		if allocations == nil {
			allocations = []reservation.Allocation{}
		}
		responses.WriteSuccess(w, fulfillView{
			Events:           newEventViews(res.Events),
			Allocations:      allocations,
			AlreadyFulfilled: res.AlreadyFulfilled,
		})
	}
}
