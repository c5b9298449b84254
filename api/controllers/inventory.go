package controllers

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/vcledger/api/middleware"
	"github.com/angelmondragon/vcledger/api/responses"
	"github.com/angelmondragon/vcledger/api/validators"
	"github.com/angelmondragon/vcledger/internal/inventory"
	"github.com/angelmondragon/vcledger/internal/stock"
	"github.com/angelmondragon/vcledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/vcledger/pkg/errors"
	"github.com/angelmondragon/vcledger/pkg/logger"
)

type createLocationRequest struct {
	Name string  `json:"name" validate:"required,max=128"`
	Code *string `json:"code,omitempty" validate:"omitempty,max=64"`
	Type string  `json:"type" validate:"required,oneof=warehouse store virtual"`
}

type receiveGoodsRequest struct {
	CatalogItemID string     `json:"catalogItemId" validate:"required,max=128"`
	LocationID    uuid.UUID  `json:"locationId" validate:"required"`
	Quantity      int64      `json:"quantity" validate:"gt=0"`
	LotNumber     *string    `json:"lotNumber,omitempty" validate:"omitempty,max=128"`
	SerialNumber  *string    `json:"serialNumber,omitempty" validate:"omitempty,max=128"`
	ExpiresAt     *time.Time `json:"expiresAt,omitempty"`
	Reason        *string    `json:"reason,omitempty" validate:"omitempty,max=256"`
}

type adjustRequest struct {
	CatalogItemID string     `json:"catalogItemId" validate:"required,max=128"`
	LocationID    uuid.UUID  `json:"locationId" validate:"required"`
	LotID         *uuid.UUID `json:"lotId,omitempty"`
	Quantity      int64      `json:"quantity" validate:"ne=0"`
	Reason        string     `json:"reason" validate:"required,max=256"`
}

type receiveView struct {
	Lot   *lotView  `json:"lot,omitempty"`
	Event eventView `json:"event"`
}

func inventoryUnavailable(svc inventory.Service) error {
	if svc == nil {
		return pkgerrors.New(pkgerrors.CodeInternal, "inventory service unavailable")
	}
	return nil
}

func CreateLocation(svc inventory.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := inventoryUnavailable(svc); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req createLocationRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		location, err := svc.CreateLocation(r.Context(), inventory.CreateLocationInput{
			TenantID: middleware.TenantIDFromContext(r.Context()),
			Name:     validators.SanitizeString(req.Name, 128),
			Code:     req.Code,
			Type:     enums.LocationType(req.Type),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, newLocationView(*location))
	}
}

func ListLocations(svc inventory.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := inventoryUnavailable(svc); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		locations, err := svc.ListLocations(r.Context(), middleware.TenantIDFromContext(r.Context()), validators.ParseQueryBool(r, "includeInactive"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		out := make([]locationView, 0, len(locations))
		for _, l := range locations {
			out = append(out, newLocationView(l))
		}
		responses.WriteSuccess(w, out)
	}
}

func DeactivateLocation(svc inventory.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := inventoryUnavailable(svc); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		locationID, err := validators.ParseUUIDParam(r, "locationId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := svc.DeactivateLocation(r.Context(), middleware.TenantIDFromContext(r.Context()), locationID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"id": locationID, "status": enums.LocationStatusInactive})
	}
}

func ReceiveGoods(svc inventory.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := inventoryUnavailable(svc); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req receiveGoodsRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		principal := middleware.PrincipalFromContext(r.Context())
		res, err := svc.ReceiveGoods(r.Context(), inventory.ReceiveGoodsInput{
			TenantID:      principal.TenantID,
			CatalogItemID: strings.TrimSpace(req.CatalogItemID),
			LocationID:    req.LocationID,
			Quantity:      req.Quantity,
			LotNumber:     req.LotNumber,
			SerialNumber:  req.SerialNumber,
			ExpiresAt:     req.ExpiresAt,
			Reason:        req.Reason,
			ActorID:       principal.UserID,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		out := receiveView{Event: newEventView(res.Event)}
		if res.Lot != nil {
			lot := newLotView(*res.Lot)
			out.Lot = &lot
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, out)
	}
}

func AdjustStock(svc inventory.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := inventoryUnavailable(svc); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req adjustRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		principal := middleware.PrincipalFromContext(r.Context())
		event, err := svc.Adjust(r.Context(), inventory.AdjustInput{
			TenantID:      principal.TenantID,
			CatalogItemID: strings.TrimSpace(req.CatalogItemID),
			LocationID:    req.LocationID,
			LotID:         req.LotID,
			Quantity:      req.Quantity,
			Reason:        validators.SanitizeString(req.Reason, 256),
			ActorID:       principal.UserID,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, newEventView(*event))
	}
}

func ListLots(svc inventory.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := inventoryUnavailable(svc); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		catalogItemID := strings.TrimSpace(r.URL.Query().Get("catalogItemId"))
		if catalogItemID == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "catalogItemId is required").WithDetails(map[string]string{"catalogItemId": "is required"}))
			return
		}
		locationID, err := validators.ParseQueryUUID(r, "locationId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		lots, err := svc.ListLots(r.Context(), middleware.TenantIDFromContext(r.Context()), catalogItemID, locationID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		out := make([]lotView, 0, len(lots))
		for _, l := range lots {
			out = append(out, newLotView(l))
		}
		responses.WriteSuccess(w, out)
	}
}

// GetLot traces a lot to the receipts its units were sold on.
func GetLot(svc inventory.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := inventoryUnavailable(svc); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		lotID, err := validators.ParseUUIDParam(r, "lotId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		lot, err := svc.GetLot(r.Context(), middleware.TenantIDFromContext(r.Context()), lotID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, lot)
	}
}

// GetStockLevel answers one (catalog item, location) scope when both query
// parameters are given, otherwise lists every level for the tenant.
func GetStockLevel(svc inventory.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := inventoryUnavailable(svc); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		tenantID := middleware.TenantIDFromContext(r.Context())
		locationID, err := validators.ParseQueryUUID(r, "locationId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		catalogItemID := strings.TrimSpace(r.URL.Query().Get("catalogItemId"))
		if catalogItemID != "" {
			if locationID == nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "locationId is required with catalogItemId").WithDetails(map[string]string{"locationId": "is required"}))
				return
			}
			level, err := svc.GetLevel(r.Context(), tenantID, catalogItemID, *locationID)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
			responses.WriteSuccess(w, level)
			return
		}
		levels, err := svc.ListLevels(r.Context(), tenantID, locationID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if levels == nil {
			levels = []stock.StockLevel{}
		}
		responses.WriteSuccess(w, levels)
	}
}
