package controllers

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/vcledger/api/middleware"
	"github.com/angelmondragon/vcledger/api/responses"
	"github.com/angelmondragon/vcledger/api/validators"
	"github.com/angelmondragon/vcledger/internal/settlement"
	"github.com/angelmondragon/vcledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/vcledger/pkg/errors"
	"github.com/angelmondragon/vcledger/pkg/logger"
)

const defaultCancelReason = "cancelled by operator"

type cartLineRequest struct {
	CatalogItemID string          `json:"catalogItemId" validate:"required,max=128"`
	LocationID    uuid.UUID       `json:"locationId" validate:"required"`
	Name          string          `json:"name" validate:"omitempty,max=256"`
	Quantity      int64           `json:"quantity" validate:"gt=0"`
	UnitPrice     decimal.Decimal `json:"unitPrice"`
}

func (l cartLineRequest) toInput() settlement.LineInput {
	return settlement.LineInput{
		CatalogItemID: strings.TrimSpace(l.CatalogItemID),
		LocationID:    l.LocationID,
		Name:          validators.SanitizeString(l.Name, 256),
		Quantity:      l.Quantity,
		UnitPrice:     l.UnitPrice,
	}
}

type createCartRequest struct {
	BuyerPhone *string           `json:"buyerPhone,omitempty" validate:"omitempty,numeric,min=9,max=15"`
	Currency   string            `json:"currency" validate:"required,oneof=USD ZWG"`
	Items      []cartLineRequest `json:"items" validate:"max=100,dive"`
}

type checkoutRequest struct {
	Msisdn string `json:"msisdn" validate:"omitempty,numeric,min=9,max=15"`
}

type cancelRequest struct {
	Reason string `json:"reason" validate:"omitempty,max=256"`
}

func settlementUnavailable(svc settlement.Service) error {
	if svc == nil {
		return pkgerrors.New(pkgerrors.CodeInternal, "settlement service unavailable")
	}
	return nil
}

func CreateCart(svc settlement.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := settlementUnavailable(svc); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req createCartRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		items := make([]settlement.LineInput, 0, len(req.Items))
		for _, it := range req.Items {
			items = append(items, it.toInput())
		}
		principal := middleware.PrincipalFromContext(r.Context())
		res, err := svc.CreateCart(r.Context(), settlement.CreateCartInput{
			TenantID:   principal.TenantID,
			ActorID:    principal.UserID,
			BuyerPhone: req.BuyerPhone,
			Currency:   enums.Currency(req.Currency),
			Items:      items,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, newCartResultView(res))
	}
}

// AddCartItem appends a line and reserves it. A line that cannot be held is
// reported in the reservation block.
func AddCartItem(svc settlement.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := settlementUnavailable(svc); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		cartID, err := validators.ParseUUIDParam(r, "cartId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req cartLineRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		principal := middleware.PrincipalFromContext(r.Context())
		res, err := svc.AddItem(r.Context(), settlement.AddItemInput{
			TenantID: principal.TenantID,
			CartID:   cartID,
			ActorID:  principal.UserID,
			Item:     req.toInput(),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newCartResultView(res))
	}
}

func GetCart(svc settlement.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := settlementUnavailable(svc); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		cartID, err := validators.ParseUUIDParam(r, "cartId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		view, err := svc.GetCart(r.Context(), middleware.TenantIDFromContext(r.Context()), cartID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newSettlementView(view))
	}
}

func IssueQuote(svc settlement.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := settlementUnavailable(svc); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		cartID, err := validators.ParseUUIDParam(r, "cartId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		principal := middleware.PrincipalFromContext(r.Context())
		quote, err := svc.IssueQuote(r.Context(), principal.TenantID, cartID, principal.UserID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, newQuoteView(quote))
	}
}

// Checkout issues the invoice and starts the gateway payment. A repeated
// checkout of an invoiced cart returns the existing invoice.
func Checkout(svc settlement.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := settlementUnavailable(svc); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		cartID, err := validators.ParseUUIDParam(r, "cartId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req checkoutRequest
		if err := decodeOptionalBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		principal := middleware.PrincipalFromContext(r.Context())
		ctx := r.Context()
		if logg != nil {
			ctx = logg.WithCartID(ctx, cartID.String())
		}
		res, err := svc.Checkout(ctx, settlement.CheckoutInput{
			TenantID: principal.TenantID,
			CartID:   cartID,
			ActorID:  principal.UserID,
			Msisdn:   req.Msisdn,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		status := http.StatusCreated
		if res.Replayed {
			status = http.StatusOK
		}
		responses.WriteSuccessStatus(w, status, checkoutView{
			Cart:          newCartView(res.Cart),
			Invoice:       newInvoiceView(res.Invoice),
			Payment:       newPaymentView(res.Payment),
			GatewayStatus: res.GatewayStatus,
			Replayed:      res.Replayed,
		})
	}
}

func CancelCart(svc settlement.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := settlementUnavailable(svc); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		cartID, err := validators.ParseUUIDParam(r, "cartId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req cancelRequest
		if err := decodeOptionalBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		reason := validators.SanitizeString(req.Reason, 256)
		if reason == "" {
			reason = defaultCancelReason
		}
		principal := middleware.PrincipalFromContext(r.Context())
		cart, err := svc.Cancel(r.Context(), principal.TenantID, cartID, principal.UserID, reason)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newCartView(cart))
	}
}

// CartAudit recomputes the cart, quote, invoice and receipt hashes and
// reports each link.
func CartAudit(svc settlement.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := settlementUnavailable(svc); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		cartID, err := validators.ParseUUIDParam(r, "cartId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		result, err := svc.VerifyAuditChain(r.Context(), middleware.TenantIDFromContext(r.Context()), cartID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}
