package controllers

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/vcledger/api/middleware"
	"github.com/angelmondragon/vcledger/api/responses"
	"github.com/angelmondragon/vcledger/api/validators"
	"github.com/angelmondragon/vcledger/internal/ledger"
	"github.com/angelmondragon/vcledger/pkg/db/models"
	"github.com/angelmondragon/vcledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/vcledger/pkg/errors"
	"github.com/angelmondragon/vcledger/pkg/logger"
)

const (
	defaultEventPage = 100
	maxEventPage     = 1000
)

type headView struct {
	TenantID     uuid.UUID  `json:"tenantId"`
	Sequence     int64      `json:"sequence"`
	HeadEventID  *uuid.UUID `json:"headEventId,omitempty"`
	HeadHash     string     `json:"headHash"`
	Halted       bool       `json:"halted"`
	HaltedReason *string    `json:"haltedReason,omitempty"`
	HaltedAt     *time.Time `json:"haltedAt,omitempty"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

func newHeadView(h *models.InventoryChainHead) headView {
	return headView{
		TenantID:     h.TenantID,
		Sequence:     h.Sequence,
		HeadEventID:  h.HeadEventID,
		HeadHash:     h.HeadHash,
		Halted:       h.Halted,
		HaltedReason: h.HaltedReason,
		HaltedAt:     h.HaltedAt,
		UpdatedAt:    h.UpdatedAt,
	}
}

type eventPage struct {
	Events       []eventView `json:"events"`
	NextSequence *int64      `json:"nextSequence,omitempty"`
}

// chainTenant resolves the {tenantId} path parameter. Only admins may read
// another tenant's chain.
func chainTenant(r *http.Request) (uuid.UUID, error) {
	tenantID, err := validators.ParseUUIDParam(r, "tenantId")
	if err != nil {
		return uuid.Nil, err
	}
	principal := middleware.PrincipalFromContext(r.Context())
	if principal.Role != enums.ActorRoleAdmin && principal.TenantID != tenantID {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeForbidden, "tenant mismatch")
	}
	return tenantID, nil
}

func ledgerUnavailable(svc ledger.Service) error {
	if svc == nil {
		return pkgerrors.New(pkgerrors.CodeInternal, "ledger service unavailable")
	}
	return nil
}

func ChainHead(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := ledgerUnavailable(svc); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		tenantID, err := chainTenant(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		head, err := svc.Head(r.Context(), tenantID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newHeadView(head))
	}
}

// ListChainEvents pages the chain in sequence order starting after ?after=.
func ListChainEvents(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := ledgerUnavailable(svc); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		tenantID, err := chainTenant(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		after, err := validators.ParseQueryInt64(r, "after", 0)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", defaultEventPage, 1, maxEventPage)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		events, err := svc.ListEvents(r.Context(), tenantID, after, limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		page := eventPage{Events: newEventViews(events)}
		if len(events) == limit {
			next := events[len(events)-1].Sequence
			page.NextSequence = &next
		}
		responses.WriteSuccess(w, page)
	}
}

// VerifyChain recomputes the chain from genesis, or from ?from= when given.
// A broken chain is reported in the body, not as an error status.
func VerifyChain(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := ledgerUnavailable(svc); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		tenantID, err := chainTenant(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		from, err := validators.ParseQueryUUID(r, "from")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		result, err := svc.VerifyChain(r.Context(), tenantID, from)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

func ResumeChain(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := ledgerUnavailable(svc); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		tenantID, err := chainTenant(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		result, err := svc.ResumeChain(r.Context(), tenantID, middleware.UserIDFromContext(r.Context()))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}
