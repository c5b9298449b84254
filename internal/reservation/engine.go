package reservation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/vcledger/internal/ledger"
	"github.com/angelmondragon/vcledger/internal/stock"
	dbpkg "github.com/angelmondragon/vcledger/pkg/db"
	"github.com/angelmondragon/vcledger/pkg/db/models"
	"github.com/angelmondragon/vcledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/vcledger/pkg/errors"
	"github.com/angelmondragon/vcledger/pkg/logger"
)

const (
	ReasonInsufficientStock = "insufficient_stock"
	ReasonLocationInactive  = "location_inactive"

	defaultSweepLimit = 200
)

// Item is one line to hold against a cart.
type Item struct {
	CatalogItemID string    `json:"catalogItemId"`
	LocationID    uuid.UUID `json:"locationId"`
	Quantity      int64     `json:"quantity"`
}

// LineResult reports the admission outcome of one requested line.
type LineResult struct {
	CatalogItemID string    `json:"catalogItemId"`
	LocationID    uuid.UUID `json:"locationId"`
	Quantity      int64     `json:"quantity"`
	Reserved      bool      `json:"reserved"`
	Reason        string    `json:"reason,omitempty"`
	Available     int64     `json:"available"`
}

// ReserveResult carries the appended reserve events and every line outcome.
// Rejected lines are soft failures.
type ReserveResult struct {
	Events []models.InventoryEvent `json:"events"`
	Lines  []LineResult            `json:"lines"`
}

// Rejected returns the lines that could not be held.
func (r *ReserveResult) Rejected() []LineResult {
	var out []LineResult
	for _, line := range r.Lines {
		if !line.Reserved {
			out = append(out, line)
		}
	}
	return out
}

// Allocation is the quantity of a line covered by one lot. LotID is nil when
// no lot had stock left.
type Allocation struct {
	CatalogItemID string     `json:"catalogItemId"`
	LocationID    uuid.UUID  `json:"locationId"`
	LotID         *uuid.UUID `json:"lotId,omitempty"`
	Quantity      int64      `json:"quantity"`
}

type FulfillResult struct {
	Events           []models.InventoryEvent `json:"events"`
	Allocations      []Allocation            `json:"allocations"`
	AlreadyFulfilled bool                    `json:"alreadyFulfilled"`
}

type SweepResult struct {
	Carts    int `json:"carts"`
	Released int `json:"released"`
	Failed   int `json:"failed"`
}

// Engine holds, releases and consumes stock against carts. Every change is a
// ledger append made under the tenant chain lock.
type Engine interface {
	Reserve(ctx context.Context, tenantID, cartID uuid.UUID, items []Item, actorID uuid.UUID) (*ReserveResult, error)
	Release(ctx context.Context, tenantID, cartID, actorID uuid.UUID, reason string) ([]models.InventoryEvent, error)
	Fulfill(ctx context.Context, tenantID, cartID, receiptID, actorID uuid.UUID) (*FulfillResult, error)
	SweepExpired(ctx context.Context, ttl time.Duration) (*SweepResult, error)
}

type ledgerAppender interface {
	AppendBatch(ctx context.Context, tenantID uuid.UUID, build ledger.BatchBuilder) ([]models.InventoryEvent, error)
}

type stockReader interface {
	ProjectTx(ctx context.Context, tx *gorm.DB, tenantID uuid.UUID, catalogItemID string, locationID uuid.UUID) (*stock.StockLevel, error)
	LotBalancesTx(ctx context.Context, tx *gorm.DB, tenantID uuid.UUID, catalogItemID string, locationID uuid.UUID) ([]stock.LotBalance, error)
}

type rejectionMetrics interface {
	IncReservationRejected(reason string)
}

type EngineParams struct {
	DB         *gorm.DB
	Ledger     ledgerAppender
	Stock      stockReader
	Metrics    rejectionMetrics
	Logger     *logger.Logger
	Clock      func() time.Time
	SweepLimit int
}

type engine struct {
	db         *gorm.DB
	ledger     ledgerAppender
	stock      stockReader
	metrics    rejectionMetrics
	logg       *logger.Logger
	clock      func() time.Time
	sweepLimit int
}

func NewEngine(params EngineParams) (Engine, error) {
	if params.DB == nil {
		return nil, fmt.Errorf("db required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger required")
	}
	if params.Stock == nil {
		return nil, fmt.Errorf("stock projector required")
	}
	clock := params.Clock
	if clock == nil {
		clock = dbpkg.NowUTC
	}
	limit := params.SweepLimit
	if limit <= 0 {
		limit = defaultSweepLimit
	}
	return &engine{
		db:         params.DB,
		ledger:     params.Ledger,
		stock:      params.Stock,
		metrics:    params.Metrics,
		logg:       params.Logger,
		clock:      clock,
		sweepLimit: limit,
	}, nil
}

// Reserve admits each line against the projection folded inside the chain
// transaction. Lines that do not fit are skipped and reported.
func (e *engine) Reserve(ctx context.Context, tenantID, cartID uuid.UUID, items []Item, actorID uuid.UUID) (*ReserveResult, error) {
	if err := validateRefs(tenantID, cartID, actorID); err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one item is required")
	}
	for i, item := range items {
		if strings.TrimSpace(item.CatalogItemID) == "" || item.LocationID == uuid.Nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("item %d requires catalog item and location", i))
		}
		if item.Quantity <= 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("item %d quantity must be positive", i))
		}
	}

	var lines []LineResult
	events, err := e.ledger.AppendBatch(ctx, tenantID, func(ctx context.Context, tx *gorm.DB) ([]ledger.NewEvent, error) {
		lines = make([]LineResult, 0, len(items))
		held := map[scope]int64{}
		var out []ledger.NewEvent
		for _, item := range items {
			line := LineResult{CatalogItemID: item.CatalogItemID, LocationID: item.LocationID, Quantity: item.Quantity}
			active, err := activeLocationTx(ctx, tx, tenantID, item.LocationID)
			if err != nil {
				return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "check location")
			}
			if !active {
				line.Reason = ReasonLocationInactive
				lines = append(lines, line)
				continue
			}
			level, err := e.stock.ProjectTx(ctx, tx, tenantID, item.CatalogItemID, item.LocationID)
			if err != nil {
				return nil, err
			}
			key := scope{CatalogItemID: item.CatalogItemID, LocationID: item.LocationID}
			line.Available = level.Available - held[key]
			if line.Available < item.Quantity {
				line.Reason = ReasonInsufficientStock
				lines = append(lines, line)
				continue
			}
			held[key] += item.Quantity
			line.Reserved = true
			lines = append(lines, line)
			cart := cartID
			out = append(out, ledger.NewEvent{
				TenantID:      tenantID,
				CatalogItemID: item.CatalogItemID,
				LocationID:    item.LocationID,
				Type:          enums.InventoryEventReserve,
				Quantity:      item.Quantity,
				CartID:        &cart,
				ActorID:       actorID,
			})
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}

	result := &ReserveResult{Events: events, Lines: lines}
	for _, line := range result.Rejected() {
		if e.metrics != nil {
			e.metrics.IncReservationRejected(line.Reason)
		}
		if e.logg != nil {
			logCtx := e.logg.WithFields(ctx, map[string]any{
				"tenant_id":       tenantID.String(),
				"cart_id":         cartID.String(),
				"catalog_item_id": line.CatalogItemID,
				"location_id":     line.LocationID.String(),
				"requested":       line.Quantity,
				"available":       line.Available,
				"reason":          line.Reason,
			})
			e.logg.Warn(logCtx, "reservation line rejected")
		}
	}
	return result, nil
}

// Release returns every outstanding hold of the cart.
func (e *engine) Release(ctx context.Context, tenantID, cartID, actorID uuid.UUID, reason string) ([]models.InventoryEvent, error) {
	if err := validateRefs(tenantID, cartID, actorID); err != nil {
		return nil, err
	}
	return e.release(ctx, tenantID, cartID, actorID, reason, nil)
}

func (e *engine) release(ctx context.Context, tenantID, cartID, actorID uuid.UUID, reason string, staleBefore *time.Time) ([]models.InventoryEvent, error) {
	var why *string
	if r := strings.TrimSpace(reason); r != "" {
		why = &r
	}
	return e.ledger.AppendBatch(ctx, tenantID, func(ctx context.Context, tx *gorm.DB) ([]ledger.NewEvent, error) {
		if staleBefore != nil {
			last, err := lastReserveTx(ctx, tx, tenantID, cartID)
			if err != nil {
				return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load last reserve")
			}
			if last == nil || !last.CreatedAt.Before(*staleBefore) {
				return nil, nil
			}
		}
		keys, outstanding, err := outstandingTx(ctx, tx, tenantID, cartID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load outstanding reservations")
		}
		out := make([]ledger.NewEvent, 0, len(keys))
		for _, key := range keys {
			cart := cartID
			out = append(out, ledger.NewEvent{
				TenantID:      tenantID,
				CatalogItemID: key.CatalogItemID,
				LocationID:    key.LocationID,
				Type:          enums.InventoryEventRelease,
				Quantity:      outstanding[key],
				CartID:        &cart,
				Reason:        why,
				ActorID:       actorID,
			})
		}
		return out, nil
	})
}

// Fulfill converts the cart's outstanding holds into sale events for
// receiptID, drawing lots oldest first. A second call for the same receipt
// returns the original allocation and appends nothing.
func (e *engine) Fulfill(ctx context.Context, tenantID, cartID, receiptID, actorID uuid.UUID) (*FulfillResult, error) {
	if err := validateRefs(tenantID, cartID, actorID); err != nil {
		return nil, err
	}
	if receiptID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "receipt id is required")
	}

	result := &FulfillResult{}
	events, err := e.ledger.AppendBatch(ctx, tenantID, func(ctx context.Context, tx *gorm.DB) ([]ledger.NewEvent, error) {
		result.Allocations = nil
		result.AlreadyFulfilled = false

		existing, err := salesForReceiptTx(ctx, tx, tenantID, cartID, receiptID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load prior sales")
		}
		if len(existing) > 0 {
			result.AlreadyFulfilled = true
			result.Events = existing
			for _, ev := range existing {
				result.Allocations = append(result.Allocations, Allocation{
					CatalogItemID: ev.CatalogItemID,
					LocationID:    ev.LocationID,
					LotID:         ev.LotID,
					Quantity:      ev.Quantity,
				})
			}
			return nil, nil
		}

		keys, outstanding, err := outstandingTx(ctx, tx, tenantID, cartID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load outstanding reservations")
		}
		var out []ledger.NewEvent
		for _, key := range keys {
			balances, err := e.stock.LotBalancesTx(ctx, tx, tenantID, key.CatalogItemID, key.LocationID)
			if err != nil {
				return nil, err
			}
			for _, alloc := range allocateFIFO(key, outstanding[key], balances) {
				cart, receipt := cartID, receiptID
				out = append(out, ledger.NewEvent{
					TenantID:      tenantID,
					CatalogItemID: alloc.CatalogItemID,
					LocationID:    alloc.LocationID,
					LotID:         alloc.LotID,
					Type:          enums.InventoryEventSale,
					Quantity:      alloc.Quantity,
					CartID:        &cart,
					ReceiptID:     &receipt,
					ActorID:       actorID,
				})
				result.Allocations = append(result.Allocations, alloc)
			}
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	if !result.AlreadyFulfilled {
		result.Events = events
	}
	if result.Allocations == nil {
		result.Allocations = []Allocation{}
	}
	return result, nil
}

func allocateFIFO(key scope, quantity int64, balances []stock.LotBalance) []Allocation {
	var out []Allocation
	remaining := quantity
	for _, lot := range balances {
		if remaining == 0 {
			break
		}
		if lot.Remaining <= 0 {
			continue
		}
		take := lot.Remaining
		if take > remaining {
			take = remaining
		}
		lotID := lot.LotID
		out = append(out, Allocation{CatalogItemID: key.CatalogItemID, LocationID: key.LocationID, LotID: &lotID, Quantity: take})
		remaining -= take
	}
	if remaining > 0 {
		out = append(out, Allocation{CatalogItemID: key.CatalogItemID, LocationID: key.LocationID, Quantity: remaining})
	}
	return out
}

// SweepExpired releases holds whose newest reserve is older than ttl. It is
// best effort: per-cart failures are collected and the sweep continues.
func (e *engine) SweepExpired(ctx context.Context, ttl time.Duration) (*SweepResult, error) {
	if ttl <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "ttl must be positive")
	}
	cutoff := e.clock().UTC().Add(-ttl)
	refs, err := staleCarts(ctx, e.db, cutoff, e.sweepLimit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list stale reservations")
	}

	result := &SweepResult{Carts: len(refs)}
	var errs error
	for _, ref := range refs {
		events, err := e.release(ctx, ref.TenantID, ref.CartID, ledger.SystemActorID, "reservation expired", &cutoff)
		if err != nil {
			result.Failed++
			errs = multierr.Append(errs, fmt.Errorf("release cart %s: %w", ref.CartID, err))
			continue
		}
		result.Released += len(events)
	}
	if e.logg != nil && result.Carts > 0 {
		logCtx := e.logg.WithFields(ctx, map[string]any{
			"carts":    result.Carts,
			"released": result.Released,
			"failed":   result.Failed,
		})
		e.logg.Info(logCtx, "expired reservations swept")
	}
	return result, errs
}

func validateRefs(tenantID, cartID, actorID uuid.UUID) error {
	if tenantID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "tenant id is required")
	}
	if cartID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "cart id is required")
	}
	if actorID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "actor id is required")
	}
	return nil
}
