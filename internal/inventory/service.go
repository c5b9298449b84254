package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/vcledger/internal/ledger"
	"github.com/angelmondragon/vcledger/internal/stock"
	dbpkg "github.com/angelmondragon/vcledger/pkg/db"
	"github.com/angelmondragon/vcledger/pkg/db/models"
	"github.com/angelmondragon/vcledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/vcledger/pkg/errors"
	"github.com/angelmondragon/vcledger/pkg/logger"
)

// Service administers locations and lots and records goods movements that do
// not belong to a cart.
type Service interface {
	CreateLocation(ctx context.Context, input CreateLocationInput) (*models.InventoryLocation, error)
	ListLocations(ctx context.Context, tenantID uuid.UUID, includeInactive bool) ([]models.InventoryLocation, error)
	DeactivateLocation(ctx context.Context, tenantID, locationID uuid.UUID) error
	ReceiveGoods(ctx context.Context, input ReceiveGoodsInput) (*ReceiveResult, error)
	Adjust(ctx context.Context, input AdjustInput) (*models.InventoryEvent, error)
	ListLots(ctx context.Context, tenantID uuid.UUID, catalogItemID string, locationID *uuid.UUID) ([]models.InventoryLot, error)
	GetLot(ctx context.Context, tenantID, lotID uuid.UUID) (*stock.LotProjection, error)
	GetLevel(ctx context.Context, tenantID uuid.UUID, catalogItemID string, locationID uuid.UUID) (*stock.StockLevel, error)
	ListLevels(ctx context.Context, tenantID uuid.UUID, locationID *uuid.UUID) ([]stock.StockLevel, error)
}

type CreateLocationInput struct {
	TenantID uuid.UUID
	Name     string
	Code     *string
	Type     enums.LocationType
}

type ReceiveGoodsInput struct {
	TenantID      uuid.UUID
	CatalogItemID string
	LocationID    uuid.UUID
	Quantity      int64
	LotNumber     *string
	SerialNumber  *string
	ExpiresAt     *time.Time
	Reason        *string
	ActorID       uuid.UUID
}

type ReceiveResult struct {
	Lot   *models.InventoryLot   `json:"lot,omitempty"`
	Event models.InventoryEvent `json:"event"`
}

type AdjustInput struct {
	TenantID      uuid.UUID
	CatalogItemID string
	LocationID    uuid.UUID
	LotID         *uuid.UUID
	Quantity      int64
	Reason        string
	ActorID       uuid.UUID
}

type ledgerAppender interface {
	AppendBatch(ctx context.Context, tenantID uuid.UUID, build ledger.BatchBuilder) ([]models.InventoryEvent, error)
}

type stockReader interface {
	Project(ctx context.Context, tenantID uuid.UUID, catalogItemID string, locationID uuid.UUID) (*stock.StockLevel, error)
	ProjectTx(ctx context.Context, tx *gorm.DB, tenantID uuid.UUID, catalogItemID string, locationID uuid.UUID) (*stock.StockLevel, error)
	ProjectLot(ctx context.Context, tenantID, lotID uuid.UUID) (*stock.LotProjection, error)
	ListLevels(ctx context.Context, tenantID uuid.UUID, locationID *uuid.UUID) ([]stock.StockLevel, error)
}

type ServiceParams struct {
	Repo   Repository
	Ledger ledgerAppender
	Stock  stockReader
	Logger *logger.Logger
	Clock  func() time.Time
}

type service struct {
	repo   Repository
	ledger ledgerAppender
	stock  stockReader
	logg   *logger.Logger
	clock  func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("inventory repository required")
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
	return &service{repo: params.Repo, ledger: params.Ledger, stock: params.Stock, logg: params.Logger, clock: clock}, nil
}

func (s *service) CreateLocation(ctx context.Context, input CreateLocationInput) (*models.InventoryLocation, error) {
	if input.TenantID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tenant id is required")
	}
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "name is required")
	}
	if !input.Type.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid location type %q", input.Type))
	}
	location := &models.InventoryLocation{
		ID:       uuid.New(),
		TenantID: input.TenantID,
		Name:     name,
		Code:     trimmed(input.Code),
		Type:     input.Type,
		Status:   enums.LocationStatusActive,
	}
	if err := s.repo.CreateLocation(ctx, location); err != nil {
		if dbpkg.IsUniqueViolation(err, "ux_inventory_locations_tenant_code") || dbpkg.IsUniqueViolation(err, "inventory_locations.code") {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "location code already in use")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create location")
	}
	return location, nil
}

func (s *service) ListLocations(ctx context.Context, tenantID uuid.UUID, includeInactive bool) ([]models.InventoryLocation, error) {
	locations, err := s.repo.ListLocations(ctx, tenantID, includeInactive)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list locations")
	}
	return locations, nil
}

// DeactivateLocation soft-deletes a location. Its events stay in the chain.
func (s *service) DeactivateLocation(ctx context.Context, tenantID, locationID uuid.UUID) error {
	location, err := s.repo.FindLocation(ctx, tenantID, locationID)
	if err != nil {
		return notFoundOr(err, "location not found", "load location")
	}
	if location.Status == enums.LocationStatusInactive {
		return nil
	}
	if _, err := s.repo.DeactivateLocation(ctx, tenantID, locationID, s.clock()); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "deactivate location")
	}
	return nil
}

// ReceiveGoods creates the lot (when numbered) and its receipt event in the
// same chain transaction.
func (s *service) ReceiveGoods(ctx context.Context, input ReceiveGoodsInput) (*ReceiveResult, error) {
	if err := validateMovement(input.TenantID, input.CatalogItemID, input.LocationID, input.ActorID); err != nil {
		return nil, err
	}
	if input.Quantity <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
	}
	lotNumber := trimmed(input.LotNumber)
	serial := trimmed(input.SerialNumber)
	if serial != nil && input.Quantity != 1 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "serialized receipts must have quantity 1")
	}

	var lot *models.InventoryLot
	events, err := s.ledger.AppendBatch(ctx, input.TenantID, func(ctx context.Context, tx *gorm.DB) ([]ledger.NewEvent, error) {
		repo := s.repo.WithTx(tx)
		if err := s.requireActiveLocation(ctx, repo, input.TenantID, input.LocationID); err != nil {
			return nil, err
		}
		ev := ledger.NewEvent{
			TenantID:      input.TenantID,
			CatalogItemID: input.CatalogItemID,
			LocationID:    input.LocationID,
			Type:          enums.InventoryEventReceipt,
			Quantity:      input.Quantity,
			Reason:        trimmed(input.Reason),
			ActorID:       input.ActorID,
		}
		if lotNumber != nil || serial != nil {
			lot = &models.InventoryLot{
				ID:            uuid.New(),
				TenantID:      input.TenantID,
				CatalogItemID: input.CatalogItemID,
				LocationID:    input.LocationID,
				LotNumber:     lotNumber,
				SerialNumber:  serial,
				ExpiresAt:     input.ExpiresAt,
				CreatedAt:     s.clock().UTC().Truncate(time.Microsecond),
			}
			if err := repo.CreateLot(ctx, lot); err != nil {
				if dbpkg.IsUniqueViolation(err, "") {
					return nil, pkgerrors.New(pkgerrors.CodeConflict, "lot or serial number already received")
				}
				return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create lot")
			}
			ev.LotID = &lot.ID
		}
		return []ledger.NewEvent{ev}, nil
	})
	if err != nil {
		return nil, err
	}
	return &ReceiveResult{Lot: lot, Event: events[0]}, nil
}

// Adjust records a signed correction. Negative adjustments may not push the
// available quantity below zero.
func (s *service) Adjust(ctx context.Context, input AdjustInput) (*models.InventoryEvent, error) {
	if err := validateMovement(input.TenantID, input.CatalogItemID, input.LocationID, input.ActorID); err != nil {
		return nil, err
	}
	if input.Quantity == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be non-zero")
	}
	reason := strings.TrimSpace(input.Reason)
	if reason == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "reason is required")
	}

	events, err := s.ledger.AppendBatch(ctx, input.TenantID, func(ctx context.Context, tx *gorm.DB) ([]ledger.NewEvent, error) {
		repo := s.repo.WithTx(tx)
		if _, err := repo.FindLocation(ctx, input.TenantID, input.LocationID); err != nil {
			return nil, notFoundOr(err, "location not found", "load location")
		}
		if input.LotID != nil {
			lot, err := repo.FindLot(ctx, input.TenantID, *input.LotID)
			if err != nil {
				return nil, notFoundOr(err, "lot not found", "load lot")
			}
			if lot.CatalogItemID != input.CatalogItemID || lot.LocationID != input.LocationID {
				return nil, pkgerrors.New(pkgerrors.CodeValidation, "lot does not belong to item and location")
			}
		}
		if input.Quantity < 0 {
			level, err := s.stock.ProjectTx(ctx, tx, input.TenantID, input.CatalogItemID, input.LocationID)
			if err != nil {
				return nil, err
			}
			if level.Available+input.Quantity < 0 {
				return nil, pkgerrors.New(pkgerrors.CodeValidation, "adjustment would drive available stock below zero").
					WithDetails(map[string]any{"available": level.Available, "quantity": input.Quantity})
			}
		}
		return []ledger.NewEvent{{
			TenantID:      input.TenantID,
			CatalogItemID: input.CatalogItemID,
			LocationID:    input.LocationID,
			LotID:         input.LotID,
			Type:          enums.InventoryEventAdjustment,
			Quantity:      input.Quantity,
			Reason:        &reason,
			ActorID:       input.ActorID,
		}}, nil
	})
	if err != nil {
		return nil, err
	}
	if s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"tenant_id":       input.TenantID.String(),
			"catalog_item_id": input.CatalogItemID,
			"quantity":        input.Quantity,
			"reason":          reason,
		})
		s.logg.Info(logCtx, "inventory adjusted")
	}
	return &events[0], nil
}

func (s *service) ListLots(ctx context.Context, tenantID uuid.UUID, catalogItemID string, locationID *uuid.UUID) ([]models.InventoryLot, error) {
	lots, err := s.repo.ListLots(ctx, tenantID, strings.TrimSpace(catalogItemID), locationID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list lots")
	}
	return lots, nil
}

func (s *service) GetLot(ctx context.Context, tenantID, lotID uuid.UUID) (*stock.LotProjection, error) {
	return s.stock.ProjectLot(ctx, tenantID, lotID)
}

func (s *service) GetLevel(ctx context.Context, tenantID uuid.UUID, catalogItemID string, locationID uuid.UUID) (*stock.StockLevel, error) {
	return s.stock.Project(ctx, tenantID, catalogItemID, locationID)
}

func (s *service) ListLevels(ctx context.Context, tenantID uuid.UUID, locationID *uuid.UUID) ([]stock.StockLevel, error) {
	return s.stock.ListLevels(ctx, tenantID, locationID)
}

func (s *service) requireActiveLocation(ctx context.Context, repo Repository, tenantID, locationID uuid.UUID) error {
	location, err := repo.FindLocation(ctx, tenantID, locationID)
	if err != nil {
		return notFoundOr(err, "location not found", "load location")
	}
	if location.Status != enums.LocationStatusActive {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "location is inactive")
	}
	return nil
}

func validateMovement(tenantID uuid.UUID, catalogItemID string, locationID, actorID uuid.UUID) error {
	if tenantID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "tenant id is required")
	}
	if strings.TrimSpace(catalogItemID) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "catalog item id is required")
	}
	if locationID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "location id is required")
	}
	if actorID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "actor id is required")
	}
	return nil
}

func notFoundOr(err error, notFound, op string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, notFound)
	}
	return pkgerrors.Wrap(pkgerrors.CodeInternal, err, op)
}

func trimmed(value *string) *string {
	if value == nil {
		return nil
	}
	v := strings.TrimSpace(*value)
	if v == "" {
		return nil
	}
	return &v
}
