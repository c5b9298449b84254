package inventory

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/vcledger/pkg/db/models"
	"github.com/angelmondragon/vcledger/pkg/enums"
)

// Repository manages locations and lots.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateLocation(ctx context.Context, location *models.InventoryLocation) error
	FindLocation(ctx context.Context, tenantID, locationID uuid.UUID) (*models.InventoryLocation, error)
	ListLocations(ctx context.Context, tenantID uuid.UUID, includeInactive bool) ([]models.InventoryLocation, error)
	DeactivateLocation(ctx context.Context, tenantID, locationID uuid.UUID, at time.Time) (int64, error)
	CreateLot(ctx context.Context, lot *models.InventoryLot) error
	FindLot(ctx context.Context, tenantID, lotID uuid.UUID) (*models.InventoryLot, error)
	ListLots(ctx context.Context, tenantID uuid.UUID, catalogItemID string, locationID *uuid.UUID) ([]models.InventoryLot, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns an inventory repository bound to db.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) CreateLocation(ctx context.Context, location *models.InventoryLocation) error {
	return r.db.WithContext(ctx).Create(location).Error
}

func (r *repository) FindLocation(ctx context.Context, tenantID, locationID uuid.UUID) (*models.InventoryLocation, error) {
	var location models.InventoryLocation
	if err := r.db.WithContext(ctx).
		Where("id = ? AND tenant_id = ?", locationID, tenantID).
		First(&location).Error; err != nil {
		return nil, err
	}
	return &location, nil
}

func (r *repository) ListLocations(ctx context.Context, tenantID uuid.UUID, includeInactive bool) ([]models.InventoryLocation, error) {
	var locations []models.InventoryLocation
	query := r.db.WithContext(ctx).Where("tenant_id = ?", tenantID)
	if !includeInactive {
		query = query.Where("status = ?", enums.LocationStatusActive)
	}
	if err := query.Order("name ASC").Find(&locations).Error; err != nil {
		return nil, err
	}
	return locations, nil
}

func (r *repository) DeactivateLocation(ctx context.Context, tenantID, locationID uuid.UUID, at time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.InventoryLocation{}).
		Where("id = ? AND tenant_id = ? AND status = ?", locationID, tenantID, enums.LocationStatusActive).
		Updates(map[string]any{
			"status":         enums.LocationStatusInactive,
			"deactivated_at": at,
		})
	return res.RowsAffected, res.Error
}

func (r *repository) CreateLot(ctx context.Context, lot *models.InventoryLot) error {
	return r.db.WithContext(ctx).Create(lot).Error
}

func (r *repository) FindLot(ctx context.Context, tenantID, lotID uuid.UUID) (*models.InventoryLot, error) {
	var lot models.InventoryLot
	if err := r.db.WithContext(ctx).
		Where("id = ? AND tenant_id = ?", lotID, tenantID).
		First(&lot).Error; err != nil {
		return nil, err
	}
	return &lot, nil
}

func (r *repository) ListLots(ctx context.Context, tenantID uuid.UUID, catalogItemID string, locationID *uuid.UUID) ([]models.InventoryLot, error) {
	var lots []models.InventoryLot
	query := r.db.WithContext(ctx).Where("tenant_id = ?", tenantID)
	if catalogItemID != "" {
		query = query.Where("catalog_item_id = ?", catalogItemID)
	}
	if locationID != nil {
		query = query.Where("location_id = ?", *locationID)
	}
	if err := query.Order("created_at ASC, id ASC").Find(&lots).Error; err != nil {
		return nil, err
	}
	return lots, nil
}
