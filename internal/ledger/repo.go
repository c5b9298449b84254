package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/vcledger/pkg/db/models"
)

// Repository manages persistence for the inventory event chain.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	EnsureHead(ctx context.Context, tenantID uuid.UUID) error
	LockHead(ctx context.Context, tenantID uuid.UUID) (*models.InventoryChainHead, error)
	GetHead(ctx context.Context, tenantID uuid.UUID) (*models.InventoryChainHead, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.InventoryEvent, error)
	FindBySequence(ctx context.Context, tenantID uuid.UUID, sequence int64) (*models.InventoryEvent, error)
	InsertEvents(ctx context.Context, events []models.InventoryEvent) error
	AdvanceHead(ctx context.Context, tenantID uuid.UUID, sequence int64, eventID uuid.UUID, hash string) error
	ListAfter(ctx context.Context, tenantID uuid.UUID, afterSequence int64, limit int) ([]models.InventoryEvent, error)
	Halt(ctx context.Context, tenantID uuid.UUID, reason string, at time.Time) error
	ClearHalt(ctx context.Context, tenantID uuid.UUID, sequence int64, eventID *uuid.UUID, hash string) error
	ListTenants(ctx context.Context) ([]uuid.UUID, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a ledger repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) EnsureHead(ctx context.Context, tenantID uuid.UUID) error {
	head := models.InventoryChainHead{
		TenantID: tenantID,
		HeadHash: GenesisHash,
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "tenant_id"}}, DoNothing: true}).
		Create(&head).Error
}

// LockHead row locks the tenant head for the rest of the transaction.
func (r *repository) LockHead(ctx context.Context, tenantID uuid.UUID) (*models.InventoryChainHead, error) {
	var head models.InventoryChainHead
	if err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("tenant_id = ?", tenantID).
		First(&head).Error; err != nil {
		return nil, err
	}
	return &head, nil
}

func (r *repository) GetHead(ctx context.Context, tenantID uuid.UUID) (*models.InventoryChainHead, error) {
	var head models.InventoryChainHead
	if err := r.db.WithContext(ctx).Where("tenant_id = ?", tenantID).First(&head).Error; err != nil {
		return nil, err
	}
	return &head, nil
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.InventoryEvent, error) {
	var event models.InventoryEvent
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&event).Error; err != nil {
		return nil, err
	}
	return &event, nil
}

func (r *repository) FindBySequence(ctx context.Context, tenantID uuid.UUID, sequence int64) (*models.InventoryEvent, error) {
	var event models.InventoryEvent
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND sequence = ?", tenantID, sequence).
		First(&event).Error; err != nil {
		return nil, err
	}
	return &event, nil
}

func (r *repository) InsertEvents(ctx context.Context, events []models.InventoryEvent) error {
	if len(events) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&events).Error
}

func (r *repository) AdvanceHead(ctx context.Context, tenantID uuid.UUID, sequence int64, eventID uuid.UUID, hash string) error {
	res := r.db.WithContext(ctx).
		Model(&models.InventoryChainHead{}).
		Where("tenant_id = ? AND halted = ?", tenantID, false).
		Updates(map[string]any{
			"sequence":      sequence,
			"head_event_id": eventID,
			"head_hash":     hash,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errors.New("chain head not advanced")
	}
	return nil
}

func (r *repository) ListAfter(ctx context.Context, tenantID uuid.UUID, afterSequence int64, limit int) ([]models.InventoryEvent, error) {
	var events []models.InventoryEvent
	query := r.db.WithContext(ctx).
		Where("tenant_id = ? AND sequence > ?", tenantID, afterSequence).
		Order("sequence ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}

func (r *repository) Halt(ctx context.Context, tenantID uuid.UUID, reason string, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.InventoryChainHead{}).
		Where("tenant_id = ?", tenantID).
		Updates(map[string]any{
			"halted":        true,
			"halted_reason": reason,
			"halted_at":     at,
		}).Error
}

func (r *repository) ClearHalt(ctx context.Context, tenantID uuid.UUID, sequence int64, eventID *uuid.UUID, hash string) error {
	return r.db.WithContext(ctx).
		Model(&models.InventoryChainHead{}).
		Where("tenant_id = ?", tenantID).
		Updates(map[string]any{
			"halted":        false,
			"halted_reason": nil,
			"halted_at":     nil,
			"sequence":      sequence,
			"head_event_id": eventID,
			"head_hash":     hash,
		}).Error
}

func (r *repository) ListTenants(ctx context.Context) ([]uuid.UUID, error) {
	var tenants []uuid.UUID
	if err := r.db.WithContext(ctx).
		Model(&models.InventoryChainHead{}).
		Order("tenant_id ASC").
		Pluck("tenant_id", &tenants).Error; err != nil {
		return nil, err
	}
	return tenants, nil
}
