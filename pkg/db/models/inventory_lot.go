package models

import (
	"time"

	"github.com/google/uuid"
)

// InventoryLot is a batch or serialized unit of a catalog item, created on
// goods receipt and immutable afterwards.
type InventoryLot struct {
	ID            uuid.UUID  `gorm:"column:id;type:uuid;primaryKey"`
	TenantID      uuid.UUID  `gorm:"column:tenant_id;type:uuid;not null"`
	CatalogItemID string     `gorm:"column:catalog_item_id;not null"`
	LocationID    uuid.UUID  `gorm:"column:location_id;type:uuid;not null"`
	LotNumber     *string    `gorm:"column:lot_number"`
	SerialNumber  *string    `gorm:"column:serial_number"`
	ExpiresAt     *time.Time `gorm:"column:expires_at"`
	CreatedAt     time.Time  `gorm:"column:created_at;autoCreateTime:false"`
}

func (InventoryLot) TableName() string { return "inventory_lots" }
