package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/vcledger/pkg/enums"
)

// InventoryLocation is a physical or logical stock point. Locations are
// deactivated, never deleted.
type InventoryLocation struct {
	ID            uuid.UUID            `gorm:"column:id;type:uuid;primaryKey"`
	TenantID      uuid.UUID            `gorm:"column:tenant_id;type:uuid;not null"`
	Name          string               `gorm:"column:name;not null"`
	Code          *string              `gorm:"column:code"`
	Type          enums.LocationType   `gorm:"column:type;type:text;not null"`
	Status        enums.LocationStatus `gorm:"column:status;type:text;not null;default:'active'"`
	DeactivatedAt *time.Time           `gorm:"column:deactivated_at"`
	CreatedAt     time.Time            `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time            `gorm:"column:updated_at;autoUpdateTime"`
}

func (InventoryLocation) TableName() string { return "inventory_locations" }
