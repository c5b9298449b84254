package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/vcledger/pkg/enums"
)

// InventoryEvent is one append-only ledger entry in a tenant's hash chain.
// Rows are written once by the ledger and never updated.
type InventoryEvent struct {
	ID            uuid.UUID                `gorm:"column:id;type:uuid;primaryKey"`
	TenantID      uuid.UUID                `gorm:"column:tenant_id;type:uuid;not null"`
	Sequence      int64                    `gorm:"column:sequence;not null"`
	CatalogItemID string                   `gorm:"column:catalog_item_id;not null"`
	LotID         *uuid.UUID               `gorm:"column:lot_id;type:uuid"`
	LocationID    uuid.UUID                `gorm:"column:location_id;type:uuid;not null"`
	Type          enums.InventoryEventType `gorm:"column:type;type:text;not null"`
	Quantity      int64                    `gorm:"column:quantity;not null"`
	CartID        *uuid.UUID               `gorm:"column:cart_id;type:uuid"`
	ReceiptID     *uuid.UUID               `gorm:"column:receipt_id;type:uuid"`
	Reason        *string                  `gorm:"column:reason"`
	ActorID       uuid.UUID                `gorm:"column:actor_id;type:uuid;not null"`
	PrevHash      string                   `gorm:"column:prev_hash;type:char(64);not null"`
	Hash          string                   `gorm:"column:hash;type:char(64);not null"`
	CreatedAt     time.Time                `gorm:"column:created_at;autoCreateTime:false;not null"`
}

func (InventoryEvent) TableName() string { return "inventory_events" }

// InventoryChainHead is the per-tenant tip of the event chain. It is row
// locked while appending so concurrent writers serialise on it.
type InventoryChainHead struct {
	TenantID     uuid.UUID  `gorm:"column:tenant_id;type:uuid;primaryKey"`
	Sequence     int64      `gorm:"column:sequence;not null;default:0"`
	HeadEventID  *uuid.UUID `gorm:"column:head_event_id;type:uuid"`
	HeadHash     string     `gorm:"column:head_hash;type:char(64);not null"`
	Halted       bool       `gorm:"column:halted;not null;default:false"`
	HaltedReason *string    `gorm:"column:halted_reason"`
	HaltedAt     *time.Time `gorm:"column:halted_at"`
	UpdatedAt    time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

func (InventoryChainHead) TableName() string { return "inventory_chain_heads" }
