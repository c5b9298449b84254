package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/vcledger/pkg/enums"
)

// Cart is a shopping-session aggregate owned by the settlement state machine.
type Cart struct {
	ID         uuid.UUID        `gorm:"column:id;type:uuid;primaryKey"`
	TenantID   uuid.UUID        `gorm:"column:tenant_id;type:uuid;not null"`
	BuyerPhone *string          `gorm:"column:buyer_phone"`
	Currency   enums.Currency   `gorm:"column:currency;type:text;not null"`
	Total      decimal.Decimal  `gorm:"column:total;type:numeric(18,2);not null;default:0"`
	Status     enums.CartStatus `gorm:"column:status;type:text;not null;default:'pending'"`
	Version    int              `gorm:"column:version;not null;default:1"`
	QuoteID    *uuid.UUID       `gorm:"column:quote_id;type:uuid"`
	QuoteHash  *string          `gorm:"column:quote_hash"`
	CreatedBy  uuid.UUID        `gorm:"column:created_by;type:uuid;not null"`
	Items      []CartItem       `gorm:"foreignKey:CartID;constraint:OnDelete:CASCADE"`
	CreatedAt  time.Time        `gorm:"column:created_at;autoCreateTime:false;not null"`
	UpdatedAt  time.Time        `gorm:"column:updated_at;autoUpdateTime"`
}

func (Cart) TableName() string { return "carts" }
