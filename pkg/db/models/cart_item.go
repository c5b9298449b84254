package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CartItem is a single priced line on a cart.
type CartItem struct {
	ID            uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	CartID        uuid.UUID       `gorm:"column:cart_id;type:uuid;not null"`
	Position      int             `gorm:"column:position;not null"`
	CatalogItemID string          `gorm:"column:catalog_item_id;not null"`
	LocationID    uuid.UUID       `gorm:"column:location_id;type:uuid;not null"`
	Name          string          `gorm:"column:name;not null"`
	Quantity      int64           `gorm:"column:quantity;not null"`
	UnitPrice     decimal.Decimal `gorm:"column:unit_price;type:numeric(18,2);not null"`
	LineTotal     decimal.Decimal `gorm:"column:line_total;type:numeric(18,2);not null"`
	CreatedAt     time.Time       `gorm:"column:created_at;autoCreateTime"`
}

func (CartItem) TableName() string { return "cart_items" }
