package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/vcledger/pkg/enums"
)

// QuoteLine is the frozen price snapshot stored with a quote.
type QuoteLine struct {
	CatalogItemID string          `json:"catalogItemId"`
	Name          string          `json:"name"`
	Quantity      int64           `json:"quantity"`
	UnitPrice     decimal.Decimal `json:"unitPrice"`
	LineTotal     decimal.Decimal `json:"lineTotal"`
}

// Quote is an optional price lock linked into the settlement audit chain.
type Quote struct {
	ID         uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	TenantID   uuid.UUID       `gorm:"column:tenant_id;type:uuid;not null"`
	CartID     uuid.UUID       `gorm:"column:cart_id;type:uuid;not null"`
	CartHash   string          `gorm:"column:cart_hash;not null"`
	Items      []QuoteLine     `gorm:"column:items;type:jsonb;serializer:json;not null"`
	GrandTotal decimal.Decimal `gorm:"column:grand_total;type:numeric(18,2);not null"`
	Currency   enums.Currency  `gorm:"column:currency;type:text;not null"`
	ValidUntil time.Time       `gorm:"column:valid_until;not null"`
	QuoteHash  string          `gorm:"column:quote_hash;not null"`
	Credential CredentialOffer `gorm:"embedded"`
	CreatedAt  time.Time       `gorm:"column:created_at;autoCreateTime:false;not null"`
}

func (Quote) TableName() string { return "quotes" }
