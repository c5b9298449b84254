package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/vcledger/pkg/enums"
)

// InventoryAllocation records which lot covered part of a sold line. LotID is
// nil when no lot had remaining quantity.
type InventoryAllocation struct {
	CatalogItemID string     `json:"catalogItemId"`
	LocationID    uuid.UUID  `json:"locationId"`
	LotID         *uuid.UUID `json:"lotId,omitempty"`
	Quantity      int64      `json:"quantity"`
}

// Receipt is the proof of a completed sale, hash-linked to its invoice.
type Receipt struct {
	ID                   uuid.UUID             `gorm:"column:id;type:uuid;primaryKey"`
	TenantID             uuid.UUID             `gorm:"column:tenant_id;type:uuid;not null"`
	InvoiceID            uuid.UUID             `gorm:"column:invoice_id;type:uuid;not null"`
	CartID               uuid.UUID             `gorm:"column:cart_id;type:uuid;not null"`
	InvoiceHash          string                `gorm:"column:invoice_hash;not null"`
	PreviousRecordHash   string                `gorm:"column:previous_record_hash;not null"`
	ReceiptHash          string                `gorm:"column:receipt_hash;not null"`
	Amount               decimal.Decimal       `gorm:"column:amount;type:numeric(18,2);not null"`
	Currency             enums.Currency        `gorm:"column:currency;type:text;not null"`
	TransactionID        *string               `gorm:"column:transaction_id"`
	InventoryAllocations []InventoryAllocation `gorm:"column:inventory_allocations;type:jsonb;serializer:json;not null"`
	Credential           CredentialOffer       `gorm:"embedded"`
	IssuedAt             time.Time             `gorm:"column:issued_at;not null"`
	CreatedAt            time.Time             `gorm:"column:created_at;autoCreateTime"`
}

func (Receipt) TableName() string { return "receipts" }
