package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/vcledger/pkg/enums"
)

// Payment correlates an invoice with the external gateway. It moves to a
// terminal state exactly once.
type Payment struct {
	ID            uuid.UUID          `gorm:"column:id;type:uuid;primaryKey"`
	TenantID      uuid.UUID          `gorm:"column:tenant_id;type:uuid;not null"`
	InvoiceID     uuid.UUID          `gorm:"column:invoice_id;type:uuid;not null"`
	ProviderRef   *string            `gorm:"column:provider_ref"`
	TransactionID *string            `gorm:"column:transaction_id"`
	Msisdn        *string            `gorm:"column:msisdn"`
	Amount        decimal.Decimal    `gorm:"column:amount;type:numeric(18,2);not null"`
	Currency      enums.Currency     `gorm:"column:currency;type:text;not null"`
	State         enums.PaymentState `gorm:"column:state;type:text;not null;default:'pending'"`
	FailureReason *string            `gorm:"column:failure_reason"`
	CompletedAt   *time.Time         `gorm:"column:completed_at"`
	CreatedAt     time.Time          `gorm:"column:created_at;autoCreateTime:false;not null"`
	UpdatedAt     time.Time          `gorm:"column:updated_at;autoUpdateTime"`
}

func (Payment) TableName() string { return "payments" }
