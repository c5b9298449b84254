package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/vcledger/pkg/enums"
)

// Invoice is the payment request minted at checkout. Its id doubles as the
// gateway sourceReference.
type Invoice struct {
	ID                 uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	TenantID           uuid.UUID           `gorm:"column:tenant_id;type:uuid;not null"`
	CartID             uuid.UUID           `gorm:"column:cart_id;type:uuid;not null"`
	QuoteID            *uuid.UUID          `gorm:"column:quote_id;type:uuid"`
	QuoteHash          *string             `gorm:"column:quote_hash"`
	Amount             decimal.Decimal     `gorm:"column:amount;type:numeric(18,2);not null"`
	Currency           enums.Currency      `gorm:"column:currency;type:text;not null"`
	EcocashRef         *string             `gorm:"column:ecocash_ref"`
	PreviousRecordHash string              `gorm:"column:previous_record_hash;not null"`
	InvoiceHash        string              `gorm:"column:invoice_hash;not null"`
	Status             enums.InvoiceStatus `gorm:"column:status;type:text;not null;default:'pending'"`
	FailureReason      *string             `gorm:"column:failure_reason"`
	DueDate            time.Time           `gorm:"column:due_date;not null"`
	Credential         CredentialOffer     `gorm:"embedded"`
	CreatedAt          time.Time           `gorm:"column:created_at;autoCreateTime:false;not null"`
	UpdatedAt          time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

func (Invoice) TableName() string { return "invoices" }
