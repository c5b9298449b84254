package payloads

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CartInvoicedEvent is emitted once checkout has produced an invoice.
type CartInvoicedEvent struct {
	CartID             uuid.UUID       `json:"cart_id"`
	TenantID           uuid.UUID       `json:"tenant_id"`
	InvoiceID          uuid.UUID       `json:"invoice_id"`
	QuoteID            uuid.UUID       `json:"quote_id"`
	InvoiceHash        string          `json:"invoice_hash"`
	Amount             decimal.Decimal `json:"amount"`
	Currency           string          `json:"currency"`
	PaymentRequestID   string          `json:"payment_request_id,omitempty"`
	CredentialOfferURL string          `json:"credential_offer_url,omitempty"`
}

// InvoicePaidEvent reports a settled invoice.
type InvoicePaidEvent struct {
	InvoiceID     uuid.UUID       `json:"invoice_id"`
	CartID        uuid.UUID       `json:"cart_id"`
	TenantID      uuid.UUID       `json:"tenant_id"`
	TransactionID string          `json:"transaction_id"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	PaidAt        time.Time       `json:"paid_at"`
}

// InvoiceFailedEvent reports a payment failure or expiry.
type InvoiceFailedEvent struct {
	InvoiceID uuid.UUID `json:"invoice_id"`
	CartID    uuid.UUID `json:"cart_id"`
	TenantID  uuid.UUID `json:"tenant_id"`
	Status    string    `json:"status"`
	Reason    string    `json:"reason,omitempty"`
}

// ReceiptIssuedEvent carries the receipt hash and the lots consumed.
type ReceiptIssuedEvent struct {
	ReceiptID          uuid.UUID           `json:"receipt_id"`
	InvoiceID          uuid.UUID           `json:"invoice_id"`
	CartID             uuid.UUID           `json:"cart_id"`
	TenantID           uuid.UUID           `json:"tenant_id"`
	ReceiptHash        string              `json:"receipt_hash"`
	CredentialOfferURL string              `json:"credential_offer_url,omitempty"`
	Allocations        []ReceiptAllocation `json:"allocations"`
}

// ReceiptAllocation is one consumed lot line on a receipt.
type ReceiptAllocation struct {
	CatalogItemID string     `json:"catalog_item_id"`
	LocationID    uuid.UUID  `json:"location_id"`
	LotID         *uuid.UUID `json:"lot_id,omitempty"`
	Quantity      int64      `json:"quantity"`
}

// CartCancelledEvent is emitted when a cart is cancelled before payment.
type CartCancelledEvent struct {
	CartID      uuid.UUID `json:"cart_id"`
	TenantID    uuid.UUID `json:"tenant_id"`
	Reason      string    `json:"reason,omitempty"`
	CancelledAt time.Time `json:"cancelled_at"`
}

// LedgerChainBrokenEvent alerts operators that a tenant chain failed verification.
type LedgerChainBrokenEvent struct {
	TenantID     uuid.UUID `json:"tenant_id"`
	EventID      uuid.UUID `json:"event_id"`
	Sequence     int64     `json:"sequence"`
	ExpectedHash string    `json:"expected_hash"`
	ActualHash   string    `json:"actual_hash"`
	Reason       string    `json:"reason"`
	DetectedAt   time.Time `json:"detected_at"`
	DetectedBy   string    `json:"detected_by"`
}
