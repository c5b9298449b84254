package settlement

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/vcledger/pkg/db/models"
)

// Every settlement record hash is sha256 over a pipe-joined canonical form.
// Amounts use two fixed decimals and times are UTC RFC3339 with nanoseconds.

var (
	invoiceNamespace = uuid.MustParse("6b0f0c5e-2f4a-5d59-8c1e-4a7d3b9e2c10")
	receiptNamespace = uuid.MustParse("a3d1e7c2-5b6f-5e08-9f4d-1c2b3a4e5d6f")
)

// InvoiceIDFor derives the invoice id (the gateway sourceReference) so a
// retried checkout reuses the same idempotency key.
func InvoiceIDFor(cartID uuid.UUID, previousRecordHash string) uuid.UUID {
	return uuid.NewSHA1(invoiceNamespace, []byte(cartID.String()+"|"+previousRecordHash))
}

// ReceiptIDFor derives the receipt id from its invoice so fulfillment stays
// idempotent across retries.
func ReceiptIDFor(invoiceID uuid.UUID) uuid.UUID {
	return uuid.NewSHA1(receiptNamespace, []byte(invoiceID.String()))
}

func CartCanonical(cart *models.Cart, items []models.CartItem) string {
	lines := make([]string, 0, len(items))
	for _, item := range items {
		lines = append(lines, fmt.Sprintf("%d:%q:%s:%d:%s:%s",
			item.Position,
			item.CatalogItemID,
			item.LocationID.String(),
			item.Quantity,
			item.UnitPrice.StringFixed(2),
			item.LineTotal.StringFixed(2),
		))
	}
	return fmt.Sprintf("CART|v1|%s|%s|%s|%s|%s|[%s]",
		cart.ID.String(),
		cart.TenantID.String(),
		cart.Currency,
		cartTotal(items).StringFixed(2),
		canonicalTime(cart.CreatedAt),
		strings.Join(lines, ","),
	)
}

func CartHash(cart *models.Cart, items []models.CartItem) string {
	return digest(CartCanonical(cart, items))
}

func QuoteCanonical(quote *models.Quote) string {
	lines := make([]string, 0, len(quote.Items))
	for _, line := range quote.Items {
		lines = append(lines, fmt.Sprintf("%q:%d:%s:%s",
			line.CatalogItemID,
			line.Quantity,
			line.UnitPrice.StringFixed(2),
			line.LineTotal.StringFixed(2),
		))
	}
	return fmt.Sprintf("QUOTE|v1|%s|%s|%s|%s|[%s]|%s|%s|%s|%s",
		quote.ID.String(),
		quote.TenantID.String(),
		quote.CartID.String(),
		quote.CartHash,
		strings.Join(lines, ","),
		quote.GrandTotal.StringFixed(2),
		quote.Currency,
		canonicalTime(quote.ValidUntil),
		canonicalTime(quote.CreatedAt),
	)
}

func QuoteHash(quote *models.Quote) string {
	return digest(QuoteCanonical(quote))
}

func InvoiceCanonical(invoice *models.Invoice) string {
	return fmt.Sprintf("INVOICE|v1|%s|%s|%s|%s|%s|%s|%s|%s|%s|%s",
		invoice.ID.String(),
		invoice.TenantID.String(),
		invoice.CartID.String(),
		optionalUUID(invoice.QuoteID),
		optionalString(invoice.QuoteHash),
		invoice.Amount.StringFixed(2),
		invoice.Currency,
		invoice.PreviousRecordHash,
		canonicalTime(invoice.DueDate),
		canonicalTime(invoice.CreatedAt),
	)
}

func InvoiceHash(invoice *models.Invoice) string {
	return digest(InvoiceCanonical(invoice))
}

func ReceiptCanonical(receipt *models.Receipt) string {
	allocs := make([]string, 0, len(receipt.InventoryAllocations))
	for _, a := range receipt.InventoryAllocations {
		allocs = append(allocs, fmt.Sprintf("%q:%s:%s:%d",
			a.CatalogItemID,
			a.LocationID.String(),
			optionalUUID(a.LotID),
			a.Quantity,
		))
	}
	return fmt.Sprintf("RECEIPT|v1|%s|%s|%s|%s|%s|%s|%s|%s|[%s]|%s",
		receipt.ID.String(),
		receipt.TenantID.String(),
		receipt.InvoiceID.String(),
		receipt.CartID.String(),
		receipt.InvoiceHash,
		receipt.Amount.StringFixed(2),
		receipt.Currency,
		optionalString(receipt.TransactionID),
		strings.Join(allocs, ","),
		canonicalTime(receipt.IssuedAt),
	)
}

func ReceiptHash(receipt *models.Receipt) string {
	return digest(ReceiptCanonical(receipt))
}

// AuditLink is one record in the cart to receipt chain.
type AuditLink struct {
	Record       string    `json:"record"`
	ID           uuid.UUID `json:"id"`
	StoredHash   string    `json:"storedHash,omitempty"`
	ComputedHash string    `json:"computedHash"`
	PreviousHash string    `json:"previousHash,omitempty"`
	Valid        bool      `json:"valid"`
	Reason       string    `json:"reason,omitempty"`
}

// AuditVerification is the result of recomputing a cart's settlement chain.
type AuditVerification struct {
	CartID uuid.UUID   `json:"cartId"`
	Valid  bool        `json:"valid"`
	Links  []AuditLink `json:"links"`
}

// VerifyRecords recomputes each present record and checks its link to the
// predecessor. quote, invoice and receipt may be nil.
func VerifyRecords(cart *models.Cart, items []models.CartItem, quote *models.Quote, invoice *models.Invoice, receipt *models.Receipt) *AuditVerification {
	out := &AuditVerification{CartID: cart.ID, Valid: true}
	add := func(link AuditLink) {
		if !link.Valid {
			out.Valid = false
		}
		out.Links = append(out.Links, link)
	}

	cartHash := CartHash(cart, items)
	add(AuditLink{Record: "cart", ID: cart.ID, ComputedHash: cartHash, Valid: true})

	if quote != nil {
		link := AuditLink{Record: "quote", ID: quote.ID, StoredHash: quote.QuoteHash, ComputedHash: QuoteHash(quote), PreviousHash: quote.CartHash, Valid: true}
		switch {
		case link.StoredHash != link.ComputedHash:
			link.Valid, link.Reason = false, "quote hash mismatch"
		case quote.CartHash != cartHash:
			link.Valid, link.Reason = false, "quote does not link to cart"
		}
		add(link)
	}

	if invoice != nil {
		link := AuditLink{Record: "invoice", ID: invoice.ID, StoredHash: invoice.InvoiceHash, ComputedHash: InvoiceHash(invoice), PreviousHash: invoice.PreviousRecordHash, Valid: true}
		expectedPrev := cartHash
		if invoice.QuoteHash != nil {
			expectedPrev = *invoice.QuoteHash
			if quote == nil || quote.QuoteHash != *invoice.QuoteHash {
				link.Valid, link.Reason = false, "invoice quote hash does not match quote"
			}
		}
		switch {
		case !link.Valid:
		case link.StoredHash != link.ComputedHash:
			link.Valid, link.Reason = false, "invoice hash mismatch"
		case invoice.PreviousRecordHash != expectedPrev:
			link.Valid, link.Reason = false, "invoice does not link to previous record"
		}
		add(link)
	}

	if receipt != nil {
		link := AuditLink{Record: "receipt", ID: receipt.ID, StoredHash: receipt.ReceiptHash, ComputedHash: ReceiptHash(receipt), PreviousHash: receipt.PreviousRecordHash, Valid: true}
		switch {
		case invoice == nil:
			link.Valid, link.Reason = false, "receipt without invoice"
		case link.StoredHash != link.ComputedHash:
			link.Valid, link.Reason = false, "receipt hash mismatch"
		case receipt.InvoiceHash != invoice.InvoiceHash || receipt.PreviousRecordHash != invoice.InvoiceHash:
			link.Valid, link.Reason = false, "receipt does not link to invoice"
		}
		add(link)
	}
	return out
}

func digest(canonical string) string {
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}

func canonicalTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func optionalUUID(id *uuid.UUID) string {
	if id == nil {
		return ""
	}
	return id.String()
}

func optionalString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
