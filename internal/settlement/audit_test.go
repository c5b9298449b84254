package settlement

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/vcledger/pkg/db/models"
	"github.com/angelmondragon/vcledger/pkg/enums"
)

func auditRecords() (*models.Cart, []models.CartItem, *models.Quote, *models.Invoice, *models.Receipt) {
	at := time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)
	cart := &models.Cart{ID: uuid.New(), TenantID: uuid.New(), Currency: enums.CurrencyUSD, CreatedAt: at}
	items := []models.CartItem{{
		Position:      1,
		CatalogItemID: "SKU1",
		LocationID:    uuid.New(),
		Quantity:      2,
		UnitPrice:     decimal.RequireFromString("10"),
		LineTotal:     decimal.RequireFromString("20"),
	}}
	quote := &models.Quote{
		ID:         uuid.New(),
		TenantID:   cart.TenantID,
		CartID:     cart.ID,
		CartHash:   CartHash(cart, items),
		Items:      quoteLines(items),
		GrandTotal: decimal.RequireFromString("20"),
		Currency:   cart.Currency,
		ValidUntil: at.Add(15 * time.Minute),
		CreatedAt:  at,
	}
	quote.QuoteHash = QuoteHash(quote)
	invoice := &models.Invoice{
		ID:                 InvoiceIDFor(cart.ID, quote.QuoteHash),
		TenantID:           cart.TenantID,
		CartID:             cart.ID,
		QuoteID:            &quote.ID,
		QuoteHash:          &quote.QuoteHash,
		Amount:             quote.GrandTotal,
		Currency:           cart.Currency,
		PreviousRecordHash: quote.QuoteHash,
		DueDate:            at.Add(24 * time.Hour),
		CreatedAt:          at,
	}
	invoice.InvoiceHash = InvoiceHash(invoice)
	receipt := &models.Receipt{
		ID:                 ReceiptIDFor(invoice.ID),
		TenantID:           cart.TenantID,
		InvoiceID:          invoice.ID,
		CartID:             cart.ID,
		InvoiceHash:        invoice.InvoiceHash,
		PreviousRecordHash: invoice.InvoiceHash,
		Amount:             invoice.Amount,
		Currency:           invoice.Currency,
		IssuedAt:           at.Add(time.Minute),
	}
	receipt.ReceiptHash = ReceiptHash(receipt)
	return cart, items, quote, invoice, receipt
}

func TestHashesIgnoreDecimalScale(t *testing.T) {
	cart, items, _, _, _ := auditRecords()
	before := CartHash(cart, items)
	items[0].UnitPrice = decimal.RequireFromString("10.00")
	items[0].LineTotal = decimal.RequireFromString("20.000")
	require.Equal(t, before, CartHash(cart, items))
	require.Len(t, before, 64)
}

func TestVerifyRecordsAcceptsIntactChain(t *testing.T) {
	cart, items, quote, invoice, receipt := auditRecords()
	res := VerifyRecords(cart, items, quote, invoice, receipt)
	require.True(t, res.Valid)
	require.Len(t, res.Links, 4)
}

func TestVerifyRecordsFlagsBrokenLinks(t *testing.T) {
	cart, items, quote, invoice, receipt := auditRecords()
	items[0].Quantity = 3
	res := VerifyRecords(cart, items, quote, invoice, receipt)
	require.False(t, res.Valid)
	require.Equal(t, "quote does not link to cart", res.Links[1].Reason)

	cart, items, quote, invoice, receipt = auditRecords()
	receipt.InvoiceHash = "deadbeef"
	receipt.PreviousRecordHash = "deadbeef"
	receipt.ReceiptHash = ReceiptHash(receipt)
	res = VerifyRecords(cart, items, quote, invoice, receipt)
	require.False(t, res.Valid)
	require.Equal(t, "receipt does not link to invoice", res.Links[3].Reason)
}

func TestDerivedIDsAreStable(t *testing.T) {
	cartID := uuid.New()
	require.Equal(t, InvoiceIDFor(cartID, "abc"), InvoiceIDFor(cartID, "abc"))
	require.NotEqual(t, InvoiceIDFor(cartID, "abc"), InvoiceIDFor(cartID, "abd"))
	require.NotEqual(t, ReceiptIDFor(cartID), InvoiceIDFor(cartID, ""))
}
