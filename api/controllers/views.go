package controllers

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/vcledger/internal/reservation"
	"github.com/angelmondragon/vcledger/internal/settlement"
	"github.com/angelmondragon/vcledger/pkg/db/models"
	"github.com/angelmondragon/vcledger/pkg/enums"
)

// Wire views. Money is rendered with two decimals.

type eventView struct {
	ID            uuid.UUID                `json:"id"`
	Sequence      int64                    `json:"sequence"`
	Type          enums.InventoryEventType `json:"type"`
	CatalogItemID string                   `json:"catalogItemId"`
	LocationID    uuid.UUID                `json:"locationId"`
	LotID         *uuid.UUID               `json:"lotId,omitempty"`
	Quantity      int64                    `json:"quantity"`
	CartID        *uuid.UUID               `json:"cartId,omitempty"`
	ReceiptID     *uuid.UUID               `json:"receiptId,omitempty"`
	Reason        *string                  `json:"reason,omitempty"`
	ActorID       uuid.UUID                `json:"actorId"`
	PrevHash      string                   `json:"prevHash"`
	Hash          string                   `json:"hash"`
	CreatedAt     time.Time                `json:"createdAt"`
}

func newEventView(e models.InventoryEvent) eventView {
	return eventView{
		ID:            e.ID,
		Sequence:      e.Sequence,
		Type:          e.Type,
		CatalogItemID: e.CatalogItemID,
		LocationID:    e.LocationID,
		LotID:         e.LotID,
		Quantity:      e.Quantity,
		CartID:        e.CartID,
		ReceiptID:     e.ReceiptID,
		Reason:        e.Reason,
		ActorID:       e.ActorID,
		PrevHash:      e.PrevHash,
		Hash:          e.Hash,
		CreatedAt:     e.CreatedAt,
	}
}

func newEventViews(events []models.InventoryEvent) []eventView {
	out := make([]eventView, 0, len(events))
	for _, e := range events {
		out = append(out, newEventView(e))
	}
	return out
}

type locationView struct {
	ID            uuid.UUID            `json:"id"`
	Name          string               `json:"name"`
	Code          *string              `json:"code,omitempty"`
	Type          enums.LocationType   `json:"type"`
	Status        enums.LocationStatus `json:"status"`
	DeactivatedAt *time.Time           `json:"deactivatedAt,omitempty"`
	CreatedAt     time.Time            `json:"createdAt"`
}

func newLocationView(l models.InventoryLocation) locationView {
	return locationView{
		ID:            l.ID,
		Name:          l.Name,
		Code:          l.Code,
		Type:          l.Type,
		Status:        l.Status,
		DeactivatedAt: l.DeactivatedAt,
		CreatedAt:     l.CreatedAt,
	}
}

type lotView struct {
	ID            uuid.UUID  `json:"id"`
	CatalogItemID string     `json:"catalogItemId"`
	LocationID    uuid.UUID  `json:"locationId"`
	LotNumber     *string    `json:"lotNumber,omitempty"`
	SerialNumber  *string    `json:"serialNumber,omitempty"`
	ExpiresAt     *time.Time `json:"expiresAt,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
}

func newLotView(l models.InventoryLot) lotView {
	return lotView{
		ID:            l.ID,
		CatalogItemID: l.CatalogItemID,
		LocationID:    l.LocationID,
		LotNumber:     l.LotNumber,
		SerialNumber:  l.SerialNumber,
		ExpiresAt:     l.ExpiresAt,
		CreatedAt:     l.CreatedAt,
	}
}

type credentialView struct {
	OfferID  *string                `json:"offerId,omitempty"`
	OfferURL *string                `json:"offerUrl,omitempty"`
	Status   enums.CredentialStatus `json:"status"`
}

func newCredentialView(c models.CredentialOffer) credentialView {
	return credentialView{OfferID: c.OfferID, OfferURL: c.OfferURL, Status: c.Status}
}

type cartItemView struct {
	Position      int       `json:"position"`
	CatalogItemID string    `json:"catalogItemId"`
	LocationID    uuid.UUID `json:"locationId"`
	Name          string    `json:"name"`
	Quantity      int64     `json:"quantity"`
	UnitPrice     string    `json:"unitPrice"`
	LineTotal     string    `json:"lineTotal"`
}

type cartView struct {
	ID         uuid.UUID        `json:"id"`
	Status     enums.CartStatus `json:"status"`
	Currency   enums.Currency   `json:"currency"`
	Total      string           `json:"total"`
	BuyerPhone *string          `json:"buyerPhone,omitempty"`
	QuoteID    *uuid.UUID       `json:"quoteId,omitempty"`
	QuoteHash  *string          `json:"quoteHash,omitempty"`
	Version    int              `json:"version"`
	Items      []cartItemView   `json:"items"`
	CreatedAt  time.Time        `json:"createdAt"`
}

func newCartView(c *models.Cart) *cartView {
	if c == nil {
		return nil
	}
	items := make([]cartItemView, 0, len(c.Items))
	for _, it := range c.Items {
		items = append(items, cartItemView{
			Position:      it.Position,
			CatalogItemID: it.CatalogItemID,
			LocationID:    it.LocationID,
			Name:          it.Name,
			Quantity:      it.Quantity,
			UnitPrice:     money(it.UnitPrice),
			LineTotal:     money(it.LineTotal),
		})
	}
	return &cartView{
		ID:         c.ID,
		Status:     c.Status,
		Currency:   c.Currency,
		Total:      money(c.Total),
		BuyerPhone: c.BuyerPhone,
		QuoteID:    c.QuoteID,
		QuoteHash:  c.QuoteHash,
		Version:    c.Version,
		Items:      items,
		CreatedAt:  c.CreatedAt,
	}
}

type quoteView struct {
	ID         uuid.UUID          `json:"id"`
	CartID     uuid.UUID          `json:"cartId"`
	CartHash   string             `json:"cartHash"`
	QuoteHash  string             `json:"quoteHash"`
	Items      []models.QuoteLine `json:"items"`
	GrandTotal string             `json:"grandTotal"`
	Currency   enums.Currency     `json:"currency"`
	ValidUntil time.Time          `json:"validUntil"`
	Credential credentialView     `json:"credential"`
	CreatedAt  time.Time          `json:"createdAt"`
}

func newQuoteView(q *models.Quote) *quoteView {
	if q == nil {
		return nil
	}
	return &quoteView{
		ID:         q.ID,
		CartID:     q.CartID,
		CartHash:   q.CartHash,
		QuoteHash:  q.QuoteHash,
		Items:      q.Items,
		GrandTotal: money(q.GrandTotal),
		Currency:   q.Currency,
		ValidUntil: q.ValidUntil,
		Credential: newCredentialView(q.Credential),
		CreatedAt:  q.CreatedAt,
	}
}

type invoiceView struct {
	ID                 uuid.UUID           `json:"id"`
	CartID             uuid.UUID           `json:"cartId"`
	QuoteID            *uuid.UUID          `json:"quoteId,omitempty"`
	Amount             string              `json:"amount"`
	Currency           enums.Currency      `json:"currency"`
	Status             enums.InvoiceStatus `json:"status"`
	EcocashRef         *string             `json:"ecocashRef,omitempty"`
	PreviousRecordHash string              `json:"previousRecordHash"`
	InvoiceHash        string              `json:"invoiceHash"`
	FailureReason      *string             `json:"failureReason,omitempty"`
	DueDate            time.Time           `json:"dueDate"`
	Credential         credentialView      `json:"credential"`
	CreatedAt          time.Time           `json:"createdAt"`
}

func newInvoiceView(i *models.Invoice) *invoiceView {
	if i == nil {
		return nil
	}
	return &invoiceView{
		ID:                 i.ID,
		CartID:             i.CartID,
		QuoteID:            i.QuoteID,
		Amount:             money(i.Amount),
		Currency:           i.Currency,
		Status:             i.Status,
		EcocashRef:         i.EcocashRef,
		PreviousRecordHash: i.PreviousRecordHash,
		InvoiceHash:        i.InvoiceHash,
		FailureReason:      i.FailureReason,
		DueDate:            i.DueDate,
		Credential:         newCredentialView(i.Credential),
		CreatedAt:          i.CreatedAt,
	}
}

type paymentView struct {
	ProviderRef   *string            `json:"providerRef,omitempty"`
	TransactionID *string            `json:"transactionId,omitempty"`
	Amount        string             `json:"amount"`
	Currency      enums.Currency     `json:"currency"`
	State         enums.PaymentState `json:"state"`
	FailureReason *string            `json:"failureReason,omitempty"`
	CompletedAt   *time.Time         `json:"completedAt,omitempty"`
}

func newPaymentView(p *models.Payment) *paymentView {
	if p == nil {
		return nil
	}
	return &paymentView{
		ProviderRef:   p.ProviderRef,
		TransactionID: p.TransactionID,
		Amount:        money(p.Amount),
		Currency:      p.Currency,
		State:         p.State,
		FailureReason: p.FailureReason,
		CompletedAt:   p.CompletedAt,
	}
}

type receiptView struct {
	ID                 uuid.UUID                    `json:"id"`
	InvoiceID          uuid.UUID                    `json:"invoiceId"`
	CartID             uuid.UUID                    `json:"cartId"`
	Amount             string                       `json:"amount"`
	Currency           enums.Currency               `json:"currency"`
	TransactionID      *string                      `json:"transactionId,omitempty"`
	PreviousRecordHash string                       `json:"previousRecordHash"`
	ReceiptHash        string                       `json:"receiptHash"`
	Allocations        []models.InventoryAllocation `json:"inventoryAllocations"`
	Credential         credentialView               `json:"credential"`
	IssuedAt           time.Time                    `json:"issuedAt"`
}

func newReceiptView(r *models.Receipt) *receiptView {
	if r == nil {
		return nil
	}
	return &receiptView{
		ID:                 r.ID,
		InvoiceID:          r.InvoiceID,
		CartID:             r.CartID,
		Amount:             money(r.Amount),
		Currency:           r.Currency,
		TransactionID:      r.TransactionID,
		PreviousRecordHash: r.PreviousRecordHash,
		ReceiptHash:        r.ReceiptHash,
		Allocations:        r.InventoryAllocations,
		Credential:         newCredentialView(r.Credential),
		IssuedAt:           r.IssuedAt,
	}
}

type reservationView struct {
	Lines    []reservation.LineResult `json:"lines"`
	Rejected []reservation.LineResult `json:"rejected"`
	Events   []eventView              `json:"events"`
}

func newReservationView(res *reservation.ReserveResult) *reservationView {
	if res == nil {
		return nil
	}
	rejected := res.Rejected()
	if rejected == nil {
		rejected = []reservation.LineResult{}
	}
	return &reservationView{Lines: res.Lines, Rejected: rejected, Events: newEventViews(res.Events)}
}

type cartResultView struct {
	Cart        *cartView        `json:"cart"`
	Reservation *reservationView `json:"reservation,omitempty"`
}

func newCartResultView(res *settlement.CartResult) cartResultView {
	return cartResultView{Cart: newCartView(res.Cart), Reservation: newReservationView(res.Reservation)}
}

type settlementView struct {
	Cart    *cartView    `json:"cart"`
	Quote   *quoteView   `json:"quote,omitempty"`
	Invoice *invoiceView `json:"invoice,omitempty"`
	Payment *paymentView `json:"payment,omitempty"`
	Receipt *receiptView `json:"receipt,omitempty"`
}

func newSettlementView(v *settlement.CartView) settlementView {
	return settlementView{
		Cart:    newCartView(v.Cart),
		Quote:   newQuoteView(v.Quote),
		Invoice: newInvoiceView(v.Invoice),
		Payment: newPaymentView(v.Payment),
		Receipt: newReceiptView(v.Receipt),
	}
}

type checkoutView struct {
	Cart          *cartView           `json:"cart"`
	Invoice       *invoiceView        `json:"invoice"`
	Payment       *paymentView        `json:"payment"`
	GatewayStatus enums.GatewayStatus `json:"gatewayStatus,omitempty"`
	Replayed      bool                `json:"replayed"`
}

func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}
