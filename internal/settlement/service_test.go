package settlement

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/vcledger/internal/ledger"
	"github.com/angelmondragon/vcledger/internal/reservation"
	"github.com/angelmondragon/vcledger/internal/stock"
	"github.com/angelmondragon/vcledger/pkg/credentials"
	"github.com/angelmondragon/vcledger/pkg/db"
	"github.com/angelmondragon/vcledger/pkg/db/dbtest"
	"github.com/angelmondragon/vcledger/pkg/db/models"
	"github.com/angelmondragon/vcledger/pkg/ecocash"
	"github.com/angelmondragon/vcledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/vcledger/pkg/errors"
	"github.com/angelmondragon/vcledger/pkg/outbox"
)

type fakeGateway struct {
	mu    sync.Mutex
	calls []ecocash.PaymentRequest
	err   error
}

func (g *fakeGateway) InitiatePayment(_ context.Context, req ecocash.PaymentRequest) (*ecocash.PaymentResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, req)
	if g.err != nil {
		return nil, g.err
	}
	return &ecocash.PaymentResponse{PaymentRequestID: "PR-" + req.SourceReference[:8], Status: enums.GatewayStatusPending}, nil
}

type fakeIssuer struct {
	mu     sync.Mutex
	errs   map[credentials.Kind]error
	offers map[credentials.Kind]int
	before func(credentials.Kind)
}

func newFakeIssuer() *fakeIssuer {
	return &fakeIssuer{errs: map[credentials.Kind]error{}, offers: map[credentials.Kind]int{}}
}

func (f *fakeIssuer) Enabled(credentials.Kind) bool { return true }

func (f *fakeIssuer) CreateOffer(_ context.Context, kind credentials.Kind, claims map[string]string) (*credentials.Offer, error) {
	if f.before != nil {
		f.before(kind)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs[kind]; err != nil {
		return nil, err
	}
	f.offers[kind]++
	id := string(kind) + "-" + uuid.NewString()
	return &credentials.Offer{ID: id, OfferURL: "https://issuer.test/offers/" + id}, nil
}

type fixture struct {
	conn      *gorm.DB
	svc       Service
	projector *stock.Projector
	gateway   *fakeGateway
	issuer    *fakeIssuer
	now       time.Time
	tenantID  uuid.UUID
	location  uuid.UUID
	actorID   uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		conn:     dbtest.Open(t),
		gateway:  &fakeGateway{},
		issuer:   newFakeIssuer(),
		now:      time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC),
		tenantID: uuid.New(),
		actorID:  uuid.New(),
	}
	clock := func() time.Time { return f.now }
	emitter := outbox.NewService(outbox.NewRepository(f.conn), nil)

	led, err := ledger.NewService(ledger.ServiceParams{
		DB:     db.Wrap(f.conn),
		Repo:   ledger.NewRepository(f.conn),
		Outbox: emitter,
		Clock:  clock,
	})
	require.NoError(t, err)
	f.projector, err = stock.NewProjector(f.conn, nil, nil)
	require.NoError(t, err)
	engine, err := reservation.NewEngine(reservation.EngineParams{DB: f.conn, Ledger: led, Stock: f.projector, Clock: clock})
	require.NoError(t, err)

	f.svc, err = NewService(ServiceParams{
		DB:           db.Wrap(f.conn),
		Repo:         NewRepository(f.conn),
		Reservations: engine,
		Credentials:  f.issuer,
		Gateway:      f.gateway,
		Outbox:       emitter,
		Clock:        clock,
		IssueQuoteVC: true,
	})
	require.NoError(t, err)

	loc := models.InventoryLocation{ID: uuid.New(), TenantID: f.tenantID, Name: "Harare", Type: enums.LocationTypeStore, Status: enums.LocationStatusActive}
	require.NoError(t, f.conn.Create(&loc).Error)
	f.location = loc.ID

	_, err = led.Append(context.Background(), ledger.NewEvent{
		TenantID:      f.tenantID,
		CatalogItemID: "SKU1",
		LocationID:    f.location,
		Type:          enums.InventoryEventReceipt,
		Quantity:      10,
		ActorID:       f.actorID,
	})
	require.NoError(t, err)
	return f
}

func (f *fixture) createCart(t *testing.T, qty int64) *models.Cart {
	t.Helper()
	res, err := f.svc.CreateCart(context.Background(), CreateCartInput{
		TenantID: f.tenantID,
		ActorID:  f.actorID,
		Currency: enums.CurrencyUSD,
		Items: []LineInput{{
			CatalogItemID: "SKU1",
			LocationID:    f.location,
			Name:          "Solar lantern",
			Quantity:      qty,
			UnitPrice:     decimal.RequireFromString("10.00"),
		}},
	})
	require.NoError(t, err)
	require.Empty(t, res.Reservation.Rejected())
	return res.Cart
}

func (f *fixture) checkout(t *testing.T, cartID uuid.UUID) *CheckoutResult {
	t.Helper()
	res, err := f.svc.Checkout(context.Background(), CheckoutInput{TenantID: f.tenantID, CartID: cartID, ActorID: f.actorID, Msisdn: "263771234567"})
	require.NoError(t, err)
	return res
}

func (f *fixture) success(res *CheckoutResult) PaymentOutcome {
	amount := res.Invoice.Amount
	return PaymentOutcome{
		InvoiceID:        res.Invoice.ID,
		PaymentRequestID: *res.Payment.ProviderRef,
		TransactionID:    "TX-1",
		Amount:           &amount,
		Currency:         "USD",
	}
}

func (f *fixture) level(t *testing.T) *stock.StockLevel {
	t.Helper()
	level, err := f.projector.Project(context.Background(), f.tenantID, "SKU1", f.location)
	require.NoError(t, err)
	return level
}

func (f *fixture) count(t *testing.T, model any, query string, args ...any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.conn.Model(model).Where(query, args...).Count(&n).Error)
	return n
}

func (f *fixture) cartStatus(t *testing.T, cartID uuid.UUID) enums.CartStatus {
	t.Helper()
	view, err := f.svc.GetCart(context.Background(), f.tenantID, cartID)
	require.NoError(t, err)
	return view.Cart.Status
}

func TestQuotedSettlementCompletesOnceAcrossReplays(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cart := f.createCart(t, 2)
	require.True(t, cart.Total.Equal(decimal.RequireFromString("20.00")))
	require.Equal(t, int64(2), f.level(t).Reserved)

	quote, err := f.svc.IssueQuote(ctx, f.tenantID, cart.ID, f.actorID)
	require.NoError(t, err)
	require.Equal(t, enums.CredentialStatusOffered, quote.Credential.Status)
	require.Equal(t, enums.CartStatusQuoted, f.cartStatus(t, cart.ID))

	checkout := f.checkout(t, cart.ID)
	invoice := checkout.Invoice
	require.True(t, invoice.Amount.Equal(decimal.RequireFromString("20.00")))
	require.Equal(t, quote.QuoteHash, invoice.PreviousRecordHash)
	require.Equal(t, quote.ID, *invoice.QuoteID)
	require.Equal(t, InvoiceIDFor(cart.ID, quote.QuoteHash), invoice.ID)
	require.Equal(t, invoice.ID.String(), f.gateway.calls[0].SourceReference)
	require.Equal(t, enums.CartStatusInvoiced, checkout.Cart.Status)

	first, err := f.svc.ConfirmPayment(ctx, f.success(checkout))
	require.NoError(t, err)
	require.False(t, first.AlreadySettled)
	receipt := first.Receipt
	require.Equal(t, ReceiptIDFor(invoice.ID), receipt.ID)
	require.Equal(t, invoice.InvoiceHash, receipt.PreviousRecordHash)
	require.Len(t, receipt.InventoryAllocations, 1)
	require.Equal(t, int64(2), receipt.InventoryAllocations[0].Quantity)
	require.Equal(t, "TX-1", *receipt.TransactionID)

	level := f.level(t)
	require.Equal(t, int64(10), level.OnHand)
	require.Equal(t, int64(0), level.Reserved)
	require.Equal(t, int64(2), level.Sold)
	require.Equal(t, enums.CartStatusPaid, f.cartStatus(t, cart.ID))

	replay, err := f.svc.ConfirmPayment(ctx, f.success(checkout))
	require.NoError(t, err)
	require.True(t, replay.AlreadySettled)
	require.Equal(t, receipt.ID, replay.Receipt.ID)

	require.Equal(t, int64(1), f.count(t, &models.Receipt{}, "invoice_id = ?", invoice.ID))
	require.Equal(t, int64(1), f.count(t, &models.InventoryEvent{}, "type = ?", enums.InventoryEventSale))
	require.Equal(t, int64(1), f.count(t, &models.OutboxEvent{}, "event_type = ?", enums.EventInvoicePaid))
	require.Equal(t, int64(1), f.count(t, &models.OutboxEvent{}, "event_type = ?", enums.EventReceiptIssued))
	require.Equal(t, level, f.level(t))

	audit, err := f.svc.VerifyAuditChain(ctx, f.tenantID, cart.ID)
	require.NoError(t, err)
	require.True(t, audit.Valid)
	require.Len(t, audit.Links, 4)
}

func TestCheckoutWithoutQuoteLinksCartHash(t *testing.T) {
	f := newFixture(t)
	cart := f.createCart(t, 1)

	res := f.checkout(t, cart.ID)
	view, err := f.svc.GetCart(context.Background(), f.tenantID, cart.ID)
	require.NoError(t, err)
	require.Nil(t, res.Invoice.QuoteID)
	require.Equal(t, CartHash(view.Cart, view.Cart.Items), res.Invoice.PreviousRecordHash)
	require.Equal(t, 1, f.issuer.offers[credentials.KindInvoice])
}

func TestExpiredQuoteFallsBackToCartHash(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cart := f.createCart(t, 1)

	_, err := f.svc.IssueQuote(ctx, f.tenantID, cart.ID, f.actorID)
	require.NoError(t, err)
	f.now = f.now.Add(16 * time.Minute)

	res := f.checkout(t, cart.ID)
	require.Nil(t, res.Invoice.QuoteID)

	audit, err := f.svc.VerifyAuditChain(ctx, f.tenantID, cart.ID)
	require.NoError(t, err)
	require.True(t, audit.Valid)
}

func TestCheckoutGatewayFailureLeavesCartUntouched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cart := f.createCart(t, 2)

	f.gateway.err = pkgerrors.New(pkgerrors.CodeDependency, "gateway unavailable")
	_, err := f.svc.Checkout(ctx, CheckoutInput{TenantID: f.tenantID, CartID: cart.ID, ActorID: f.actorID, Msisdn: "263771234567"})
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeDependency))
	require.Equal(t, enums.CartStatusPending, f.cartStatus(t, cart.ID))
	require.Equal(t, int64(0), f.count(t, &models.Invoice{}, "cart_id = ?", cart.ID))

	f.gateway.err = nil
	res := f.checkout(t, cart.ID)
	require.Len(t, f.gateway.calls, 2)
	require.Equal(t, f.gateway.calls[0].SourceReference, f.gateway.calls[1].SourceReference)
	require.Equal(t, res.Invoice.ID.String(), f.gateway.calls[1].SourceReference)
}

func TestCheckoutIssuerFailureIsRetryable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cart := f.createCart(t, 1)

	f.issuer.errs[credentials.KindInvoice] = errors.New("issuer down")
	_, err := f.svc.Checkout(ctx, CheckoutInput{TenantID: f.tenantID, CartID: cart.ID, ActorID: f.actorID, Msisdn: "263771234567"})
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeDependency))
	require.Equal(t, enums.CartStatusPending, f.cartStatus(t, cart.ID))
	require.Empty(t, f.gateway.calls, "no payment prompt without an invoice credential")
	require.Equal(t, int64(0), f.count(t, &models.Invoice{}, "cart_id = ?", cart.ID))

	delete(f.issuer.errs, credentials.KindInvoice)
	res := f.checkout(t, cart.ID)
	require.Equal(t, enums.CartStatusInvoiced, f.cartStatus(t, cart.ID))
	require.Len(t, f.gateway.calls, 1)
	require.Equal(t, res.Invoice.ID.String(), f.gateway.calls[0].SourceReference)

	invoice, _, err := f.svc.FindInvoice(ctx, res.Invoice.ID)
	require.NoError(t, err)
	require.Equal(t, enums.InvoiceStatusPending, invoice.Status)
}

func TestCheckoutReplayReturnsExistingInvoice(t *testing.T) {
	f := newFixture(t)
	cart := f.createCart(t, 1)

	first := f.checkout(t, cart.ID)
	second := f.checkout(t, cart.ID)
	require.True(t, second.Replayed)
	require.Equal(t, first.Invoice.ID, second.Invoice.ID)
	require.Len(t, f.gateway.calls, 1)
	require.Equal(t, int64(1), f.count(t, &models.OutboxEvent{}, "event_type = ?", enums.EventCartInvoiced))
}

func TestCheckoutRequiresMsisdnAndItems(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cart := f.createCart(t, 1)

	_, err := f.svc.Checkout(ctx, CheckoutInput{TenantID: f.tenantID, CartID: cart.ID, ActorID: f.actorID})
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))

	empty, err := f.svc.CreateCart(ctx, CreateCartInput{TenantID: f.tenantID, ActorID: f.actorID})
	require.NoError(t, err)
	_, err = f.svc.Checkout(ctx, CheckoutInput{TenantID: f.tenantID, CartID: empty.Cart.ID, ActorID: f.actorID, Msisdn: "263771234567"})
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))
}

func TestConfirmPaymentRejectsMismatchedAmount(t *testing.T) {
	f := newFixture(t)
	cart := f.createCart(t, 2)
	res := f.checkout(t, cart.ID)

	outcome := f.success(res)
	wrong := decimal.RequireFromString("19.99")
	outcome.Amount = &wrong
	_, err := f.svc.ConfirmPayment(context.Background(), outcome)
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))

	invoice, payment, err := f.svc.FindInvoice(context.Background(), res.Invoice.ID)
	require.NoError(t, err)
	require.Equal(t, enums.InvoiceStatusPending, invoice.Status)
	require.Equal(t, enums.PaymentStatePending, payment.State)
}

func TestFailPaymentCancelsCartAndReleasesStock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cart := f.createCart(t, 3)
	res := f.checkout(t, cart.ID)

	invoice, err := f.svc.FailPayment(ctx, PaymentOutcome{InvoiceID: res.Invoice.ID, Reason: "insufficient funds"})
	require.NoError(t, err)
	require.Equal(t, enums.InvoiceStatusFailed, invoice.Status)
	require.Equal(t, "insufficient funds", *invoice.FailureReason)
	require.Equal(t, enums.CartStatusCancelled, f.cartStatus(t, cart.ID))
	require.Equal(t, int64(0), f.level(t).Reserved)

	_, err = f.svc.FailPayment(ctx, PaymentOutcome{InvoiceID: res.Invoice.ID})
	require.NoError(t, err)
	require.Equal(t, int64(1), f.count(t, &models.OutboxEvent{}, "event_type = ?", enums.EventInvoiceFailed))

	_, err = f.svc.ConfirmPayment(ctx, f.success(res))
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeStateConflict))
}

func TestFailPaymentAfterSuccessIsStateConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cart := f.createCart(t, 1)
	res := f.checkout(t, cart.ID)

	_, err := f.svc.ConfirmPayment(ctx, f.success(res))
	require.NoError(t, err)
	_, err = f.svc.FailPayment(ctx, PaymentOutcome{InvoiceID: res.Invoice.ID})
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeStateConflict))

	_, err = f.svc.Cancel(ctx, f.tenantID, cart.ID, f.actorID, "changed mind")
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeStateConflict))
}

func TestCancelReleasesReservations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cart := f.createCart(t, 4)
	require.Equal(t, int64(6), f.level(t).Available)

	cancelled, err := f.svc.Cancel(ctx, f.tenantID, cart.ID, f.actorID, "buyer left")
	require.NoError(t, err)
	require.Equal(t, enums.CartStatusCancelled, cancelled.Status)
	require.Equal(t, int64(10), f.level(t).Available)

	_, err = f.svc.AddItem(ctx, AddItemInput{TenantID: f.tenantID, CartID: cart.ID, ActorID: f.actorID, Item: LineInput{CatalogItemID: "SKU1", LocationID: f.location, Quantity: 1}})
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeStateConflict))
}

func TestAddItemOnlyWhilePending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cart := f.createCart(t, 1)

	res, err := f.svc.AddItem(ctx, AddItemInput{
		TenantID: f.tenantID,
		CartID:   cart.ID,
		ActorID:  f.actorID,
		Item:     LineInput{CatalogItemID: "SKU1", LocationID: f.location, Quantity: 20, UnitPrice: decimal.RequireFromString("10.00")},
	})
	require.NoError(t, err)
	require.Len(t, res.Cart.Items, 2)
	require.Equal(t, 2, res.Cart.Items[1].Position)
	require.True(t, res.Cart.Total.Equal(decimal.RequireFromString("210.00")))
	require.Len(t, res.Reservation.Rejected(), 1)
	require.Equal(t, reservation.ReasonInsufficientStock, res.Reservation.Lines[0].Reason)

	_, err = f.svc.IssueQuote(ctx, f.tenantID, cart.ID, f.actorID)
	require.NoError(t, err)
	_, err = f.svc.AddItem(ctx, AddItemInput{TenantID: f.tenantID, CartID: cart.ID, ActorID: f.actorID, Item: LineInput{CatalogItemID: "SKU1", LocationID: f.location, Quantity: 1}})
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeStateConflict))
}

func TestExpireInvoicesClosesOverdueOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	overdue := f.createCart(t, 2)
	overdueRes := f.checkout(t, overdue.ID)

	f.now = f.now.Add(23 * time.Hour)
	fresh := f.createCart(t, 1)
	f.checkout(t, fresh.ID)

	f.now = f.now.Add(2 * time.Hour)
	res, err := f.svc.ExpireInvoices(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, res.Processed)

	invoice, payment, err := f.svc.FindInvoice(ctx, overdueRes.Invoice.ID)
	require.NoError(t, err)
	require.Equal(t, enums.InvoiceStatusExpired, invoice.Status)
	require.Equal(t, enums.PaymentStateExpired, payment.State)
	require.Equal(t, enums.CartStatusCancelled, f.cartStatus(t, overdue.ID))
	require.Equal(t, enums.CartStatusInvoiced, f.cartStatus(t, fresh.ID))
	require.Equal(t, int64(1), f.level(t).Reserved)
}

func TestResumeSettlementsFinishesInterruptedConfirmation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cart := f.createCart(t, 2)
	res := f.checkout(t, cart.ID)

	f.issuer.errs[credentials.KindReceipt] = errors.New("issuer down")
	_, err := f.svc.ConfirmPayment(ctx, f.success(res))
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeDependency))

	invoice, _, err := f.svc.FindInvoice(ctx, res.Invoice.ID)
	require.NoError(t, err)
	require.Equal(t, enums.InvoiceStatusPaid, invoice.Status)
	require.Equal(t, enums.CartStatusInvoiced, f.cartStatus(t, cart.ID))

	delete(f.issuer.errs, credentials.KindReceipt)
	batch, err := f.svc.ResumeSettlements(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, batch.Processed)
	require.Equal(t, enums.CartStatusPaid, f.cartStatus(t, cart.ID))

	level := f.level(t)
	require.Equal(t, int64(0), level.Reserved)
	require.Equal(t, int64(2), level.Sold)
	require.Equal(t, int64(1), f.count(t, &models.InventoryEvent{}, "type = ?", enums.InventoryEventSale))

	batch, err = f.svc.ResumeSettlements(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, batch.Processed)
}

func TestVerifyAuditChainDetectsTamperedInvoice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cart := f.createCart(t, 2)
	res := f.checkout(t, cart.ID)
	_, err := f.svc.ConfirmPayment(ctx, f.success(res))
	require.NoError(t, err)

	require.NoError(t, f.conn.Exec("UPDATE invoices SET amount = ? WHERE id = ?", "2.00", res.Invoice.ID).Error)

	audit, err := f.svc.VerifyAuditChain(ctx, f.tenantID, cart.ID)
	require.NoError(t, err)
	require.False(t, audit.Valid)
	var invoiceLink *AuditLink
	for i := range audit.Links {
		if audit.Links[i].Record == "invoice" {
			invoiceLink = &audit.Links[i]
		}
	}
	require.NotNil(t, invoiceLink)
	require.False(t, invoiceLink.Valid)
	require.Equal(t, "invoice hash mismatch", invoiceLink.Reason)
}

func TestUnknownInvoiceIsNotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.ConfirmPayment(context.Background(), PaymentOutcome{InvoiceID: uuid.New()})
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeNotFound))
}

func TestConcurrentConfirmationsRequestOneReceiptCredential(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cart := f.createCart(t, 1)
	checkout := f.checkout(t, cart.ID)

	inOffer := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	f.issuer.before = func(kind credentials.Kind) {
		if kind != credentials.KindReceipt {
			return
		}
		once.Do(func() { close(inOffer) })
		<-release
	}

	first := make(chan *ConfirmResult, 1)
	go func() {
		res, err := f.svc.ConfirmPayment(ctx, f.success(checkout))
		if err != nil {
			t.Errorf("first confirmation: %v", err)
		}
		first <- res
	}()
	<-inOffer

	second := make(chan *ConfirmResult, 1)
	go func() {
		res, err := f.svc.ConfirmPayment(ctx, f.success(checkout))
		if err != nil {
			t.Errorf("second confirmation: %v", err)
		}
		second <- res
	}()
	time.Sleep(50 * time.Millisecond)
	close(release)

	a, b := <-first, <-second
	require.NotNil(t, a)
	require.NotNil(t, b)
	require.Equal(t, a.Receipt.ID, b.Receipt.ID)
	require.False(t, a.AlreadySettled)
	require.True(t, b.AlreadySettled)
	require.Equal(t, 1, f.issuer.offers[credentials.KindReceipt])
	require.Equal(t, int64(1), f.count(t, &models.Receipt{}, "invoice_id = ?", checkout.Invoice.ID))
}
