package settlement

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"

	"github.com/angelmondragon/vcledger/internal/ledger"
	"github.com/angelmondragon/vcledger/internal/reservation"
	"github.com/angelmondragon/vcledger/pkg/credentials"
	dbpkg "github.com/angelmondragon/vcledger/pkg/db"
	"github.com/angelmondragon/vcledger/pkg/db/models"
	"github.com/angelmondragon/vcledger/pkg/ecocash"
	"github.com/angelmondragon/vcledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/vcledger/pkg/errors"
	"github.com/angelmondragon/vcledger/pkg/logger"
	"github.com/angelmondragon/vcledger/pkg/outbox"
	"github.com/angelmondragon/vcledger/pkg/outbox/payloads"
)

const (
	defaultQuoteValidity   = 15 * time.Minute
	defaultInvoiceDueAfter = 24 * time.Hour
	defaultBatchLimit      = 100
	paymentReason          = "Settlement invoice"
)

var (
	errInvoiceExists = errors.New("invoice already exists for cart")
	errReceiptExists = errors.New("receipt already exists for invoice")
)

// Service drives a cart from creation to receipt. It is the only writer of
// settlement records.
type Service interface {
	CreateCart(ctx context.Context, input CreateCartInput) (*CartResult, error)
	AddItem(ctx context.Context, input AddItemInput) (*CartResult, error)
	GetCart(ctx context.Context, tenantID, cartID uuid.UUID) (*CartView, error)
	IssueQuote(ctx context.Context, tenantID, cartID, actorID uuid.UUID) (*models.Quote, error)
	Checkout(ctx context.Context, input CheckoutInput) (*CheckoutResult, error)
	ConfirmPayment(ctx context.Context, outcome PaymentOutcome) (*ConfirmResult, error)
	FailPayment(ctx context.Context, outcome PaymentOutcome) (*models.Invoice, error)
	Cancel(ctx context.Context, tenantID, cartID, actorID uuid.UUID, reason string) (*models.Cart, error)
	ExpireInvoices(ctx context.Context) (*BatchResult, error)
	ResumeSettlements(ctx context.Context) (*BatchResult, error)
	VerifyAuditChain(ctx context.Context, tenantID, cartID uuid.UUID) (*AuditVerification, error)
	FindInvoice(ctx context.Context, invoiceID uuid.UUID) (*models.Invoice, *models.Payment, error)
}

// LineInput is one priced line added to a cart.
type LineInput struct {
	CatalogItemID string
	LocationID    uuid.UUID
	Name          string
	Quantity      int64
	UnitPrice     decimal.Decimal
}

type CreateCartInput struct {
	TenantID   uuid.UUID
	ActorID    uuid.UUID
	BuyerPhone *string
	Currency   enums.Currency
	Items      []LineInput
}

type AddItemInput struct {
	TenantID uuid.UUID
	CartID   uuid.UUID
	ActorID  uuid.UUID
	Item     LineInput
}

// CartResult carries the cart and the per-line reservation outcome. A
// rejected line does not fail the call.
type CartResult struct {
	Cart        *models.Cart
	Reservation *reservation.ReserveResult
}

type CartView struct {
	Cart    *models.Cart
	Quote   *models.Quote
	Invoice *models.Invoice
	Payment *models.Payment
	Receipt *models.Receipt
}

type CheckoutInput struct {
	TenantID uuid.UUID
	CartID   uuid.UUID
	ActorID  uuid.UUID
	Msisdn   string
}

type CheckoutResult struct {
	Cart          *models.Cart
	Invoice       *models.Invoice
	Payment       *models.Payment
	GatewayStatus enums.GatewayStatus
	Replayed      bool
}

// PaymentOutcome is a gateway result correlated to an invoice. Empty fields
// are not compared.
type PaymentOutcome struct {
	InvoiceID        uuid.UUID
	PaymentRequestID string
	TransactionID    string
	Amount           *decimal.Decimal
	Currency         string
	Reason           string
}

type ConfirmResult struct {
	Invoice        *models.Invoice
	Receipt        *models.Receipt
	AlreadySettled bool
}

type BatchResult struct {
	Processed int
	Failed    int
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type reservationEngine interface {
	Reserve(ctx context.Context, tenantID, cartID uuid.UUID, items []reservation.Item, actorID uuid.UUID) (*reservation.ReserveResult, error)
	Release(ctx context.Context, tenantID, cartID, actorID uuid.UUID, reason string) ([]models.InventoryEvent, error)
	Fulfill(ctx context.Context, tenantID, cartID, receiptID, actorID uuid.UUID) (*reservation.FulfillResult, error)
}

type credentialIssuer interface {
	Enabled(kind credentials.Kind) bool
	CreateOffer(ctx context.Context, kind credentials.Kind, claims map[string]string) (*credentials.Offer, error)
}

type paymentGateway interface {
	InitiatePayment(ctx context.Context, req ecocash.PaymentRequest) (*ecocash.PaymentResponse, error)
}

type outboxEmitter interface {
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type transitionMetrics interface {
	IncTransition(to string)
}

type ServiceParams struct {
	DB              txRunner
	Repo            Repository
	Reservations    reservationEngine
	Credentials     credentialIssuer
	Gateway         paymentGateway
	Outbox          outboxEmitter
	Metrics         transitionMetrics
	Logger          *logger.Logger
	Clock           func() time.Time
	QuoteValidity   time.Duration
	InvoiceDueAfter time.Duration
	DefaultCurrency enums.Currency
	IssueQuoteVC    bool
	BatchLimit      int
}

type service struct {
	tx              txRunner
	repo            Repository
	reservations    reservationEngine
	credentials     credentialIssuer
	gateway         paymentGateway
	outbox          outboxEmitter
	metrics         transitionMetrics
	logg            *logger.Logger
	clock           func() time.Time
	quoteValidity   time.Duration
	invoiceDueAfter time.Duration
	currency        enums.Currency
	issueQuoteVC    bool
	batchLimit      int

	// completions collapses concurrent settlement runs for one invoice so
	// only one receipt credential is requested.
	completions singleflight.Group
}

func NewService(params ServiceParams) (Service, error) {
	if params.DB == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("settlement repository required")
	}
	if params.Reservations == nil {
		return nil, fmt.Errorf("reservation engine required")
	}
	if params.Gateway == nil {
		return nil, fmt.Errorf("payment gateway required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	svc := &service{
		tx:              params.DB,
		repo:            params.Repo,
		reservations:    params.Reservations,
		credentials:     params.Credentials,
		gateway:         params.Gateway,
		outbox:          params.Outbox,
		metrics:         params.Metrics,
		logg:            params.Logger,
		clock:           params.Clock,
		quoteValidity:   params.QuoteValidity,
		invoiceDueAfter: params.InvoiceDueAfter,
		currency:        params.DefaultCurrency,
		issueQuoteVC:    params.IssueQuoteVC,
		batchLimit:      params.BatchLimit,
	}
	if svc.clock == nil {
		svc.clock = dbpkg.NowUTC
	}
	if svc.quoteValidity <= 0 {
		svc.quoteValidity = defaultQuoteValidity
	}
	if svc.invoiceDueAfter <= 0 {
		svc.invoiceDueAfter = defaultInvoiceDueAfter
	}
	if svc.currency == "" {
		svc.currency = enums.CurrencyUSD
	}
	if !svc.currency.IsValid() {
		return nil, fmt.Errorf("invalid default currency %q", svc.currency)
	}
	if svc.batchLimit <= 0 {
		svc.batchLimit = defaultBatchLimit
	}
	return svc, nil
}

func (s *service) CreateCart(ctx context.Context, input CreateCartInput) (*CartResult, error) {
	if input.TenantID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tenant id is required")
	}
	if input.ActorID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "actor id is required")
	}
	currency := input.Currency
	if currency == "" {
		currency = s.currency
	}
	if !currency.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid currency %q", currency))
	}

	cart := &models.Cart{
		ID:         uuid.New(),
		TenantID:   input.TenantID,
		BuyerPhone: trimmed(input.BuyerPhone),
		Currency:   currency,
		Status:     enums.CartStatusPending,
		Version:    1,
		CreatedBy:  input.ActorID,
		CreatedAt:  s.now(),
	}
	items, err := buildItems(cart.ID, 1, input.Items)
	if err != nil {
		return nil, err
	}
	cart.Total = cartTotal(items)

	if err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.CreateCart(ctx, cart); err != nil {
			return err
		}
		return repo.CreateItems(ctx, items)
	}); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create cart")
	}
	cart.Items = items

	result := &CartResult{Cart: cart}
	if len(items) > 0 {
		res, err := s.reserve(ctx, cart, items, input.ActorID)
		if err != nil {
			return nil, err
		}
		result.Reservation = res
	}
	if s.logg != nil {
		logCtx := s.logg.WithCartID(s.logg.WithTenantID(ctx, cart.TenantID.String()), cart.ID.String())
		s.logg.Info(logCtx, "cart created")
	}
	return result, nil
}

func (s *service) AddItem(ctx context.Context, input AddItemInput) (*CartResult, error) {
	if input.ActorID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "actor id is required")
	}
	cart, err := s.loadCart(ctx, input.TenantID, input.CartID)
	if err != nil {
		return nil, err
	}
	if cart.Status != enums.CartStatusPending {
		return nil, stateConflict(cart)
	}
	items, err := buildItems(cart.ID, 0, []LineInput{input.Item})
	if err != nil {
		return nil, err
	}
	item := items[0]

	if err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		pos, err := repo.NextPosition(ctx, cart.ID)
		if err != nil {
			return err
		}
		item.Position = pos
		if err := repo.CreateItems(ctx, []models.CartItem{item}); err != nil {
			return err
		}
		total := cartTotal(cart.Items).Add(item.LineTotal)
		ok, err := repo.TransitionCart(ctx, cart.TenantID, cart.ID, []enums.CartStatus{enums.CartStatusPending}, cart.Version, map[string]any{"total": total})
		if err != nil {
			return err
		}
		if !ok {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "cart was modified concurrently")
		}
		return nil
	}); err != nil {
		return nil, internalOr(err, "add cart item")
	}

	cart, err = s.loadCart(ctx, input.TenantID, input.CartID)
	if err != nil {
		return nil, err
	}
	res, err := s.reserve(ctx, cart, []models.CartItem{item}, input.ActorID)
	if err != nil {
		return nil, err
	}
	return &CartResult{Cart: cart, Reservation: res}, nil
}

func (s *service) GetCart(ctx context.Context, tenantID, cartID uuid.UUID) (*CartView, error) {
	cart, err := s.loadCart(ctx, tenantID, cartID)
	if err != nil {
		return nil, err
	}
	view := &CartView{Cart: cart}
	if cart.QuoteID != nil {
		quote, err := s.repo.FindQuote(ctx, tenantID, *cart.QuoteID)
		if err != nil && !isNotFound(err) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load quote")
		}
		view.Quote = quote
	}
	invoice, err := s.repo.FindInvoiceByCart(ctx, tenantID, cartID)
	switch {
	case isNotFound(err):
		return view, nil
	case err != nil:
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load invoice")
	}
	view.Invoice = invoice
	if view.Payment, err = s.repo.FindPaymentByInvoice(ctx, invoice.ID); err != nil && !isNotFound(err) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load payment")
	}
	if view.Receipt, err = s.repo.FindReceiptByInvoice(ctx, invoice.ID); err != nil && !isNotFound(err) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load receipt")
	}
	return view, nil
}

// IssueQuote freezes prices for the current items. Re-quoting replaces the
// cart's quote link.
func (s *service) IssueQuote(ctx context.Context, tenantID, cartID, actorID uuid.UUID) (*models.Quote, error) {
	if actorID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "actor id is required")
	}
	cart, err := s.loadCart(ctx, tenantID, cartID)
	if err != nil {
		return nil, err
	}
	if !cart.Status.CanTransitionTo(enums.CartStatusQuoted) {
		return nil, stateConflict(cart)
	}
	if len(cart.Items) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "cart has no items")
	}

	now := s.now()
	quote := &models.Quote{
		ID:         uuid.New(),
		TenantID:   cart.TenantID,
		CartID:     cart.ID,
		CartHash:   CartHash(cart, cart.Items),
		Items:      quoteLines(cart.Items),
		GrandTotal: cartTotal(cart.Items),
		Currency:   cart.Currency,
		ValidUntil: now.Add(s.quoteValidity),
		CreatedAt:  now,
	}
	quote.QuoteHash = QuoteHash(quote)

	offer := models.CredentialOffer{Status: enums.CredentialStatusSkipped}
	if s.issueQuoteVC {
		offer, err = s.offer(ctx, credentials.KindQuote, map[string]string{
			"quoteId":    quote.ID.String(),
			"cartId":     cart.ID.String(),
			"cartHash":   quote.CartHash,
			"quoteHash":  quote.QuoteHash,
			"grandTotal": quote.GrandTotal.StringFixed(2),
			"currency":   string(quote.Currency),
			"validUntil": canonicalTime(quote.ValidUntil),
		})
		if err != nil {
			return nil, err
		}
	}
	quote.Credential = offer

	if err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.CreateQuote(ctx, quote); err != nil {
			return err
		}
		ok, err := repo.TransitionCart(ctx, cart.TenantID, cart.ID,
			[]enums.CartStatus{enums.CartStatusPending, enums.CartStatusQuoted}, cart.Version,
			map[string]any{"status": enums.CartStatusQuoted, "quote_id": quote.ID, "quote_hash": quote.QuoteHash})
		if err != nil {
			return err
		}
		if !ok {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "cart was modified concurrently")
		}
		return nil
	}); err != nil {
		return nil, internalOr(err, "issue quote")
	}
	s.countTransition(enums.CartStatusQuoted)
	return quote, nil
}

// Checkout mints the invoice and opens the gateway payment. The gateway and
// issuer are called before the transaction so a failure leaves the cart
// untouched; the invoice id keeps the retry idempotent at the gateway.
func (s *service) Checkout(ctx context.Context, input CheckoutInput) (*CheckoutResult, error) {
	if input.ActorID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "actor id is required")
	}
	cart, err := s.loadCart(ctx, input.TenantID, input.CartID)
	if err != nil {
		return nil, err
	}
	switch cart.Status {
	case enums.CartStatusInvoiced:
		return s.replayCheckout(ctx, cart)
	case enums.CartStatusPending, enums.CartStatusQuoted:
	default:
		return nil, stateConflict(cart)
	}
	if len(cart.Items) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "cart has no items")
	}
	msisdn := strings.TrimSpace(input.Msisdn)
	if msisdn == "" && cart.BuyerPhone != nil {
		msisdn = *cart.BuyerPhone
	}
	if msisdn == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "msisdn is required")
	}

	now := s.now()
	cartHash := CartHash(cart, cart.Items)
	previousHash := cartHash
	amount := cartTotal(cart.Items)
	var quote *models.Quote
	if cart.QuoteID != nil {
		q, err := s.repo.FindQuote(ctx, cart.TenantID, *cart.QuoteID)
		if err != nil && !isNotFound(err) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load quote")
		}
		if q != nil && q.ValidUntil.After(now) && q.CartHash == cartHash {
			quote = q
			previousHash = q.QuoteHash
			amount = q.GrandTotal
		}
	}

	invoice := &models.Invoice{
		ID:                 InvoiceIDFor(cart.ID, previousHash),
		TenantID:           cart.TenantID,
		CartID:             cart.ID,
		Amount:             amount,
		Currency:           cart.Currency,
		PreviousRecordHash: previousHash,
		Status:             enums.InvoiceStatusPending,
		DueDate:            now.Add(s.invoiceDueAfter),
		CreatedAt:          now,
	}
	if quote != nil {
		invoice.QuoteID = &quote.ID
		invoice.QuoteHash = &quote.QuoteHash
	}
	invoice.InvoiceHash = InvoiceHash(invoice)

	// The buyer gets a payment prompt only once the invoice credential exists.
	credential, err := s.offer(ctx, credentials.KindInvoice, map[string]string{
		"invoiceId":          invoice.ID.String(),
		"cartId":             cart.ID.String(),
		"invoiceHash":        invoice.InvoiceHash,
		"previousRecordHash": invoice.PreviousRecordHash,
		"amount":             invoice.Amount.StringFixed(2),
		"currency":           string(invoice.Currency),
		"dueDate":            canonicalTime(invoice.DueDate),
	})
	if err != nil {
		return nil, err
	}
	invoice.Credential = credential

	resp, err := s.gateway.InitiatePayment(ctx, ecocash.PaymentRequest{
		SourceReference: invoice.ID.String(),
		Amount:          invoice.Amount,
		Currency:        string(invoice.Currency),
		Msisdn:          msisdn,
		Reason:          paymentReason,
	})
	if err != nil {
		return nil, dependencyError(err, "initiate payment")
	}
	if resp.Status.IsFailure() {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "payment request rejected by gateway").
			WithDetails(map[string]any{"status": resp.Status})
	}
	if resp.PaymentRequestID != "" {
		ref := resp.PaymentRequestID
		invoice.EcocashRef = &ref
	}

	payment := &models.Payment{
		ID:          uuid.New(),
		TenantID:    cart.TenantID,
		InvoiceID:   invoice.ID,
		ProviderRef: invoice.EcocashRef,
		Msisdn:      &msisdn,
		Amount:      invoice.Amount,
		Currency:    invoice.Currency,
		State:       enums.PaymentStatePending,
		CreatedAt:   now,
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.CreateInvoice(ctx, invoice); err != nil {
			if dbpkg.IsUniqueViolation(err, "ux_invoices_cart") || dbpkg.IsUniqueViolation(err, "invoices.cart_id") || dbpkg.IsUniqueViolation(err, "invoices.id") {
				return errInvoiceExists
			}
			return err
		}
		if err := repo.CreatePayment(ctx, payment); err != nil {
			return err
		}
		ok, err := repo.TransitionCart(ctx, cart.TenantID, cart.ID,
			[]enums.CartStatus{enums.CartStatusPending, enums.CartStatusQuoted}, cart.Version,
			map[string]any{"status": enums.CartStatusInvoiced})
		if err != nil {
			return err
		}
		if !ok {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "cart was modified concurrently")
		}
		event := payloads.CartInvoicedEvent{
			CartID:           cart.ID,
			TenantID:         cart.TenantID,
			InvoiceID:        invoice.ID,
			InvoiceHash:      invoice.InvoiceHash,
			Amount:           invoice.Amount,
			Currency:         string(invoice.Currency),
			PaymentRequestID: resp.PaymentRequestID,
		}
		if quote != nil {
			event.QuoteID = quote.ID
		}
		if invoice.Credential.OfferURL != nil {
			event.CredentialOfferURL = *invoice.Credential.OfferURL
		}
		return s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventCartInvoiced,
			AggregateType: enums.AggregateCart,
			AggregateID:   cart.ID,
			Actor:         actorRef(cart.TenantID, input.ActorID),
			Data:          event,
			OccurredAt:    now,
		})
	})
	if errors.Is(err, errInvoiceExists) {
		return s.replayCheckout(ctx, cart)
	}
	if err != nil {
		return nil, internalOr(err, "checkout")
	}
	s.countTransition(enums.CartStatusInvoiced)

	cart, err = s.loadCart(ctx, cart.TenantID, cart.ID)
	if err != nil {
		return nil, err
	}
	if s.logg != nil {
		logCtx := s.logg.WithCartID(s.logg.WithTenantID(ctx, cart.TenantID.String()), cart.ID.String())
		logCtx = s.logg.WithFields(logCtx, map[string]any{
			"invoice_id":         invoice.ID.String(),
			"payment_request_id": resp.PaymentRequestID,
			"amount":             invoice.Amount.StringFixed(2),
		})
		s.logg.Info(logCtx, "cart invoiced")
	}
	return &CheckoutResult{Cart: cart, Invoice: invoice, Payment: payment, GatewayStatus: resp.Status}, nil
}

func (s *service) replayCheckout(ctx context.Context, cart *models.Cart) (*CheckoutResult, error) {
	invoice, err := s.repo.FindInvoiceByCart(ctx, cart.TenantID, cart.ID)
	if err != nil {
		return nil, notFoundOr(err, "invoice not found", "load invoice")
	}
	payment, err := s.repo.FindPaymentByInvoice(ctx, invoice.ID)
	if err != nil {
		return nil, notFoundOr(err, "payment not found", "load payment")
	}
	fresh, err := s.loadCart(ctx, cart.TenantID, cart.ID)
	if err != nil {
		return nil, err
	}
	return &CheckoutResult{Cart: fresh, Invoice: invoice, Payment: payment, GatewayStatus: enums.GatewayStatusPending, Replayed: true}, nil
}

// ConfirmPayment records a successful payment and completes settlement.
// Replays of the same outcome return the existing receipt.
func (s *service) ConfirmPayment(ctx context.Context, outcome PaymentOutcome) (*ConfirmResult, error) {
	invoice, payment, err := s.FindInvoice(ctx, outcome.InvoiceID)
	if err != nil {
		return nil, err
	}
	switch invoice.Status {
	case enums.InvoiceStatusFailed, enums.InvoiceStatusExpired:
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "invoice already settled").
			WithDetails(map[string]any{"status": invoice.Status})
	}
	if err := matchOutcome(invoice, payment, outcome); err != nil {
		return nil, err
	}

	if invoice.Status == enums.InvoiceStatusPending {
		now := s.now()
		err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			repo := s.repo.WithTx(tx)
			updates := map[string]any{"completed_at": now}
			if outcome.TransactionID != "" {
				updates["transaction_id"] = outcome.TransactionID
			}
			claimed, err := repo.ClaimPayment(ctx, invoice.ID, enums.PaymentStateSucceeded, updates)
			if err != nil {
				return err
			}
			if !claimed {
				current, err := repo.FindPaymentByInvoice(ctx, invoice.ID)
				if err != nil {
					return err
				}
				if current.State != enums.PaymentStateSucceeded {
					return pkgerrors.New(pkgerrors.CodeStateConflict, "payment already settled").
						WithDetails(map[string]any{"state": current.State})
				}
			}
			paid, err := repo.UpdateInvoiceStatus(ctx, invoice.ID, enums.InvoiceStatusPending, enums.InvoiceStatusPaid, nil)
			if err != nil {
				return err
			}
			if !paid {
				return nil
			}
			return s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventInvoicePaid,
				AggregateType: enums.AggregateInvoice,
				AggregateID:   invoice.ID,
				Actor:         actorRef(invoice.TenantID, ledger.SystemActorID),
				Data: payloads.InvoicePaidEvent{
					InvoiceID:     invoice.ID,
					CartID:        invoice.CartID,
					TenantID:      invoice.TenantID,
					TransactionID: outcome.TransactionID,
					Amount:        invoice.Amount,
					Currency:      string(invoice.Currency),
					PaidAt:        now,
				},
				OccurredAt: now,
			})
		})
		if err != nil {
			return nil, internalOr(err, "confirm payment")
		}
	}
	return s.completeSettlement(ctx, invoice.ID)
}

func (s *service) completeSettlement(ctx context.Context, invoiceID uuid.UUID) (*ConfirmResult, error) {
	ran := false
	v, err, _ := s.completions.Do(invoiceID.String(), func() (any, error) {
		ran = true
		return s.settleInvoice(ctx, invoiceID)
	})
	if err != nil {
		return nil, err
	}
	res := *v.(*ConfirmResult)
	if !ran {
		res.AlreadySettled = true
	}
	return &res, nil
}

// settleInvoice converts reservations into sales, issues the receipt and
// flips the cart to paid. Each step tolerates having already run.
func (s *service) settleInvoice(ctx context.Context, invoiceID uuid.UUID) (*ConfirmResult, error) {
	invoice, payment, err := s.FindInvoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if invoice.Status != enums.InvoiceStatusPaid {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "invoice is not paid").
			WithDetails(map[string]any{"status": invoice.Status})
	}
	cart, err := s.loadCart(ctx, invoice.TenantID, invoice.CartID)
	if err != nil {
		return nil, err
	}
	switch cart.Status {
	case enums.CartStatusPaid:
		receipt, err := s.repo.FindReceiptByInvoice(ctx, invoice.ID)
		if err != nil {
			return nil, notFoundOr(err, "receipt not found", "load receipt")
		}
		return &ConfirmResult{Invoice: invoice, Receipt: receipt, AlreadySettled: true}, nil
	case enums.CartStatusInvoiced:
	default:
		return nil, stateConflict(cart)
	}

	receiptID := ReceiptIDFor(invoice.ID)
	fulfilled, err := s.reservations.Fulfill(ctx, invoice.TenantID, cart.ID, receiptID, ledger.SystemActorID)
	if err != nil {
		return nil, err
	}

	receipt := &models.Receipt{
		ID:                   receiptID,
		TenantID:             invoice.TenantID,
		InvoiceID:            invoice.ID,
		CartID:               cart.ID,
		InvoiceHash:          invoice.InvoiceHash,
		PreviousRecordHash:   invoice.InvoiceHash,
		Amount:               invoice.Amount,
		Currency:             invoice.Currency,
		TransactionID:        payment.TransactionID,
		InventoryAllocations: toInventoryAllocations(fulfilled.Allocations),
		IssuedAt:             s.now(),
	}
	receipt.ReceiptHash = ReceiptHash(receipt)
	receipt.Credential, err = s.offer(ctx, credentials.KindReceipt, map[string]string{
		"receiptId":     receipt.ID.String(),
		"invoiceId":     invoice.ID.String(),
		"invoiceHash":   receipt.InvoiceHash,
		"receiptHash":   receipt.ReceiptHash,
		"amount":        receipt.Amount.StringFixed(2),
		"currency":      string(receipt.Currency),
		"transactionId": optionalString(receipt.TransactionID),
		"issuedAt":      canonicalTime(receipt.IssuedAt),
	})
	if err != nil {
		return nil, err
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.CreateReceipt(ctx, receipt); err != nil {
			if dbpkg.IsUniqueViolation(err, "ux_receipts_invoice") || dbpkg.IsUniqueViolation(err, "receipts.invoice_id") || dbpkg.IsUniqueViolation(err, "receipts.id") {
				return errReceiptExists
			}
			return err
		}
		ok, err := repo.TransitionCart(ctx, cart.TenantID, cart.ID, []enums.CartStatus{enums.CartStatusInvoiced}, cart.Version,
			map[string]any{"status": enums.CartStatusPaid})
		if err != nil {
			return err
		}
		if !ok {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "cart was modified concurrently")
		}
		event := payloads.ReceiptIssuedEvent{
			ReceiptID:   receipt.ID,
			InvoiceID:   invoice.ID,
			CartID:      cart.ID,
			TenantID:    cart.TenantID,
			ReceiptHash: receipt.ReceiptHash,
			Allocations: toPayloadAllocations(receipt.InventoryAllocations),
		}
		if receipt.Credential.OfferURL != nil {
			event.CredentialOfferURL = *receipt.Credential.OfferURL
		}
		return s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventReceiptIssued,
			AggregateType: enums.AggregateReceipt,
			AggregateID:   receipt.ID,
			Actor:         actorRef(cart.TenantID, ledger.SystemActorID),
			Data:          event,
			OccurredAt:    receipt.IssuedAt,
		})
	})
	if errors.Is(err, errReceiptExists) {
		existing, err := s.repo.FindReceiptByInvoice(ctx, invoice.ID)
		if err != nil {
			return nil, notFoundOr(err, "receipt not found", "load receipt")
		}
		return &ConfirmResult{Invoice: invoice, Receipt: existing, AlreadySettled: true}, nil
	}
	if err != nil {
		return nil, internalOr(err, "issue receipt")
	}
	s.countTransition(enums.CartStatusPaid)
	if s.logg != nil {
		logCtx := s.logg.WithCartID(s.logg.WithTenantID(ctx, cart.TenantID.String()), cart.ID.String())
		logCtx = s.logg.WithFields(logCtx, map[string]any{
			"invoice_id": invoice.ID.String(),
			"receipt_id": receipt.ID.String(),
			"lines":      len(receipt.InventoryAllocations),
		})
		s.logg.Info(logCtx, "settlement completed")
	}
	return &ConfirmResult{Invoice: invoice, Receipt: receipt}, nil
}

// FailPayment marks the invoice failed, cancels the cart and returns its
// reservations. A paid invoice cannot be failed.
func (s *service) FailPayment(ctx context.Context, outcome PaymentOutcome) (*models.Invoice, error) {
	invoice, payment, err := s.FindInvoice(ctx, outcome.InvoiceID)
	if err != nil {
		return nil, err
	}
	if invoice.Status == enums.InvoiceStatusPaid {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "invoice already settled").
			WithDetails(map[string]any{"status": invoice.Status})
	}
	if outcome.PaymentRequestID != "" && payment.ProviderRef != nil && *payment.ProviderRef != outcome.PaymentRequestID {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment request id does not match invoice")
	}
	reason := strings.TrimSpace(outcome.Reason)
	if reason == "" {
		reason = "payment failed"
	}
	if invoice.Status == enums.InvoiceStatusPending {
		if err := s.closeInvoice(ctx, invoice, enums.InvoiceStatusFailed, enums.PaymentStateFailed, reason); err != nil {
			return nil, err
		}
	}
	if err := s.unwindCart(ctx, invoice.TenantID, invoice.CartID, reason); err != nil {
		return nil, err
	}
	invoice, _, err = s.FindInvoice(ctx, invoice.ID)
	return invoice, err
}

// Cancel abandons an unpaid cart. An open invoice is closed as failed.
func (s *service) Cancel(ctx context.Context, tenantID, cartID, actorID uuid.UUID, reason string) (*models.Cart, error) {
	if actorID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "actor id is required")
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "cancelled"
	}
	cart, err := s.loadCart(ctx, tenantID, cartID)
	if err != nil {
		return nil, err
	}
	if !cart.Status.CanTransitionTo(enums.CartStatusCancelled) {
		return nil, stateConflict(cart)
	}
	if cart.Status == enums.CartStatusInvoiced {
		invoice, err := s.repo.FindInvoiceByCart(ctx, tenantID, cartID)
		if err != nil {
			return nil, notFoundOr(err, "invoice not found", "load invoice")
		}
		if invoice.Status == enums.InvoiceStatusPaid {
			return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "cart already settled").
				WithDetails(map[string]any{"invoice_status": invoice.Status})
		}
		if invoice.Status == enums.InvoiceStatusPending {
			if err := s.closeInvoice(ctx, invoice, enums.InvoiceStatusFailed, enums.PaymentStateFailed, reason); err != nil {
				return nil, err
			}
		}
	}
	if err := s.cancelCart(ctx, cart, actorID, reason); err != nil {
		return nil, err
	}
	if _, err := s.reservations.Release(ctx, tenantID, cartID, actorID, reason); err != nil {
		return nil, err
	}
	return s.loadCart(ctx, tenantID, cartID)
}

// ExpireInvoices closes pending invoices past their due date.
func (s *service) ExpireInvoices(ctx context.Context) (*BatchResult, error) {
	invoices, err := s.repo.ListDueInvoices(ctx, s.now(), s.batchLimit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list due invoices")
	}
	result := &BatchResult{}
	var errs error
	for i := range invoices {
		invoice := &invoices[i]
		err := s.closeInvoice(ctx, invoice, enums.InvoiceStatusExpired, enums.PaymentStateExpired, "invoice expired")
		if err == nil {
			err = s.unwindCart(ctx, invoice.TenantID, invoice.CartID, "invoice expired")
		}
		if err != nil {
			result.Failed++
			errs = multierr.Append(errs, fmt.Errorf("invoice %s: %w", invoice.ID, err))
			continue
		}
		result.Processed++
	}
	return result, errs
}

// ResumeSettlements finishes invoices whose payment outcome was recorded
// but whose cart never caught up.
func (s *service) ResumeSettlements(ctx context.Context) (*BatchResult, error) {
	invoices, err := s.repo.ListUnsettledInvoices(ctx, s.batchLimit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list unsettled invoices")
	}
	result := &BatchResult{}
	var errs error
	for i := range invoices {
		invoice := &invoices[i]
		var err error
		switch invoice.Status {
		case enums.InvoiceStatusPaid:
			_, err = s.completeSettlement(ctx, invoice.ID)
		default:
			reason := "payment " + string(invoice.Status)
			if invoice.FailureReason != nil {
				reason = *invoice.FailureReason
			}
			err = s.unwindCart(ctx, invoice.TenantID, invoice.CartID, reason)
		}
		if err != nil {
			result.Failed++
			errs = multierr.Append(errs, fmt.Errorf("invoice %s: %w", invoice.ID, err))
			continue
		}
		result.Processed++
	}
	return result, errs
}

func (s *service) VerifyAuditChain(ctx context.Context, tenantID, cartID uuid.UUID) (*AuditVerification, error) {
	view, err := s.GetCart(ctx, tenantID, cartID)
	if err != nil {
		return nil, err
	}
	quote := view.Quote
	if view.Invoice != nil && view.Invoice.QuoteID != nil && (quote == nil || quote.ID != *view.Invoice.QuoteID) {
		quote, err = s.repo.FindQuote(ctx, tenantID, *view.Invoice.QuoteID)
		if err != nil && !isNotFound(err) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load quote")
		}
	}
	return VerifyRecords(view.Cart, view.Cart.Items, quote, view.Invoice, view.Receipt), nil
}

func (s *service) FindInvoice(ctx context.Context, invoiceID uuid.UUID) (*models.Invoice, *models.Payment, error) {
	if invoiceID == uuid.Nil {
		return nil, nil, pkgerrors.New(pkgerrors.CodeValidation, "invoice id is required")
	}
	invoice, err := s.repo.FindInvoice(ctx, invoiceID)
	if err != nil {
		return nil, nil, notFoundOr(err, "invoice not found", "load invoice")
	}
	payment, err := s.repo.FindPaymentByInvoice(ctx, invoiceID)
	if err != nil {
		return nil, nil, notFoundOr(err, "payment not found", "load payment")
	}
	return invoice, payment, nil
}

// closeInvoice moves a pending invoice and its payment to a terminal failure
// state. A payment that already succeeded wins.
func (s *service) closeInvoice(ctx context.Context, invoice *models.Invoice, status enums.InvoiceStatus, state enums.PaymentState, reason string) error {
	now := s.now()
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		claimed, err := repo.ClaimPayment(ctx, invoice.ID, state, map[string]any{"failure_reason": reason, "completed_at": now})
		if err != nil {
			return err
		}
		if !claimed {
			current, err := repo.FindPaymentByInvoice(ctx, invoice.ID)
			if err != nil {
				return err
			}
			if current.State == enums.PaymentStateSucceeded {
				return pkgerrors.New(pkgerrors.CodeStateConflict, "invoice already settled").
					WithDetails(map[string]any{"state": current.State})
			}
		}
		closed, err := repo.UpdateInvoiceStatus(ctx, invoice.ID, enums.InvoiceStatusPending, status, &reason)
		if err != nil {
			return err
		}
		if !closed {
			return nil
		}
		return s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventInvoiceFailed,
			AggregateType: enums.AggregateInvoice,
			AggregateID:   invoice.ID,
			Actor:         actorRef(invoice.TenantID, ledger.SystemActorID),
			Data: payloads.InvoiceFailedEvent{
				InvoiceID: invoice.ID,
				CartID:    invoice.CartID,
				TenantID:  invoice.TenantID,
				Status:    string(status),
				Reason:    reason,
			},
			OccurredAt: now,
		})
	})
	if err != nil {
		return internalOr(err, "close invoice")
	}
	if s.logg != nil {
		logCtx := s.logg.WithCartID(s.logg.WithTenantID(ctx, invoice.TenantID.String()), invoice.CartID.String())
		logCtx = s.logg.WithFields(s.logg.WithInvoiceID(logCtx, invoice.ID.String()), map[string]any{"status": status, "reason": reason})
		s.logg.Warn(logCtx, "invoice closed without payment")
	}
	return nil
}

// unwindCart cancels an invoiced cart and returns its reservations.
func (s *service) unwindCart(ctx context.Context, tenantID, cartID uuid.UUID, reason string) error {
	cart, err := s.loadCart(ctx, tenantID, cartID)
	if err != nil {
		return err
	}
	switch cart.Status {
	case enums.CartStatusPaid:
		return nil
	case enums.CartStatusInvoiced:
		if err := s.cancelCart(ctx, cart, ledger.SystemActorID, reason); err != nil {
			return err
		}
	}
	_, err = s.reservations.Release(ctx, tenantID, cartID, ledger.SystemActorID, reason)
	return err
}

func (s *service) cancelCart(ctx context.Context, cart *models.Cart, actorID uuid.UUID, reason string) error {
	now := s.now()
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		ok, err := repo.TransitionCart(ctx, cart.TenantID, cart.ID,
			[]enums.CartStatus{enums.CartStatusPending, enums.CartStatusQuoted, enums.CartStatusInvoiced}, cart.Version,
			map[string]any{"status": enums.CartStatusCancelled})
		if err != nil {
			return err
		}
		if !ok {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "cart was modified concurrently")
		}
		return s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventCartCancelled,
			AggregateType: enums.AggregateCart,
			AggregateID:   cart.ID,
			Actor:         actorRef(cart.TenantID, actorID),
			Data: payloads.CartCancelledEvent{
				CartID:      cart.ID,
				TenantID:    cart.TenantID,
				Reason:      reason,
				CancelledAt: now,
			},
			OccurredAt: now,
		})
	})
	if err != nil {
		return internalOr(err, "cancel cart")
	}
	s.countTransition(enums.CartStatusCancelled)
	return nil
}

func (s *service) reserve(ctx context.Context, cart *models.Cart, items []models.CartItem, actorID uuid.UUID) (*reservation.ReserveResult, error) {
	lines := make([]reservation.Item, 0, len(items))
	for _, item := range items {
		lines = append(lines, reservation.Item{
			CatalogItemID: item.CatalogItemID,
			LocationID:    item.LocationID,
			Quantity:      item.Quantity,
		})
	}
	return s.reservations.Reserve(ctx, cart.TenantID, cart.ID, lines, actorID)
}

// offer requests a credential offer when the issuer has a definition for
// kind. Issuer failures surface as dependency errors.
func (s *service) offer(ctx context.Context, kind credentials.Kind, claims map[string]string) (models.CredentialOffer, error) {
	if s.credentials == nil || !s.credentials.Enabled(kind) {
		return models.CredentialOffer{Status: enums.CredentialStatusSkipped}, nil
	}
	offer, err := s.credentials.CreateOffer(ctx, kind, claims)
	if err != nil {
		return models.CredentialOffer{}, dependencyError(err, fmt.Sprintf("request %s credential", kind))
	}
	id, url := offer.ID, offer.OfferURL
	return models.CredentialOffer{OfferID: &id, OfferURL: &url, Status: enums.CredentialStatusOffered}, nil
}

func (s *service) loadCart(ctx context.Context, tenantID, cartID uuid.UUID) (*models.Cart, error) {
	if tenantID == uuid.Nil || cartID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tenant id and cart id are required")
	}
	cart, err := s.repo.FindCart(ctx, tenantID, cartID)
	if err != nil {
		return nil, notFoundOr(err, "cart not found", "load cart")
	}
	return cart, nil
}

func (s *service) countTransition(to enums.CartStatus) {
	if s.metrics != nil {
		s.metrics.IncTransition(string(to))
	}
}

func (s *service) now() time.Time {
	return s.clock().UTC().Truncate(time.Microsecond)
}

func buildItems(cartID uuid.UUID, firstPosition int, inputs []LineInput) ([]models.CartItem, error) {
	items := make([]models.CartItem, 0, len(inputs))
	for i, in := range inputs {
		catalogItemID := strings.TrimSpace(in.CatalogItemID)
		if catalogItemID == "" {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("item %d: catalog item id is required", i))
		}
		if in.LocationID == uuid.Nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("item %d: location id is required", i))
		}
		if in.Quantity <= 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("item %d: quantity must be positive", i))
		}
		if in.UnitPrice.IsNegative() {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("item %d: unit price must not be negative", i))
		}
		name := strings.TrimSpace(in.Name)
		if name == "" {
			name = catalogItemID
		}
		unit := in.UnitPrice.Round(2)
		items = append(items, models.CartItem{
			ID:            uuid.New(),
			CartID:        cartID,
			Position:      firstPosition + i,
			CatalogItemID: catalogItemID,
			LocationID:    in.LocationID,
			Name:          name,
			Quantity:      in.Quantity,
			UnitPrice:     unit,
			LineTotal:     unit.Mul(decimal.NewFromInt(in.Quantity)).Round(2),
		})
	}
	return items, nil
}

func cartTotal(items []models.CartItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.LineTotal)
	}
	return total
}

func quoteLines(items []models.CartItem) []models.QuoteLine {
	lines := make([]models.QuoteLine, 0, len(items))
	for _, item := range items {
		lines = append(lines, models.QuoteLine{
			CatalogItemID: item.CatalogItemID,
			Name:          item.Name,
			Quantity:      item.Quantity,
			UnitPrice:     item.UnitPrice,
			LineTotal:     item.LineTotal,
		})
	}
	return lines
}

func toInventoryAllocations(allocations []reservation.Allocation) []models.InventoryAllocation {
	out := make([]models.InventoryAllocation, 0, len(allocations))
	for _, a := range allocations {
		out = append(out, models.InventoryAllocation{
			CatalogItemID: a.CatalogItemID,
			LocationID:    a.LocationID,
			LotID:         a.LotID,
			Quantity:      a.Quantity,
		})
	}
	return out
}

func toPayloadAllocations(allocations []models.InventoryAllocation) []payloads.ReceiptAllocation {
	out := make([]payloads.ReceiptAllocation, 0, len(allocations))
	for _, a := range allocations {
		out = append(out, payloads.ReceiptAllocation{
			CatalogItemID: a.CatalogItemID,
			LocationID:    a.LocationID,
			LotID:         a.LotID,
			Quantity:      a.Quantity,
		})
	}
	return out
}

func matchOutcome(invoice *models.Invoice, payment *models.Payment, outcome PaymentOutcome) error {
	if outcome.Amount != nil && !outcome.Amount.Equal(invoice.Amount) {
		return pkgerrors.New(pkgerrors.CodeValidation, "amount does not match invoice").
			WithDetails(map[string]any{"expected": invoice.Amount.StringFixed(2), "received": outcome.Amount.StringFixed(2)})
	}
	if outcome.Currency != "" && !strings.EqualFold(outcome.Currency, string(invoice.Currency)) {
		return pkgerrors.New(pkgerrors.CodeValidation, "currency does not match invoice").
			WithDetails(map[string]any{"expected": invoice.Currency, "received": outcome.Currency})
	}
	if outcome.PaymentRequestID != "" && payment.ProviderRef != nil && *payment.ProviderRef != outcome.PaymentRequestID {
		return pkgerrors.New(pkgerrors.CodeValidation, "payment request id does not match invoice")
	}
	return nil
}

func stateConflict(cart *models.Cart) error {
	if cart.Status.IsTerminal() {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "cart already settled").
			WithDetails(map[string]any{"status": cart.Status})
	}
	return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("cart is %s", cart.Status)).
		WithDetails(map[string]any{"status": cart.Status})
}

func actorRef(tenantID, actorID uuid.UUID) *outbox.ActorRef {
	ref := &outbox.ActorRef{TenantID: tenantID}
	if actorID == ledger.SystemActorID {
		ref.Role = string(enums.ActorRoleSystem)
		return ref
	}
	id := actorID
	ref.UserID = &id
	return ref
}

func dependencyError(err error, msg string) error {
	if typed := pkgerrors.As(err); typed != nil {
		return typed
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, msg)
}

func internalOr(err error, msg string) error {
	if typed := pkgerrors.As(err); typed != nil {
		return typed
	}
	return pkgerrors.Wrap(pkgerrors.CodeInternal, err, msg)
}

func notFoundOr(err error, notFoundMsg, msg string) error {
	if isNotFound(err) {
		return pkgerrors.New(pkgerrors.CodeNotFound, notFoundMsg)
	}
	return pkgerrors.Wrap(pkgerrors.CodeInternal, err, msg)
}

func trimmed(value *string) *string {
	if value == nil {
		return nil
	}
	v := strings.TrimSpace(*value)
	if v == "" {
		return nil
	}
	return &v
}
