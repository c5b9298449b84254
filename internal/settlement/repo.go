package settlement

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/vcledger/pkg/db/models"
	"github.com/angelmondragon/vcledger/pkg/enums"
)

// Repository persists the cart, quote, invoice, payment and receipt records.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	CreateCart(ctx context.Context, cart *models.Cart) error
	CreateItems(ctx context.Context, items []models.CartItem) error
	FindCart(ctx context.Context, tenantID, cartID uuid.UUID) (*models.Cart, error)
	NextPosition(ctx context.Context, cartID uuid.UUID) (int, error)
	TransitionCart(ctx context.Context, tenantID, cartID uuid.UUID, from []enums.CartStatus, version int, updates map[string]any) (bool, error)

	CreateQuote(ctx context.Context, quote *models.Quote) error
	FindQuote(ctx context.Context, tenantID, quoteID uuid.UUID) (*models.Quote, error)

	CreateInvoice(ctx context.Context, invoice *models.Invoice) error
	FindInvoice(ctx context.Context, invoiceID uuid.UUID) (*models.Invoice, error)
	FindInvoiceByCart(ctx context.Context, tenantID, cartID uuid.UUID) (*models.Invoice, error)
	UpdateInvoiceStatus(ctx context.Context, invoiceID uuid.UUID, from, to enums.InvoiceStatus, reason *string) (bool, error)
	ListDueInvoices(ctx context.Context, before time.Time, limit int) ([]models.Invoice, error)
	ListUnsettledInvoices(ctx context.Context, limit int) ([]models.Invoice, error)

	CreatePayment(ctx context.Context, payment *models.Payment) error
	FindPaymentByInvoice(ctx context.Context, invoiceID uuid.UUID) (*models.Payment, error)
	ClaimPayment(ctx context.Context, invoiceID uuid.UUID, to enums.PaymentState, updates map[string]any) (bool, error)

	CreateReceipt(ctx context.Context, receipt *models.Receipt) error
	FindReceiptByInvoice(ctx context.Context, invoiceID uuid.UUID) (*models.Receipt, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a settlement repository bound to db.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) CreateCart(ctx context.Context, cart *models.Cart) error {
	return r.db.WithContext(ctx).Omit("Items").Create(cart).Error
}

func (r *repository) CreateItems(ctx context.Context, items []models.CartItem) error {
	if len(items) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&items).Error
}

func (r *repository) FindCart(ctx context.Context, tenantID, cartID uuid.UUID) (*models.Cart, error) {
	var cart models.Cart
	if err := r.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB {
			return db.Order("position ASC")
		}).
		Where("id = ? AND tenant_id = ?", cartID, tenantID).
		First(&cart).Error; err != nil {
		return nil, err
	}
	return &cart, nil
}

func (r *repository) NextPosition(ctx context.Context, cartID uuid.UUID) (int, error) {
	var items []models.CartItem
	if err := r.db.WithContext(ctx).
		Where("cart_id = ?", cartID).
		Order("position DESC").
		Limit(1).
		Find(&items).Error; err != nil {
		return 0, err
	}
	if len(items) == 0 {
		return 1, nil
	}
	return items[0].Position + 1, nil
}

// TransitionCart applies updates only when the cart is still in one of the
// from states at the given version, bumping the version.
func (r *repository) TransitionCart(ctx context.Context, tenantID, cartID uuid.UUID, from []enums.CartStatus, version int, updates map[string]any) (bool, error) {
	values := map[string]any{"version": gorm.Expr("version + 1")}
	for k, v := range updates {
		values[k] = v
	}
	res := r.db.WithContext(ctx).
		Model(&models.Cart{}).
		Where("id = ? AND tenant_id = ? AND status IN ? AND version = ?", cartID, tenantID, from, version).
		Updates(values)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) CreateQuote(ctx context.Context, quote *models.Quote) error {
	return r.db.WithContext(ctx).Create(quote).Error
}

func (r *repository) FindQuote(ctx context.Context, tenantID, quoteID uuid.UUID) (*models.Quote, error) {
	var quote models.Quote
	if err := r.db.WithContext(ctx).
		Where("id = ? AND tenant_id = ?", quoteID, tenantID).
		First(&quote).Error; err != nil {
		return nil, err
	}
	return &quote, nil
}

func (r *repository) CreateInvoice(ctx context.Context, invoice *models.Invoice) error {
	return r.db.WithContext(ctx).Create(invoice).Error
}

func (r *repository) FindInvoice(ctx context.Context, invoiceID uuid.UUID) (*models.Invoice, error) {
	var invoice models.Invoice
	if err := r.db.WithContext(ctx).Where("id = ?", invoiceID).First(&invoice).Error; err != nil {
		return nil, err
	}
	return &invoice, nil
}

func (r *repository) FindInvoiceByCart(ctx context.Context, tenantID, cartID uuid.UUID) (*models.Invoice, error) {
	var invoice models.Invoice
	if err := r.db.WithContext(ctx).
		Where("cart_id = ? AND tenant_id = ?", cartID, tenantID).
		First(&invoice).Error; err != nil {
		return nil, err
	}
	return &invoice, nil
}

func (r *repository) UpdateInvoiceStatus(ctx context.Context, invoiceID uuid.UUID, from, to enums.InvoiceStatus, reason *string) (bool, error) {
	updates := map[string]any{"status": to}
	if reason != nil {
		updates["failure_reason"] = *reason
	}
	res := r.db.WithContext(ctx).
		Model(&models.Invoice{}).
		Where("id = ? AND status = ?", invoiceID, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) ListDueInvoices(ctx context.Context, before time.Time, limit int) ([]models.Invoice, error) {
	var invoices []models.Invoice
	query := r.db.WithContext(ctx).
		Where("status = ? AND due_date < ?", enums.InvoiceStatusPending, before).
		Order("due_date ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&invoices).Error; err != nil {
		return nil, err
	}
	return invoices, nil
}

// ListUnsettledInvoices returns terminal invoices whose cart has not caught
// up, which is what an interrupted confirmation or failure leaves behind.
func (r *repository) ListUnsettledInvoices(ctx context.Context, limit int) ([]models.Invoice, error) {
	var invoices []models.Invoice
	query := r.db.WithContext(ctx).
		Where("invoices.status <> ?", enums.InvoiceStatusPending).
		Where("EXISTS (SELECT 1 FROM carts c WHERE c.id = invoices.cart_id AND c.status = ?)", enums.CartStatusInvoiced).
		Order("invoices.created_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&invoices).Error; err != nil {
		return nil, err
	}
	return invoices, nil
}

func (r *repository) CreatePayment(ctx context.Context, payment *models.Payment) error {
	return r.db.WithContext(ctx).Create(payment).Error
}

func (r *repository) FindPaymentByInvoice(ctx context.Context, invoiceID uuid.UUID) (*models.Payment, error) {
	var payment models.Payment
	if err := r.db.WithContext(ctx).Where("invoice_id = ?", invoiceID).First(&payment).Error; err != nil {
		return nil, err
	}
	return &payment, nil
}

// ClaimPayment moves a pending payment to a terminal state. It reports false
// when another caller already claimed it.
func (r *repository) ClaimPayment(ctx context.Context, invoiceID uuid.UUID, to enums.PaymentState, updates map[string]any) (bool, error) {
	values := map[string]any{"state": to}
	for k, v := range updates {
		values[k] = v
	}
	res := r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("invoice_id = ? AND state = ?", invoiceID, enums.PaymentStatePending).
		Updates(values)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) CreateReceipt(ctx context.Context, receipt *models.Receipt) error {
	return r.db.WithContext(ctx).Create(receipt).Error
}

func (r *repository) FindReceiptByInvoice(ctx context.Context, invoiceID uuid.UUID) (*models.Receipt, error) {
	var receipt models.Receipt
	if err := r.db.WithContext(ctx).Where("invoice_id = ?", invoiceID).First(&receipt).Error; err != nil {
		return nil, err
	}
	return &receipt, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
