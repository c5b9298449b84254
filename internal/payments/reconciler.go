package payments

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/vcledger/internal/settlement"
	"github.com/angelmondragon/vcledger/pkg/db/models"
	"github.com/angelmondragon/vcledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/vcledger/pkg/errors"
	"github.com/angelmondragon/vcledger/pkg/logger"
)

const (
	provider = "ecocash"
	consumer = "ecocash-webhook"
)

// Outcome labels what a delivery did. They double as metric labels.
type Outcome string

const (
	OutcomeConfirmed Outcome = "confirmed"
	OutcomeFailed    Outcome = "failed"
	OutcomePending   Outcome = "pending"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeIgnored   Outcome = "ignored"
	OutcomeConflict  Outcome = "conflict"
	OutcomeError     Outcome = "error"
)

// WebhookPayload is the gateway callback body.
type WebhookPayload struct {
	PaymentRequestID string           `json:"paymentRequestId" validate:"omitempty,max=128"`
	SourceReference  string           `json:"sourceReference" validate:"required,max=64"`
	Status           string           `json:"status" validate:"required"`
	TransactionID    string           `json:"transactionId" validate:"omitempty,max=128"`
	Amount           *decimal.Decimal `json:"amount,omitempty"`
	Currency         string           `json:"currency" validate:"omitempty,oneof=USD ZWG usd zwg"`
	Reason           string           `json:"reason,omitempty" validate:"omitempty,max=256"`
}

// deliveryKey identifies an exact replay of the same gateway result.
func (p WebhookPayload) deliveryKey(status enums.GatewayStatus) string {
	return strings.Join([]string{strings.TrimSpace(p.SourceReference), strings.TrimSpace(p.TransactionID), string(status)}, ":")
}

type Result struct {
	Outcome   Outcome    `json:"outcome"`
	InvoiceID *uuid.UUID `json:"invoiceId,omitempty"`
	ReceiptID *uuid.UUID `json:"receiptId,omitempty"`
}

type settlementService interface {
	FindInvoice(ctx context.Context, invoiceID uuid.UUID) (*models.Invoice, *models.Payment, error)
	ConfirmPayment(ctx context.Context, outcome settlement.PaymentOutcome) (*settlement.ConfirmResult, error)
	FailPayment(ctx context.Context, outcome settlement.PaymentOutcome) (*models.Invoice, error)
}

type deliveryGuard interface {
	CheckAndMarkProcessed(ctx context.Context, consumer, key string) (bool, error)
	Delete(ctx context.Context, consumer, key string) error
}

type outcomeMetrics interface {
	IncOutcome(provider, outcome string)
}

type ReconcilerParams struct {
	Settlement settlementService
	Guard      deliveryGuard
	Metrics    outcomeMetrics
	Logger     *logger.Logger
}

// Reconciler matches gateway webhooks to invoices and drives settlement.
type Reconciler struct {
	settlement settlementService
	guard      deliveryGuard
	metrics    outcomeMetrics
	logg       *logger.Logger
	validate   *validator.Validate
}

func NewReconciler(params ReconcilerParams) (*Reconciler, error) {
	if params.Settlement == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "settlement service required")
	}
	if params.Guard == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "idempotency guard required")
	}
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "" {
			return f.Name
		}
		return name
	})
	return &Reconciler{
		settlement: params.Settlement,
		guard:      params.Guard,
		metrics:    params.Metrics,
		logg:       params.Logger,
		validate:   v,
	}, nil
}

// HandleWebhook applies one delivery. Unknown references and replays are
// reported through the outcome, not as errors. Failed, ignored and pending
// deliveries clear their guard so the gateway retry is processed again.
func (r *Reconciler) HandleWebhook(ctx context.Context, payload WebhookPayload) (*Result, error) {
	if err := r.validate.Struct(payload); err != nil {
		r.count(OutcomeError)
		return nil, validationError(err)
	}
	status, err := enums.ParseGatewayStatus(strings.ToUpper(strings.TrimSpace(payload.Status)))
	if err != nil {
		r.count(OutcomeError)
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown payment status").
			WithDetails(map[string]string{"status": payload.Status})
	}

	if r.logg != nil {
		ctx = r.logg.WithFields(ctx, map[string]any{
			"source_reference":   payload.SourceReference,
			"payment_request_id": payload.PaymentRequestID,
			"gateway_status":     status,
		})
	}

	key := payload.deliveryKey(status)
	already, err := r.guard.CheckAndMarkProcessed(ctx, consumer, key)
	if err != nil {
		r.count(OutcomeError)
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check webhook idempotency")
	}
	if already {
		r.count(OutcomeDuplicate)
		return &Result{Outcome: OutcomeDuplicate}, nil
	}

	result, err := r.apply(ctx, payload, status)
	if err != nil {
		r.release(ctx, key)
		r.count(OutcomeError)
		return nil, err
	}
	// Only outcomes resolved against a stored invoice keep the marker. The
	// invoice may not be committed yet when the gateway calls back early.
	if result.Outcome == OutcomeIgnored || result.Outcome == OutcomePending {
		r.release(ctx, key)
	}
	r.count(result.Outcome)
	if r.logg != nil {
		r.logg.Info(r.logg.WithField(ctx, "outcome", result.Outcome), "payment webhook processed")
	}
	return result, nil
}

func (r *Reconciler) apply(ctx context.Context, payload WebhookPayload, status enums.GatewayStatus) (*Result, error) {
	invoiceID, err := uuid.Parse(strings.TrimSpace(payload.SourceReference))
	if err != nil {
		r.warn(ctx, "webhook source reference is not an invoice id")
		return &Result{Outcome: OutcomeIgnored}, nil
	}
	invoice, payment, err := r.settlement.FindInvoice(ctx, invoiceID)
	if pkgerrors.Is(err, pkgerrors.CodeNotFound) {
		r.warn(ctx, "webhook for unknown invoice ignored")
		return &Result{Outcome: OutcomeIgnored}, nil
	}
	if err != nil {
		return nil, err
	}
	if r.logg != nil {
		ctx = r.logg.WithCartID(r.logg.WithTenantID(ctx, invoice.TenantID.String()), invoice.CartID.String())
	}

	outcome := settlement.PaymentOutcome{
		InvoiceID:        invoice.ID,
		PaymentRequestID: strings.TrimSpace(payload.PaymentRequestID),
		TransactionID:    strings.TrimSpace(payload.TransactionID),
		Amount:           payload.Amount,
		Currency:         strings.ToUpper(strings.TrimSpace(payload.Currency)),
		Reason:           strings.TrimSpace(payload.Reason),
	}
	res := &Result{InvoiceID: &invoice.ID}

	switch {
	case status == enums.GatewayStatusPending:
		res.Outcome = OutcomePending
		return res, nil

	case status == enums.GatewayStatusSuccess:
		if invoice.Status == enums.InvoiceStatusFailed || invoice.Status == enums.InvoiceStatusExpired {
			if r.logg != nil {
				r.logg.Error(ctx, "payment succeeded for a closed invoice", fmt.Errorf("invoice %s is %s", invoice.ID, invoice.Status))
			}
			res.Outcome = OutcomeConflict
			return res, nil
		}
		confirmed, err := r.settlement.ConfirmPayment(ctx, outcome)
		if err != nil {
			return nil, err
		}
		res.Outcome = OutcomeConfirmed
		if confirmed.AlreadySettled {
			res.Outcome = OutcomeDuplicate
		}
		if confirmed.Receipt != nil {
			res.ReceiptID = &confirmed.Receipt.ID
		}
		return res, nil

	case status.IsFailure():
		if payment.State == enums.PaymentStateSucceeded {
			r.warn(ctx, "failure webhook after successful payment ignored")
			res.Outcome = OutcomeConflict
			return res, nil
		}
		if payment.State.IsTerminal() {
			res.Outcome = OutcomeDuplicate
			return res, nil
		}
		if outcome.Reason == "" {
			outcome.Reason = "gateway reported " + strings.ToLower(string(status))
		}
		if _, err := r.settlement.FailPayment(ctx, outcome); err != nil {
			return nil, err
		}
		res.Outcome = OutcomeFailed
		return res, nil
	}
	return nil, pkgerrors.New(pkgerrors.CodeValidation, "unsupported payment status")
}

func (r *Reconciler) count(outcome Outcome) {
	if r.metrics != nil {
		r.metrics.IncOutcome(provider, string(outcome))
	}
}

func (r *Reconciler) release(ctx context.Context, key string) {
	if err := r.guard.Delete(ctx, consumer, key); err != nil && r.logg != nil {
		r.logg.Error(ctx, "failed to clear webhook idempotency key", err)
	}
}

func (r *Reconciler) warn(ctx context.Context, msg string) {
	if r.logg != nil {
		r.logg.Warn(ctx, msg)
	}
}

func validationError(err error) error {
	errs, ok := err.(validator.ValidationErrors)
	if !ok {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid webhook payload")
	}
	details := map[string]string{}
	for _, fe := range errs {
		details[fe.Field()] = fe.Tag()
	}
	return pkgerrors.New(pkgerrors.CodeValidation, "invalid webhook payload").WithDetails(details)
}
