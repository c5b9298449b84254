package router

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/vcledger/internal/analytics/types"
	"github.com/angelmondragon/vcledger/internal/analytics/writer"
	"github.com/angelmondragon/vcledger/pkg/logger"
	"github.com/angelmondragon/vcledger/pkg/outbox/payloads"
)

type rowBuilder func(envelope types.Envelope, payload any) (types.SettlementEventRow, error)

type settlementHandler struct {
	writer Writer
	logg   *logger.Logger
	build  rowBuilder
}

func newSettlementHandler(w Writer, logg *logger.Logger, build rowBuilder) Handler {
	return &settlementHandler{writer: w, logg: logg, build: build}
}

func (h *settlementHandler) Handle(ctx context.Context, envelope types.Envelope, payload any) error {
	logCtx := h.logg.WithFields(ctx, map[string]any{
		"event_type":   envelope.EventType,
		"aggregate_id": envelope.AggregateID,
	})

	row, err := h.build(envelope, payload)
	if err != nil {
		h.logg.Error(logCtx, "failed to build settlement row", err)
		return err
	}
	if row.Payload, err = writer.EncodeJSON(payload); err != nil {
		return err
	}

	if err := h.writer.InsertSettlementEvent(logCtx, row); err != nil {
		h.logg.Error(logCtx, "failed to insert settlement row", err)
		return err
	}
	return nil
}

func baseRow(envelope types.Envelope, tenantID uuid.UUID) types.SettlementEventRow {
	tenant := envelope.TenantID
	if tenantID != uuid.Nil {
		tenant = tenantID.String()
	}
	return types.SettlementEventRow{
		EventID:    envelope.EventID,
		EventType:  string(envelope.EventType),
		OccurredAt: envelope.OccurredAt.UTC(),
		TenantID:   tenant,
	}
}

func cartInvoicedRow(envelope types.Envelope, payload any) (types.SettlementEventRow, error) {
	event, ok := payload.(*payloads.CartInvoicedEvent)
	if !ok {
		return types.SettlementEventRow{}, fmt.Errorf("invalid payload for %s", envelope.EventType)
	}
	row := baseRow(envelope, event.TenantID)
	row.CartID = uuidPtr(event.CartID)
	row.InvoiceID = uuidPtr(event.InvoiceID)
	row.Amount = event.Amount.Rat()
	row.Currency = strPtr(event.Currency)
	row.Status = strPtr("invoiced")
	row.RecordHash = strPtr(event.InvoiceHash)
	return row, nil
}

func invoicePaidRow(envelope types.Envelope, payload any) (types.SettlementEventRow, error) {
	event, ok := payload.(*payloads.InvoicePaidEvent)
	if !ok {
		return types.SettlementEventRow{}, fmt.Errorf("invalid payload for %s", envelope.EventType)
	}
	row := baseRow(envelope, event.TenantID)
	if !event.PaidAt.IsZero() {
		row.OccurredAt = event.PaidAt.UTC()
	}
	row.CartID = uuidPtr(event.CartID)
	row.InvoiceID = uuidPtr(event.InvoiceID)
	row.Amount = event.Amount.Rat()
	row.Currency = strPtr(event.Currency)
	row.Status = strPtr("paid")
	row.TransactionID = strPtr(event.TransactionID)
	return row, nil
}

func invoiceFailedRow(envelope types.Envelope, payload any) (types.SettlementEventRow, error) {
	event, ok := payload.(*payloads.InvoiceFailedEvent)
	if !ok {
		return types.SettlementEventRow{}, fmt.Errorf("invalid payload for %s", envelope.EventType)
	}
	row := baseRow(envelope, event.TenantID)
	row.CartID = uuidPtr(event.CartID)
	row.InvoiceID = uuidPtr(event.InvoiceID)
	row.Status = strPtr(event.Status)
	row.Reason = strPtr(event.Reason)
	return row, nil
}

func receiptIssuedRow(envelope types.Envelope, payload any) (types.SettlementEventRow, error) {
	event, ok := payload.(*payloads.ReceiptIssuedEvent)
	if !ok {
		return types.SettlementEventRow{}, fmt.Errorf("invalid payload for %s", envelope.EventType)
	}
	row := baseRow(envelope, event.TenantID)
	row.CartID = uuidPtr(event.CartID)
	row.InvoiceID = uuidPtr(event.InvoiceID)
	row.ReceiptID = uuidPtr(event.ReceiptID)
	row.Status = strPtr("receipted")
	row.RecordHash = strPtr(event.ReceiptHash)
	var units int64
	for _, alloc := range event.Allocations {
		units += alloc.Quantity
	}
	row.UnitsSold = &units
	return row, nil
}

func cartCancelledRow(envelope types.Envelope, payload any) (types.SettlementEventRow, error) {
	event, ok := payload.(*payloads.CartCancelledEvent)
	if !ok {
		return types.SettlementEventRow{}, fmt.Errorf("invalid payload for %s", envelope.EventType)
	}
	row := baseRow(envelope, event.TenantID)
	if !event.CancelledAt.IsZero() {
		row.OccurredAt = event.CancelledAt.UTC()
	}
	row.CartID = uuidPtr(event.CartID)
	row.Status = strPtr("cancelled")
	row.Reason = strPtr(event.Reason)
	return row, nil
}

func uuidPtr(id uuid.UUID) *string {
	if id == uuid.Nil {
		return nil
	}
	s := id.String()
	return &s
}

func strPtr(value string) *string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
