package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/angelmondragon/vcledger/internal/analytics/types"
	"github.com/angelmondragon/vcledger/pkg/enums"
	"github.com/angelmondragon/vcledger/pkg/logger"
	"github.com/angelmondragon/vcledger/pkg/outbox/payloads"
)

var ErrUnsupportedEventType = errors.New("unsupported analytics event type")

// Writer delivers BigQuery rows produced by analytics handlers.
type Writer interface {
	InsertSettlementEvent(ctx context.Context, row types.SettlementEventRow) error
	InsertChainAlert(ctx context.Context, row types.ChainAlertRow) error
}

// Handler receives an envelope plus a decoded event payload.
type Handler interface {
	Handle(ctx context.Context, envelope types.Envelope, payload any) error
}

type handlerEntry struct {
	factory func() any
	handler Handler
}

// Router dispatches envelopes to the handler registered for their event type.
type Router struct {
	handlers map[enums.OutboxEventType]handlerEntry
	logg     *logger.Logger
}

// NewRouter wires the default handlers and allows overrides for specific events.
func NewRouter(writer Writer, logg *logger.Logger, overrides map[enums.OutboxEventType]Handler) (*Router, error) {
	if writer == nil {
		return nil, errors.New("writer is required")
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}

	entries := map[enums.OutboxEventType]handlerEntry{
		enums.EventCartInvoiced: {
			factory: func() any { return &payloads.CartInvoicedEvent{} },
			handler: newSettlementHandler(writer, logg, cartInvoicedRow),
		},
		enums.EventInvoicePaid: {
			factory: func() any { return &payloads.InvoicePaidEvent{} },
			handler: newSettlementHandler(writer, logg, invoicePaidRow),
		},
		enums.EventInvoiceFailed: {
			factory: func() any { return &payloads.InvoiceFailedEvent{} },
			handler: newSettlementHandler(writer, logg, invoiceFailedRow),
		},
		enums.EventReceiptIssued: {
			factory: func() any { return &payloads.ReceiptIssuedEvent{} },
			handler: newSettlementHandler(writer, logg, receiptIssuedRow),
		},
		enums.EventCartCancelled: {
			factory: func() any { return &payloads.CartCancelledEvent{} },
			handler: newSettlementHandler(writer, logg, cartCancelledRow),
		},
		enums.EventLedgerChainBroken: {
			factory: func() any { return &payloads.LedgerChainBrokenEvent{} },
			handler: newChainAlertHandler(writer, logg),
		},
	}

	for event, custom := range overrides {
		entry, ok := entries[event]
		if !ok || custom == nil {
			continue
		}
		entry.handler = custom
		entries[event] = entry
	}

	return &Router{
		handlers: entries,
		logg:     logg,
	}, nil
}

// Handle dispatches the incoming envelope to the configured handler.
func (r *Router) Handle(ctx context.Context, envelope types.Envelope) error {
	entry, ok := r.handlers[envelope.EventType]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnsupportedEventType, envelope.EventType)
	}
	payload := entry.factory()
	if len(envelope.Payload) == 0 {
		return fmt.Errorf("empty payload for %s", envelope.EventType)
	}
	if err := json.Unmarshal(envelope.Payload, payload); err != nil {
		return fmt.Errorf("decode %s payload: %w", envelope.EventType, err)
	}

	return entry.handler.Handle(ctx, envelope, payload)
}
