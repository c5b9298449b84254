package enums

import "fmt"

// OutboxAggregateType maps to the aggregate_type column of outbox_events.
type OutboxAggregateType string

const (
	AggregateCart        OutboxAggregateType = "cart"
	AggregateInvoice     OutboxAggregateType = "invoice"
	AggregateReceipt     OutboxAggregateType = "receipt"
	AggregateLedgerChain OutboxAggregateType = "ledger_chain"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateCart,
	AggregateInvoice,
	AggregateReceipt,
	AggregateLedgerChain,
}

// IsValid reports whether the value matches a known aggregate type.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType maps to the event_type column of outbox_events.
type OutboxEventType string

const (
	EventCartInvoiced      OutboxEventType = "cart_invoiced"
	EventInvoicePaid       OutboxEventType = "invoice_paid"
	EventInvoiceFailed     OutboxEventType = "invoice_failed"
	EventReceiptIssued     OutboxEventType = "receipt_issued"
	EventCartCancelled     OutboxEventType = "cart_cancelled"
	EventLedgerChainBroken OutboxEventType = "ledger_chain_broken"
)

var validOutboxEventTypes = []OutboxEventType{
	EventCartInvoiced,
	EventInvoicePaid,
	EventInvoiceFailed,
	EventReceiptIssued,
	EventCartCancelled,
	EventLedgerChainBroken,
}

// IsValid reports whether the value matches a known event type.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}
