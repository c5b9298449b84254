package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/google/uuid"

	"github.com/angelmondragon/vcledger/pkg/config"
	"github.com/angelmondragon/vcledger/pkg/db/models"
	"github.com/angelmondragon/vcledger/pkg/enums"
	"github.com/angelmondragon/vcledger/pkg/outbox"
	"github.com/angelmondragon/vcledger/pkg/outbox/payloads"
)

// EventDescriptor routes one event type to its topic and payload schema.
type EventDescriptor struct {
	EventType      enums.OutboxEventType
	AggregateType  enums.OutboxAggregateType
	Topic          string
	PayloadFactory func() any
}

// ResolvedEvent is an outbox row with its envelope and typed payload decoded.
type ResolvedEvent struct {
	Descriptor EventDescriptor
	Envelope   outbox.PayloadEnvelope
	Payload    any
}

// NonRetryableError marks a row that can never publish as-is.
type NonRetryableError struct {
	Err error
}

func (e NonRetryableError) Error() string {
	if e.Err == nil {
		return "non-retryable error"
	}
	return e.Err.Error()
}

func (e NonRetryableError) Unwrap() error { return e.Err }

func NewNonRetryableError(err error) NonRetryableError {
	return NonRetryableError{Err: err}
}

func permanent(format string, args ...any) error {
	return NewNonRetryableError(fmt.Errorf(format, args...))
}

func payloadOf[T any]() func() any {
	return func() any { return new(T) }
}

type EventRegistry struct {
	entries map[enums.OutboxEventType]EventDescriptor
}

// NewEventRegistry routes settlement lifecycle events to the settlement
// topic and chain alerts to the ledger topic.
func NewEventRegistry(cfg config.PubSubConfig) (*EventRegistry, error) {
	switch {
	case cfg.SettlementTopic == "":
		return nil, errors.New("settlement topic is required")
	case cfg.LedgerTopic == "":
		return nil, errors.New("ledger topic is required")
	}
	settlement, ledger := cfg.SettlementTopic, cfg.LedgerTopic

	reg := &EventRegistry{entries: map[enums.OutboxEventType]EventDescriptor{}}
	for _, desc := range []EventDescriptor{
		{enums.EventCartInvoiced, enums.AggregateCart, settlement, payloadOf[payloads.CartInvoicedEvent]()},
		{enums.EventCartCancelled, enums.AggregateCart, settlement, payloadOf[payloads.CartCancelledEvent]()},
		{enums.EventInvoicePaid, enums.AggregateInvoice, settlement, payloadOf[payloads.InvoicePaidEvent]()},
		{enums.EventInvoiceFailed, enums.AggregateInvoice, settlement, payloadOf[payloads.InvoiceFailedEvent]()},
		{enums.EventReceiptIssued, enums.AggregateReceipt, settlement, payloadOf[payloads.ReceiptIssuedEvent]()},
		{enums.EventLedgerChainBroken, enums.AggregateLedgerChain, ledger, payloadOf[payloads.LedgerChainBrokenEvent]()},
	} {
		reg.entries[desc.EventType] = desc
	}
	return reg, nil
}

// Topics lists the distinct topics in sorted order.
func (r *EventRegistry) Topics() []string {
	var out []string
	for _, desc := range r.entries {
		if !slices.Contains(out, desc.Topic) {
			out = append(out, desc.Topic)
		}
	}
	slices.Sort(out)
	return out
}

// Resolve validates the row against its descriptor and decodes the payload.
// Every failure is permanent: retrying the same bytes cannot succeed.
func (r *EventRegistry) Resolve(event models.OutboxEvent) (*ResolvedEvent, error) {
	desc, ok := r.entries[event.EventType]
	switch {
	case !ok:
		return nil, permanent("unsupported event type %s", event.EventType)
	case desc.AggregateType != event.AggregateType:
		return nil, permanent("aggregate mismatch: expected %s got %s", desc.AggregateType, event.AggregateType)
	case event.AggregateID == uuid.Nil:
		return nil, permanent("missing aggregate_id")
	}

	envelope, err := outbox.DecodeEnvelope(event.Payload)
	if err != nil {
		return nil, NewNonRetryableError(err)
	}
	if !envelope.HasData() {
		return nil, permanent("payload missing for %s: %w", event.EventType, outbox.ErrEmptyEventData)
	}
	payload := desc.PayloadFactory()
	if err := json.Unmarshal(envelope.Data, payload); err != nil {
		return nil, permanent("decode %s payload: %w", event.EventType, err)
	}
	return &ResolvedEvent{Descriptor: desc, Envelope: envelope, Payload: payload}, nil
}
