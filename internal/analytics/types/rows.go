package types

import (
	"math/big"
	"time"

	cbigquery "cloud.google.com/go/bigquery"
)

// SettlementEventRow mirrors the settlement_events BigQuery schema. One row is
// written per cart, invoice or receipt transition.
type SettlementEventRow struct {
	EventID       string             `bigquery:"event_id"`
	EventType     string             `bigquery:"event_type"`
	OccurredAt    time.Time          `bigquery:"occurred_at"`
	TenantID      string             `bigquery:"tenant_id"`
	CartID        *string            `bigquery:"cart_id"`
	InvoiceID     *string            `bigquery:"invoice_id"`
	ReceiptID     *string            `bigquery:"receipt_id"`
	Amount        *big.Rat           `bigquery:"amount"`
	Currency      *string            `bigquery:"currency"`
	Status        *string            `bigquery:"status"`
	Reason        *string            `bigquery:"reason"`
	TransactionID *string            `bigquery:"transaction_id"`
	RecordHash    *string            `bigquery:"record_hash"`
	UnitsSold     *int64             `bigquery:"units_sold"`
	Payload       cbigquery.NullJSON `bigquery:"payload"`
}

// ChainAlertRow mirrors the chain_alerts BigQuery schema.
type ChainAlertRow struct {
	EventID       string             `bigquery:"event_id"`
	OccurredAt    time.Time          `bigquery:"occurred_at"`
	TenantID      string             `bigquery:"tenant_id"`
	LedgerEventID string             `bigquery:"ledger_event_id"`
	Sequence      int64              `bigquery:"sequence"`
	ExpectedHash  string             `bigquery:"expected_hash"`
	ActualHash    string             `bigquery:"actual_hash"`
	Reason        string             `bigquery:"reason"`
	DetectedBy    string             `bigquery:"detected_by"`
	DetectedAt    time.Time          `bigquery:"detected_at"`
	Payload       cbigquery.NullJSON `bigquery:"payload"`
}

// Save implements bigquery.ValueSaver. The event ID doubles as the insert ID
// so a redelivered message is deduplicated by the streaming API.
func (r SettlementEventRow) Save() (map[string]cbigquery.Value, string, error) {
	return map[string]cbigquery.Value{
		"event_id":       r.EventID,
		"event_type":     r.EventType,
		"occurred_at":    r.OccurredAt,
		"tenant_id":      r.TenantID,
		"cart_id":        optional(r.CartID),
		"invoice_id":     optional(r.InvoiceID),
		"receipt_id":     optional(r.ReceiptID),
		"amount":         rat(r.Amount),
		"currency":       optional(r.Currency),
		"status":         optional(r.Status),
		"reason":         optional(r.Reason),
		"transaction_id": optional(r.TransactionID),
		"record_hash":    optional(r.RecordHash),
		"units_sold":     optional(r.UnitsSold),
		"payload":        jsonValue(r.Payload),
	}, r.EventID, nil
}

func (r ChainAlertRow) Save() (map[string]cbigquery.Value, string, error) {
	return map[string]cbigquery.Value{
		"event_id":        r.EventID,
		"occurred_at":     r.OccurredAt,
		"tenant_id":       r.TenantID,
		"ledger_event_id": r.LedgerEventID,
		"sequence":        r.Sequence,
		"expected_hash":   r.ExpectedHash,
		"actual_hash":     r.ActualHash,
		"reason":          r.Reason,
		"detected_by":     r.DetectedBy,
		"detected_at":     r.DetectedAt,
		"payload":         jsonValue(r.Payload),
	}, r.EventID, nil
}

// SettlementEventSchema is used to provision settlement_events when missing.
func SettlementEventSchema() cbigquery.Schema {
	return cbigquery.Schema{
		required("event_id", cbigquery.StringFieldType),
		required("event_type", cbigquery.StringFieldType),
		required("occurred_at", cbigquery.TimestampFieldType),
		required("tenant_id", cbigquery.StringFieldType),
		nullable("cart_id", cbigquery.StringFieldType),
		nullable("invoice_id", cbigquery.StringFieldType),
		nullable("receipt_id", cbigquery.StringFieldType),
		nullable("amount", cbigquery.NumericFieldType),
		nullable("currency", cbigquery.StringFieldType),
		nullable("status", cbigquery.StringFieldType),
		nullable("reason", cbigquery.StringFieldType),
		nullable("transaction_id", cbigquery.StringFieldType),
		nullable("record_hash", cbigquery.StringFieldType),
		nullable("units_sold", cbigquery.IntegerFieldType),
		nullable("payload", cbigquery.JSONFieldType),
	}
}

func ChainAlertSchema() cbigquery.Schema {
	return cbigquery.Schema{
		required("event_id", cbigquery.StringFieldType),
		required("occurred_at", cbigquery.TimestampFieldType),
		required("tenant_id", cbigquery.StringFieldType),
		required("ledger_event_id", cbigquery.StringFieldType),
		required("sequence", cbigquery.IntegerFieldType),
		required("expected_hash", cbigquery.StringFieldType),
		required("actual_hash", cbigquery.StringFieldType),
		required("reason", cbigquery.StringFieldType),
		required("detected_by", cbigquery.StringFieldType),
		required("detected_at", cbigquery.TimestampFieldType),
		nullable("payload", cbigquery.JSONFieldType),
	}
}

func required(name string, t cbigquery.FieldType) *cbigquery.FieldSchema {
	return &cbigquery.FieldSchema{Name: name, Type: t, Required: true}
}

func nullable(name string, t cbigquery.FieldType) *cbigquery.FieldSchema {
	return &cbigquery.FieldSchema{Name: name, Type: t}
}

func optional[T any](v *T) cbigquery.Value {
	if v == nil {
		return nil
	}
	return *v
}

func rat(v *big.Rat) cbigquery.Value {
	if v == nil {
		return nil
	}
	return v
}

func jsonValue(v cbigquery.NullJSON) cbigquery.Value {
	if !v.Valid {
		return nil
	}
	return v.JSONVal
}
