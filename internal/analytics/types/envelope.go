package types

import (
	"encoding/json"
	"time"

	"github.com/angelmondragon/vcledger/pkg/enums"
)

// Envelope is an outbox event as delivered over Pub/Sub.
type Envelope struct {
	EventID       string                    `json:"event_id"`
	EventType     enums.OutboxEventType     `json:"event_type"`
	AggregateType enums.OutboxAggregateType `json:"aggregate_type"`
	AggregateID   string                    `json:"aggregate_id"`
	TenantID      string                    `json:"tenant_id,omitempty"`
	OccurredAt    time.Time                 `json:"occurred_at"`
	Payload       json.RawMessage           `json:"payload"`
}

// LogFields is the field set attached to every log line about this event.
func (e Envelope) LogFields(messageID string) map[string]any {
	fields := map[string]any{
		"message_id":     messageID,
		"event_id":       e.EventID,
		"event_type":     e.EventType,
		"aggregate_type": e.AggregateType,
		"aggregate_id":   e.AggregateID,
		"occurred_at":    e.OccurredAt.Format(time.RFC3339Nano),
	}
	if e.TenantID != "" {
		fields["tenant_id"] = e.TenantID
	}
	return fields
}
