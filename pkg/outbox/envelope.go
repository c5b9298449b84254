package outbox

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ActorRef identifies who produced the event.
type ActorRef struct {
	TenantID uuid.UUID  `json:"tenantId"`
	UserID   *uuid.UUID `json:"userId,omitempty"`
	Role     string     `json:"role,omitempty"`
}

// PayloadEnvelope is what outbox_events.payload holds and what goes over
// Pub/Sub unchanged.
type PayloadEnvelope struct {
	Version    int             `json:"version"`
	EventID    string          `json:"eventId"`
	OccurredAt time.Time       `json:"occurredAt"`
	Actor      *ActorRef       `json:"actor,omitempty"`
	Data       json.RawMessage `json:"data"`
}

var ErrEmptyEventData = errors.New("envelope carries no data")

// DecodeEnvelope parses raw and rejects versions newer than this build
// understands.
func DecodeEnvelope(raw []byte) (PayloadEnvelope, error) {
	var env PayloadEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return PayloadEnvelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Version > envelopeVersion {
		return PayloadEnvelope{}, fmt.Errorf("envelope version %d not supported", env.Version)
	}
	return env, nil
}

// HasData reports whether the envelope carries a non-null payload.
func (e PayloadEnvelope) HasData() bool {
	trimmed := bytes.TrimSpace(e.Data)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}
