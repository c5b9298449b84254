package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"

	"github.com/angelmondragon/vcledger/internal/analytics/router"
	"github.com/angelmondragon/vcledger/internal/analytics/types"
	"github.com/angelmondragon/vcledger/pkg/enums"
	"github.com/angelmondragon/vcledger/pkg/logger"
	"github.com/angelmondragon/vcledger/pkg/outbox"
)

const analyticsConsumerName = "analytics"

// Handler defines how to process analytics envelopes.
type Handler interface {
	Handle(ctx context.Context, envelope types.Envelope) error
}

// HandlerFunc adapts functions to the Handler interface.
type HandlerFunc func(ctx context.Context, envelope types.Envelope) error

// Handle calls the underlying function.
func (fn HandlerFunc) Handle(ctx context.Context, envelope types.Envelope) error {
	if fn == nil {
		return nil
	}
	return fn(ctx, envelope)
}

type idempotencyChecker interface {
	CheckAndMarkProcessed(ctx context.Context, consumer, key string) (bool, error)
	Delete(ctx context.Context, consumer, key string) error
}

// Service consumes outbox events from Pub/Sub and exports them, marking each
// event id in Redis so redeliveries are written once.
type Service struct {
	subscription *gcppubsub.Subscriber
	handler      Handler
	manager      idempotencyChecker
	logg         *logger.Logger
}

// NewService creates a new analytics worker service.
func NewService(subscription *gcppubsub.Subscriber, handler Handler, manager idempotencyChecker, logg *logger.Logger) (*Service, error) {
	if subscription == nil {
		return nil, errors.New("analytics subscription is required")
	}
	if handler == nil {
		return nil, errors.New("analytics handler is required")
	}
	if manager == nil {
		return nil, errors.New("idempotency manager is required")
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}

	return &Service{
		subscription: subscription,
		handler:      handler,
		manager:      manager,
		logg:         logg,
	}, nil
}

type processResult struct {
	nack bool
}

var (
	ack       = processResult{}
	redeliver = processResult{nack: true}
)

// Run consumes messages until the context is canceled. Malformed and
// unexported events are acked; only export failures are redelivered.
func (s *Service) Run(ctx context.Context) error {
	return s.subscription.Receive(ctx, func(msgCtx context.Context, msg *gcppubsub.Message) {
		if s.process(msgCtx, msg).nack {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

func (s *Service) process(ctx context.Context, msg *gcppubsub.Message) processResult {
	envelope, err := buildEnvelope(msg)
	if err != nil {
		s.logg.Warn(s.logg.WithFields(ctx, map[string]any{"message_id": msg.ID, "error": err.Error()}), "invalid analytics envelope")
		return ack
	}
	ctx = s.logg.WithFields(ctx, envelope.LogFields(msg.ID))

	already, err := s.manager.CheckAndMarkProcessed(ctx, analyticsConsumerName, envelope.EventID)
	switch {
	case err != nil:
		s.logg.Error(ctx, "idempotency check failed", err)
		return redeliver
	case already:
		s.logg.Debug(ctx, "event already exported")
		return ack
	}

	err = s.handler.Handle(ctx, *envelope)
	switch {
	case err == nil:
		s.logg.Info(ctx, "analytics event exported")
		return ack
	case errors.Is(err, router.ErrUnsupportedEventType):
		s.logg.Warn(ctx, "event type not exported")
		return ack
	}
	s.logg.Error(ctx, "analytics export failed", err)
	if delErr := s.manager.Delete(ctx, analyticsConsumerName, envelope.EventID); delErr != nil {
		s.logg.Error(ctx, "failed to clear idempotency key", delErr)
	}
	return redeliver
}

// buildEnvelope prefers the stored payload envelope and falls back to message
// attributes for the event id, tenant and timestamp.
func buildEnvelope(msg *gcppubsub.Message) (*types.Envelope, error) {
	stored, err := outbox.DecodeEnvelope(msg.Data)
	if err != nil {
		return nil, err
	}
	attr := func(key string) string { return strings.TrimSpace(msg.Attributes[key]) }

	eventType, err := enums.ParseOutboxEventType(attr("event_type"))
	if err != nil {
		return nil, fmt.Errorf("event_type: %w", err)
	}
	aggregateType, err := enums.ParseOutboxAggregateType(attr("aggregate_type"))
	if err != nil {
		return nil, fmt.Errorf("aggregate_type: %w", err)
	}

	env := &types.Envelope{
		EventID:       firstNonEmpty(stored.EventID, attr("event_id")),
		EventType:     eventType,
		AggregateType: aggregateType,
		AggregateID:   attr("aggregate_id"),
		TenantID:      attr("tenant_id"),
		OccurredAt:    stored.OccurredAt,
		Payload:       stored.Data,
	}
	switch {
	case env.AggregateID == "":
		return nil, errors.New("aggregate_id missing")
	case env.EventID == "":
		return nil, errors.New("event_id missing")
	}
	if env.TenantID == "" && stored.Actor != nil {
		env.TenantID = stored.Actor.TenantID.String()
	}
	if env.OccurredAt.IsZero() {
		if parsed, err := time.Parse(time.RFC3339Nano, attr("created_at")); err == nil {
			env.OccurredAt = parsed
		}
	}
	env.OccurredAt = env.OccurredAt.UTC()
	return env, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
