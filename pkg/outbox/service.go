package outbox

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	dbpkg "github.com/angelmondragon/vcledger/pkg/db"
	"github.com/angelmondragon/vcledger/pkg/db/models"
	"github.com/angelmondragon/vcledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/vcledger/pkg/errors"
	"github.com/angelmondragon/vcledger/pkg/logger"
)

const envelopeVersion = 1

// DomainEvent is what domain services hand to Emit. Data is marshalled into
// the envelope as-is.
type DomainEvent struct {
	EventType     enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	AggregateID   uuid.UUID
	Actor         *ActorRef
	Data          any
	Version       int
	OccurredAt    time.Time
}

type Service struct {
	repo *Repository
	logg *logger.Logger
	now  func() time.Time
}

func NewService(repo *Repository, logg *logger.Logger) *Service {
	return &Service{repo: repo, logg: logg, now: func() time.Time { return time.Now().UTC() }}
}

// Emit queues event inside tx. The row id is reused as the envelope event id
// so consumers, the DLQ and analytics all key on the same value.
func (s *Service) Emit(ctx context.Context, tx *gorm.DB, event DomainEvent) error {
	if tx == nil {
		return pkgerrors.New(pkgerrors.CodeInternal, "outbox emit requires a transaction")
	}
	if !event.EventType.IsValid() || !event.AggregateType.IsValid() {
		return pkgerrors.New(pkgerrors.CodeInternal, "unknown outbox event or aggregate type").
			WithDetails(map[string]any{"event_type": event.EventType, "aggregate_type": event.AggregateType})
	}

	row, err := s.build(event)
	if err != nil {
		return err
	}
	if err := s.repo.Insert(tx, row); err != nil {
		return err
	}
	if s.logg != nil {
		s.logg.Debug(s.logg.WithFields(ctx, map[string]any{
			"event_id":       row.ID.String(),
			"event_type":     row.EventType,
			"aggregate_type": row.AggregateType,
			"aggregate_id":   row.AggregateID.String(),
		}), "outbox event queued")
	}
	return nil
}

func (s *Service) build(event DomainEvent) (models.OutboxEvent, error) {
	data, err := json.Marshal(event.Data)
	if err != nil {
		return models.OutboxEvent{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "marshal outbox data")
	}
	now := s.now()
	occurredAt := event.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = now
	}
	version := event.Version
	if version == 0 {
		version = envelopeVersion
	}

	id := uuid.New()
	payload, err := json.Marshal(PayloadEnvelope{
		Version:    version,
		EventID:    id.String(),
		OccurredAt: occurredAt.UTC(),
		Actor:      event.Actor,
		Data:       data,
	})
	if err != nil {
		return models.OutboxEvent{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "marshal outbox envelope")
	}
	return models.OutboxEvent{
		ID:            id,
		EventType:     event.EventType,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		Payload:       json.RawMessage(payload),
		CreatedAt:     now,
	}, nil
}

// EmitIfNotExists queues the event unless one with the same type and
// aggregate is already present, including a concurrent insert that wins the
// unique index.
func (s *Service) EmitIfNotExists(ctx context.Context, tx *gorm.DB, event DomainEvent) error {
	if tx == nil {
		return pkgerrors.New(pkgerrors.CodeInternal, "outbox emit requires a transaction")
	}
	exists, err := s.repo.ExistsTx(tx, event.EventType, event.AggregateType, event.AggregateID)
	if err != nil || exists {
		return err
	}
	err = s.Emit(ctx, tx, event)
	if dbpkg.IsUniqueViolation(err, "ux_outbox_events_event_aggregate") || dbpkg.IsUniqueViolation(err, "outbox_events.event_type") {
		return nil
	}
	return err
}
