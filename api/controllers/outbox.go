package controllers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/vcledger/api/responses"
	"github.com/angelmondragon/vcledger/api/validators"
	"github.com/angelmondragon/vcledger/pkg/db/models"
	"github.com/angelmondragon/vcledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/vcledger/pkg/errors"
	"github.com/angelmondragon/vcledger/pkg/logger"
	"github.com/angelmondragon/vcledger/pkg/outbox"
)

// DeadLetters is the admin surface over the outbox DLQ.
type DeadLetters interface {
	List(ctx context.Context, filter outbox.DLQFilter) ([]models.OutboxDLQ, error)
	Requeue(ctx context.Context, eventID uuid.UUID) (*models.OutboxDLQ, error)
}

type deadLetterView struct {
	EventID       uuid.UUID                  `json:"eventId"`
	EventType     enums.OutboxEventType      `json:"eventType"`
	AggregateType enums.OutboxAggregateType  `json:"aggregateType"`
	AggregateID   uuid.UUID                  `json:"aggregateId"`
	Reason        enums.OutboxDLQErrorReason `json:"reason"`
	Error         *string                    `json:"error,omitempty"`
	AttemptCount  int                        `json:"attemptCount"`
	FailedAt      time.Time                  `json:"failedAt"`
}

func newDeadLetterView(d models.OutboxDLQ) deadLetterView {
	return deadLetterView{
		EventID:       d.EventID,
		EventType:     d.EventType,
		AggregateType: d.AggregateType,
		AggregateID:   d.AggregateID,
		Reason:        d.ErrorReason,
		Error:         d.ErrorMessage,
		AttemptCount:  d.AttemptCount,
		FailedAt:      d.FailedAt,
	}
}

// ListDeadLetters supports ?reason=, ?eventType= and ?limit=.
func ListDeadLetters(store DeadLetters, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if store == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "dead letter store unavailable"))
			return
		}
		filter := outbox.DLQFilter{}
		if raw := strings.TrimSpace(r.URL.Query().Get("reason")); raw != "" {
			reason, err := enums.ParseOutboxDLQErrorReason(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid reason"))
				return
			}
			filter.Reason = reason
		}
		if raw := strings.TrimSpace(r.URL.Query().Get("eventType")); raw != "" {
			eventType, err := enums.ParseOutboxEventType(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid event type"))
				return
			}
			filter.EventType = eventType
		}
		limit, err := validators.ParseQueryInt(r, "limit", 50, 1, 500)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		filter.Limit = limit

		rows, err := store.List(r.Context(), filter)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		views := make([]deadLetterView, 0, len(rows))
		for _, row := range rows {
			views = append(views, newDeadLetterView(row))
		}
		responses.WriteSuccess(w, views)
	}
}

func RequeueDeadLetter(store DeadLetters, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if store == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "dead letter store unavailable"))
			return
		}
		eventID, err := validators.ParseUUIDParam(r, "eventId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		entry, err := store.Requeue(r.Context(), eventID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if logg != nil {
			logg.Info(logg.WithFields(r.Context(), map[string]any{
				"event_id":   entry.EventID,
				"event_type": entry.EventType,
				"dlq_reason": entry.ErrorReason,
			}), "dead letter requeued")
		}
		responses.WriteSuccess(w, newDeadLetterView(*entry))
	}
}
