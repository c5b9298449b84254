package outbox_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/vcledger/pkg/db/dbtest"
	"github.com/angelmondragon/vcledger/pkg/db/models"
	"github.com/angelmondragon/vcledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/vcledger/pkg/errors"
	"github.com/angelmondragon/vcledger/pkg/outbox"
)

func TestEmitWrapsPayloadInEnvelope(t *testing.T) {
	conn := dbtest.Open(t)
	repo := outbox.NewRepository(conn)
	svc := outbox.NewService(repo, nil)

	tenantID := uuid.New()
	cartID := uuid.New()
	err := conn.Transaction(func(tx *gorm.DB) error {
		return svc.Emit(context.Background(), tx, outbox.DomainEvent{
			EventType:     enums.EventCartCancelled,
			AggregateType: enums.AggregateCart,
			AggregateID:   cartID,
			Actor:         &outbox.ActorRef{TenantID: tenantID, Role: "operator"},
			Data:          map[string]string{"reason": "buyer walked away"},
		})
	})
	require.NoError(t, err)

	var rows []models.OutboxEvent
	require.NoError(t, conn.Find(&rows).Error)
	require.Len(t, rows, 1)
	require.Equal(t, cartID, rows[0].AggregateID)
	require.NotEqual(t, uuid.Nil, rows[0].ID)

	var envelope outbox.PayloadEnvelope
	require.NoError(t, json.Unmarshal(rows[0].Payload, &envelope))
	require.Equal(t, 1, envelope.Version)
	require.Equal(t, rows[0].ID.String(), envelope.EventID)
	require.Equal(t, tenantID, envelope.Actor.TenantID)
	require.JSONEq(t, `{"reason":"buyer walked away"}`, string(envelope.Data))
}

func TestEmitRequiresTransaction(t *testing.T) {
	svc := outbox.NewService(outbox.NewRepository(nil), nil)
	err := svc.Emit(context.Background(), nil, outbox.DomainEvent{})
	require.Error(t, err)
}

func TestEmitRejectsUnknownEventType(t *testing.T) {
	conn := dbtest.Open(t)
	svc := outbox.NewService(outbox.NewRepository(conn), nil)

	err := conn.Transaction(func(tx *gorm.DB) error {
		return svc.Emit(context.Background(), tx, outbox.DomainEvent{
			EventType:     enums.OutboxEventType("stock_counted"),
			AggregateType: enums.AggregateCart,
			AggregateID:   uuid.New(),
		})
	})
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeInternal))
}

func TestEmitIfNotExistsSkipsDuplicates(t *testing.T) {
	conn := dbtest.Open(t)
	repo := outbox.NewRepository(conn)
	svc := outbox.NewService(repo, nil)

	invoiceID := uuid.New()
	event := outbox.DomainEvent{
		EventType:     enums.EventInvoicePaid,
		AggregateType: enums.AggregateInvoice,
		AggregateID:   invoiceID,
		Data:          map[string]string{"transaction_id": "txn-1"},
	}
	for i := 0; i < 3; i++ {
		require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
			return svc.EmitIfNotExists(context.Background(), tx, event)
		}))
	}

	var count int64
	require.NoError(t, conn.Model(&models.OutboxEvent{}).Count(&count).Error)
	require.EqualValues(t, 1, count)

	exists, err := repo.Exists(context.Background(), enums.EventInvoicePaid, enums.AggregateInvoice, invoiceID)
	require.NoError(t, err)
	require.True(t, exists)
}

func TestRepositoryPublishLifecycle(t *testing.T) {
	conn := dbtest.Open(t)
	repo := outbox.NewRepository(conn)
	svc := outbox.NewService(repo, nil)
	ctx := context.Background()

	for _, eventType := range []enums.OutboxEventType{enums.EventCartInvoiced, enums.EventCartCancelled} {
		require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
			return svc.Emit(ctx, tx, outbox.DomainEvent{
				EventType:     eventType,
				AggregateType: enums.AggregateCart,
				AggregateID:   uuid.New(),
				Data:          map[string]int{"n": 1},
			})
		}))
	}

	var pending []models.OutboxEvent
	require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
		rows, err := repo.FetchUnpublishedForPublish(tx, 10, 3)
		pending = rows
		return err
	}))
	require.Len(t, pending, 2)

	require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
		if err := repo.MarkPublishedTx(tx, pending[0].ID); err != nil {
			return err
		}
		return repo.MarkTerminalTx(tx, pending[1].ID, errors.New("unsupported"), 3)
	}))

	require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
		rows, err := repo.FetchUnpublishedForPublish(tx, 10, 3)
		require.Empty(t, rows)
		return err
	}))

	deleted, err := repo.DeletePublishedBefore(ctx, nil, time.Now().UTC().Add(time.Minute), 0)
	require.NoError(t, err)
	require.EqualValues(t, 1, deleted)
}

func TestMarkFailedIncrementsAttempts(t *testing.T) {
	conn := dbtest.Open(t)
	repo := outbox.NewRepository(conn)
	svc := outbox.NewService(repo, nil)
	ctx := context.Background()

	aggregateID := uuid.New()
	require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
		return svc.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventReceiptIssued,
			AggregateType: enums.AggregateReceipt,
			AggregateID:   aggregateID,
			Data:          map[string]int{"n": 1},
		})
	}))

	var row models.OutboxEvent
	require.NoError(t, conn.First(&row).Error)
	require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
		return repo.MarkFailedTx(tx, row.ID, errors.New("publish timeout"))
	}))

	require.NoError(t, conn.First(&row, "id = ?", row.ID).Error)
	require.Equal(t, 1, row.AttemptCount)
	require.NotNil(t, row.LastError)
	require.Equal(t, "publish timeout", *row.LastError)
}

func TestDLQRepositoryTruncatesMessages(t *testing.T) {
	conn := dbtest.Open(t)
	dlq := outbox.NewDLQRepository(conn)

	long := make([]byte, 2048)
	for i := range long {
		long[i] = 'x'
	}
	msg := string(long)
	eventID := uuid.New()
	require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
		return dlq.InsertTx(tx, models.OutboxDLQ{
			EventID:       eventID,
			EventType:     enums.EventLedgerChainBroken,
			AggregateType: enums.AggregateLedgerChain,
			AggregateID:   uuid.New(),
			Payload:       json.RawMessage(`{}`),
			ErrorReason:   enums.OutboxDLQReasonNonRetryable,
			ErrorMessage:  &msg,
			AttemptCount:  1,
		})
	}))

	row, err := dlq.FindByEventID(context.Background(), eventID)
	require.NoError(t, err)
	require.NotNil(t, row)
	require.Len(t, *row.ErrorMessage, 1024)

	rows, err := dlq.List(context.Background(), outbox.DLQFilter{})
	require.NoError(t, err)
	require.Len(t, rows, 1)

	rows, err = dlq.List(context.Background(), outbox.DLQFilter{Reason: enums.OutboxDLQReasonMaxAttempts})
	require.NoError(t, err)
	require.Empty(t, rows)
}

func TestDLQRequeueResetsAttemptBudget(t *testing.T) {
	conn := dbtest.Open(t)
	repo := outbox.NewRepository(conn)
	dlq := outbox.NewDLQRepository(conn)
	svc := outbox.NewService(repo, nil)
	ctx := context.Background()

	require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
		return svc.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventInvoiceFailed,
			AggregateType: enums.AggregateInvoice,
			AggregateID:   uuid.New(),
			Data:          map[string]string{"reason": "gateway reported expired"},
		})
	}))
	var event models.OutboxEvent
	require.NoError(t, conn.First(&event).Error)

	msg := "topic missing"
	require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
		if err := dlq.InsertTx(tx, models.OutboxDLQ{
			EventID:       event.ID,
			EventType:     event.EventType,
			AggregateType: event.AggregateType,
			AggregateID:   event.AggregateID,
			Payload:       event.Payload,
			ErrorReason:   enums.OutboxDLQReasonUnroutable,
			ErrorMessage:  &msg,
		}); err != nil {
			return err
		}
		return repo.MarkTerminalTx(tx, event.ID, errors.New(msg), 5)
	}))

	entry, err := dlq.Requeue(ctx, event.ID)
	require.NoError(t, err)
	require.Equal(t, enums.OutboxDLQReasonUnroutable, entry.ErrorReason)

	require.NoError(t, conn.First(&event, "id = ?", event.ID).Error)
	require.Zero(t, event.AttemptCount)
	require.Nil(t, event.LastError)
	gone, err := dlq.FindByEventID(ctx, event.ID)
	require.NoError(t, err)
	require.Nil(t, gone)

	require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
		rows, err := repo.FetchUnpublishedForPublish(tx, 10, 5)
		require.Len(t, rows, 1)
		return err
	}))

	_, err = dlq.Requeue(ctx, event.ID)
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeNotFound))
}

func TestDLQRequeueRejectsPublishedEvent(t *testing.T) {
	conn := dbtest.Open(t)
	repo := outbox.NewRepository(conn)
	dlq := outbox.NewDLQRepository(conn)
	eventID := uuid.New()

	require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
		if err := repo.Insert(tx, models.OutboxEvent{
			ID:            eventID,
			EventType:     enums.EventReceiptIssued,
			AggregateType: enums.AggregateReceipt,
			AggregateID:   uuid.New(),
			Payload:       json.RawMessage(`{}`),
		}); err != nil {
			return err
		}
		if err := repo.MarkPublishedTx(tx, eventID); err != nil {
			return err
		}
		return dlq.InsertTx(tx, models.OutboxDLQ{
			EventID:       eventID,
			EventType:     enums.EventReceiptIssued,
			AggregateType: enums.AggregateReceipt,
			AggregateID:   uuid.New(),
			Payload:       json.RawMessage(`{}`),
			ErrorReason:   enums.OutboxDLQReasonMaxAttempts,
		})
	}))

	_, err := dlq.Requeue(context.Background(), eventID)
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeStateConflict))
}

func TestDeletePublishedBeforeHonoursLimit(t *testing.T) {
	conn := dbtest.Open(t)
	repo := outbox.NewRepository(conn)
	svc := outbox.NewService(repo, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
			return svc.Emit(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventReceiptIssued,
				AggregateType: enums.AggregateReceipt,
				AggregateID:   uuid.New(),
			})
		}))
	}
	require.NoError(t, conn.Model(&models.OutboxEvent{}).Where("1 = 1").Update("published_at", time.Now().UTC().Add(-time.Hour)).Error)

	deleted, err := repo.DeletePublishedBefore(ctx, nil, time.Now().UTC(), 2)
	require.NoError(t, err)
	require.EqualValues(t, 2, deleted)

	var left int64
	require.NoError(t, conn.Model(&models.OutboxEvent{}).Count(&left).Error)
	require.EqualValues(t, 1, left)
}

func TestDecodeEnvelope(t *testing.T) {
	env, err := outbox.DecodeEnvelope([]byte(`{"version":1,"eventId":"e1","data":{"a":1}}`))
	require.NoError(t, err)
	require.Equal(t, "e1", env.EventID)
	require.True(t, env.HasData())

	env, err = outbox.DecodeEnvelope([]byte(`{"version":1,"eventId":"e2","data":null}`))
	require.NoError(t, err)
	require.False(t, env.HasData())

	_, err = outbox.DecodeEnvelope([]byte(`{"version":2,"eventId":"e3","data":{}}`))
	require.Error(t, err)

	_, err = outbox.DecodeEnvelope([]byte(`not json`))
	require.Error(t, err)
}
