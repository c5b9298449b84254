package reservation

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/vcledger/internal/ledger"
	"github.com/angelmondragon/vcledger/internal/stock"
	"github.com/angelmondragon/vcledger/pkg/db"
	"github.com/angelmondragon/vcledger/pkg/db/dbtest"
	"github.com/angelmondragon/vcledger/pkg/db/models"
	"github.com/angelmondragon/vcledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/vcledger/pkg/errors"
	"github.com/angelmondragon/vcledger/pkg/outbox"
)

type countingMetrics struct {
	rejected map[string]int
}

func (c *countingMetrics) IncReservationRejected(reason string) {
	c.rejected[reason]++
}

type engineFixture struct {
	conn      *gorm.DB
	ledger    ledger.Service
	projector *stock.Projector
	engine    Engine
	metrics   *countingMetrics
	now       time.Time
	tenantID  uuid.UUID
	location  uuid.UUID
	actorID   uuid.UUID
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	f := &engineFixture{
		conn:     dbtest.Open(t),
		metrics:  &countingMetrics{rejected: map[string]int{}},
		now:      time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		tenantID: uuid.New(),
		actorID:  uuid.New(),
	}
	clock := func() time.Time { return f.now }

	led, err := ledger.NewService(ledger.ServiceParams{
		DB:     db.Wrap(f.conn),
		Repo:   ledger.NewRepository(f.conn),
		Outbox: outbox.NewService(outbox.NewRepository(f.conn), nil),
		Clock:  clock,
	})
	require.NoError(t, err)
	f.ledger = led

	f.projector, err = stock.NewProjector(f.conn, nil, nil)
	require.NoError(t, err)

	f.engine, err = NewEngine(EngineParams{
		DB:      f.conn,
		Ledger:  led,
		Stock:   f.projector,
		Metrics: f.metrics,
		Clock:   clock,
	})
	require.NoError(t, err)

	loc := models.InventoryLocation{ID: uuid.New(), TenantID: f.tenantID, Name: "Main", Type: enums.LocationTypeWarehouse, Status: enums.LocationStatusActive}
	require.NoError(t, f.conn.Create(&loc).Error)
	f.location = loc.ID
	return f
}

func (f *engineFixture) receive(t *testing.T, qty int64, lotNumber string) *uuid.UUID {
	t.Helper()
	ev := ledger.NewEvent{
		TenantID:      f.tenantID,
		CatalogItemID: "SKU1",
		LocationID:    f.location,
		Type:          enums.InventoryEventReceipt,
		Quantity:      qty,
		ActorID:       f.actorID,
	}
	var lotID *uuid.UUID
	if lotNumber != "" {
		lot := models.InventoryLot{
			ID:            uuid.New(),
			TenantID:      f.tenantID,
			CatalogItemID: "SKU1",
			LocationID:    f.location,
			LotNumber:     &lotNumber,
			CreatedAt:     f.now,
		}
		require.NoError(t, f.conn.Create(&lot).Error)
		lotID = &lot.ID
		ev.LotID = lotID
	}
	_, err := f.ledger.Append(context.Background(), ev)
	require.NoError(t, err)
	return lotID
}

func (f *engineFixture) level(t *testing.T) *stock.StockLevel {
	t.Helper()
	level, err := f.projector.Project(context.Background(), f.tenantID, "SKU1", f.location)
	require.NoError(t, err)
	return level
}

func TestReserveAdmitsAndRejectsPerLine(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	f.receive(t, 5, "")
	cartID := uuid.New()

	res, err := f.engine.Reserve(ctx, f.tenantID, cartID, []Item{
		{CatalogItemID: "SKU1", LocationID: f.location, Quantity: 3},
		{CatalogItemID: "SKU1", LocationID: f.location, Quantity: 3},
		{CatalogItemID: "SKU9", LocationID: f.location, Quantity: 1},
	}, f.actorID)
	require.NoError(t, err)
	require.Len(t, res.Events, 1)
	require.Len(t, res.Lines, 3)
	require.True(t, res.Lines[0].Reserved)
	require.False(t, res.Lines[1].Reserved)
	require.Equal(t, ReasonInsufficientStock, res.Lines[1].Reason)
	require.Equal(t, int64(2), res.Lines[1].Available)
	require.Len(t, res.Rejected(), 2)
	require.Equal(t, 2, f.metrics.rejected[ReasonInsufficientStock])

	level := f.level(t)
	require.Equal(t, int64(5), level.OnHand)
	require.Equal(t, int64(3), level.Reserved)
	require.Equal(t, int64(2), level.Available)
}

func TestReserveValidatesInput(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	_, err := f.engine.Reserve(ctx, f.tenantID, uuid.New(), nil, f.actorID)
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))

	_, err = f.engine.Reserve(ctx, f.tenantID, uuid.New(), []Item{{CatalogItemID: "SKU1", LocationID: f.location, Quantity: 0}}, f.actorID)
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))
}

func TestReleaseReturnsOutstanding(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	f.receive(t, 4, "")
	cartID := uuid.New()

	_, err := f.engine.Reserve(ctx, f.tenantID, cartID, []Item{{CatalogItemID: "SKU1", LocationID: f.location, Quantity: 4}}, f.actorID)
	require.NoError(t, err)
	require.Equal(t, int64(0), f.level(t).Available)

	events, err := f.engine.Release(ctx, f.tenantID, cartID, f.actorID, "cancelled")
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, int64(4), events[0].Quantity)
	require.Equal(t, int64(4), f.level(t).Available)

	events, err = f.engine.Release(ctx, f.tenantID, cartID, f.actorID, "cancelled")
	require.NoError(t, err)
	require.Empty(t, events)
}

func TestFulfillAllocatesFIFOAndIsIdempotent(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	older := f.receive(t, 2, "L-OLD")
	f.now = f.now.Add(time.Minute)
	newer := f.receive(t, 5, "L-NEW")
	cartID := uuid.New()
	receiptID := uuid.New()

	_, err := f.engine.Reserve(ctx, f.tenantID, cartID, []Item{{CatalogItemID: "SKU1", LocationID: f.location, Quantity: 3}}, f.actorID)
	require.NoError(t, err)
	before := f.level(t)

	first, err := f.engine.Fulfill(ctx, f.tenantID, cartID, receiptID, f.actorID)
	require.NoError(t, err)
	require.False(t, first.AlreadyFulfilled)
	require.Len(t, first.Allocations, 2)
	require.Equal(t, *older, *first.Allocations[0].LotID)
	require.Equal(t, int64(2), first.Allocations[0].Quantity)
	require.Equal(t, *newer, *first.Allocations[1].LotID)
	require.Equal(t, int64(1), first.Allocations[1].Quantity)

	after := f.level(t)
	require.Equal(t, before.OnHand, after.OnHand)
	require.Equal(t, before.Reserved-3, after.Reserved)
	require.Equal(t, int64(3), after.Sold)

	second, err := f.engine.Fulfill(ctx, f.tenantID, cartID, receiptID, f.actorID)
	require.NoError(t, err)
	require.True(t, second.AlreadyFulfilled)
	require.Equal(t, first.Allocations, second.Allocations)
	require.Equal(t, after, f.level(t))
}

func TestFulfillWithoutLotsRecordsNilLot(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	f.receive(t, 2, "")
	cartID := uuid.New()

	_, err := f.engine.Reserve(ctx, f.tenantID, cartID, []Item{{CatalogItemID: "SKU1", LocationID: f.location, Quantity: 2}}, f.actorID)
	require.NoError(t, err)

	res, err := f.engine.Fulfill(ctx, f.tenantID, cartID, uuid.New(), f.actorID)
	require.NoError(t, err)
	require.Len(t, res.Allocations, 1)
	require.Nil(t, res.Allocations[0].LotID)
	require.Equal(t, int64(2), res.Allocations[0].Quantity)
}

func TestFulfillAfterReleaseAllocatesNothing(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	f.receive(t, 2, "")
	cartID := uuid.New()

	_, err := f.engine.Reserve(ctx, f.tenantID, cartID, []Item{{CatalogItemID: "SKU1", LocationID: f.location, Quantity: 2}}, f.actorID)
	require.NoError(t, err)
	_, err = f.engine.Release(ctx, f.tenantID, cartID, f.actorID, "expired")
	require.NoError(t, err)

	res, err := f.engine.Fulfill(ctx, f.tenantID, cartID, uuid.New(), f.actorID)
	require.NoError(t, err)
	require.Empty(t, res.Allocations)
	require.Empty(t, res.Events)
}

func TestSweepExpiredReleasesOnlyStaleCarts(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	f.receive(t, 10, "")

	stale := uuid.New()
	_, err := f.engine.Reserve(ctx, f.tenantID, stale, []Item{{CatalogItemID: "SKU1", LocationID: f.location, Quantity: 2}}, f.actorID)
	require.NoError(t, err)

	f.now = f.now.Add(40 * time.Minute)
	fresh := uuid.New()
	_, err = f.engine.Reserve(ctx, f.tenantID, fresh, []Item{{CatalogItemID: "SKU1", LocationID: f.location, Quantity: 3}}, f.actorID)
	require.NoError(t, err)

	f.now = f.now.Add(5 * time.Minute)
	res, err := f.engine.SweepExpired(ctx, 30*time.Minute)
	require.NoError(t, err)
	require.Equal(t, 1, res.Carts)
	require.Equal(t, 1, res.Released)
	require.Equal(t, int64(3), f.level(t).Reserved)

	res, err = f.engine.SweepExpired(ctx, 30*time.Minute)
	require.NoError(t, err)
	require.Equal(t, 0, res.Carts)

	_, err = f.engine.SweepExpired(ctx, 0)
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))
}
