package stock

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/vcledger/internal/ledger"
	"github.com/angelmondragon/vcledger/pkg/db"
	"github.com/angelmondragon/vcledger/pkg/db/dbtest"
	"github.com/angelmondragon/vcledger/pkg/db/models"
	"github.com/angelmondragon/vcledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/vcledger/pkg/errors"
	"github.com/angelmondragon/vcledger/pkg/outbox"
)

type memoryStore struct {
	values map[string]string
	sets   int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{values: map[string]string{}}
}

func (m *memoryStore) Get(_ context.Context, key string) (string, error) {
	v, ok := m.values[key]
	if !ok {
		return "", goredis.Nil
	}
	return v, nil
}

func (m *memoryStore) Set(_ context.Context, key string, value any, _ time.Duration) error {
	m.values[key] = fmt.Sprint(value)
	m.sets++
	return nil
}

func (m *memoryStore) Del(_ context.Context, keys ...string) error {
	for _, k := range keys {
		delete(m.values, k)
	}
	return nil
}

func (m *memoryStore) ProjectionKey(tenantID, catalogItemID, locationID string) string {
	return "vcl:projection:" + tenantID + ":" + catalogItemID + ":" + locationID
}

type stockFixture struct {
	conn      *gorm.DB
	ledger    ledger.Service
	projector *Projector
	store     *memoryStore
	tenantID  uuid.UUID
	location  uuid.UUID
	actorID   uuid.UUID
}

func newStockFixture(t *testing.T) *stockFixture {
	t.Helper()
	conn := dbtest.Open(t)
	led, err := ledger.NewService(ledger.ServiceParams{
		DB:     db.Wrap(conn),
		Repo:   ledger.NewRepository(conn),
		Outbox: outbox.NewService(outbox.NewRepository(conn), nil),
	})
	require.NoError(t, err)

	store := newMemoryStore()
	projector, err := NewProjector(conn, NewRedisCache(store, time.Minute), nil)
	require.NoError(t, err)

	tenantID := uuid.New()
	loc := models.InventoryLocation{ID: uuid.New(), TenantID: tenantID, Name: "Main", Type: enums.LocationTypeWarehouse, Status: enums.LocationStatusActive}
	require.NoError(t, conn.Create(&loc).Error)

	return &stockFixture{conn: conn, ledger: led, projector: projector, store: store, tenantID: tenantID, location: loc.ID, actorID: uuid.New()}
}

func (f *stockFixture) append(t *testing.T, eventType enums.InventoryEventType, qty int64, cartID, receiptID, lotID *uuid.UUID) {
	t.Helper()
	ev := ledger.NewEvent{
		TenantID:      f.tenantID,
		CatalogItemID: "SKU1",
		LocationID:    f.location,
		LotID:         lotID,
		Type:          eventType,
		Quantity:      qty,
		CartID:        cartID,
		ReceiptID:     receiptID,
		ActorID:       f.actorID,
	}
	if eventType == enums.InventoryEventAdjustment {
		reason := "cycle count"
		ev.Reason = &reason
	}
	_, err := f.ledger.Append(context.Background(), ev)
	require.NoError(t, err)
}

func TestProjectFoldsConservation(t *testing.T) {
	f := newStockFixture(t)
	ctx := context.Background()
	cartID := uuid.New()
	receiptID := uuid.New()

	f.append(t, enums.InventoryEventReceipt, 10, nil, nil, nil)
	f.append(t, enums.InventoryEventReserve, 4, &cartID, nil, nil)
	f.append(t, enums.InventoryEventRelease, 1, &cartID, nil, nil)
	f.append(t, enums.InventoryEventSale, 3, &cartID, &receiptID, nil)
	f.append(t, enums.InventoryEventAdjustment, -2, nil, nil, nil)

	level, err := f.projector.Project(ctx, f.tenantID, "SKU1", f.location)
	require.NoError(t, err)
	require.Equal(t, int64(8), level.OnHand)
	require.Equal(t, int64(0), level.Reserved)
	require.Equal(t, int64(8), level.Available)
	require.Equal(t, int64(3), level.Sold)
	require.Equal(t, level.OnHand-level.Reserved, level.Available)
	require.Equal(t, int64(5), level.LastSequence)

	txLevel, err := f.projector.ProjectTx(ctx, nil, f.tenantID, "SKU1", f.location)
	require.NoError(t, err)
	require.Equal(t, level.OnHand, txLevel.OnHand)
	require.Equal(t, level.Reserved, txLevel.Reserved)
	require.Equal(t, level.Available, txLevel.Available)
}

func TestProjectUsesCacheIncrementally(t *testing.T) {
	f := newStockFixture(t)
	ctx := context.Background()
	cartID := uuid.New()

	f.append(t, enums.InventoryEventReceipt, 5, nil, nil, nil)
	level, err := f.projector.Project(ctx, f.tenantID, "SKU1", f.location)
	require.NoError(t, err)
	require.Equal(t, int64(5), level.Available)
	require.Equal(t, 1, f.store.sets)

	// Unchanged scope: the cached level is reused without a rewrite.
	_, err = f.projector.Project(ctx, f.tenantID, "SKU1", f.location)
	require.NoError(t, err)
	require.Equal(t, 1, f.store.sets)

	f.append(t, enums.InventoryEventReserve, 2, &cartID, nil, nil)
	level, err = f.projector.Project(ctx, f.tenantID, "SKU1", f.location)
	require.NoError(t, err)
	require.Equal(t, int64(3), level.Available)
	require.Equal(t, 2, f.store.sets)
}

func TestProjectDiscardsStaleCache(t *testing.T) {
	f := newStockFixture(t)
	ctx := context.Background()

	f.append(t, enums.InventoryEventReceipt, 5, nil, nil, nil)
	bogus := uuid.New()
	require.NoError(t, NewRedisCache(f.store, time.Minute).Set(ctx, &StockLevel{
		TenantID:      f.tenantID,
		CatalogItemID: "SKU1",
		LocationID:    f.location,
		OnHand:        500,
		Available:     500,
		LastEventID:   &bogus,
		LastSequence:  1,
	}))

	level, err := f.projector.Project(ctx, f.tenantID, "SKU1", f.location)
	require.NoError(t, err)
	require.Equal(t, int64(5), level.OnHand)
}

func TestProjectLotTracesAllocations(t *testing.T) {
	f := newStockFixture(t)
	ctx := context.Background()

	lotNumber := "L-001"
	lot := models.InventoryLot{
		ID:            uuid.New(),
		TenantID:      f.tenantID,
		CatalogItemID: "SKU1",
		LocationID:    f.location,
		LotNumber:     &lotNumber,
		CreatedAt:     db.NowUTC(),
	}
	require.NoError(t, f.conn.Create(&lot).Error)

	cartID := uuid.New()
	receiptID := uuid.New()
	f.append(t, enums.InventoryEventReceipt, 6, nil, nil, &lot.ID)
	f.append(t, enums.InventoryEventReserve, 2, &cartID, nil, nil)
	f.append(t, enums.InventoryEventSale, 2, &cartID, &receiptID, &lot.ID)

	projection, err := f.projector.ProjectLot(ctx, f.tenantID, lot.ID)
	require.NoError(t, err)
	require.Equal(t, int64(6), projection.OnHand)
	require.Equal(t, int64(2), projection.Sold)
	require.Equal(t, int64(4), projection.Remaining)
	require.Len(t, projection.AllocatedTo, 1)
	require.Equal(t, receiptID, *projection.AllocatedTo[0].ReceiptID)

	balances, err := f.projector.LotBalancesTx(ctx, nil, f.tenantID, "SKU1", f.location)
	require.NoError(t, err)
	require.Len(t, balances, 1)
	require.Equal(t, int64(4), balances[0].Remaining)

	_, err = f.projector.ProjectLot(ctx, f.tenantID, uuid.New())
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeNotFound))
}

func TestListLevelsGroupsScopes(t *testing.T) {
	f := newStockFixture(t)
	ctx := context.Background()

	f.append(t, enums.InventoryEventReceipt, 3, nil, nil, nil)
	_, err := f.ledger.Append(ctx, ledger.NewEvent{
		TenantID:      f.tenantID,
		CatalogItemID: "SKU2",
		LocationID:    f.location,
		Type:          enums.InventoryEventReceipt,
		Quantity:      7,
		ActorID:       f.actorID,
	})
	require.NoError(t, err)

	levels, err := f.projector.ListLevels(ctx, f.tenantID, &f.location)
	require.NoError(t, err)
	require.Len(t, levels, 2)
	require.Equal(t, "SKU1", levels[0].CatalogItemID)
	require.Equal(t, int64(3), levels[0].Available)
	require.Equal(t, "SKU2", levels[1].CatalogItemID)
	require.Equal(t, int64(7), levels[1].Available)
}
