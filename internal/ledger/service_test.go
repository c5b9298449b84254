package ledger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/vcledger/pkg/db"
	"github.com/angelmondragon/vcledger/pkg/db/dbtest"
	"github.com/angelmondragon/vcledger/pkg/db/models"
	"github.com/angelmondragon/vcledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/vcledger/pkg/errors"
	"github.com/angelmondragon/vcledger/pkg/outbox"
)

type fakeMetrics struct {
	mu        sync.Mutex
	appended  map[string]int
	integrity map[string]int
}

func newFakeMetrics() *fakeMetrics {
	return &fakeMetrics{appended: map[string]int{}, integrity: map[string]int{}}
}

func (f *fakeMetrics) IncAppended(eventType string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.appended[eventType] += n
}

func (f *fakeMetrics) ObserveAppend(time.Duration) {}

func (f *fakeMetrics) IncIntegrityViolation(source string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.integrity[source]++
}

type fixture struct {
	conn     *gorm.DB
	svc      Service
	metrics  *fakeMetrics
	tenantID uuid.UUID
	location uuid.UUID
	actorID  uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	conn := dbtest.Open(t)
	metrics := newFakeMetrics()
	svc, err := NewService(ServiceParams{
		DB:      db.Wrap(conn),
		Repo:    NewRepository(conn),
		Outbox:  outbox.NewService(outbox.NewRepository(conn), nil),
		Metrics: metrics,
	})
	require.NoError(t, err)

	tenantID := uuid.New()
	location := models.InventoryLocation{
		ID:       uuid.New(),
		TenantID: tenantID,
		Name:     "Main warehouse",
		Type:     enums.LocationTypeWarehouse,
		Status:   enums.LocationStatusActive,
	}
	require.NoError(t, conn.Create(&location).Error)

	return &fixture{
		conn:     conn,
		svc:      svc,
		metrics:  metrics,
		tenantID: tenantID,
		location: location.ID,
		actorID:  uuid.New(),
	}
}

func (f *fixture) receipt(qty int64) NewEvent {
	return NewEvent{
		TenantID:      f.tenantID,
		CatalogItemID: "SKU1",
		LocationID:    f.location,
		Type:          enums.InventoryEventReceipt,
		Quantity:      qty,
		ActorID:       f.actorID,
	}
}

func TestAppendChainsEventsFromGenesis(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.Append(ctx, f.receipt(10))
	require.NoError(t, err)
	require.Equal(t, GenesisHash, first.PrevHash)
	require.Equal(t, int64(1), first.Sequence)
	require.Equal(t, ComputeHash(first, GenesisHash), first.Hash)

	second, err := f.svc.Append(ctx, f.receipt(5))
	require.NoError(t, err)
	require.Equal(t, first.Hash, second.PrevHash)
	require.Equal(t, int64(2), second.Sequence)

	head, err := f.svc.Head(ctx, f.tenantID)
	require.NoError(t, err)
	require.Equal(t, int64(2), head.Sequence)
	require.Equal(t, second.Hash, head.HeadHash)
	require.Equal(t, 2, f.metrics.appended["receipt"])
}

func TestAppendRejectsInvalidEvents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	negative := f.receipt(-1)
	_, err := f.svc.Append(ctx, negative)
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))

	adjustment := f.receipt(-2)
	adjustment.Type = enums.InventoryEventAdjustment
	_, err = f.svc.Append(ctx, adjustment)
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation), "adjustment without reason")

	reserve := f.receipt(1)
	reserve.Type = enums.InventoryEventReserve
	_, err = f.svc.Append(ctx, reserve)
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation), "reserve without cart")
}

func TestVerifyChainValidAcrossBatches(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.svc.(*service).verifyBatch = 3

	for i := 0; i < 10; i++ {
		_, err := f.svc.Append(ctx, f.receipt(int64(i+1)))
		require.NoError(t, err)
	}

	result, err := f.svc.VerifyChain(ctx, f.tenantID, nil)
	require.NoError(t, err)
	require.True(t, result.Valid)
	require.Equal(t, int64(10), result.Checked)
	require.Equal(t, int64(10), result.HeadSequence)
}

func TestVerifyChainFromEvent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var events []*models.InventoryEvent
	for i := 0; i < 4; i++ {
		ev, err := f.svc.Append(ctx, f.receipt(1))
		require.NoError(t, err)
		events = append(events, ev)
	}

	result, err := f.svc.VerifyChain(ctx, f.tenantID, &events[2].ID)
	require.NoError(t, err)
	require.True(t, result.Valid)
	require.Equal(t, int64(2), result.Checked)

	missing := uuid.New()
	_, err = f.svc.VerifyChain(ctx, f.tenantID, &missing)
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeNotFound))
}

func TestTamperedQuantityIsDetectedAndHaltsChain(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var events []*models.InventoryEvent
	for i := 0; i < 5; i++ {
		ev, err := f.svc.Append(ctx, f.receipt(int64(10+i)))
		require.NoError(t, err)
		events = append(events, ev)
	}

	target := events[2]
	require.NoError(t, f.conn.Exec("UPDATE inventory_events SET quantity = ? WHERE id = ?", 999, target.ID).Error)

	result, err := f.svc.VerifyChain(ctx, f.tenantID, nil)
	require.NoError(t, err)
	require.False(t, result.Valid)
	require.NotNil(t, result.BrokenAt)
	require.Equal(t, target.ID, *result.BrokenAt)
	require.Equal(t, target.Sequence, result.BrokenSequence)
	require.Equal(t, int64(2), result.Checked)
	require.Equal(t, 1, f.metrics.integrity["verify"])

	_, err = f.svc.Append(ctx, f.receipt(1))
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeIntegrity))

	var alerts int64
	require.NoError(t, f.conn.Model(&models.OutboxEvent{}).
		Where("event_type = ?", enums.EventLedgerChainBroken).
		Count(&alerts).Error)
	require.Equal(t, int64(1), alerts)

	// A second verification must not queue a duplicate alert.
	_, err = f.svc.VerifyChain(ctx, f.tenantID, nil)
	require.NoError(t, err)
	require.NoError(t, f.conn.Model(&models.OutboxEvent{}).
		Where("event_type = ?", enums.EventLedgerChainBroken).
		Count(&alerts).Error)
	require.Equal(t, int64(1), alerts)
}

func TestResumeChainAfterRemediation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ev, err := f.svc.Append(ctx, f.receipt(4))
	require.NoError(t, err)
	_, err = f.svc.Append(ctx, f.receipt(6))
	require.NoError(t, err)

	require.NoError(t, f.conn.Exec("UPDATE inventory_events SET quantity = 40 WHERE id = ?", ev.ID).Error)
	result, err := f.svc.VerifyChain(ctx, f.tenantID, nil)
	require.NoError(t, err)
	require.False(t, result.Valid)

	_, err = f.svc.ResumeChain(ctx, f.tenantID, f.actorID)
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeIntegrity), "resume must refuse while broken")

	require.NoError(t, f.conn.Exec("UPDATE inventory_events SET quantity = 4 WHERE id = ?", ev.ID).Error)
	resumed, err := f.svc.ResumeChain(ctx, f.tenantID, f.actorID)
	require.NoError(t, err)
	require.True(t, resumed.Valid)
	require.False(t, resumed.Halted)

	next, err := f.svc.Append(ctx, f.receipt(1))
	require.NoError(t, err)
	require.Equal(t, int64(3), next.Sequence)
}

func TestAppendDetectsTamperedTip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ev, err := f.svc.Append(ctx, f.receipt(3))
	require.NoError(t, err)
	require.NoError(t, f.conn.Exec("UPDATE inventory_events SET catalog_item_id = 'SKU2' WHERE id = ?", ev.ID).Error)

	_, err = f.svc.Append(ctx, f.receipt(1))
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeIntegrity))
	require.Equal(t, 1, f.metrics.integrity["append"])

	head, err := f.svc.Head(ctx, f.tenantID)
	require.NoError(t, err)
	require.True(t, head.Halted)
	require.Equal(t, int64(1), head.Sequence)
}

func TestAppendBatchBuilderErrorRollsBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.AppendBatch(ctx, f.tenantID, func(context.Context, *gorm.DB) ([]NewEvent, error) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "nothing to append")
	})
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))

	events, err := f.svc.ListEvents(ctx, f.tenantID, 0, 10)
	require.NoError(t, err)
	require.Empty(t, events)

	_, err = f.svc.AppendBatch(ctx, f.tenantID, func(context.Context, *gorm.DB) ([]NewEvent, error) {
		other := f.receipt(1)
		other.TenantID = uuid.New()
		return []NewEvent{other}, nil
	})
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))
}

func TestConcurrentAppendsStayLinear(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Append(ctx, f.receipt(1))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	result, err := f.svc.VerifyChain(ctx, f.tenantID, nil)
	require.NoError(t, err)
	require.True(t, result.Valid)
	require.Equal(t, int64(20), result.Checked)
}

func TestTenantsAreIndependentChains(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	other := uuid.New()
	loc := models.InventoryLocation{ID: uuid.New(), TenantID: other, Name: "Shop", Type: enums.LocationTypeStore, Status: enums.LocationStatusActive}
	require.NoError(t, f.conn.Create(&loc).Error)

	_, err := f.svc.Append(ctx, f.receipt(1))
	require.NoError(t, err)
	ev, err := f.svc.Append(ctx, NewEvent{
		TenantID:      other,
		CatalogItemID: "SKU1",
		LocationID:    loc.ID,
		Type:          enums.InventoryEventReceipt,
		Quantity:      2,
		ActorID:       f.actorID,
	})
	require.NoError(t, err)
	require.Equal(t, GenesisHash, ev.PrevHash)

	tenants, err := f.svc.Tenants(ctx)
	require.NoError(t, err)
	require.Len(t, tenants, 2)
}
