package stock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/vcledger/pkg/db/models"
	"github.com/angelmondragon/vcledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/vcledger/pkg/errors"
	"github.com/angelmondragon/vcledger/pkg/logger"
)

// StockLevel is the folded state of one (catalog item, location) scope.
type StockLevel struct {
	TenantID      uuid.UUID  `json:"tenantId"`
	CatalogItemID string     `json:"catalogItemId"`
	LocationID    uuid.UUID  `json:"locationId"`
	OnHand        int64      `json:"onHand"`
	Reserved      int64      `json:"reserved"`
	Available     int64      `json:"available"`
	Sold          int64      `json:"sold"`
	LastEventID   *uuid.UUID `json:"lastEventId,omitempty"`
	LastSequence  int64      `json:"lastSequence"`
}

// Apply folds one event into the level.
func (l *StockLevel) Apply(eventType enums.InventoryEventType, quantity int64) {
	switch eventType {
	case enums.InventoryEventReceipt, enums.InventoryEventAdjustment:
		l.OnHand += quantity
	case enums.InventoryEventReserve:
		l.Reserved += quantity
	case enums.InventoryEventRelease:
		l.Reserved -= quantity
	case enums.InventoryEventSale:
		l.Reserved -= quantity
		l.Sold += quantity
	}
	l.Available = l.OnHand - l.Reserved
}

// LotAllocation is one sale drawn from a lot.
type LotAllocation struct {
	EventID     uuid.UUID  `json:"eventId"`
	CartID      *uuid.UUID `json:"cartId,omitempty"`
	ReceiptID   *uuid.UUID `json:"receiptId,omitempty"`
	Quantity    int64      `json:"quantity"`
	AllocatedAt time.Time  `json:"allocatedAt"`
}

// LotProjection traces a lot from goods receipt to the receipts it was sold on.
type LotProjection struct {
	LotID         uuid.UUID       `json:"lotId"`
	TenantID      uuid.UUID       `json:"tenantId"`
	CatalogItemID string          `json:"catalogItemId"`
	LocationID    uuid.UUID       `json:"locationId"`
	LotNumber     *string         `json:"lotNumber,omitempty"`
	SerialNumber  *string         `json:"serialNumber,omitempty"`
	ExpiresAt     *time.Time      `json:"expiresAt,omitempty"`
	OnHand        int64           `json:"onHand"`
	Sold          int64           `json:"sold"`
	Remaining     int64           `json:"remaining"`
	AllocatedTo   []LotAllocation `json:"allocatedTo"`
}

// LotBalance is the unsold quantity of a lot, used for FIFO allocation.
type LotBalance struct {
	LotID     uuid.UUID
	CreatedAt time.Time
	Remaining int64
}

// Projector derives stock levels from the inventory event chain.
type Projector struct {
	db    *gorm.DB
	cache Cache
	logg  *logger.Logger
}

// NewProjector wires a projector. cache may be nil.
func NewProjector(db *gorm.DB, cache Cache, logg *logger.Logger) (*Projector, error) {
	if db == nil {
		return nil, fmt.Errorf("db required")
	}
	return &Projector{db: db, cache: cache, logg: logg}, nil
}

// Project folds the scope's events, starting from a cached level when the
// cached tail event is still the one stored at that sequence.
func (p *Projector) Project(ctx context.Context, tenantID uuid.UUID, catalogItemID string, locationID uuid.UUID) (*StockLevel, error) {
	if err := validateScope(tenantID, catalogItemID, locationID); err != nil {
		return nil, err
	}

	level := &StockLevel{TenantID: tenantID, CatalogItemID: catalogItemID, LocationID: locationID}
	fromCache := false
	if p.cache != nil {
		cached, ok, err := p.cache.Get(ctx, tenantID, catalogItemID, locationID)
		if err != nil {
			p.warn(ctx, "projection cache read failed", err)
		}
		if ok {
			valid, err := p.cachedTailMatches(ctx, cached)
			if err != nil {
				return nil, err
			}
			if valid {
				level = cached
				fromCache = true
			}
		}
	}

	var events []models.InventoryEvent
	if err := p.db.WithContext(ctx).
		Where("tenant_id = ? AND catalog_item_id = ? AND location_id = ? AND sequence > ?", tenantID, catalogItemID, locationID, level.LastSequence).
		Order("sequence ASC").
		Find(&events).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "fold stock events")
	}
	for i := range events {
		level.Apply(events[i].Type, events[i].Quantity)
		id := events[i].ID
		level.LastEventID = &id
		level.LastSequence = events[i].Sequence
	}

	if p.cache != nil && (!fromCache || len(events) > 0) {
		if err := p.cache.Set(ctx, level); err != nil {
			p.warn(ctx, "projection cache write failed", err)
		}
	}
	return level, nil
}

func (p *Projector) cachedTailMatches(ctx context.Context, cached *StockLevel) (bool, error) {
	if cached.LastEventID == nil {
		return cached.LastSequence == 0, nil
	}
	var ev models.InventoryEvent
	err := p.db.WithContext(ctx).
		Select("id", "catalog_item_id", "location_id").
		Where("tenant_id = ? AND sequence = ?", cached.TenantID, cached.LastSequence).
		First(&ev).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "check cached projection")
	}
	return ev.ID == *cached.LastEventID &&
		ev.CatalogItemID == cached.CatalogItemID &&
		ev.LocationID == cached.LocationID, nil
}

type typeTotal struct {
	CatalogItemID string
	LocationID    uuid.UUID
	Type          enums.InventoryEventType
	Total         int64
	LastSequence  int64
}

// ProjectTx folds the scope through tx, bypassing the cache. Admission
// control calls it while the chain head is locked.
func (p *Projector) ProjectTx(ctx context.Context, tx *gorm.DB, tenantID uuid.UUID, catalogItemID string, locationID uuid.UUID) (*StockLevel, error) {
	if err := validateScope(tenantID, catalogItemID, locationID); err != nil {
		return nil, err
	}
	if tx == nil {
		tx = p.db
	}
	var totals []typeTotal
	if err := tx.WithContext(ctx).
		Model(&models.InventoryEvent{}).
		Select("catalog_item_id, location_id, type, COALESCE(SUM(quantity), 0) AS total, MAX(sequence) AS last_sequence").
		Where("tenant_id = ? AND catalog_item_id = ? AND location_id = ?", tenantID, catalogItemID, locationID).
		Group("catalog_item_id, location_id, type").
		Scan(&totals).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "aggregate stock events")
	}
	level := &StockLevel{TenantID: tenantID, CatalogItemID: catalogItemID, LocationID: locationID}
	for _, t := range totals {
		level.Apply(t.Type, t.Total)
		if t.LastSequence > level.LastSequence {
			level.LastSequence = t.LastSequence
		}
	}
	return level, nil
}

// ListLevels returns every scope with events for the tenant, optionally
// narrowed to one location.
func (p *Projector) ListLevels(ctx context.Context, tenantID uuid.UUID, locationID *uuid.UUID) ([]StockLevel, error) {
	if tenantID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tenant id is required")
	}
	query := p.db.WithContext(ctx).
		Model(&models.InventoryEvent{}).
		Select("catalog_item_id, location_id, type, COALESCE(SUM(quantity), 0) AS total, MAX(sequence) AS last_sequence").
		Where("tenant_id = ?", tenantID)
	if locationID != nil {
		query = query.Where("location_id = ?", *locationID)
	}
	var totals []typeTotal
	if err := query.Group("catalog_item_id, location_id, type").
		Order("catalog_item_id ASC").
		Scan(&totals).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list stock levels")
	}

	index := map[string]int{}
	levels := []StockLevel{}
	for _, t := range totals {
		key := t.CatalogItemID + "|" + t.LocationID.String()
		i, ok := index[key]
		if !ok {
			levels = append(levels, StockLevel{TenantID: tenantID, CatalogItemID: t.CatalogItemID, LocationID: t.LocationID})
			i = len(levels) - 1
			index[key] = i
		}
		levels[i].Apply(t.Type, t.Total)
		if t.LastSequence > levels[i].LastSequence {
			levels[i].LastSequence = t.LastSequence
		}
	}
	return levels, nil
}

// ProjectLot reports what a lot received and which receipts consumed it.
func (p *Projector) ProjectLot(ctx context.Context, tenantID, lotID uuid.UUID) (*LotProjection, error) {
	if lotID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "lot id is required")
	}
	var lot models.InventoryLot
	if err := p.db.WithContext(ctx).
		Where("id = ? AND tenant_id = ?", lotID, tenantID).
		First(&lot).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "lot not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load lot")
	}

	var events []models.InventoryEvent
	if err := p.db.WithContext(ctx).
		Where("tenant_id = ? AND lot_id = ?", tenantID, lotID).
		Order("sequence ASC").
		Find(&events).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "fold lot events")
	}

	out := &LotProjection{
		LotID:         lot.ID,
		TenantID:      lot.TenantID,
		CatalogItemID: lot.CatalogItemID,
		LocationID:    lot.LocationID,
		LotNumber:     lot.LotNumber,
		SerialNumber:  lot.SerialNumber,
		ExpiresAt:     lot.ExpiresAt,
		AllocatedTo:   []LotAllocation{},
	}
	for _, ev := range events {
		switch ev.Type {
		case enums.InventoryEventReceipt, enums.InventoryEventAdjustment:
			out.OnHand += ev.Quantity
		case enums.InventoryEventSale:
			out.Sold += ev.Quantity
			out.AllocatedTo = append(out.AllocatedTo, LotAllocation{
				EventID:     ev.ID,
				CartID:      ev.CartID,
				ReceiptID:   ev.ReceiptID,
				Quantity:    ev.Quantity,
				AllocatedAt: ev.CreatedAt,
			})
		}
	}
	out.Remaining = out.OnHand - out.Sold
	return out, nil
}

type lotTotal struct {
	LotID uuid.UUID
	Type  enums.InventoryEventType
	Total int64
}

// LotBalancesTx lists the scope's lots oldest first with their unsold
// quantity.
func (p *Projector) LotBalancesTx(ctx context.Context, tx *gorm.DB, tenantID uuid.UUID, catalogItemID string, locationID uuid.UUID) ([]LotBalance, error) {
	if tx == nil {
		tx = p.db
	}
	var lots []models.InventoryLot
	if err := tx.WithContext(ctx).
		Where("tenant_id = ? AND catalog_item_id = ? AND location_id = ?", tenantID, catalogItemID, locationID).
		Order("created_at ASC, id ASC").
		Find(&lots).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list lots")
	}
	if len(lots) == 0 {
		return nil, nil
	}

	var totals []lotTotal
	if err := tx.WithContext(ctx).
		Model(&models.InventoryEvent{}).
		Select("lot_id, type, COALESCE(SUM(quantity), 0) AS total").
		Where("tenant_id = ? AND catalog_item_id = ? AND location_id = ? AND lot_id IS NOT NULL", tenantID, catalogItemID, locationID).
		Group("lot_id, type").
		Scan(&totals).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "aggregate lot events")
	}
	remaining := map[uuid.UUID]int64{}
	for _, t := range totals {
		switch t.Type {
		case enums.InventoryEventReceipt, enums.InventoryEventAdjustment:
			remaining[t.LotID] += t.Total
		case enums.InventoryEventSale:
			remaining[t.LotID] -= t.Total
		}
	}

	balances := make([]LotBalance, 0, len(lots))
	for _, lot := range lots {
		balances = append(balances, LotBalance{LotID: lot.ID, CreatedAt: lot.CreatedAt, Remaining: remaining[lot.ID]})
	}
	return balances, nil
}

func (p *Projector) warn(ctx context.Context, msg string, err error) {
	if p.logg == nil {
		return
	}
	p.logg.Warn(p.logg.WithField(ctx, "error", err.Error()), msg)
}

func validateScope(tenantID uuid.UUID, catalogItemID string, locationID uuid.UUID) error {
	if tenantID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "tenant id is required")
	}
	if strings.TrimSpace(catalogItemID) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "catalog item id is required")
	}
	if locationID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "location id is required")
	}
	return nil
}
