package reservation

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/vcledger/pkg/db/models"
	"github.com/angelmondragon/vcledger/pkg/enums"
)

type scope struct {
	CatalogItemID string
	LocationID    uuid.UUID
}

type scopeTotal struct {
	CatalogItemID string
	LocationID    uuid.UUID
	Type          enums.InventoryEventType
	Total         int64
}

// CartRef identifies a cart holding reservations.
type CartRef struct {
	TenantID uuid.UUID
	CartID   uuid.UUID
}

// outstandingTx returns the reserved-but-not-released-or-sold quantity per
// scope for a cart, ordered by item then location.
func outstandingTx(ctx context.Context, tx *gorm.DB, tenantID, cartID uuid.UUID) ([]scope, map[scope]int64, error) {
	var totals []scopeTotal
	if err := tx.WithContext(ctx).
		Model(&models.InventoryEvent{}).
		Select("catalog_item_id, location_id, type, COALESCE(SUM(quantity), 0) AS total").
		Where("tenant_id = ? AND cart_id = ? AND type IN ?", tenantID, cartID, []enums.InventoryEventType{
			enums.InventoryEventReserve,
			enums.InventoryEventRelease,
			enums.InventoryEventSale,
		}).
		Group("catalog_item_id, location_id, type").
		Scan(&totals).Error; err != nil {
		return nil, nil, err
	}

	outstanding := map[scope]int64{}
	for _, t := range totals {
		key := scope{CatalogItemID: t.CatalogItemID, LocationID: t.LocationID}
		switch t.Type {
		case enums.InventoryEventReserve:
			outstanding[key] += t.Total
		case enums.InventoryEventRelease, enums.InventoryEventSale:
			outstanding[key] -= t.Total
		}
	}
	keys := make([]scope, 0, len(outstanding))
	for key, qty := range outstanding {
		if qty > 0 {
			keys = append(keys, key)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].CatalogItemID != keys[j].CatalogItemID {
			return keys[i].CatalogItemID < keys[j].CatalogItemID
		}
		return keys[i].LocationID.String() < keys[j].LocationID.String()
	})
	return keys, outstanding, nil
}

func salesForReceiptTx(ctx context.Context, tx *gorm.DB, tenantID, cartID, receiptID uuid.UUID) ([]models.InventoryEvent, error) {
	var events []models.InventoryEvent
	if err := tx.WithContext(ctx).
		Where("tenant_id = ? AND cart_id = ? AND receipt_id = ? AND type = ?", tenantID, cartID, receiptID, enums.InventoryEventSale).
		Order("sequence ASC").
		Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}

func lastReserveTx(ctx context.Context, tx *gorm.DB, tenantID, cartID uuid.UUID) (*models.InventoryEvent, error) {
	var events []models.InventoryEvent
	if err := tx.WithContext(ctx).
		Where("tenant_id = ? AND cart_id = ? AND type = ?", tenantID, cartID, enums.InventoryEventReserve).
		Order("sequence DESC").
		Limit(1).
		Find(&events).Error; err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, nil
	}
	return &events[0], nil
}

func activeLocationTx(ctx context.Context, tx *gorm.DB, tenantID, locationID uuid.UUID) (bool, error) {
	var count int64
	if err := tx.WithContext(ctx).
		Model(&models.InventoryLocation{}).
		Where("id = ? AND tenant_id = ? AND status = ?", locationID, tenantID, enums.LocationStatusActive).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// staleCarts lists carts with outstanding reservations whose newest reserve
// is older than cutoff. Invoiced carts are left to invoice expiry.
func staleCarts(ctx context.Context, db *gorm.DB, cutoff time.Time, limit int) ([]CartRef, error) {
	var refs []CartRef
	query := db.WithContext(ctx).
		Model(&models.InventoryEvent{}).
		Select("tenant_id, cart_id").
		Where("cart_id IS NOT NULL").
		Where("NOT EXISTS (SELECT 1 FROM carts c WHERE c.id = inventory_events.cart_id AND c.status = ?)", enums.CartStatusInvoiced).
		Group("tenant_id, cart_id").
		Having("SUM(CASE WHEN type = 'reserve' THEN quantity WHEN type IN ('release', 'sale') THEN -quantity ELSE 0 END) > 0").
		Having("MAX(CASE WHEN type = 'reserve' THEN created_at END) < ?", cutoff).
		Order("tenant_id ASC, cart_id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Scan(&refs).Error; err != nil {
		return nil, err
	}
	return refs, nil
}
