package enums

import "fmt"

// InventoryEventType classifies a ledger movement.
type InventoryEventType string

const (
	InventoryEventReceipt    InventoryEventType = "receipt"
	InventoryEventReserve    InventoryEventType = "reserve"
	InventoryEventRelease    InventoryEventType = "release"
	InventoryEventSale       InventoryEventType = "sale"
	InventoryEventAdjustment InventoryEventType = "adjustment"
)

var validInventoryEventTypes = []InventoryEventType{
	InventoryEventReceipt,
	InventoryEventReserve,
	InventoryEventRelease,
	InventoryEventSale,
	InventoryEventAdjustment,
}

// String implements fmt.Stringer.
func (v InventoryEventType) String() string {
	return string(v)
}

// IsValid reports whether the value is a known InventoryEventType.
func (v InventoryEventType) IsValid() bool {
	for _, candidate := range validInventoryEventTypes {
		if candidate == v {
			return true
		}
	}
	return false
}

// ParseInventoryEventType converts raw input into a InventoryEventType.
func ParseInventoryEventType(value string) (InventoryEventType, error) {
	for _, candidate := range validInventoryEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid inventory event type %q", value)
}
