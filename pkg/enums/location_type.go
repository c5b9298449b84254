package enums

import "fmt"

// LocationType describes the kind of stock point a location represents.
type LocationType string

const (
	LocationTypeWarehouse LocationType = "warehouse"
	LocationTypeStore     LocationType = "store"
	LocationTypeVirtual   LocationType = "virtual"
)

var validLocationTypes = []LocationType{
	LocationTypeWarehouse,
	LocationTypeStore,
	LocationTypeVirtual,
}

// String implements fmt.Stringer.
func (v LocationType) String() string {
	return string(v)
}

// IsValid reports whether the value is a known LocationType.
func (v LocationType) IsValid() bool {
	for _, candidate := range validLocationTypes {
		if candidate == v {
			return true
		}
	}
	return false
}

// ParseLocationType converts raw input into a LocationType.
func ParseLocationType(value string) (LocationType, error) {
	for _, candidate := range validLocationTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid location type %q", value)
}
