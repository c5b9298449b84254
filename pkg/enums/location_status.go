package enums

import "fmt"

// LocationStatus tracks whether a location still accepts stock movements.
type LocationStatus string

const (
	LocationStatusActive   LocationStatus = "active"
	LocationStatusInactive LocationStatus = "inactive"
)

var validLocationStatuses = []LocationStatus{
	LocationStatusActive,
	LocationStatusInactive,
}

// String implements fmt.Stringer.
func (v LocationStatus) String() string {
	return string(v)
}

// IsValid reports whether the value is a known LocationStatus.
func (v LocationStatus) IsValid() bool {
	for _, candidate := range validLocationStatuses {
		if candidate == v {
			return true
		}
	}
	return false
}

// ParseLocationStatus converts raw input into a LocationStatus.
func ParseLocationStatus(value string) (LocationStatus, error) {
	for _, candidate := range validLocationStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid location status %q", value)
}
