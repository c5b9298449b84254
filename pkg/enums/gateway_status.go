package enums

import "fmt"

// GatewayStatus is the payment status reported by the mobile-money gateway.
type GatewayStatus string

const (
	GatewayStatusSuccess   GatewayStatus = "SUCCESS"
	GatewayStatusPending   GatewayStatus = "PENDING"
	GatewayStatusFailed    GatewayStatus = "FAILED"
	GatewayStatusCancelled GatewayStatus = "CANCELLED"
	GatewayStatusExpired   GatewayStatus = "EXPIRED"
	GatewayStatusRejected  GatewayStatus = "REJECTED"
)

var validGatewayStatuses = []GatewayStatus{
	GatewayStatusSuccess,
	GatewayStatusPending,
	GatewayStatusFailed,
	GatewayStatusCancelled,
	GatewayStatusExpired,
	GatewayStatusRejected,
}

// String implements fmt.Stringer.
func (v GatewayStatus) String() string {
	return string(v)
}

// IsValid reports whether the value is a known GatewayStatus.
func (v GatewayStatus) IsValid() bool {
	for _, candidate := range validGatewayStatuses {
		if candidate == v {
			return true
		}
	}
	return false
}

// ParseGatewayStatus converts raw input into a GatewayStatus.
func ParseGatewayStatus(value string) (GatewayStatus, error) {
	for _, candidate := range validGatewayStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid gateway status %q", value)
}

// IsFailure reports whether the gateway status ends the payment without capture.
func (v GatewayStatus) IsFailure() bool {
	switch v {
	case GatewayStatusFailed, GatewayStatusCancelled, GatewayStatusExpired, GatewayStatusRejected:
		return true
	default:
		return false
	}
}
