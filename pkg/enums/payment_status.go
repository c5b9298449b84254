package enums

import "fmt"

// PaymentState is the correlation state of an external gateway payment.
type PaymentState string

const (
	PaymentStatePending   PaymentState = "pending"
	PaymentStateSucceeded PaymentState = "succeeded"
	PaymentStateFailed    PaymentState = "failed"
	PaymentStateExpired   PaymentState = "expired"
)

var validPaymentStates = []PaymentState{
	PaymentStatePending,
	PaymentStateSucceeded,
	PaymentStateFailed,
	PaymentStateExpired,
}

// String implements fmt.Stringer.
func (v PaymentState) String() string {
	return string(v)
}

// IsValid reports whether the value is a known PaymentState.
func (v PaymentState) IsValid() bool {
	for _, candidate := range validPaymentStates {
		if candidate == v {
			return true
		}
	}
	return false
}

// ParsePaymentState converts raw input into a PaymentState.
func ParsePaymentState(value string) (PaymentState, error) {
	for _, candidate := range validPaymentStates {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payment state %q", value)
}

func (v PaymentState) IsTerminal() bool {
	return v != PaymentStatePending
}
