package enums

import "fmt"

// CartStatus is the settlement state of a cart.
type CartStatus string

const (
	CartStatusPending   CartStatus = "pending"
	CartStatusQuoted    CartStatus = "quoted"
	CartStatusInvoiced  CartStatus = "invoiced"
	CartStatusPaid      CartStatus = "paid"
	CartStatusCancelled CartStatus = "cancelled"
)

var validCartStatuses = []CartStatus{
	CartStatusPending,
	CartStatusQuoted,
	CartStatusInvoiced,
	CartStatusPaid,
	CartStatusCancelled,
}

// String implements fmt.Stringer.
func (v CartStatus) String() string {
	return string(v)
}

// IsValid reports whether the value is a known CartStatus.
func (v CartStatus) IsValid() bool {
	for _, candidate := range validCartStatuses {
		if candidate == v {
			return true
		}
	}
	return false
}

// ParseCartStatus converts raw input into a CartStatus.
func ParseCartStatus(value string) (CartStatus, error) {
	for _, candidate := range validCartStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid cart status %q", value)
}

var cartTransitions = map[CartStatus][]CartStatus{
	CartStatusPending:  {CartStatusQuoted, CartStatusInvoiced, CartStatusCancelled},
	CartStatusQuoted:   {CartStatusQuoted, CartStatusInvoiced, CartStatusCancelled},
	CartStatusInvoiced: {CartStatusPaid, CartStatusCancelled},
}

// IsTerminal reports whether no further transition is allowed.
func (v CartStatus) IsTerminal() bool {
	return v == CartStatusPaid || v == CartStatusCancelled
}

// CanTransitionTo reports whether moving from v to next keeps the cart
// lifecycle monotonic. Re-quoting a quoted cart is the only self transition.
func (v CartStatus) CanTransitionTo(next CartStatus) bool {
	for _, candidate := range cartTransitions[v] {
		if candidate == next {
			return true
		}
	}
	return false
}
