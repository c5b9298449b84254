package enums

import "fmt"

// InvoiceStatus is the lifecycle state of an invoice.
type InvoiceStatus string

const (
	InvoiceStatusPending InvoiceStatus = "pending"
	InvoiceStatusPaid    InvoiceStatus = "paid"
	InvoiceStatusFailed  InvoiceStatus = "failed"
	InvoiceStatusExpired InvoiceStatus = "expired"
)

var validInvoiceStatuses = []InvoiceStatus{
	InvoiceStatusPending,
	InvoiceStatusPaid,
	InvoiceStatusFailed,
	InvoiceStatusExpired,
}

// String implements fmt.Stringer.
func (v InvoiceStatus) String() string {
	return string(v)
}

// IsValid reports whether the value is a known InvoiceStatus.
func (v InvoiceStatus) IsValid() bool {
	for _, candidate := range validInvoiceStatuses {
		if candidate == v {
			return true
		}
	}
	return false
}

// ParseInvoiceStatus converts raw input into a InvoiceStatus.
func ParseInvoiceStatus(value string) (InvoiceStatus, error) {
	for _, candidate := range validInvoiceStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid invoice status %q", value)
}

func (v InvoiceStatus) IsTerminal() bool {
	return v != InvoiceStatusPending
}
