package enums

import "fmt"

// CredentialStatus tracks the external credential offer attached to a settlement record.
type CredentialStatus string

const (
	CredentialStatusPending CredentialStatus = "pending"
	CredentialStatusOffered CredentialStatus = "offered"
	CredentialStatusFailed  CredentialStatus = "failed"
	CredentialStatusSkipped CredentialStatus = "skipped"
)

var validCredentialStatuses = []CredentialStatus{
	CredentialStatusPending,
	CredentialStatusOffered,
	CredentialStatusFailed,
	CredentialStatusSkipped,
}

// String implements fmt.Stringer.
func (v CredentialStatus) String() string {
	return string(v)
}

// IsValid reports whether the value is a known CredentialStatus.
func (v CredentialStatus) IsValid() bool {
	for _, candidate := range validCredentialStatuses {
		if candidate == v {
			return true
		}
	}
	return false
}

// ParseCredentialStatus converts raw input into a CredentialStatus.
func ParseCredentialStatus(value string) (CredentialStatus, error) {
	for _, candidate := range validCredentialStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid credential status %q", value)
}
