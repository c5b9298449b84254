package enums

import (
	"fmt"
	"strings"
)

// Currency is a settlement denomination. Amounts in different currencies are
// never converted or summed together.
type Currency string

const (
	CurrencyUSD Currency = "USD"
	CurrencyZWG Currency = "ZWG"
)

func (v Currency) String() string { return string(v) }

func (v Currency) IsValid() bool {
	switch v {
	case CurrencyUSD, CurrencyZWG:
		return true
	}
	return false
}

// ParseCurrency accepts ISO codes in any case.
func ParseCurrency(value string) (Currency, error) {
	c := Currency(strings.ToUpper(strings.TrimSpace(value)))
	if !c.IsValid() {
		return "", fmt.Errorf("invalid currency %q", value)
	}
	return c, nil
}
