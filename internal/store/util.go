package store

import "github.com/shopspring/decimal"

// mustDecimal parses a decimal string scanned from a DECIMAL/TEXT column,
// falling back to zero on malformed input rather than aborting the whole
// scan (the column is owned externally and validated at write time).
func mustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
