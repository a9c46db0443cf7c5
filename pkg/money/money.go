package money

import "github.com/shopspring/decimal"

// Pounds converts an amount in pence to its decimal pound value.
func Pounds(pence int64) decimal.Decimal {
	return decimal.NewFromInt(pence).Shift(-2)
}

// FormatGBP renders an amount in pence as a customer-facing sterling string,
// e.g. 1250 -> "£12.50".
func FormatGBP(pence int64) string {
	return "£" + Pounds(pence).StringFixed(2)
}
