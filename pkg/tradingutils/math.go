package tradingutils

import (
	"github.com/shopspring/decimal"
)

// RoundDownQuantity truncates a quantity to the specified decimals
// instead of rounding to nearest. Used when sizing an order so the
// venue never rejects it for exceeding available balance by a
// rounding epsilon.
func RoundDownQuantity(qty decimal.Decimal, qtyDecimals int) decimal.Decimal {
	return qty.Truncate(int32(qtyDecimals))
}

// FormatForTransfer truncates an amount to an asset's savings-transfer
// precision, ensuring a spot->funding or funding->spot transfer never
// requests more than is actually available.
func FormatForTransfer(amount decimal.Decimal, precision int32) decimal.Decimal {
	return amount.Truncate(precision)
}
