package util

import "github.com/shopspring/decimal"

var (
	hundred  = decimal.NewFromInt(100)
	bpsScale = decimal.NewFromInt(10000)
)

// PercentOf returns amount × percent / 100.
func PercentOf(amount, percent decimal.Decimal) decimal.Decimal {
	return amount.Mul(percent).Div(hundred)
}

// ApplyBps returns amount × bps / 10000.
func ApplyBps(amount decimal.Decimal, bps int64) decimal.Decimal {
	return amount.Mul(decimal.NewFromInt(bps)).Div(bpsScale)
}

// BpsToPercent turns a basis point rate into a percentage (1200 -> 12).
func BpsToPercent(bps int64) decimal.Decimal {
	return decimal.NewFromInt(bps).Div(hundred)
}
