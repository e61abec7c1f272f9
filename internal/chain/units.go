package chain

import (
	"math/big"

	"github.com/shopspring/decimal"
)

const tokenDecimals = 18

// ToWei truncates anything below one wei.
func ToWei(amount decimal.Decimal) *big.Int {
	return amount.Shift(tokenDecimals).Truncate(0).BigInt()
}

func FromWei(v *big.Int) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(v, -tokenDecimals)
}

func bpsToPercent(v *big.Int) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(v, -2)
}

func percentToBps(p decimal.Decimal) *big.Int {
	return p.Shift(2).Round(0).BigInt()
}
