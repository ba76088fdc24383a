package chain

import (
	"github.com/shopspring/decimal"
)

// FormatAmount renders a base-unit amount as whole coins, trimming trailing zeros.
// For example, 150000000 with a base factor of 1e8 returns "1.5".
func FormatAmount(amount, baseFactor int64) string {
	if baseFactor <= 0 {
		return decimal.NewFromInt(amount).String()
	}
	return decimal.NewFromInt(amount).Div(decimal.NewFromInt(baseFactor)).String()
}

// FormatAmount renders a base-unit amount in this coin's whole units.
func (c *Coin) FormatAmount(amount int64) string {
	return FormatAmount(amount, c.BaseFactor)
}

// ToBaseUnits converts a whole-coin decimal amount to base units, rounding
// half away from zero.
func ToBaseUnits(amount decimal.Decimal, baseFactor int64) int64 {
	return amount.Mul(decimal.NewFromInt(baseFactor)).Round(0).IntPart()
}
