package claims

import (
	"fmt"
	"math/big"
)

const (
	tokenDecimals  = 18
	amountDecimals = 3
)

var (
	tokenUnit  = new(big.Int).Exp(big.NewInt(10), big.NewInt(tokenDecimals), nil)
	amountUnit = new(big.Int).Exp(big.NewInt(10), big.NewInt(amountDecimals), nil)
)

// FormatAmount converts a smallest-unit token amount into a decimal string with three fractional
// digits, rounding half away from zero. The integer part has no thousands separators, so
// 1234.5 tokens render as "1234.500".
func FormatAmount(value *big.Int) string {
	if value == nil {
		return formatScaled(big.NewInt(0))
	}
	abs := new(big.Int).Abs(value)

	scaled, rem := new(big.Int).QuoRem(new(big.Int).Mul(abs, amountUnit), tokenUnit, new(big.Int))
	if rem.Lsh(rem, 1).Cmp(tokenUnit) >= 0 {
		scaled.Add(scaled, big.NewInt(1))
	}

	text := formatScaled(scaled)
	if value.Sign() < 0 && scaled.Sign() != 0 {
		return "-" + text
	}
	return text
}

func formatScaled(scaled *big.Int) string {
	whole, frac := new(big.Int).QuoRem(scaled, amountUnit, new(big.Int))
	return fmt.Sprintf("%s.%0*d", whole.String(), amountDecimals, frac.Int64())
}
