package aggregate

import (
	"math/big"
	"strings"
)

const valueScale = 18

// FormatAmount renders a raw integer amount with the given decimals.
func FormatAmount(value *big.Int, decimals uint8) string {
	if value == nil {
		return "0"
	}
	if decimals == 0 {
		return value.String()
	}
	sign := value.Sign()
	abs := new(big.Int).Abs(value)
	denom := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	rat := new(big.Rat).SetFrac(abs, denom)
	text := trimDecimal(rat.FloatString(int(decimals)))
	if sign < 0 && text != "0" {
		return "-" + text
	}
	return text
}

func formatValue(value *big.Rat) string {
	if value == nil {
		return "0"
	}
	text := trimDecimal(value.FloatString(valueScale))
	if text == "-0" {
		return "0"
	}
	return text
}

// FormatNative renders a wei amount in whole native units.
func FormatNative(value *big.Int) string {
	return FormatAmount(value, 18)
}

func trimDecimal(text string) string {
	if !strings.Contains(text, ".") {
		return text
	}
	text = strings.TrimRight(text, "0")
	return strings.TrimSuffix(text, ".")
}
