package billing

import (
	"github.com/shopspring/decimal"
)

// DefaultPrecision is the number of decimal places monetary values keep
const DefaultPrecision = 6

// Round rounds half away from zero at the given number of decimal places.
func Round(value float64, precision int) float64 {
	return decimal.NewFromFloat(value).Round(int32(precision)).InexactFloat64()
}

// VariancePercent is (real - estimated) / estimated * 100. It is 0 when both
// sides are zero and 100 when only the estimate is zero.
func VariancePercent(estimated, real float64) float64 {
	if estimated == 0 {
		if real == 0 {
			return 0
		}
		return 100
	}
	return (real - estimated) / estimated * 100
}
