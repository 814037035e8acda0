package trader

import (
	"github.com/shopspring/decimal"
)

// NormalizeToStep truncates value to the decimal granularity of step. The
// number of decimal places is taken from step itself with trailing zeros
// stripped, so a step of "0.0100" means two places. Truncation never rounds
// up; the result can only be at or below value, which keeps quantities and
// prices inside what the exchange accepts.
func NormalizeToStep(value, step float64) (float64, error) {
	if step <= 0 {
		return 0, ErrInvalidPrecision
	}

	// NewFromFloat keeps the minimal decimal representation, so trailing
	// zeros are already gone and the exponent is the number of places.
	places := -decimal.NewFromFloat(step).Exponent()
	if places < 0 {
		places = 0
	}

	return decimal.NewFromFloat(value).Truncate(places).InexactFloat64(), nil
}
