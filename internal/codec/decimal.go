package codec

import (
	"math"

	"github.com/fxmdfeed/reutersfeed/pkg/apperrors"
)

// decimalExponent is the schema-fixed exponent for every price field on the
// wire: price_wire = round(price * 1e9). The exponent itself is never
// serialized, it is a schema constant, not a per-message value.
const decimalExponent = -9
const decimalScale = 1e9

// nullMantissa is the sentinel mantissa value that decodes to "no price".
const nullMantissa int64 = math.MaxInt64

// EncodePrice converts price to its wire mantissa. A nil price encodes the
// null sentinel.
func EncodePrice(price *float64) (int64, error) {
	if price == nil {
		return nullMantissa, nil
	}
	scaled := math.RoundToEven(*price * decimalScale)
	if scaled >= float64(nullMantissa) || scaled <= float64(math.MinInt64) {
		return 0, apperrors.Newf(apperrors.ErrDecimalOverflow, "price %g overflows the wire decimal", *price)
	}
	return int64(scaled), nil
}

// DecodePrice converts a wire mantissa back to a price. The second return
// value is false when the mantissa is the null sentinel.
func DecodePrice(mantissa int64) (float64, bool) {
	if mantissa == nullMantissa {
		return 0, false
	}
	return float64(mantissa) / decimalScale, true
}
