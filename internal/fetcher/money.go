package fetcher

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	half     = decimal.NewFromFloat(0.5)
	maxMinor = decimal.NewFromInt(math.MaxInt64)
)

// ToMinorUnits converts a major-unit decimal string into minor units,
// rounding half up (1.999 -> 200, 2.995 -> 300). A nil or blank input
// stays nil: no listed price is not the same as a price of zero.
func ToMinorUnits(v *string) (*int64, error) {
	if v == nil {
		return nil, nil
	}
	s := strings.TrimSpace(*v)
	if s == "" {
		return nil, nil
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("parse price %q: %w", s, err)
	}
	if d.IsNegative() {
		return nil, errors.New("negative price " + s)
	}

	rounded := d.Shift(2).Add(half).Floor()
	if rounded.GreaterThan(maxMinor) {
		return nil, errors.New("price out of range " + s)
	}
	minor := rounded.IntPart()
	return &minor, nil
}

// FormatMinorUnits renders minor units as a major-unit string, e.g. 1999 -> "19.99".
func FormatMinorUnits(v *int64) string {
	if v == nil {
		return "-"
	}
	return decimal.New(*v, -2).StringFixed(2)
}
