package model

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// ToScaled converts a decimal string from the wire (bitbank sends prices and
// amounts as strings) into an integer count of 10^-exp units. A value that
// does not fit the scale exactly is an error, never a rounding.
func ToScaled(s string, exp int32) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, err
	}
	scaled := d.Shift(exp)
	if !scaled.IsInteger() {
		return 0, fmt.Errorf("value %s does not fit scale 1e-%d", s, exp)
	}
	return scaled.IntPart(), nil
}

// FromScaled renders an integer count of 10^-exp units back to the wire form.
func FromScaled(v int64, exp int32) string {
	return decimal.New(v, -exp).String()
}
