// Package money converts between decimal amounts and integer minor units.
package money

import (
	"strings"

	"github.com/shopspring/decimal"
)

// zeroDecimal lists ISO 4217 currencies without a minor unit.
var zeroDecimal = map[string]struct{}{
	"BIF": {}, "CLP": {}, "DJF": {}, "GNF": {}, "ISK": {}, "JPY": {}, "KMF": {},
	"KRW": {}, "PYG": {}, "RWF": {}, "UGX": {}, "VND": {}, "VUV": {}, "XAF": {},
	"XOF": {}, "XPF": {},
}

var threeDecimal = map[string]struct{}{
	"BHD": {}, "IQD": {}, "JOD": {}, "KWD": {}, "LYD": {}, "OMR": {}, "TND": {},
}

// Code normalizes a currency code to its upper-case form.
func Code(currency string) string {
	return strings.ToUpper(strings.TrimSpace(currency))
}

// Exponent returns the number of minor-unit digits for currency.
func Exponent(currency string) int32 {
	code := Code(currency)
	if _, ok := zeroDecimal[code]; ok {
		return 0
	}
	if _, ok := threeDecimal[code]; ok {
		return 3
	}
	return 2
}

// ToMinor rounds amount to the currency's precision and returns it in minor units.
func ToMinor(amount decimal.Decimal, currency string) int64 {
	return amount.Shift(Exponent(currency)).Round(0).IntPart()
}

// FromMinor expresses minor units as a decimal amount of currency.
func FromMinor(minor int64, currency string) decimal.Decimal {
	return decimal.New(minor, -Exponent(currency))
}

// Format renders amount with exactly the currency's number of decimals.
func Format(amount decimal.Decimal, currency string) string {
	return amount.StringFixed(Exponent(currency))
}
