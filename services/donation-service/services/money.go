package services

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Stripe's zero-decimal currencies; every other supported currency has two
// minor-unit digits.
var zeroDecimalCurrencies = map[string]bool{
	"BIF": true, "CLP": true, "DJF": true, "GNF": true, "JPY": true, "KMF": true,
	"KRW": true, "MGA": true, "PYG": true, "RWF": true, "UGX": true, "VND": true,
	"VUV": true, "XAF": true, "XOF": true, "XPF": true,
}

func minorExponent(currency string) int32 {
	if zeroDecimalCurrencies[strings.ToUpper(currency)] {
		return 0
	}
	return 2
}

// ToMinorUnits converts a major-unit amount to a positive integer count of
// minor units, rejecting fractions smaller than one minor unit.
func ToMinorUnits(amount decimal.Decimal, currency string) (int64, error) {
	if !amount.IsPositive() {
		return 0, fmt.Errorf("amount must be positive, got %s", amount)
	}
	minor := amount.Shift(minorExponent(currency))
	if !minor.IsInteger() {
		return 0, fmt.Errorf("amount %s has more precision than %s allows", amount, strings.ToUpper(currency))
	}
	if !minor.LessThanOrEqual(decimal.NewFromInt(99999999)) {
		return 0, fmt.Errorf("amount %s exceeds the checkout limit", amount)
	}
	return minor.IntPart(), nil
}

// FromMinorUnits converts a gateway minor-unit amount back to major units.
func FromMinorUnits(minor int64, currency string) decimal.Decimal {
	return decimal.New(minor, -minorExponent(currency))
}
