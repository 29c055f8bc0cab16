// Package validate provides centralized input validation utilities for the
// payment API.
package validate

import (
	"errors"
	"regexp"
	"strings"
)

// Money validation errors.
var (
	ErrInvalidAmount   = errors.New("amount must be a decimal string with exactly two fraction digits")
	ErrZeroAmount      = errors.New("amount must be greater than zero")
	ErrInvalidCurrency = errors.New("currency must be a three-letter ISO code")
)

// amountPattern accepts exact decimal strings like "100.00". Floats are
// never accepted; money values stay strings end to end.
var amountPattern = regexp.MustCompile(`^\d+\.\d{2}$`)

// currencyPattern accepts three uppercase ASCII letters.
var currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)

// Amount validates a monetary value as an exact decimal string with exactly
// two fraction digits, greater than zero.
func Amount(s string) error {
	if !amountPattern.MatchString(s) {
		return ErrInvalidAmount
	}
	if strings.Trim(s, "0.") == "" {
		return ErrZeroAmount
	}
	return nil
}

// Currency validates a fixed three-letter ISO currency code.
func Currency(s string) error {
	if !currencyPattern.MatchString(s) {
		return ErrInvalidCurrency
	}
	return nil
}
