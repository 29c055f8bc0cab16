package validate

import (
	"errors"
	"testing"
)

// TestAmount verifies money values are accepted only as exact decimal
// strings with two fraction digits.
func TestAmount(t *testing.T) {
	valid := []string{"0.01", "1.00", "100.00", "99999999.99"}
	for _, s := range valid {
		if err := Amount(s); err != nil {
			t.Errorf("Amount(%q) = %v, want nil", s, err)
		}
	}

	invalid := []string{"", "100", "100.0", "100.000", ".99", "1,00", "-1.00", "1e2", "100.00 ", "abc"}
	for _, s := range invalid {
		if err := Amount(s); !errors.Is(err, ErrInvalidAmount) {
			t.Errorf("Amount(%q) = %v, want ErrInvalidAmount", s, err)
		}
	}
}

// TestAmount_Zero verifies well-formed zero values are rejected separately.
func TestAmount_Zero(t *testing.T) {
	for _, s := range []string{"0.00", "00.00", "000.00"} {
		if err := Amount(s); !errors.Is(err, ErrZeroAmount) {
			t.Errorf("Amount(%q) = %v, want ErrZeroAmount", s, err)
		}
	}
}

// TestCurrency verifies the three-letter uppercase code requirement.
func TestCurrency(t *testing.T) {
	for _, s := range []string{"RUB", "USD", "EUR"} {
		if err := Currency(s); err != nil {
			t.Errorf("Currency(%q) = %v, want nil", s, err)
		}
	}

	for _, s := range []string{"", "rub", "RU", "RUBL", "RU1", "RUB "} {
		if err := Currency(s); !errors.Is(err, ErrInvalidCurrency) {
			t.Errorf("Currency(%q) = %v, want ErrInvalidCurrency", s, err)
		}
	}
}
