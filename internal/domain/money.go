package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// Amount is a monetary value held in integer minor units (cents, pence, ...).
type Amount struct {
	Minor    int64
	Currency string
}

// currencies with a non-default number of fractional digits.
var currencyExponents = map[string]int32{
	"JPY": 0,
	"KRW": 0,
	"UGX": 0,
	"BHD": 3,
	"KWD": 3,
}

const defaultCurrencyExponent int32 = 2

// NewAmount builds an Amount from minor units.
func NewAmount(minor int64, currency string) Amount {
	return Amount{Minor: minor, Currency: normalizeCurrency(currency)}
}

// ZeroAmount returns a zero Amount in currency.
func ZeroAmount(currency string) Amount {
	return NewAmount(0, currency)
}

// ParseAmount parses a major-unit string such as "30.50" into minor units.
func ParseAmount(value, currency string) (Amount, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(value))
	if err != nil {
		return Amount{}, fmt.Errorf("%w: %q is not a number", ErrInvalidAmount, value)
	}

	return AmountFromDecimal(d, currency)
}

// AmountFromDecimal converts a major-unit decimal into an Amount. Values with more
// fractional digits than the currency supports are rejected, not rounded.
func AmountFromDecimal(d decimal.Decimal, currency string) (Amount, error) {
	currency = normalizeCurrency(currency)
	if err := ValidateCurrency(currency); err != nil {
		return Amount{}, err
	}

	minor := d.Shift(CurrencyExponent(currency))
	if !minor.Equal(minor.Truncate(0)) {
		return Amount{}, fmt.Errorf("%w: %s has too many decimal places for %s", ErrInvalidAmount, d.String(), currency)
	}

	if minor.GreaterThan(decimal.NewFromInt(math.MaxInt64)) || minor.LessThan(decimal.NewFromInt(math.MinInt64)) {
		return Amount{}, ErrAmountTooLarge
	}

	return Amount{Minor: minor.IntPart(), Currency: currency}, nil
}

// CurrencyExponent returns the number of fractional digits used by currency.
func CurrencyExponent(currency string) int32 {
	if exp, ok := currencyExponents[normalizeCurrency(currency)]; ok {
		return exp
	}

	return defaultCurrencyExponent
}

// Decimal returns the amount in major units.
func (a Amount) Decimal() decimal.Decimal {
	return decimal.New(a.Minor, -CurrencyExponent(a.Currency))
}

// String formats the amount as "30.50 USD".
func (a Amount) String() string {
	return a.Decimal().StringFixed(CurrencyExponent(a.Currency)) + " " + a.Currency
}

func (a Amount) IsZero() bool     { return a.Minor == 0 }
func (a Amount) IsPositive() bool { return a.Minor > 0 }
func (a Amount) IsNegative() bool { return a.Minor < 0 }

// Add returns a+b. Currencies must match.
func (a Amount) Add(b Amount) (Amount, error) {
	if err := a.sameCurrency(b); err != nil {
		return Amount{}, err
	}

	if (b.Minor > 0 && a.Minor > math.MaxInt64-b.Minor) || (b.Minor < 0 && a.Minor < math.MinInt64-b.Minor) {
		return Amount{}, ErrAmountTooLarge
	}

	return Amount{Minor: a.Minor + b.Minor, Currency: a.Currency}, nil
}

// Sub returns a-b. Currencies must match.
func (a Amount) Sub(b Amount) (Amount, error) {
	if b.Minor == math.MinInt64 {
		return Amount{}, ErrAmountTooLarge
	}

	return a.Add(Amount{Minor: -b.Minor, Currency: b.Currency})
}

// Cmp compares a and b: -1, 0 or +1. Currencies must match.
func (a Amount) Cmp(b Amount) (int, error) {
	if err := a.sameCurrency(b); err != nil {
		return 0, err
	}

	switch {
	case a.Minor < b.Minor:
		return -1, nil
	case a.Minor > b.Minor:
		return 1, nil
	default:
		return 0, nil
	}
}

// Min returns the smaller of a and b. Currencies must match.
func (a Amount) Min(b Amount) (Amount, error) {
	c, err := a.Cmp(b)
	if err != nil {
		return Amount{}, err
	}

	if c <= 0 {
		return a, nil
	}

	return b, nil
}

func (a Amount) sameCurrency(b Amount) error {
	if a.Currency != b.Currency {
		return fmt.Errorf("%w: %s and %s", ErrCurrencyMismatch, a.Currency, b.Currency)
	}

	return nil
}

type amountJSON struct {
	Minor    int64  `json:"minor"`
	Currency string `json:"currency"`
	Value    string `json:"value"`
}

// MarshalJSON encodes minor units, currency and a display value.
func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(amountJSON{
		Minor:    a.Minor,
		Currency: a.Currency,
		Value:    a.Decimal().StringFixed(CurrencyExponent(a.Currency)),
	})
}

// UnmarshalJSON decodes the representation produced by MarshalJSON.
// The display value is ignored.
func (a *Amount) UnmarshalJSON(data []byte) error {
	var raw amountJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	a.Minor = raw.Minor
	a.Currency = normalizeCurrency(raw.Currency)

	return nil
}

func normalizeCurrency(currency string) string {
	return strings.ToUpper(strings.TrimSpace(currency))
}
