package domain

import (
	"fmt"
	"strings"
	"time"
)

// Valid currency codes (ISO 4217)
var validCurrencies = map[string]bool{
	"USD": true, "EUR": true, "GBP": true, "JPY": true,
	"CNY": true, "AUD": true, "CAD": true, "CHF": true,
	"SEK": true, "NZD": true, "KRW": true, "SGD": true,
	"NOK": true, "MXN": true, "INR": true, "BRL": true,
	"ZAR": true, "HKD": true, "KES": true, "UGX": true,
	"NGN": true, "GHS": true, "PHP": true, "COP": true,
	"BHD": true, "KWD": true,
}

// ValidateCurrency validates currency code
func ValidateCurrency(currency string) error {
	currency = normalizeCurrency(currency)

	if !validCurrencies[currency] {
		return fmt.Errorf("%w: %q is not a supported ISO 4217 currency code", ErrInvalidCurrency, currency)
	}

	return nil
}

// ValidateTenant checks that a school and record id were supplied.
func ValidateTenant(recordID, schoolID string) error {
	if strings.TrimSpace(schoolID) == "" {
		return ErrMissingTenant
	}

	if strings.TrimSpace(recordID) == "" {
		return ErrMissingRecordID
	}

	return nil
}

// ValidateDateRange checks an optional, inclusive date window.
func ValidateDateRange(start, end *time.Time) error {
	if start != nil && end != nil && start.After(*end) {
		return ErrInvalidDateRange
	}

	return nil
}

// ValidatePagination validates and limits pagination parameters
func ValidatePagination(limit, offset int) (int, int) {
	const MaxPageSize = 100
	const DefaultPageSize = 20

	if limit <= 0 {
		limit = DefaultPageSize
	}

	if limit > MaxPageSize {
		limit = MaxPageSize
	}

	if offset < 0 {
		offset = 0
	}

	return limit, offset
}
