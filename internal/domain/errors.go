package domain

import (
	"errors"
	"fmt"
)

// Error taxonomy of the billing ledger. Callers match with errors.Is.
var (
	// ErrNotFound is returned when a record is absent or owned by another school.
	ErrNotFound = errors.New("billing record not found")
	// ErrInvalidState is returned when a payment targets a record that is already paid.
	ErrInvalidState = errors.New("billing record is not payable in its current state")
	// ErrInvalidArgument is returned for malformed input, before anything is persisted.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrConcurrency is returned when a commit lost a race against another writer.
	// Re-reading the record and recomputing the payment is safe.
	ErrConcurrency = errors.New("billing record was modified concurrently")
)

// Argument errors. All of them match ErrInvalidArgument.
var (
	ErrInvalidAmount        = fmt.Errorf("%w: amount must be positive", ErrInvalidArgument)
	ErrAmountTooLarge       = fmt.Errorf("%w: amount out of range", ErrInvalidArgument)
	ErrCurrencyMismatch     = fmt.Errorf("%w: currency mismatch", ErrInvalidArgument)
	ErrInvalidCurrency      = fmt.Errorf("%w: invalid currency code", ErrInvalidArgument)
	ErrOverpayment          = fmt.Errorf("%w: payment exceeds remaining balance", ErrInvalidArgument)
	ErrInvalidPaymentMethod = fmt.Errorf("%w: unknown payment method", ErrInvalidArgument)
	ErrMissingPayer         = fmt.Errorf("%w: paid_by is required", ErrInvalidArgument)
	ErrNoteTooLong          = fmt.Errorf("%w: payment note too long", ErrInvalidArgument)
	ErrMissingTenant        = fmt.Errorf("%w: school id is required", ErrInvalidArgument)
	ErrMissingRecordID      = fmt.Errorf("%w: billing record id is required", ErrInvalidArgument)
	ErrInvalidDateRange     = fmt.Errorf("%w: start date is after end date", ErrInvalidArgument)
	ErrInvalidPolicy        = fmt.Errorf("%w: unknown overpayment policy", ErrInvalidArgument)
)

// ErrInconsistentRecord is reported when a stored record breaks the status/amount invariants.
var ErrInconsistentRecord = errors.New("billing record is inconsistent")
