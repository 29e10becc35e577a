package domain

import (
	"fmt"
	"strings"
	"time"
)

// PaymentMethod is how a recorded payment was settled.
type PaymentMethod string

const (
	PaymentMethodCash         PaymentMethod = "cash"
	PaymentMethodBankTransfer PaymentMethod = "bank_transfer"
	PaymentMethodCard         PaymentMethod = "card"
	PaymentMethodCheck        PaymentMethod = "check"
	PaymentMethodMobileMoney  PaymentMethod = "mobile_money"
	PaymentMethodOther        PaymentMethod = "other"
)

var validPaymentMethods = map[PaymentMethod]bool{
	PaymentMethodCash:         true,
	PaymentMethodBankTransfer: true,
	PaymentMethodCard:         true,
	PaymentMethodCheck:        true,
	PaymentMethodMobileMoney:  true,
	PaymentMethodOther:        true,
}

// ParsePaymentMethod normalizes and validates a payment method.
func ParsePaymentMethod(s string) (PaymentMethod, error) {
	m := PaymentMethod(strings.ToLower(strings.TrimSpace(s)))
	if !validPaymentMethods[m] {
		return "", fmt.Errorf("%w: %q", ErrInvalidPaymentMethod, s)
	}

	return m, nil
}

// IsValid reports whether m is a known payment method.
func (m PaymentMethod) IsValid() bool {
	return validPaymentMethods[m]
}

// PaymentKind tells which operation produced a ledger entry.
type PaymentKind string

const (
	PaymentKindFull    PaymentKind = "full"
	PaymentKindPartial PaymentKind = "partial"
)

// PaymentTransaction is an immutable ledger entry. A billing record's paid total
// is always the sum of its transactions.
type PaymentTransaction struct {
	PaidAt          time.Time
	CreatedAt       time.Time
	ID              string
	BillingRecordID string
	SchoolID        string
	PaidBy          string
	PaymentNote     string
	PaymentMethod   PaymentMethod
	Kind            PaymentKind
	Amount          Amount
	AmountPaidAfter Amount
	RecordVersion   int64
}

// SumTransactions adds up ledger entry amounts. All entries must be in currency.
func SumTransactions(txs []*PaymentTransaction, currency string) (Amount, error) {
	total := ZeroAmount(currency)
	for _, tx := range txs {
		var err error
		total, err = total.Add(tx.Amount)
		if err != nil {
			return Amount{}, fmt.Errorf("transaction %s: %w", tx.ID, err)
		}
	}

	return total, nil
}
