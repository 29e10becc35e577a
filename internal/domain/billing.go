package domain

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// BillingStatus is the payment state of a billing record.
type BillingStatus string

const (
	BillingStatusUnpaid        BillingStatus = "UNPAID"
	BillingStatusPartiallyPaid BillingStatus = "PARTIALLY_PAID"
	BillingStatusPaid          BillingStatus = "PAID"
)

// BillingStatuses lists every status in lifecycle order.
var BillingStatuses = []BillingStatus{
	BillingStatusUnpaid,
	BillingStatusPartiallyPaid,
	BillingStatusPaid,
}

// IsValid reports whether s is a known status.
func (s BillingStatus) IsValid() bool {
	switch s {
	case BillingStatusUnpaid, BillingStatusPartiallyPaid, BillingStatusPaid:
		return true
	}
	return false
}

// MaxPaymentNoteLength is the maximum number of characters in a payment note.
const MaxPaymentNoteLength = 1000

// BillingRecord is what a billable subject owes a school and has paid so far.
// Payment methods return a new value and never modify the receiver.
type BillingRecord struct {
	DueDate       time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
	PaidAt        *time.Time
	DeletedAt     *time.Time
	ID            string
	SchoolID      string
	StudentID     string
	SchoolYearID  string
	Description   string
	PaidBy        string
	PaymentNote   string
	PaymentMethod PaymentMethod
	Status        BillingStatus
	AmountDue     Amount
	AmountPaid    Amount
	Version       int64
}

// NewBillingRecordInput describes a record produced by billing generation.
type NewBillingRecordInput struct {
	DueDate      time.Time
	ID           string
	SchoolID     string
	StudentID    string
	SchoolYearID string
	Description  string
	AmountDue    Amount
}

// NewBillingRecord creates an unpaid record.
func NewBillingRecord(in NewBillingRecordInput, now time.Time) (*BillingRecord, error) {
	r := &BillingRecord{
		ID:           in.ID,
		SchoolID:     in.SchoolID,
		StudentID:    in.StudentID,
		SchoolYearID: in.SchoolYearID,
		Description:  in.Description,
		DueDate:      in.DueDate,
		AmountDue:    in.AmountDue,
		AmountPaid:   ZeroAmount(in.AmountDue.Currency),
		Status:       BillingStatusUnpaid,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := r.Validate(); err != nil {
		return nil, err
	}

	return r, nil
}

// PaymentInput carries the caller side of a payment. Amount is ignored by MarkAsPaid.
type PaymentInput struct {
	TransactionID          string
	Note                   string
	PaidBy                 string
	Method                 PaymentMethod
	Amount                 Amount
	AcknowledgeOverpayment bool
}

// Validate checks the caller-supplied fields of a payment. It does not look at Amount.
func (in PaymentInput) Validate() error {
	if strings.TrimSpace(in.TransactionID) == "" {
		return fmt.Errorf("%w: transaction id is required", ErrInvalidArgument)
	}

	if !in.Method.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidPaymentMethod, in.Method)
	}

	if strings.TrimSpace(in.PaidBy) == "" {
		return ErrMissingPayer
	}

	if utf8.RuneCountInString(in.Note) > MaxPaymentNoteLength {
		return fmt.Errorf("%w: limit is %d characters", ErrNoteTooLong, MaxPaymentNoteLength)
	}

	return nil
}

// PaymentOutcome is the next state of a record plus the ledger entry that gets it there.
type PaymentOutcome struct {
	Record      BillingRecord
	Transaction PaymentTransaction
	// Unapplied is the part of an acknowledged overpayment that was not booked.
	Unapplied Amount
}

// StatusFor derives the status that matches a paid total.
func StatusFor(paid, due Amount) BillingStatus {
	switch {
	case paid.Minor <= 0:
		return BillingStatusUnpaid
	case paid.Minor >= due.Minor:
		return BillingStatusPaid
	default:
		return BillingStatusPartiallyPaid
	}
}

// Remaining returns the amount still owed.
func (r BillingRecord) Remaining() (Amount, error) {
	return r.AmountDue.Sub(r.AmountPaid)
}

// RecordPartialPayment books in.Amount against the record.
func (r BillingRecord) RecordPartialPayment(in PaymentInput, policy OverpaymentPolicy, now time.Time) (*PaymentOutcome, error) {
	if err := r.ensurePayable(); err != nil {
		return nil, err
	}

	if err := in.Validate(); err != nil {
		return nil, err
	}

	if !in.Amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	remaining, err := r.payableRemainder()
	if err != nil {
		return nil, err
	}

	cmp, err := in.Amount.Cmp(remaining)
	if err != nil {
		return nil, err
	}

	applied := in.Amount
	unapplied := ZeroAmount(r.AmountDue.Currency)

	if cmp > 0 {
		if !policy.allows(in.AcknowledgeOverpayment) {
			return nil, fmt.Errorf("%w: %s requested, %s remaining", ErrOverpayment, in.Amount, remaining)
		}

		applied = remaining
		if unapplied, err = in.Amount.Sub(remaining); err != nil {
			return nil, err
		}
	}

	return r.apply(applied, unapplied, PaymentKindPartial, in, now)
}

// MarkAsPaid settles the whole remaining balance. The ledger entry carries only
// the delta between amount due and amount already paid.
func (r BillingRecord) MarkAsPaid(in PaymentInput, now time.Time) (*PaymentOutcome, error) {
	if err := r.ensurePayable(); err != nil {
		return nil, err
	}

	if err := in.Validate(); err != nil {
		return nil, err
	}

	delta, err := r.payableRemainder()
	if err != nil {
		return nil, err
	}

	return r.apply(delta, ZeroAmount(r.AmountDue.Currency), PaymentKindFull, in, now)
}

func (r BillingRecord) ensurePayable() error {
	if r.DeletedAt != nil {
		return ErrNotFound
	}

	switch r.Status {
	case BillingStatusPaid:
		return fmt.Errorf("%w: record %s is already paid", ErrInvalidState, r.ID)
	case BillingStatusUnpaid, BillingStatusPartiallyPaid:
		return nil
	default:
		return fmt.Errorf("%w: unknown status %q", ErrInconsistentRecord, r.Status)
	}
}

func (r BillingRecord) payableRemainder() (Amount, error) {
	remaining, err := r.Remaining()
	if err != nil {
		return Amount{}, err
	}

	if !remaining.IsPositive() {
		return Amount{}, fmt.Errorf("%w: record %s has no remaining balance", ErrInvalidState, r.ID)
	}

	return remaining, nil
}

func (r BillingRecord) apply(applied, unapplied Amount, kind PaymentKind, in PaymentInput, now time.Time) (*PaymentOutcome, error) {
	paid, err := r.AmountPaid.Add(applied)
	if err != nil {
		return nil, err
	}

	paidAt := now

	next := r
	next.AmountPaid = paid
	next.Status = StatusFor(paid, r.AmountDue)
	next.PaymentMethod = in.Method
	next.PaymentNote = in.Note
	next.PaidBy = in.PaidBy
	next.PaidAt = &paidAt
	next.UpdatedAt = now
	next.Version = r.Version + 1

	return &PaymentOutcome{
		Record: next,
		Transaction: PaymentTransaction{
			ID:              in.TransactionID,
			BillingRecordID: r.ID,
			SchoolID:        r.SchoolID,
			Amount:          applied,
			AmountPaidAfter: paid,
			PaymentMethod:   in.Method,
			PaymentNote:     in.Note,
			PaidBy:          in.PaidBy,
			PaidAt:          now,
			Kind:            kind,
			RecordVersion:   next.Version,
			CreatedAt:       now,
		},
		Unapplied: unapplied,
	}, nil
}

// Validate checks the amount and status invariants of a record.
func (r BillingRecord) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return ErrMissingRecordID
	}

	if strings.TrimSpace(r.SchoolID) == "" {
		return ErrMissingTenant
	}

	if err := ValidateCurrency(r.AmountDue.Currency); err != nil {
		return err
	}

	if r.AmountPaid.Currency != r.AmountDue.Currency {
		return fmt.Errorf("%w: due in %s, paid in %s", ErrCurrencyMismatch, r.AmountDue.Currency, r.AmountPaid.Currency)
	}

	if !r.AmountDue.IsPositive() {
		return ErrInvalidAmount
	}

	if r.AmountPaid.IsNegative() || r.AmountPaid.Minor > r.AmountDue.Minor {
		return fmt.Errorf("%w: paid %s of %s", ErrInconsistentRecord, r.AmountPaid, r.AmountDue)
	}

	if want := StatusFor(r.AmountPaid, r.AmountDue); r.Status != want {
		return fmt.Errorf("%w: status %s but paid %s of %s", ErrInconsistentRecord, r.Status, r.AmountPaid, r.AmountDue)
	}

	return nil
}

// PaymentApplication is everything the ledger store commits for one payment.
type PaymentApplication struct {
	Audit           *AuditLog
	Events          []*OutboxEvent
	Record          BillingRecord
	Transaction     PaymentTransaction
	ExpectedVersion int64
}

// Validate checks that the transaction belongs to the record and that the
// record's paid total after the payment is what the transaction claims.
func (a *PaymentApplication) Validate() error {
	rec, tx := a.Record, a.Transaction

	if tx.BillingRecordID != rec.ID || tx.SchoolID != rec.SchoolID {
		return fmt.Errorf("%w: transaction does not belong to record %s", ErrInvalidArgument, rec.ID)
	}

	if err := rec.Validate(); err != nil {
		return err
	}

	if !tx.Amount.IsPositive() {
		return ErrInvalidAmount
	}

	if tx.Amount.Currency != rec.AmountDue.Currency || tx.AmountPaidAfter != rec.AmountPaid {
		return fmt.Errorf("%w: transaction leaves %s paid, record says %s", ErrInconsistentRecord, tx.AmountPaidAfter, rec.AmountPaid)
	}

	if tx.RecordVersion != rec.Version || rec.Version != a.ExpectedVersion+1 {
		return fmt.Errorf("%w: version %d does not follow %d", ErrInconsistentRecord, rec.Version, a.ExpectedVersion)
	}

	return nil
}

// PriorPaid is the paid total the record must hold before the payment.
func (a *PaymentApplication) PriorPaid() (Amount, error) {
	return a.Record.AmountPaid.Sub(a.Transaction.Amount)
}
