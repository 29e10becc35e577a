package domain

import "time"

// Event types
const (
	EventTypePaymentRecorded   = "payment.recorded"
	EventTypeBillingRecordPaid = "billing_record.paid"
)

// Aggregate types
const (
	AggregateTypeBillingRecord = "billing_record"
)

// OutboxEvent represents an event to be published
type OutboxEvent struct {
	CreatedAt     time.Time
	PublishedAt   *time.Time
	Payload       map[string]any
	ID            string
	SchoolID      string
	AggregateID   string
	AggregateType string
	EventType     string
	Published     bool
}

// PaymentRecordedEvent payload
type PaymentRecordedEvent struct {
	TransactionID   string `json:"transaction_id"`
	BillingRecordID string `json:"billing_record_id"`
	SchoolID        string `json:"school_id"`
	Kind            string `json:"kind"`
	Amount          string `json:"amount"`
	AmountMinor     int64  `json:"amount_minor"`
	Currency        string `json:"currency"`
	PaymentMethod   string `json:"payment_method"`
	PaidBy          string `json:"paid_by"`
	Status          string `json:"status"`
	Unapplied       string `json:"unapplied,omitempty"`
	EventAt         string `json:"event_at"`
}

// BillingRecordPaidEvent payload
type BillingRecordPaidEvent struct {
	BillingRecordID string `json:"billing_record_id"`
	SchoolID        string `json:"school_id"`
	StudentID       string `json:"student_id"`
	AmountDue       string `json:"amount_due"`
	Currency        string `json:"currency"`
	EventAt         string `json:"event_at"`
}

// PaymentEvents builds the outbox events for a committed payment outcome.
// ids supplies event identifiers.
func PaymentEvents(o *PaymentOutcome, ids func() string) []*OutboxEvent {
	rec, tx := o.Record, o.Transaction
	at := tx.PaidAt.UTC().Format(time.RFC3339Nano)

	var unapplied string
	if o.Unapplied.IsPositive() {
		unapplied = o.Unapplied.Decimal().StringFixed(CurrencyExponent(o.Unapplied.Currency))
	}

	events := []*OutboxEvent{{
		ID:            ids(),
		SchoolID:      rec.SchoolID,
		AggregateID:   rec.ID,
		AggregateType: AggregateTypeBillingRecord,
		EventType:     EventTypePaymentRecorded,
		Payload: MarshalState(PaymentRecordedEvent{
			TransactionID:   tx.ID,
			BillingRecordID: rec.ID,
			SchoolID:        rec.SchoolID,
			Kind:            string(tx.Kind),
			Amount:          tx.Amount.Decimal().StringFixed(CurrencyExponent(tx.Amount.Currency)),
			AmountMinor:     tx.Amount.Minor,
			Currency:        tx.Amount.Currency,
			PaymentMethod:   string(tx.PaymentMethod),
			PaidBy:          tx.PaidBy,
			Status:          string(rec.Status),
			Unapplied:       unapplied,
			EventAt:         at,
		}),
		CreatedAt: tx.CreatedAt,
	}}

	if rec.Status == BillingStatusPaid {
		events = append(events, &OutboxEvent{
			ID:            ids(),
			SchoolID:      rec.SchoolID,
			AggregateID:   rec.ID,
			AggregateType: AggregateTypeBillingRecord,
			EventType:     EventTypeBillingRecordPaid,
			Payload: MarshalState(BillingRecordPaidEvent{
				BillingRecordID: rec.ID,
				SchoolID:        rec.SchoolID,
				StudentID:       rec.StudentID,
				AmountDue:       rec.AmountDue.Decimal().StringFixed(CurrencyExponent(rec.AmountDue.Currency)),
				Currency:        rec.AmountDue.Currency,
				EventAt:         at,
			}),
			CreatedAt: tx.CreatedAt,
		})
	}

	return events
}
