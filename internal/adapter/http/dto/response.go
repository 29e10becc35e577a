package dto

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/iho/schoolbilling/internal/domain"
	"github.com/iho/schoolbilling/internal/usecase"
)

// BillingRecordResponse represents a billing record in API responses.
type BillingRecordResponse struct {
	ID            string          `json:"id"`
	SchoolID      string          `json:"school_id"`
	StudentID     string          `json:"student_id"`
	SchoolYearID  string          `json:"school_year_id,omitempty"`
	Description   string          `json:"description,omitempty"`
	Currency      string          `json:"currency"`
	AmountDue     decimal.Decimal `json:"amount_due"`
	AmountPaid    decimal.Decimal `json:"amount_paid"`
	Remaining     decimal.Decimal `json:"remaining"`
	Status        string          `json:"status"`
	PaymentMethod string          `json:"payment_method,omitempty"`
	PaymentNote   string          `json:"payment_note,omitempty"`
	PaidBy        string          `json:"paid_by,omitempty"`
	PaidAt        *time.Time      `json:"paid_at,omitempty"`
	DueDate       string          `json:"due_date"`
	Version       int64           `json:"version"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// BillingRecordFromDomain converts a domain record to response.
func BillingRecordFromDomain(r *domain.BillingRecord) *BillingRecordResponse {
	remaining := decimal.Zero
	if rem, err := r.Remaining(); err == nil {
		remaining = rem.Decimal()
	}

	return &BillingRecordResponse{
		ID:            r.ID,
		SchoolID:      r.SchoolID,
		StudentID:     r.StudentID,
		SchoolYearID:  r.SchoolYearID,
		Description:   r.Description,
		Currency:      r.AmountDue.Currency,
		AmountDue:     r.AmountDue.Decimal(),
		AmountPaid:    r.AmountPaid.Decimal(),
		Remaining:     remaining,
		Status:        string(r.Status),
		PaymentMethod: string(r.PaymentMethod),
		PaymentNote:   r.PaymentNote,
		PaidBy:        r.PaidBy,
		PaidAt:        r.PaidAt,
		DueDate:       r.DueDate.Format(DateLayout),
		Version:       r.Version,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}

// PaymentTransactionResponse represents a ledger entry in API responses.
type PaymentTransactionResponse struct {
	ID              string          `json:"id"`
	BillingRecordID string          `json:"billing_record_id"`
	Kind            string          `json:"kind"`
	Currency        string          `json:"currency"`
	Amount          decimal.Decimal `json:"amount"`
	AmountPaidAfter decimal.Decimal `json:"amount_paid_after"`
	PaymentMethod   string          `json:"payment_method"`
	PaymentNote     string          `json:"payment_note,omitempty"`
	PaidBy          string          `json:"paid_by"`
	PaidAt          time.Time       `json:"paid_at"`
	RecordVersion   int64           `json:"record_version"`
}

// PaymentTransactionFromDomain converts a domain transaction to response.
func PaymentTransactionFromDomain(t *domain.PaymentTransaction) *PaymentTransactionResponse {
	return &PaymentTransactionResponse{
		ID:              t.ID,
		BillingRecordID: t.BillingRecordID,
		Kind:            string(t.Kind),
		Currency:        t.Amount.Currency,
		Amount:          t.Amount.Decimal(),
		AmountPaidAfter: t.AmountPaidAfter.Decimal(),
		PaymentMethod:   string(t.PaymentMethod),
		PaymentNote:     t.PaymentNote,
		PaidBy:          t.PaidBy,
		PaidAt:          t.PaidAt,
		RecordVersion:   t.RecordVersion,
	}
}

// PaymentTransactionsFromDomain converts domain transactions to responses.
func PaymentTransactionsFromDomain(txs []*domain.PaymentTransaction) []*PaymentTransactionResponse {
	result := make([]*PaymentTransactionResponse, len(txs))
	for i, t := range txs {
		result[i] = PaymentTransactionFromDomain(t)
	}
	return result
}

// PaymentResponse is the committed state after a payment.
type PaymentResponse struct {
	BillingRecord *BillingRecordResponse      `json:"billing_record"`
	Transaction   *PaymentTransactionResponse `json:"transaction"`
	Unapplied     *decimal.Decimal            `json:"unapplied,omitempty"`
}

// PaymentFromResult converts a use case result to response.
func PaymentFromResult(r *usecase.PaymentResult) *PaymentResponse {
	resp := &PaymentResponse{
		BillingRecord: BillingRecordFromDomain(r.Record),
		Transaction:   PaymentTransactionFromDomain(r.Transaction),
	}

	if r.Unapplied.IsPositive() {
		u := r.Unapplied.Decimal()
		resp.Unapplied = &u
	}

	return resp
}

// AuditLogResponse represents an audit entry in API responses.
type AuditLogResponse struct {
	ID           string      `json:"id"`
	UserID       string      `json:"user_id"`
	Action       string      `json:"action"`
	ResourceType string      `json:"resource_type"`
	ResourceID   string      `json:"resource_id"`
	RequestID    string      `json:"request_id,omitempty"`
	Status       string      `json:"status"`
	BeforeState  domain.JSON `json:"before_state,omitempty"`
	AfterState   domain.JSON `json:"after_state,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
}

// AuditLogsFromDomain converts domain audit logs to responses.
func AuditLogsFromDomain(logs []*domain.AuditLog) []*AuditLogResponse {
	result := make([]*AuditLogResponse, len(logs))
	for i, l := range logs {
		result[i] = &AuditLogResponse{
			ID:           l.ID,
			UserID:       l.UserID,
			Action:       l.Action,
			ResourceType: l.ResourceType,
			ResourceID:   l.ResourceID,
			RequestID:    l.RequestID,
			Status:       l.Status,
			BeforeState:  l.BeforeState,
			AfterState:   l.AfterState,
			CreatedAt:    l.CreatedAt,
		}
	}
	return result
}

// ErrorResponse represents an error in API responses.
type ErrorResponse struct {
	Error   string            `json:"error"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}
