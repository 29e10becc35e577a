package domain

import (
	"encoding/json"
	"time"
)

// AuditLog represents an audit trail entry for compliance and debugging
type AuditLog struct {
	CreatedAt    time.Time
	BeforeState  JSON // State before the action
	AfterState   JSON // State after the action
	ID           string
	SchoolID     string
	UserID       string // Who performed the action
	Action       string
	ResourceType string
	ResourceID   string
	RequestID    string
	Status       string
	ErrorMessage string
}

// JSON is a type alias for JSON data
type JSON map[string]any

// AuditAction represents different types of auditable actions
type AuditAction string

const (
	AuditActionPaymentFull    AuditAction = "payment.full"
	AuditActionPaymentPartial AuditAction = "payment.partial"
	AuditActionRecordCreate   AuditAction = "billing_record.create"
)

// AuditStatus represents the status of an audited action
type AuditStatus string

const (
	AuditStatusSuccess AuditStatus = "success"
	AuditStatusFailure AuditStatus = "failure"
)

// AuditActionFor maps a payment kind to its audit action.
func AuditActionFor(kind PaymentKind) AuditAction {
	if kind == PaymentKindFull {
		return AuditActionPaymentFull
	}
	return AuditActionPaymentPartial
}

// AuditSnapshot is the audited view of a billing record.
type AuditSnapshot struct {
	Status      string `json:"status"`
	AmountDue   int64  `json:"amount_due_minor"`
	AmountPaid  int64  `json:"amount_paid_minor"`
	Currency    string `json:"currency"`
	Version     int64  `json:"version"`
	PaidBy      string `json:"paid_by,omitempty"`
	Method      string `json:"payment_method,omitempty"`
	Transaction string `json:"transaction_id,omitempty"`
}

// SnapshotOf captures the audited fields of r.
func SnapshotOf(r BillingRecord) AuditSnapshot {
	return AuditSnapshot{
		Status:     string(r.Status),
		AmountDue:  r.AmountDue.Minor,
		AmountPaid: r.AmountPaid.Minor,
		Currency:   r.AmountDue.Currency,
		Version:    r.Version,
		PaidBy:     r.PaidBy,
		Method:     string(r.PaymentMethod),
	}
}

// PaymentAudit builds the audit entry for a payment moving before to o.Record.
func PaymentAudit(id, userID, requestID string, before BillingRecord, o *PaymentOutcome) *AuditLog {
	after := SnapshotOf(o.Record)
	after.Transaction = o.Transaction.ID

	return &AuditLog{
		ID:           id,
		SchoolID:     before.SchoolID,
		UserID:       userID,
		Action:       string(AuditActionFor(o.Transaction.Kind)),
		ResourceType: AggregateTypeBillingRecord,
		ResourceID:   before.ID,
		RequestID:    requestID,
		BeforeState:  MarshalState(SnapshotOf(before)),
		AfterState:   MarshalState(after),
		Status:       string(AuditStatusSuccess),
		CreatedAt:    o.Transaction.CreatedAt,
	}
}

// MarshalState converts a domain object to JSON for audit logging
func MarshalState(v any) JSON {
	if v == nil {
		return nil
	}

	data, err := json.Marshal(v)
	if err != nil {
		return JSON{"error": "failed to marshal state"}
	}

	var result JSON
	if err := json.Unmarshal(data, &result); err != nil {
		return JSON{"error": "failed to unmarshal state"}
	}

	return result
}

// AuditFilter defines filters for querying audit logs
type AuditFilter struct {
	StartDate    *time.Time
	EndDate      *time.Time
	SchoolID     string
	UserID       string
	Action       string
	ResourceType string
	ResourceID   string
	Limit        int
	Offset       int
}
