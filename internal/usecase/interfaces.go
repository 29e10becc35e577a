package usecase

import (
	"context"
	"time"

	"github.com/iho/schoolbilling/internal/domain"
)

// BillingRecordRepository defines data access for billing records.
// Every lookup is scoped to a school; a record owned by another school is ErrNotFound.
type BillingRecordRepository interface {
	Create(ctx context.Context, record *domain.BillingRecord) error
	GetByID(ctx context.Context, id, schoolID string) (*domain.BillingRecord, error)
	ListBySchool(ctx context.Context, schoolID string, limit, offset int) ([]*domain.BillingRecord, error)
}

// PaymentTransactionRepository defines read access to the payment ledger.
type PaymentTransactionRepository interface {
	ListByRecord(ctx context.Context, recordID, schoolID string, limit, offset int) ([]*domain.PaymentTransaction, error)
	// SumByRecord returns the ledger total of a record and the number of entries.
	SumByRecord(ctx context.Context, recordID, schoolID, currency string) (domain.Amount, int64, error)
}

// BillingLedgerStore commits a payment atomically: the record update, its ledger
// entry, outbox events and audit log are all written or none is.
type BillingLedgerStore interface {
	// ApplyPayment returns domain.ErrNotFound when the record is not visible to
	// schoolID and domain.ErrConcurrency when app.ExpectedVersion is stale.
	ApplyPayment(ctx context.Context, schoolID string, app *domain.PaymentApplication) error
}

// ReportRepository defines the read projections used by aggregation.
type ReportRepository interface {
	StatusTotals(ctx context.Context, filter domain.ReportFilter) ([]domain.StatusTotal, error)
	CollectedByMethod(ctx context.Context, filter domain.ReportFilter) ([]domain.MethodTotal, error)
	RecentPayments(ctx context.Context, filter domain.ReportFilter, limit int) ([]*domain.PaymentTransaction, error)
}

// OutboxRepository defines data access for outbox events.
type OutboxRepository interface {
	GetUnpublished(ctx context.Context, limit int) ([]*domain.OutboxEvent, error)
	MarkPublished(ctx context.Context, id string, publishedAt time.Time) error
	DeletePublished(ctx context.Context, before time.Time) error
}

// AuditRepository defines read access to audit logs.
type AuditRepository interface {
	List(ctx context.Context, filter domain.AuditFilter) ([]*domain.AuditLog, error)
}

// IDGenerator generates unique IDs.
type IDGenerator interface {
	Generate() string
}

// Retrier re-runs an operation that lost a concurrency race.
type Retrier interface {
	Retry(ctx context.Context, operation func() error) error
}

// ReportCache caches serialized reports per school. Entries live under a
// per-school generation that Invalidate advances.
type ReportCache interface {
	Generation(ctx context.Context, schoolID string) (string, error)
	// Get returns ok=false on a miss.
	Get(ctx context.Context, schoolID, gen, key string) (value []byte, ok bool, err error)
	Set(ctx context.Context, schoolID, gen, key string, value []byte, ttl time.Duration) error
	// Invalidate drops every cached report of a school.
	Invalidate(ctx context.Context, schoolID string) error
}

// IdempotencyStore handles idempotency key storage.
type IdempotencyStore interface {
	// CheckAndSet atomically checks if key exists, sets if not.
	// Returns (exists, existingValue, error).
	CheckAndSet(ctx context.Context, key string, response []byte, ttl time.Duration) (bool, []byte, error)
	// Update updates an existing key with the final response.
	Update(ctx context.Context, key string, response []byte, ttl time.Duration) error
}
