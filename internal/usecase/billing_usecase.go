package usecase

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/iho/schoolbilling/internal/domain"
)

// BillingUseCase serves tenant-scoped reads of records and their ledger, and
// seeds records for development.
type BillingUseCase struct {
	records      BillingRecordRepository
	transactions PaymentTransactionRepository
	audits       AuditRepository
	cache        ReportCache
	idGen        IDGenerator
	logger       zerolog.Logger
}

// NewBillingUseCase creates a new BillingUseCase. audits and cache may be nil.
func NewBillingUseCase(
	records BillingRecordRepository,
	transactions PaymentTransactionRepository,
	audits AuditRepository,
	cache ReportCache,
	idGen IDGenerator,
	logger zerolog.Logger,
) *BillingUseCase {
	return &BillingUseCase{
		records:      records,
		transactions: transactions,
		audits:       audits,
		cache:        cache,
		idGen:        idGen,
		logger:       logger.With().Str("component", "billing").Logger(),
	}
}

// GetBillingRecord returns a record owned by schoolID.
func (uc *BillingUseCase) GetBillingRecord(ctx context.Context, id, schoolID string) (*domain.BillingRecord, error) {
	if err := domain.ValidateTenant(id, schoolID); err != nil {
		return nil, err
	}

	return uc.records.GetByID(ctx, id, schoolID)
}

// ListPaymentTransactions returns the ledger of a record in insertion order.
func (uc *BillingUseCase) ListPaymentTransactions(ctx context.Context, id, schoolID string, limit, offset int) ([]*domain.PaymentTransaction, error) {
	if err := domain.ValidateTenant(id, schoolID); err != nil {
		return nil, err
	}

	// Resolve the record first so another school's id is indistinguishable from a missing one.
	if _, err := uc.records.GetByID(ctx, id, schoolID); err != nil {
		return nil, err
	}

	limit, offset = domain.ValidatePagination(limit, offset)

	return uc.transactions.ListByRecord(ctx, id, schoolID, limit, offset)
}

// ListAuditTrail returns the audit log entries of a record.
func (uc *BillingUseCase) ListAuditTrail(ctx context.Context, id, schoolID string, limit, offset int) ([]*domain.AuditLog, error) {
	if err := domain.ValidateTenant(id, schoolID); err != nil {
		return nil, err
	}

	if uc.audits == nil {
		return []*domain.AuditLog{}, nil
	}

	if _, err := uc.records.GetByID(ctx, id, schoolID); err != nil {
		return nil, err
	}

	limit, offset = domain.ValidatePagination(limit, offset)

	return uc.audits.List(ctx, domain.AuditFilter{
		SchoolID:     schoolID,
		ResourceType: domain.AggregateTypeBillingRecord,
		ResourceID:   id,
		Limit:        limit,
		Offset:       offset,
	})
}

// CreateBillingRecordInput describes a record to seed.
type CreateBillingRecordInput struct {
	DueDate      time.Time
	SchoolID     string
	StudentID    string
	SchoolYearID string
	Description  string
	AmountDue    domain.Amount
}

// CreateBillingRecord seeds an unpaid record. Billing generation normally owns
// record creation; this path serves development and tests.
func (uc *BillingUseCase) CreateBillingRecord(ctx context.Context, input CreateBillingRecordInput) (*domain.BillingRecord, error) {
	record, err := domain.NewBillingRecord(domain.NewBillingRecordInput{
		ID:           uc.idGen.Generate(),
		SchoolID:     input.SchoolID,
		StudentID:    input.StudentID,
		SchoolYearID: input.SchoolYearID,
		Description:  input.Description,
		AmountDue:    input.AmountDue,
		DueDate:      input.DueDate,
	}, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	if err := uc.records.Create(ctx, record); err != nil {
		return nil, err
	}

	if uc.cache != nil {
		if err := uc.cache.Invalidate(ctx, record.SchoolID); err != nil {
			uc.logger.Error().Err(err).Str("school_id", record.SchoolID).Msg("failed to invalidate report cache")
		}
	}

	uc.logger.Info().
		Str("billing_record_id", record.ID).
		Str("school_id", record.SchoolID).
		Str("amount_due", record.AmountDue.String()).
		Msg("billing record created")

	return record, nil
}
