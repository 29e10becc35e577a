package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/iho/schoolbilling/internal/domain"
)

// ReconciliationUseCase checks that every record agrees with its payment ledger.
type ReconciliationUseCase struct {
	records      BillingRecordRepository
	transactions PaymentTransactionRepository
	logger       zerolog.Logger
	now          func() time.Time
}

// NewReconciliationUseCase creates a new reconciliation use case
func NewReconciliationUseCase(
	records BillingRecordRepository,
	transactions PaymentTransactionRepository,
	logger zerolog.Logger,
) *ReconciliationUseCase {
	return &ReconciliationUseCase{
		records:      records,
		transactions: transactions,
		logger:       logger.With().Str("component", "reconciliation").Logger(),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// ReconciliationResult represents the result of a reconciliation check
type ReconciliationResult struct {
	CheckedAt        time.Time            `json:"checked_at"`
	BillingRecordID  string               `json:"billing_record_id"`
	SchoolID         string               `json:"school_id"`
	Status           domain.BillingStatus `json:"status"`
	Issue            string               `json:"issue,omitempty"`
	RecordedPaid     domain.Amount        `json:"recorded_paid"`
	LedgerTotal      domain.Amount        `json:"ledger_total"`
	Difference       domain.Amount        `json:"difference"`
	TransactionCount int64                `json:"transaction_count"`
	IsReconciled     bool                 `json:"is_reconciled"`
}

// ReconcileRecord compares the paid total of a record with the sum of its
// ledger and checks its status invariants.
func (uc *ReconciliationUseCase) ReconcileRecord(ctx context.Context, id, schoolID string) (*ReconciliationResult, error) {
	if err := domain.ValidateTenant(id, schoolID); err != nil {
		return nil, err
	}

	record, err := uc.records.GetByID(ctx, id, schoolID)
	if err != nil {
		return nil, err
	}

	return uc.reconcile(ctx, record)
}

func (uc *ReconciliationUseCase) reconcile(ctx context.Context, record *domain.BillingRecord) (*ReconciliationResult, error) {
	currency := record.AmountDue.Currency

	total, count, err := uc.transactions.SumByRecord(ctx, record.ID, record.SchoolID, currency)
	if err != nil {
		return nil, fmt.Errorf("sum ledger of %s: %w", record.ID, err)
	}

	result := &ReconciliationResult{
		BillingRecordID:  record.ID,
		SchoolID:         record.SchoolID,
		Status:           record.Status,
		RecordedPaid:     record.AmountPaid,
		LedgerTotal:      total,
		TransactionCount: count,
		CheckedAt:        uc.now(),
	}

	diff, err := record.AmountPaid.Sub(total)
	if err != nil {
		result.Difference = domain.ZeroAmount(currency)
		result.Issue = err.Error()
		return result, nil
	}
	result.Difference = diff

	switch {
	case !diff.IsZero():
		result.Issue = fmt.Sprintf("amount paid %s differs from ledger total %s", record.AmountPaid, total)
	default:
		if err := record.Validate(); err != nil {
			result.Issue = err.Error()
		}
	}

	result.IsReconciled = result.Issue == ""

	return result, nil
}

// ReconciliationReport represents a full reconciliation report
type ReconciliationReport struct {
	CheckedAt         time.Time               `json:"checked_at"`
	SchoolID          string                  `json:"school_id"`
	Discrepancies     []*ReconciliationResult `json:"discrepancies"`
	TotalRecords      int                     `json:"total_records"`
	ReconciledRecords int                     `json:"reconciled_records"`
}

// ReconcileSchool reconciles every record of a school.
func (uc *ReconciliationUseCase) ReconcileSchool(ctx context.Context, schoolID string) (*ReconciliationReport, error) {
	if schoolID == "" {
		return nil, domain.ErrMissingTenant
	}

	report := &ReconciliationReport{
		SchoolID:      schoolID,
		Discrepancies: make([]*ReconciliationResult, 0),
	}

	for offset := 0; ; offset += ReconcileBatchSize {
		records, err := uc.records.ListBySchool(ctx, schoolID, ReconcileBatchSize, offset)
		if err != nil {
			return nil, err
		}

		for _, record := range records {
			result, err := uc.reconcile(ctx, record)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return nil, err
				}
				return nil, fmt.Errorf("failed to reconcile billing record %s: %w", record.ID, err)
			}

			report.TotalRecords++
			if result.IsReconciled {
				report.ReconciledRecords++
			} else {
				report.Discrepancies = append(report.Discrepancies, result)
			}
		}

		if len(records) < ReconcileBatchSize {
			break
		}
	}

	report.CheckedAt = uc.now()

	if n := len(report.Discrepancies); n > 0 {
		uc.logger.Warn().
			Str("school_id", schoolID).
			Int("discrepancies", n).
			Int("records", report.TotalRecords).
			Msg("billing ledger discrepancies found")
	}

	return report, nil
}
