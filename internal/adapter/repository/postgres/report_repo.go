package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/iho/schoolbilling/internal/domain"
)

// ReportRepository implements usecase.ReportRepository with grouped SQL
// aggregates. Records are windowed on due_date and ledger entries on paid_at.
type ReportRepository struct {
	db querier
}

// NewReportRepository creates a new ReportRepository.
func NewReportRepository(pool *pgxpool.Pool) *ReportRepository {
	return &ReportRepository{db: pool}
}

// StatusTotals groups the records matching f by currency and status.
func (r *ReportRepository) StatusTotals(ctx context.Context, f domain.ReportFilter) ([]domain.StatusTotal, error) {
	rows, err := r.db.Query(ctx, `
		SELECT currency, status, COUNT(*)::BIGINT,
		       COALESCE(SUM(amount_due_minor), 0)::BIGINT,
		       COALESCE(SUM(amount_paid_minor), 0)::BIGINT
		FROM billing_records
		WHERE school_id = $1
		  AND deleted_at IS NULL
		  AND ($2::timestamptz IS NULL OR due_date >= $2)
		  AND ($3::timestamptz IS NULL OR due_date <= $3)
		  AND ($4::text IS NULL OR school_year_id = $4)
		GROUP BY currency, status
		ORDER BY currency, status`,
		f.SchoolID, f.StartDate, f.EndDate, f.SchoolYearID,
	)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	out := make([]domain.StatusTotal, 0)
	for rows.Next() {
		var (
			t      domain.StatusTotal
			status string
		)

		if err := rows.Scan(&t.Currency, &status, &t.Count, &t.AmountDueMinor, &t.AmountPaidMinor); err != nil {
			return nil, err
		}

		t.Status = domain.BillingStatus(status)
		out = append(out, t)
	}

	return out, mapError(rows.Err())
}

// CollectedByMethod sums ledger entries paid inside the window of f.
func (r *ReportRepository) CollectedByMethod(ctx context.Context, f domain.ReportFilter) ([]domain.MethodTotal, error) {
	rows, err := r.db.Query(ctx, `
		SELECT t.currency, t.payment_method, COUNT(*)::BIGINT, COALESCE(SUM(t.amount_minor), 0)::BIGINT
		FROM payment_transactions t
		JOIN billing_records b ON b.id = t.billing_record_id AND b.school_id = t.school_id
		WHERE t.school_id = $1
		  AND b.deleted_at IS NULL
		  AND ($2::timestamptz IS NULL OR t.paid_at >= $2)
		  AND ($3::timestamptz IS NULL OR t.paid_at <= $3)
		  AND ($4::text IS NULL OR b.school_year_id = $4)
		GROUP BY t.currency, t.payment_method
		ORDER BY t.currency, t.payment_method`,
		f.SchoolID, f.StartDate, f.EndDate, f.SchoolYearID,
	)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	out := make([]domain.MethodTotal, 0)
	for rows.Next() {
		var (
			t      domain.MethodTotal
			method string
		)

		if err := rows.Scan(&t.Currency, &method, &t.Count, &t.AmountMinor); err != nil {
			return nil, err
		}

		t.Method = domain.PaymentMethod(method)
		out = append(out, t)
	}

	return out, mapError(rows.Err())
}

// RecentPayments returns the latest ledger entries inside the window of f.
func (r *ReportRepository) RecentPayments(ctx context.Context, f domain.ReportFilter, limit int) ([]*domain.PaymentTransaction, error) {
	rows, err := r.db.Query(ctx, `
		SELECT t.id, t.billing_record_id, t.school_id, t.currency, t.amount_minor,
		       t.amount_paid_after_minor, t.payment_method, t.payment_note, t.paid_by, t.kind,
		       t.record_version, t.paid_at, t.created_at
		FROM payment_transactions t
		JOIN billing_records b ON b.id = t.billing_record_id AND b.school_id = t.school_id
		WHERE t.school_id = $1
		  AND b.deleted_at IS NULL
		  AND ($2::timestamptz IS NULL OR t.paid_at >= $2)
		  AND ($3::timestamptz IS NULL OR t.paid_at <= $3)
		  AND ($4::text IS NULL OR b.school_year_id = $4)
		ORDER BY t.paid_at DESC, t.id DESC
		LIMIT $5`,
		f.SchoolID, f.StartDate, f.EndDate, f.SchoolYearID, limit,
	)
	if err != nil {
		return nil, mapError(err)
	}

	return collectTransactions(rows, limit)
}
