package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/iho/schoolbilling/internal/domain"
)

const billingRecordColumns = `id, school_id, student_id, school_year_id, description, currency,
	amount_due_minor, amount_paid_minor, status, payment_method, payment_note, paid_by,
	paid_at, due_date, version, created_at, updated_at, deleted_at`

// BillingRecordRepository implements usecase.BillingRecordRepository.
type BillingRecordRepository struct {
	db querier
}

// NewBillingRecordRepository creates a new BillingRecordRepository.
func NewBillingRecordRepository(pool *pgxpool.Pool) *BillingRecordRepository {
	return &BillingRecordRepository{db: pool}
}

// Create inserts a new billing record.
func (r *BillingRecordRepository) Create(ctx context.Context, record *domain.BillingRecord) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO billing_records (`+billingRecordColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		record.ID,
		record.SchoolID,
		record.StudentID,
		record.SchoolYearID,
		record.Description,
		record.AmountDue.Currency,
		record.AmountDue.Minor,
		record.AmountPaid.Minor,
		string(record.Status),
		string(record.PaymentMethod),
		record.PaymentNote,
		record.PaidBy,
		record.PaidAt,
		record.DueDate,
		record.Version,
		record.CreatedAt,
		record.UpdatedAt,
		record.DeletedAt,
	)

	return mapError(err)
}

// GetByID returns a live record owned by schoolID.
func (r *BillingRecordRepository) GetByID(ctx context.Context, id, schoolID string) (*domain.BillingRecord, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+billingRecordColumns+`
		FROM billing_records
		WHERE id = $1 AND school_id = $2 AND deleted_at IS NULL`,
		id, schoolID,
	)

	record, err := scanBillingRecord(row)
	if err != nil {
		return nil, mapError(err)
	}

	return record, nil
}

// ListBySchool lists the live records of a school in creation order.
func (r *BillingRecordRepository) ListBySchool(ctx context.Context, schoolID string, limit, offset int) ([]*domain.BillingRecord, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+billingRecordColumns+`
		FROM billing_records
		WHERE school_id = $1 AND deleted_at IS NULL
		ORDER BY created_at, id
		LIMIT $2 OFFSET $3`,
		schoolID, limit, offset,
	)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	records := make([]*domain.BillingRecord, 0, limit)
	for rows.Next() {
		record, err := scanBillingRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}

	return records, mapError(rows.Err())
}

func scanBillingRecord(row pgx.Row) (*domain.BillingRecord, error) {
	var (
		r        domain.BillingRecord
		currency string
		status   string
		method   string
		paidAt   *time.Time
		deleted  *time.Time
	)

	err := row.Scan(
		&r.ID,
		&r.SchoolID,
		&r.StudentID,
		&r.SchoolYearID,
		&r.Description,
		&currency,
		&r.AmountDue.Minor,
		&r.AmountPaid.Minor,
		&status,
		&method,
		&r.PaymentNote,
		&r.PaidBy,
		&paidAt,
		&r.DueDate,
		&r.Version,
		&r.CreatedAt,
		&r.UpdatedAt,
		&deleted,
	)
	if err != nil {
		return nil, err
	}

	r.AmountDue.Currency = currency
	r.AmountPaid.Currency = currency
	r.Status = domain.BillingStatus(status)
	r.PaymentMethod = domain.PaymentMethod(method)
	r.PaidAt = paidAt
	r.DeletedAt = deleted

	return &r, nil
}
