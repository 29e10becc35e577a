package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/iho/schoolbilling/internal/domain"
)

const paymentTransactionColumns = `id, billing_record_id, school_id, currency, amount_minor,
	amount_paid_after_minor, payment_method, payment_note, paid_by, kind, record_version,
	paid_at, created_at`

// PaymentTransactionRepository implements usecase.PaymentTransactionRepository.
type PaymentTransactionRepository struct {
	db querier
}

// NewPaymentTransactionRepository creates a new PaymentTransactionRepository.
func NewPaymentTransactionRepository(pool *pgxpool.Pool) *PaymentTransactionRepository {
	return &PaymentTransactionRepository{db: pool}
}

// ListByRecord returns the ledger of a record in the order it was written.
func (r *PaymentTransactionRepository) ListByRecord(ctx context.Context, recordID, schoolID string, limit, offset int) ([]*domain.PaymentTransaction, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+paymentTransactionColumns+`
		FROM payment_transactions
		WHERE billing_record_id = $1 AND school_id = $2
		ORDER BY record_version
		LIMIT $3 OFFSET $4`,
		recordID, schoolID, limit, offset,
	)
	if err != nil {
		return nil, mapError(err)
	}

	return collectTransactions(rows, limit)
}

// SumByRecord adds up the ledger of a record in currency.
func (r *PaymentTransactionRepository) SumByRecord(ctx context.Context, recordID, schoolID, currency string) (domain.Amount, int64, error) {
	var total, count int64

	err := r.db.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount_minor), 0)::BIGINT, COUNT(*)
		FROM payment_transactions
		WHERE billing_record_id = $1 AND school_id = $2 AND currency = $3`,
		recordID, schoolID, currency,
	).Scan(&total, &count)
	if err != nil {
		return domain.Amount{}, 0, mapError(err)
	}

	return domain.NewAmount(total, currency), count, nil
}

func collectTransactions(rows pgx.Rows, capacity int) ([]*domain.PaymentTransaction, error) {
	defer rows.Close()

	out := make([]*domain.PaymentTransaction, 0, capacity)
	for rows.Next() {
		tx, err := scanPaymentTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}

	return out, mapError(rows.Err())
}

func scanPaymentTransaction(row pgx.Row) (*domain.PaymentTransaction, error) {
	var (
		tx       domain.PaymentTransaction
		currency string
		method   string
		kind     string
	)

	err := row.Scan(
		&tx.ID,
		&tx.BillingRecordID,
		&tx.SchoolID,
		&currency,
		&tx.Amount.Minor,
		&tx.AmountPaidAfter.Minor,
		&method,
		&tx.PaymentNote,
		&tx.PaidBy,
		&kind,
		&tx.RecordVersion,
		&tx.PaidAt,
		&tx.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	tx.Amount.Currency = currency
	tx.AmountPaidAfter.Currency = currency
	tx.PaymentMethod = domain.PaymentMethod(method)
	tx.Kind = domain.PaymentKind(kind)

	return &tx, nil
}
