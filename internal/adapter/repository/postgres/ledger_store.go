package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/iho/schoolbilling/internal/domain"
)

// LedgerStore implements usecase.BillingLedgerStore. The record update, its ledger
// entry, outbox events and audit entry commit in one transaction.
type LedgerStore struct {
	txm *TxManager
}

// NewLedgerStore creates a new LedgerStore.
func NewLedgerStore(pool *pgxpool.Pool) *LedgerStore {
	return &LedgerStore{txm: NewTxManager(pool)}
}

func newLedgerStoreWithPool(pool pgxPool) *LedgerStore {
	return &LedgerStore{txm: newTxManagerWithPool(pool)}
}

// ApplyPayment writes app if the stored record of schoolID is still at
// app.ExpectedVersion. A stale version yields domain.ErrConcurrency.
func (s *LedgerStore) ApplyPayment(ctx context.Context, schoolID string, app *domain.PaymentApplication) error {
	if app.Record.SchoolID != schoolID {
		return domain.ErrNotFound
	}

	if err := app.Validate(); err != nil {
		return err
	}

	tx := app.Transaction

	err := s.txm.InTx(ctx, func(q querier) error {
		if err := updateRecord(ctx, q, schoolID, app); err != nil {
			return err
		}

		if err := insertTransaction(ctx, q, &tx); err != nil {
			return fmt.Errorf("insert payment transaction: %w", err)
		}

		for _, e := range app.Events {
			if err := insertOutboxEvent(ctx, q, e); err != nil {
				return fmt.Errorf("insert outbox event: %w", err)
			}
		}

		if app.Audit != nil {
			if err := insertAuditLog(ctx, q, app.Audit); err != nil {
				return fmt.Errorf("insert audit log: %w", err)
			}
		}

		return nil
	})

	return mapError(err)
}

func updateRecord(ctx context.Context, q querier, schoolID string, app *domain.PaymentApplication) error {
	rec := app.Record

	prior, err := app.PriorPaid()
	if err != nil {
		return err
	}

	tag, err := q.Exec(ctx, `
		UPDATE billing_records
		SET amount_paid_minor = $1,
		    status = $2,
		    payment_method = $3,
		    payment_note = $4,
		    paid_by = $5,
		    paid_at = $6,
		    updated_at = $7,
		    version = $8
		WHERE id = $9 AND school_id = $10 AND version = $11 AND amount_paid_minor = $12
		  AND deleted_at IS NULL`,
		rec.AmountPaid.Minor,
		string(rec.Status),
		string(rec.PaymentMethod),
		rec.PaymentNote,
		rec.PaidBy,
		rec.PaidAt,
		rec.UpdatedAt,
		rec.Version,
		rec.ID,
		schoolID,
		app.ExpectedVersion,
		prior.Minor,
	)
	if err != nil {
		return err
	}

	if tag.RowsAffected() == 1 {
		return nil
	}

	// Nothing matched: the record is gone or another writer moved it on.
	var current int64
	err = q.QueryRow(ctx, `
		SELECT version FROM billing_records
		WHERE id = $1 AND school_id = $2 AND deleted_at IS NULL`,
		rec.ID, schoolID,
	).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrNotFound
	}
	if err != nil {
		return err
	}

	if current == app.ExpectedVersion {
		return fmt.Errorf("%w: record %s does not hold %s paid", domain.ErrInconsistentRecord, rec.ID, prior)
	}

	return fmt.Errorf("%w: record %s is at version %d, expected %d",
		domain.ErrConcurrency, rec.ID, current, app.ExpectedVersion)
}

func insertTransaction(ctx context.Context, q querier, tx *domain.PaymentTransaction) error {
	_, err := q.Exec(ctx, `
		INSERT INTO payment_transactions (`+paymentTransactionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		tx.ID,
		tx.BillingRecordID,
		tx.SchoolID,
		tx.Amount.Currency,
		tx.Amount.Minor,
		tx.AmountPaidAfter.Minor,
		string(tx.PaymentMethod),
		tx.PaymentNote,
		tx.PaidBy,
		string(tx.Kind),
		tx.RecordVersion,
		tx.PaidAt,
		tx.CreatedAt,
	)

	return err
}
