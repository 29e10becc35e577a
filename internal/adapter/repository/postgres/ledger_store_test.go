package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iho/schoolbilling/internal/domain"
)

var testNow = time.Date(2025, 10, 1, 10, 0, 0, 0, time.UTC)

func paymentApplication(t *testing.T, due, pay int64) *domain.PaymentApplication {
	t.Helper()

	record, err := domain.NewBillingRecord(domain.NewBillingRecordInput{
		ID:        "rec-1",
		SchoolID:  "school-a",
		StudentID: "student-1",
		AmountDue: domain.NewAmount(due, "USD"),
		DueDate:   testNow,
	}, testNow)
	require.NoError(t, err)

	outcome, err := record.RecordPartialPayment(domain.PaymentInput{
		TransactionID: "tx-1",
		Method:        domain.PaymentMethodCash,
		PaidBy:        "bursar-1",
		Amount:        domain.NewAmount(pay, "USD"),
	}, domain.OverpaymentReject, testNow)
	require.NoError(t, err)

	n := 0
	ids := func() string { n++; return "evt-" + string(rune('0'+n)) }

	return &domain.PaymentApplication{
		Record:          outcome.Record,
		Transaction:     outcome.Transaction,
		ExpectedVersion: record.Version,
		Events:          domain.PaymentEvents(outcome, ids),
		Audit:           domain.PaymentAudit("audit-1", "bursar-1", "req-1", *record, outcome),
	}
}

// Argument counts of the statements ApplyPayment issues.
const (
	updateRecordArgs = 12
	insertOutboxArgs = 8
	insertAuditArgs  = 12
	insertTxArgs     = 13
)

func anyArgs(n int) []any {
	args := make([]any, n)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}

	return args
}

func TestLedgerStoreApplyPayment(t *testing.T) {
	mock := newMockPool(t)
	app := paymentApplication(t, 10000, 10000)
	require.Len(t, app.Events, 2)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE billing_records").
		WithArgs(int64(10000), "PAID", "cash", "", "bursar-1", pgxmock.AnyArg(), testNow, int64(1), "rec-1", "school-a", int64(0), int64(0)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("INSERT INTO payment_transactions").
		WithArgs("tx-1", "rec-1", "school-a", "USD", int64(10000), int64(10000), "cash", "", "bursar-1", "partial", int64(1), testNow, testNow).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	for _, e := range app.Events {
		mock.ExpectExec("INSERT INTO outbox_events").
			WithArgs(append([]any{e.ID}, anyArgs(insertOutboxArgs-1)...)...).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
	}
	mock.ExpectExec("INSERT INTO audit_logs").
		WithArgs(append([]any{"audit-1"}, anyArgs(insertAuditArgs-1)...)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	err := newLedgerStoreWithPool(mock).ApplyPayment(context.Background(), "school-a", app)
	require.NoError(t, err)

	assertExpectations(t, mock)
}

func TestLedgerStoreStaleVersion(t *testing.T) {
	mock := newMockPool(t)
	app := paymentApplication(t, 10000, 3000)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE billing_records").
		WithArgs(anyArgs(updateRecordArgs)...).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("SELECT version FROM billing_records").
		WithArgs("rec-1", "school-a").
		WillReturnRows(mock.NewRows([]string{"version"}).AddRow(int64(4)))
	mock.ExpectRollback()

	err := newLedgerStoreWithPool(mock).ApplyPayment(context.Background(), "school-a", app)
	require.ErrorIs(t, err, domain.ErrConcurrency)

	assertExpectations(t, mock)
}

func TestLedgerStoreRecordGone(t *testing.T) {
	mock := newMockPool(t)
	app := paymentApplication(t, 10000, 3000)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE billing_records").
		WithArgs(anyArgs(updateRecordArgs)...).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("SELECT version FROM billing_records").
		WithArgs("rec-1", "school-a").
		WillReturnRows(mock.NewRows([]string{"version"}))
	mock.ExpectRollback()

	err := newLedgerStoreWithPool(mock).ApplyPayment(context.Background(), "school-a", app)
	require.ErrorIs(t, err, domain.ErrNotFound)

	assertExpectations(t, mock)
}

func TestLedgerStorePaidTotalMovedWithoutVersionBump(t *testing.T) {
	mock := newMockPool(t)
	app := paymentApplication(t, 10000, 3000)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE billing_records").
		WithArgs(anyArgs(updateRecordArgs)...).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("SELECT version FROM billing_records").
		WithArgs("rec-1", "school-a").
		WillReturnRows(mock.NewRows([]string{"version"}).AddRow(int64(0)))
	mock.ExpectRollback()

	err := newLedgerStoreWithPool(mock).ApplyPayment(context.Background(), "school-a", app)
	require.ErrorIs(t, err, domain.ErrInconsistentRecord)

	assertExpectations(t, mock)
}

func TestLedgerStoreRejectsTransactionNotMatchingRecord(t *testing.T) {
	mock := newMockPool(t)
	app := paymentApplication(t, 10000, 3000)
	app.Transaction.AmountPaidAfter = domain.NewAmount(2000, "USD")

	err := newLedgerStoreWithPool(mock).ApplyPayment(context.Background(), "school-a", app)
	require.ErrorIs(t, err, domain.ErrInconsistentRecord)

	assertExpectations(t, mock)
}

func TestLedgerStoreSerializationFailureRollsBack(t *testing.T) {
	mock := newMockPool(t)
	app := paymentApplication(t, 10000, 3000)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE billing_records").
		WithArgs(anyArgs(updateRecordArgs)...).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("INSERT INTO payment_transactions").
		WithArgs(anyArgs(insertTxArgs)...).
		WillReturnError(&pgconn.PgError{Code: pgErrSerializationFailure, Message: "could not serialize access"})
	mock.ExpectRollback()

	err := newLedgerStoreWithPool(mock).ApplyPayment(context.Background(), "school-a", app)
	require.ErrorIs(t, err, domain.ErrConcurrency)

	assertExpectations(t, mock)
}

func TestLedgerStoreRejectsForeignTenantWithoutIO(t *testing.T) {
	mock := newMockPool(t)
	app := paymentApplication(t, 10000, 3000)

	err := newLedgerStoreWithPool(mock).ApplyPayment(context.Background(), "school-b", app)
	require.ErrorIs(t, err, domain.ErrNotFound)

	app.Transaction.BillingRecordID = "rec-2"
	err = newLedgerStoreWithPool(mock).ApplyPayment(context.Background(), "school-a", app)
	require.ErrorIs(t, err, domain.ErrInvalidArgument)

	assertExpectations(t, mock)
}

func TestLedgerStoreRejectsInconsistentRecord(t *testing.T) {
	mock := newMockPool(t)
	app := paymentApplication(t, 10000, 3000)
	app.Record.Status = domain.BillingStatusPaid

	err := newLedgerStoreWithPool(mock).ApplyPayment(context.Background(), "school-a", app)
	require.ErrorIs(t, err, domain.ErrInconsistentRecord)

	assertExpectations(t, mock)
}

func TestMapError(t *testing.T) {
	tests := []struct {
		name string
		in   error
		want error
	}{
		{"deadlock", &pgconn.PgError{Code: pgErrDeadlock}, domain.ErrConcurrency},
		{"serialization", &pgconn.PgError{Code: pgErrSerializationFailure}, domain.ErrConcurrency},
		{"unique", &pgconn.PgError{Code: pgErrUniqueViolation}, domain.ErrConcurrency},
		{"foreign key", &pgconn.PgError{Code: pgErrForeignKeyViolation}, domain.ErrNotFound},
		{"check", &pgconn.PgError{Code: pgErrCheckViolation}, domain.ErrInconsistentRecord},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, mapError(tt.in), tt.want)
		})
	}

	assert.NoError(t, mapError(nil))
}
