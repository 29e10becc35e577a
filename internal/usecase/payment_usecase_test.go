package usecase_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/iho/schoolbilling/internal/adapter/repository/memory"
	"github.com/iho/schoolbilling/internal/domain"
	"github.com/iho/schoolbilling/internal/infrastructure/metrics"
	"github.com/iho/schoolbilling/internal/infrastructure/retry"
	"github.com/iho/schoolbilling/internal/usecase"
	"github.com/iho/schoolbilling/internal/usecase/mocks"
)

var fixedNow = time.Date(2025, 10, 1, 10, 0, 0, 0, time.UTC)

type seqIDs struct{ n atomic.Int64 }

func (g *seqIDs) Generate() string {
	return fmt.Sprintf("id-%04d", g.n.Add(1))
}

func newRetrier() *retry.Retrier {
	return retry.New(5, zerolog.Nop(), retry.WithBackoff(time.Millisecond, 5*time.Millisecond, 5*time.Second))
}

func newMemoryPayments(store *memory.Store, policy domain.OverpaymentPolicy) *usecase.PaymentUseCase {
	return usecase.NewPaymentUseCase(usecase.PaymentUseCaseConfig{
		Records: store,
		Store:   store,
		IDGen:   &seqIDs{},
		Retrier: newRetrier(),
		Logger:  zerolog.Nop(),
		Policy:  policy,
		Now:     func() time.Time { return fixedNow },
	})
}

func seedRecord(t *testing.T, store *memory.Store, id, school string, due int64) *domain.BillingRecord {
	t.Helper()

	r, err := domain.NewBillingRecord(domain.NewBillingRecordInput{
		ID:           id,
		SchoolID:     school,
		StudentID:    "student-1",
		SchoolYearID: "2025-2026",
		AmountDue:    domain.NewAmount(due, "USD"),
		DueDate:      fixedNow,
	}, fixedNow)
	require.NoError(t, err)
	require.NoError(t, store.Create(context.Background(), r))

	return r
}

func usd(minor int64) domain.Amount { return domain.NewAmount(minor, "USD") }

func partial(minor int64) usecase.PartialPaymentInput {
	return usecase.PartialPaymentInput{
		Amount:        usd(minor),
		PaymentMethod: domain.PaymentMethodCash,
		PaymentNote:   "installment",
	}
}

func assertLedgerMatches(t *testing.T, store *memory.Store, id, school string) {
	t.Helper()

	record, err := store.GetByID(context.Background(), id, school)
	require.NoError(t, err)

	sum, _, err := store.SumByRecord(context.Background(), id, school, "USD")
	require.NoError(t, err)
	assert.Equal(t, record.AmountPaid, sum, "amount paid must equal the ledger total")
	assert.NoError(t, record.Validate())
}

func TestPaymentUseCase_PartialPaymentsSettleRecord(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	seedRecord(t, store, "rec-1", "school-a", 10000)
	uc := newMemoryPayments(store, domain.OverpaymentReject)

	res, err := uc.RecordPartialPayment(ctx, "rec-1", "school-a", partial(3000), "bursar-1")
	require.NoError(t, err)
	assert.Equal(t, int64(3000), res.Record.AmountPaid.Minor)
	assert.Equal(t, domain.BillingStatusPartiallyPaid, res.Record.Status)
	assert.Equal(t, int64(3000), res.Transaction.Amount.Minor)
	assertLedgerMatches(t, store, "rec-1", "school-a")

	res, err = uc.RecordPartialPayment(ctx, "rec-1", "school-a", partial(7000), "bursar-1")
	require.NoError(t, err)
	assert.Equal(t, int64(10000), res.Record.AmountPaid.Minor)
	assert.Equal(t, domain.BillingStatusPaid, res.Record.Status)
	assert.Equal(t, int64(7000), res.Transaction.Amount.Minor)
	assertLedgerMatches(t, store, "rec-1", "school-a")

	_, err = uc.RecordManualPayment(ctx, "rec-1", "school-a", usecase.ManualPaymentInput{PaymentMethod: domain.PaymentMethodCash}, "bursar-1")
	require.ErrorIs(t, err, domain.ErrInvalidState)

	txs, err := store.ListByRecord(ctx, "rec-1", "school-a", 10, 0)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, int64(3000), txs[0].Amount.Minor)
	assert.Equal(t, int64(7000), txs[1].Amount.Minor)
}

func TestPaymentUseCase_ManualPaymentRecordsDelta(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	seedRecord(t, store, "rec-1", "school-a", 5000)
	uc := newMemoryPayments(store, domain.OverpaymentReject)

	_, err := uc.RecordPartialPayment(ctx, "rec-1", "school-a", partial(2000), "bursar-1")
	require.NoError(t, err)

	res, err := uc.RecordManualPayment(ctx, "rec-1", "school-a", usecase.ManualPaymentInput{
		PaymentMethod: domain.PaymentMethodBankTransfer,
		PaymentNote:   "balance settled",
	}, "bursar-2")
	require.NoError(t, err)

	assert.Equal(t, int64(3000), res.Transaction.Amount.Minor)
	assert.Equal(t, domain.PaymentKindFull, res.Transaction.Kind)
	assert.Equal(t, int64(5000), res.Record.AmountPaid.Minor)
	assert.Equal(t, "bursar-2", res.Record.PaidBy)
	assert.Equal(t, domain.PaymentMethodBankTransfer, res.Record.PaymentMethod)
	assertLedgerMatches(t, store, "rec-1", "school-a")
}

func TestPaymentUseCase_TenantIsolation(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	seedRecord(t, store, "rec-1", "school-a", 5000)
	uc := newMemoryPayments(store, domain.OverpaymentReject)

	_, err := uc.RecordPartialPayment(ctx, "rec-1", "school-b", partial(100), "intruder")
	require.ErrorIs(t, err, domain.ErrNotFound)

	_, err = uc.RecordManualPayment(ctx, "rec-1", "school-b", usecase.ManualPaymentInput{PaymentMethod: domain.PaymentMethodCash}, "intruder")
	require.ErrorIs(t, err, domain.ErrNotFound)

	record, err := store.GetByID(ctx, "rec-1", "school-a")
	require.NoError(t, err)
	assert.True(t, record.AmountPaid.IsZero())
	assert.Equal(t, int64(0), record.Version)
}

func TestPaymentUseCase_OverpaymentPolicy(t *testing.T) {
	ctx := context.Background()

	t.Run("reject", func(t *testing.T) {
		store := memory.New()
		seedRecord(t, store, "rec-1", "school-a", 5000)
		uc := newMemoryPayments(store, domain.OverpaymentReject)

		in := partial(6000)
		in.AcknowledgeOverpayment = true

		_, err := uc.RecordPartialPayment(ctx, "rec-1", "school-a", in, "bursar-1")
		require.ErrorIs(t, err, domain.ErrOverpayment)
		require.ErrorIs(t, err, domain.ErrInvalidArgument)
	})

	t.Run("clamp", func(t *testing.T) {
		store := memory.New()
		seedRecord(t, store, "rec-1", "school-a", 5000)
		uc := newMemoryPayments(store, domain.OverpaymentClamp)

		in := partial(6000)
		in.AcknowledgeOverpayment = true

		res, err := uc.RecordPartialPayment(ctx, "rec-1", "school-a", in, "bursar-1")
		require.NoError(t, err)
		assert.Equal(t, int64(5000), res.Transaction.Amount.Minor)
		assert.Equal(t, int64(1000), res.Unapplied.Minor)
		assert.Equal(t, domain.BillingStatusPaid, res.Record.Status)
		assertLedgerMatches(t, store, "rec-1", "school-a")

		events, err := store.GetUnpublished(ctx, 10)
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, "10.00", events[0].Payload["unapplied"])
	})
}

// Two payments racing on the same record both land, one after the other.
func TestPaymentUseCase_ConcurrentPartialPayments(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	seedRecord(t, store, "rec-1", "school-a", 10000)
	uc := newMemoryPayments(store, domain.OverpaymentReject)

	amounts := []int64{3000, 4000}
	errs := make([]error, len(amounts))

	var wg sync.WaitGroup
	for i, a := range amounts {
		wg.Add(1)
		go func(i int, a int64) {
			defer wg.Done()
			_, errs[i] = uc.RecordPartialPayment(ctx, "rec-1", "school-a", partial(a), "bursar-1")
		}(i, a)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}

	record, err := store.GetByID(ctx, "rec-1", "school-a")
	require.NoError(t, err)
	assert.Equal(t, int64(7000), record.AmountPaid.Minor)
	assert.Equal(t, domain.BillingStatusPartiallyPaid, record.Status)
	assert.Equal(t, int64(2), record.Version)
	assertLedgerMatches(t, store, "rec-1", "school-a")
}

func TestPaymentUseCase_RetriesWithFreshState(t *testing.T) {
	ctrl := gomock.NewController(t)
	records := mocks.NewMockBillingRecordRepository(ctrl)
	store := mocks.NewMockBillingLedgerStore(ctrl)

	stale, err := domain.NewBillingRecord(domain.NewBillingRecordInput{
		ID: "rec-1", SchoolID: "school-a", AmountDue: usd(10000), DueDate: fixedNow,
	}, fixedNow)
	require.NoError(t, err)

	// Another writer booked 3000 between our read and our commit.
	fresh := *stale
	fresh.AmountPaid = usd(3000)
	fresh.Status = domain.BillingStatusPartiallyPaid
	fresh.Version = 1

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	gomock.InOrder(
		records.EXPECT().GetByID(gomock.Any(), "rec-1", "school-a").Return(stale, nil),
		store.EXPECT().ApplyPayment(gomock.Any(), "school-a", gomock.Any()).
			DoAndReturn(func(_ context.Context, _ string, app *domain.PaymentApplication) error {
				assert.Equal(t, int64(0), app.ExpectedVersion)
				return domain.ErrConcurrency
			}),
		records.EXPECT().GetByID(gomock.Any(), "rec-1", "school-a").Return(&fresh, nil),
		store.EXPECT().ApplyPayment(gomock.Any(), "school-a", gomock.Any()).
			DoAndReturn(func(_ context.Context, _ string, app *domain.PaymentApplication) error {
				assert.Equal(t, int64(1), app.ExpectedVersion)
				assert.Equal(t, int64(5000), app.Record.AmountPaid.Minor)
				assert.Equal(t, int64(2000), app.Transaction.Amount.Minor)
				assert.Equal(t, int64(2), app.Transaction.RecordVersion)
				require.NotNil(t, app.Audit)
				assert.Equal(t, "bursar-1", app.Audit.UserID)
				return nil
			}),
	)

	uc := usecase.NewPaymentUseCase(usecase.PaymentUseCaseConfig{
		Records: records,
		Store:   store,
		IDGen:   &seqIDs{},
		Retrier: retry.New(3, zerolog.Nop(),
			retry.WithBackoff(time.Millisecond, time.Millisecond, time.Second),
			retry.WithOnRetry(m.PaymentRetries.Inc)),
		Metrics: m,
		Logger:  zerolog.Nop(),
		Now:     func() time.Time { return fixedNow },
	})

	res, err := uc.RecordPartialPayment(context.Background(), "rec-1", "school-a", partial(2000), "bursar-1")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, int64(5000), res.Record.AmountPaid.Minor)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.PaymentRetries))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.PaymentsRecorded.WithLabelValues("partial")))
}

func TestPaymentUseCase_InvalidInputRejectedBeforeIO(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		school  string
		input   usecase.PartialPaymentInput
		paidBy  string
		wantErr error
	}{
		{name: "missing school", id: "rec-1", input: partial(100), paidBy: "u", wantErr: domain.ErrMissingTenant},
		{name: "missing record", school: "s", input: partial(100), paidBy: "u", wantErr: domain.ErrMissingRecordID},
		{name: "zero amount", id: "rec-1", school: "s", input: partial(0), paidBy: "u", wantErr: domain.ErrInvalidAmount},
		{name: "negative amount", id: "rec-1", school: "s", input: partial(-5), paidBy: "u", wantErr: domain.ErrInvalidAmount},
		{name: "missing payer", id: "rec-1", school: "s", input: partial(100), wantErr: domain.ErrMissingPayer},
		{
			name: "unknown method", id: "rec-1", school: "s", paidBy: "u",
			input:   usecase.PartialPaymentInput{Amount: usd(100), PaymentMethod: "barter"},
			wantErr: domain.ErrInvalidPaymentMethod,
		},
		{
			name: "unknown currency", id: "rec-1", school: "s", paidBy: "u",
			input:   usecase.PartialPaymentInput{Amount: domain.NewAmount(100, "ZZZ"), PaymentMethod: domain.PaymentMethodCash},
			wantErr: domain.ErrInvalidCurrency,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			// No expectations: any repository call fails the test.
			uc := usecase.NewPaymentUseCase(usecase.PaymentUseCaseConfig{
				Records: mocks.NewMockBillingRecordRepository(ctrl),
				Store:   mocks.NewMockBillingLedgerStore(ctrl),
				IDGen:   &seqIDs{},
				Logger:  zerolog.Nop(),
			})

			_, err := uc.RecordPartialPayment(context.Background(), tt.id, tt.school, tt.input, tt.paidBy)
			require.ErrorIs(t, err, tt.wantErr)
			require.ErrorIs(t, err, domain.ErrInvalidArgument)
		})
	}
}

func TestPaymentUseCase_InvalidStateIsNotRetried(t *testing.T) {
	ctrl := gomock.NewController(t)
	records := mocks.NewMockBillingRecordRepository(ctrl)
	store := mocks.NewMockBillingLedgerStore(ctrl)

	paid := &domain.BillingRecord{
		ID: "rec-1", SchoolID: "school-a",
		AmountDue: usd(100), AmountPaid: usd(100), Status: domain.BillingStatusPaid, Version: 3,
	}
	records.EXPECT().GetByID(gomock.Any(), "rec-1", "school-a").Return(paid, nil).Times(1)

	uc := usecase.NewPaymentUseCase(usecase.PaymentUseCaseConfig{
		Records: records,
		Store:   store,
		IDGen:   &seqIDs{},
		Retrier: newRetrier(),
		Logger:  zerolog.Nop(),
	})

	_, err := uc.RecordManualPayment(context.Background(), "rec-1", "school-a",
		usecase.ManualPaymentInput{PaymentMethod: domain.PaymentMethodCash}, "bursar-1")
	require.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestPaymentUseCase_ExhaustedRetriesReturnConcurrency(t *testing.T) {
	ctrl := gomock.NewController(t)
	records := mocks.NewMockBillingRecordRepository(ctrl)
	store := mocks.NewMockBillingLedgerStore(ctrl)

	records.EXPECT().GetByID(gomock.Any(), "rec-1", "school-a").DoAndReturn(
		func(context.Context, string, string) (*domain.BillingRecord, error) {
			return &domain.BillingRecord{
				ID: "rec-1", SchoolID: "school-a",
				AmountDue: usd(100), AmountPaid: usd(0), Status: domain.BillingStatusUnpaid,
			}, nil
		}).Times(3)
	store.EXPECT().ApplyPayment(gomock.Any(), "school-a", gomock.Any()).Return(domain.ErrConcurrency).Times(3)

	uc := usecase.NewPaymentUseCase(usecase.PaymentUseCaseConfig{
		Records: records,
		Store:   store,
		IDGen:   &seqIDs{},
		Retrier: retry.New(2, zerolog.Nop(), retry.WithBackoff(time.Millisecond, time.Millisecond, time.Second)),
		Logger:  zerolog.Nop(),
	})

	_, err := uc.RecordPartialPayment(context.Background(), "rec-1", "school-a", partial(50), "bursar-1")
	require.ErrorIs(t, err, domain.ErrConcurrency)
}

func TestPaymentUseCase_CacheFailureDoesNotFailPayment(t *testing.T) {
	ctrl := gomock.NewController(t)
	cache := mocks.NewMockReportCache(ctrl)
	cache.EXPECT().Invalidate(gomock.Any(), "school-a").Return(errors.New("redis down"))

	store := memory.New()
	seedRecord(t, store, "rec-1", "school-a", 1000)

	uc := usecase.NewPaymentUseCase(usecase.PaymentUseCaseConfig{
		Records: store,
		Store:   store,
		IDGen:   &seqIDs{},
		Cache:   cache,
		Logger:  zerolog.Nop(),
	})

	res, err := uc.RecordManualPayment(context.Background(), "rec-1", "school-a",
		usecase.ManualPaymentInput{PaymentMethod: domain.PaymentMethodCard}, "bursar-1")
	require.NoError(t, err)
	assert.Equal(t, domain.BillingStatusPaid, res.Record.Status)
}

func TestPaymentUseCase_AuditUsesActorFromContext(t *testing.T) {
	store := memory.New()
	seedRecord(t, store, "rec-1", "school-a", 1000)
	uc := newMemoryPayments(store, domain.OverpaymentReject)

	ctx := domain.ContextWithActor(context.Background(), domain.Actor{UserID: "user-42", SchoolID: "school-a", Role: domain.RoleBursar})
	ctx = domain.ContextWithRequestID(ctx, "req-7")

	_, err := uc.RecordPartialPayment(ctx, "rec-1", "school-a", partial(400), "Front Desk")
	require.NoError(t, err)

	logs, err := store.List(ctx, domain.AuditFilter{ResourceID: "rec-1"})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "user-42", logs[0].UserID)
	assert.Equal(t, "req-7", logs[0].RequestID)
	assert.Equal(t, string(domain.AuditActionPaymentPartial), logs[0].Action)
}
