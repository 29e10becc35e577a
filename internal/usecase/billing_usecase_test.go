package usecase_test

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iho/schoolbilling/internal/adapter/repository/memory"
	"github.com/iho/schoolbilling/internal/domain"
	"github.com/iho/schoolbilling/internal/usecase"
)

func TestBillingUseCase_CreateAndRead(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	uc := usecase.NewBillingUseCase(store, store, store, nil, &seqIDs{}, zerolog.Nop())

	record, err := uc.CreateBillingRecord(ctx, usecase.CreateBillingRecordInput{
		SchoolID:    "school-a",
		StudentID:   "student-1",
		Description: "Tuition",
		AmountDue:   usd(12000),
		DueDate:     day(15),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.BillingStatusUnpaid, record.Status)
	assert.NotEmpty(t, record.ID)

	got, err := uc.GetBillingRecord(ctx, record.ID, "school-a")
	require.NoError(t, err)
	assert.Equal(t, record.AmountDue, got.AmountDue)

	_, err = uc.GetBillingRecord(ctx, record.ID, "school-b")
	require.ErrorIs(t, err, domain.ErrNotFound)

	_, err = uc.CreateBillingRecord(ctx, usecase.CreateBillingRecordInput{SchoolID: "school-a", AmountDue: usd(0)})
	require.ErrorIs(t, err, domain.ErrInvalidAmount)
}

func TestBillingUseCase_ListPaymentTransactions(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	seedRecord(t, store, "rec-1", "school-a", 10000)

	payments := newMemoryPayments(store, domain.OverpaymentReject)
	for _, a := range []int64{1000, 2000, 3000} {
		_, err := payments.RecordPartialPayment(ctx, "rec-1", "school-a", partial(a), "bursar-1")
		require.NoError(t, err)
	}

	uc := usecase.NewBillingUseCase(store, store, store, nil, &seqIDs{}, zerolog.Nop())

	txs, err := uc.ListPaymentTransactions(ctx, "rec-1", "school-a", 2, 0)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, int64(1000), txs[0].Amount.Minor)
	assert.Equal(t, int64(3000), txs[1].AmountPaidAfter.Minor)

	txs, err = uc.ListPaymentTransactions(ctx, "rec-1", "school-a", 0, 2)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, int64(6000), txs[0].AmountPaidAfter.Minor)

	_, err = uc.ListPaymentTransactions(ctx, "rec-1", "school-b", 10, 0)
	require.ErrorIs(t, err, domain.ErrNotFound)

	trail, err := uc.ListAuditTrail(ctx, "rec-1", "school-a", 10, 0)
	require.NoError(t, err)
	assert.Len(t, trail, 3)
}
