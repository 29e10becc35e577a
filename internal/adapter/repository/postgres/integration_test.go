package postgres_test

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iho/schoolbilling/internal/adapter/repository/postgres"
	"github.com/iho/schoolbilling/internal/domain"
	pginfra "github.com/iho/schoolbilling/internal/infrastructure/postgres"
	"github.com/iho/schoolbilling/internal/infrastructure/retry"
	"github.com/iho/schoolbilling/internal/usecase"
)

// Runs against a real database when DATABASE_URL is set.
func TestConcurrentPartialPaymentsAgainstPostgres(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" || testing.Short() {
		t.Skip("DATABASE_URL not set")
	}

	ctx := context.Background()
	require.NoError(t, pginfra.RunMigrations(dsn, "", zerolog.Nop()))

	pool, err := pginfra.NewPool(ctx, dsn, 10, 1)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	ids := postgres.NewULIDGenerator()
	records := postgres.NewBillingRecordRepository(pool)
	txs := postgres.NewPaymentTransactionRepository(pool)
	school := "it-" + ids.Generate()

	record, err := domain.NewBillingRecord(domain.NewBillingRecordInput{
		ID:        ids.Generate(),
		SchoolID:  school,
		AmountDue: domain.NewAmount(10000, "USD"),
		DueDate:   time.Now().UTC(),
	}, time.Now().UTC())
	require.NoError(t, err)
	require.NoError(t, records.Create(ctx, record))

	payments := usecase.NewPaymentUseCase(usecase.PaymentUseCaseConfig{
		Records: records,
		Store:   postgres.NewLedgerStore(pool),
		IDGen:   ids,
		Retrier: retry.New(10, zerolog.Nop(), retry.WithBackoff(5*time.Millisecond, 50*time.Millisecond, 10*time.Second)),
		Logger:  zerolog.Nop(),
	})

	var wg sync.WaitGroup
	for _, amount := range []int64{3000, 4000} {
		wg.Add(1)
		go func(minor int64) {
			defer wg.Done()
			_, err := payments.RecordPartialPayment(ctx, record.ID, school, usecase.PartialPaymentInput{
				Amount:        domain.NewAmount(minor, "USD"),
				PaymentMethod: domain.PaymentMethodCash,
			}, "bursar-1")
			assert.NoError(t, err)
		}(amount)
	}
	wg.Wait()

	stored, err := records.GetByID(ctx, record.ID, school)
	require.NoError(t, err)
	assert.Equal(t, int64(7000), stored.AmountPaid.Minor)
	assert.Equal(t, domain.BillingStatusPartiallyPaid, stored.Status)
	assert.Equal(t, int64(2), stored.Version)

	total, count, err := txs.SumByRecord(ctx, record.ID, school, "USD")
	require.NoError(t, err)
	assert.Equal(t, stored.AmountPaid, total)
	assert.Equal(t, int64(2), count)

	_, err = records.GetByID(ctx, record.ID, "other-school")
	require.ErrorIs(t, err, domain.ErrNotFound)
}
