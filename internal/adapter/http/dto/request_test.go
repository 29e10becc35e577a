package dto

import (
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iho/schoolbilling/internal/domain"
)

func TestPartialPaymentRequest_ToUseCaseInput(t *testing.T) {
	tests := []struct {
		name    string
		request PartialPaymentRequest
		want    domain.Amount
		wantErr error
	}{
		{
			name:    "default currency",
			request: PartialPaymentRequest{Amount: decimal.RequireFromString("30.50"), PaymentMethod: "cash"},
			want:    domain.NewAmount(3050, "USD"),
		},
		{
			name:    "explicit currency",
			request: PartialPaymentRequest{Amount: decimal.RequireFromString("1500"), Currency: "JPY", PaymentMethod: "card"},
			want:    domain.NewAmount(1500, "JPY"),
		},
		{
			name:    "too many decimals",
			request: PartialPaymentRequest{Amount: decimal.RequireFromString("1.005"), PaymentMethod: "cash"},
			wantErr: domain.ErrInvalidArgument,
		},
		{
			name:    "unknown method",
			request: PartialPaymentRequest{Amount: decimal.RequireFromString("1"), PaymentMethod: "barter"},
			wantErr: domain.ErrInvalidPaymentMethod,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.request.ToUseCaseInput("USD")
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Amount)
			assert.Equal(t, domain.PaymentMethod(tt.request.PaymentMethod), got.PaymentMethod)
		})
	}
}

func TestValidate_PaymentNoteTooLong(t *testing.T) {
	req := ManualPaymentRequest{PaymentMethod: "cash", PaymentNote: strings.Repeat("x", 1001)}

	err := Validate(&req)
	require.Error(t, err)
	assert.Equal(t, map[string]string{"payment_note": "failed on 'max'"}, ValidationDetails(err))
}

func TestValidate_MissingMethod(t *testing.T) {
	err := Validate(&ManualPaymentRequest{})
	require.Error(t, err)
	assert.Contains(t, ValidationDetails(err), "payment_method")
}

func TestCreateBillingRecordRequest_ToUseCaseInput(t *testing.T) {
	req := CreateBillingRecordRequest{
		StudentID: "student-1",
		AmountDue: decimal.RequireFromString("120.00"),
		DueDate:   "2025-09-01",
	}
	require.NoError(t, Validate(&req))

	in, err := req.ToUseCaseInput("school-a", "USD")
	require.NoError(t, err)
	assert.Equal(t, "school-a", in.SchoolID)
	assert.Equal(t, domain.NewAmount(12000, "USD"), in.AmountDue)
	assert.Equal(t, time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC), in.DueDate)
}

func TestParseReportQuery(t *testing.T) {
	values := url.Values{
		"start_date":     {"2025-09-01"},
		"end_date":       {"2025-09-30"},
		"school_year_id": {"sy-2025"},
	}

	q, err := ParseReportQuery(values.Get)
	require.NoError(t, err)
	require.NotNil(t, q.StartDate)
	require.NotNil(t, q.EndDate)
	assert.Equal(t, time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC), *q.StartDate)
	assert.Equal(t, time.Date(2025, 9, 30, 23, 59, 59, 999999999, time.UTC), *q.EndDate)
	assert.Equal(t, "sy-2025", *q.SchoolYearID)
}

func TestParseReportQuery_Errors(t *testing.T) {
	_, err := ParseReportQuery(url.Values{"start_date": {"09/01/2025"}}.Get)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	_, err = ParseReportQuery(url.Values{"start_date": {"2025-10-01"}, "end_date": {"2025-09-01"}}.Get)
	assert.ErrorIs(t, err, domain.ErrInvalidDateRange)

	q, err := ParseReportQuery(url.Values{}.Get)
	require.NoError(t, err)
	assert.Nil(t, q.StartDate)
	assert.Nil(t, q.EndDate)
	assert.Nil(t, q.SchoolYearID)
}
