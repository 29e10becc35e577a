package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iho/schoolbilling/internal/adapter/http/dto"
	"github.com/iho/schoolbilling/internal/domain"
	"github.com/iho/schoolbilling/internal/usecase"
)

type billingServiceStub struct {
	getFn    func(ctx context.Context, id, schoolID string) (*domain.BillingRecord, error)
	txsFn    func(ctx context.Context, id, schoolID string, limit, offset int) ([]*domain.PaymentTransaction, error)
	auditFn  func(ctx context.Context, id, schoolID string, limit, offset int) ([]*domain.AuditLog, error)
	createFn func(ctx context.Context, input usecase.CreateBillingRecordInput) (*domain.BillingRecord, error)
}

func (s *billingServiceStub) GetBillingRecord(ctx context.Context, id, schoolID string) (*domain.BillingRecord, error) {
	return s.getFn(ctx, id, schoolID)
}

func (s *billingServiceStub) ListPaymentTransactions(ctx context.Context, id, schoolID string, limit, offset int) ([]*domain.PaymentTransaction, error) {
	return s.txsFn(ctx, id, schoolID, limit, offset)
}

func (s *billingServiceStub) ListAuditTrail(ctx context.Context, id, schoolID string, limit, offset int) ([]*domain.AuditLog, error) {
	return s.auditFn(ctx, id, schoolID, limit, offset)
}

func (s *billingServiceStub) CreateBillingRecord(ctx context.Context, input usecase.CreateBillingRecordInput) (*domain.BillingRecord, error) {
	return s.createFn(ctx, input)
}

func unpaidRecord(id, schoolID string) *domain.BillingRecord {
	due := time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC)
	return &domain.BillingRecord{
		ID:         id,
		SchoolID:   schoolID,
		StudentID:  "student-1",
		AmountDue:  domain.NewAmount(12000, "USD"),
		AmountPaid: domain.ZeroAmount("USD"),
		Status:     domain.BillingStatusUnpaid,
		DueDate:    due,
	}
}

func TestBillingHandler_Get(t *testing.T) {
	h := NewBillingHandler(&billingServiceStub{
		getFn: func(ctx context.Context, id, schoolID string) (*domain.BillingRecord, error) {
			if schoolID != "school-a" {
				return nil, domain.ErrNotFound
			}
			return unpaidRecord(id, schoolID), nil
		},
	}, "USD")

	req := withRecordID(withActor(httptest.NewRequest(http.MethodGet, "/", nil), "school-a"), "rec-1")
	rec := httptest.NewRecorder()
	h.Get(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp dto.BillingRecordResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "rec-1", resp.ID)
	assert.Equal(t, "UNPAID", resp.Status)
	assert.Equal(t, "120", resp.Remaining.String())

	req = withRecordID(withActor(httptest.NewRequest(http.MethodGet, "/", nil), "school-b"), "rec-1")
	rec = httptest.NewRecorder()
	h.Get(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBillingHandler_Create(t *testing.T) {
	var got usecase.CreateBillingRecordInput

	h := NewBillingHandler(&billingServiceStub{
		createFn: func(ctx context.Context, input usecase.CreateBillingRecordInput) (*domain.BillingRecord, error) {
			got = input
			return unpaidRecord("rec-9", input.SchoolID), nil
		},
	}, "USD")

	req := postJSON(t, "/", map[string]any{
		"student_id": "student-1",
		"amount_due": "120.00",
		"due_date":   "2025-09-01",
	})
	rec := httptest.NewRecorder()
	h.Create(rec, withActor(req, "school-a"))

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "school-a", got.SchoolID)
	assert.Equal(t, domain.NewAmount(12000, "USD"), got.AmountDue)
}

func TestBillingHandler_Create_BadDueDate(t *testing.T) {
	h := NewBillingHandler(&billingServiceStub{}, "USD")

	req := postJSON(t, "/", map[string]any{
		"student_id": "student-1",
		"amount_due": "120.00",
		"due_date":   "01/09/2025",
	})
	rec := httptest.NewRecorder()
	h.Create(rec, withActor(req, "school-a"))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeError(t, rec).Details, "due_date")
}

func TestBillingHandler_ListTransactions_ClampsPagination(t *testing.T) {
	var gotLimit, gotOffset int

	h := NewBillingHandler(&billingServiceStub{
		txsFn: func(ctx context.Context, id, schoolID string, limit, offset int) ([]*domain.PaymentTransaction, error) {
			gotLimit, gotOffset = limit, offset
			return []*domain.PaymentTransaction{{ID: "tx-1", Amount: domain.NewAmount(500, "USD")}}, nil
		},
	}, "USD")

	req := httptest.NewRequest(http.MethodGet, "/?limit=1000&offset=-4", nil)
	req = withRecordID(withActor(req, "school-a"), "rec-1")
	rec := httptest.NewRecorder()
	h.ListTransactions(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 100, gotLimit)
	assert.Equal(t, 0, gotOffset)

	var resp []dto.PaymentTransactionResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp, 1)
	assert.Equal(t, "5", resp[0].Amount.String())
}

func TestBillingHandler_ListAudit(t *testing.T) {
	h := NewBillingHandler(&billingServiceStub{
		auditFn: func(ctx context.Context, id, schoolID string, limit, offset int) ([]*domain.AuditLog, error) {
			return []*domain.AuditLog{{ID: "audit-1", Action: string(domain.AuditActionPaymentPartial), ResourceID: id}}, nil
		},
	}, "USD")

	req := withRecordID(withActor(httptest.NewRequest(http.MethodGet, "/", nil), "school-a"), "rec-1")
	rec := httptest.NewRecorder()
	h.ListAudit(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp []dto.AuditLogResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp, 1)
	assert.Equal(t, "payment.partial", resp[0].Action)
}
