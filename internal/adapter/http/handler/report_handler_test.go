package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iho/schoolbilling/internal/domain"
	"github.com/iho/schoolbilling/internal/usecase"
)

type reportServiceStub struct {
	dashboardFn func(ctx context.Context, schoolID string, start, end time.Time, schoolYearID *string) (*domain.DashboardData, error)
	metricsFn   func(ctx context.Context, schoolID string, start, end *time.Time, schoolYearID *string) (*domain.BillingMetrics, error)
}

func (s *reportServiceStub) GetDashboardData(ctx context.Context, schoolID string, start, end time.Time, schoolYearID *string) (*domain.DashboardData, error) {
	return s.dashboardFn(ctx, schoolID, start, end, schoolYearID)
}

func (s *reportServiceStub) GetMetrics(ctx context.Context, schoolID string, start, end *time.Time, schoolYearID *string) (*domain.BillingMetrics, error) {
	return s.metricsFn(ctx, schoolID, start, end, schoolYearID)
}

type reconciliationServiceStub struct {
	recordFn func(ctx context.Context, id, schoolID string) (*usecase.ReconciliationResult, error)
	schoolFn func(ctx context.Context, schoolID string) (*usecase.ReconciliationReport, error)
}

func (s *reconciliationServiceStub) ReconcileRecord(ctx context.Context, id, schoolID string) (*usecase.ReconciliationResult, error) {
	return s.recordFn(ctx, id, schoolID)
}

func (s *reconciliationServiceStub) ReconcileSchool(ctx context.Context, schoolID string) (*usecase.ReconciliationReport, error) {
	return s.schoolFn(ctx, schoolID)
}

func TestReportHandler_Dashboard(t *testing.T) {
	var gotStart, gotEnd time.Time
	var gotYear *string

	h := NewReportHandler(&reportServiceStub{
		dashboardFn: func(ctx context.Context, schoolID string, start, end time.Time, schoolYearID *string) (*domain.DashboardData, error) {
			gotStart, gotEnd, gotYear = start, end, schoolYearID
			return &domain.DashboardData{BillingMetrics: domain.BillingMetrics{SchoolID: schoolID, RecordCount: 3}}, nil
		},
	}, nil)

	req := httptest.NewRequest(http.MethodGet, "/?start_date=2025-09-01&end_date=2025-09-30&school_year_id=sy-1", nil)
	rec := httptest.NewRecorder()
	h.Dashboard(rec, withActor(req, "school-a"))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC), gotStart)
	assert.Equal(t, 30, gotEnd.Day())
	assert.Equal(t, 23, gotEnd.Hour())
	require.NotNil(t, gotYear)
	assert.Equal(t, "sy-1", *gotYear)

	var body map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "school-a", body["school_id"])
}

func TestReportHandler_Dashboard_RequiresWindow(t *testing.T) {
	h := NewReportHandler(&reportServiceStub{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/?start_date=2025-09-01", nil)
	rec := httptest.NewRecorder()
	h.Dashboard(rec, withActor(req, "school-a"))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReportHandler_Dashboard_InvertedWindow(t *testing.T) {
	h := NewReportHandler(&reportServiceStub{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/?start_date=2025-10-01&end_date=2025-09-01", nil)
	rec := httptest.NewRecorder()
	h.Dashboard(rec, withActor(req, "school-a"))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReportHandler_Metrics_OpenWindow(t *testing.T) {
	called := false

	h := NewReportHandler(&reportServiceStub{
		metricsFn: func(ctx context.Context, schoolID string, start, end *time.Time, schoolYearID *string) (*domain.BillingMetrics, error) {
			called = true
			assert.Nil(t, start)
			assert.Nil(t, end)
			assert.Nil(t, schoolYearID)
			return &domain.BillingMetrics{SchoolID: schoolID}, nil
		},
	}, nil)

	rec := httptest.NewRecorder()
	h.Metrics(rec, withActor(httptest.NewRequest(http.MethodGet, "/", nil), "school-a"))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, called)
}

func TestReportHandler_Metrics_Failure(t *testing.T) {
	h := NewReportHandler(&reportServiceStub{
		metricsFn: func(context.Context, string, *time.Time, *time.Time, *string) (*domain.BillingMetrics, error) {
			return nil, errors.New("db down")
		},
	}, nil)

	rec := httptest.NewRecorder()
	h.Metrics(rec, withActor(httptest.NewRequest(http.MethodGet, "/", nil), "school-a"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestReportHandler_Reconcile(t *testing.T) {
	h := NewReportHandler(nil, &reconciliationServiceStub{
		recordFn: func(ctx context.Context, id, schoolID string) (*usecase.ReconciliationResult, error) {
			return &usecase.ReconciliationResult{BillingRecordID: id, SchoolID: schoolID, IsReconciled: true}, nil
		},
		schoolFn: func(ctx context.Context, schoolID string) (*usecase.ReconciliationReport, error) {
			return &usecase.ReconciliationReport{SchoolID: schoolID, TotalRecords: 2, ReconciledRecords: 2}, nil
		},
	})

	req := withRecordID(withActor(httptest.NewRequest(http.MethodGet, "/", nil), "school-a"), "rec-1")
	rec := httptest.NewRecorder()
	h.ReconcileRecord(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var result usecase.ReconciliationResult
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&result))
	assert.True(t, result.IsReconciled)

	rec = httptest.NewRecorder()
	h.ReconcileSchool(rec, withActor(httptest.NewRequest(http.MethodGet, "/", nil), "school-a"))

	require.Equal(t, http.StatusOK, rec.Code)
	var report usecase.ReconciliationReport
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&report))
	assert.Equal(t, 2, report.ReconciledRecords)
}
