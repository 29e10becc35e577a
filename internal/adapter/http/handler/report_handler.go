package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/iho/schoolbilling/internal/adapter/http/dto"
	"github.com/iho/schoolbilling/internal/domain"
	"github.com/iho/schoolbilling/internal/usecase"
)

// ReportService computes billing reports.
type ReportService interface {
	GetDashboardData(ctx context.Context, schoolID string, start, end time.Time, schoolYearID *string) (*domain.DashboardData, error)
	GetMetrics(ctx context.Context, schoolID string, start, end *time.Time, schoolYearID *string) (*domain.BillingMetrics, error)
}

// ReconciliationService compares records against their ledgers.
type ReconciliationService interface {
	ReconcileRecord(ctx context.Context, id, schoolID string) (*usecase.ReconciliationResult, error)
	ReconcileSchool(ctx context.Context, schoolID string) (*usecase.ReconciliationReport, error)
}

// ReportHandler handles reporting HTTP requests.
type ReportHandler struct {
	reports   ReportService
	reconcile ReconciliationService
}

// NewReportHandler creates a new ReportHandler.
func NewReportHandler(reports ReportService, reconcile ReconciliationService) *ReportHandler {
	return &ReportHandler{reports: reports, reconcile: reconcile}
}

// Dashboard returns the dashboard of the caller's school. start_date and
// end_date are required.
func (h *ReportHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	q, err := dto.ParseReportQuery(r.URL.Query().Get)
	if err != nil {
		writeDomainError(w, "invalid report window", err)
		return
	}

	if q.StartDate == nil || q.EndDate == nil {
		writeError(w, http.StatusBadRequest, "invalid report window", "start_date and end_date are required")
		return
	}

	data, err := h.reports.GetDashboardData(r.Context(), actor.SchoolID, *q.StartDate, *q.EndDate, q.SchoolYearID)
	if err != nil {
		writeDomainError(w, "failed to build dashboard", err)
		return
	}

	writeJSON(w, http.StatusOK, data)
}

// Metrics returns billing totals of the caller's school.
func (h *ReportHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	q, err := dto.ParseReportQuery(r.URL.Query().Get)
	if err != nil {
		writeDomainError(w, "invalid report window", err)
		return
	}

	m, err := h.reports.GetMetrics(r.Context(), actor.SchoolID, q.StartDate, q.EndDate, q.SchoolYearID)
	if err != nil {
		writeDomainError(w, "failed to compute metrics", err)
		return
	}

	writeJSON(w, http.StatusOK, m)
}

// ReconcileRecord checks one record against its ledger.
func (h *ReportHandler) ReconcileRecord(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	id, ok := recordID(w, r)
	if !ok {
		return
	}

	result, err := h.reconcile.ReconcileRecord(r.Context(), id, actor.SchoolID)
	if err != nil {
		writeDomainError(w, "failed to reconcile billing record", err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// ReconcileSchool checks every record of the caller's school.
func (h *ReportHandler) ReconcileSchool(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	report, err := h.reconcile.ReconcileSchool(r.Context(), actor.SchoolID)
	if err != nil {
		writeDomainError(w, "failed to reconcile school", err)
		return
	}

	writeJSON(w, http.StatusOK, report)
}
