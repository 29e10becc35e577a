package handler

import (
	"context"
	"net/http"

	"github.com/iho/schoolbilling/internal/adapter/http/dto"
	"github.com/iho/schoolbilling/internal/domain"
	"github.com/iho/schoolbilling/internal/usecase"
)

// BillingService reads and seeds billing records.
type BillingService interface {
	GetBillingRecord(ctx context.Context, id, schoolID string) (*domain.BillingRecord, error)
	ListPaymentTransactions(ctx context.Context, id, schoolID string, limit, offset int) ([]*domain.PaymentTransaction, error)
	ListAuditTrail(ctx context.Context, id, schoolID string, limit, offset int) ([]*domain.AuditLog, error)
	CreateBillingRecord(ctx context.Context, input usecase.CreateBillingRecordInput) (*domain.BillingRecord, error)
}

// BillingHandler handles billing record HTTP requests.
type BillingHandler struct {
	billing         BillingService
	defaultCurrency string
}

// NewBillingHandler creates a new BillingHandler.
func NewBillingHandler(billing BillingService, defaultCurrency string) *BillingHandler {
	return &BillingHandler{billing: billing, defaultCurrency: defaultCurrency}
}

// Create seeds an unpaid billing record for the caller's school.
func (h *BillingHandler) Create(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var req dto.CreateBillingRecordRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	input, err := req.ToUseCaseInput(actor.SchoolID, h.defaultCurrency)
	if err != nil {
		writeDomainError(w, "invalid billing record", err)
		return
	}

	record, err := h.billing.CreateBillingRecord(r.Context(), input)
	if err != nil {
		writeDomainError(w, "failed to create billing record", err)
		return
	}

	writeJSON(w, http.StatusCreated, dto.BillingRecordFromDomain(record))
}

// Get retrieves a billing record by ID.
func (h *BillingHandler) Get(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	id, ok := recordID(w, r)
	if !ok {
		return
	}

	record, err := h.billing.GetBillingRecord(r.Context(), id, actor.SchoolID)
	if err != nil {
		writeDomainError(w, "failed to get billing record", err)
		return
	}

	writeJSON(w, http.StatusOK, dto.BillingRecordFromDomain(record))
}

// ListTransactions lists the ledger entries of a billing record.
func (h *BillingHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	id, ok := recordID(w, r)
	if !ok {
		return
	}

	limit, offset := domain.ValidatePagination(parseIntQuery(r, "limit", 0), parseIntQuery(r, "offset", 0))

	txs, err := h.billing.ListPaymentTransactions(r.Context(), id, actor.SchoolID, limit, offset)
	if err != nil {
		writeDomainError(w, "failed to list transactions", err)
		return
	}

	writeJSON(w, http.StatusOK, dto.PaymentTransactionsFromDomain(txs))
}

// ListAudit lists the audit trail of a billing record.
func (h *BillingHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	id, ok := recordID(w, r)
	if !ok {
		return
	}

	limit, offset := domain.ValidatePagination(parseIntQuery(r, "limit", 0), parseIntQuery(r, "offset", 0))

	logs, err := h.billing.ListAuditTrail(r.Context(), id, actor.SchoolID, limit, offset)
	if err != nil {
		writeDomainError(w, "failed to list audit trail", err)
		return
	}

	writeJSON(w, http.StatusOK, dto.AuditLogsFromDomain(logs))
}
