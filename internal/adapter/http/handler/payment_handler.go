package handler

import (
	"context"
	"net/http"

	"github.com/iho/schoolbilling/internal/adapter/http/dto"
	"github.com/iho/schoolbilling/internal/usecase"
)

// PaymentService records payments against billing records.
type PaymentService interface {
	RecordManualPayment(ctx context.Context, id, schoolID string, input usecase.ManualPaymentInput, paidBy string) (*usecase.PaymentResult, error)
	RecordPartialPayment(ctx context.Context, id, schoolID string, input usecase.PartialPaymentInput, paidBy string) (*usecase.PaymentResult, error)
}

// PaymentHandler handles payment HTTP requests.
type PaymentHandler struct {
	payments        PaymentService
	defaultCurrency string
}

// NewPaymentHandler creates a new PaymentHandler.
func NewPaymentHandler(payments PaymentService, defaultCurrency string) *PaymentHandler {
	return &PaymentHandler{payments: payments, defaultCurrency: defaultCurrency}
}

// RecordFull marks a billing record as paid.
func (h *PaymentHandler) RecordFull(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	id, ok := recordID(w, r)
	if !ok {
		return
	}

	var req dto.ManualPaymentRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	input, err := req.ToUseCaseInput()
	if err != nil {
		writeDomainError(w, "invalid payment", err)
		return
	}

	result, err := h.payments.RecordManualPayment(r.Context(), id, actor.SchoolID, input, actor.UserID)
	if err != nil {
		writeDomainError(w, "failed to record payment", err)
		return
	}

	writeJSON(w, http.StatusOK, dto.PaymentFromResult(result))
}

// RecordPartial books an amount against a billing record.
func (h *PaymentHandler) RecordPartial(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	id, ok := recordID(w, r)
	if !ok {
		return
	}

	var req dto.PartialPaymentRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	input, err := req.ToUseCaseInput(h.defaultCurrency)
	if err != nil {
		writeDomainError(w, "invalid payment", err)
		return
	}

	result, err := h.payments.RecordPartialPayment(r.Context(), id, actor.SchoolID, input, actor.UserID)
	if err != nil {
		writeDomainError(w, "failed to record payment", err)
		return
	}

	writeJSON(w, http.StatusOK, dto.PaymentFromResult(result))
}
