package dto

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/iho/schoolbilling/internal/domain"
	"github.com/iho/schoolbilling/internal/usecase"
)

// DateLayout is the calendar date format of query parameters and due dates.
const DateLayout = "2006-01-02"

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the struct tags of a request.
func Validate(req any) error {
	return validate.Struct(req)
}

// ValidationDetails maps each failing field to the rule it broke.
func ValidationDetails(err error) map[string]string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}

	details := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		details[toSnake(fe.Field())] = fmt.Sprintf("failed on '%s'", fe.Tag())
	}

	return details
}

// ManualPaymentRequest settles the remaining balance of a record.
type ManualPaymentRequest struct {
	PaymentMethod string `json:"payment_method" validate:"required"`
	PaymentNote   string `json:"payment_note"   validate:"max=1000"`
}

// ToUseCaseInput converts to use case input.
func (r *ManualPaymentRequest) ToUseCaseInput() (usecase.ManualPaymentInput, error) {
	method, err := domain.ParsePaymentMethod(r.PaymentMethod)
	if err != nil {
		return usecase.ManualPaymentInput{}, err
	}

	return usecase.ManualPaymentInput{
		PaymentMethod: method,
		PaymentNote:   r.PaymentNote,
	}, nil
}

// PartialPaymentRequest books an amount, in major units, against a record.
type PartialPaymentRequest struct {
	Amount                 decimal.Decimal `json:"amount"`
	Currency               string          `json:"currency"                validate:"omitempty,len=3,alpha"`
	PaymentMethod          string          `json:"payment_method"          validate:"required"`
	PaymentNote            string          `json:"payment_note"            validate:"max=1000"`
	AcknowledgeOverpayment bool            `json:"acknowledge_overpayment"`
}

// ToUseCaseInput converts to use case input. An omitted currency means defaultCurrency.
func (r *PartialPaymentRequest) ToUseCaseInput(defaultCurrency string) (usecase.PartialPaymentInput, error) {
	method, err := domain.ParsePaymentMethod(r.PaymentMethod)
	if err != nil {
		return usecase.PartialPaymentInput{}, err
	}

	currency := r.Currency
	if currency == "" {
		currency = defaultCurrency
	}

	amount, err := domain.AmountFromDecimal(r.Amount, currency)
	if err != nil {
		return usecase.PartialPaymentInput{}, err
	}

	return usecase.PartialPaymentInput{
		Amount:                 amount,
		PaymentMethod:          method,
		PaymentNote:            r.PaymentNote,
		AcknowledgeOverpayment: r.AcknowledgeOverpayment,
	}, nil
}

// CreateBillingRecordRequest seeds a billing record.
type CreateBillingRecordRequest struct {
	StudentID    string          `json:"student_id"     validate:"required"`
	SchoolYearID string          `json:"school_year_id"`
	Description  string          `json:"description"    validate:"max=500"`
	AmountDue    decimal.Decimal `json:"amount_due"`
	Currency     string          `json:"currency"       validate:"omitempty,len=3,alpha"`
	DueDate      string          `json:"due_date"       validate:"required,datetime=2006-01-02"`
}

// ToUseCaseInput converts to use case input for schoolID.
func (r *CreateBillingRecordRequest) ToUseCaseInput(schoolID, defaultCurrency string) (usecase.CreateBillingRecordInput, error) {
	currency := r.Currency
	if currency == "" {
		currency = defaultCurrency
	}

	amount, err := domain.AmountFromDecimal(r.AmountDue, currency)
	if err != nil {
		return usecase.CreateBillingRecordInput{}, err
	}

	due, err := time.Parse(DateLayout, r.DueDate)
	if err != nil {
		return usecase.CreateBillingRecordInput{}, fmt.Errorf("%w: due_date: %v", domain.ErrInvalidArgument, err)
	}

	return usecase.CreateBillingRecordInput{
		SchoolID:     schoolID,
		StudentID:    r.StudentID,
		SchoolYearID: r.SchoolYearID,
		Description:  r.Description,
		AmountDue:    amount,
		DueDate:      due.UTC(),
	}, nil
}

// ReportQuery is the window of a dashboard or metrics request.
type ReportQuery struct {
	StartDate    *time.Time
	EndDate      *time.Time
	SchoolYearID *string
}

// ParseReportQuery reads start_date, end_date and school_year_id. Dates are
// calendar days in UTC and the end date covers its whole day.
func ParseReportQuery(get func(string) string) (ReportQuery, error) {
	var q ReportQuery

	if v := get("start_date"); v != "" {
		t, err := time.Parse(DateLayout, v)
		if err != nil {
			return q, fmt.Errorf("%w: start_date must be YYYY-MM-DD", domain.ErrInvalidArgument)
		}
		q.StartDate = &t
	}

	if v := get("end_date"); v != "" {
		t, err := time.Parse(DateLayout, v)
		if err != nil {
			return q, fmt.Errorf("%w: end_date must be YYYY-MM-DD", domain.ErrInvalidArgument)
		}
		end := t.Add(24*time.Hour - time.Nanosecond)
		q.EndDate = &end
	}

	if v := strings.TrimSpace(get("school_year_id")); v != "" {
		q.SchoolYearID = &v
	}

	if err := domain.ValidateDateRange(q.StartDate, q.EndDate); err != nil {
		return q, err
	}

	return q, nil
}

func toSnake(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}
