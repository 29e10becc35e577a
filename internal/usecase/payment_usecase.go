package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/iho/schoolbilling/internal/domain"
	"github.com/iho/schoolbilling/internal/infrastructure/metrics"
)

// PaymentUseCase records payments against billing records.
type PaymentUseCase struct {
	records BillingRecordRepository
	store   BillingLedgerStore
	idGen   IDGenerator
	retrier Retrier
	cache   ReportCache
	metrics *metrics.Metrics
	logger  zerolog.Logger
	policy  domain.OverpaymentPolicy
	now     func() time.Time
}

// PaymentUseCaseConfig wires a PaymentUseCase. Retrier, Cache, Metrics and Now are optional.
type PaymentUseCaseConfig struct {
	Records BillingRecordRepository
	Store   BillingLedgerStore
	IDGen   IDGenerator
	Retrier Retrier
	Cache   ReportCache
	Metrics *metrics.Metrics
	Logger  zerolog.Logger
	Policy  domain.OverpaymentPolicy
	Now     func() time.Time
}

// NewPaymentUseCase creates a new PaymentUseCase.
func NewPaymentUseCase(cfg PaymentUseCaseConfig) *PaymentUseCase {
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}

	policy := cfg.Policy
	if policy == "" {
		policy = domain.OverpaymentReject
	}

	return &PaymentUseCase{
		records: cfg.Records,
		store:   cfg.Store,
		idGen:   cfg.IDGen,
		retrier: cfg.Retrier,
		cache:   cfg.Cache,
		metrics: cfg.Metrics,
		logger:  cfg.Logger.With().Str("component", "payments").Logger(),
		policy:  policy,
		now:     now,
	}
}

// ManualPaymentInput settles the full remaining balance of a record.
type ManualPaymentInput struct {
	PaymentMethod domain.PaymentMethod
	PaymentNote   string
}

// PartialPaymentInput books a given amount against a record.
type PartialPaymentInput struct {
	PaymentMethod          domain.PaymentMethod
	PaymentNote            string
	Amount                 domain.Amount
	AcknowledgeOverpayment bool
}

// PaymentResult is the committed state after a payment.
type PaymentResult struct {
	Record      *domain.BillingRecord
	Transaction *domain.PaymentTransaction
	// Unapplied is the excess of an acknowledged overpayment. It was not booked.
	Unapplied domain.Amount
	Attempts  int
}

// RecordManualPayment marks a record as paid. The ledger entry carries the
// remaining balance.
func (uc *PaymentUseCase) RecordManualPayment(
	ctx context.Context,
	billingRecordID, schoolID string,
	input ManualPaymentInput,
	paidBy string,
) (*PaymentResult, error) {
	if err := domain.ValidateTenant(billingRecordID, schoolID); err != nil {
		return nil, err
	}

	payment := domain.PaymentInput{
		TransactionID: uc.idGen.Generate(),
		Method:        input.PaymentMethod,
		Note:          input.PaymentNote,
		PaidBy:        paidBy,
	}
	if err := payment.Validate(); err != nil {
		return nil, err
	}

	return uc.record(ctx, billingRecordID, schoolID, payment, domain.PaymentKindFull)
}

// RecordPartialPayment books input.Amount against a record.
func (uc *PaymentUseCase) RecordPartialPayment(
	ctx context.Context,
	billingRecordID, schoolID string,
	input PartialPaymentInput,
	paidBy string,
) (*PaymentResult, error) {
	if err := domain.ValidateTenant(billingRecordID, schoolID); err != nil {
		return nil, err
	}

	if !input.Amount.IsPositive() {
		return nil, domain.ErrInvalidAmount
	}

	if err := domain.ValidateCurrency(input.Amount.Currency); err != nil {
		return nil, err
	}

	payment := domain.PaymentInput{
		TransactionID:          uc.idGen.Generate(),
		Amount:                 input.Amount,
		Method:                 input.PaymentMethod,
		Note:                   input.PaymentNote,
		PaidBy:                 paidBy,
		AcknowledgeOverpayment: input.AcknowledgeOverpayment,
	}
	if err := payment.Validate(); err != nil {
		return nil, err
	}

	return uc.record(ctx, billingRecordID, schoolID, payment, domain.PaymentKindPartial)
}

func (uc *PaymentUseCase) record(
	ctx context.Context,
	billingRecordID, schoolID string,
	payment domain.PaymentInput,
	kind domain.PaymentKind,
) (*PaymentResult, error) {
	start := time.Now()
	log := uc.logger.With().
		Str("billing_record_id", billingRecordID).
		Str("school_id", schoolID).
		Str("kind", string(kind)).
		Logger()

	var (
		outcome  *domain.PaymentOutcome
		attempts int
	)

	op := func() error {
		attempts++

		var err error
		outcome, err = uc.attempt(ctx, billingRecordID, schoolID, payment, kind)

		return err
	}

	var err error
	if uc.retrier != nil {
		err = uc.retrier.Retry(ctx, op)
	} else {
		err = op()
	}

	if err != nil {
		if uc.metrics != nil {
			uc.metrics.PaymentErrors.WithLabelValues(errorType(err)).Inc()
		}

		log.Warn().Err(err).Int("attempts", attempts).Msg("payment rejected")

		return nil, err
	}

	if uc.metrics != nil {
		amount, _ := outcome.Transaction.Amount.Decimal().Float64()

		uc.metrics.PaymentsRecorded.WithLabelValues(string(kind)).Inc()
		uc.metrics.PaymentAmount.WithLabelValues(outcome.Transaction.Amount.Currency).Observe(amount)
		uc.metrics.PaymentDuration.Observe(time.Since(start).Seconds())

		if outcome.Unapplied.IsPositive() {
			uc.metrics.OverpaymentsClamped.Inc()
		}
	}

	event := log.Info().
		Str("transaction_id", outcome.Transaction.ID).
		Str("amount", outcome.Transaction.Amount.String()).
		Str("status", string(outcome.Record.Status)).
		Int64("version", outcome.Record.Version).
		Int("attempts", attempts)
	if outcome.Unapplied.IsPositive() {
		event = event.Str("unapplied", outcome.Unapplied.String())
	}
	event.Msg("payment recorded")

	uc.invalidateReports(ctx, schoolID)

	return &PaymentResult{
		Record:      &outcome.Record,
		Transaction: &outcome.Transaction,
		Unapplied:   outcome.Unapplied,
		Attempts:    attempts,
	}, nil
}

// attempt reads fresh state, computes the transition and commits it once.
func (uc *PaymentUseCase) attempt(
	ctx context.Context,
	billingRecordID, schoolID string,
	payment domain.PaymentInput,
	kind domain.PaymentKind,
) (*domain.PaymentOutcome, error) {
	record, err := uc.records.GetByID(ctx, billingRecordID, schoolID)
	if err != nil {
		return nil, err
	}

	now := uc.now()

	var outcome *domain.PaymentOutcome
	if kind == domain.PaymentKindFull {
		outcome, err = record.MarkAsPaid(payment, now)
	} else {
		outcome, err = record.RecordPartialPayment(payment, uc.policy, now)
	}
	if err != nil {
		return nil, err
	}

	userID := payment.PaidBy
	if actor, ok := domain.ActorFromContext(ctx); ok && actor.UserID != "" {
		userID = actor.UserID
	}

	app := &domain.PaymentApplication{
		Record:          outcome.Record,
		Transaction:     outcome.Transaction,
		ExpectedVersion: record.Version,
		Events:          domain.PaymentEvents(outcome, uc.idGen.Generate),
		Audit:           domain.PaymentAudit(uc.idGen.Generate(), userID, domain.RequestIDFromContext(ctx), *record, outcome),
	}

	txCtx, cancel := context.WithTimeout(ctx, DefaultTransactionTimeout)
	defer cancel()

	if err := uc.store.ApplyPayment(txCtx, schoolID, app); err != nil {
		return nil, err
	}

	return outcome, nil
}

func (uc *PaymentUseCase) invalidateReports(ctx context.Context, schoolID string) {
	if uc.cache == nil {
		return
	}

	if err := uc.cache.Invalidate(ctx, schoolID); err != nil {
		uc.logger.Error().Err(err).Str("school_id", schoolID).Msg("failed to invalidate report cache")
	}
}

func errorType(err error) string {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, domain.ErrInvalidArgument):
		return "invalid_argument"
	case errors.Is(err, domain.ErrConcurrency):
		return "concurrency"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "timeout"
	default:
		return "internal"
	}
}
