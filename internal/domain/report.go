package domain

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// RecentPaymentsLimit is how many ledger entries a dashboard lists.
const RecentPaymentsLimit = 10

// ReportFilter scopes a report to one school and an optional window.
// Both bounds are inclusive. Records are filtered on due date, ledger entries on paid_at.
type ReportFilter struct {
	StartDate    *time.Time
	EndDate      *time.Time
	SchoolYearID *string
	SchoolID     string
}

// Validate checks the tenant and the window.
func (f ReportFilter) Validate() error {
	if f.SchoolID == "" {
		return ErrMissingTenant
	}

	return ValidateDateRange(f.StartDate, f.EndDate)
}

// StatusTotal is one (currency, status) bucket as read from storage.
type StatusTotal struct {
	Currency        string
	Status          BillingStatus
	Count           int64
	AmountDueMinor  int64
	AmountPaidMinor int64
}

// MethodTotal is the amount collected with one payment method.
type MethodTotal struct {
	Currency    string
	Method      PaymentMethod
	Count       int64
	AmountMinor int64
}

// StatusSummary is the count and sums of the records in one status.
type StatusSummary struct {
	Status     BillingStatus `json:"status"`
	Count      int64         `json:"count"`
	AmountDue  Amount        `json:"amount_due"`
	AmountPaid Amount        `json:"amount_paid"`
}

// CurrencyTotals aggregates every record billed in one currency.
type CurrencyTotals struct {
	Currency          string          `json:"currency"`
	TotalDue          Amount          `json:"total_due"`
	TotalPaid         Amount          `json:"total_paid"`
	Outstanding       Amount          `json:"outstanding"`
	ByStatus          []StatusSummary `json:"by_status"`
	RecordCount       int64           `json:"record_count"`
	CollectionRateBps int64           `json:"collection_rate_bps"`
}

// BillingMetrics are the totals of a school over a window.
type BillingMetrics struct {
	GeneratedAt        time.Time        `json:"generated_at"`
	StartDate          *time.Time       `json:"start_date,omitempty"`
	EndDate            *time.Time       `json:"end_date,omitempty"`
	SchoolYearID       *string          `json:"school_year_id,omitempty"`
	SchoolID           string           `json:"school_id"`
	Totals             []CurrencyTotals `json:"totals"`
	RecordCount        int64            `json:"record_count"`
	UnpaidCount        int64            `json:"unpaid_count"`
	PartiallyPaidCount int64            `json:"partially_paid_count"`
	PaidCount          int64            `json:"paid_count"`
}

// CollectedSummary is what was collected in one currency inside the window.
type CollectedSummary struct {
	Currency string              `json:"currency"`
	Total    Amount              `json:"total"`
	ByMethod []CollectedByMethod `json:"by_method"`
	Count    int64               `json:"count"`
}

// CollectedByMethod is one payment method line of a CollectedSummary.
type CollectedByMethod struct {
	Method PaymentMethod `json:"payment_method"`
	Amount Amount        `json:"amount"`
	Count  int64         `json:"count"`
}

// RecentPayment is a dashboard line for one ledger entry.
type RecentPayment struct {
	PaidAt          time.Time     `json:"paid_at"`
	TransactionID   string        `json:"transaction_id"`
	BillingRecordID string        `json:"billing_record_id"`
	PaidBy          string        `json:"paid_by"`
	Method          PaymentMethod `json:"payment_method"`
	Kind            PaymentKind   `json:"kind"`
	Amount          Amount        `json:"amount"`
}

// DashboardData is the dashboard view of a school.
type DashboardData struct {
	BillingMetrics
	Collected      []CollectedSummary `json:"collected"`
	RecentPayments []RecentPayment    `json:"recent_payments"`
}

// NewRecentPayment converts a ledger entry into a dashboard line.
func NewRecentPayment(tx *PaymentTransaction) RecentPayment {
	return RecentPayment{
		TransactionID:   tx.ID,
		BillingRecordID: tx.BillingRecordID,
		Amount:          tx.Amount,
		Method:          tx.PaymentMethod,
		Kind:            tx.Kind,
		PaidBy:          tx.PaidBy,
		PaidAt:          tx.PaidAt,
	}
}

// BuildMetrics folds status buckets into per-currency totals. Amounts in different
// currencies are never added together.
func BuildMetrics(f ReportFilter, rows []StatusTotal, now time.Time) (*BillingMetrics, error) {
	m := &BillingMetrics{
		SchoolID:     f.SchoolID,
		StartDate:    f.StartDate,
		EndDate:      f.EndDate,
		SchoolYearID: f.SchoolYearID,
		Totals:       []CurrencyTotals{},
		GeneratedAt:  now,
	}

	byCurrency := make(map[string]*CurrencyTotals)
	for _, row := range rows {
		if !row.Status.IsValid() {
			return nil, fmt.Errorf("%w: unknown status %q in report", ErrInconsistentRecord, row.Status)
		}

		cur := normalizeCurrency(row.Currency)
		ct, ok := byCurrency[cur]
		if !ok {
			ct = newCurrencyTotals(cur)
			byCurrency[cur] = ct
		}

		due := NewAmount(row.AmountDueMinor, cur)
		paid := NewAmount(row.AmountPaidMinor, cur)

		var err error
		if ct.TotalDue, err = ct.TotalDue.Add(due); err != nil {
			return nil, err
		}
		if ct.TotalPaid, err = ct.TotalPaid.Add(paid); err != nil {
			return nil, err
		}

		for i := range ct.ByStatus {
			s := &ct.ByStatus[i]
			if s.Status != row.Status {
				continue
			}
			s.Count += row.Count
			if s.AmountDue, err = s.AmountDue.Add(due); err != nil {
				return nil, err
			}
			if s.AmountPaid, err = s.AmountPaid.Add(paid); err != nil {
				return nil, err
			}
		}

		ct.RecordCount += row.Count
		m.RecordCount += row.Count

		switch row.Status {
		case BillingStatusUnpaid:
			m.UnpaidCount += row.Count
		case BillingStatusPartiallyPaid:
			m.PartiallyPaidCount += row.Count
		case BillingStatusPaid:
			m.PaidCount += row.Count
		}
	}

	for _, cur := range sortedKeys(byCurrency) {
		ct := byCurrency[cur]

		outstanding, err := ct.TotalDue.Sub(ct.TotalPaid)
		if err != nil {
			return nil, err
		}
		ct.Outstanding = outstanding
		ct.CollectionRateBps = collectionRateBps(ct.TotalPaid, ct.TotalDue)

		m.Totals = append(m.Totals, *ct)
	}

	return m, nil
}

// BuildCollected groups per-method totals by currency.
func BuildCollected(rows []MethodTotal) ([]CollectedSummary, error) {
	byCurrency := make(map[string]*CollectedSummary)

	for _, row := range rows {
		cur := normalizeCurrency(row.Currency)
		cs, ok := byCurrency[cur]
		if !ok {
			cs = &CollectedSummary{Currency: cur, Total: ZeroAmount(cur), ByMethod: []CollectedByMethod{}}
			byCurrency[cur] = cs
		}

		amount := NewAmount(row.AmountMinor, cur)

		var err error
		if cs.Total, err = cs.Total.Add(amount); err != nil {
			return nil, err
		}
		cs.Count += row.Count
		cs.ByMethod = append(cs.ByMethod, CollectedByMethod{Method: row.Method, Amount: amount, Count: row.Count})
	}

	out := make([]CollectedSummary, 0, len(byCurrency))
	for _, cur := range sortedKeys(byCurrency) {
		cs := byCurrency[cur]
		sort.Slice(cs.ByMethod, func(i, j int) bool { return cs.ByMethod[i].Method < cs.ByMethod[j].Method })
		out = append(out, *cs)
	}

	return out, nil
}

func newCurrencyTotals(cur string) *CurrencyTotals {
	ct := &CurrencyTotals{
		Currency:    cur,
		TotalDue:    ZeroAmount(cur),
		TotalPaid:   ZeroAmount(cur),
		Outstanding: ZeroAmount(cur),
		ByStatus:    make([]StatusSummary, 0, len(BillingStatuses)),
	}

	for _, s := range BillingStatuses {
		ct.ByStatus = append(ct.ByStatus, StatusSummary{
			Status:     s,
			AmountDue:  ZeroAmount(cur),
			AmountPaid: ZeroAmount(cur),
		})
	}

	return ct
}

// collectionRateBps returns paid/due in basis points, rounded down.
func collectionRateBps(paid, due Amount) int64 {
	if due.Minor <= 0 {
		return 0
	}

	return decimal.NewFromInt(paid.Minor).
		Mul(decimal.NewFromInt(10000)).
		Div(decimal.NewFromInt(due.Minor)).
		Floor().
		IntPart()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	return keys
}
