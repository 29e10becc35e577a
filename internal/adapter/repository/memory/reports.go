package memory

import (
	"context"
	"sort"
	"time"

	"github.com/iho/schoolbilling/internal/domain"
)

type statusKey struct {
	currency string
	status   domain.BillingStatus
}

type methodKey struct {
	currency string
	method   domain.PaymentMethod
}

// StatusTotals groups the records matching f by currency and status.
func (s *Store) StatusTotals(ctx context.Context, f domain.ReportFilter) ([]domain.StatusTotal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	buckets := make(map[statusKey]*domain.StatusTotal)
	for _, r := range s.records {
		if !recordMatches(r, f) {
			continue
		}

		k := statusKey{currency: r.AmountDue.Currency, status: r.Status}
		b, ok := buckets[k]
		if !ok {
			b = &domain.StatusTotal{Currency: k.currency, Status: k.status}
			buckets[k] = b
		}

		b.Count++
		b.AmountDueMinor += r.AmountDue.Minor
		b.AmountPaidMinor += r.AmountPaid.Minor
	}

	out := make([]domain.StatusTotal, 0, len(buckets))
	for _, b := range buckets {
		out = append(out, *b)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Currency == out[j].Currency {
			return out[i].Status < out[j].Status
		}
		return out[i].Currency < out[j].Currency
	})

	return out, nil
}

// CollectedByMethod sums ledger entries paid inside the window of f.
func (s *Store) CollectedByMethod(ctx context.Context, f domain.ReportFilter) ([]domain.MethodTotal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	buckets := make(map[methodKey]*domain.MethodTotal)
	for _, tx := range s.transactions {
		if !s.transactionMatches(tx, f) {
			continue
		}

		k := methodKey{currency: tx.Amount.Currency, method: tx.PaymentMethod}
		b, ok := buckets[k]
		if !ok {
			b = &domain.MethodTotal{Currency: k.currency, Method: k.method}
			buckets[k] = b
		}

		b.Count++
		b.AmountMinor += tx.Amount.Minor
	}

	out := make([]domain.MethodTotal, 0, len(buckets))
	for _, b := range buckets {
		out = append(out, *b)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Currency == out[j].Currency {
			return out[i].Method < out[j].Method
		}
		return out[i].Currency < out[j].Currency
	})

	return out, nil
}

// RecentPayments returns the latest ledger entries inside the window of f.
func (s *Store) RecentPayments(ctx context.Context, f domain.ReportFilter, limit int) ([]*domain.PaymentTransaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]*domain.PaymentTransaction, 0)
	// Walk backwards so equal timestamps keep newest-inserted first.
	for i := len(s.transactions) - 1; i >= 0; i-- {
		tx := s.transactions[i]
		if s.transactionMatches(tx, f) {
			c := *tx
			matched = append(matched, &c)
		}
	}

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].PaidAt.After(matched[j].PaidAt)
	})

	return paginate(matched, limit, 0), nil
}

func recordMatches(r *domain.BillingRecord, f domain.ReportFilter) bool {
	if r.SchoolID != f.SchoolID || r.DeletedAt != nil {
		return false
	}

	if f.SchoolYearID != nil && r.SchoolYearID != *f.SchoolYearID {
		return false
	}

	return inWindow(r.DueDate, f.StartDate, f.EndDate)
}

func (s *Store) transactionMatches(tx *domain.PaymentTransaction, f domain.ReportFilter) bool {
	if tx.SchoolID != f.SchoolID {
		return false
	}

	r, ok := s.records[tx.BillingRecordID]
	if !ok || r.DeletedAt != nil {
		return false
	}

	if f.SchoolYearID != nil && r.SchoolYearID != *f.SchoolYearID {
		return false
	}

	return inWindow(tx.PaidAt, f.StartDate, f.EndDate)
}

func inWindow(t time.Time, start, end *time.Time) bool {
	if start != nil && t.Before(*start) {
		return false
	}

	if end != nil && t.After(*end) {
		return false
	}

	return true
}
