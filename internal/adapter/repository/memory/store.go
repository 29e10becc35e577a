// Package memory is an in-process implementation of the billing repositories.
// It backs the memory storage driver and use case tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/iho/schoolbilling/internal/domain"
)

// Store holds records, their ledger, outbox events and audit logs. A single
// mutex serializes commits; ApplyPayment performs the same version check as
// the Postgres store.
type Store struct {
	mu           sync.RWMutex
	records      map[string]*domain.BillingRecord
	transactions []*domain.PaymentTransaction
	outbox       []*domain.OutboxEvent
	audits       []*domain.AuditLog
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		records: make(map[string]*domain.BillingRecord),
	}
}

// Create stores a new billing record.
func (s *Store) Create(ctx context.Context, record *domain.BillingRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := record.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[record.ID]; ok {
		return fmt.Errorf("%w: billing record %s already exists", domain.ErrInvalidArgument, record.ID)
	}

	s.records[record.ID] = cloneRecord(record)

	return nil
}

// GetByID returns a copy of a record visible to schoolID.
func (s *Store) GetByID(ctx context.Context, id, schoolID string) (*domain.BillingRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.visible(id, schoolID)
	if !ok {
		return nil, domain.ErrNotFound
	}

	return cloneRecord(r), nil
}

// ListBySchool lists the records of a school ordered by creation time.
func (s *Store) ListBySchool(ctx context.Context, schoolID string, limit, offset int) ([]*domain.BillingRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make([]*domain.BillingRecord, 0)
	for _, r := range s.records {
		if r.SchoolID == schoolID && r.DeletedAt == nil {
			all = append(all, r)
		}
	}

	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID < all[j].ID
		}
		return all[i].CreatedAt.Before(all[j].CreatedAt)
	})

	page := paginate(all, limit, offset)
	out := make([]*domain.BillingRecord, 0, len(page))
	for _, r := range page {
		out = append(out, cloneRecord(r))
	}

	return out, nil
}

// SoftDelete hides a record from every read and write.
func (s *Store) SoftDelete(ctx context.Context, id, schoolID string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.visible(id, schoolID)
	if !ok {
		return domain.ErrNotFound
	}

	deletedAt := at
	r.DeletedAt = &deletedAt

	return nil
}

// ListByRecord returns ledger entries of a record in insertion order.
func (s *Store) ListByRecord(ctx context.Context, recordID, schoolID string, limit, offset int) ([]*domain.PaymentTransaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.ledgerOf(recordID, schoolID)
	page := paginate(entries, limit, offset)

	out := make([]*domain.PaymentTransaction, 0, len(page))
	for _, tx := range page {
		c := *tx
		out = append(out, &c)
	}

	return out, nil
}

// SumByRecord adds up the ledger of a record.
func (s *Store) SumByRecord(ctx context.Context, recordID, schoolID, currency string) (domain.Amount, int64, error) {
	if err := ctx.Err(); err != nil {
		return domain.Amount{}, 0, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.ledgerOf(recordID, schoolID)

	total, err := domain.SumTransactions(entries, currency)
	if err != nil {
		return domain.Amount{}, 0, err
	}

	return total, int64(len(entries)), nil
}

// ApplyPayment commits the record update, its ledger entry, events and audit log together.
func (s *Store) ApplyPayment(ctx context.Context, schoolID string, app *domain.PaymentApplication) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if app.Record.SchoolID != schoolID {
		return domain.ErrNotFound
	}

	if err := app.Validate(); err != nil {
		return err
	}

	prior, err := app.PriorPaid()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.visible(app.Record.ID, schoolID)
	if !ok {
		return domain.ErrNotFound
	}

	if current.Version != app.ExpectedVersion {
		return fmt.Errorf("%w: record %s is at version %d, expected %d",
			domain.ErrConcurrency, current.ID, current.Version, app.ExpectedVersion)
	}

	if current.AmountPaid != prior {
		return fmt.Errorf("%w: record %s holds %s paid, payment assumes %s",
			domain.ErrInconsistentRecord, current.ID, current.AmountPaid, prior)
	}

	// Nothing is written until every check passed.
	s.records[current.ID] = cloneRecord(&app.Record)

	tx := app.Transaction
	s.transactions = append(s.transactions, &tx)

	for _, e := range app.Events {
		c := *e
		s.outbox = append(s.outbox, &c)
	}

	if app.Audit != nil {
		c := *app.Audit
		s.audits = append(s.audits, &c)
	}

	return nil
}

func (s *Store) visible(id, schoolID string) (*domain.BillingRecord, bool) {
	r, ok := s.records[id]
	if !ok || r.SchoolID != schoolID || r.DeletedAt != nil {
		return nil, false
	}

	return r, true
}

func (s *Store) ledgerOf(recordID, schoolID string) []*domain.PaymentTransaction {
	out := make([]*domain.PaymentTransaction, 0)
	for _, tx := range s.transactions {
		if tx.BillingRecordID == recordID && tx.SchoolID == schoolID {
			out = append(out, tx)
		}
	}

	return out
}

func cloneRecord(r *domain.BillingRecord) *domain.BillingRecord {
	c := *r
	if r.PaidAt != nil {
		t := *r.PaidAt
		c.PaidAt = &t
	}
	if r.DeletedAt != nil {
		t := *r.DeletedAt
		c.DeletedAt = &t
	}

	return &c
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return []T{}
	}

	end := len(items)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}

	return items[offset:end]
}
