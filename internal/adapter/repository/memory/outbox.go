package memory

import (
	"context"
	"time"

	"github.com/iho/schoolbilling/internal/domain"
)

// GetUnpublished returns up to limit unpublished events, oldest first.
func (s *Store) GetUnpublished(ctx context.Context, limit int) ([]*domain.OutboxEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.OutboxEvent, 0)
	for _, e := range s.outbox {
		if e.Published {
			continue
		}
		c := *e
		out = append(out, &c)
		if limit > 0 && len(out) == limit {
			break
		}
	}

	return out, nil
}

// MarkPublished marks an event as published.
func (s *Store) MarkPublished(ctx context.Context, id string, publishedAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.outbox {
		if e.ID == id {
			at := publishedAt
			e.Published = true
			e.PublishedAt = &at
			return nil
		}
	}

	return nil
}

// DeletePublished drops published events older than before.
func (s *Store) DeletePublished(ctx context.Context, before time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.outbox[:0]
	for _, e := range s.outbox {
		if e.Published && e.PublishedAt != nil && e.PublishedAt.Before(before) {
			continue
		}
		kept = append(kept, e)
	}
	s.outbox = kept

	return nil
}

// List returns audit logs matching filter, newest first.
func (s *Store) List(ctx context.Context, filter domain.AuditFilter) ([]*domain.AuditLog, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]*domain.AuditLog, 0)
	for i := len(s.audits) - 1; i >= 0; i-- {
		l := s.audits[i]
		if !auditMatches(l, filter) {
			continue
		}
		c := *l
		matched = append(matched, &c)
	}

	return paginate(matched, filter.Limit, filter.Offset), nil
}

func auditMatches(l *domain.AuditLog, f domain.AuditFilter) bool {
	switch {
	case f.SchoolID != "" && l.SchoolID != f.SchoolID:
		return false
	case f.UserID != "" && l.UserID != f.UserID:
		return false
	case f.Action != "" && l.Action != f.Action:
		return false
	case f.ResourceType != "" && l.ResourceType != f.ResourceType:
		return false
	case f.ResourceID != "" && l.ResourceID != f.ResourceID:
		return false
	}

	return inWindow(l.CreatedAt, f.StartDate, f.EndDate)
}
