package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/iho/schoolbilling/internal/domain"
)

// OutboxRepository implements usecase.OutboxRepository. Events are written by
// LedgerStore in the payment transaction.
type OutboxRepository struct {
	db querier
}

// NewOutboxRepository creates a new OutboxRepository.
func NewOutboxRepository(pool *pgxpool.Pool) *OutboxRepository {
	return &OutboxRepository{db: pool}
}

func insertOutboxEvent(ctx context.Context, q querier, event *domain.OutboxEvent) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return err
	}

	_, err = q.Exec(ctx, `
		INSERT INTO outbox_events (id, school_id, aggregate_id, aggregate_type, event_type, payload, created_at, published)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		event.ID,
		event.SchoolID,
		event.AggregateID,
		event.AggregateType,
		event.EventType,
		payload,
		event.CreatedAt,
		event.Published,
	)

	return err
}

// GetUnpublished returns the oldest unpublished events.
func (r *OutboxRepository) GetUnpublished(ctx context.Context, limit int) ([]*domain.OutboxEvent, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, school_id, aggregate_id, aggregate_type, event_type, payload, created_at, published, published_at
		FROM outbox_events
		WHERE published = FALSE
		ORDER BY created_at, id
		LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	events := make([]*domain.OutboxEvent, 0, limit)
	for rows.Next() {
		var (
			e       domain.OutboxEvent
			payload []byte
		)

		if err := rows.Scan(
			&e.ID,
			&e.SchoolID,
			&e.AggregateID,
			&e.AggregateType,
			&e.EventType,
			&payload,
			&e.CreatedAt,
			&e.Published,
			&e.PublishedAt,
		); err != nil {
			return nil, err
		}

		if len(payload) > 0 {
			_ = json.Unmarshal(payload, &e.Payload)
		}

		events = append(events, &e)
	}

	return events, mapError(rows.Err())
}

// MarkPublished marks an event as published.
func (r *OutboxRepository) MarkPublished(ctx context.Context, id string, publishedAt time.Time) error {
	_, err := r.db.Exec(ctx, `
		UPDATE outbox_events SET published = TRUE, published_at = $2 WHERE id = $1`,
		id, publishedAt,
	)

	return mapError(err)
}

// DeletePublished deletes published events older than before.
func (r *OutboxRepository) DeletePublished(ctx context.Context, before time.Time) error {
	_, err := r.db.Exec(ctx, `
		DELETE FROM outbox_events WHERE published = TRUE AND published_at < $1`,
		before,
	)

	return mapError(err)
}
