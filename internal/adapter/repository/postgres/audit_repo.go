package postgres

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/iho/schoolbilling/internal/domain"
)

// AuditRepository reads the audit trail. Entries are written by LedgerStore.
type AuditRepository struct {
	db querier
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(pool *pgxpool.Pool) *AuditRepository {
	return &AuditRepository{db: pool}
}

func insertAuditLog(ctx context.Context, q querier, log *domain.AuditLog) error {
	var beforeState, afterState []byte
	var err error

	if log.BeforeState != nil {
		if beforeState, err = json.Marshal(log.BeforeState); err != nil {
			return err
		}
	}

	if log.AfterState != nil {
		if afterState, err = json.Marshal(log.AfterState); err != nil {
			return err
		}
	}

	_, err = q.Exec(ctx, `
		INSERT INTO audit_logs (
			id, school_id, user_id, action, resource_type, resource_id, request_id,
			before_state, after_state, status, error_message, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		log.ID,
		log.SchoolID,
		log.UserID,
		log.Action,
		log.ResourceType,
		log.ResourceID,
		log.RequestID,
		beforeState,
		afterState,
		log.Status,
		log.ErrorMessage,
		log.CreatedAt,
	)

	return err
}

// List retrieves audit logs with filtering, newest first.
func (r *AuditRepository) List(ctx context.Context, filter domain.AuditFilter) ([]*domain.AuditLog, error) {
	query, args := auditQuery(filter)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	logs := make([]*domain.AuditLog, 0)
	for rows.Next() {
		var (
			log                     domain.AuditLog
			beforeState, afterState []byte
		)

		if err := rows.Scan(
			&log.ID,
			&log.SchoolID,
			&log.UserID,
			&log.Action,
			&log.ResourceType,
			&log.ResourceID,
			&log.RequestID,
			&beforeState,
			&afterState,
			&log.Status,
			&log.ErrorMessage,
			&log.CreatedAt,
		); err != nil {
			return nil, err
		}

		if beforeState != nil {
			_ = json.Unmarshal(beforeState, &log.BeforeState)
		}

		if afterState != nil {
			_ = json.Unmarshal(afterState, &log.AfterState)
		}

		logs = append(logs, &log)
	}

	return logs, mapError(rows.Err())
}

func auditQuery(f domain.AuditFilter) (string, []any) {
	var b strings.Builder
	b.WriteString(`
		SELECT id, school_id, user_id, action, resource_type, resource_id, request_id,
		       before_state, after_state, status, error_message, created_at
		FROM audit_logs
		WHERE 1=1`)

	args := []any{}
	where := func(clause string, v any) {
		args = append(args, v)
		b.WriteString(" AND " + clause + " $" + strconv.Itoa(len(args)))
	}

	if f.SchoolID != "" {
		where("school_id =", f.SchoolID)
	}
	if f.UserID != "" {
		where("user_id =", f.UserID)
	}
	if f.Action != "" {
		where("action =", f.Action)
	}
	if f.ResourceType != "" {
		where("resource_type =", f.ResourceType)
	}
	if f.ResourceID != "" {
		where("resource_id =", f.ResourceID)
	}
	if f.StartDate != nil {
		where("created_at >=", *f.StartDate)
	}
	if f.EndDate != nil {
		where("created_at <=", *f.EndDate)
	}

	b.WriteString(" ORDER BY created_at DESC, id DESC")

	if f.Limit > 0 {
		args = append(args, f.Limit)
		b.WriteString(" LIMIT $" + strconv.Itoa(len(args)))
	}

	if f.Offset > 0 {
		args = append(args, f.Offset)
		b.WriteString(" OFFSET $" + strconv.Itoa(len(args)))
	}

	return b.String(), args
}
