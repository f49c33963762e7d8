package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/frahmantamala/employee-management/internal/audit"
	auditDatamodel "github.com/frahmantamala/employee-management/internal/core/datamodel/audit"
)

type AuditRepository struct {
	db *sqlx.DB
}

func NewAuditRepository(db *sqlx.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Write satisfies audit.Sink. Re-delivered records are ignored.
func (r *AuditRepository) Write(ctx context.Context, record audit.Record) error {
	row, err := audit.ToDataModel(record)
	if err != nil {
		return fmt.Errorf("failed to encode audit metadata: %w", err)
	}

	const query = `INSERT INTO audit_logs (id, event_type, actor_id, subject_id, metadata, created_at)
		VALUES (:id, :event_type, :actor_id, :subject_id, :metadata, :created_at)
		ON CONFLICT (id) DO NOTHING`
	if _, err := r.db.NamedExecContext(ctx, query, row); err != nil {
		return fmt.Errorf("failed to insert audit log: %w", err)
	}
	return nil
}

// List returns newest records first.
func (r *AuditRepository) List(ctx context.Context, filter audit.Filter) ([]audit.Record, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.EventType != "" {
		where = append(where, "event_type = ?")
		args = append(args, filter.EventType)
	}
	if filter.ActorID != "" {
		where = append(where, "actor_id = ?")
		args = append(args, filter.ActorID)
	}

	query := "SELECT id, event_type, actor_id, subject_id, metadata, created_at FROM audit_logs"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?"
	args = append(args, filter.Limit, filter.Offset)

	var rows []auditDatamodel.Log
	if err := r.db.SelectContext(ctx, &rows, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list audit logs: %w", err)
	}

	records := make([]audit.Record, 0, len(rows))
	for i := range rows {
		records = append(records, audit.FromDataModel(&rows[i]))
	}
	return records, nil
}
