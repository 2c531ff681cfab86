package pg

import (
	"context"
	"database/sql"
	"fmt"

	"clanledger.org/internal/audit"
)

// AuditStore is the durable append-only audit trail.
type AuditStore struct {
	db *sql.DB
}

var _ audit.Recorder = (*AuditStore)(nil)

func (s *AuditStore) Record(ctx context.Context, event audit.Event) error {
	_, err := s.db.ExecContext(ctx, `
		insert into audit_log(id, actor_id, action, target_type, target_id, before, after, created_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8)
	`, event.ID, event.ActorID, event.Action, event.TargetType, event.TargetID,
		nullIfEmptyBytes(event.Before), nullIfEmptyBytes(event.After), event.CreatedAt)
	return err
}

func (s *AuditStore) List(ctx context.Context, filter audit.Filter) ([]audit.Event, error) {
	limit := filter.Limit
	if limit <= 0 || limit > audit.MaxPageSize {
		limit = audit.MaxPageSize
	}
	query := `
		select id, actor_id, action, target_type, target_id,
		       coalesce(before,'null'), coalesce(after,'null'), created_at
		from audit_log`
	var args []any
	if filter.ActorID != "" {
		args = append(args, filter.ActorID)
		query += " where actor_id=$1"
	}
	args = append(args, limit)
	query += fmt.Sprintf(" order by created_at desc limit $%d", len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []audit.Event
	for rows.Next() {
		var event audit.Event
		var before, after []byte
		if err := rows.Scan(
			&event.ID, &event.ActorID, &event.Action, &event.TargetType, &event.TargetID,
			&before, &after, &event.CreatedAt); err != nil {
			return nil, err
		}
		if string(before) != "null" {
			event.Before = before
		}
		if string(after) != "null" {
			event.After = after
		}
		out = append(out, event)
	}
	return out, rows.Err()
}

func nullIfEmptyBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}
