package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"sitesafe.app/internal/audit"
)

var _ audit.Store = (*Store)(nil)

func (s *Store) AppendAudit(ctx context.Context, e audit.Entry) error {
	q, err := s.conn(ctx)
	if err != nil {
		return err
	}
	meta := []byte("{}")
	if len(e.Metadata) > 0 {
		if meta, err = json.Marshal(e.Metadata); err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
	}
	_, err = q.ExecContext(ctx, `
		insert into audit_log (id, occurred_at, tenant_id, actor_user_id, event, target_type, target_id, request_id, metadata)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, e.ID, e.OccurredAt, nullIfEmpty(e.TenantID), nullIfEmpty(e.ActorUserID), e.Event,
		e.TargetType, e.TargetID, e.RequestID, meta)
	return err
}

// ListAudit returns entries newest first. Ids are ULIDs so ordering by id
// follows insertion time.
func (s *Store) ListAudit(ctx context.Context, f audit.Query) ([]audit.Entry, error) {
	q, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	var (
		where []string
		args  []any
	)
	if f.TenantID != "" {
		args = append(args, f.TenantID)
		where = append(where, fmt.Sprintf("tenant_id = $%d", len(args)))
	}
	if f.Before != "" {
		args = append(args, f.Before)
		where = append(where, fmt.Sprintf("id < $%d", len(args)))
	}
	query := `select id, occurred_at, tenant_id, actor_user_id, event, target_type, target_id, request_id, metadata from audit_log`
	if len(where) > 0 {
		query += " where " + strings.Join(where, " and ")
	}
	args = append(args, f.Limit)
	query += fmt.Sprintf(" order by id desc limit $%d", len(args))

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []audit.Entry
	for rows.Next() {
		var (
			e             audit.Entry
			tenant, actor sql.NullString
			rawMeta       []byte
		)
		if err := rows.Scan(&e.ID, &e.OccurredAt, &tenant, &actor, &e.Event, &e.TargetType, &e.TargetID, &e.RequestID, &rawMeta); err != nil {
			return nil, err
		}
		e.TenantID = tenant.String
		e.ActorUserID = actor.String
		if len(rawMeta) > 0 {
			if err := json.Unmarshal(rawMeta, &e.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata: %w", err)
			}
			if len(e.Metadata) == 0 {
				e.Metadata = nil
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
