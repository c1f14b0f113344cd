package pg

import (
	"context"
	"fmt"
	"strings"

	"sitesafe.app/internal/auth"
)

// bulkChunk bounds rows per insert statement.
const bulkChunk = 500

func (s *Store) IsGranted(ctx context.Context, tenantID string, role auth.Role, res auth.Resource, act auth.Action) (bool, error) {
	q, err := s.conn(ctx)
	if err != nil {
		return false, err
	}
	var ok bool
	err = q.QueryRowContext(ctx, `
		select exists(
			select 1 from permission_grants
			where tenant_id = $1 and role = $2 and resource = $3 and action = $4
		)
	`, tenantID, string(role), string(res), string(act)).Scan(&ok)
	return ok, err
}

func (s *Store) Grant(ctx context.Context, g auth.Grant) error {
	return s.BulkGrant(ctx, []auth.Grant{g})
}

func (s *Store) Revoke(ctx context.Context, g auth.Grant) error {
	q, err := s.conn(ctx)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, `
		delete from permission_grants
		where tenant_id = $1 and role = $2 and resource = $3 and action = $4
	`, g.TenantID, string(g.Role), string(g.Resource), string(g.Action))
	return err
}

// BulkGrant inserts grants with multi-row statements. Existing rows are kept.
func (s *Store) BulkGrant(ctx context.Context, grants []auth.Grant) error {
	if len(grants) == 0 {
		return nil
	}
	q, err := s.conn(ctx)
	if err != nil {
		return err
	}
	for start := 0; start < len(grants); start += bulkChunk {
		end := min(start+bulkChunk, len(grants))
		chunk := grants[start:end]

		values := make([]string, 0, len(chunk))
		args := make([]any, 0, len(chunk)*4)
		for i, g := range chunk {
			n := i * 4
			values = append(values, fmt.Sprintf("($%d,$%d,$%d,$%d)", n+1, n+2, n+3, n+4))
			args = append(args, g.TenantID, string(g.Role), string(g.Resource), string(g.Action))
		}
		query := `insert into permission_grants (tenant_id, role, resource, action) values ` +
			strings.Join(values, ",") + ` on conflict do nothing`
		if _, err := q.ExecContext(ctx, query, args...); err != nil {
			return mapWriteErr(err)
		}
	}
	return nil
}

func (s *Store) ListForRole(ctx context.Context, tenantID string, role auth.Role) ([]auth.Grant, error) {
	return s.listGrants(ctx, `where tenant_id = $1 and role = $2`, tenantID, string(role))
}

func (s *Store) ListForTenant(ctx context.Context, tenantID string) ([]auth.Grant, error) {
	return s.listGrants(ctx, `where tenant_id = $1`, tenantID)
}

func (s *Store) listGrants(ctx context.Context, where string, args ...any) ([]auth.Grant, error) {
	q, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := q.QueryContext(ctx, `
		select tenant_id, role, resource, action
		from permission_grants
		`+where+`
		order by role, resource, action
	`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []auth.Grant
	for rows.Next() {
		var g auth.Grant
		if err := rows.Scan(&g.TenantID, &g.Role, &g.Resource, &g.Action); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}
