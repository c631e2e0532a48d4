package authz

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Store persists role and permission grants. Effectiveness (active and, for
// permissions, unexpired) is evaluated inside the queries so that callers
// never see stale grants and no write happens on the read path.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// EffectiveRoles returns the active role names the actor holds in the tenant
func (s *Store) EffectiveRoles(ctx context.Context, actorID int64, tenantCode string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT role_name FROM role_grants
		WHERE actor_id = $1 AND tenant_code = $2 AND active = TRUE
		ORDER BY role_name`,
		actorID, tenantCode)
	if err != nil {
		return nil, fmt.Errorf("failed to query role grants: %w", err)
	}
	defer rows.Close()

	var roles []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan role grant: %w", err)
		}
		roles = append(roles, name)
	}
	return roles, rows.Err()
}

// EffectivePermissions returns the permission codes the actor holds in the
// tenant, excluding expired grants as of the database clock.
func (s *Store) EffectivePermissions(ctx context.Context, actorID int64, tenantCode string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT permission_code FROM permission_grants
		WHERE actor_id = $1 AND tenant_code = $2 AND active = TRUE
		  AND (expires_at IS NULL OR expires_at > NOW())
		ORDER BY permission_code`,
		actorID, tenantCode)
	if err != nil {
		return nil, fmt.Errorf("failed to query permission grants: %w", err)
	}
	defer rows.Close()

	var codes []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, fmt.Errorf("failed to scan permission grant: %w", err)
		}
		codes = append(codes, code)
	}
	return codes, rows.Err()
}

// ListRoleGrants returns all grant rows for an actor in a tenant, inactive
// included, for administrative display.
func (s *Store) ListRoleGrants(ctx context.Context, actorID int64, tenantCode string) ([]*RoleGrant, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor_id, tenant_code, role_name, granted_by, granted_at, active, deactivated_at
		FROM role_grants
		WHERE actor_id = $1 AND tenant_code = $2
		ORDER BY granted_at DESC`,
		actorID, tenantCode)
	if err != nil {
		return nil, fmt.Errorf("failed to query role grants: %w", err)
	}
	defer rows.Close()

	var grants []*RoleGrant
	for rows.Next() {
		g := &RoleGrant{}
		var grantedBy sql.NullInt64
		var deactivatedAt sql.NullTime
		if err := rows.Scan(&g.ID, &g.ActorID, &g.TenantCode, &g.RoleName,
			&grantedBy, &g.GrantedAt, &g.Active, &deactivatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan role grant: %w", err)
		}
		if grantedBy.Valid {
			g.GrantedBy = &grantedBy.Int64
		}
		if deactivatedAt.Valid {
			g.DeactivatedAt = &deactivatedAt.Time
		}
		grants = append(grants, g)
	}
	return grants, rows.Err()
}

// ListPermissionGrants returns all permission grant rows for an actor in a
// tenant, inactive and expired included.
func (s *Store) ListPermissionGrants(ctx context.Context, actorID int64, tenantCode string) ([]*PermissionGrant, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor_id, tenant_code, permission_code, category, granted_by,
		       granted_at, expires_at, active, deactivated_at
		FROM permission_grants
		WHERE actor_id = $1 AND tenant_code = $2
		ORDER BY granted_at DESC`,
		actorID, tenantCode)
	if err != nil {
		return nil, fmt.Errorf("failed to query permission grants: %w", err)
	}
	defer rows.Close()

	var grants []*PermissionGrant
	for rows.Next() {
		g := &PermissionGrant{}
		var category sql.NullString
		var grantedBy sql.NullInt64
		var expiresAt, deactivatedAt sql.NullTime
		if err := rows.Scan(&g.ID, &g.ActorID, &g.TenantCode, &g.PermissionCode,
			&category, &grantedBy, &g.GrantedAt, &expiresAt, &g.Active, &deactivatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan permission grant: %w", err)
		}
		g.Category = category.String
		if grantedBy.Valid {
			g.GrantedBy = &grantedBy.Int64
		}
		if expiresAt.Valid {
			g.ExpiresAt = &expiresAt.Time
		}
		if deactivatedAt.Valid {
			g.DeactivatedAt = &deactivatedAt.Time
		}
		grants = append(grants, g)
	}
	return grants, rows.Err()
}

// SetRoles replaces the actor's active role set in the tenant with exactly
// the given names. Roles already held stay untouched, missing ones are
// granted, extras are deactivated. The whole replacement runs in one
// serialized transaction so concurrent replacements cannot interleave, and
// repeating the same call is a no-op.
func (s *Store) SetRoles(ctx context.Context, actorID int64, tenantCode string, roleNames []string, grantedBy *int64) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT id, role_name FROM role_grants
		WHERE actor_id = $1 AND tenant_code = $2 AND active = TRUE
		FOR UPDATE`,
		actorID, tenantCode)
	if err != nil {
		return fmt.Errorf("failed to lock current role grants: %w", err)
	}
	current := make(map[string]int64)
	for rows.Next() {
		var id int64
		var name string
		if err := rows.Scan(&id, &name); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan role grant: %w", err)
		}
		current[name] = id
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("failed to read current role grants: %w", err)
	}
	rows.Close()

	desired := make(map[string]bool, len(roleNames))
	for _, name := range roleNames {
		desired[name] = true
	}

	for name := range desired {
		if _, held := current[name]; held {
			continue
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO role_grants (actor_id, tenant_code, role_name, granted_by, granted_at, active)
			VALUES ($1, $2, $3, $4, NOW(), TRUE)`,
			actorID, tenantCode, name, grantedBy); err != nil {
			return fmt.Errorf("failed to grant role %s: %w", name, err)
		}
	}

	for name, id := range current {
		if desired[name] {
			continue
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE role_grants SET active = FALSE, deactivated_at = NOW()
			WHERE id = $1`,
			id); err != nil {
			return fmt.Errorf("failed to deactivate role %s: %w", name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit role replacement: %w", err)
	}
	return nil
}

// GrantPermission records a permission grant, optionally time-limited
func (s *Store) GrantPermission(ctx context.Context, actorID int64, tenantCode, permissionCode, category string, grantedBy *int64, expiresAt *time.Time) (*PermissionGrant, error) {
	g := &PermissionGrant{
		ActorID:        actorID,
		TenantCode:     tenantCode,
		PermissionCode: permissionCode,
		Category:       category,
		GrantedBy:      grantedBy,
		ExpiresAt:      expiresAt,
		Active:         true,
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO permission_grants (actor_id, tenant_code, permission_code, category, granted_by, granted_at, expires_at, active)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, NOW(), $6, TRUE)
		RETURNING id, granted_at`,
		actorID, tenantCode, permissionCode, category, grantedBy, expiresAt).Scan(&g.ID, &g.GrantedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert permission grant: %w", err)
	}
	return g, nil
}

// RevokePermission deactivates the actor's active grants of a permission
// code in the tenant. Revoking an absent grant is not an error.
func (s *Store) RevokePermission(ctx context.Context, actorID int64, tenantCode, permissionCode string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE permission_grants SET active = FALSE, deactivated_at = NOW()
		WHERE actor_id = $1 AND tenant_code = $2 AND permission_code = $3 AND active = TRUE`,
		actorID, tenantCode, permissionCode)
	if err != nil {
		return fmt.Errorf("failed to revoke permission: %w", err)
	}
	return nil
}

// ObservedRoleNames returns the distinct role names present in grants for a
// tenant. Merged with the configured vocabulary when validating role
// replacements, so names already in the wild stay assignable.
func (s *Store) ObservedRoleNames(ctx context.Context, tenantCode string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT role_name FROM role_grants
		WHERE tenant_code = $1
		ORDER BY role_name`,
		tenantCode)
	if err != nil {
		return nil, fmt.Errorf("failed to query observed role names: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan role name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}
