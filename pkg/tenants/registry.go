// Package tenants enumerates the agencies an installation serves and
// answers tenant lookups for every authorization path.
package tenants

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Registry provides tenant lookups backed by postgres
type Registry struct {
	db *sql.DB
}

// NewRegistry creates a new tenant registry
func NewRegistry(db *sql.DB) *Registry {
	return &Registry{db: db}
}

const tenantColumns = `id, code, name, active, created_at, updated_at`

// GetTenant retrieves a tenant by its stable code. Inactive tenants are
// returned with Active=false; callers deciding authorization must treat
// them as nonexistent.
func (r *Registry) GetTenant(ctx context.Context, code string) (*Tenant, error) {
	query := `SELECT ` + tenantColumns + ` FROM tenants WHERE code = $1`

	tenant, err := scanTenant(r.db.QueryRowContext(ctx, query, code))
	if err == sql.ErrNoRows {
		return nil, ErrTenantNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}
	return tenant, nil
}

// ListActiveTenants lists all active tenants ordered by code
func (r *Registry) ListActiveTenants(ctx context.Context) ([]*Tenant, error) {
	query := `SELECT ` + tenantColumns + ` FROM tenants WHERE active = TRUE ORDER BY code ASC`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}
	defer rows.Close()

	var list []*Tenant
	for rows.Next() {
		tenant, err := scanTenant(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan tenant: %w", err)
		}
		list = append(list, tenant)
	}

	return list, rows.Err()
}

// CreateTenant registers a new tenant
func (r *Registry) CreateTenant(ctx context.Context, tenant *Tenant) error {
	query := `
		INSERT INTO tenants (code, name, active)
		VALUES ($1, $2, $3)
		RETURNING id, created_at, updated_at
	`

	err := r.db.QueryRowContext(ctx, query, tenant.Code, tenant.Name, tenant.Active).
		Scan(&tenant.ID, &tenant.CreatedAt, &tenant.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create tenant: %w", err)
	}
	return nil
}

// SetActive flips a tenant's active flag
func (r *Registry) SetActive(ctx context.Context, code string, active bool) error {
	query := `UPDATE tenants SET active = $1, updated_at = $2 WHERE code = $3`

	result, err := r.db.ExecContext(ctx, query, active, time.Now(), code)
	if err != nil {
		return fmt.Errorf("failed to update tenant: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return ErrTenantNotFound
	}
	return nil
}

func scanTenant(scanner interface {
	Scan(dest ...interface{}) error
}) (*Tenant, error) {
	var tenant Tenant
	err := scanner.Scan(
		&tenant.ID,
		&tenant.Code,
		&tenant.Name,
		&tenant.Active,
		&tenant.CreatedAt,
		&tenant.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &tenant, nil
}
