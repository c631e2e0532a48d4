package db

import (
	"context"
	"database/sql"
	"fmt"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// GetMigrations returns all schema migrations in order
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create actors table",
			SQL: `
				CREATE TABLE IF NOT EXISTS actors (
					id BIGSERIAL PRIMARY KEY,
					external_subject_id VARCHAR(255),
					email VARCHAR(255) NOT NULL,
					display_name VARCHAR(255) NOT NULL DEFAULT '',
					source VARCHAR(32) NOT NULL DEFAULT 'none',
					person_ref VARCHAR(255),
					contact_bridge_id VARCHAR(255),
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW()
				);

				CREATE INDEX idx_actors_external_subject_id ON actors(external_subject_id);
				CREATE INDEX idx_actors_email ON actors(email);
			`,
		},
		{
			Version:     2,
			Description: "Create staff directory and contact bridge tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS staff_directory (
					person_ref VARCHAR(255) PRIMARY KEY,
					unit VARCHAR(255),
					legacy_id BIGINT,
					updated_at TIMESTAMP NOT NULL DEFAULT NOW()
				);

				CREATE TABLE IF NOT EXISTS contact_bridge (
					bridge_id VARCHAR(255) PRIMARY KEY,
					display_name VARCHAR(255),
					phone VARCHAR(64),
					email VARCHAR(255),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW()
				);
			`,
		},
		{
			Version:     3,
			Description: "Create tenants table",
			SQL: `
				CREATE TABLE IF NOT EXISTS tenants (
					id BIGSERIAL PRIMARY KEY,
					code VARCHAR(64) NOT NULL UNIQUE,
					name VARCHAR(255) NOT NULL,
					active BOOLEAN NOT NULL DEFAULT TRUE,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW()
				);

				CREATE INDEX idx_tenants_active ON tenants(active);
			`,
		},
		{
			Version:     4,
			Description: "Create role_grants table",
			SQL: `
				CREATE TABLE IF NOT EXISTS role_grants (
					id BIGSERIAL PRIMARY KEY,
					actor_id BIGINT NOT NULL REFERENCES actors(id) ON DELETE CASCADE,
					tenant_code VARCHAR(64) NOT NULL REFERENCES tenants(code) ON DELETE CASCADE,
					role_name VARCHAR(255) NOT NULL,
					granted_by BIGINT REFERENCES actors(id) ON DELETE SET NULL,
					granted_at TIMESTAMP NOT NULL DEFAULT NOW(),
					active BOOLEAN NOT NULL DEFAULT TRUE,
					deactivated_at TIMESTAMP
				);

				CREATE INDEX idx_role_grants_actor_tenant ON role_grants(actor_id, tenant_code);
				CREATE INDEX idx_role_grants_tenant_role ON role_grants(tenant_code, role_name);
				CREATE INDEX idx_role_grants_active ON role_grants(active);
			`,
		},
		{
			Version:     5,
			Description: "Create permission_grants table",
			SQL: `
				CREATE TABLE IF NOT EXISTS permission_grants (
					id BIGSERIAL PRIMARY KEY,
					actor_id BIGINT NOT NULL REFERENCES actors(id) ON DELETE CASCADE,
					tenant_code VARCHAR(64) NOT NULL REFERENCES tenants(code) ON DELETE CASCADE,
					permission_code VARCHAR(255) NOT NULL,
					category VARCHAR(255) NOT NULL DEFAULT '',
					granted_by BIGINT REFERENCES actors(id) ON DELETE SET NULL,
					granted_at TIMESTAMP NOT NULL DEFAULT NOW(),
					expires_at TIMESTAMP,
					active BOOLEAN NOT NULL DEFAULT TRUE,
					deactivated_at TIMESTAMP
				);

				CREATE INDEX idx_permission_grants_actor_tenant ON permission_grants(actor_id, tenant_code);
				CREATE INDEX idx_permission_grants_expires_at ON permission_grants(expires_at);
				CREATE INDEX idx_permission_grants_active ON permission_grants(active);
			`,
		},
		{
			Version:     6,
			Description: "Create api_keys table",
			SQL: `
				CREATE TABLE IF NOT EXISTS api_keys (
					id BIGSERIAL PRIMARY KEY,
					tenant_code VARCHAR(64) NOT NULL REFERENCES tenants(code) ON DELETE CASCADE,
					secret_hash VARCHAR(64) NOT NULL UNIQUE,
					display_prefix VARCHAR(32) NOT NULL,
					description TEXT NOT NULL DEFAULT '',
					created_by BIGINT REFERENCES actors(id) ON DELETE SET NULL,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					expires_at TIMESTAMP,
					active BOOLEAN NOT NULL DEFAULT TRUE,
					rate_limit_per_minute INT NOT NULL DEFAULT 100,
					usage_count BIGINT NOT NULL DEFAULT 0,
					last_used_at TIMESTAMP
				);

				CREATE INDEX idx_api_keys_tenant_code ON api_keys(tenant_code);
				CREATE INDEX idx_api_keys_active ON api_keys(active);
			`,
		},
	}
}

// RunMigrations executes all pending migrations
func RunMigrations(ctx context.Context, database *sql.DB) error {
	_, err := database.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	rows, err := database.QueryContext(ctx, "SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		return fmt.Errorf("failed to query migrations: %w", err)
	}

	appliedVersions := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan migration version: %w", err)
		}
		appliedVersions[version] = true
	}
	rows.Close()

	for _, migration := range GetMigrations() {
		if appliedVersions[migration.Version] {
			continue
		}

		tx, err := database.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to start transaction: %w", err)
		}

		if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute migration %d: %w", migration.Version, err)
		}

		if _, err := tx.ExecContext(ctx,
			"INSERT INTO schema_migrations (version, description) VALUES ($1, $2)",
			migration.Version, migration.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}
	}

	return nil
}
