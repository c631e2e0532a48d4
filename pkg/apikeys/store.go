package apikeys

import (
	"context"
	"database/sql"
	"fmt"
)

const keyColumns = `id, tenant_code, display_prefix, COALESCE(description, ''), created_by,
	created_at, expires_at, active, rate_limit_per_minute, usage_count, last_used_at`

// Store persists key records. Lookup happens only by secret hash.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Insert writes a new key record and fills in its id and created_at
func (s *Store) Insert(ctx context.Context, key *Key, secretHash string) error {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO api_keys (tenant_code, secret_hash, display_prefix, description, created_by, expires_at, active, rate_limit_per_minute)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, TRUE, $7)
		RETURNING id, created_at`,
		key.TenantCode, secretHash, key.DisplayPrefix, key.Description,
		key.CreatedBy, key.ExpiresAt, key.RateLimitPerMinute).Scan(&key.ID, &key.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert api key: %w", err)
	}
	return nil
}

// FindByHash returns the key record whose secret hash matches, regardless
// of active or expiry state; the authenticator interprets those.
func (s *Store) FindByHash(ctx context.Context, secretHash string) (*Key, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+keyColumns+` FROM api_keys WHERE secret_hash = $1`,
		secretHash)
	key, err := scanKey(row)
	if err == sql.ErrNoRows {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query api key: %w", err)
	}
	return key, nil
}

// GetKey returns a key record by id
func (s *Store) GetKey(ctx context.Context, id int64) (*Key, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+keyColumns+` FROM api_keys WHERE id = $1`,
		id)
	key, err := scanKey(row)
	if err == sql.ErrNoRows {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query api key: %w", err)
	}
	return key, nil
}

// ListByTenant returns a tenant's keys, newest first
func (s *Store) ListByTenant(ctx context.Context, tenantCode string) ([]*Key, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+keyColumns+` FROM api_keys WHERE tenant_code = $1 ORDER BY created_at DESC`,
		tenantCode)
	if err != nil {
		return nil, fmt.Errorf("failed to query api keys: %w", err)
	}
	defer rows.Close()

	var keys []*Key
	for rows.Next() {
		key, err := scanKey(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan api key: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// Deactivate revokes a key, keeping the row for audit history
func (s *Store) Deactivate(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE api_keys SET active = FALSE WHERE id = $1 AND active = TRUE`,
		id)
	if err != nil {
		return fmt.Errorf("failed to deactivate api key: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check deactivation result: %w", err)
	}
	if affected == 0 {
		return ErrKeyNotFound
	}
	return nil
}

// RecordUsage bumps the usage counter and last-used timestamp in one
// statement so concurrent validations never lose counts.
func (s *Store) RecordUsage(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE api_keys SET usage_count = usage_count + 1, last_used_at = NOW() WHERE id = $1`,
		id)
	if err != nil {
		return fmt.Errorf("failed to record api key usage: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanKey(row rowScanner) (*Key, error) {
	key := &Key{}
	var createdBy sql.NullInt64
	var expiresAt, lastUsedAt sql.NullTime
	err := row.Scan(&key.ID, &key.TenantCode, &key.DisplayPrefix, &key.Description,
		&createdBy, &key.CreatedAt, &expiresAt, &key.Active,
		&key.RateLimitPerMinute, &key.UsageCount, &lastUsedAt)
	if err != nil {
		return nil, err
	}
	if createdBy.Valid {
		key.CreatedBy = &createdBy.Int64
	}
	if expiresAt.Valid {
		key.ExpiresAt = &expiresAt.Time
	}
	if lastUsedAt.Valid {
		key.LastUsedAt = &lastUsedAt.Time
	}
	return key, nil
}
