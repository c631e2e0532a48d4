package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Logger records audit events. Implementations must not fail the calling
// operation; recording problems are surfaced through the returned error for
// the caller to log and move on.
type Logger interface {
	Log(ctx context.Context, event *Event) error
	List(ctx context.Context, tenantCode string, limit int) ([]*Event, error)
}

// NewNoOpLogger returns a Logger that discards everything. Used in tests
// and when auditing is disabled.
func NewNoOpLogger() Logger {
	return &noOpLogger{}
}

type noOpLogger struct{}

func (*noOpLogger) Log(context.Context, *Event) error { return nil }
func (*noOpLogger) List(context.Context, string, int) ([]*Event, error) {
	return nil, nil
}

// DBLogger persists audit events to Postgres
type DBLogger struct {
	db *sql.DB
}

func NewDBLogger(db *sql.DB) (*DBLogger, error) {
	l := &DBLogger{db: db}
	if err := l.ensureTable(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *DBLogger) ensureTable() error {
	_, err := l.db.Exec(`
		CREATE TABLE IF NOT EXISTS audit_events (
			id BIGSERIAL PRIMARY KEY,
			action VARCHAR(64) NOT NULL,
			actor_id BIGINT,
			tenant_code VARCHAR(64),
			target_id VARCHAR(255),
			details JSONB,
			created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_audit_events_tenant ON audit_events(tenant_code, created_at);
		CREATE INDEX IF NOT EXISTS idx_audit_events_created ON audit_events(created_at)`)
	if err != nil {
		return fmt.Errorf("failed to create audit_events table: %w", err)
	}
	return nil
}

func (l *DBLogger) Log(ctx context.Context, event *Event) error {
	var details []byte
	if event.Details != nil {
		var err error
		details, err = json.Marshal(event.Details)
		if err != nil {
			return fmt.Errorf("failed to marshal audit details: %w", err)
		}
	}
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO audit_events (action, actor_id, tenant_code, target_id, details)
		VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), $5)`,
		event.Action, event.ActorID, event.TenantCode, event.TargetID, details)
	if err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}
	return nil
}

func (l *DBLogger) List(ctx context.Context, tenantCode string, limit int) ([]*Event, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, action, actor_id, COALESCE(tenant_code, ''), COALESCE(target_id, ''), details, created_at
		FROM audit_events
		WHERE ($1 = '' OR tenant_code = $1)
		ORDER BY created_at DESC
		LIMIT $2`,
		tenantCode, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		e := &Event{}
		var actorID sql.NullInt64
		var details []byte
		if err := rows.Scan(&e.ID, &e.Action, &actorID, &e.TenantCode, &e.TargetID, &details, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		if actorID.Valid {
			e.ActorID = &actorID.Int64
		}
		if len(details) > 0 {
			if err := json.Unmarshal(details, &e.Details); err != nil {
				return nil, fmt.Errorf("failed to unmarshal audit details: %w", err)
			}
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// Purge deletes audit events older than the retention window and returns
// how many rows went away. Scheduled from the command entrypoint.
func (l *DBLogger) Purge(ctx context.Context, retention time.Duration) (int64, error) {
	result, err := l.db.ExecContext(ctx,
		`DELETE FROM audit_events WHERE created_at < $1`,
		time.Now().Add(-retention))
	if err != nil {
		return 0, fmt.Errorf("failed to purge audit events: %w", err)
	}
	return result.RowsAffected()
}
