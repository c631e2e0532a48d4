package audit

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDBLogger(t *testing.T) (*DBLogger, sqlmock.Sqlmock) {
	t.Helper()
	database, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS audit_events`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	logger, err := NewDBLogger(database)
	require.NoError(t, err)
	return logger, mock
}

func TestDBLoggerLog(t *testing.T) {
	logger, mock := newTestDBLogger(t)

	actorID := int64(7)
	mock.ExpectExec(`INSERT INTO audit_events`).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := logger.Log(context.Background(), &Event{
		Action:     ActionRoleChange,
		ActorID:    &actorID,
		TenantCode: "acme",
		TargetID:   "actor:9",
		Details:    map[string]interface{}{"roles": []string{"caseworker"}},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDBLoggerList(t *testing.T) {
	logger, mock := newTestDBLogger(t)

	mock.ExpectQuery(`FROM audit_events`).
		WithArgs("acme", 100).
		WillReturnRows(sqlmock.NewRows([]string{"id", "action", "actor_id", "tenant_code", "target_id", "details", "created_at"}).
			AddRow(1, ActionBreakGlass, 7, "acme", "", []byte(`{"roles":["admin"]}`), time.Now()))

	events, err := logger.List(context.Background(), "acme", 0)
	require.NoError(t, err)
	require.Len(t, events, 1)

	assert.Equal(t, ActionBreakGlass, events[0].Action)
	require.NotNil(t, events[0].ActorID)
	assert.Equal(t, int64(7), *events[0].ActorID)
	assert.Equal(t, []interface{}{"admin"}, events[0].Details["roles"])
}

func TestDBLoggerPurge(t *testing.T) {
	logger, mock := newTestDBLogger(t)

	mock.ExpectExec(`DELETE FROM audit_events WHERE created_at < \$1`).
		WillReturnResult(sqlmock.NewResult(0, 12))

	purged, err := logger.Purge(context.Background(), 90*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(12), purged)
}

func TestNoOpLogger(t *testing.T) {
	logger := NewNoOpLogger()
	assert.NoError(t, logger.Log(context.Background(), &Event{Action: ActionKeyIssue}))

	events, err := logger.List(context.Background(), "acme", 10)
	assert.NoError(t, err)
	assert.Nil(t, events)
}
