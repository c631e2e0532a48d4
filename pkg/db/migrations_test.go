package db

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationsAreSequential(t *testing.T) {
	migrations := GetMigrations()
	require.NotEmpty(t, migrations)

	for i, m := range migrations {
		assert.Equal(t, i+1, m.Version, "migration versions must be contiguous from 1")
		assert.NotEmpty(t, m.Description)
		assert.NotEmpty(t, m.SQL)
	}
}

func TestRunMigrationsSkipsApplied(t *testing.T) {
	database, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer database.Close()

	total := len(GetMigrations())

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS schema_migrations`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	applied := sqlmock.NewRows([]string{"version"})
	for v := 1; v <= total; v++ {
		applied.AddRow(v)
	}
	mock.ExpectQuery(`SELECT version FROM schema_migrations ORDER BY version`).
		WillReturnRows(applied)

	// Everything is already applied; no migration statements may run
	require.NoError(t, RunMigrations(context.Background(), database))
	assert.NoError(t, mock.ExpectationsWereMet())
}
