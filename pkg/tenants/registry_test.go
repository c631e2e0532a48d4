package tenants

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var tenantCols = []string{"id", "code", "name", "active", "created_at", "updated_at"}

func newTestRegistry(t *testing.T) (*Registry, sqlmock.Sqlmock) {
	t.Helper()
	database, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return NewRegistry(database), mock
}

func TestGetTenant(t *testing.T) {
	registry, mock := newTestRegistry(t)

	mock.ExpectQuery(`FROM tenants WHERE code = \$1`).
		WithArgs("acme").
		WillReturnRows(sqlmock.NewRows(tenantCols).
			AddRow(1, "acme", "Acme County", true, time.Now(), time.Now()))

	tenant, err := registry.GetTenant(context.Background(), "acme")
	require.NoError(t, err)
	assert.Equal(t, "acme", tenant.Code)
	assert.True(t, tenant.Active)
}

func TestGetTenantNotFound(t *testing.T) {
	registry, mock := newTestRegistry(t)

	mock.ExpectQuery(`FROM tenants WHERE code = \$1`).
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows(tenantCols))

	_, err := registry.GetTenant(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrTenantNotFound)
}

func TestGetTenantReturnsInactiveRow(t *testing.T) {
	// The registry reports inactive tenants as-is; treating them as
	// nonexistent is the evaluator's job, with its own verdict reason.
	registry, mock := newTestRegistry(t)

	mock.ExpectQuery(`FROM tenants WHERE code = \$1`).
		WithArgs("dormant").
		WillReturnRows(sqlmock.NewRows(tenantCols).
			AddRow(2, "dormant", "Dormant County", false, time.Now(), time.Now()))

	tenant, err := registry.GetTenant(context.Background(), "dormant")
	require.NoError(t, err)
	assert.False(t, tenant.Active)
}

func TestListActiveTenants(t *testing.T) {
	registry, mock := newTestRegistry(t)

	mock.ExpectQuery(`FROM tenants WHERE active = TRUE ORDER BY code`).
		WillReturnRows(sqlmock.NewRows(tenantCols).
			AddRow(1, "acme", "Acme County", true, time.Now(), time.Now()).
			AddRow(3, "brook", "Brook County", true, time.Now(), time.Now()))

	list, err := registry.ListActiveTenants(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "acme", list[0].Code)
}

func TestSetActiveUnknownTenant(t *testing.T) {
	registry, mock := newTestRegistry(t)

	mock.ExpectExec(`UPDATE tenants SET active = \$1`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := registry.SetActive(context.Background(), "ghost", false)
	assert.ErrorIs(t, err, ErrTenantNotFound)
}

func TestCreateTenant(t *testing.T) {
	registry, mock := newTestRegistry(t)

	mock.ExpectQuery(`INSERT INTO tenants`).
		WithArgs("acme", "Acme County", true).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).
			AddRow(1, time.Now(), time.Now()))

	tenant := &Tenant{Code: "acme", Name: "Acme County", Active: true}
	require.NoError(t, registry.CreateTenant(context.Background(), tenant))
	assert.Equal(t, int64(1), tenant.ID)
}
