package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caseworks/authcore/pkg/apikeys"
	"github.com/caseworks/authcore/pkg/audit"
	"github.com/caseworks/authcore/pkg/observability"
	"github.com/caseworks/authcore/pkg/tenants"
)

var keyCols = []string{"id", "tenant_code", "display_prefix", "description", "created_by",
	"created_at", "expires_at", "active", "rate_limit_per_minute", "usage_count", "last_used_at"}

var tenantCols = []string{"id", "code", "name", "active", "created_at", "updated_at"}

func newAPIKeyMiddleware(t *testing.T) (*APIKey, sqlmock.Sqlmock) {
	t.Helper()
	database, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	registry := tenants.NewRegistry(database)
	auth := apikeys.NewAuthenticator(apikeys.NewStore(database), registry,
		audit.NewNoOpLogger(), logger, nil, 100, time.Second)
	return NewAPIKey(auth, registry, nil, logger), mock
}

func machineHandler(sawKey *bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := APIKeyFromContext(r.Context()); ok {
			if _, ok := TenantFromContext(r.Context()); ok {
				*sawKey = true
			}
		}
		w.WriteHeader(http.StatusOK)
	})
}

func TestAPIKeyMiddlewareMissingHeaderIs401(t *testing.T) {
	mw, _ := newAPIKeyMiddleware(t)

	var sawKey bool
	rec := httptest.NewRecorder()
	mw.Middleware(machineHandler(&sawKey)).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/machine/tenant", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.False(t, sawKey)
}

func TestAPIKeyMiddlewareGenericErrorForAllFailures(t *testing.T) {
	// Unknown, revoked, and expired keys must be indistinguishable from
	// outside.
	cases := map[string]*sqlmock.Rows{
		"unknown": sqlmock.NewRows(keyCols),
		"revoked": sqlmock.NewRows(keyCols).
			AddRow(1, "acme", "ck_abcdefgh", "", nil, time.Now(), nil, false, 100, 0, nil),
		"expired": sqlmock.NewRows(keyCols).
			AddRow(2, "acme", "ck_abcdefgh", "", nil, time.Now(), time.Now().Add(-time.Hour), true, 100, 0, nil),
	}

	var bodies []string
	for name, rows := range cases {
		t.Run(name, func(t *testing.T) {
			mw, mock := newAPIKeyMiddleware(t)
			mock.ExpectQuery(`FROM api_keys WHERE secret_hash = \$1`).WillReturnRows(rows)

			var sawKey bool
			req := httptest.NewRequest(http.MethodGet, "/v1/machine/tenant", nil)
			req.Header.Set(HeaderAPIKey, "ck_candidate")

			rec := httptest.NewRecorder()
			mw.Middleware(machineHandler(&sawKey)).ServeHTTP(rec, req)

			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.False(t, sawKey)
			bodies = append(bodies, rec.Body.String())
		})
	}
	for i := 1; i < len(bodies); i++ {
		assert.Equal(t, bodies[0], bodies[i])
	}
}

func TestAPIKeyMiddlewareBindsTenant(t *testing.T) {
	mw, mock := newAPIKeyMiddleware(t)
	mock.MatchExpectationsInOrder(false)

	mock.ExpectQuery(`FROM api_keys WHERE secret_hash = \$1`).
		WillReturnRows(sqlmock.NewRows(keyCols).
			AddRow(3, "acme", "ck_abcdefgh", "", nil, time.Now(), nil, true, 100, 0, nil))
	mock.ExpectQuery(`FROM tenants WHERE code = \$1`).
		WithArgs("acme").
		WillReturnRows(sqlmock.NewRows(tenantCols).
			AddRow(1, "acme", "Acme County", true, time.Now(), time.Now()))
	mock.ExpectExec(`usage_count = usage_count \+ 1`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	var sawKey bool
	req := httptest.NewRequest(http.MethodGet, "/v1/machine/tenant", nil)
	req.Header.Set(HeaderAPIKey, "ck_candidate")

	rec := httptest.NewRecorder()
	mw.Middleware(machineHandler(&sawKey)).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, sawKey)
}

func TestAPIKeyMiddlewareInactiveTenantKillsKey(t *testing.T) {
	mw, mock := newAPIKeyMiddleware(t)
	mock.MatchExpectationsInOrder(false)

	mock.ExpectQuery(`FROM api_keys WHERE secret_hash = \$1`).
		WillReturnRows(sqlmock.NewRows(keyCols).
			AddRow(4, "dead", "ck_abcdefgh", "", nil, time.Now(), nil, true, 100, 0, nil))
	mock.ExpectQuery(`FROM tenants WHERE code = \$1`).
		WithArgs("dead").
		WillReturnRows(sqlmock.NewRows(tenantCols).
			AddRow(2, "dead", "Gone County", false, time.Now(), time.Now()))
	mock.ExpectExec(`usage_count = usage_count \+ 1`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	var sawKey bool
	req := httptest.NewRequest(http.MethodGet, "/v1/machine/tenant", nil)
	req.Header.Set(HeaderAPIKey, "ck_candidate")

	rec := httptest.NewRecorder()
	mw.Middleware(machineHandler(&sawKey)).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.False(t, sawKey)
}
