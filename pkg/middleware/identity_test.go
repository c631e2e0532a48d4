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

	"github.com/caseworks/authcore/pkg/db"
	"github.com/caseworks/authcore/pkg/identity"
	"github.com/caseworks/authcore/pkg/observability"
)

var actorCols = []string{"id", "external_subject_id", "email", "display_name", "source", "person_ref", "contact_bridge_id", "updated_at"}

func newIdentityMiddleware(t *testing.T) (*Identity, sqlmock.Sqlmock) {
	t.Helper()
	database, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	resolver := identity.NewResolver(identity.NewStore(database), logger, nil)
	return NewIdentity(resolver, logger, 1), mock
}

func passthrough(t *testing.T, sawActor *bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, ok := ActorFromContext(r.Context())
		require.True(t, ok)
		require.NotNil(t, actor)
		*sawActor = true
		w.WriteHeader(http.StatusOK)
	})
}

func TestIdentityMiddlewareNoEvidenceIs401(t *testing.T) {
	mw, _ := newIdentityMiddleware(t)

	var sawActor bool
	handler := mw.Middleware(passthrough(t, &sawActor))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/identity/me", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.False(t, sawActor)
}

func TestIdentityMiddlewareUnregisteredIs403(t *testing.T) {
	mw, mock := newIdentityMiddleware(t)

	mock.ExpectQuery(`FROM actors\s+WHERE external_subject_id = \$1`).
		WillReturnRows(sqlmock.NewRows(actorCols))
	mock.ExpectQuery(`FROM actors\s+WHERE LOWER\(email\) = LOWER\(\$1\)`).
		WillReturnRows(sqlmock.NewRows(actorCols))

	var sawActor bool
	handler := mw.Middleware(passthrough(t, &sawActor))

	req := httptest.NewRequest(http.MethodGet, "/v1/identity/me", nil)
	req.Header.Set(HeaderSubject, "sub-unknown")
	req.Header.Set(HeaderEmail, "unknown@example.org")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	// Authenticated but unregistered is a different answer than 401
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "unregistered_actor")
	assert.False(t, sawActor)
}

func TestIdentityMiddlewareResolvedActorReachesHandler(t *testing.T) {
	mw, mock := newIdentityMiddleware(t)

	mock.ExpectQuery(`FROM actors\s+WHERE external_subject_id = \$1`).
		WithArgs("sub-1").
		WillReturnRows(sqlmock.NewRows(actorCols).
			AddRow(1, "sub-1", "w@example.org", "Worker", "none", nil, nil, time.Now()))

	var sawActor bool
	handler := mw.Middleware(passthrough(t, &sawActor))

	req := httptest.NewRequest(http.MethodGet, "/v1/identity/me", nil)
	req.Header.Set(HeaderSubject, "sub-1")
	req.Header.Set(HeaderEmail, "w@example.org")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, sawActor)
}

func TestIdentityMiddlewareStoreDownIs503(t *testing.T) {
	mw, mock := newIdentityMiddleware(t)

	// Every attempt fails with a transient error; after the bounded
	// retries the caller gets a 503, never a deny.
	mock.ExpectQuery(`FROM actors\s+WHERE external_subject_id = \$1`).
		WillReturnError(db.ErrUnavailable)
	mock.ExpectQuery(`FROM actors\s+WHERE external_subject_id = \$1`).
		WillReturnError(db.ErrUnavailable)

	var sawActor bool
	handler := mw.Middleware(passthrough(t, &sawActor))

	req := httptest.NewRequest(http.MethodGet, "/v1/identity/me", nil)
	req.Header.Set(HeaderSubject, "sub-1")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.False(t, sawActor)
}
