package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caseworks/authcore/pkg/audit"
	"github.com/caseworks/authcore/pkg/authz"
	"github.com/caseworks/authcore/pkg/contextkeys"
	"github.com/caseworks/authcore/pkg/identity"
	"github.com/caseworks/authcore/pkg/impersonation"
	"github.com/caseworks/authcore/pkg/observability"
	"github.com/caseworks/authcore/pkg/tenants"
)

func newImpersonationMiddleware(t *testing.T) (*Impersonation, *impersonation.Overlay, sqlmock.Sqlmock) {
	t.Helper()
	database, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	server, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(server.Close)

	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { client.Close() })

	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	actorStore := identity.NewStore(database)
	evaluator := authz.NewEvaluator(authz.NewStore(database), tenants.NewRegistry(database),
		audit.NewNoOpLogger(), logger, nil, []string{"root@example.org"}, 1)
	overlay := impersonation.NewOverlay(client, evaluator, actorStore,
		audit.NewNoOpLogger(), logger, nil, time.Minute)

	return NewImpersonation(overlay, actorStore, logger), overlay, mock
}

func effectiveEcho(effectiveID *int64) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if actor, ok := EffectiveActorFromContext(r.Context()); ok {
			*effectiveID = actor.ID
		}
		w.WriteHeader(http.StatusOK)
	})
}

func requestAsActor(actor *identity.Actor) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/v1/identity/me", nil)
	return req.WithContext(contextkeys.WithActor(req.Context(), actor))
}

func TestImpersonationMiddlewareDefaultsToSelf(t *testing.T) {
	mw, _, _ := newImpersonationMiddleware(t)

	var effectiveID int64
	rec := httptest.NewRecorder()
	mw.Middleware(effectiveEcho(&effectiveID)).ServeHTTP(rec,
		requestAsActor(&identity.Actor{ID: 7, Email: "w@example.org", Source: identity.NoSource{}}))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(7), effectiveID)
}

func TestImpersonationMiddlewareAppliesOverlay(t *testing.T) {
	mw, overlay, mock := newImpersonationMiddleware(t)

	admin := &identity.Actor{ID: 1, Email: "root@example.org", Source: identity.NoSource{}}

	// Target existence check at start, then the per-request load
	mock.ExpectQuery(`FROM actors WHERE id = \$1`).
		WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows(actorCols).
			AddRow(42, "sub-t", "target@example.org", "Target", "none", nil, nil, time.Now()))
	mock.ExpectQuery(`FROM actors WHERE id = \$1`).
		WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows(actorCols).
			AddRow(42, "sub-t", "target@example.org", "Target", "none", nil, nil, time.Now()))

	require.NoError(t, overlay.Start(requestAsActor(admin).Context(), admin, "acme", 42))

	var effectiveID int64
	rec := httptest.NewRecorder()
	mw.Middleware(effectiveEcho(&effectiveID)).ServeHTTP(rec, requestAsActor(admin))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(42), effectiveID)
}

func TestImpersonationMiddlewareNoActorIs401(t *testing.T) {
	mw, _, _ := newImpersonationMiddleware(t)

	var effectiveID int64
	rec := httptest.NewRecorder()
	mw.Middleware(effectiveEcho(&effectiveID)).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/identity/me", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Zero(t, effectiveID)
}
