package impersonation

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caseworks/authcore/pkg/audit"
	"github.com/caseworks/authcore/pkg/authz"
	"github.com/caseworks/authcore/pkg/identity"
	"github.com/caseworks/authcore/pkg/observability"
	"github.com/caseworks/authcore/pkg/tenants"
)

var actorCols = []string{"id", "external_subject_id", "email", "display_name", "source", "person_ref", "contact_bridge_id", "updated_at"}

func newTestOverlay(t *testing.T, adminEmails []string) (*Overlay, sqlmock.Sqlmock, *miniredis.Miniredis) {
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
	evaluator := authz.NewEvaluator(authz.NewStore(database), tenants.NewRegistry(database),
		audit.NewNoOpLogger(), logger, nil, adminEmails, 1)

	overlay := NewOverlay(client, evaluator, identity.NewStore(database),
		audit.NewNoOpLogger(), logger, nil, time.Minute)
	return overlay, mock, server
}

func admin() *identity.Actor {
	return &identity.Actor{ID: 1, Email: "root@example.org", Source: identity.NoSource{}}
}

func expectTargetActor(mock sqlmock.Sqlmock, id int64) {
	mock.ExpectQuery(`FROM actors WHERE id = \$1`).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows(actorCols).
			AddRow(id, "sub-t", "target@example.org", "Target", "none", nil, nil, time.Now()))
}

func TestStartAndStopOverridesEffectiveActor(t *testing.T) {
	overlay, mock, _ := newTestOverlay(t, []string{"root@example.org"})
	expectTargetActor(mock, 42)

	ctx := context.Background()
	require.NoError(t, overlay.Start(ctx, admin(), "acme", 42))

	effective, err := overlay.EffectiveActorID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(42), effective)

	require.NoError(t, overlay.Stop(ctx, 1))

	effective, err = overlay.EffectiveActorID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), effective)
}

func TestEffectiveActorIDWithoutSession(t *testing.T) {
	overlay, _, _ := newTestOverlay(t, nil)

	effective, err := overlay.EffectiveActorID(context.Background(), 9)
	require.NoError(t, err)
	assert.Equal(t, int64(9), effective)
}

func expectActiveTenant(mock sqlmock.Sqlmock) {
	mock.ExpectQuery(`FROM tenants WHERE code = \$1`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "code", "name", "active", "created_at", "updated_at"}).
			AddRow(1, "acme", "Acme County", true, time.Now(), time.Now()))
}

func TestStartRefusesUnauthorizedAdmin(t *testing.T) {
	overlay, mock, _ := newTestOverlay(t, nil)

	expectActiveTenant(mock)
	mock.ExpectQuery(`SELECT role_name FROM role_grants`).
		WillReturnRows(sqlmock.NewRows([]string{"role_name"}))
	mock.ExpectQuery(`SELECT permission_code FROM permission_grants`).
		WillReturnRows(sqlmock.NewRows([]string{"permission_code"}))

	err := overlay.Start(context.Background(), admin(), "acme", 42)
	assert.ErrorIs(t, err, ErrNotAuthorized)
}

func TestStartAcceptsSeniorRoleWithoutPermission(t *testing.T) {
	// A system_admin role grant alone is enough; no permission grant and
	// no allow-list entry. The permission table is never consulted.
	overlay, mock, _ := newTestOverlay(t, nil)

	expectActiveTenant(mock)
	mock.ExpectQuery(`SELECT role_name FROM role_grants`).
		WithArgs(int64(1), "acme").
		WillReturnRows(sqlmock.NewRows([]string{"role_name"}).AddRow("system_admin"))
	expectTargetActor(mock, 42)

	ctx := context.Background()
	require.NoError(t, overlay.Start(ctx, admin(), "acme", 42))
	require.NoError(t, mock.ExpectationsWereMet())

	effective, err := overlay.EffectiveActorID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(42), effective)
}

func TestStartRefusesSelfImpersonation(t *testing.T) {
	overlay, _, _ := newTestOverlay(t, []string{"root@example.org"})

	err := overlay.Start(context.Background(), admin(), "acme", 1)
	assert.ErrorIs(t, err, ErrSelfImpersonation)
}

func TestStartRefusesMissingTarget(t *testing.T) {
	overlay, mock, _ := newTestOverlay(t, []string{"root@example.org"})

	mock.ExpectQuery(`FROM actors WHERE id = \$1`).
		WithArgs(int64(404)).
		WillReturnRows(sqlmock.NewRows(actorCols))

	err := overlay.Start(context.Background(), admin(), "acme", 404)
	assert.ErrorIs(t, err, identity.ErrActorNotFound)
}

func TestSessionExpiresWithTTL(t *testing.T) {
	overlay, mock, server := newTestOverlay(t, []string{"root@example.org"})
	expectTargetActor(mock, 42)

	ctx := context.Background()
	require.NoError(t, overlay.Start(ctx, admin(), "acme", 42))

	server.FastForward(2 * time.Minute)

	effective, err := overlay.EffectiveActorID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), effective)
}

func TestStopWithoutSessionIsNoOp(t *testing.T) {
	overlay, _, _ := newTestOverlay(t, nil)
	assert.NoError(t, overlay.Stop(context.Background(), 5))
}
