package identity

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caseworks/authcore/pkg/observability"
)

func newTestResolver(t *testing.T) (*Resolver, sqlmock.Sqlmock) {
	t.Helper()
	database, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	return NewResolver(NewStore(database), logger, nil), mock
}

var actorCols = []string{"id", "external_subject_id", "email", "display_name", "source", "person_ref", "contact_bridge_id", "updated_at"}

func TestResolveBySubject(t *testing.T) {
	resolver, mock := newTestResolver(t)

	mock.ExpectQuery(`FROM actors\s+WHERE external_subject_id = \$1`).
		WithArgs("sub-1").
		WillReturnRows(sqlmock.NewRows(actorCols).
			AddRow(1, "sub-1", "w@example.org", "Worker", "staff", "p-1", nil, time.Now()))
	mock.ExpectQuery(`SELECT person_ref, unit, legacy_id FROM staff_directory`).
		WithArgs("p-1").
		WillReturnRows(sqlmock.NewRows([]string{"person_ref", "unit", "legacy_id"}).
			AddRow("p-1", "intake", 12))

	actor, err := resolver.Resolve(context.Background(), "sub-1", "w@example.org")
	require.NoError(t, err)

	assert.Equal(t, int64(1), actor.ID)
	staff, ok := actor.Source.(StaffSource)
	require.True(t, ok)
	assert.Equal(t, "intake", staff.Unit)
	require.NotNil(t, staff.LegacyID)
	assert.Equal(t, int64(12), *staff.LegacyID)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResolveDuplicateSubjectNewestWins(t *testing.T) {
	resolver, mock := newTestResolver(t)

	newer := time.Now()
	older := newer.Add(-24 * time.Hour)
	// The store orders by updated_at DESC; the resolver must take the
	// first row and never merge.
	mock.ExpectQuery(`FROM actors\s+WHERE external_subject_id = \$1`).
		WithArgs("sub-dup").
		WillReturnRows(sqlmock.NewRows(actorCols).
			AddRow(9, "sub-dup", "new@example.org", "Newer", "none", nil, nil, newer).
			AddRow(3, "sub-dup", "old@example.org", "Older", "none", nil, nil, older))

	actor, err := resolver.Resolve(context.Background(), "sub-dup", "")
	require.NoError(t, err)
	assert.Equal(t, int64(9), actor.ID)
	assert.Equal(t, "new@example.org", actor.Email)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResolveEmailFallback(t *testing.T) {
	resolver, mock := newTestResolver(t)

	mock.ExpectQuery(`FROM actors\s+WHERE external_subject_id = \$1`).
		WithArgs("sub-new").
		WillReturnRows(sqlmock.NewRows(actorCols))
	mock.ExpectQuery(`FROM actors\s+WHERE LOWER\(email\) = LOWER\(\$1\)`).
		WithArgs("pre@example.org").
		WillReturnRows(sqlmock.NewRows(actorCols).
			AddRow(4, nil, "pre@example.org", "Provisioned", "none", nil, nil, time.Now()))

	actor, err := resolver.Resolve(context.Background(), "sub-new", "pre@example.org")
	require.NoError(t, err)
	assert.Equal(t, int64(4), actor.ID)
	assert.Empty(t, actor.ExternalSubjectID)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResolveNotFound(t *testing.T) {
	resolver, mock := newTestResolver(t)

	mock.ExpectQuery(`FROM actors\s+WHERE external_subject_id = \$1`).
		WithArgs("sub-x").
		WillReturnRows(sqlmock.NewRows(actorCols))
	mock.ExpectQuery(`FROM actors\s+WHERE LOWER\(email\) = LOWER\(\$1\)`).
		WithArgs("none@example.org").
		WillReturnRows(sqlmock.NewRows(actorCols))

	_, err := resolver.Resolve(context.Background(), "sub-x", "none@example.org")
	assert.ErrorIs(t, err, ErrActorNotFound)
}

func TestResolveMissingStaffDirectoryRowTolerated(t *testing.T) {
	resolver, mock := newTestResolver(t)

	mock.ExpectQuery(`FROM actors\s+WHERE external_subject_id = \$1`).
		WithArgs("sub-2").
		WillReturnRows(sqlmock.NewRows(actorCols).
			AddRow(2, "sub-2", "s@example.org", "Staff", "staff", "p-2", nil, time.Now()))
	mock.ExpectQuery(`SELECT person_ref, unit, legacy_id FROM staff_directory`).
		WithArgs("p-2").
		WillReturnRows(sqlmock.NewRows([]string{"person_ref", "unit", "legacy_id"}))

	actor, err := resolver.Resolve(context.Background(), "sub-2", "")
	require.NoError(t, err)

	staff, ok := actor.Source.(StaffSource)
	require.True(t, ok)
	assert.Empty(t, staff.Unit)
	assert.Nil(t, staff.LegacyID)
}

func TestResolveExternalContactEnrichment(t *testing.T) {
	resolver, mock := newTestResolver(t)

	mock.ExpectQuery(`FROM actors\s+WHERE external_subject_id = \$1`).
		WithArgs("sub-3").
		WillReturnRows(sqlmock.NewRows(actorCols).
			AddRow(3, "sub-3", "c@example.org", "", "external_contact", nil, "b-3", time.Now()))
	mock.ExpectQuery(`SELECT bridge_id, display_name, phone, email FROM contact_bridge`).
		WithArgs("b-3").
		WillReturnRows(sqlmock.NewRows([]string{"bridge_id", "display_name", "phone", "email"}).
			AddRow("b-3", "Carol Contact", "555-0100", "c@example.org"))

	actor, err := resolver.Resolve(context.Background(), "sub-3", "")
	require.NoError(t, err)

	contact, ok := actor.Source.(ExternalContactSource)
	require.True(t, ok)
	assert.Equal(t, "555-0100", contact.Phone)
	assert.Equal(t, "Carol Contact", actor.DisplayName)
}
