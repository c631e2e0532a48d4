package identity

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// Store handles actor persistence and the directory/bridge lookups used for
// enrichment. All methods are reads; provisioning actors is a separate
// administrative flow.
type Store struct {
	db *sql.DB
}

// NewStore creates a new identity store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const actorColumns = `id, external_subject_id, email, display_name, source, person_ref, contact_bridge_id, updated_at`

// FindBySubject returns all actor records linked to an external subject id,
// most recently updated first. More than one row means historical merges
// left duplicates; the caller picks the newest and reports the rest.
func (s *Store) FindBySubject(ctx context.Context, externalSubjectID string) ([]*Actor, error) {
	query := `
		SELECT ` + actorColumns + `
		FROM actors
		WHERE external_subject_id = $1
		ORDER BY updated_at DESC
	`

	rows, err := s.db.QueryContext(ctx, query, externalSubjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to query actors by subject: %w", err)
	}
	defer rows.Close()

	var actors []*Actor
	for rows.Next() {
		actor, err := scanActor(rows)
		if err != nil {
			return nil, err
		}
		actors = append(actors, actor)
	}

	return actors, rows.Err()
}

// FindByEmail returns the actor provisioned under an email address, for
// installations where actors exist before their first login links a subject
// id. Matching is case-insensitive.
func (s *Store) FindByEmail(ctx context.Context, email string) (*Actor, error) {
	query := `
		SELECT ` + actorColumns + `
		FROM actors
		WHERE LOWER(email) = LOWER($1)
		ORDER BY updated_at DESC
		LIMIT 1
	`

	row := s.db.QueryRowContext(ctx, query, strings.TrimSpace(email))
	actor, err := scanActor(row)
	if err == sql.ErrNoRows {
		return nil, ErrActorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query actor by email: %w", err)
	}
	return actor, nil
}

// StaffDirectoryEntry is the secondary attribute row for staff actors
type StaffDirectoryEntry struct {
	PersonRef string
	Unit      string
	LegacyID  *int64
}

// GetStaffDirectoryEntry looks up the staff directory row for a person
// reference. A missing row is not an error; it returns (nil, nil).
func (s *Store) GetStaffDirectoryEntry(ctx context.Context, personRef string) (*StaffDirectoryEntry, error) {
	query := `SELECT person_ref, unit, legacy_id FROM staff_directory WHERE person_ref = $1`

	var entry StaffDirectoryEntry
	var unit sql.NullString
	var legacyID sql.NullInt64

	err := s.db.QueryRowContext(ctx, query, personRef).Scan(&entry.PersonRef, &unit, &legacyID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query staff directory: %w", err)
	}

	if unit.Valid {
		entry.Unit = unit.String
	}
	if legacyID.Valid {
		id := legacyID.Int64
		entry.LegacyID = &id
	}

	return &entry, nil
}

// ContactBridgeEntry is the enrichment row for external contacts
type ContactBridgeEntry struct {
	BridgeID    string
	DisplayName string
	Phone       string
	Email       string
}

// GetContactBridgeEntry looks up the contact bridge row for a bridge id.
// A missing row is not an error; it returns (nil, nil).
func (s *Store) GetContactBridgeEntry(ctx context.Context, bridgeID string) (*ContactBridgeEntry, error) {
	query := `SELECT bridge_id, display_name, phone, email FROM contact_bridge WHERE bridge_id = $1`

	var entry ContactBridgeEntry
	var displayName, phone, email sql.NullString

	err := s.db.QueryRowContext(ctx, query, bridgeID).Scan(&entry.BridgeID, &displayName, &phone, &email)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query contact bridge: %w", err)
	}

	if displayName.Valid {
		entry.DisplayName = displayName.String
	}
	if phone.Valid {
		entry.Phone = phone.String
	}
	if email.Valid {
		entry.Email = email.String
	}

	return &entry, nil
}

// GetActor retrieves an actor by internal id
func (s *Store) GetActor(ctx context.Context, actorID int64) (*Actor, error) {
	query := `SELECT ` + actorColumns + ` FROM actors WHERE id = $1`

	actor, err := scanActor(s.db.QueryRowContext(ctx, query, actorID))
	if err == sql.ErrNoRows {
		return nil, ErrActorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get actor: %w", err)
	}
	return actor, nil
}

// scanActor scans an actor from a database row
func scanActor(scanner interface {
	Scan(dest ...interface{}) error
}) (*Actor, error) {
	var actor Actor
	var subjectID, personRef, bridgeID sql.NullString
	var kind string

	err := scanner.Scan(
		&actor.ID,
		&subjectID,
		&actor.Email,
		&actor.DisplayName,
		&kind,
		&personRef,
		&bridgeID,
		&actor.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if subjectID.Valid {
		actor.ExternalSubjectID = subjectID.String
	}

	source, err := SourceFromRefs(SourceKind(kind), personRef.String, bridgeID.String)
	if err != nil {
		return nil, fmt.Errorf("actor %d has invalid identity references: %w", actor.ID, err)
	}
	actor.Source = source

	return &actor, nil
}
