package identity

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrActorNotFound is returned when session evidence matches no durable
// actor record. This is "authenticated but unregistered", distinct from
// unauthenticated; callers map it to its own response.
var ErrActorNotFound = errors.New("actor not found")

// SourceKind identifies the variant of an actor's identity source
type SourceKind string

const (
	KindStaff           SourceKind = "staff"
	KindForeignRecord   SourceKind = "foreign_record"
	KindExternalContact SourceKind = "external_contact"
	KindNone            SourceKind = "none"
)

// Source is the closed union of identity source variants. Only the types in
// this package implement it, so construction is the single place the
// exclusivity invariant is enforced.
type Source interface {
	Kind() SourceKind

	// PersonRef returns the internal person reference, if this variant
	// carries one.
	PersonRef() (string, bool)

	// BridgeRef returns the external contact bridge reference, if this
	// variant carries one.
	BridgeRef() (string, bool)
}

// StaffSource is a staff member backed by the internal person directory.
type StaffSource struct {
	Ref      string
	Unit     string
	LegacyID *int64
}

func (s StaffSource) Kind() SourceKind          { return KindStaff }
func (s StaffSource) PersonRef() (string, bool) { return s.Ref, true }
func (s StaffSource) BridgeRef() (string, bool) { return "", false }

// ForeignRecordSource is a person known to the internal directory who holds
// no staff role (e.g. a foster parent). By convention the same reference
// serves as both person ref and bridge ref, never two different values.
type ForeignRecordSource struct {
	Ref string
}

func (s ForeignRecordSource) Kind() SourceKind          { return KindForeignRecord }
func (s ForeignRecordSource) PersonRef() (string, bool) { return s.Ref, true }
func (s ForeignRecordSource) BridgeRef() (string, bool) { return s.Ref, true }

// ExternalContactSource is a caller known only through the contact bridge.
type ExternalContactSource struct {
	ID    string
	Phone string
}

func (s ExternalContactSource) Kind() SourceKind          { return KindExternalContact }
func (s ExternalContactSource) PersonRef() (string, bool) { return "", false }
func (s ExternalContactSource) BridgeRef() (string, bool) {
	if s.ID == "" {
		return "", false
	}
	return s.ID, true
}

// NoSource is an actor with no backing directory or bridge record.
type NoSource struct{}

func (NoSource) Kind() SourceKind          { return KindNone }
func (NoSource) PersonRef() (string, bool) { return "", false }
func (NoSource) BridgeRef() (string, bool) { return "", false }

// Actor is the resolved internal identity of a caller. It is derived fresh
// from durable records on each request and never stored in a session.
type Actor struct {
	ID                int64
	ExternalSubjectID string
	Email             string
	DisplayName       string
	Source            Source
	UpdatedAt         time.Time
}

// SourceFromRefs reconstructs a Source from the flat (kind, personRef,
// bridgeID) shape the actors table stores, rejecting any combination that
// violates the exclusivity invariant.
func SourceFromRefs(kind SourceKind, personRef, bridgeID string) (Source, error) {
	if personRef != "" && bridgeID != "" && personRef != bridgeID {
		return nil, fmt.Errorf("conflicting identity references: person %q vs bridge %q", personRef, bridgeID)
	}

	switch kind {
	case KindStaff:
		if personRef == "" {
			return nil, fmt.Errorf("staff source requires a person reference")
		}
		if bridgeID != "" {
			return nil, fmt.Errorf("staff source must not carry a bridge reference")
		}
		return StaffSource{Ref: personRef}, nil
	case KindForeignRecord:
		if personRef == "" {
			return nil, fmt.Errorf("foreign-record source requires a person reference")
		}
		return ForeignRecordSource{Ref: personRef}, nil
	case KindExternalContact:
		if personRef != "" {
			return nil, fmt.Errorf("external-contact source must not carry a person reference")
		}
		return ExternalContactSource{ID: bridgeID}, nil
	case KindNone:
		if personRef != "" || bridgeID != "" {
			return nil, fmt.Errorf("none source must not carry references")
		}
		return NoSource{}, nil
	default:
		return nil, fmt.Errorf("unknown identity source kind: %q", kind)
	}
}

// actorJSON is the wire shape of an Actor. The union is flattened to the
// same (kind, refs) triple the store uses so deserialization funnels
// through the same invariant check.
type actorJSON struct {
	ID                int64      `json:"id"`
	ExternalSubjectID string     `json:"external_subject_id,omitempty"`
	Email             string     `json:"email"`
	DisplayName       string     `json:"display_name,omitempty"`
	SourceKind        SourceKind `json:"source"`
	PersonRef         string     `json:"person_ref,omitempty"`
	BridgeID          string     `json:"contact_bridge_id,omitempty"`
	Unit              string     `json:"unit,omitempty"`
	LegacyID          *int64     `json:"legacy_id,omitempty"`
}

// MarshalJSON implements json.Marshaler
func (a Actor) MarshalJSON() ([]byte, error) {
	out := actorJSON{
		ID:                a.ID,
		ExternalSubjectID: a.ExternalSubjectID,
		Email:             a.Email,
		DisplayName:       a.DisplayName,
		SourceKind:        KindNone,
	}

	if a.Source != nil {
		out.SourceKind = a.Source.Kind()
		if ref, ok := a.Source.PersonRef(); ok {
			out.PersonRef = ref
		}
		if ref, ok := a.Source.BridgeRef(); ok {
			out.BridgeID = ref
		}
		if staff, ok := a.Source.(StaffSource); ok {
			out.Unit = staff.Unit
			out.LegacyID = staff.LegacyID
		}
	}

	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler
func (a *Actor) UnmarshalJSON(data []byte) error {
	var in actorJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}

	// The foreign-record variant stores only the person ref.
	bridgeID := in.BridgeID
	if in.SourceKind == KindForeignRecord {
		bridgeID = ""
		if in.BridgeID != "" && in.PersonRef != "" && in.BridgeID != in.PersonRef {
			return fmt.Errorf("conflicting identity references: person %q vs bridge %q", in.PersonRef, in.BridgeID)
		}
	}

	source, err := SourceFromRefs(in.SourceKind, in.PersonRef, bridgeID)
	if err != nil {
		return err
	}
	if staff, ok := source.(StaffSource); ok {
		staff.Unit = in.Unit
		staff.LegacyID = in.LegacyID
		source = staff
	}

	a.ID = in.ID
	a.ExternalSubjectID = in.ExternalSubjectID
	a.Email = in.Email
	a.DisplayName = in.DisplayName
	a.Source = source
	return nil
}
