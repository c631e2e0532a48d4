package identity

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSourceFromRefs(t *testing.T) {
	tests := []struct {
		name      string
		kind      SourceKind
		personRef string
		bridgeID  string
		wantErr   bool
		wantKind  SourceKind
	}{
		{
			name:      "staff with person ref",
			kind:      KindStaff,
			personRef: "p-100",
			wantKind:  KindStaff,
		},
		{
			name:    "staff without person ref",
			kind:    KindStaff,
			wantErr: true,
		},
		{
			name:      "staff with bridge ref",
			kind:      KindStaff,
			personRef: "p-100",
			bridgeID:  "b-200",
			wantErr:   true,
		},
		{
			name:      "foreign record with matching refs",
			kind:      KindForeignRecord,
			personRef: "p-100",
			bridgeID:  "p-100",
			wantKind:  KindForeignRecord,
		},
		{
			name:      "foreign record person ref only",
			kind:      KindForeignRecord,
			personRef: "p-100",
			wantKind:  KindForeignRecord,
		},
		{
			name:      "conflicting refs rejected",
			kind:      KindForeignRecord,
			personRef: "p-100",
			bridgeID:  "b-200",
			wantErr:   true,
		},
		{
			name:     "external contact with bridge id",
			kind:     KindExternalContact,
			bridgeID: "b-200",
			wantKind: KindExternalContact,
		},
		{
			name:      "external contact with person ref",
			kind:      KindExternalContact,
			personRef: "p-100",
			wantErr:   true,
		},
		{
			name:     "none with no refs",
			kind:     KindNone,
			wantKind: KindNone,
		},
		{
			name:      "none with refs rejected",
			kind:      KindNone,
			personRef: "p-100",
			wantErr:   true,
		},
		{
			name:    "unknown kind rejected",
			kind:    SourceKind("robot"),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			source, err := SourceFromRefs(tt.kind, tt.personRef, tt.bridgeID)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantKind, source.Kind())
		})
	}
}

func TestForeignRecordSharesRef(t *testing.T) {
	source := ForeignRecordSource{Ref: "p-42"}

	personRef, ok := source.PersonRef()
	require.True(t, ok)
	bridgeRef, ok := source.BridgeRef()
	require.True(t, ok)

	assert.Equal(t, personRef, bridgeRef)
}

func TestActorJSONRoundTrip(t *testing.T) {
	legacyID := int64(77)
	actors := []Actor{
		{
			ID:                1,
			ExternalSubjectID: "sub-1",
			Email:             "worker@example.org",
			DisplayName:       "A Worker",
			Source:            StaffSource{Ref: "p-1", Unit: "intake", LegacyID: &legacyID},
			UpdatedAt:         time.Now(),
		},
		{
			ID:     2,
			Email:  "foster@example.org",
			Source: ForeignRecordSource{Ref: "p-2"},
		},
		{
			ID:     3,
			Email:  "contact@example.org",
			Source: ExternalContactSource{ID: "b-3"},
		},
		{
			ID:     4,
			Email:  "nobody@example.org",
			Source: NoSource{},
		},
	}

	for _, actor := range actors {
		data, err := json.Marshal(actor)
		require.NoError(t, err)

		var decoded Actor
		require.NoError(t, json.Unmarshal(data, &decoded))

		assert.Equal(t, actor.ID, decoded.ID)
		assert.Equal(t, actor.Email, decoded.Email)
		assert.Equal(t, actor.Source.Kind(), decoded.Source.Kind())

		// The union can never come back with two different refs
		personRef, hasPerson := decoded.Source.PersonRef()
		bridgeRef, hasBridge := decoded.Source.BridgeRef()
		if hasPerson && hasBridge {
			assert.Equal(t, personRef, bridgeRef)
		}
	}
}

func TestActorUnmarshalRejectsConflictingRefs(t *testing.T) {
	payloads := []string{
		`{"id":1,"email":"x@y.z","source":"staff","person_ref":"p-1","contact_bridge_id":"b-2"}`,
		`{"id":1,"email":"x@y.z","source":"foreign_record","person_ref":"p-1","contact_bridge_id":"b-2"}`,
		`{"id":1,"email":"x@y.z","source":"external_contact","person_ref":"p-1"}`,
	}
	for _, payload := range payloads {
		var actor Actor
		assert.Error(t, json.Unmarshal([]byte(payload), &actor), payload)
	}
}

func TestStaffUnitSurvivesJSON(t *testing.T) {
	actor := Actor{
		ID:     5,
		Email:  "s@example.org",
		Source: StaffSource{Ref: "p-5", Unit: "placement"},
	}
	data, err := json.Marshal(actor)
	require.NoError(t, err)

	var decoded Actor
	require.NoError(t, json.Unmarshal(data, &decoded))

	staff, ok := decoded.Source.(StaffSource)
	require.True(t, ok)
	assert.Equal(t, "placement", staff.Unit)
}
