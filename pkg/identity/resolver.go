package identity

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/caseworks/authcore/pkg/observability"
)

// Resolver maps session evidence to exactly one actor. Resolution is a pure
// read; it is cheap enough to run on every request and the staleness window
// is therefore a single request.
type Resolver struct {
	store   *Store
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewResolver creates a new identity resolver. metrics may be nil.
func NewResolver(store *Store, logger *observability.Logger, metrics *observability.Metrics) *Resolver {
	return &Resolver{
		store:   store,
		logger:  logger,
		metrics: metrics,
	}
}

// Resolve finds the actor for the given session evidence. Lookup order is
// fixed: external subject id first, then email for actors provisioned before
// their first login. Returns ErrActorNotFound when neither key matches;
// callers treat that as "authenticated but unregistered", not a fault.
func (r *Resolver) Resolve(ctx context.Context, externalSubjectID, email string) (*Actor, error) {
	start := time.Now()

	actor, err := r.lookup(ctx, strings.TrimSpace(externalSubjectID), strings.TrimSpace(email))
	if err != nil {
		if err == ErrActorNotFound {
			r.logger.WithFields(map[string]interface{}{
				"subject": externalSubjectID,
				"email":   email,
			}).Debug("no actor record for authenticated caller")
			r.countResolution("not_found", KindNone)
		}
		return nil, err
	}

	if err := r.enrich(ctx, actor); err != nil {
		return nil, err
	}

	if r.metrics != nil {
		r.metrics.ResolutionDuration.Observe(time.Since(start).Seconds())
	}
	r.countResolution("resolved", actor.Source.Kind())

	return actor, nil
}

func (r *Resolver) lookup(ctx context.Context, externalSubjectID, email string) (*Actor, error) {
	if externalSubjectID != "" {
		actors, err := r.store.FindBySubject(ctx, externalSubjectID)
		if err != nil {
			return nil, err
		}
		if len(actors) > 1 {
			// Historical merges can leave duplicate subject links. Pick the
			// most recently updated record; reconciliation happens
			// out-of-band, never by silent merge here.
			r.logger.WithFields(map[string]interface{}{
				"subject":    externalSubjectID,
				"duplicates": len(actors) - 1,
				"chosen":     actors[0].ID,
			}).Warn("duplicate actor records for subject id")
			if r.metrics != nil {
				r.metrics.DuplicateSubjectsTotal.Inc()
			}
		}
		if len(actors) > 0 {
			return actors[0], nil
		}
	}

	if email == "" {
		return nil, ErrActorNotFound
	}
	return r.store.FindByEmail(ctx, email)
}

// enrich fills the secondary attributes of the actor's source variant.
// Missing directory or bridge rows are tolerated; the actor stays valid.
func (r *Resolver) enrich(ctx context.Context, actor *Actor) error {
	switch source := actor.Source.(type) {
	case StaffSource:
		entry, err := r.store.GetStaffDirectoryEntry(ctx, source.Ref)
		if err != nil {
			return fmt.Errorf("failed to enrich staff actor %d: %w", actor.ID, err)
		}
		if entry != nil {
			source.Unit = entry.Unit
			source.LegacyID = entry.LegacyID
			actor.Source = source
		}

	case ForeignRecordSource:
		// Foreign records share the person reference with the contact
		// bridge; contact enrichment only updates the display name.
		entry, err := r.store.GetContactBridgeEntry(ctx, source.Ref)
		if err != nil {
			return fmt.Errorf("failed to enrich foreign-record actor %d: %w", actor.ID, err)
		}
		if entry != nil && actor.DisplayName == "" {
			actor.DisplayName = entry.DisplayName
		}

	case ExternalContactSource:
		if source.ID == "" {
			return nil
		}
		entry, err := r.store.GetContactBridgeEntry(ctx, source.ID)
		if err != nil {
			return fmt.Errorf("failed to enrich external-contact actor %d: %w", actor.ID, err)
		}
		if entry != nil {
			source.Phone = entry.Phone
			actor.Source = source
			if actor.DisplayName == "" {
				actor.DisplayName = entry.DisplayName
			}
		}
	}

	return nil
}

func (r *Resolver) countResolution(outcome string, kind SourceKind) {
	if r.metrics != nil {
		r.metrics.ResolutionsTotal.WithLabelValues(outcome, string(kind)).Inc()
	}
}
