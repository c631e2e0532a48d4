package middleware

import (
	"net/http"

	"github.com/caseworks/authcore/pkg/contextkeys"
	"github.com/caseworks/authcore/pkg/httputil"
	"github.com/caseworks/authcore/pkg/identity"
	"github.com/caseworks/authcore/pkg/impersonation"
	"github.com/caseworks/authcore/pkg/observability"
)

// Impersonation swaps in the effective actor right after identity
// resolution, so every downstream consumer sees only one identity. Without
// an active session the effective actor is the resolved one.
type Impersonation struct {
	overlay *impersonation.Overlay
	actors  *identity.Store
	logger  *observability.Logger
}

func NewImpersonation(overlay *impersonation.Overlay, actors *identity.Store, logger *observability.Logger) *Impersonation {
	return &Impersonation{overlay: overlay, actors: actors, logger: logger}
}

func (m *Impersonation) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		actor, ok := ActorFromContext(ctx)
		if !ok {
			httputil.WriteUnauthorized(w, "no resolved actor")
			return
		}

		effectiveID, err := m.overlay.EffectiveActorID(ctx, actor.ID)
		if err != nil {
			// A broken session store must not widen anyone's identity;
			// fall back to the caller's own.
			m.logger.WithError(err).Warn("Failed to read impersonation session")
			effectiveID = actor.ID
		}

		effective := actor
		if effectiveID != actor.ID {
			target, err := m.actors.GetActor(ctx, effectiveID)
			if err != nil {
				m.logger.WithError(err).WithField("target_id", effectiveID).Warn("Impersonation target no longer resolvable")
			} else {
				effective = target
			}
		}

		ctx = contextkeys.WithEffectiveActor(ctx, effective)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
