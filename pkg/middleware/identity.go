package middleware

import (
	"errors"
	"net/http"

	"github.com/caseworks/authcore/pkg/contextkeys"
	"github.com/caseworks/authcore/pkg/db"
	"github.com/caseworks/authcore/pkg/httputil"
	"github.com/caseworks/authcore/pkg/identity"
	"github.com/caseworks/authcore/pkg/observability"
)

// Trusted identity headers. The login collaborator in front of this
// service verified the session; the values arrive here as facts.
const (
	HeaderSubject = "X-Auth-Subject"
	HeaderEmail   = "X-Auth-Email"
	HeaderName    = "X-Auth-Name"
)

// Identity resolves session evidence into a durable actor. No evidence is
// a 401; evidence that matches no registered actor is a 403 with reason
// unregistered_actor, a deliberately different answer. Store trouble after
// retries is a 503, never a deny.
type Identity struct {
	resolver *identity.Resolver
	logger   *observability.Logger
	retries  int
}

func NewIdentity(resolver *identity.Resolver, logger *observability.Logger, storeRetries int) *Identity {
	if storeRetries < 1 {
		storeRetries = 1
	}
	return &Identity{resolver: resolver, logger: logger, retries: storeRetries}
}

func (m *Identity) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subjectID := r.Header.Get(HeaderSubject)
		email := r.Header.Get(HeaderEmail)
		if subjectID == "" && email == "" {
			httputil.WriteErrorReason(w, http.StatusUnauthorized, "unauthenticated", "no session evidence presented")
			return
		}

		ctx := r.Context()
		var actor *identity.Actor
		err := db.Retry(ctx, m.retries, func() error {
			var err error
			actor, err = m.resolver.Resolve(ctx, subjectID, email)
			return err
		})
		if err != nil {
			if errors.Is(err, identity.ErrActorNotFound) {
				httputil.WriteErrorReason(w, http.StatusForbidden, "unregistered_actor", "authenticated but not registered with any tenant")
				return
			}
			if db.IsUnavailable(err) {
				httputil.WriteServiceUnavailable(w, "identity store unavailable")
				return
			}
			m.logger.WithError(err).Error("Identity resolution failed")
			httputil.WriteInternalError(w, errors.New("identity resolution failed"))
			return
		}

		ctx = contextkeys.WithActor(ctx, actor)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
