package middleware

import (
	"errors"
	"net/http"

	"github.com/caseworks/authcore/pkg/apikeys"
	"github.com/caseworks/authcore/pkg/contextkeys"
	"github.com/caseworks/authcore/pkg/db"
	"github.com/caseworks/authcore/pkg/httputil"
	"github.com/caseworks/authcore/pkg/observability"
	"github.com/caseworks/authcore/pkg/tenants"
)

// HeaderAPIKey carries the machine credential
const HeaderAPIKey = "X-Api-Key"

// genericCredentialMessage is the one answer every invalid credential
// gets, so a caller cannot distinguish unknown from revoked from expired.
const genericCredentialMessage = "invalid or unusable api key"

// APIKey authenticates machine callers and binds their tenant to the
// request context.
type APIKey struct {
	auth    *apikeys.Authenticator
	tenants *tenants.Registry
	limiter *apikeys.RateLimiter
	logger  *observability.Logger
}

func NewAPIKey(auth *apikeys.Authenticator, registry *tenants.Registry, limiter *apikeys.RateLimiter, logger *observability.Logger) *APIKey {
	return &APIKey{auth: auth, tenants: registry, limiter: limiter, logger: logger}
}

func (m *APIKey) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		candidate := r.Header.Get(HeaderAPIKey)
		if candidate == "" {
			httputil.WriteErrorReason(w, http.StatusUnauthorized, "unauthenticated", "no api key presented")
			return
		}

		ctx := r.Context()
		key, err := m.auth.Validate(ctx, candidate)
		if err != nil {
			if errors.Is(err, apikeys.ErrKeyNotFound) ||
				errors.Is(err, apikeys.ErrKeyInactive) ||
				errors.Is(err, apikeys.ErrKeyExpired) {
				httputil.WriteErrorReason(w, http.StatusUnauthorized, "invalid_credential", genericCredentialMessage)
				return
			}
			if db.IsUnavailable(err) {
				httputil.WriteServiceUnavailable(w, "credential store unavailable")
				return
			}
			m.logger.WithError(err).Error("API key validation failed")
			httputil.WriteInternalError(w, errors.New("credential validation failed"))
			return
		}

		tenant, err := m.tenants.GetTenant(ctx, key.TenantCode)
		if err != nil || !tenant.Active {
			// A key outlives its tenant's deactivation; treat it like any
			// other dead credential.
			httputil.WriteErrorReason(w, http.StatusUnauthorized, "invalid_credential", genericCredentialMessage)
			return
		}

		if m.limiter != nil && !m.limiter.Allow(ctx, key) {
			httputil.WriteTooManyRequests(w, "rate limit exceeded")
			return
		}

		ctx = contextkeys.WithAPIKey(ctx, key)
		ctx = contextkeys.WithTenant(ctx, tenant)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
