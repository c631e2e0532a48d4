// Package middleware carries identity through the request path: request
// ids, session-evidence resolution, the impersonation overlay, machine
// credentials, and per-key rate limiting.
package middleware

import (
	"context"

	"github.com/caseworks/authcore/pkg/apikeys"
	"github.com/caseworks/authcore/pkg/contextkeys"
	"github.com/caseworks/authcore/pkg/identity"
	"github.com/caseworks/authcore/pkg/tenants"
)

// ActorFromContext returns the actor resolved from session evidence,
// before any impersonation overlay.
func ActorFromContext(ctx context.Context) (*identity.Actor, bool) {
	actor, ok := ctx.Value(contextkeys.ActorKey).(*identity.Actor)
	return actor, ok
}

// EffectiveActorFromContext returns the actor requests must act as. All
// identity-dependent work reads this, never ActorFromContext.
func EffectiveActorFromContext(ctx context.Context) (*identity.Actor, bool) {
	actor, ok := ctx.Value(contextkeys.EffectiveActorKey).(*identity.Actor)
	return actor, ok
}

// APIKeyFromContext returns the validated machine credential
func APIKeyFromContext(ctx context.Context) (*apikeys.Key, bool) {
	key, ok := ctx.Value(contextkeys.APIKeyKey).(*apikeys.Key)
	return key, ok
}

// TenantFromContext returns the tenant bound to the request
func TenantFromContext(ctx context.Context) (*tenants.Tenant, bool) {
	tenant, ok := ctx.Value(contextkeys.TenantKey).(*tenants.Tenant)
	return tenant, ok
}
