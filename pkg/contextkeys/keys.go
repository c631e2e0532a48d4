// Package contextkeys provides centralized context key definitions
//
// IMPORTANT: All context keys used across the application must be defined here.
// This prevents typos, documents dependencies, and makes key usage discoverable.
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// ActorKey contains *identity.Actor: the actor as resolved from session
	// evidence, before any impersonation overlay is applied.
	// Set by: middleware.Identity
	ActorKey Key = "actor"

	// EffectiveActorKey contains *identity.Actor: the actor every
	// identity-dependent operation must use. Equal to ActorKey unless an
	// impersonation session is active for the caller.
	// Set by: middleware.Impersonation
	EffectiveActorKey Key = "effective_actor"

	// APIKeyKey contains *apikeys.Key for machine callers.
	// Set by: middleware.APIKey
	APIKeyKey Key = "api_key"

	// TenantKey contains *tenants.Tenant for tenant-scoped routes.
	// Set by: middleware.APIKey
	TenantKey Key = "tenant"

	// RequestIDKey contains the request ID string (UUID).
	// Set by: middleware.RequestID
	RequestIDKey Key = "request_id"

	// LoggerKey contains *observability.Logger scoped to the request.
	LoggerKey Key = "logger"
)

// WithActor adds the resolved actor to the context
func WithActor(ctx context.Context, actor interface{}) context.Context {
	return context.WithValue(ctx, ActorKey, actor)
}

// WithEffectiveActor adds the effective (possibly impersonated) actor
func WithEffectiveActor(ctx context.Context, actor interface{}) context.Context {
	return context.WithValue(ctx, EffectiveActorKey, actor)
}

// WithAPIKey adds the validated API key record to the context
func WithAPIKey(ctx context.Context, key interface{}) context.Context {
	return context.WithValue(ctx, APIKeyKey, key)
}

// WithTenant adds the tenant to the context
func WithTenant(ctx context.Context, tenant interface{}) context.Context {
	return context.WithValue(ctx, TenantKey, tenant)
}

// WithRequestID adds the request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetRequestID retrieves the request ID from the context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}
