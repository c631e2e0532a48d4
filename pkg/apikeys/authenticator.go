package apikeys

import (
	"context"
	"strings"
	"time"

	"github.com/caseworks/authcore/pkg/audit"
	"github.com/caseworks/authcore/pkg/observability"
	"github.com/caseworks/authcore/pkg/tenants"
)

// Authenticator owns the key lifecycle: issue, validate, revoke. Usage
// metering runs off the validation path so a metering hiccup can never turn
// a valid credential away.
type Authenticator struct {
	store           *Store
	tenants         *tenants.Registry
	audit           audit.Logger
	logger          *observability.Logger
	metrics         *observability.Metrics
	defaultLimit    int
	meteringTimeout time.Duration
}

func NewAuthenticator(store *Store, registry *tenants.Registry, auditLogger audit.Logger, logger *observability.Logger, metrics *observability.Metrics, defaultRateLimit int, meteringTimeout time.Duration) *Authenticator {
	if defaultRateLimit <= 0 {
		defaultRateLimit = 100
	}
	if meteringTimeout <= 0 {
		meteringTimeout = 5 * time.Second
	}
	return &Authenticator{
		store:           store,
		tenants:         registry,
		audit:           auditLogger,
		logger:          logger,
		metrics:         metrics,
		defaultLimit:    defaultRateLimit,
		meteringTimeout: meteringTimeout,
	}
}

// Issue mints a key for the tenant and returns the plaintext secret. This
// is the only moment the secret exists outside the caller's hands; the
// store keeps just the hash and the display prefix.
func (a *Authenticator) Issue(ctx context.Context, tenantCode string, issuerActorID *int64, opts IssueOptions) (*IssuedKey, error) {
	tenant, err := a.tenants.GetTenant(ctx, tenantCode)
	if err != nil {
		return nil, err
	}
	if !tenant.Active {
		return nil, tenants.ErrTenantNotFound
	}

	secret, hash, err := GenerateKey()
	if err != nil {
		return nil, err
	}
	limit := opts.RateLimitPerMinute
	if limit <= 0 {
		limit = a.defaultLimit
	}
	key := &Key{
		TenantCode:         tenantCode,
		DisplayPrefix:      DisplayPrefix(secret),
		Description:        opts.Description,
		CreatedBy:          issuerActorID,
		ExpiresAt:          opts.ExpiresAt,
		Active:             true,
		RateLimitPerMinute: limit,
	}
	if err := a.store.Insert(ctx, key, hash); err != nil {
		return nil, err
	}

	if err := a.audit.Log(ctx, &audit.Event{
		Action:     audit.ActionKeyIssue,
		ActorID:    issuerActorID,
		TenantCode: tenantCode,
		TargetID:   key.DisplayPrefix,
		Details:    map[string]interface{}{"key_id": key.ID, "expires_at": key.ExpiresAt},
	}); err != nil {
		a.logger.WithError(err).Error("Failed to record key issue audit event")
	}
	return &IssuedKey{Key: key, Secret: secret}, nil
}

// Validate checks a candidate secret and returns the key record when it is
// live. Surrounding whitespace is forgiven; everything else about the
// candidate must match exactly, by hash. The distinct errors are for
// internal consumption only.
func (a *Authenticator) Validate(ctx context.Context, candidate string) (*Key, error) {
	candidate = strings.TrimSpace(candidate)
	if candidate == "" || !strings.HasPrefix(candidate, KeyPrefix) {
		return nil, a.failed("not_found", ErrKeyNotFound)
	}

	key, err := a.store.FindByHash(ctx, HashKey(candidate))
	if err != nil {
		if err == ErrKeyNotFound {
			return nil, a.failed("not_found", err)
		}
		return nil, err
	}
	if !key.Active {
		return nil, a.failed("inactive", ErrKeyInactive)
	}
	if key.ExpiresAt != nil && !key.ExpiresAt.After(time.Now()) {
		return nil, a.failed("expired", ErrKeyExpired)
	}

	if a.metrics != nil {
		a.metrics.KeyValidationsTotal.WithLabelValues("ok").Inc()
	}
	a.meterUsage(key.ID)
	return key, nil
}

func (a *Authenticator) failed(result string, err error) error {
	if a.metrics != nil {
		a.metrics.KeyValidationsTotal.WithLabelValues(result).Inc()
	}
	return err
}

// meterUsage bumps the usage counter on its own goroutine and timeout,
// detached from the request context so a cancelled request still counts.
func (a *Authenticator) meterUsage(keyID int64) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), a.meteringTimeout)
		defer cancel()
		if err := a.store.RecordUsage(ctx, keyID); err != nil {
			if a.metrics != nil {
				a.metrics.KeyMeteringFailures.Inc()
			}
			a.logger.WithError(err).WithField("key_id", keyID).Warn("Failed to record api key usage")
		}
	}()
}

// Revoke deactivates a key. The row survives for audit history.
func (a *Authenticator) Revoke(ctx context.Context, keyID int64, revokedBy *int64) error {
	key, err := a.store.GetKey(ctx, keyID)
	if err != nil {
		return err
	}
	if err := a.store.Deactivate(ctx, keyID); err != nil {
		return err
	}
	if err := a.audit.Log(ctx, &audit.Event{
		Action:     audit.ActionKeyRevoke,
		ActorID:    revokedBy,
		TenantCode: key.TenantCode,
		TargetID:   key.DisplayPrefix,
		Details:    map[string]interface{}{"key_id": keyID},
	}); err != nil {
		a.logger.WithError(err).Error("Failed to record key revoke audit event")
	}
	return nil
}

// ListByTenant returns the tenant's keys for admin display
func (a *Authenticator) ListByTenant(ctx context.Context, tenantCode string) ([]*Key, error) {
	return a.store.ListByTenant(ctx, tenantCode)
}

// GetKey returns a key record by id
func (a *Authenticator) GetKey(ctx context.Context, keyID int64) (*Key, error) {
	return a.store.GetKey(ctx, keyID)
}
